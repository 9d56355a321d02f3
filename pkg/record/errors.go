package record

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a lookup for an identity the repository does not hold.
var ErrNotFound = errors.New("record: not found")

// ErrNotInList reports a list removal whose element was absent from the
// stored list. Backends surface the miss instead of silently succeeding.
var ErrNotInList = errors.New("record: element not in list")

// StoreError wraps a backend failure with the logical operation that hit it.
// Backend errors propagate through the coordination layer unchanged; no retry
// policy is applied here.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string {
	return fmt.Sprintf("record store: %s: %v", e.Op, e.Err)
}

func (e StoreError) Unwrap() error { return e.Err }

// DuplicateKeyError reports an insert that collided with an existing stored
// identity.
type DuplicateKeyError struct {
	ID string
}

func (e DuplicateKeyError) Error() string {
	return fmt.Sprintf("record store: duplicate key %s", e.ID)
}

// CascadeDeleteError rejects the deletion of a subject that still has linked
// detail records when the caller did not request a cascade.
type CascadeDeleteError struct {
	SubjectID   string
	LinkedCount int
}

func (e CascadeDeleteError) Error() string {
	return fmt.Sprintf("unable to delete subject record %s, %d detail records still linked", e.SubjectID, e.LinkedCount)
}

// NotLinkedError reports an unlink of a detail record that is not part of the
// subject's linkage.
type NotLinkedError struct {
	DetailID  string
	SubjectID string
}

func (e NotLinkedError) Error() string {
	return fmt.Sprintf("detail record %s is not linked to subject record %s", e.DetailID, e.SubjectID)
}
