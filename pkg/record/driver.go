package record

import (
	"context"
	"time"
)

// Driver is the capability the coordination layer requires from a backend.
// A driver handle is scoped to a single repository (the subject store, the
// detail store or the versioning store) and to a single logical operation:
// the coordinator acquires a handle, uses it, and closes it on every exit
// path.
//
// Every field or list mutation also bumps the stored document's revision
// counter server-side when the document carries one; the returned timestamp
// is the only evidence of the bump surfaced to the caller.
type Driver interface {
	// AddRecord inserts one document and returns its assigned id. Inserting
	// a document whose preset id already exists fails with a StoreError
	// wrapping DuplicateKeyError.
	AddRecord(ctx context.Context, doc Document) (string, error)

	// AddRecords inserts a batch in one backend round trip. The returned ids
	// slice is aligned with docs; a slot is empty when the document collided
	// on a duplicate key. When skipDuplicates is true conflicting documents
	// are collected and returned for the caller to decode and report; when
	// false any duplicate fails the whole batch and nothing is committed.
	AddRecords(ctx context.Context, docs []Document, skipDuplicates bool) ([]string, []Document, error)

	// GetRecordByID fetches one document, ErrNotFound when absent.
	GetRecordByID(ctx context.Context, id string) (Document, error)

	// GetAllRecords returns every document in the repository.
	GetAllRecords(ctx context.Context) ([]Document, error)

	// GetRecordsByValue returns the documents whose top-level field equals
	// the given value.
	GetRecordsByValue(ctx context.Context, field string, value any) ([]Document, error)

	// DeleteRecord removes one document. Deleting an absent id fails with
	// ErrNotFound; this layer does not mask the outcome.
	DeleteRecord(ctx context.Context, id string) error

	// UpdateField sets one top-level or payload field and stamps tsField
	// with the write time, returning the new timestamp.
	UpdateField(ctx context.Context, id, field string, value any, tsField string) (time.Time, error)

	// AddToList appends one element to a stored list field.
	AddToList(ctx context.Context, id, field string, element any, tsField string) (time.Time, error)

	// ExtendList appends a batch of elements to a stored list field.
	ExtendList(ctx context.Context, id, field string, elements []any, tsField string) (time.Time, error)

	// RemoveFromList removes the first element equal to the given one.
	// A miss fails with ErrNotInList instead of silently succeeding.
	RemoveFromList(ctx context.Context, id, field string, element any, tsField string) (time.Time, error)

	// Close releases the handle. Safe to call exactly once per handle.
	Close() error
}

// DriverFactory yields repository-scoped driver handles. Implementations may
// share an underlying connection pool between handles; Close tears the pool
// down.
type DriverFactory interface {
	OpenRepository(ctx context.Context, repository string) (Driver, error)
	Close() error
}
