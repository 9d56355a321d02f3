// Package record defines the persistent record model shared by the
// coordination layer and the storage drivers: subject records, the versioned
// detail records linked to them, the wire-neutral document encoding, and the
// driver port every backend implements.
package record

import "time"

// Document is the wire-neutral encoded form of a record. It holds only
// JSON-safe values (string, bool, float64, []any, map[string]any) so that a
// document survives a backend round trip unchanged regardless of driver.
type Document map[string]any

// Document field names shared by all drivers.
const (
	FieldID           = "id"
	FieldActive       = "active"
	FieldCreationTime = "creation_time"
	FieldLastUpdate   = "last_update"
	FieldVersion      = "version"
	FieldSubjectID    = "subject_id"
	FieldDetailRefs   = "detail_ids"
	FieldPayload      = "payload"
)

// VersionedMutable is implemented by records whose field and list mutations
// are persisted as revision-stamped writes. The driver returns the new
// mutation timestamp; ApplyStamp reflects it onto the in-memory record.
type VersionedMutable interface {
	RecordID() string
	ApplyStamp(ts time.Time)
}

// Subject is the primary record. It owns an ordered set of detail records.
// DetailRefs is the authoritative persisted linkage; Details is an in-memory
// cache of loaded detail records and may be a subset of DetailRefs.
type Subject struct {
	ID           string
	Active       bool
	CreationTime time.Time
	LastUpdate   time.Time
	DetailRefs   []string
	Details      []*Detail
}

// NewSubject returns an active, unsaved subject record.
func NewSubject() *Subject {
	now := time.Now().UTC()
	return &Subject{Active: true, CreationTime: now, LastUpdate: now}
}

// RecordID returns the backend identity, empty while unsaved.
func (s *Subject) RecordID() string { return s.ID }

// ApplyStamp records the mutation timestamp returned by the driver.
func (s *Subject) ApplyStamp(ts time.Time) { s.LastUpdate = ts }

// Detail is a versioned record bound to at most one subject at a time.
// Version is bumped by the backend on every mutating write; the coordination
// layer mirrors the bump after each successful driver call. Payload is opaque
// domain data the coordination layer never interprets.
type Detail struct {
	ID           string
	SubjectID    string
	Active       bool
	Version      int64
	CreationTime time.Time
	LastUpdate   time.Time
	Payload      map[string]any
}

// NewDetail returns an active, unsaved detail record carrying the given
// domain payload.
func NewDetail(payload map[string]any) *Detail {
	now := time.Now().UTC()
	return &Detail{Active: true, CreationTime: now, LastUpdate: now, Payload: payload}
}

// RecordID returns the backend identity, empty while unsaved.
func (d *Detail) RecordID() string { return d.ID }

// ApplyStamp records the mutation timestamp returned by the driver and
// mirrors the backend-side revision bump.
func (d *Detail) ApplyStamp(ts time.Time) {
	d.LastUpdate = ts
	d.Version++
}

// BindTo links the detail to the given subject. The subject must already be
// saved; an unsaved subject has no identity to reference.
func (d *Detail) BindTo(s *Subject) {
	d.SubjectID = s.ID
}

// Unbind clears the subject back-reference.
func (d *Detail) Unbind() { d.SubjectID = "" }

// Reset clears the detail's identity entirely: id, subject back-reference and
// revision metadata. The payload is kept. A reset detail saves as a brand-new
// record.
func (d *Detail) Reset() {
	d.ID = ""
	d.SubjectID = ""
	d.Version = 0
}

// ResetVersion clears only the revision counter while keeping the record
// identity, so a subsequent save re-stores the same record with its revision
// lineage intact. Used by the detach phase of a move.
func (d *Detail) ResetVersion() {
	d.Version = 0
}
