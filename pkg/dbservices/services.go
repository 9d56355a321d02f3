// Package dbservices is the versioned record coordination layer. It
// orchestrates subject/detail linkage, cascade delete, hide propagation and
// batch saves on top of a repository-scoped storage driver, keeping the
// persisted linkage and the in-memory records consistent after every
// operation.
//
// The layer is stateless and safe for concurrent use across distinct record
// ids. Multi-step operations are not atomic: each step commits independently
// against the backend and the documented partial states (hide propagation,
// two-phase move) are observable after a crash between steps.
package dbservices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"recordcore/internal/archive"
	"recordcore/pkg/index"
	"recordcore/pkg/record"
)

// FetchOptions controls detail hydration when loading subjects.
type FetchOptions struct {
	// HydrateDetails decodes the full detail documents; when false the
	// loaded details are reference-only records.
	HydrateDetails bool
	// IncludeHiddenDetails keeps inactive details in the hydrated set. The
	// persisted linkage is never filtered, only the in-memory cache.
	IncludeHiddenDetails bool
}

// Services coordinates subject and detail records across the subject and
// detail repositories. Records are mutated in place and returned; callers
// must treat the returned instance as the authoritative copy.
type Services struct {
	factory      record.DriverFactory
	subjectsRepo string
	detailsRepo  string
	versions     *VersionManager
	indexClient  *index.Client
	metrics      MetricsRecorder
	log          zerolog.Logger
}

func newServices(factory record.DriverFactory, store archive.Store, cfg Config) *Services {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	metrics := MetricsRecorder(noopMetricsRecorder{})
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}
	return &Services{
		factory:      factory,
		subjectsRepo: cfg.SubjectsRepository,
		detailsRepo:  cfg.DetailsRepository,
		versions:     newVersionManager(factory, cfg.DetailsRepository, cfg.VersioningRepository, store, log),
		metrics:      metrics,
		log:          log,
	}
}

// Versions exposes the version manager for direct revision-tracked mutations
// of detail records.
func (s *Services) Versions() *VersionManager { return s.versions }

// SetIndexService attaches the optional indexing service. Index failures are
// logged and never fail a coordination operation.
func (s *Services) SetIndexService(cfg index.Config) error {
	client, err := index.New(cfg)
	if err != nil {
		return err
	}
	s.indexClient = client
	return nil
}

// Close releases the underlying driver factory.
func (s *Services) Close() error { return s.factory.Close() }

// SaveSubject persists a new subject record and assigns its id.
func (s *Services) SaveSubject(ctx context.Context, subject *record.Subject) (*record.Subject, error) {
	var err error
	defer s.observe(ctx, "save_subject", time.Now(), &err)

	drv, err := s.driver(ctx, s.subjectsRepo)
	if err != nil {
		return nil, err
	}
	defer func() { _ = drv.Close() }()
	id, err := drv.AddRecord(ctx, record.EncodeSubject(subject))
	if err != nil {
		return nil, err
	}
	subject.ID = id
	s.log.Debug().Str("subject_id", id).Msg("saved subject record")
	return subject, nil
}

// SaveDetail persists a detail record bound to the subject and links it into
// the subject's detail set. The link is written only after the detail exists
// in the store.
func (s *Services) SaveDetail(ctx context.Context, detail *record.Detail, subject *record.Subject) (*record.Detail, *record.Subject, error) {
	var err error
	defer s.observe(ctx, "save_detail", time.Now(), &err)

	if subject.ID == "" {
		err = fmt.Errorf("save detail: subject record is unsaved")
		return nil, nil, err
	}
	detail.BindTo(subject)
	drv, err := s.driver(ctx, s.detailsRepo)
	if err != nil {
		return nil, nil, err
	}
	id, err := drv.AddRecord(ctx, record.EncodeDetail(detail))
	_ = drv.Close()
	if err != nil {
		return nil, nil, err
	}
	detail.ID = id
	s.indexDetail(ctx, detail)
	if err = s.linkDetails(ctx, subject, detail); err != nil {
		return nil, nil, err
	}
	return detail, subject, nil
}

// SaveDetails persists a batch of detail records bound to the subject in one
// backend round trip. With skipExistingDuplicated, duplicate-key conflicts
// are excluded from the saved set and returned decoded; otherwise any
// duplicate fails the whole batch. Subject linkage covers only the records
// that actually saved.
func (s *Services) SaveDetails(ctx context.Context, details []*record.Detail, subject *record.Subject, skipExistingDuplicated bool) ([]*record.Detail, *record.Subject, []*record.Detail, error) {
	var err error
	defer s.observe(ctx, "save_details", time.Now(), &err)

	if subject.ID == "" {
		err = fmt.Errorf("save details: subject record is unsaved")
		return nil, nil, nil, err
	}
	docs := make([]record.Document, len(details))
	for i, d := range details {
		d.BindTo(subject)
		docs[i] = record.EncodeDetail(d)
	}
	drv, err := s.driver(ctx, s.detailsRepo)
	if err != nil {
		return nil, nil, nil, err
	}
	ids, dupDocs, err := drv.AddRecords(ctx, docs, skipExistingDuplicated)
	_ = drv.Close()
	if err != nil {
		return nil, nil, nil, err
	}
	var saved []*record.Detail
	for i, d := range details {
		if ids[i] == "" {
			continue
		}
		d.ID = ids[i]
		saved = append(saved, d)
		s.indexDetail(ctx, d)
	}
	duplicates := make([]*record.Detail, 0, len(dupDocs))
	for _, doc := range dupDocs {
		dup, decodeErr := record.DecodeDetail(doc, true)
		if decodeErr != nil {
			err = decodeErr
			return nil, nil, nil, err
		}
		duplicates = append(duplicates, dup)
	}
	if len(saved) > 0 {
		if err = s.linkDetails(ctx, subject, saved...); err != nil {
			return nil, nil, nil, err
		}
	}
	return saved, subject, duplicates, nil
}

// MoveDetail relocates a saved detail record from one subject to another as
// two separately committed phases: detach from the source with a soft reset
// (same identity, revision lineage kept), then save into the destination. A
// failure between the phases leaves the detail unlinked but persisted with
// the source removed; the caller can retry the attach.
func (s *Services) MoveDetail(ctx context.Context, detail *record.Detail, src, dest *record.Subject) (*record.Subject, *record.Subject, error) {
	var err error
	defer s.observe(ctx, "move_detail", time.Now(), &err)

	if _, _, err = s.RemoveDetail(ctx, detail, src, false); err != nil {
		return nil, nil, err
	}
	if _, _, err = s.SaveDetail(ctx, detail, dest); err != nil {
		return nil, nil, err
	}
	return src, dest, nil
}

// RemoveDetail unlinks a detail record from the subject and hard-deletes it
// from the store. With newRecordID the record's identity is fully reset and
// its revision history purged; otherwise the identity and archived revisions
// are kept so a subsequent save restores the same record (the detach phase
// of a move).
func (s *Services) RemoveDetail(ctx context.Context, detail *record.Detail, subject *record.Subject, newRecordID bool) (*record.Detail, *record.Subject, error) {
	var err error
	defer s.observe(ctx, "remove_detail", time.Now(), &err)

	if err = s.unlinkDetail(ctx, subject, detail); err != nil {
		return nil, nil, err
	}
	if err = s.deleteDetail(ctx, detail, newRecordID); err != nil {
		return nil, nil, err
	}
	detail.Unbind()
	if newRecordID {
		detail.Reset()
	} else {
		detail.ResetVersion()
	}
	return detail, subject, nil
}

// GetSubjects lists subject records, optionally restricted to active ones,
// hydrating each subject's detail set per the options.
func (s *Services) GetSubjects(ctx context.Context, activeOnly bool, opts FetchOptions) ([]*record.Subject, error) {
	var err error
	defer s.observe(ctx, "get_subjects", time.Now(), &err)

	drv, err := s.driver(ctx, s.subjectsRepo)
	if err != nil {
		return nil, err
	}
	var docs []record.Document
	if activeOnly {
		docs, err = drv.GetRecordsByValue(ctx, record.FieldActive, true)
	} else {
		docs, err = drv.GetAllRecords(ctx)
	}
	_ = drv.Close()
	if err != nil {
		return nil, err
	}
	subjects := make([]*record.Subject, 0, len(docs))
	for _, doc := range docs {
		subject, fetchErr := s.fetchSubjectFull(ctx, doc, opts)
		if fetchErr != nil {
			err = fetchErr
			return nil, err
		}
		subjects = append(subjects, subject)
	}
	return subjects, nil
}

// GetSubject loads one subject record by id, hydrating its detail set per
// the options. record.ErrNotFound surfaces when the id is unknown.
func (s *Services) GetSubject(ctx context.Context, id string, opts FetchOptions) (*record.Subject, error) {
	var err error
	defer s.observe(ctx, "get_subject", time.Now(), &err)

	drv, err := s.driver(ctx, s.subjectsRepo)
	if err != nil {
		return nil, err
	}
	doc, err := drv.GetRecordByID(ctx, id)
	_ = drv.Close()
	if err != nil {
		return nil, err
	}
	subject, err := s.fetchSubjectFull(ctx, doc, opts)
	if err != nil {
		return nil, err
	}
	return subject, nil
}

// LoadDetails hydrates every linked detail record of an already-loaded
// subject, hidden ones included.
func (s *Services) LoadDetails(ctx context.Context, subject *record.Subject) (*record.Subject, error) {
	var err error
	defer s.observe(ctx, "load_details", time.Now(), &err)

	drv, err := s.driver(ctx, s.detailsRepo)
	if err != nil {
		return nil, err
	}
	defer func() { _ = drv.Close() }()
	details := make([]*record.Detail, 0, len(subject.DetailRefs))
	for _, ref := range subject.DetailRefs {
		doc, getErr := drv.GetRecordByID(ctx, ref)
		if getErr != nil {
			err = getErr
			return nil, err
		}
		detail, decodeErr := record.DecodeDetail(doc, true)
		if decodeErr != nil {
			err = decodeErr
			return nil, err
		}
		details = append(details, detail)
	}
	subject.Details = details
	return subject, nil
}

// HideSubject soft-deletes a subject record: every currently loaded active
// detail is hidden first, then the subject itself. A failure in between
// leaves the subject active with some details hidden; hide is idempotent per
// record, so the caller can retry. No-op when the subject is already
// inactive.
func (s *Services) HideSubject(ctx context.Context, subject *record.Subject) (*record.Subject, error) {
	var err error
	defer s.observe(ctx, "hide_subject", time.Now(), &err)

	if !subject.Active {
		return subject, nil
	}
	for _, detail := range subject.Details {
		if _, err = s.HideDetail(ctx, detail); err != nil {
			return nil, err
		}
	}
	drv, err := s.driver(ctx, s.subjectsRepo)
	if err != nil {
		return nil, err
	}
	ts, err := drv.UpdateField(ctx, subject.ID, record.FieldActive, false, record.FieldLastUpdate)
	_ = drv.Close()
	if err != nil {
		return nil, err
	}
	subject.Active = false
	subject.ApplyStamp(ts)
	return subject, nil
}

// HideDetail soft-deletes a detail record through the version manager. No-op
// when already inactive.
func (s *Services) HideDetail(ctx context.Context, detail *record.Detail) (*record.Detail, error) {
	var err error
	defer s.observe(ctx, "hide_detail", time.Now(), &err)

	if !detail.Active {
		return detail, nil
	}
	if _, err = s.versions.UpdateField(ctx, detail, record.FieldActive, false, record.FieldLastUpdate); err != nil {
		return nil, err
	}
	return detail, nil
}

// DeleteSubject hard-deletes a subject record. The subject is reloaded first
// so the linkage count is authoritative; when details are still linked and
// cascade is false the deletion is rejected with CascadeDeleteError and
// nothing is removed. With cascade, every linked detail (hidden included) is
// deleted before the subject.
func (s *Services) DeleteSubject(ctx context.Context, subject *record.Subject, cascade bool) error {
	var err error
	defer s.observe(ctx, "delete_subject", time.Now(), &err)

	current, err := s.GetSubject(ctx, subject.ID, FetchOptions{IncludeHiddenDetails: true})
	if err != nil {
		return err
	}
	if linked := len(current.DetailRefs); linked > 0 && !cascade {
		err = record.CascadeDeleteError{SubjectID: current.ID, LinkedCount: linked}
		return err
	}
	for _, detail := range current.Details {
		if err = s.DeleteDetail(ctx, detail); err != nil {
			return err
		}
	}
	drv, err := s.driver(ctx, s.subjectsRepo)
	if err != nil {
		return err
	}
	defer func() { _ = drv.Close() }()
	if err = drv.DeleteRecord(ctx, current.ID); err != nil {
		return err
	}
	s.log.Debug().Str("subject_id", current.ID).Msg("deleted subject record")
	return nil
}

// DeleteDetail hard-deletes a detail record and purges its revision history.
// Unconditional: callers unlink first or go through RemoveDetail /
// DeleteSubject with cascade.
func (s *Services) DeleteDetail(ctx context.Context, detail *record.Detail) error {
	var err error
	defer s.observe(ctx, "delete_detail", time.Now(), &err)

	err = s.deleteDetail(ctx, detail, true)
	return err
}

// deleteDetail removes the stored document and, when purgeRevisions is set,
// its archived history.
func (s *Services) deleteDetail(ctx context.Context, detail *record.Detail, purgeRevisions bool) error {
	drv, err := s.driver(ctx, s.detailsRepo)
	if err != nil {
		return err
	}
	err = drv.DeleteRecord(ctx, detail.ID)
	_ = drv.Close()
	if err != nil {
		return err
	}
	s.deindexDetail(ctx, detail)
	if purgeRevisions {
		return s.versions.RemoveRevisions(ctx, detail.ID)
	}
	return nil
}

// linkDetails appends saved details to the subject's persisted linkage and
// mirrors the change onto the in-memory subject.
func (s *Services) linkDetails(ctx context.Context, subject *record.Subject, details ...*record.Detail) error {
	drv, err := s.driver(ctx, s.subjectsRepo)
	if err != nil {
		return err
	}
	defer func() { _ = drv.Close() }()
	var ts time.Time
	if len(details) == 1 {
		ts, err = drv.AddToList(ctx, subject.ID, record.FieldDetailRefs, details[0].ID, record.FieldLastUpdate)
	} else {
		ids := make([]any, len(details))
		for i, d := range details {
			ids[i] = d.ID
		}
		ts, err = drv.ExtendList(ctx, subject.ID, record.FieldDetailRefs, ids, record.FieldLastUpdate)
	}
	if err != nil {
		return err
	}
	subject.ApplyStamp(ts)
	for _, d := range details {
		subject.DetailRefs = append(subject.DetailRefs, d.ID)
		subject.Details = append(subject.Details, d)
	}
	return nil
}

// unlinkDetail removes the detail from the subject's persisted linkage,
// mapping a backend list miss to NotLinkedError, and mirrors the removal
// onto the in-memory subject.
func (s *Services) unlinkDetail(ctx context.Context, subject *record.Subject, detail *record.Detail) error {
	drv, err := s.driver(ctx, s.subjectsRepo)
	if err != nil {
		return err
	}
	defer func() { _ = drv.Close() }()
	ts, err := drv.RemoveFromList(ctx, subject.ID, record.FieldDetailRefs, detail.ID, record.FieldLastUpdate)
	if err != nil {
		if errors.Is(err, record.ErrNotInList) {
			return record.NotLinkedError{DetailID: detail.ID, SubjectID: subject.ID}
		}
		return err
	}
	subject.ApplyStamp(ts)
	for i, ref := range subject.DetailRefs {
		if ref == detail.ID {
			subject.DetailRefs = append(subject.DetailRefs[:i], subject.DetailRefs[i+1:]...)
			break
		}
	}
	for i, d := range subject.Details {
		if d.ID == detail.ID {
			subject.Details = append(subject.Details[:i], subject.Details[i+1:]...)
			break
		}
	}
	return nil
}

// fetchSubjectFull decodes a subject document and hydrates its detail cache.
// Hidden details are dropped from the cache unless requested; the persisted
// linkage is left untouched.
func (s *Services) fetchSubjectFull(ctx context.Context, doc record.Document, opts FetchOptions) (*record.Subject, error) {
	subject, err := record.DecodeSubject(doc)
	if err != nil {
		return nil, err
	}
	drv, err := s.driver(ctx, s.detailsRepo)
	if err != nil {
		return nil, err
	}
	defer func() { _ = drv.Close() }()
	details := make([]*record.Detail, 0, len(subject.DetailRefs))
	for _, ref := range subject.DetailRefs {
		detailDoc, err := drv.GetRecordByID(ctx, ref)
		if err != nil {
			return nil, err
		}
		active, decodeErr := record.DecodeDetail(detailDoc, false)
		if decodeErr != nil {
			return nil, decodeErr
		}
		if !opts.IncludeHiddenDetails && !active.Active {
			s.log.Debug().Str("detail_id", ref).Msg("ignoring hidden detail record")
			continue
		}
		detail, decodeErr := record.DecodeDetail(detailDoc, opts.HydrateDetails)
		if decodeErr != nil {
			return nil, decodeErr
		}
		details = append(details, detail)
	}
	subject.Details = details
	return subject, nil
}

func (s *Services) driver(ctx context.Context, repository string) (record.Driver, error) {
	drv, err := s.factory.OpenRepository(ctx, repository)
	if err != nil {
		return nil, record.StoreError{Op: "open repository " + repository, Err: err}
	}
	return drv, nil
}

func (s *Services) indexDetail(ctx context.Context, detail *record.Detail) {
	if s.indexClient == nil {
		return
	}
	if err := s.indexClient.IndexDocument(ctx, s.detailsRepo, detail.ID, record.EncodeDetail(detail)); err != nil {
		s.log.Warn().Err(err).Str("detail_id", detail.ID).Msg("index update failed")
	}
}

func (s *Services) deindexDetail(ctx context.Context, detail *record.Detail) {
	if s.indexClient == nil {
		return
	}
	if err := s.indexClient.RemoveDocument(ctx, s.detailsRepo, detail.ID); err != nil {
		s.log.Warn().Err(err).Str("detail_id", detail.ID).Msg("index removal failed")
	}
}

func (s *Services) observe(ctx context.Context, op string, start time.Time, err *error) {
	s.metrics.Observe(ctx, op, *err == nil, time.Since(start))
}
