package dbservices

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"recordcore/internal/archive"
	"recordcore/pkg/record"
)

// VersionManager performs revision-tracked mutations of detail records. Every
// field or list write first snapshots the current document into the revision
// archive, then issues the revision-stamped driver write and mirrors the
// result onto the in-memory record. Driver errors propagate unchanged; no
// retry policy lives here.
type VersionManager struct {
	factory        record.DriverFactory
	repository     string
	versioningRepo string
	archive        archive.Store
	log            zerolog.Logger
}

func newVersionManager(factory record.DriverFactory, repository, versioningRepo string, store archive.Store, log zerolog.Logger) *VersionManager {
	if versioningRepo == "" {
		versioningRepo = repository + "_versions"
	}
	return &VersionManager{
		factory:        factory,
		repository:     repository,
		versioningRepo: versioningRepo,
		archive:        store,
		log:            log,
	}
}

// UpdateField sets one field on the detail's persisted document, stamps
// tsField with the write time and reflects both onto the record. The same
// instance is returned for chaining.
func (vm *VersionManager) UpdateField(ctx context.Context, d *record.Detail, field string, value any, tsField string) (*record.Detail, error) {
	return vm.mutate(ctx, d, func(drv record.Driver) (func(), error) {
		ts, err := drv.UpdateField(ctx, d.ID, field, value, tsField)
		if err != nil {
			return nil, err
		}
		return func() {
			d.ApplyField(field, value)
			d.ApplyStamp(ts)
		}, nil
	})
}

// AddToList appends one element to a stored list field on the detail.
func (vm *VersionManager) AddToList(ctx context.Context, d *record.Detail, field string, element any, tsField string) (*record.Detail, error) {
	return vm.mutate(ctx, d, func(drv record.Driver) (func(), error) {
		ts, err := drv.AddToList(ctx, d.ID, field, element, tsField)
		if err != nil {
			return nil, err
		}
		return func() {
			d.ApplyListAppend(field, element)
			d.ApplyStamp(ts)
		}, nil
	})
}

// ExtendList appends a batch of elements to a stored list field on the
// detail.
func (vm *VersionManager) ExtendList(ctx context.Context, d *record.Detail, field string, elements []any, tsField string) (*record.Detail, error) {
	return vm.mutate(ctx, d, func(drv record.Driver) (func(), error) {
		ts, err := drv.ExtendList(ctx, d.ID, field, elements, tsField)
		if err != nil {
			return nil, err
		}
		return func() {
			d.ApplyListAppend(field, elements...)
			d.ApplyStamp(ts)
		}, nil
	})
}

// RemoveFromList removes the first matching element from a stored list field
// on the detail. A miss surfaces record.ErrNotInList from the backend.
func (vm *VersionManager) RemoveFromList(ctx context.Context, d *record.Detail, field string, element any, tsField string) (*record.Detail, error) {
	return vm.mutate(ctx, d, func(drv record.Driver) (func(), error) {
		ts, err := drv.RemoveFromList(ctx, d.ID, field, element, tsField)
		if err != nil {
			return nil, err
		}
		return func() {
			d.ApplyListRemove(field, element)
			d.ApplyStamp(ts)
		}, nil
	})
}

// RemoveRevisions purges every archived revision of the given record id.
// Purging a record with no history succeeds.
func (vm *VersionManager) RemoveRevisions(ctx context.Context, id string) error {
	removed, err := vm.archive.DeletePrefix(ctx, archive.RecordPrefix(vm.versioningRepo, id))
	if err != nil {
		return fmt.Errorf("remove revisions for %s: %w", id, err)
	}
	vm.log.Debug().Str("record_id", id).Int("revisions", removed).Msg("purged revision history")
	return nil
}

// mutate runs one revision-tracked write: snapshot the pre-image, apply the
// driver mutation, then reflect it in memory. The handle is released on every
// exit path.
func (vm *VersionManager) mutate(ctx context.Context, d *record.Detail, write func(record.Driver) (func(), error)) (*record.Detail, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("mutate detail record: %w", record.ErrNotFound)
	}
	drv, err := vm.factory.OpenRepository(ctx, vm.repository)
	if err != nil {
		return nil, record.StoreError{Op: "open detail repository", Err: err}
	}
	defer func() { _ = drv.Close() }()

	if err := vm.snapshot(ctx, drv, d.ID); err != nil {
		return nil, err
	}
	apply, err := write(drv)
	if err != nil {
		return nil, err
	}
	apply()
	return d, nil
}

// snapshot archives the current stored document under its present version so
// the pre-mutation state stays retrievable after the bump.
func (vm *VersionManager) snapshot(ctx context.Context, drv record.Driver, id string) error {
	doc, err := drv.GetRecordByID(ctx, id)
	if err != nil {
		return err
	}
	current, err := record.DecodeDetail(doc, false)
	if err != nil {
		return fmt.Errorf("decode stored detail %s: %w", id, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode revision snapshot: %w", err)
	}
	key := archive.RevisionKey(vm.versioningRepo, id, current.Version)
	if err := vm.archive.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("archive revision %s: %w", key, err)
	}
	return nil
}
