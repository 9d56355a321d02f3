// Package memory provides an in-memory driver implementation used for tests
// and ephemeral environments. All state is process-local; handles opened from
// the same factory share it.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"recordcore/internal/infra/driver/driverutil"
	"recordcore/pkg/record"
)

// Compile-time contract assertions.
var (
	_ record.DriverFactory = (*Factory)(nil)
	_ record.Driver        = (*Driver)(nil)
)

type repository struct {
	mu    sync.Mutex
	docs  map[string]record.Document
	order []string
}

// Factory hands out repository-scoped driver handles backed by shared
// in-process state.
type Factory struct {
	mu    sync.Mutex
	repos map[string]*repository
}

// NewFactory returns an empty in-memory driver factory.
func NewFactory() *Factory {
	return &Factory{repos: make(map[string]*repository)}
}

// OpenRepository returns a handle scoped to the named repository, creating it
// on first use.
func (f *Factory) OpenRepository(_ context.Context, name string) (record.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	repo, ok := f.repos[name]
	if !ok {
		repo = &repository{docs: make(map[string]record.Document)}
		f.repos[name] = repo
	}
	return &Driver{repo: repo}, nil
}

// Close discards nothing; state lives for the factory's lifetime.
func (f *Factory) Close() error { return nil }

// Driver is a handle scoped to one in-memory repository.
type Driver struct {
	repo *repository
}

func (d *Driver) AddRecord(_ context.Context, doc record.Document) (string, error) {
	d.repo.mu.Lock()
	defer d.repo.mu.Unlock()
	id, err := d.repo.insert(doc)
	if err != nil {
		return "", record.StoreError{Op: "add record", Err: err}
	}
	return id, nil
}

func (d *Driver) AddRecords(_ context.Context, docs []record.Document, skipDuplicates bool) ([]string, []record.Document, error) {
	d.repo.mu.Lock()
	defer d.repo.mu.Unlock()
	if !skipDuplicates {
		// Pre-check keeps the batch atomic: nothing commits when any
		// duplicate (stored or in-batch) is present.
		seen := make(map[string]bool, len(docs))
		for _, doc := range docs {
			id, ok := doc[record.FieldID].(string)
			if !ok || id == "" {
				continue
			}
			if _, exists := d.repo.docs[id]; exists || seen[id] {
				return nil, nil, record.StoreError{Op: "add records", Err: record.DuplicateKeyError{ID: id}}
			}
			seen[id] = true
		}
	}
	ids := make([]string, len(docs))
	var duplicates []record.Document
	for i, doc := range docs {
		id, err := d.repo.insert(doc)
		if err != nil {
			duplicates = append(duplicates, driverutil.Clone(doc))
			continue
		}
		ids[i] = id
	}
	return ids, duplicates, nil
}

func (d *Driver) GetRecordByID(_ context.Context, id string) (record.Document, error) {
	d.repo.mu.Lock()
	defer d.repo.mu.Unlock()
	doc, ok := d.repo.docs[id]
	if !ok {
		return nil, fmt.Errorf("get record %s: %w", id, record.ErrNotFound)
	}
	return driverutil.Clone(doc), nil
}

func (d *Driver) GetAllRecords(_ context.Context) ([]record.Document, error) {
	d.repo.mu.Lock()
	defer d.repo.mu.Unlock()
	out := make([]record.Document, 0, len(d.repo.order))
	for _, id := range d.repo.order {
		if doc, ok := d.repo.docs[id]; ok {
			out = append(out, driverutil.Clone(doc))
		}
	}
	return out, nil
}

func (d *Driver) GetRecordsByValue(_ context.Context, field string, value any) ([]record.Document, error) {
	d.repo.mu.Lock()
	defer d.repo.mu.Unlock()
	var out []record.Document
	for _, id := range d.repo.order {
		doc, ok := d.repo.docs[id]
		if !ok {
			continue
		}
		if driverutil.Equal(doc[field], value) {
			out = append(out, driverutil.Clone(doc))
		}
	}
	return out, nil
}

func (d *Driver) DeleteRecord(_ context.Context, id string) error {
	d.repo.mu.Lock()
	defer d.repo.mu.Unlock()
	if _, ok := d.repo.docs[id]; !ok {
		return fmt.Errorf("delete record %s: %w", id, record.ErrNotFound)
	}
	delete(d.repo.docs, id)
	for i, stored := range d.repo.order {
		if stored == id {
			d.repo.order = append(d.repo.order[:i], d.repo.order[i+1:]...)
			break
		}
	}
	return nil
}

func (d *Driver) UpdateField(_ context.Context, id, field string, value any, tsField string) (time.Time, error) {
	return d.mutate(id, func(doc record.Document) error {
		driverutil.SetField(doc, field, value)
		return nil
	}, tsField)
}

func (d *Driver) AddToList(_ context.Context, id, field string, element any, tsField string) (time.Time, error) {
	return d.mutate(id, func(doc record.Document) error {
		driverutil.AppendList(doc, field, element)
		return nil
	}, tsField)
}

func (d *Driver) ExtendList(_ context.Context, id, field string, elements []any, tsField string) (time.Time, error) {
	return d.mutate(id, func(doc record.Document) error {
		driverutil.AppendList(doc, field, elements...)
		return nil
	}, tsField)
}

func (d *Driver) RemoveFromList(_ context.Context, id, field string, element any, tsField string) (time.Time, error) {
	return d.mutate(id, func(doc record.Document) error {
		return driverutil.RemoveFromList(doc, field, element)
	}, tsField)
}

// Close releases nothing for the in-memory handle.
func (d *Driver) Close() error { return nil }

func (d *Driver) mutate(id string, apply func(record.Document) error, tsField string) (time.Time, error) {
	d.repo.mu.Lock()
	defer d.repo.mu.Unlock()
	doc, ok := d.repo.docs[id]
	if !ok {
		return time.Time{}, fmt.Errorf("mutate record %s: %w", id, record.ErrNotFound)
	}
	if err := apply(doc); err != nil {
		return time.Time{}, err
	}
	return driverutil.Stamp(doc, tsField), nil
}

// insert stores a deep copy, assigning an id when the document has none.
// Callers hold the repository lock.
func (r *repository) insert(doc record.Document) (string, error) {
	id, _ := doc[record.FieldID].(string)
	if id == "" {
		id = uuid.NewString()
	} else if _, exists := r.docs[id]; exists {
		return "", record.DuplicateKeyError{ID: id}
	}
	stored := driverutil.Clone(doc)
	stored[record.FieldID] = id
	r.docs[id] = stored
	r.order = append(r.order, id)
	return id, nil
}
