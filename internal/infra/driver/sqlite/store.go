// Package sqlite provides an embedded SQLite driver implementation. Documents
// are stored as JSON rows keyed by repository and id, preserving insertion
// order through a monotonic sequence column.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	sqldocs "recordcore/docs/schema/sql"
	"recordcore/internal/infra/driver/driverutil"
	"recordcore/pkg/record"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var (
	_ record.DriverFactory = (*Factory)(nil)
	_ record.Driver        = (*Driver)(nil)
)

// Factory opens repository-scoped handles over one shared SQLite database.
type Factory struct {
	db *sql.DB
}

// NewFactory opens (and initialises) the SQLite database at path.
func NewFactory(path string) (*Factory, error) {
	if path == "" {
		path = "recordcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(sqldocs.SQLite); err != nil {
		return nil, fmt.Errorf("create records table: %w", err)
	}
	return &Factory{db: db}, nil
}

// OpenRepository returns a handle scoped to the named repository.
func (f *Factory) OpenRepository(_ context.Context, name string) (record.Driver, error) {
	return &Driver{db: f.db, repo: name}, nil
}

// Close closes the shared database.
func (f *Factory) Close() error { return f.db.Close() }

// Driver is a handle scoped to one repository within the shared database.
type Driver struct {
	db   *sql.DB
	repo string
}

func (d *Driver) AddRecord(ctx context.Context, doc record.Document) (string, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", record.StoreError{Op: "add record", Err: err}
	}
	defer func() { _ = tx.Rollback() }()
	id, err := d.insert(ctx, tx, doc)
	if err != nil {
		return "", record.StoreError{Op: "add record", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return "", record.StoreError{Op: "add record", Err: err}
	}
	return id, nil
}

func (d *Driver) AddRecords(ctx context.Context, docs []record.Document, skipDuplicates bool) ([]string, []record.Document, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, record.StoreError{Op: "add records", Err: err}
	}
	defer func() { _ = tx.Rollback() }()
	ids := make([]string, len(docs))
	var duplicates []record.Document
	for i, doc := range docs {
		id, err := d.insert(ctx, tx, doc)
		if err != nil {
			var dup record.DuplicateKeyError
			if errors.As(err, &dup) {
				if !skipDuplicates {
					return nil, nil, record.StoreError{Op: "add records", Err: dup}
				}
				duplicates = append(duplicates, driverutil.Clone(doc))
				continue
			}
			return nil, nil, record.StoreError{Op: "add records", Err: err}
		}
		ids[i] = id
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, record.StoreError{Op: "add records", Err: err}
	}
	return ids, duplicates, nil
}

func (d *Driver) GetRecordByID(ctx context.Context, id string) (record.Document, error) {
	var raw []byte
	err := d.db.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE repository = ? AND id = ?`, d.repo, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get record %s: %w", id, record.ErrNotFound)
	}
	if err != nil {
		return nil, record.StoreError{Op: "get record", Err: err}
	}
	return decodeDoc(raw)
}

func (d *Driver) GetAllRecords(ctx context.Context) ([]record.Document, error) {
	return d.selectDocs(ctx, func(record.Document) bool { return true })
}

func (d *Driver) GetRecordsByValue(ctx context.Context, field string, value any) ([]record.Document, error) {
	return d.selectDocs(ctx, func(doc record.Document) bool {
		return driverutil.Equal(doc[field], value)
	})
}

func (d *Driver) DeleteRecord(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM records WHERE repository = ? AND id = ?`, d.repo, id)
	if err != nil {
		return record.StoreError{Op: "delete record", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete record %s: %w", id, record.ErrNotFound)
	}
	return nil
}

func (d *Driver) UpdateField(ctx context.Context, id, field string, value any, tsField string) (time.Time, error) {
	return d.mutate(ctx, id, tsField, func(doc record.Document) error {
		driverutil.SetField(doc, field, value)
		return nil
	})
}

func (d *Driver) AddToList(ctx context.Context, id, field string, element any, tsField string) (time.Time, error) {
	return d.mutate(ctx, id, tsField, func(doc record.Document) error {
		driverutil.AppendList(doc, field, element)
		return nil
	})
}

func (d *Driver) ExtendList(ctx context.Context, id, field string, elements []any, tsField string) (time.Time, error) {
	return d.mutate(ctx, id, tsField, func(doc record.Document) error {
		driverutil.AppendList(doc, field, elements...)
		return nil
	})
}

func (d *Driver) RemoveFromList(ctx context.Context, id, field string, element any, tsField string) (time.Time, error) {
	return d.mutate(ctx, id, tsField, func(doc record.Document) error {
		return driverutil.RemoveFromList(doc, field, element)
	})
}

// Close releases nothing; the database is owned by the factory.
func (d *Driver) Close() error { return nil }

func (d *Driver) insert(ctx context.Context, tx *sql.Tx, doc record.Document) (string, error) {
	id, _ := doc[record.FieldID].(string)
	if id == "" {
		id = uuid.NewString()
	} else {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM records WHERE repository = ? AND id = ?`, d.repo, id).Scan(&exists)
		if err == nil {
			return "", record.DuplicateKeyError{ID: id}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
	}
	stored := driverutil.Clone(doc)
	stored[record.FieldID] = id
	raw, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (repository, id, doc) VALUES (?, ?, ?)`, d.repo, id, string(raw)); err != nil {
		return "", err
	}
	return id, nil
}

func (d *Driver) mutate(ctx context.Context, id, tsField string, apply func(record.Document) error) (time.Time, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, record.StoreError{Op: "mutate record", Err: err}
	}
	defer func() { _ = tx.Rollback() }()
	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE repository = ? AND id = ?`, d.repo, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("mutate record %s: %w", id, record.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, record.StoreError{Op: "mutate record", Err: err}
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return time.Time{}, err
	}
	if err := apply(doc); err != nil {
		return time.Time{}, err
	}
	ts := driverutil.Stamp(doc, tsField)
	updated, err := json.Marshal(doc)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode document: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET doc = ? WHERE repository = ? AND id = ?`, string(updated), d.repo, id); err != nil {
		return time.Time{}, record.StoreError{Op: "mutate record", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, record.StoreError{Op: "mutate record", Err: err}
	}
	return ts, nil
}

// selectDocs scans the repository in insertion order. Value filters run
// Go-side so every backend matches with identical semantics.
func (d *Driver) selectDocs(ctx context.Context, keep func(record.Document) bool) ([]record.Document, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT doc FROM records WHERE repository = ? ORDER BY seq`, d.repo)
	if err != nil {
		return nil, record.StoreError{Op: "select records", Err: err}
	}
	defer func() { _ = rows.Close() }()
	var out []record.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, record.StoreError{Op: "select records", Err: err}
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		if keep(doc) {
			out = append(out, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, record.StoreError{Op: "select records", Err: err}
	}
	return out, nil
}

func decodeDoc(raw []byte) (record.Document, error) {
	var doc record.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
