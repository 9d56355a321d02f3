package dbservices

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"recordcore/internal/archive"
	"recordcore/pkg/record"
)

func TestUpdateFieldArchivesPreImage(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	detail := saveDetail(t, svc, subject, map[string]any{"severity": 1})
	vm := svc.Versions()

	updated, err := vm.UpdateField(ctx, detail, "severity", 2, record.FieldLastUpdate)
	if err != nil {
		t.Fatalf("update field: %v", err)
	}
	if updated.Payload["severity"] != 2 {
		t.Fatalf("field not reflected in memory: %v", updated.Payload)
	}
	if updated.Version != 1 {
		t.Fatalf("version not bumped: %d", updated.Version)
	}

	// The archived snapshot holds the pre-mutation document, keyed by the
	// version it had at snapshot time.
	raw, err := vm.archive.Get(ctx, archive.RevisionKey(vm.versioningRepo, detail.ID, 0))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var doc record.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	pre, err := record.DecodeDetail(doc, true)
	if err != nil {
		t.Fatalf("decode pre-image: %v", err)
	}
	if pre.Payload["severity"] != float64(1) {
		t.Fatalf("snapshot holds the post-image: %v", pre.Payload)
	}

	// A second mutation archives under the next version.
	if _, err := vm.UpdateField(ctx, updated, "severity", 3, record.FieldLastUpdate); err != nil {
		t.Fatalf("second update: %v", err)
	}
	keys, err := vm.archive.List(ctx, archive.RecordPrefix(vm.versioningRepo, detail.ID))
	if err != nil {
		t.Fatalf("list revisions: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected two archived revisions, got %v", keys)
	}
}

func TestVersionedListMutations(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	detail := saveDetail(t, svc, subject, nil)
	vm := svc.Versions()

	if _, err := vm.AddToList(ctx, detail, "tags", "alpha", record.FieldLastUpdate); err != nil {
		t.Fatalf("add to list: %v", err)
	}
	if _, err := vm.ExtendList(ctx, detail, "tags", []any{"beta", "gamma"}, record.FieldLastUpdate); err != nil {
		t.Fatalf("extend list: %v", err)
	}
	if tags, _ := detail.Payload["tags"].([]any); len(tags) != 3 {
		t.Fatalf("list edits not mirrored: %v", detail.Payload)
	}
	if detail.Version != 2 {
		t.Fatalf("two mutations should leave version 2, got %d", detail.Version)
	}

	if _, err := vm.RemoveFromList(ctx, detail, "tags", "beta", record.FieldLastUpdate); err != nil {
		t.Fatalf("remove from list: %v", err)
	}
	if tags, _ := detail.Payload["tags"].([]any); len(tags) != 2 {
		t.Fatalf("removal not mirrored: %v", detail.Payload)
	}

	// A miss surfaces the backend sentinel and leaves the record untouched.
	versionBefore := detail.Version
	if _, err := vm.RemoveFromList(ctx, detail, "tags", "beta", record.FieldLastUpdate); !errors.Is(err, record.ErrNotInList) {
		t.Fatalf("remove miss should surface ErrNotInList, got %v", err)
	}
	if detail.Version != versionBefore {
		t.Fatalf("failed removal bumped the version")
	}
}

func TestMutateRejectsUnsavedDetail(t *testing.T) {
	svc := newTestServices(t)
	_, err := svc.Versions().UpdateField(context.Background(), record.NewDetail(nil), "x", 1, record.FieldLastUpdate)
	if !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("unsaved detail must be rejected, got %v", err)
	}
}

func TestRemoveRevisionsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	detail := saveDetail(t, svc, subject, nil)
	vm := svc.Versions()

	if _, err := vm.UpdateField(ctx, detail, "x", 1, record.FieldLastUpdate); err != nil {
		t.Fatalf("update field: %v", err)
	}
	if err := vm.RemoveRevisions(ctx, detail.ID); err != nil {
		t.Fatalf("remove revisions: %v", err)
	}
	keys, err := vm.archive.List(ctx, archive.RecordPrefix(vm.versioningRepo, detail.ID))
	if err != nil || len(keys) != 0 {
		t.Fatalf("history not purged: keys=%v err=%v", keys, err)
	}
	// Purging again, or purging a record with no history, still succeeds.
	if err := vm.RemoveRevisions(ctx, detail.ID); err != nil {
		t.Fatalf("second purge: %v", err)
	}
	if err := vm.RemoveRevisions(ctx, "never-archived"); err != nil {
		t.Fatalf("purge of unknown record: %v", err)
	}
}
