package dbservices

import (
	"context"
	"errors"
	"testing"

	"recordcore/pkg/record"
)

func newTestServices(t *testing.T) *Services {
	t.Helper()
	svc, err := Open(context.Background(), Config{
		Driver:        StorageMemory,
		ArchiveDriver: "memory",
	})
	if err != nil {
		t.Fatalf("open services: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func saveSubject(t *testing.T, svc *Services) *record.Subject {
	t.Helper()
	subject, err := svc.SaveSubject(context.Background(), record.NewSubject())
	if err != nil {
		t.Fatalf("save subject: %v", err)
	}
	return subject
}

func saveDetail(t *testing.T, svc *Services, subject *record.Subject, payload map[string]any) *record.Detail {
	t.Helper()
	detail, _, err := svc.SaveDetail(context.Background(), record.NewDetail(payload), subject)
	if err != nil {
		t.Fatalf("save detail: %v", err)
	}
	return detail
}

func TestSaveSubjectAssignsIdentity(t *testing.T) {
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	if subject.ID == "" {
		t.Fatalf("saved subject must have an id")
	}
	if !subject.Active {
		t.Fatalf("new subject must be active")
	}
}

func TestSaveDetailLinksBothSides(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)

	detail := saveDetail(t, svc, subject, map[string]any{"kind": "note"})
	if detail.ID == "" {
		t.Fatalf("saved detail must have an id")
	}
	if detail.SubjectID != subject.ID {
		t.Fatalf("detail must be bound to its subject")
	}
	if len(subject.DetailRefs) != 1 || subject.DetailRefs[0] != detail.ID {
		t.Fatalf("in-memory linkage mismatch: %v", subject.DetailRefs)
	}

	// The persisted linkage must agree with the returned subject.
	stored, err := svc.GetSubject(ctx, subject.ID, FetchOptions{HydrateDetails: true})
	if err != nil {
		t.Fatalf("reload subject: %v", err)
	}
	if len(stored.DetailRefs) != 1 || stored.DetailRefs[0] != detail.ID {
		t.Fatalf("persisted linkage mismatch: %v", stored.DetailRefs)
	}
	if len(stored.Details) != 1 || stored.Details[0].Payload["kind"] != "note" {
		t.Fatalf("hydrated detail mismatch: %+v", stored.Details)
	}
}

func TestSaveDetailRejectsUnsavedSubject(t *testing.T) {
	svc := newTestServices(t)
	if _, _, err := svc.SaveDetail(context.Background(), record.NewDetail(nil), record.NewSubject()); err == nil {
		t.Fatalf("saving against an unsaved subject must fail")
	}
}

func TestSaveDetailsBatchWithDuplicates(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	existing := saveDetail(t, svc, subject, map[string]any{"n": 0})

	batch := []*record.Detail{
		record.NewDetail(map[string]any{"n": 1}),
		record.NewDetail(map[string]any{"n": 2}),
	}
	batch[1].ID = existing.ID

	saved, subject, duplicates, err := svc.SaveDetails(ctx, batch, subject, true)
	if err != nil {
		t.Fatalf("batch save: %v", err)
	}
	if len(saved) != 1 || saved[0].Payload["n"] != 1 {
		t.Fatalf("saved set mismatch: %+v", saved)
	}
	if len(duplicates) != 1 {
		t.Fatalf("duplicates mismatch: %+v", duplicates)
	}
	// Linkage covers only the records that actually saved.
	if len(subject.DetailRefs) != 2 {
		t.Fatalf("linkage after batch: %v", subject.DetailRefs)
	}

	// Without skip, a duplicate fails the whole batch and links nothing.
	again := []*record.Detail{record.NewDetail(nil), record.NewDetail(nil)}
	again[0].ID = existing.ID
	if _, _, _, err := svc.SaveDetails(ctx, again, subject, false); err == nil {
		t.Fatalf("batch without skip must fail on duplicates")
	}
	stored, err := svc.GetSubject(ctx, subject.ID, FetchOptions{})
	if err != nil {
		t.Fatalf("reload subject: %v", err)
	}
	if len(stored.DetailRefs) != 2 {
		t.Fatalf("failed batch changed linkage: %v", stored.DetailRefs)
	}
}

func TestRemoveDetailSoftAndFullReset(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	detail := saveDetail(t, svc, subject, map[string]any{"kind": "note"})
	detailID := detail.ID

	// Build some revision history first.
	if _, err := svc.Versions().UpdateField(ctx, detail, "severity", 2, record.FieldLastUpdate); err != nil {
		t.Fatalf("versioned update: %v", err)
	}

	removed, subject, err := svc.RemoveDetail(ctx, detail, subject, false)
	if err != nil {
		t.Fatalf("remove detail: %v", err)
	}
	if removed.ID != detailID || removed.SubjectID != "" {
		t.Fatalf("soft reset must keep identity and drop the binding: %+v", removed)
	}
	if removed.Version != 0 {
		t.Fatalf("soft reset must zero the version, got %d", removed.Version)
	}
	if len(subject.DetailRefs) != 0 {
		t.Fatalf("unlink not mirrored: %v", subject.DetailRefs)
	}
	// Soft removal keeps the revision history for the re-attach.
	keys, err := svc.Versions().archive.List(ctx, "details_versions/"+detailID+"/")
	if err != nil || len(keys) == 0 {
		t.Fatalf("revision history purged on soft removal: keys=%v err=%v", keys, err)
	}

	// Re-save and remove with a new record id: identity and history both go.
	if _, _, err := svc.SaveDetail(ctx, removed, subject); err != nil {
		t.Fatalf("re-save detail: %v", err)
	}
	full, _, err := svc.RemoveDetail(ctx, removed, subject, true)
	if err != nil {
		t.Fatalf("remove detail with reset: %v", err)
	}
	if full.ID != "" || full.SubjectID != "" || full.Version != 0 {
		t.Fatalf("full reset left identity: %+v", full)
	}
	if full.Payload["kind"] != "note" {
		t.Fatalf("reset must keep the payload")
	}
	keys, err = svc.Versions().archive.List(ctx, "details_versions/"+detailID+"/")
	if err != nil || len(keys) != 0 {
		t.Fatalf("revision history must be purged on full removal: keys=%v err=%v", keys, err)
	}
}

func TestRemoveDetailNotLinked(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	other := saveSubject(t, svc)
	detail := saveDetail(t, svc, subject, nil)

	_, _, err := svc.RemoveDetail(ctx, detail, other, false)
	var notLinked record.NotLinkedError
	if !errors.As(err, &notLinked) {
		t.Fatalf("expected NotLinkedError, got %v", err)
	}
	if notLinked.DetailID != detail.ID || notLinked.SubjectID != other.ID {
		t.Fatalf("error identifies the wrong records: %+v", notLinked)
	}
	// The rejected removal must not have deleted the record.
	if _, err := svc.GetSubject(ctx, subject.ID, FetchOptions{}); err != nil {
		t.Fatalf("reload subject: %v", err)
	}
}

func TestMoveDetailKeepsIdentityAndHistory(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	src := saveSubject(t, svc)
	dest := saveSubject(t, svc)
	detail := saveDetail(t, svc, src, map[string]any{"kind": "note"})
	detailID := detail.ID

	if _, err := svc.Versions().UpdateField(ctx, detail, "severity", 1, record.FieldLastUpdate); err != nil {
		t.Fatalf("versioned update: %v", err)
	}

	src, dest, err := svc.MoveDetail(ctx, detail, src, dest)
	if err != nil {
		t.Fatalf("move detail: %v", err)
	}
	if detail.ID != detailID {
		t.Fatalf("move changed the record id: %q -> %q", detailID, detail.ID)
	}
	if detail.SubjectID != dest.ID {
		t.Fatalf("moved detail bound to %q, want %q", detail.SubjectID, dest.ID)
	}
	if len(src.DetailRefs) != 0 || len(dest.DetailRefs) != 1 {
		t.Fatalf("linkage after move: src=%v dest=%v", src.DetailRefs, dest.DetailRefs)
	}
	keys, err := svc.Versions().archive.List(ctx, "details_versions/"+detailID+"/")
	if err != nil || len(keys) == 0 {
		t.Fatalf("move must keep the revision lineage: keys=%v err=%v", keys, err)
	}
}

func TestHideDetailIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	detail := saveDetail(t, svc, subject, nil)

	hidden, err := svc.HideDetail(ctx, detail)
	if err != nil {
		t.Fatalf("hide detail: %v", err)
	}
	if hidden.Active {
		t.Fatalf("hidden detail still active")
	}
	versionAfterHide := hidden.Version

	// Hiding again is a no-op: no extra version bump.
	if _, err := svc.HideDetail(ctx, hidden); err != nil {
		t.Fatalf("second hide: %v", err)
	}
	if hidden.Version != versionAfterHide {
		t.Fatalf("idempotent hide bumped the version: %d -> %d", versionAfterHide, hidden.Version)
	}
}

func TestHiddenDetailsFilteredOnFetch(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	visible := saveDetail(t, svc, subject, map[string]any{"n": 1})
	hidden := saveDetail(t, svc, subject, map[string]any{"n": 2})
	if _, err := svc.HideDetail(ctx, hidden); err != nil {
		t.Fatalf("hide detail: %v", err)
	}

	stored, err := svc.GetSubject(ctx, subject.ID, FetchOptions{HydrateDetails: true})
	if err != nil {
		t.Fatalf("reload subject: %v", err)
	}
	if len(stored.Details) != 1 || stored.Details[0].ID != visible.ID {
		t.Fatalf("hidden detail leaked into the cache: %+v", stored.Details)
	}
	// The persisted linkage is never filtered.
	if len(stored.DetailRefs) != 2 {
		t.Fatalf("linkage must keep hidden refs: %v", stored.DetailRefs)
	}

	all, err := svc.GetSubject(ctx, subject.ID, FetchOptions{HydrateDetails: true, IncludeHiddenDetails: true})
	if err != nil {
		t.Fatalf("reload with hidden: %v", err)
	}
	if len(all.Details) != 2 {
		t.Fatalf("opt-in must include hidden details: %+v", all.Details)
	}
}

func TestHideSubjectPropagates(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	detail := saveDetail(t, svc, subject, nil)

	hidden, err := svc.HideSubject(ctx, subject)
	if err != nil {
		t.Fatalf("hide subject: %v", err)
	}
	if hidden.Active {
		t.Fatalf("hidden subject still active")
	}
	if detail.Active {
		t.Fatalf("hide must propagate to loaded details")
	}

	// Already-hidden subject is a no-op.
	if _, err := svc.HideSubject(ctx, hidden); err != nil {
		t.Fatalf("second hide: %v", err)
	}

	subjects, err := svc.GetSubjects(ctx, true, FetchOptions{})
	if err != nil {
		t.Fatalf("list active subjects: %v", err)
	}
	if len(subjects) != 0 {
		t.Fatalf("hidden subject listed as active")
	}
	subjects, err = svc.GetSubjects(ctx, false, FetchOptions{})
	if err != nil {
		t.Fatalf("list all subjects: %v", err)
	}
	if len(subjects) != 1 {
		t.Fatalf("hidden subject missing from the full listing")
	}
}

func TestDeleteSubjectCascadeRules(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	saveDetail(t, svc, subject, nil)
	// A hidden detail still counts as linked.
	hidden := saveDetail(t, svc, subject, nil)
	if _, err := svc.HideDetail(ctx, hidden); err != nil {
		t.Fatalf("hide detail: %v", err)
	}

	err := svc.DeleteSubject(ctx, subject, false)
	var cascade record.CascadeDeleteError
	if !errors.As(err, &cascade) {
		t.Fatalf("expected CascadeDeleteError, got %v", err)
	}
	if cascade.LinkedCount != 2 {
		t.Fatalf("cascade error counts %d linked records, want 2", cascade.LinkedCount)
	}
	// Rejection must not remove anything.
	if _, err := svc.GetSubject(ctx, subject.ID, FetchOptions{}); err != nil {
		t.Fatalf("subject gone after rejected delete: %v", err)
	}

	if err := svc.DeleteSubject(ctx, subject, true); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	if _, err := svc.GetSubject(ctx, subject.ID, FetchOptions{}); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("subject survived cascade delete: %v", err)
	}
	keys, err := svc.Versions().archive.List(ctx, "details_versions/"+hidden.ID+"/")
	if err != nil || len(keys) != 0 {
		t.Fatalf("cascade delete must purge revision history: keys=%v err=%v", keys, err)
	}
}

func TestDeleteSubjectWithoutDetails(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	if err := svc.DeleteSubject(ctx, subject, false); err != nil {
		t.Fatalf("delete childless subject: %v", err)
	}
	if err := svc.DeleteSubject(ctx, subject, false); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("deleting a missing subject should report not-found, got %v", err)
	}
}

func TestLoadDetailsIncludesHidden(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	subject := saveSubject(t, svc)
	saveDetail(t, svc, subject, map[string]any{"n": 1})
	hidden := saveDetail(t, svc, subject, map[string]any{"n": 2})
	if _, err := svc.HideDetail(ctx, hidden); err != nil {
		t.Fatalf("hide detail: %v", err)
	}

	reloaded, err := svc.GetSubject(ctx, subject.ID, FetchOptions{})
	if err != nil {
		t.Fatalf("reload subject: %v", err)
	}
	if len(reloaded.Details) != 1 {
		t.Fatalf("default fetch should filter hidden details")
	}
	if _, err := svc.LoadDetails(ctx, reloaded); err != nil {
		t.Fatalf("load details: %v", err)
	}
	if len(reloaded.Details) != 2 {
		t.Fatalf("load details must hydrate every linked record, got %d", len(reloaded.Details))
	}
	for _, d := range reloaded.Details {
		if d.Payload == nil {
			t.Fatalf("load details must hydrate payloads")
		}
	}
}
