package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/recruitly/cvsync/internal/model"
	"github.com/recruitly/cvsync/internal/repository"
)

func TestVersionCheckRejectsStaleWriter(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	rec := &model.CvHistory{ID: "cv-1", CandidateID: "cand-1", FileName: "resume.pdf", MIMEType: model.MIMEPDF}
	if err := st.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := st.RecordFailure(ctx, rec.ID, 0, 1, "transient"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	// A writer that still holds version 0 lost the race.
	err := st.MarkSynced(ctx, rec.ID, 0, 1, time.Now().UTC())
	if !errors.Is(err, repository.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	got, _ := st.Get(ctx, rec.ID)
	if got.SyncStatus != model.SyncPending || got.Version != 1 {
		t.Fatalf("stale write must not land, got %+v", got)
	}
}

func TestExtractedTextWriteDoesNotBumpVersion(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	rec := &model.CvHistory{ID: "cv-1", CandidateID: "cand-1", FileName: "resume.pdf", MIMEType: model.MIMEPDF}
	if err := st.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.SetExtractedText(ctx, rec.ID, "plain text"); err != nil {
		t.Fatalf("set extracted text: %v", err)
	}
	// The extractor and the sync engine write disjoint fields; a sync update
	// against the original version must still succeed.
	if err := st.MarkSynced(ctx, rec.ID, 0, 1, time.Now().UTC()); err != nil {
		t.Fatalf("mark synced after extraction: %v", err)
	}
	got, _ := st.Get(ctx, rec.ID)
	if got.ExtractedText == nil || *got.ExtractedText != "plain text" {
		t.Fatalf("extracted text should survive the sync update")
	}
}
