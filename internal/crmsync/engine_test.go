package crmsync

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/recruitly/cvsync/internal/backoff"
	"github.com/recruitly/cvsync/internal/crm"
	"github.com/recruitly/cvsync/internal/model"
	"github.com/recruitly/cvsync/internal/repository"
	"github.com/recruitly/cvsync/internal/store"
)

type pushFunc func(ctx context.Context, payload crm.Payload) (string, error)

func (f pushFunc) Push(ctx context.Context, payload crm.Payload) (string, error) {
	return f(ctx, payload)
}

type staticProfiles struct{}

func (staticProfiles) Profile(ctx context.Context, candidateID string) (*model.CandidateProfile, error) {
	return &model.CandidateProfile{
		ID:        candidateID,
		FirstName: "Dana",
		LastName:  "Reyes",
		Email:     "dana@example.com",
	}, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEngine(st *store.MemoryStore, client crm.Client, locks Locker) *Engine {
	if locks == nil {
		locks = store.NewMemoryLocker()
	}
	policy := backoff.New(1000*time.Millisecond, 3)
	return NewEngine(st, staticProfiles{}, client, locks, policy, quietLogger())
}

func newPendingRecord(t *testing.T, st *store.MemoryStore) *model.CvHistory {
	t.Helper()
	rec := &model.CvHistory{
		ID:          "cv-1",
		CandidateID: "cand-1",
		FileName:    "resume.pdf",
		StoredName:  "cvs/cand-1/resume.pdf",
		MIMEType:    model.MIMEPDF,
		SizeBytes:   2048,
	}
	if err := st.Create(context.Background(), rec); err != nil {
		t.Fatalf("create record: %v", err)
	}
	return rec
}

// checkInvariant asserts syncDate != nil ⇔ status == synced.
func checkInvariant(t *testing.T, st *store.MemoryStore, id string) *model.CvHistory {
	t.Helper()
	rec, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	hasDate := rec.SyncDate != nil
	if hasDate != (rec.SyncStatus == model.SyncSynced) {
		t.Fatalf("invariant violated: status=%s syncDate=%v", rec.SyncStatus, rec.SyncDate)
	}
	return rec
}

func retryableErr() error {
	return &crm.Error{StatusCode: http.StatusBadGateway, Message: "upstream unavailable", Retryable: true}
}

func fatalErr() error {
	return &crm.Error{StatusCode: http.StatusUnprocessableEntity, Message: "email is malformed", Retryable: false}
}

func TestAttemptSuccessFirstTry(t *testing.T) {
	st := store.NewMemoryStore()
	rec := newPendingRecord(t, st)
	e := newTestEngine(st, pushFunc(func(ctx context.Context, p crm.Payload) (string, error) {
		return "crm-1", nil
	}), nil)

	status, err := e.Attempt(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if status != model.SyncSynced {
		t.Fatalf("expected synced, got %s", status)
	}
	got := checkInvariant(t, st, rec.ID)
	if got.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.Attempts)
	}
	if got.LastError != nil {
		t.Fatalf("expected cleared last error, got %q", *got.LastError)
	}
}

func TestRetryableFailuresThenSuccess(t *testing.T) {
	st := store.NewMemoryStore()
	rec := newPendingRecord(t, st)
	calls := 0
	e := newTestEngine(st, pushFunc(func(ctx context.Context, p crm.Payload) (string, error) {
		calls++
		if calls < 3 {
			return "", retryableErr()
		}
		return "crm-1", nil
	}), nil)

	for attempt := 1; attempt <= 2; attempt++ {
		status, err := e.Attempt(context.Background(), rec.ID)
		if status != model.SyncPending {
			t.Fatalf("attempt %d: expected pending, got %s", attempt, status)
		}
		var rf *RetryableFailure
		if !errors.As(err, &rf) {
			t.Fatalf("attempt %d: expected RetryableFailure, got %v", attempt, err)
		}
		if rf.Attempt != attempt {
			t.Fatalf("expected failure ordinal %d, got %d", attempt, rf.Attempt)
		}
		got := checkInvariant(t, st, rec.ID)
		if got.Attempts != attempt {
			t.Fatalf("expected %d attempts recorded, got %d", attempt, got.Attempts)
		}
		if got.LastError == nil {
			t.Fatalf("expected last error after failure")
		}
	}

	status, err := e.Attempt(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if status != model.SyncSynced {
		t.Fatalf("expected synced, got %s", status)
	}
	got := checkInvariant(t, st, rec.ID)
	if got.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", got.Attempts)
	}
}

func TestFatalFailureFailsImmediately(t *testing.T) {
	st := store.NewMemoryStore()
	rec := newPendingRecord(t, st)
	calls := 0
	e := newTestEngine(st, pushFunc(func(ctx context.Context, p crm.Payload) (string, error) {
		calls++
		return "", fatalErr()
	}), nil)

	status, err := e.Attempt(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if status != model.SyncFailed {
		t.Fatalf("expected failed, got %s", status)
	}
	got := checkInvariant(t, st, rec.ID)
	if got.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.Attempts)
	}

	// A stale scheduled retry must not push again.
	status, err = e.Attempt(context.Background(), rec.ID)
	if err != nil || status != model.SyncFailed {
		t.Fatalf("expected failed no-op, got %s, %v", status, err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one push, got %d", calls)
	}
}

func TestExhaustedAttemptsThenManualRetry(t *testing.T) {
	st := store.NewMemoryStore()
	rec := newPendingRecord(t, st)
	failing := true
	e := newTestEngine(st, pushFunc(func(ctx context.Context, p crm.Payload) (string, error) {
		if failing {
			return "", retryableErr()
		}
		return "crm-1", nil
	}), nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		status, _ := e.Attempt(ctx, rec.ID)
		if i < 2 && status != model.SyncPending {
			t.Fatalf("attempt %d: expected pending, got %s", i+1, status)
		}
		if i == 2 && status != model.SyncFailed {
			t.Fatalf("expected failed after exhausting attempts, got %s", status)
		}
		checkInvariant(t, st, rec.ID)
	}
	got, _ := st.Get(ctx, rec.ID)
	if got.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", got.Attempts)
	}

	if err := st.ResetForRetry(ctx, rec.ID); err != nil {
		t.Fatalf("reset for retry: %v", err)
	}
	got = checkInvariant(t, st, rec.ID)
	if got.SyncStatus != model.SyncPending || got.Attempts != 0 || got.LastError != nil {
		t.Fatalf("reset should restart the record: %+v", got)
	}

	failing = false
	status, err := e.Attempt(ctx, rec.ID)
	if err != nil || status != model.SyncSynced {
		t.Fatalf("expected synced after manual retry, got %s, %v", status, err)
	}
	got = checkInvariant(t, st, rec.ID)
	if got.Attempts != 1 {
		t.Fatalf("manual retry should restart the attempt counter, got %d", got.Attempts)
	}
}

func TestResetForRetryConflicts(t *testing.T) {
	st := store.NewMemoryStore()
	rec := newPendingRecord(t, st)
	ctx := context.Background()

	// Not failed yet: retry is an explicit conflict.
	if err := st.ResetForRetry(ctx, rec.ID); !errors.Is(err, repository.ErrRetryConflict) {
		t.Fatalf("expected ErrRetryConflict, got %v", err)
	}

	if err := st.MarkFailed(ctx, rec.ID, 0, 3, "gave up"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	// Two operators race: exactly one reset wins.
	if err := st.ResetForRetry(ctx, rec.ID); err != nil {
		t.Fatalf("first reset should win: %v", err)
	}
	if err := st.ResetForRetry(ctx, rec.ID); !errors.Is(err, repository.ErrRetryConflict) {
		t.Fatalf("second reset should conflict, got %v", err)
	}
}

func TestAttemptInFlightExcluded(t *testing.T) {
	st := store.NewMemoryStore()
	rec := newPendingRecord(t, st)
	locks := store.NewMemoryLocker()
	calls := 0
	e := newTestEngine(st, pushFunc(func(ctx context.Context, p crm.Payload) (string, error) {
		calls++
		return "crm-1", nil
	}), locks)

	ctx := context.Background()
	if ok, _ := locks.Acquire(ctx, rec.ID, time.Minute); !ok {
		t.Fatalf("test setup: could not take lock")
	}
	_, err := e.Attempt(ctx, rec.ID)
	if !errors.Is(err, ErrAttemptInFlight) {
		t.Fatalf("expected ErrAttemptInFlight, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("no push should happen while another attempt holds the lock")
	}
}

func TestConcurrentAttemptsSingleInFlight(t *testing.T) {
	st := store.NewMemoryStore()
	rec := newPendingRecord(t, st)
	entered := make(chan struct{})
	release := make(chan struct{})
	e := newTestEngine(st, pushFunc(func(ctx context.Context, p crm.Payload) (string, error) {
		close(entered)
		<-release
		return "crm-1", nil
	}), nil)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := e.Attempt(ctx, rec.ID)
		done <- err
	}()
	<-entered

	// Second attempt while the first holds the lease.
	_, err := e.Attempt(ctx, rec.ID)
	if !errors.Is(err, ErrAttemptInFlight) {
		t.Fatalf("expected ErrAttemptInFlight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	checkInvariant(t, st, rec.ID)
}

func TestStaleOutcomeDiscarded(t *testing.T) {
	st := store.NewMemoryStore()
	rec := newPendingRecord(t, st)
	ctx := context.Background()
	e := newTestEngine(st, pushFunc(func(ctx context.Context, p crm.Payload) (string, error) {
		// A concurrent writer advances the record mid-push.
		if err := st.RecordFailure(ctx, rec.ID, 0, 1, "concurrent writer"); err != nil {
			t.Errorf("concurrent update: %v", err)
		}
		return "crm-1", nil
	}), nil)

	status, err := e.Attempt(ctx, rec.ID)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if status != model.SyncPending {
		t.Fatalf("stale outcome should be discarded, got %s", status)
	}
	got := checkInvariant(t, st, rec.ID)
	if got.SyncStatus != model.SyncPending || got.Attempts != 1 {
		t.Fatalf("concurrent writer's state should survive: %+v", got)
	}
}

func TestSyncWithoutExtractedText(t *testing.T) {
	st := store.NewMemoryStore()
	rec := newPendingRecord(t, st)
	var sawText string
	e := newTestEngine(st, pushFunc(func(ctx context.Context, p crm.Payload) (string, error) {
		sawText = p.ExtractedText
		return "crm-1", nil
	}), nil)

	// Extraction never ran (or failed); sync must proceed regardless.
	status, err := e.Attempt(context.Background(), rec.ID)
	if err != nil || status != model.SyncSynced {
		t.Fatalf("expected synced, got %s, %v", status, err)
	}
	if sawText != "" {
		t.Fatalf("expected empty extracted text, got %q", sawText)
	}
}
