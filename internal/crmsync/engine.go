// Package crmsync owns the CRM synchronization state machine: pending →
// synced, pending → failed, and the operator-driven failed → pending reset.
package crmsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/recruitly/cvsync/internal/backoff"
	"github.com/recruitly/cvsync/internal/crm"
	"github.com/recruitly/cvsync/internal/model"
	"github.com/recruitly/cvsync/internal/repository"
)

// ErrAttemptInFlight is returned when a push attempt for the record is
// already outstanding.
var ErrAttemptInFlight = errors.New("sync attempt already in flight")

// RetryableFailure is returned by Attempt when another push should be
// scheduled. Attempt carries the 1-indexed ordinal of the attempt that just
// failed, which drives the backoff delay.
type RetryableFailure struct {
	Attempt int
	Cause   error
}

func (e *RetryableFailure) Error() string {
	return fmt.Sprintf("sync attempt %d failed: %v", e.Attempt, e.Cause)
}

func (e *RetryableFailure) Unwrap() error { return e.Cause }

// RecordStore is the slice of the CV record store the engine mutates.
type RecordStore interface {
	Get(ctx context.Context, id string) (*model.CvHistory, error)
	MarkSynced(ctx context.Context, id string, version int64, attempt int, at time.Time) error
	RecordFailure(ctx context.Context, id string, version int64, attempt int, cause string) error
	MarkFailed(ctx context.Context, id string, version int64, attempt int, cause string) error
}

// ProfileSource provides the candidate profile fields for the CRM payload.
type ProfileSource interface {
	Profile(ctx context.Context, candidateID string) (*model.CandidateProfile, error)
}

// Locker enforces at most one in-flight push attempt per record.
type Locker interface {
	Acquire(ctx context.Context, id string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id string) error
}

// Engine runs push attempts and applies the resulting state transitions.
type Engine struct {
	records  RecordStore
	profiles ProfileSource
	client   crm.Client
	locks    Locker
	policy   backoff.Policy
	log      *logrus.Logger

	lockTTL time.Duration
	now     func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(records RecordStore, profiles ProfileSource, client crm.Client, locks Locker, policy backoff.Policy, log *logrus.Logger) *Engine {
	return &Engine{
		records:  records,
		profiles: profiles,
		client:   client,
		locks:    locks,
		policy:   policy,
		log:      log,
		lockTTL:  2 * time.Minute,
		now:      time.Now,
	}
}

// Policy exposes the retry policy so the worker can wire it into the
// scheduler's delay function.
func (e *Engine) Policy() backoff.Policy { return e.policy }

// Attempt runs one push attempt for the record and returns the status it
// ended up in. A *RetryableFailure return means the caller should schedule
// another attempt after the policy delay; a nil error means the record
// reached a state that needs no further scheduling.
func (e *Engine) Attempt(ctx context.Context, id string) (model.SyncStatus, error) {
	rec, err := e.records.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load record: %w", err)
	}
	if rec.SyncStatus != model.SyncPending {
		// A stale retry must never overwrite a status a newer action
		// already advanced past.
		e.log.WithFields(logrus.Fields{
			"cv_history_id": rec.ID,
			"status":        rec.SyncStatus,
		}).Warn("skipping sync attempt for non-pending record")
		return rec.SyncStatus, nil
	}

	ok, err := e.locks.Acquire(ctx, rec.ID, e.lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return rec.SyncStatus, ErrAttemptInFlight
	}
	defer func() {
		if err := e.locks.Release(ctx, rec.ID); err != nil {
			e.log.WithField("cv_history_id", rec.ID).WithError(err).Warn("release sync lock")
		}
	}()

	attempt := rec.Attempts + 1
	fields := logrus.Fields{
		"cv_history_id": rec.ID,
		"candidate_id":  rec.CandidateID,
		"attempt":       attempt,
	}

	profile, err := e.profiles.Profile(ctx, rec.CandidateID)
	if err != nil {
		return e.failRetryable(ctx, rec, attempt, fmt.Errorf("load candidate profile: %w", err), fields)
	}

	crmID, err := e.client.Push(ctx, crm.NewPayload(profile, rec))
	switch {
	case err == nil:
		if err := e.records.MarkSynced(ctx, rec.ID, rec.Version, attempt, e.now().UTC()); err != nil {
			return e.handleUpdateError(ctx, rec, err)
		}
		e.log.WithFields(fields).WithField("crm_id", crmID).Info("cv synced to crm")
		return model.SyncSynced, nil
	case crm.Retryable(err):
		return e.failRetryable(ctx, rec, attempt, err, fields)
	default:
		// Fatal: the CRM rejected the payload itself. Retrying the same
		// request is never productive, whatever the remaining budget.
		if err := e.records.MarkFailed(ctx, rec.ID, rec.Version, attempt, err.Error()); err != nil {
			return e.handleUpdateError(ctx, rec, err)
		}
		e.log.WithFields(fields).WithError(err).Error("cv sync failed permanently")
		return model.SyncFailed, nil
	}
}

// failRetryable applies the transition for a retryable failure: the record
// stays pending while budget remains, otherwise it becomes failed.
func (e *Engine) failRetryable(ctx context.Context, rec *model.CvHistory, attempt int, cause error, fields logrus.Fields) (model.SyncStatus, error) {
	if !e.policy.Allows(attempt + 1) {
		if err := e.records.MarkFailed(ctx, rec.ID, rec.Version, attempt, cause.Error()); err != nil {
			return e.handleUpdateError(ctx, rec, err)
		}
		e.log.WithFields(fields).WithError(cause).Error("cv sync failed, attempts exhausted")
		return model.SyncFailed, nil
	}
	if err := e.records.RecordFailure(ctx, rec.ID, rec.Version, attempt, cause.Error()); err != nil {
		return e.handleUpdateError(ctx, rec, err)
	}
	e.log.WithFields(fields).WithError(cause).WithField("next_delay", e.policy.Delay(attempt)).Warn("cv sync attempt failed, retry scheduled")
	return model.SyncPending, &RetryableFailure{Attempt: attempt, Cause: cause}
}

// handleUpdateError absorbs version conflicts: a concurrent writer advanced
// the record, so this attempt's outcome is discarded rather than retried.
func (e *Engine) handleUpdateError(ctx context.Context, rec *model.CvHistory, err error) (model.SyncStatus, error) {
	if errors.Is(err, repository.ErrStale) {
		e.log.WithField("cv_history_id", rec.ID).Warn("discarding stale sync outcome")
		if current, getErr := e.records.Get(ctx, rec.ID); getErr == nil {
			return current.SyncStatus, nil
		}
		return rec.SyncStatus, nil
	}
	return "", fmt.Errorf("update record: %w", err)
}
