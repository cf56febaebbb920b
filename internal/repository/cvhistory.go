// Package repository wraps all SQL used by the pipeline and the worker.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recruitly/cvsync/internal/model"
)

var (
	// ErrNotFound is returned when no CvHistory row matches the id.
	ErrNotFound = errors.New("cv history record not found")
	// ErrStale signals that another writer advanced the record's version.
	ErrStale = errors.New("cv history record changed concurrently")
	// ErrRetryConflict is returned when a retry is requested for a record
	// that is not currently failed.
	ErrRetryConflict = errors.New("record is not in failed status")
)

// CvHistoryRepository persists CvHistory rows.
type CvHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewCvHistoryRepository constructs a repository.
func NewCvHistoryRepository(pool *pgxpool.Pool) *CvHistoryRepository {
	return &CvHistoryRepository{pool: pool}
}

// Create inserts a pending record right after successful intake.
func (r *CvHistoryRepository) Create(ctx context.Context, rec *model.CvHistory) error {
	now := time.Now().UTC()
	rec.SyncStatus = model.SyncPending
	rec.Attempts = 0
	rec.Version = 0
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = now
	}
	rec.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO cv_history
			(id, candidate_id, file_name, stored_name, mime_type, size_bytes,
			 uploaded_at, extracted_text, sync_status, sync_date, attempts,
			 last_error, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULL,$8,NULL,0,NULL,0,$9)
	`, rec.ID, rec.CandidateID, rec.FileName, rec.StoredName, rec.MIMEType,
		rec.SizeBytes, rec.UploadedAt, rec.SyncStatus, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert cv history: %w", err)
	}
	return nil
}

const selectColumns = `
	id, candidate_id, file_name, stored_name, mime_type, size_bytes,
	uploaded_at, extracted_text, sync_status, sync_date, attempts,
	last_error, version, updated_at`

// Get returns a record by id.
func (r *CvHistoryRepository) Get(ctx context.Context, id string) (*model.CvHistory, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+selectColumns+` FROM cv_history WHERE id=$1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select cv history: %w", err)
	}
	return rec, nil
}

// ListByCandidate returns a candidate's submissions, most recent first.
func (r *CvHistoryRepository) ListByCandidate(ctx context.Context, candidateID string) ([]*model.CvHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+selectColumns+`
		FROM cv_history WHERE candidate_id=$1
		ORDER BY uploaded_at DESC
	`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("list cv history: %w", err)
	}
	defer rows.Close()
	var out []*model.CvHistory
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cv history: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cv history: %w", err)
	}
	return out, nil
}

// SetExtractedText stores the extractor output. This write is disjoint from
// the sync fields, so it does not take part in version checking.
func (r *CvHistoryRepository) SetExtractedText(ctx context.Context, id, text string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE cv_history SET extracted_text=$1, updated_at=$2 WHERE id=$3
	`, text, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set extracted text: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSynced transitions pending → synced: sync date set, last error cleared.
func (r *CvHistoryRepository) MarkSynced(ctx context.Context, id string, version int64, attempt int, at time.Time) error {
	return r.updateSyncFields(ctx, id, version, model.SyncSynced, &at, attempt, nil)
}

// RecordFailure keeps the record pending after a retryable failure, bumping
// the attempt counter and storing the cause.
func (r *CvHistoryRepository) RecordFailure(ctx context.Context, id string, version int64, attempt int, cause string) error {
	return r.updateSyncFields(ctx, id, version, model.SyncPending, nil, attempt, &cause)
}

// MarkFailed transitions pending → failed once the attempt budget is spent or
// the failure is fatal. Sync date stays null.
func (r *CvHistoryRepository) MarkFailed(ctx context.Context, id string, version int64, attempt int, cause string) error {
	return r.updateSyncFields(ctx, id, version, model.SyncFailed, nil, attempt, &cause)
}

func (r *CvHistoryRepository) updateSyncFields(ctx context.Context, id string, version int64, status model.SyncStatus, syncDate *time.Time, attempt int, lastError *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE cv_history
		SET sync_status=$1, sync_date=$2, attempts=$3, last_error=$4,
			version=version+1, updated_at=$5
		WHERE id=$6 AND version=$7
	`, status, syncDate, attempt, lastError, time.Now().UTC(), id, version)
	if err != nil {
		return fmt.Errorf("update sync fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStale
	}
	return nil
}

// ResetForRetry implements the operator retry trigger: failed → pending with
// the attempt counter restarted. The conditional update makes concurrent
// retries race safely; exactly one caller wins.
func (r *CvHistoryRepository) ResetForRetry(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE cv_history
		SET sync_status=$1, attempts=0, last_error=NULL,
			version=version+1, updated_at=$2
		WHERE id=$3 AND sync_status=$4
	`, model.SyncPending, time.Now().UTC(), id, model.SyncFailed)
	if err != nil {
		return fmt.Errorf("reset for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrRetryConflict
	}
	return nil
}

func scanRecord(row pgx.Row) (*model.CvHistory, error) {
	var rec model.CvHistory
	if err := row.Scan(
		&rec.ID, &rec.CandidateID, &rec.FileName, &rec.StoredName,
		&rec.MIMEType, &rec.SizeBytes, &rec.UploadedAt, &rec.ExtractedText,
		&rec.SyncStatus, &rec.SyncDate, &rec.Attempts, &rec.LastError,
		&rec.Version, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
