// Package pipeline is the boundary callers use to move a CV from upload to a
// tracked CRM sync outcome. HTTP controllers, auth, and rendering live
// outside this module and call into Service.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/recruitly/cvsync/internal/config"
	"github.com/recruitly/cvsync/internal/intake"
	"github.com/recruitly/cvsync/internal/model"
	"github.com/recruitly/cvsync/internal/queue"
)

// RecordStore is the slice of the CV record store the service uses.
type RecordStore interface {
	Create(ctx context.Context, rec *model.CvHistory) error
	Get(ctx context.Context, id string) (*model.CvHistory, error)
	ListByCandidate(ctx context.Context, candidateID string) ([]*model.CvHistory, error)
	ResetForRetry(ctx context.Context, id string) error
}

// BlobStore persists and serves the raw CV bytes.
type BlobStore interface {
	Upload(ctx context.Context, objectKey string, r io.Reader, size int64, contentType string) error
	PresignDownload(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

// TaskQueue schedules the pipeline's background jobs.
type TaskQueue interface {
	EnqueueExtract(ctx context.Context, payload queue.ExtractPayload) error
	EnqueueSync(ctx context.Context, payload queue.SyncPayload) error
}

// Service wires intake, storage, the record store and the task queue.
type Service struct {
	validator *intake.Validator
	records   RecordStore
	blobs     BlobStore
	tasks     TaskQueue
	log       *logrus.Logger
}

// NewService constructs a Service with the configured intake limits.
func NewService(cfg *config.Config, records RecordStore, blobs BlobStore, tasks TaskQueue, log *logrus.Logger) *Service {
	return &Service{
		validator: intake.NewValidator(cfg.MaxUploadBytes, cfg.AllowedTypes),
		records:   records,
		blobs:     blobs,
		tasks:     tasks,
		log:       log,
	}
}

// Submit runs intake for an upload: validate, store the bytes, create the
// pending record, and schedule extraction and sync. A validation rejection
// creates no record. When the record was created but the sync job could not
// be scheduled, the record is returned alongside the error.
func (s *Service) Submit(ctx context.Context, candidateID, originalName, mimeType string, size int64, r io.Reader) (*model.CvHistory, error) {
	decision, err := s.validator.Validate(originalName, mimeType, size)
	if err != nil {
		return nil, err
	}
	objectKey := fmt.Sprintf("cvs/%s/%s", candidateID, decision.StoredName)
	if err := s.blobs.Upload(ctx, objectKey, r, size, mimeType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	rec := &model.CvHistory{
		ID:          uuid.NewString(),
		CandidateID: candidateID,
		FileName:    originalName,
		StoredName:  objectKey,
		MIMEType:    mimeType,
		SizeBytes:   size,
		UploadedAt:  time.Now().UTC(),
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	fields := logrus.Fields{"cv_history_id": rec.ID, "candidate_id": candidateID}

	// Extraction is best effort and has no ordering relation to sync.
	if err := s.tasks.EnqueueExtract(ctx, queue.ExtractPayload{
		CvHistoryID: rec.ID,
		StoredName:  rec.StoredName,
		MIMEType:    rec.MIMEType,
	}); err != nil {
		s.log.WithFields(fields).WithError(err).Warn("extract job not scheduled")
	}

	if err := s.tasks.EnqueueSync(ctx, queue.SyncPayload{CvHistoryID: rec.ID}); err != nil {
		return rec, fmt.Errorf("enqueue sync: %w", err)
	}
	s.log.WithFields(fields).Info("cv accepted")
	return rec, nil
}

// RetrySync is the operator retry trigger: failed → pending with the attempt
// counter restarted, then a fresh sync job. It conflicts when the record is
// not currently failed.
func (s *Service) RetrySync(ctx context.Context, id string) error {
	if err := s.records.ResetForRetry(ctx, id); err != nil {
		return err
	}
	if err := s.tasks.EnqueueSync(ctx, queue.SyncPayload{CvHistoryID: id}); err != nil {
		return fmt.Errorf("enqueue sync: %w", err)
	}
	s.log.WithField("cv_history_id", id).Info("manual sync retry scheduled")
	return nil
}

// Record returns a single CV record.
func (s *Service) Record(ctx context.Context, id string) (*model.CvHistory, error) {
	return s.records.Get(ctx, id)
}

// History returns a candidate's submissions, most recent upload first.
func (s *Service) History(ctx context.Context, candidateID string) ([]*model.CvHistory, error) {
	return s.records.ListByCandidate(ctx, candidateID)
}

// DownloadURL returns a presigned GET URL for the stored document.
func (s *Service) DownloadURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.blobs.PresignDownload(ctx, rec.StoredName, ttl)
}

// Rejected reports whether an error is an intake rejection, which callers
// surface synchronously to the uploader.
func Rejected(err error) bool {
	return errors.Is(err, intake.ErrFileTooLarge) || errors.Is(err, intake.ErrUnsupportedType)
}
