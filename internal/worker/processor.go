// Package worker plugs the pipeline into the asynq worker loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/recruitly/cvsync/internal/backoff"
	"github.com/recruitly/cvsync/internal/crmsync"
	"github.com/recruitly/cvsync/internal/extract"
	"github.com/recruitly/cvsync/internal/queue"
)

// RecordStore is the slice of the record store the extract handler writes.
type RecordStore interface {
	SetExtractedText(ctx context.Context, id, text string) error
}

// BlobStore fetches stored CV bytes.
type BlobStore interface {
	Download(ctx context.Context, objectKey string) ([]byte, error)
}

// Processor holds the task handlers.
type Processor struct {
	records RecordStore
	blobs   BlobStore
	engine  *crmsync.Engine
	log     *logrus.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(records RecordStore, blobs BlobStore, engine *crmsync.Engine, log *logrus.Logger) *Processor {
	return &Processor{records: records, blobs: blobs, engine: engine, log: log}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ExtractTask, p.handleExtract)
	mux.HandleFunc(queue.SyncTask, p.handleSync)
	return mux
}

// handleExtract is best effort: a document the backends cannot parse is
// logged and dropped without blocking the record's sync path.
func (p *Processor) handleExtract(ctx context.Context, task *asynq.Task) error {
	var payload queue.ExtractPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode extract payload: %v: %w", err, asynq.SkipRetry)
	}
	fields := logrus.Fields{"cv_history_id": payload.CvHistoryID, "stored_name": payload.StoredName}

	extractor, err := extract.ForMIME(payload.MIMEType)
	if err != nil {
		p.log.WithFields(fields).WithError(err).Error("cv extraction skipped")
		return fmt.Errorf("extractor for %s: %v: %w", payload.MIMEType, err, asynq.SkipRetry)
	}
	data, err := p.blobs.Download(ctx, payload.StoredName)
	if err != nil {
		// Storage hiccups are worth retrying.
		return fmt.Errorf("download %s: %w", payload.StoredName, err)
	}
	res, err := extractor.Extract(data)
	if err != nil {
		p.log.WithFields(fields).WithError(err).Error("cv extraction failed")
		return fmt.Errorf("extract %s: %v: %w", payload.CvHistoryID, err, asynq.SkipRetry)
	}
	for _, warning := range res.Warnings {
		p.log.WithFields(fields).Warn(warning)
	}
	if err := p.records.SetExtractedText(ctx, payload.CvHistoryID, res.Text); err != nil {
		return fmt.Errorf("store extracted text: %w", err)
	}
	p.log.WithFields(fields).WithField("chars", len(res.Text)).Info("cv text extracted")
	return nil
}

// handleSync runs one push attempt. A RetryableFailure return makes asynq
// schedule the next attempt after the policy delay; any terminal outcome
// completes the task.
func (p *Processor) handleSync(ctx context.Context, task *asynq.Task) error {
	var payload queue.SyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode sync payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := p.engine.Attempt(ctx, payload.CvHistoryID)
	return err
}

// RetryDelay adapts the backoff policy to asynq's scheduler. The delay is
// keyed off the record's own attempt ordinal, not asynq's task retry count,
// so lease-contention retries do not distort the schedule.
func RetryDelay(policy backoff.Policy) asynq.RetryDelayFunc {
	return func(n int, err error, task *asynq.Task) time.Duration {
		var rf *crmsync.RetryableFailure
		if errors.As(err, &rf) {
			return policy.Delay(rf.Attempt)
		}
		if errors.Is(err, crmsync.ErrAttemptInFlight) {
			return policy.Base
		}
		return asynq.DefaultRetryDelayFunc(n, err, task)
	}
}
