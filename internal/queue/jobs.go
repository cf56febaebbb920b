// Package queue defines the asynq tasks that drive the pipeline: a
// best-effort extraction job and the CRM sync job with its retry schedule.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// ExtractTask converts a stored CV into plain text.
	ExtractTask = "cv:extract"
	// SyncTask pushes a CV record to the CRM.
	SyncTask = "cv:sync"
)

// ExtractPayload tells the worker which object to download and how to parse it.
type ExtractPayload struct {
	CvHistoryID string `json:"cv_history_id"`
	StoredName  string `json:"stored_name"`
	MIMEType    string `json:"mime_type"`
}

// SyncPayload identifies the record whose sync attempt should run.
type SyncPayload struct {
	CvHistoryID string `json:"cv_history_id"`
}

// Client wraps the asynq client with the pipeline's enqueue policies.
type Client struct {
	client      *asynq.Client
	maxAttempts int
}

// NewClient constructs a Client. maxAttempts is the record-level attempt
// budget; the task-level retry limit gets headroom on top of it because the
// database attempt counter, not asynq, is authoritative.
func NewClient(client *asynq.Client, maxAttempts int) *Client {
	return &Client{client: client, maxAttempts: maxAttempts}
}

// EnqueueExtract schedules a text extraction job.
func (c *Client) EnqueueExtract(ctx context.Context, payload ExtractPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal extract payload: %w", err)
	}
	task := asynq.NewTask(ExtractTask, data)
	if _, err := c.client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue extract task: %w", err)
	}
	return nil
}

// EnqueueSync schedules the sync job for a record. The uniqueness window
// keeps a record from having two queued sync tasks at once.
func (c *Client) EnqueueSync(ctx context.Context, payload SyncPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sync payload: %w", err)
	}
	task := asynq.NewTask(SyncTask, data)
	_, err = c.client.EnqueueContext(ctx, task,
		// Headroom over the record budget covers lease contention retries.
		asynq.MaxRetry(c.maxAttempts+3),
		asynq.Unique(time.Minute),
	)
	if err != nil {
		return fmt.Errorf("enqueue sync task: %w", err)
	}
	return nil
}
