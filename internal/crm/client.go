// Package crm talks to the external CRM system. Every push outcome is
// classified as success, retryable failure, or fatal failure so the sync
// engine can decide whether another attempt is worth scheduling.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/recruitly/cvsync/internal/model"
)

// Payload is the structured candidate record delivered to the CRM.
type Payload struct {
	CandidateID   string    `json:"candidateId"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	CvFileName    string    `json:"cvFileName"`
	CvUploadedAt  time.Time `json:"cvUploadedAt"`
	ExtractedText string    `json:"extractedText,omitempty"`
}

// NewPayload builds the push payload from a profile and a CV record.
// Extraction is best effort: a record without extracted text still syncs.
func NewPayload(profile *model.CandidateProfile, rec *model.CvHistory) Payload {
	p := Payload{
		CandidateID:  profile.ID,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		Email:        profile.Email,
		Phone:        profile.Phone,
		CvFileName:   rec.FileName,
		CvUploadedAt: rec.UploadedAt,
	}
	if rec.ExtractedText != nil {
		p.ExtractedText = *rec.ExtractedText
	}
	return p
}

// Client pushes candidate records to the CRM.
type Client interface {
	Push(ctx context.Context, payload Payload) (string, error)
}

// Error is a classified CRM failure. Message is safe to surface to operators;
// raw response bodies never leave this package.
type Error struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("crm push failed (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether another attempt against the CRM could succeed.
// Unclassified errors (network failures, timeouts) count as retryable.
func Retryable(err error) bool {
	var crmErr *Error
	if errors.As(err, &crmErr) {
		return crmErr.Retryable
	}
	return true
}

// HTTPClient implements Client against the CRM's REST endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPClient constructs an HTTPClient. Each push attempt is bounded by the
// given timeout; timing out is classified retryable.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{},
	}
}

type pushResponse struct {
	ID string `json:"id"`
}

// Push delivers the payload and returns the CRM record identifier.
func (c *HTTPClient) Push(ctx context.Context, payload Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/candidates", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		// Transport-level failures (refused, DNS, deadline) are retryable.
		return "", fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed pushResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		return parsed.ID, nil
	}
	return "", classifyStatus(resp.StatusCode, resp.Body)
}

// classifyStatus maps an HTTP status to a classified Error. 5xx plus the two
// transient 4xx codes (request timeout, too many requests) are retryable;
// every other 4xx means the CRM rejected the payload itself.
func classifyStatus(status int, body io.Reader) *Error {
	retryable := status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
	return &Error{
		StatusCode: status,
		Message:    summarizeBody(body),
		Retryable:  retryable,
	}
}

// summarizeBody extracts a short human-readable cause without leaking the
// CRM's full error payload.
func summarizeBody(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 512))
	if err != nil || len(raw) == 0 {
		return "no detail provided"
	}
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
