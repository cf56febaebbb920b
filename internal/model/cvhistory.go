// Package model contains the entities shared across the pipeline packages.
package model

import (
	"time"
)

// SyncStatus describes the CRM synchronization lifecycle of a CV submission.
// The set is closed: a record is always in exactly one of the three states.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// MIME types accepted by the intake validator and understood by the extractor.
const (
	MIMEPDF         = "application/pdf"
	MIMEWordLegacy  = "application/msword"
	MIMEWordOpenXML = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// CvHistory is one CV submission event for a candidate. It is created in
// pending status right after intake and mutated only by the sync engine
// (status/date/attempts/error) and the extractor (extracted text).
type CvHistory struct {
	ID          string `json:"id"`
	CandidateID string `json:"candidateId"`
	FileName    string `json:"fileName"`
	// StoredName is the storage object key; not exposed to callers.
	StoredName    string     `json:"-"`
	MIMEType      string     `json:"mimeType"`
	SizeBytes     int64      `json:"sizeBytes"`
	UploadedAt    time.Time  `json:"uploadedAt"`
	ExtractedText *string    `json:"-"`
	SyncStatus    SyncStatus `json:"crmSyncStatus"`
	// SyncDate is set exactly when the record transitions to synced.
	SyncDate  *time.Time `json:"crmSyncDate,omitempty"`
	Attempts  int        `json:"attempts"`
	LastError *string    `json:"lastError,omitempty"`
	// Version guards sync-field updates against stale writers.
	Version   int64     `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CandidateProfile carries the profile fields the CRM payload needs.
type CandidateProfile struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}
