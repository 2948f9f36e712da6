// Package model defines the core types shared across the processing pipeline.
package model

import "time"

// Status is the lifecycle state of an email within one pipeline run.
type Status string

// Lifecycle states. An email moves pending → processing → completed|failed
// and never regresses within a run; an external requeue may reset it to
// pending.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Email is a newsletter email queued for mention extraction.
type Email struct {
	ID      string `json:"id" db:"id"`
	UserID  string `json:"user_id" db:"user_id"`
	Subject string `json:"subject,omitempty" db:"subject"`

	// Content is the pre-cleaned plain-text body; RawContent is the original
	// HTML, used as a fallback when Content is absent.
	Content    string `json:"content,omitempty" db:"content"`
	RawContent string `json:"raw_content,omitempty" db:"raw_content"`

	// The two status columns are kept in lockstep by the pipeline.
	ProcessingStatus Status `json:"processing_status" db:"processing_status"`
	ExtractionStatus Status `json:"extraction_status" db:"extraction_status"`

	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ExtractedCount int        `json:"extracted_count" db:"extracted_count"`
	LastError      *string    `json:"last_error,omitempty" db:"last_error"`

	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// StatusUpdate is a partial update applied to an email's lifecycle fields.
// Nil fields are left untouched; ClearError resets last_error to NULL.
type StatusUpdate struct {
	ProcessingStatus Status
	ExtractionStatus Status
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ExtractedCount   *int
	LastError        *string
	ClearError       bool
}
