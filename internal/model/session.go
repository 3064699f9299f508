// Package model defines the core recording session and chunk types.
package model

import (
	"regexp"
	"time"
)

// Status is the lifecycle state of a recording session.
type Status string

const (
	StatusCreated    Status = "created"
	StatusRecording  Status = "recording"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ValidStatuses are the allowed lifecycle states.
var ValidStatuses = map[Status]bool{
	StatusCreated:    true,
	StatusRecording:  true,
	StatusFinalizing: true,
	StatusCompleted:  true,
	StatusFailed:     true,
}

// TranscriptStatus tracks the external transcription hand-off.
type TranscriptStatus string

const (
	TranscriptPending   TranscriptStatus = "pending"
	TranscriptCompleted TranscriptStatus = "completed"
	TranscriptFailed    TranscriptStatus = "failed"
)

// ValidTranscriptStatuses are the allowed transcript states.
var ValidTranscriptStatuses = map[TranscriptStatus]bool{
	TranscriptPending:   true,
	TranscriptCompleted: true,
	TranscriptFailed:    true,
}

// Session represents one recorded consultation.
type Session struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	PatientID        string           `json:"patient_id"`
	PatientName      string           `json:"patient_name,omitempty"`
	TemplateID       string           `json:"template_id,omitempty"`
	Title            string           `json:"session_title,omitempty"`
	Summary          string           `json:"session_summary,omitempty"`
	ClientStatus     string           `json:"client_status,omitempty"`
	Status           Status           `json:"status"`
	TranscriptStatus TranscriptStatus `json:"transcript_status"`
	Transcript       string           `json:"transcript,omitempty"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	StartTime        *time.Time       `json:"start_time,omitempty"`
	EndTime          *time.Time       `json:"end_time,omitempty"`
	FinalizeDeadline *time.Time       `json:"finalize_deadline,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidSessionID reports whether id is safe to use as a storage namespace.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
