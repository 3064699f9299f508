package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a stored chunk does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTicketInvalid is returned for a malformed or forged ticket token.
	ErrTicketInvalid = errors.New("invalid upload ticket")
	// ErrTicketExpired is returned once a ticket outlives its ttl.
	ErrTicketExpired = errors.New("upload ticket expired")
	// ErrTicketUsed is returned when a ticket already authorized a completed write.
	ErrTicketUsed = errors.New("upload ticket already used")
	// ErrTicketInFlight is returned while another upload holds the same ticket.
	ErrTicketInFlight = errors.New("upload ticket in use")
	// ErrChunkNotDurable is returned when a notification names a chunk the store does not hold.
	ErrChunkNotDurable = errors.New("chunk not durably stored")
	// ErrSessionNotCompleted is returned for a transcript result on a session
	// that was never handed off for transcription.
	ErrSessionNotCompleted = errors.New("session not completed")
)

// ValidationError is a malformed request rejected before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid returns a ValidationError for field.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StorageError is a failed or aborted chunk write. The caller may retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Retryable is always true: nothing was committed.
func (e *StorageError) Retryable() bool { return true }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRetryable reports whether err is a transient storage failure.
func IsRetryable(err error) bool {
	var s *StorageError
	return errors.As(err, &s)
}
