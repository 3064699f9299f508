package model

import (
	"fmt"
	"mime"
	"strings"
	"time"
)

// ChunkNotification is one chunk-arrival entry in the ledger.
type ChunkNotification struct {
	ID          string    `json:"id,omitempty"`
	SessionID   string    `json:"session_id"`
	ChunkIndex  int       `json:"chunk_index"`
	IsLast      bool      `json:"is_last"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storage_path"`
	PublicURL   string    `json:"public_url,omitempty"`
	TotalChunks int       `json:"total_chunks_client,omitempty"`
	TemplateID  string    `json:"template_id,omitempty"`
	Model       string    `json:"model,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// StorageRef locates a durably stored chunk payload.
type StorageRef struct {
	SessionID  string    `json:"session_id"`
	ChunkIndex int       `json:"chunk_index"`
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	StoredAt   time.Time `json:"stored_at"`
}

// ChunkKey returns the hierarchical storage key for a chunk.
func ChunkKey(sessionID string, index int) string {
	return fmt.Sprintf("sessions/%s/chunk_%d", sessionID, index)
}

// SessionPrefix returns the storage key prefix holding all chunks of a session.
func SessionPrefix(sessionID string) string {
	return "sessions/" + sessionID + "/"
}

// Ticket binds one chunk upload to a write destination.
type Ticket struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	ChunkIndex  int       `json:"chunk_index"`
	MimeType    string    `json:"mime_type"`
	Token       string    `json:"-"`
	WriteURL    string    `json:"url"`
	ReadURL     string    `json:"public_url"`
	StoragePath string    `json:"storage_path"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ValidMimeTypes are the audio media types a recorder may upload.
var ValidMimeTypes = map[string]bool{
	"audio/wav":    true,
	"audio/x-wav":  true,
	"audio/wave":   true,
	"audio/webm":   true,
	"audio/ogg":    true,
	"audio/mpeg":   true,
	"audio/mp4":    true,
	"audio/m4a":    true,
	"audio/x-m4a":  true,
	"audio/aac":    true,
	"audio/flac":   true,
	"audio/3gpp":   true,
	"audio/pcm":    true,
	"audio/l16":    true,
	"audio/opus":   true,
	"audio/amr":    true,
	"audio/x-flac": true,
}

// NormalizeMimeType strips parameters (e.g. codecs) and lower-cases the media type.
// The second return is false when the type is empty or not an accepted audio type.
func NormalizeMimeType(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		return "", false
	}
	mt = strings.ToLower(mt)
	return mt, ValidMimeTypes[mt]
}

// TranscriptionJob hands a completed session's ordered chunks to the engine.
type TranscriptionJob struct {
	SessionID string              `json:"session_id"`
	Chunks    []ChunkNotification `json:"chunks"`
}
