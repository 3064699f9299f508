package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeMimeType(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"audio/wav", "audio/wav", true},
		{"Audio/WebM; codecs=opus", "audio/webm", true},
		{"  audio/mp4 ", "audio/mp4", true},
		{"", "", false},
		{"video/mp4", "video/mp4", false},
		{"not a type;;", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeMimeType(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("NormalizeMimeType(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestValidSessionID(t *testing.T) {
	if !ValidSessionID("session_01HZX3") {
		t.Error("expected plain id to be valid")
	}
	for _, bad := range []string{"", "../etc", "a/b", "x y"} {
		if ValidSessionID(bad) {
			t.Errorf("expected %q to be invalid", bad)
		}
	}
}

func TestChunkKey(t *testing.T) {
	if got := ChunkKey("s1", 3); got != "sessions/s1/chunk_3" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestErrorClassification(t *testing.T) {
	v := fmt.Errorf("issue: %w", Invalid("chunkIndex", "must be >= 0, got %d", -1))
	if !IsValidation(v) || IsRetryable(v) {
		t.Errorf("expected validation error, got %v", v)
	}
	s := fmt.Errorf("accept: %w", &StorageError{Op: "put", Err: errors.New("disk full")})
	if !IsRetryable(s) || IsValidation(s) {
		t.Errorf("expected retryable error, got %v", s)
	}
}
