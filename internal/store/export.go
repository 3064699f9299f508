package store

import (
	"context"

	"github.com/rcliao/consult-recorder/internal/model"
	"github.com/rcliao/consult-recorder/internal/session"
)

// SessionExport is a session together with its full ledger.
type SessionExport struct {
	Session model.Session             `json:"session"`
	Chunks  []model.ChunkNotification `json:"chunks"`
}

// ExportAll returns every session with its ledger, optionally a single session.
func (s *SQLiteStore) ExportAll(ctx context.Context, sessionID string) ([]SessionExport, error) {
	var sessions []model.Session
	if sessionID != "" {
		m, err := s.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		sessions = []model.Session{*m}
	} else {
		var err error
		sessions, err = s.List(ctx, session.ListParams{})
		if err != nil {
			return nil, err
		}
	}

	out := make([]SessionExport, 0, len(sessions))
	for _, m := range sessions {
		chunks, err := s.ChunksFor(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, SessionExport{Session: m, Chunks: chunks})
	}
	return out, nil
}
