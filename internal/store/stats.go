package store

import (
	"context"
	"fmt"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath           string        `json:"db_path"`
	DBSizeBytes      int64         `json:"db_size_bytes"`
	TotalSessions    int           `json:"total_sessions"`
	LedgerEntries    int           `json:"ledger_entries"`
	TerminalSessions int           `json:"terminal_sessions"`
	Statuses         []StatusStats `json:"statuses"`
}

// StatusStats holds per-status session counts.
type StatusStats struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM sessions`, &st.TotalSessions},
		{`SELECT COUNT(*) FROM chunk_notifications`, &st.LedgerEntries},
		{`SELECT COUNT(DISTINCT session_id) FROM chunk_notifications WHERE is_last = 1`, &st.TerminalSessions},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return st, fmt.Errorf("count: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) as cnt
		FROM sessions
		GROUP BY status ORDER BY cnt DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ss StatusStats
		if err := rows.Scan(&ss.Status, &ss.Count); err != nil {
			return st, err
		}
		st.Statuses = append(st.Statuses, ss)
	}

	return st, rows.Err()
}
