package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rcliao/consult-recorder/internal/model"
)

// MemoryLedger implements Ledger in process memory with one lock per session.
type MemoryLedger struct {
	mu       sync.Mutex
	sessions map[string]*sessionLog
}

type sessionLog struct {
	mu      sync.Mutex
	entries []model.ChunkNotification
	indices map[int]int // chunk index -> position in entries
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{sessions: make(map[string]*sessionLog)}
}

func (l *MemoryLedger) log(sessionID string) *sessionLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl, ok := l.sessions[sessionID]
	if !ok {
		sl = &sessionLog{indices: make(map[int]int)}
		l.sessions[sessionID] = sl
	}
	return sl
}

// lookup returns the session's log without creating one.
func (l *MemoryLedger) lookup(sessionID string) *sessionLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[sessionID]
}

func (l *MemoryLedger) Record(ctx context.Context, n model.ChunkNotification) (bool, error) {
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now().UTC()
	}
	sl := l.log(n.SessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if pos, ok := sl.indices[n.ChunkIndex]; ok {
		if n.IsLast && !sl.entries[pos].IsLast {
			sl.entries[pos].IsLast = true
			return true, nil
		}
		return false, nil
	}
	sl.indices[n.ChunkIndex] = len(sl.entries)
	sl.entries = append(sl.entries, n)
	return true, nil
}

func (l *MemoryLedger) ChunksFor(ctx context.Context, sessionID string) ([]model.ChunkNotification, error) {
	sl := l.lookup(sessionID)
	if sl == nil {
		return nil, nil
	}
	sl.mu.Lock()
	entries := make([]model.ChunkNotification, len(sl.entries))
	copy(entries, sl.entries)
	sl.mu.Unlock()
	return Ordered(entries), nil
}

func (l *MemoryLedger) HasTerminal(ctx context.Context, sessionID string) (bool, error) {
	sl := l.lookup(sessionID)
	if sl == nil {
		return false, nil
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	for _, e := range sl.entries {
		if e.IsLast {
			return true, nil
		}
	}
	return false, nil
}
