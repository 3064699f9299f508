// Package ledger records chunk-arrival notifications per session.
//
// The ledger is append-only and keyed by (session, chunk index): the first
// notification for an index is kept and later duplicates are acknowledged
// without being appended, so replaying a notification never changes what
// readers or the session state machine observe. The one exception is the
// terminal flag: a duplicate carrying isLast marks the stored entry terminal.
package ledger

import (
	"context"
	"sort"

	"github.com/rcliao/consult-recorder/internal/model"
)

// Ledger defines the chunk notification log.
type Ledger interface {
	// Record appends n. When the index was already recorded only a terminal
	// flag on n is applied; appended is false if that changed nothing.
	Record(ctx context.Context, n model.ChunkNotification) (appended bool, err error)

	// ChunksFor returns the session's notifications in ascending chunk index order.
	ChunksFor(ctx context.Context, sessionID string) ([]model.ChunkNotification, error)

	// HasTerminal reports whether any notification for the session carried the terminal flag.
	HasTerminal(ctx context.Context, sessionID string) (bool, error)
}

// Snapshot is the order-independent view of a session's ledger that the
// state machine evaluates.
type Snapshot struct {
	// Indices are the distinct recorded chunk indices, ascending.
	Indices []int
	// Terminal is the smallest index flagged terminal, or -1.
	Terminal int
}

// NewSnapshot builds a Snapshot from notifications in any order.
func NewSnapshot(chunks []model.ChunkNotification) Snapshot {
	seen := make(map[int]bool, len(chunks))
	snap := Snapshot{Terminal: -1}
	for _, c := range chunks {
		if !seen[c.ChunkIndex] {
			seen[c.ChunkIndex] = true
			snap.Indices = append(snap.Indices, c.ChunkIndex)
		}
		if c.IsLast && (snap.Terminal < 0 || c.ChunkIndex < snap.Terminal) {
			snap.Terminal = c.ChunkIndex
		}
	}
	sort.Ints(snap.Indices)
	return snap
}

// Empty reports whether nothing has been recorded.
func (s Snapshot) Empty() bool { return len(s.Indices) == 0 }

// HasTerminal reports whether a terminal chunk was recorded.
func (s Snapshot) HasTerminal() bool { return s.Terminal >= 0 }

// Missing returns the indices in 0..Terminal with no notification.
// Without a terminal chunk it reports gaps below the highest index seen.
func (s Snapshot) Missing() []int {
	last := s.Terminal
	if last < 0 {
		if len(s.Indices) == 0 {
			return nil
		}
		last = s.Indices[len(s.Indices)-1]
	}
	var missing []int
	j := 0
	for i := 0; i <= last; i++ {
		for j < len(s.Indices) && s.Indices[j] < i {
			j++
		}
		if j >= len(s.Indices) || s.Indices[j] != i {
			missing = append(missing, i)
		}
	}
	return missing
}

// Complete reports whether a terminal chunk was recorded and every index
// from 0 through it is present.
func (s Snapshot) Complete() bool {
	return s.HasTerminal() && len(s.Missing()) == 0
}

// ContiguousPrefix returns the length k such that indices 0..k-1 are all present.
func (s Snapshot) ContiguousPrefix() int {
	k := 0
	for _, i := range s.Indices {
		if i != k {
			break
		}
		k++
	}
	return k
}

// Playable returns how many chunks from index 0 form the audio reference:
// the contiguous prefix, capped at the terminal chunk.
func (s Snapshot) Playable() int {
	k := s.ContiguousPrefix()
	if s.HasTerminal() && k > s.Terminal+1 {
		k = s.Terminal + 1
	}
	return k
}

// InRange reports whether index belongs to the recording, i.e. it is not
// above the terminal chunk.
func (s Snapshot) InRange(index int) bool {
	return !s.HasTerminal() || index <= s.Terminal
}

// Ordered sorts notifications by chunk index and drops duplicate indices,
// keeping the earliest received.
func Ordered(chunks []model.ChunkNotification) []model.ChunkNotification {
	out := make([]model.ChunkNotification, len(chunks))
	copy(out, chunks)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	deduped := out[:0]
	for _, c := range out {
		if len(deduped) > 0 && deduped[len(deduped)-1].ChunkIndex == c.ChunkIndex {
			continue
		}
		deduped = append(deduped, c)
	}
	return deduped
}
