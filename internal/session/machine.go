package session

import (
	"github.com/rcliao/consult-recorder/internal/ledger"
	"github.com/rcliao/consult-recorder/internal/model"
)

// Next computes the lifecycle state implied by the ledger snapshot.
// completed and failed are sticky.
func Next(cur model.Status, snap ledger.Snapshot) model.Status {
	if cur.Terminal() {
		return cur
	}
	switch {
	case snap.Empty():
		return model.StatusCreated
	case !snap.HasTerminal():
		return model.StatusRecording
	case snap.Complete():
		return model.StatusCompleted
	default:
		return model.StatusFinalizing
	}
}

// Expire is Next applied once the finalize wait has run out: a session still
// missing chunks below its terminal index fails instead of waiting longer.
func Expire(cur model.Status, snap ledger.Snapshot) model.Status {
	next := Next(cur, snap)
	if next == model.StatusFinalizing {
		return model.StatusFailed
	}
	return next
}
