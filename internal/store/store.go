// Package store provides the SQLite-backed durable chunk ledger and session repository.
package store

import (
	"github.com/rcliao/consult-recorder/internal/ledger"
	"github.com/rcliao/consult-recorder/internal/session"
)

// State is the durable state backend: one ledger and one session repository.
type State interface {
	ledger.Ledger
	session.Repository

	// Close closes the store.
	Close() error
}

var _ State = (*SQLiteStore)(nil)

// memoryState keeps the ledger and sessions in process memory.
type memoryState struct {
	*ledger.MemoryLedger
	*session.MemoryRepository
}

func (memoryState) Close() error { return nil }

// NewMemoryState returns a State that lives only as long as the process.
func NewMemoryState() State {
	return memoryState{
		MemoryLedger:     ledger.NewMemoryLedger(),
		MemoryRepository: session.NewMemoryRepository(),
	}
}
