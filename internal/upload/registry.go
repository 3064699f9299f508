package upload

import (
	"sync"
	"time"

	"github.com/rcliao/consult-recorder/internal/model"
)

type ticketState int

const (
	ticketOpen ticketState = iota
	ticketInFlight
	ticketUsed
)

type registryEntry struct {
	state     ticketState
	expiresAt time.Time
}

// Registry tracks issued tickets so each authorizes at most one completed
// write. A failed write releases the ticket for a retry.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*registryEntry
	lastPrune time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Add registers a freshly issued ticket.
func (r *Registry) Add(id string, expiresAt, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(now)
	r.entries[id] = &registryEntry{expiresAt: expiresAt}
}

// Acquire claims the ticket for one write attempt.
func (r *Registry) Acquire(id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return model.ErrTicketInvalid
	}
	if !now.Before(e.expiresAt) {
		return model.ErrTicketExpired
	}
	switch e.state {
	case ticketUsed:
		return model.ErrTicketUsed
	case ticketInFlight:
		return model.ErrTicketInFlight
	}
	e.state = ticketInFlight
	return nil
}

// Release returns an in-flight ticket to the open state after a failed write.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok && e.state == ticketInFlight {
		e.state = ticketOpen
	}
}

// MarkUsed records that the ticket authorized a committed write.
func (r *Registry) MarkUsed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.state = ticketUsed
	}
}

// Len returns the number of tracked tickets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// pruneLocked drops expired tickets at most once a minute.
func (r *Registry) pruneLocked(now time.Time) {
	if now.Sub(r.lastPrune) < time.Minute {
		return
	}
	r.lastPrune = now
	for id, e := range r.entries {
		if !now.Before(e.expiresAt) && e.state != ticketInFlight {
			delete(r.entries, id)
		}
	}
}
