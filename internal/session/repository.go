package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/consult-recorder/internal/model"
)

// ListParams holds filters for listing sessions.
type ListParams struct {
	UserID    string
	PatientID string
	Status    model.Status
	Limit     int
}

// Repository persists session records. Only the Manager mutates them.
type Repository interface {
	// Create stores a new session.
	Create(ctx context.Context, s *model.Session) error

	// Get returns a session or model.ErrSessionNotFound.
	Get(ctx context.Context, id string) (*model.Session, error)

	// Update overwrites the mutable fields of an existing session.
	Update(ctx context.Context, s *model.Session) error

	// List returns sessions matching p, newest first.
	List(ctx context.Context, p ListParams) ([]model.Session, error)

	// DueForExpiry returns finalizing sessions whose deadline is at or before now.
	DueForExpiry(ctx context.Context, now time.Time) ([]model.Session, error)
}

// MemoryRepository implements Repository in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]model.Session)}
}

func (r *MemoryRepository) Create(ctx context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) Update(ctx context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return model.ErrSessionNotFound
	}
	r.sessions[s.ID] = *s
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, p ListParams) ([]model.Session, error) {
	r.mu.RLock()
	var out []model.Session
	for _, s := range r.sessions {
		if p.UserID != "" && s.UserID != p.UserID {
			continue
		}
		if p.PatientID != "" && s.PatientID != p.PatientID {
			continue
		}
		if p.Status != "" && s.Status != p.Status {
			continue
		}
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) DueForExpiry(ctx context.Context, now time.Time) ([]model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Session
	for _, s := range r.sessions {
		if s.Status == model.StatusFinalizing && s.FinalizeDeadline != nil && !s.FinalizeDeadline.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}
