// Package session owns the recording session lifecycle.
//
// Every transition is computed by Next or Expire from the current status and
// a ledger snapshot. The Manager serializes all reads and writes of one
// session behind a per-session lock; different sessions never contend.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/consult-recorder/internal/ledger"
	"github.com/rcliao/consult-recorder/internal/metrics"
	"github.com/rcliao/consult-recorder/internal/model"
)

// Transcriber accepts completed sessions for asynchronous transcription.
// Submit must not block on the transcription itself.
type Transcriber interface {
	Submit(job model.TranscriptionJob) error
}

// Policy bounds how long a session may wait in finalizing for late chunks.
type Policy struct {
	FinalizeTimeout time.Duration
	SweepInterval   time.Duration
}

// DefaultPolicy returns the default finalize policy.
func DefaultPolicy() Policy {
	return Policy{
		FinalizeTimeout: 2 * time.Minute,
		SweepInterval:   10 * time.Second,
	}
}

// OpenParams holds parameters for opening a session.
type OpenParams struct {
	UserID       string
	PatientID    string
	PatientName  string
	TemplateID   string
	ClientStatus string
	StartTime    *time.Time
}

// Manager drives session state from ledger events.
type Manager struct {
	repo        Repository
	ledger      ledger.Ledger
	transcriber Transcriber
	policy      Policy
	locks       *keyedMutex
	now         func() time.Time
}

// NewManager wires a Manager. transcriber may be nil until SetTranscriber.
func NewManager(repo Repository, l ledger.Ledger, transcriber Transcriber, policy Policy) *Manager {
	if policy.FinalizeTimeout <= 0 {
		policy.FinalizeTimeout = DefaultPolicy().FinalizeTimeout
	}
	if policy.SweepInterval <= 0 {
		policy.SweepInterval = DefaultPolicy().SweepInterval
	}
	return &Manager{
		repo:        repo,
		ledger:      l,
		transcriber: transcriber,
		policy:      policy,
		locks:       newKeyedMutex(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetTranscriber sets the hand-off target for completed sessions.
func (m *Manager) SetTranscriber(t Transcriber) {
	m.transcriber = t
}

// Open creates a session in the created state.
func (m *Manager) Open(ctx context.Context, p OpenParams) (*model.Session, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, model.Invalid("userId", "required")
	}
	if strings.TrimSpace(p.PatientID) == "" {
		return nil, model.Invalid("patientId", "required")
	}
	now := m.now()
	s := &model.Session{
		ID:               "session_" + ulid.Make().String(),
		UserID:           p.UserID,
		PatientID:        p.PatientID,
		PatientName:      p.PatientName,
		TemplateID:       p.TemplateID,
		Title:            "Initial Consultation",
		ClientStatus:     p.ClientStatus,
		Status:           model.StatusCreated,
		TranscriptStatus: model.TranscriptPending,
		CreatedAt:        now,
		StartTime:        p.StartTime,
		UpdatedAt:        now,
	}
	if s.StartTime == nil {
		s.StartTime = &now
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	logrus.WithFields(logrus.Fields{"session": s.ID, "patient": s.PatientID}).Info("session opened")
	return s, nil
}

// Get returns a session.
func (m *Manager) Get(ctx context.Context, id string) (*model.Session, error) {
	return m.repo.Get(ctx, id)
}

// List lists sessions.
func (m *Manager) List(ctx context.Context, p ListParams) ([]model.Session, error) {
	return m.repo.List(ctx, p)
}

// Chunks returns the session's ledger entries in ascending index order.
func (m *Manager) Chunks(ctx context.Context, id string) ([]model.ChunkNotification, error) {
	return m.ledger.ChunksFor(ctx, id)
}

// Notify records a chunk arrival and advances the session. appended is false
// for a duplicate notification, which leaves state unchanged.
func (m *Manager) Notify(ctx context.Context, n model.ChunkNotification) (s *model.Session, appended bool, err error) {
	unlock := m.locks.Lock(n.SessionID)
	defer unlock()

	s, err = m.repo.Get(ctx, n.SessionID)
	if err != nil {
		return nil, false, err
	}
	appended, err = m.ledger.Record(ctx, n)
	if err != nil {
		return nil, false, fmt.Errorf("record notification: %w", err)
	}
	if err := m.advance(ctx, s, Next); err != nil {
		return nil, appended, err
	}
	return s, appended, nil
}

// Evaluate re-applies Next to the session's current ledger snapshot.
func (m *Manager) Evaluate(ctx context.Context, id string) (*model.Session, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.advance(ctx, s, Next); err != nil {
		return nil, err
	}
	return s, nil
}

// ExpireStale fails every finalizing session whose deadline passed before now
// and is still missing chunks. It returns how many sessions changed state.
func (m *Manager) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	due, err := m.repo.DueForExpiry(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due sessions: %w", err)
	}
	changed := 0
	for _, d := range due {
		ok, err := m.expire(ctx, d.ID, now)
		if err != nil {
			logrus.WithError(err).WithField("session", d.ID).Error("expire session")
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (m *Manager) expire(ctx context.Context, id string, now time.Time) (bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	// re-checked under the lock: a late chunk may have completed it meanwhile
	if s.Status != model.StatusFinalizing || s.FinalizeDeadline == nil || s.FinalizeDeadline.After(now) {
		return false, nil
	}
	before := s.Status
	if err := m.advance(ctx, s, Expire); err != nil {
		return false, err
	}
	return s.Status != before, nil
}

// Run sweeps expired finalizing sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.policy.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logrus.Debug("finalize sweeper: shutting down")
			return
		case <-ticker.C:
			if n, err := m.ExpireStale(ctx, m.now()); err != nil {
				logrus.WithError(err).Error("finalize sweep")
			} else if n > 0 {
				logrus.WithField("expired", n).Info("finalize sweep")
			}
		}
	}
}

// OnTranscriptReady stores the engine's transcript. Only completed sessions
// accept a result.
func (m *Manager) OnTranscriptReady(ctx context.Context, id, text string) error {
	return m.setTranscript(ctx, id, model.TranscriptCompleted, text, "")
}

// OnTranscriptFailed marks the transcript as failed.
func (m *Manager) OnTranscriptFailed(ctx context.Context, id string, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return m.setTranscript(ctx, id, model.TranscriptFailed, "", reason)
}

func (m *Manager) setTranscript(ctx context.Context, id string, status model.TranscriptStatus, text, reason string) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Status != model.StatusCompleted {
		return fmt.Errorf("transcript for %s session %s: %w", s.Status, id, model.ErrSessionNotCompleted)
	}
	s.TranscriptStatus = status
	if text != "" {
		s.Transcript = text
	}
	s.UpdatedAt = m.now()
	if err := m.repo.Update(ctx, s); err != nil {
		return fmt.Errorf("update transcript: %w", err)
	}
	logrus.WithFields(logrus.Fields{"session": id, "transcript_status": status, "reason": reason}).Info("transcript updated")
	return nil
}

// advance applies step to s and persists the result. Must hold the session lock.
func (m *Manager) advance(ctx context.Context, s *model.Session, step func(model.Status, ledger.Snapshot) model.Status) error {
	chunks, err := m.ledger.ChunksFor(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	snap := ledger.NewSnapshot(chunks)
	next := step(s.Status, snap)
	if next == s.Status {
		return nil
	}

	prev := s.Status
	now := m.now()
	s.Status = next
	s.UpdatedAt = now
	switch next {
	case model.StatusFinalizing:
		deadline := now.Add(m.policy.FinalizeTimeout)
		s.FinalizeDeadline = &deadline
	case model.StatusCompleted:
		s.EndTime = &now
		s.FinalizeDeadline = nil
		s.FailureReason = ""
		s.TranscriptStatus = model.TranscriptPending
	case model.StatusFailed:
		s.EndTime = &now
		s.FinalizeDeadline = nil
		s.FailureReason = fmt.Sprintf("incomplete: missing chunks %v", snap.Missing())
	}
	if err := m.repo.Update(ctx, s); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	metrics.Transitions.WithLabelValues(string(next)).Inc()
	logrus.WithFields(logrus.Fields{
		"session": s.ID,
		"from":    prev,
		"status":  next,
		"chunks":  len(snap.Indices),
	}).Info("session transition")

	if next == model.StatusCompleted {
		m.handOff(ctx, s, chunks, snap.Terminal)
	}
	return nil
}

func (m *Manager) handOff(ctx context.Context, s *model.Session, chunks []model.ChunkNotification, terminal int) {
	if m.transcriber == nil {
		return
	}
	job := model.TranscriptionJob{SessionID: s.ID}
	for _, c := range ledger.Ordered(chunks) {
		if c.ChunkIndex > terminal {
			break
		}
		job.Chunks = append(job.Chunks, c)
	}
	if err := m.transcriber.Submit(job); err != nil {
		metrics.Transcriptions.WithLabelValues("dropped").Inc()
		logrus.WithError(err).WithField("session", s.ID).Warn("transcription hand-off failed")
		s.TranscriptStatus = model.TranscriptFailed
		if err := m.repo.Update(ctx, s); err != nil {
			logrus.WithError(err).WithField("session", s.ID).Error("update transcript status")
		}
		return
	}
	metrics.Transcriptions.WithLabelValues("submitted").Inc()
}
