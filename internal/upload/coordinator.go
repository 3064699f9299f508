// Package upload issues per-chunk upload tickets and routes accepted byte
// streams into the chunk store.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/consult-recorder/internal/chunkstore"
	"github.com/rcliao/consult-recorder/internal/metrics"
	"github.com/rcliao/consult-recorder/internal/model"
)

// Sessions is the part of the session manager the coordinator depends on.
type Sessions interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Notify(ctx context.Context, n model.ChunkNotification) (*model.Session, bool, error)
}

// Config holds coordinator settings.
type Config struct {
	// PublicBaseURL prefixes write and read destinations, e.g. "https://rec.example.com".
	PublicBaseURL string
	TicketTTL     time.Duration
}

// Coordinator mints tickets, accepts uploads and forwards arrival notices.
type Coordinator struct {
	store    chunkstore.Store
	sessions Sessions
	signer   *TicketSigner
	registry *Registry
	cfg      Config
	now      func() time.Time
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(store chunkstore.Store, sessions Sessions, signer *TicketSigner, cfg Config) *Coordinator {
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = 15 * time.Minute
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Coordinator{
		store:    store,
		sessions: sessions,
		signer:   signer,
		registry: NewRegistry(),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IssueTicket binds (sessionID, index) to a write destination and returns it
// together with the read destination playback consumers will use.
func (c *Coordinator) IssueTicket(ctx context.Context, sessionID string, index int, mimeType string) (*model.Ticket, error) {
	if !model.ValidSessionID(sessionID) {
		return nil, model.Invalid("sessionId", "required")
	}
	if index < 0 {
		return nil, model.Invalid("chunkIndex", "must be non-negative, got %d", index)
	}
	if strings.TrimSpace(mimeType) == "" {
		return nil, model.Invalid("mimeType", "required")
	}
	mt, ok := model.NormalizeMimeType(mimeType)
	if !ok {
		return nil, model.Invalid("mimeType", "unsupported audio type %q", mimeType)
	}
	if _, err := c.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	now := c.now()
	t := &model.Ticket{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ChunkIndex:  index,
		MimeType:    mt,
		StoragePath: model.ChunkKey(sessionID, index),
		ExpiresAt:   now.Add(c.cfg.TicketTTL),
	}
	token, err := c.signer.Sign(t)
	if err != nil {
		return nil, err
	}
	t.Token = token
	t.WriteURL = c.cfg.PublicBaseURL + "/api/v1/uploads/" + token
	t.ReadURL, err = c.readURL(ctx, sessionID, index)
	if err != nil {
		return nil, err
	}
	c.registry.Add(t.ID, t.ExpiresAt, now)

	metrics.TicketsIssued.Inc()
	logrus.WithFields(logrus.Fields{"session": sessionID, "chunk": index, "ticket": t.ID}).Debug("ticket issued")
	return t, nil
}

// ReadURL returns the read destination of a chunk.
func (c *Coordinator) ReadURL(ctx context.Context, sessionID string, index int) (string, error) {
	return c.readURL(ctx, sessionID, index)
}

func (c *Coordinator) readURL(ctx context.Context, sessionID string, index int) (string, error) {
	if r, ok := c.store.(chunkstore.ReadURLer); ok {
		u, err := r.ReadURL(ctx, model.ChunkKey(sessionID, index))
		if err != nil {
			return "", &model.StorageError{Op: "presign", Err: err}
		}
		return u, nil
	}
	return fmt.Sprintf("%s/api/v1/sessions/%s/chunks/%d", c.cfg.PublicBaseURL, sessionID, index), nil
}

// Accept streams r into the chunk store under the ticket's destination.
// expectedLen is the declared body length, or -1 when unknown; a body that
// ends early counts as an aborted stream. Any write failure leaves nothing
// stored and returns a retryable *model.StorageError.
func (c *Coordinator) Accept(ctx context.Context, token string, r io.Reader, expectedLen int64) (model.StorageRef, error) {
	t, err := c.signer.Verify(token)
	if err != nil {
		metrics.ChunkWrites.WithLabelValues("rejected").Inc()
		return model.StorageRef{}, err
	}
	if err := c.registry.Acquire(t.ID, c.now()); err != nil {
		metrics.ChunkWrites.WithLabelValues("rejected").Inc()
		return model.StorageRef{}, err
	}
	log := logrus.WithFields(logrus.Fields{"session": t.SessionID, "chunk": t.ChunkIndex, "ticket": t.ID})

	body := r
	if expectedLen >= 0 {
		body = &lengthReader{r: r, remaining: expectedLen}
	}
	start := time.Now()
	ref, err := c.store.Put(ctx, t.SessionID, t.ChunkIndex, t.MimeType, body)
	if err != nil {
		c.registry.Release(t.ID)
		metrics.ChunkWrites.WithLabelValues("failed").Inc()
		log.WithError(err).Warn("chunk write aborted")
		if model.IsRetryable(err) {
			return model.StorageRef{}, err
		}
		return model.StorageRef{}, &model.StorageError{Op: "write", Err: err}
	}
	c.registry.MarkUsed(t.ID)

	metrics.ChunkWrites.WithLabelValues("stored").Inc()
	metrics.ChunkBytes.Add(float64(ref.Size))
	metrics.ChunkWriteDuration.Observe(time.Since(start).Seconds())
	log.WithField("size", ref.Size).Info("chunk stored")
	return ref, nil
}

// NotifyArrival records a chunk-arrival notification and advances the
// session. The chunk must already be durable in the store; otherwise
// model.ErrChunkNotDurable is returned and nothing is recorded.
func (c *Coordinator) NotifyArrival(ctx context.Context, n model.ChunkNotification) (*model.Session, error) {
	if !model.ValidSessionID(n.SessionID) {
		return nil, model.Invalid("sessionId", "required")
	}
	if n.ChunkIndex < 0 {
		return nil, model.Invalid("chunkIndex", "must be non-negative, got %d", n.ChunkIndex)
	}
	if _, err := c.sessions.Get(ctx, n.SessionID); err != nil {
		metrics.Notifications.WithLabelValues("rejected").Inc()
		return nil, err
	}

	ref, err := c.store.Stat(ctx, n.SessionID, n.ChunkIndex)
	if err != nil {
		metrics.Notifications.WithLabelValues("rejected").Inc()
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", model.ErrChunkNotDurable, model.ChunkKey(n.SessionID, n.ChunkIndex))
		}
		return nil, &model.StorageError{Op: "stat", Err: err}
	}
	n.Size = ref.Size
	n.StoragePath = ref.Key
	if mt, ok := model.NormalizeMimeType(n.MimeType); ok {
		n.MimeType = mt
	}
	if n.PublicURL == "" {
		if u, err := c.readURL(ctx, n.SessionID, n.ChunkIndex); err == nil {
			n.PublicURL = u
		}
	}
	n.ReceivedAt = c.now()

	s, appended, err := c.sessions.Notify(ctx, n)
	if err != nil {
		metrics.Notifications.WithLabelValues("rejected").Inc()
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"session": n.SessionID, "chunk": n.ChunkIndex, "status": s.Status})
	if !appended {
		metrics.Notifications.WithLabelValues("duplicate").Inc()
		log.Debug("duplicate chunk notification")
		return s, nil
	}
	metrics.Notifications.WithLabelValues("recorded").Inc()
	log.WithField("last", n.IsLast).Debug("chunk notification recorded")
	return s, nil
}

// lengthReader turns an early EOF into io.ErrUnexpectedEOF.
type lengthReader struct {
	r         io.Reader
	remaining int64
}

func (l *lengthReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if err == io.EOF && l.remaining > 0 {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}
