package transcribe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/consult-recorder/internal/metrics"
	"github.com/rcliao/consult-recorder/internal/model"
)

// ErrQueueFull is returned by Submit when the dispatcher cannot accept more work.
var ErrQueueFull = errors.New("transcription queue full")

// Sink receives engine results.
type Sink interface {
	OnTranscriptReady(ctx context.Context, sessionID, text string) error
	OnTranscriptFailed(ctx context.Context, sessionID string, cause error) error
}

// Dispatcher runs transcription jobs on a fixed pool of workers so that the
// session state machine never waits on the engine.
type Dispatcher struct {
	engine  Engine
	jobs    chan model.TranscriptionJob
	workers int
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given pool size and queue depth.
func NewDispatcher(engine Engine, workers, queue int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Dispatcher{
		engine:  engine,
		jobs:    make(chan model.TranscriptionJob, queue),
		workers: workers,
		timeout: timeout,
	}
}

// Submit enqueues job without blocking.
func (d *Dispatcher) Submit(job model.TranscriptionJob) error {
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the workers. They exit when ctx is done.
func (d *Dispatcher) Start(ctx context.Context, sink Sink) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.work(ctx, id, sink)
		}(i)
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, id int, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			logrus.WithField("worker", id).Debug("transcription worker: shutting down")
			return
		case job := <-d.jobs:
			d.run(ctx, job, sink)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, job model.TranscriptionJob, sink Sink) {
	jobCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	log := logrus.WithField("session", job.SessionID)
	text, err := d.engine.Transcribe(jobCtx, job)
	switch {
	case errors.Is(err, ErrDeferred):
		return
	case err != nil:
		metrics.Transcriptions.WithLabelValues("failed").Inc()
		log.WithError(err).Warn("transcription failed")
		if err := sink.OnTranscriptFailed(ctx, job.SessionID, err); err != nil {
			log.WithError(err).Error("record transcript failure")
		}
	default:
		metrics.Transcriptions.WithLabelValues("completed").Inc()
		if err := sink.OnTranscriptReady(ctx, job.SessionID, text); err != nil {
			log.WithError(err).Error("record transcript")
		}
	}
}
