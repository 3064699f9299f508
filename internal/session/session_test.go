package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rcliao/consult-recorder/internal/ledger"
	"github.com/rcliao/consult-recorder/internal/model"
)

type fakeTranscriber struct {
	mu   sync.Mutex
	jobs []model.TranscriptionJob
	err  error
}

func (f *fakeTranscriber) Submit(job model.TranscriptionJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeTranscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *fakeTranscriber, *clock) {
	t.Helper()
	tr := &fakeTranscriber{}
	clk := &clock{t: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)}
	m := NewManager(NewMemoryRepository(), ledger.NewMemoryLedger(), tr, Policy{
		FinalizeTimeout: time.Minute,
		SweepInterval:   time.Second,
	})
	m.now = clk.now
	return m, tr, clk
}

func openSession(t *testing.T, m *Manager) *model.Session {
	t.Helper()
	s, err := m.Open(context.Background(), OpenParams{UserID: "user_123", PatientID: "patient_123"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func chunk(session string, index int, last bool) model.ChunkNotification {
	return model.ChunkNotification{
		SessionID:   session,
		ChunkIndex:  index,
		IsLast:      last,
		MimeType:    "audio/wav",
		StoragePath: model.ChunkKey(session, index),
	}
}

func notify(t *testing.T, m *Manager, n model.ChunkNotification) *model.Session {
	t.Helper()
	s, _, err := m.Notify(context.Background(), n)
	if err != nil {
		t.Fatalf("notify %d: %v", n.ChunkIndex, err)
	}
	return s
}

func TestNext(t *testing.T) {
	snap := func(last int, idx ...int) ledger.Snapshot {
		var cs []model.ChunkNotification
		for _, i := range idx {
			cs = append(cs, chunk("s", i, i == last))
		}
		return ledger.NewSnapshot(cs)
	}
	tests := []struct {
		name string
		cur  model.Status
		snap ledger.Snapshot
		want model.Status
	}{
		{"no chunks", model.StatusCreated, snap(-1), model.StatusCreated},
		{"first chunk", model.StatusCreated, snap(-1, 0), model.StatusRecording},
		{"out of order first chunk", model.StatusCreated, snap(-1, 2), model.StatusRecording},
		{"terminal complete", model.StatusRecording, snap(1, 0, 1), model.StatusCompleted},
		{"terminal with gap", model.StatusRecording, snap(3, 0, 1, 3), model.StatusFinalizing},
		{"gap filled", model.StatusFinalizing, snap(3, 0, 1, 2, 3), model.StatusCompleted},
		{"completed sticky", model.StatusCompleted, snap(-1, 0), model.StatusCompleted},
		{"failed sticky", model.StatusFailed, snap(1, 0, 1), model.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Next(tt.cur, tt.snap); got != tt.want {
				t.Errorf("Next(%s) = %s, want %s", tt.cur, got, tt.want)
			}
		})
	}

	if got := Expire(model.StatusFinalizing, snap(3, 0, 1, 3)); got != model.StatusFailed {
		t.Errorf("expected gapped session to expire to failed, got %s", got)
	}
	if got := Expire(model.StatusFinalizing, snap(1, 0, 1)); got != model.StatusCompleted {
		t.Errorf("expected resolved session to complete on expiry, got %s", got)
	}
	if got := Expire(model.StatusRecording, snap(-1, 0)); got != model.StatusRecording {
		t.Errorf("expected recording to be unaffected by expiry, got %s", got)
	}
}

func TestOpenValidates(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Open(context.Background(), OpenParams{PatientID: "p"})
	if !model.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	s := openSession(t, m)
	if s.Status != model.StatusCreated || s.TranscriptStatus != model.TranscriptPending {
		t.Errorf("unexpected initial state %s/%s", s.Status, s.TranscriptStatus)
	}
	if !strings.HasPrefix(s.ID, "session_") || !model.ValidSessionID(s.ID) {
		t.Errorf("unexpected id %q", s.ID)
	}
}

func TestScenarioRecordingThenCompleted(t *testing.T) {
	m, tr, _ := newTestManager(t)
	s := openSession(t, m)

	got := notify(t, m, chunk(s.ID, 0, false))
	if got.Status != model.StatusRecording {
		t.Fatalf("expected recording, got %s", got.Status)
	}
	got = notify(t, m, chunk(s.ID, 1, true))
	if got.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.TranscriptStatus != model.TranscriptPending || got.EndTime == nil {
		t.Errorf("expected pending transcript and end time, got %+v", got)
	}
	if tr.count() != 1 {
		t.Fatalf("expected one transcription job, got %d", tr.count())
	}
	job := tr.jobs[0]
	if job.SessionID != s.ID || len(job.Chunks) != 2 || job.Chunks[0].ChunkIndex != 0 || job.Chunks[1].ChunkIndex != 1 {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestNotifyUnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, _, err := m.Notify(context.Background(), chunk("session_missing", 0, false))
	if !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	chunks, _ := m.Chunks(context.Background(), "session_missing")
	if len(chunks) != 0 {
		t.Errorf("expected no ledger entry for unknown session, got %d", len(chunks))
	}
}

func TestDuplicateNotificationIsIdempotent(t *testing.T) {
	m, tr, _ := newTestManager(t)
	s := openSession(t, m)
	ctx := context.Background()

	notify(t, m, chunk(s.ID, 0, false))
	once := notify(t, m, chunk(s.ID, 1, true))
	onceChunks, _ := m.Chunks(ctx, s.ID)

	twice, appended, err := m.Notify(ctx, chunk(s.ID, 1, true))
	if err != nil {
		t.Fatalf("duplicate notify: %v", err)
	}
	if appended {
		t.Error("expected duplicate not to be appended")
	}
	twiceChunks, _ := m.Chunks(ctx, s.ID)

	if once.Status != twice.Status || len(onceChunks) != len(twiceChunks) {
		t.Errorf("expected identical state, got %s/%d vs %s/%d", once.Status, len(onceChunks), twice.Status, len(twiceChunks))
	}
	if tr.count() != 1 {
		t.Errorf("expected a single hand-off, got %d", tr.count())
	}
}

func TestOrderIndependence(t *testing.T) {
	perms := [][]int{
		{0, 1, 2, 3},
		{2, 0, 1, 3},
		{3, 2, 1, 0},
		{1, 3, 0, 2},
		{3, 0, 2, 1},
	}
	for _, perm := range perms {
		t.Run(fmt.Sprint(perm), func(t *testing.T) {
			m, tr, _ := newTestManager(t)
			s := openSession(t, m)
			var last *model.Session
			for _, i := range perm {
				last = notify(t, m, chunk(s.ID, i, i == 3))
			}
			if last.Status != model.StatusCompleted {
				t.Fatalf("expected completed, got %s", last.Status)
			}
			chunks, _ := m.Chunks(context.Background(), s.ID)
			for i, c := range chunks {
				if c.ChunkIndex != i {
					t.Fatalf("expected ascending audio order, got %v", chunks)
				}
			}
			if tr.count() != 1 || len(tr.jobs[0].Chunks) != 4 {
				t.Errorf("expected one job with 4 chunks, got %+v", tr.jobs)
			}
		})
	}
}

func TestLateTerminalFlagCompletes(t *testing.T) {
	m, tr, _ := newTestManager(t)
	s := openSession(t, m)
	ctx := context.Background()

	notify(t, m, chunk(s.ID, 0, false))
	notify(t, m, chunk(s.ID, 1, false))

	got, appended, err := m.Notify(ctx, chunk(s.ID, 1, true))
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !appended {
		t.Error("expected the terminal flag to be recorded")
	}
	if got.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if tr.count() != 1 {
		t.Fatalf("expected one hand-off, got %d", tr.count())
	}
	if job := tr.jobs[0]; len(job.Chunks) != 2 || !job.Chunks[1].IsLast {
		t.Errorf("unexpected job %+v", job)
	}

	if _, appended, _ := m.Notify(ctx, chunk(s.ID, 1, true)); appended {
		t.Error("expected repeated terminal notification to be a no-op")
	}
	if tr.count() != 1 {
		t.Errorf("expected no second hand-off, got %d", tr.count())
	}
}

func TestGapDetectionFailsAfterTimeout(t *testing.T) {
	m, tr, clk := newTestManager(t)
	s := openSession(t, m)
	ctx := context.Background()

	notify(t, m, chunk(s.ID, 0, false))
	notify(t, m, chunk(s.ID, 1, false))
	got := notify(t, m, chunk(s.ID, 3, true))
	if got.Status != model.StatusFinalizing || got.FinalizeDeadline == nil {
		t.Fatalf("expected finalizing with deadline, got %+v", got)
	}

	clk.advance(30 * time.Second)
	if n, _ := m.ExpireStale(ctx, clk.now()); n != 0 {
		t.Fatalf("expected nothing to expire before the deadline, got %d", n)
	}
	if got, _ := m.Get(ctx, s.ID); got.Status != model.StatusFinalizing {
		t.Fatalf("expected still finalizing, got %s", got.Status)
	}

	clk.advance(31 * time.Second)
	if n, err := m.ExpireStale(ctx, clk.now()); err != nil || n != 1 {
		t.Fatalf("expected one expiry, got %d, %v", n, err)
	}
	got, _ = m.Get(ctx, s.ID)
	if got.Status != model.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.FailureReason, "[2]") {
		t.Errorf("expected missing chunk 2 in reason, got %q", got.FailureReason)
	}
	if tr.count() != 0 {
		t.Errorf("expected no transcription for a failed session, got %d", tr.count())
	}

	// a late chunk does not resurrect a failed session
	got = notify(t, m, chunk(s.ID, 2, false))
	if got.Status != model.StatusFailed {
		t.Errorf("expected failed to be sticky, got %s", got.Status)
	}
}

func TestLateChunkCompletesFinalizing(t *testing.T) {
	m, tr, clk := newTestManager(t)
	s := openSession(t, m)

	notify(t, m, chunk(s.ID, 0, false))
	notify(t, m, chunk(s.ID, 2, true))
	clk.advance(10 * time.Second)
	got := notify(t, m, chunk(s.ID, 1, false))
	if got.Status != model.StatusCompleted || got.FinalizeDeadline != nil {
		t.Fatalf("expected completed without deadline, got %+v", got)
	}
	clk.advance(time.Hour)
	if n, _ := m.ExpireStale(context.Background(), clk.now()); n != 0 {
		t.Errorf("expected completed session not to expire, got %d", n)
	}
	if tr.count() != 1 {
		t.Errorf("expected one hand-off, got %d", tr.count())
	}
}

func TestConcurrentNotifyCompletesOnce(t *testing.T) {
	for round := 0; round < 20; round++ {
		m, tr, _ := newTestManager(t)
		s := openSession(t, m)

		const n = 32
		order := rand.Perm(n)
		var wg sync.WaitGroup
		for _, i := range order {
			wg.Add(2)
			for r := 0; r < 2; r++ {
				go func(i int) {
					defer wg.Done()
					if _, _, err := m.Notify(context.Background(), chunk(s.ID, i, i == n-1)); err != nil {
						t.Errorf("notify: %v", err)
					}
				}(i)
			}
		}
		wg.Wait()

		got, _ := m.Get(context.Background(), s.ID)
		if got.Status != model.StatusCompleted {
			t.Fatalf("round %d: expected completed, got %s", round, got.Status)
		}
		if tr.count() != 1 {
			t.Fatalf("round %d: expected exactly one hand-off, got %d", round, tr.count())
		}
		if m.locks.size() != 0 {
			t.Fatalf("round %d: expected session locks to be released, got %d", round, m.locks.size())
		}
	}
}

func TestHandOffFailureMarksTranscriptFailed(t *testing.T) {
	m, tr, _ := newTestManager(t)
	tr.err = errors.New("queue full")
	s := openSession(t, m)

	got := notify(t, m, chunk(s.ID, 0, true))
	if got.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.TranscriptStatus != model.TranscriptFailed {
		t.Errorf("expected failed transcript status, got %s", got.TranscriptStatus)
	}
}

func TestTranscriptCallbacks(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := openSession(t, m)
	ctx := context.Background()

	notify(t, m, chunk(s.ID, 0, false))
	if err := m.OnTranscriptReady(ctx, s.ID, "too early"); !errors.Is(err, model.ErrSessionNotCompleted) {
		t.Fatalf("expected ErrSessionNotCompleted for a recording session, got %v", err)
	}
	if got, _ := m.Get(ctx, s.ID); got.TranscriptStatus != model.TranscriptPending || got.Transcript != "" {
		t.Fatalf("expected transcript untouched, got %+v", got)
	}

	notify(t, m, chunk(s.ID, 1, true))
	if err := m.OnTranscriptReady(ctx, s.ID, "Patient reports headache."); err != nil {
		t.Fatalf("ready: %v", err)
	}
	got, _ := m.Get(ctx, s.ID)
	if got.TranscriptStatus != model.TranscriptCompleted || got.Transcript != "Patient reports headache." {
		t.Errorf("unexpected transcript state %+v", got)
	}

	if err := m.OnTranscriptFailed(ctx, s.ID, errors.New("engine down")); err != nil {
		t.Fatalf("failed: %v", err)
	}
	got, _ = m.Get(ctx, s.ID)
	if got.TranscriptStatus != model.TranscriptFailed {
		t.Errorf("expected failed, got %s", got.TranscriptStatus)
	}

	if err := m.OnTranscriptReady(ctx, "session_nope", "x"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	m, _, clk := newTestManager(t)
	ctx := context.Background()
	a, _ := m.Open(ctx, OpenParams{UserID: "u1", PatientID: "p1"})
	clk.advance(time.Second)
	m.Open(ctx, OpenParams{UserID: "u1", PatientID: "p2"})
	clk.advance(time.Second)
	m.Open(ctx, OpenParams{UserID: "u2", PatientID: "p1"})
	notify(t, m, chunk(a.ID, 0, false))

	byUser, _ := m.List(ctx, ListParams{UserID: "u1"})
	if len(byUser) != 2 || byUser[0].PatientID != "p2" {
		t.Errorf("expected 2 sessions newest first, got %+v", byUser)
	}
	byPatient, _ := m.List(ctx, ListParams{PatientID: "p1"})
	if len(byPatient) != 2 {
		t.Errorf("expected 2, got %d", len(byPatient))
	}
	recording, _ := m.List(ctx, ListParams{Status: model.StatusRecording})
	if len(recording) != 1 || recording[0].ID != a.ID {
		t.Errorf("expected only %s recording, got %+v", a.ID, recording)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.policy.SweepInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
