package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rcliao/consult-recorder/internal/model"
	"github.com/rcliao/consult-recorder/internal/session"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSession(id, user, patient string, created time.Time) *model.Session {
	return &model.Session{
		ID:               id,
		UserID:           user,
		PatientID:        patient,
		Title:            "Initial Consultation",
		Status:           model.StatusCreated,
		TranscriptStatus: model.TranscriptPending,
		CreatedAt:        created,
		StartTime:        &created,
		UpdatedAt:        created,
	}
}

func testNote(session string, index int, last bool) model.ChunkNotification {
	return model.ChunkNotification{
		SessionID:   session,
		ChunkIndex:  index,
		IsLast:      last,
		MimeType:    "audio/webm",
		Size:        1024,
		StoragePath: model.ChunkKey(session, index),
		PublicURL:   "http://localhost:3000/api/v1/sessions/" + session + "/chunks/0",
		TotalChunks: 3,
	}
}

func TestRecordAndChunksFor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, i := range []int{2, 0, 1} {
		appended, err := s.Record(ctx, testNote("s1", i, i == 2))
		if err != nil || !appended {
			t.Fatalf("record %d: %v, %v", i, appended, err)
		}
	}
	appended, err := s.Record(ctx, testNote("s1", 1, false))
	if err != nil {
		t.Fatalf("duplicate record: %v", err)
	}
	if appended {
		t.Error("expected duplicate to be ignored")
	}

	chunks, err := s.ChunksFor(ctx, "s1")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("expected index %d at position %d, got %d", i, i, c.ChunkIndex)
		}
		if c.ID == "" || c.ReceivedAt.IsZero() {
			t.Errorf("expected id and arrival time, got %+v", c)
		}
	}
	if !chunks[2].IsLast || chunks[0].IsLast {
		t.Error("expected terminal flag to round-trip")
	}
	if chunks[0].MimeType != "audio/webm" || chunks[0].Size != 1024 || chunks[0].TotalChunks != 3 {
		t.Errorf("unexpected fields %+v", chunks[0])
	}

	if ok, _ := s.HasTerminal(ctx, "s1"); !ok {
		t.Error("expected terminal")
	}
	if ok, _ := s.HasTerminal(ctx, "s2"); ok {
		t.Error("expected no terminal for unknown session")
	}
}

func TestRecordMergesLateTerminalFlag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Record(ctx, testNote("s1", 0, false))
	s.Record(ctx, testNote("s1", 1, false))

	late := testNote("s1", 1, true)
	late.Size = 9
	appended, err := s.Record(ctx, late)
	if err != nil || !appended {
		t.Fatalf("expected terminal flag to be recorded, got %v, %v", appended, err)
	}
	appended, err = s.Record(ctx, late)
	if err != nil || appended {
		t.Fatalf("expected repeat to be a no-op, got %v, %v", appended, err)
	}
	appended, _ = s.Record(ctx, testNote("s1", 1, false))
	if appended {
		t.Error("expected non-terminal duplicate to leave the flag alone")
	}

	chunks, _ := s.ChunksFor(ctx, "s1")
	if len(chunks) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(chunks))
	}
	if !chunks[1].IsLast {
		t.Error("expected chunk 1 to be terminal")
	}
	if chunks[1].Size != 1024 {
		t.Errorf("expected first payload to be kept, got size %d", chunks[1].Size)
	}
	if ok, _ := s.HasTerminal(ctx, "s1"); !ok {
		t.Error("expected terminal")
	}
}

func TestSessionCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	if err := s.Create(ctx, testSession("session_a", "u1", "p1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.Get(ctx, "session_a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusCreated || !got.CreatedAt.Equal(now) || got.StartTime == nil {
		t.Errorf("unexpected session %+v", got)
	}

	deadline := now.Add(time.Minute)
	got.Status = model.StatusFinalizing
	got.FinalizeDeadline = &deadline
	got.Transcript = "text"
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ := s.Get(ctx, "session_a")
	if again.Status != model.StatusFinalizing || again.FinalizeDeadline == nil || !again.FinalizeDeadline.Equal(deadline) {
		t.Errorf("expected update to persist, got %+v", again)
	}

	if _, err := s.Get(ctx, "session_missing"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := s.Update(ctx, testSession("session_missing", "u", "p", now)); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on update, got %v", err)
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	s.Create(ctx, testSession("session_a", "u1", "p1", base))
	s.Create(ctx, testSession("session_b", "u1", "p2", base.Add(500*time.Millisecond)))
	s.Create(ctx, testSession("session_c", "u2", "p1", base.Add(time.Second)))

	all, _ := s.List(ctx, session.ListParams{})
	if len(all) != 3 || all[0].ID != "session_c" || all[1].ID != "session_b" {
		t.Errorf("expected newest first, got %v", ids(all))
	}
	byUser, _ := s.List(ctx, session.ListParams{UserID: "u1"})
	if len(byUser) != 2 {
		t.Errorf("expected 2 for u1, got %d", len(byUser))
	}
	byPatient, _ := s.List(ctx, session.ListParams{PatientID: "p1", Limit: 1})
	if len(byPatient) != 1 || byPatient[0].ID != "session_c" {
		t.Errorf("expected limited patient list, got %v", ids(byPatient))
	}
	created, _ := s.List(ctx, session.ListParams{Status: model.StatusCreated})
	if len(created) != 3 {
		t.Errorf("expected 3 created, got %d", len(created))
	}
}

func TestDueForExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	past := now.Add(-time.Second)
	future := now.Add(time.Minute)
	a := testSession("session_a", "u", "p", now)
	a.Status, a.FinalizeDeadline = model.StatusFinalizing, &past
	b := testSession("session_b", "u", "p", now)
	b.Status, b.FinalizeDeadline = model.StatusFinalizing, &future
	c := testSession("session_c", "u", "p", now)
	c.Status = model.StatusRecording
	for _, m := range []*model.Session{a, b, c} {
		s.Create(ctx, m)
	}

	due, err := s.DueForExpiry(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "session_a" {
		t.Errorf("expected only session_a, got %v", ids(due))
	}
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Create(ctx, testSession("session_a", "u", "p", time.Now()))
	s.Record(ctx, testNote("session_a", 0, true))
	s.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, err := s2.Get(ctx, "session_a"); err != nil {
		t.Errorf("expected session to survive reopen: %v", err)
	}
	if ok, _ := s2.HasTerminal(ctx, "session_a"); !ok {
		t.Error("expected ledger to survive reopen")
	}
}

func TestManagerOnSQLite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	var submitted int32
	m := session.NewManager(s, s, transcriberFunc(func(model.TranscriptionJob) error {
		atomic.AddInt32(&submitted, 1)
		return nil
	}), session.DefaultPolicy())

	sess, err := m.Open(ctx, session.OpenParams{UserID: "u", PatientID: "p"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, err := m.Notify(ctx, testNote(sess.ID, i, i == n-1)); err != nil {
				t.Errorf("notify %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := s.Get(ctx, sess.ID)
	if got.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if atomic.LoadInt32(&submitted) != 1 {
		t.Errorf("expected exactly one submission, got %d", submitted)
	}
}

func TestStatsAndExport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	now := time.Now().UTC()
	s.Create(ctx, testSession("session_a", "u", "p", now))
	done := testSession("session_b", "u", "p", now)
	done.Status = model.StatusCompleted
	s.Create(ctx, done)
	s.Record(ctx, testNote("session_b", 0, false))
	s.Record(ctx, testNote("session_b", 1, true))

	st, err := s.Stats(ctx, path)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalSessions != 2 || st.LedgerEntries != 2 || st.TerminalSessions != 1 || len(st.Statuses) != 2 {
		t.Errorf("unexpected stats %+v", st)
	}

	all, err := s.ExportAll(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("export all: %v, %d", err, len(all))
	}
	one, err := s.ExportAll(ctx, "session_b")
	if err != nil || len(one) != 1 || len(one[0].Chunks) != 2 {
		t.Errorf("export one: %v, %+v", err, one)
	}
	if _, err := s.ExportAll(ctx, "session_zzz"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

type transcriberFunc func(model.TranscriptionJob) error

func (f transcriberFunc) Submit(job model.TranscriptionJob) error { return f(job) }

func ids(ss []model.Session) []string {
	var out []string
	for _, s := range ss {
		out = append(out, s.ID)
	}
	return out
}

func TestStatsReportsQueryErrors(t *testing.T) {
	s := newTestStore(t)
	s.Close()
	if _, err := s.Stats(context.Background(), "unused.db"); err == nil {
		t.Error("expected an error from a closed database")
	}
}

func TestMemoryState(t *testing.T) {
	st := NewMemoryState()
	defer st.Close()
	ctx := context.Background()

	m := session.NewManager(st, st, nil, session.DefaultPolicy())
	sess, err := m.Open(ctx, session.OpenParams{UserID: "u1", PatientID: "p1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, _, err := m.Notify(ctx, model.ChunkNotification{SessionID: sess.ID, ChunkIndex: 0, IsLast: true})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if ok, _ := st.HasTerminal(ctx, sess.ID); !ok {
		t.Error("expected terminal chunk in memory ledger")
	}
}
