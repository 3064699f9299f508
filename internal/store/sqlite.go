package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/consult-recorder/internal/model"
	"github.com/rcliao/consult-recorder/internal/session"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements State using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer; per-session serialization happens above the store
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		patient_id        TEXT NOT NULL,
		patient_name      TEXT,
		template_id       TEXT,
		title             TEXT,
		summary           TEXT,
		client_status     TEXT,
		status            TEXT NOT NULL DEFAULT 'created',
		transcript_status TEXT NOT NULL DEFAULT 'pending',
		transcript        TEXT,
		failure_reason    TEXT,
		created_at        TEXT NOT NULL,
		start_time        TEXT,
		end_time          TEXT,
		finalize_deadline TEXT,
		updated_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_patient ON sessions(patient_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS chunk_notifications (
		id           TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		chunk_index  INTEGER NOT NULL,
		is_last      INTEGER NOT NULL DEFAULT 0,
		mime_type    TEXT NOT NULL,
		size         INTEGER NOT NULL DEFAULT 0,
		storage_path TEXT NOT NULL,
		public_url   TEXT,
		total_chunks INTEGER,
		template_id  TEXT,
		model        TEXT,
		received_at  TEXT NOT NULL,
		UNIQUE (session_id, chunk_index)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunk_notifications(session_id, chunk_index);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- ledger ---

// Record keeps the first notification per index. A later one only merges in
// its terminal flag.
func (s *SQLiteStore) Record(ctx context.Context, n model.ChunkNotification) (bool, error) {
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now().UTC()
	}
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chunk_notifications
		   (id, session_id, chunk_index, is_last, mime_type, size, storage_path, public_url, total_chunks, template_id, model, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, chunk_index) DO UPDATE SET is_last = 1
		 WHERE excluded.is_last = 1 AND chunk_notifications.is_last = 0`,
		n.ID, n.SessionID, n.ChunkIndex, n.IsLast, n.MimeType, n.Size, n.StoragePath,
		nullString(n.PublicURL), n.TotalChunks, nullString(n.TemplateID), nullString(n.Model),
		n.ReceivedAt.UTC().Format(timeLayout))
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *SQLiteStore) ChunksFor(ctx context.Context, sessionID string) ([]model.ChunkNotification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, chunk_index, is_last, mime_type, size, storage_path,
		        public_url, total_chunks, template_id, model, received_at
		 FROM chunk_notifications WHERE session_id = ?
		 ORDER BY chunk_index ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []model.ChunkNotification
	for rows.Next() {
		c, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) HasTerminal(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunk_notifications WHERE session_id = ? AND is_last = 1`, sessionID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- sessions ---

const sessionColumns = `id, user_id, patient_id, patient_name, template_id, title, summary, client_status,
	status, transcript_status, transcript, failure_reason, created_at, start_time, end_time,
	finalize_deadline, updated_at`

func (s *SQLiteStore) Create(ctx context.Context, m *model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.PatientID, nullString(m.PatientName), nullString(m.TemplateID),
		nullString(m.Title), nullString(m.Summary), nullString(m.ClientStatus),
		string(m.Status), string(m.TranscriptStatus), nullString(m.Transcript), nullString(m.FailureReason),
		m.CreatedAt.UTC().Format(timeLayout), nullTime(m.StartTime), nullTime(m.EndTime),
		nullTime(m.FinalizeDeadline), m.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	m, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) Update(ctx context.Context, m *model.Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET patient_name = ?, template_id = ?, title = ?, summary = ?, client_status = ?,
		        status = ?, transcript_status = ?, transcript = ?, failure_reason = ?,
		        start_time = ?, end_time = ?, finalize_deadline = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(m.PatientName), nullString(m.TemplateID), nullString(m.Title), nullString(m.Summary),
		nullString(m.ClientStatus), string(m.Status), string(m.TranscriptStatus), nullString(m.Transcript),
		nullString(m.FailureReason), nullTime(m.StartTime), nullTime(m.EndTime), nullTime(m.FinalizeDeadline),
		m.UpdatedAt.UTC().Format(timeLayout), m.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, p session.ListParams) ([]model.Session, error) {
	var where []string
	var args []interface{}

	if p.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, p.UserID)
	}
	if p.PatientID != "" {
		where = append(where, "patient_id = ?")
		args = append(args, p.PatientID)
	}
	if p.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(p.Status))
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}
	return s.querySessions(ctx, query, args...)
}

func (s *SQLiteStore) DueForExpiry(ctx context.Context, now time.Time) ([]model.Session, error) {
	finalizing, err := s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ? AND finalize_deadline IS NOT NULL`,
		string(model.StatusFinalizing))
	if err != nil {
		return nil, err
	}
	var due []model.Session
	for _, m := range finalizing {
		if !m.FinalizeDeadline.After(now) {
			due = append(due, m)
		}
	}
	return due, nil
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...interface{}) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		m, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, m)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (model.Session, error) {
	var m model.Session
	var patientName, templateID, title, summary, clientStatus, transcript, failureReason sql.NullString
	var startTime, endTime, deadline sql.NullString
	var status, transcriptStatus, createdAt, updatedAt string

	err := row.Scan(
		&m.ID, &m.UserID, &m.PatientID, &patientName, &templateID, &title, &summary, &clientStatus,
		&status, &transcriptStatus, &transcript, &failureReason, &createdAt, &startTime, &endTime,
		&deadline, &updatedAt,
	)
	if err != nil {
		return m, err
	}

	m.PatientName = patientName.String
	m.TemplateID = templateID.String
	m.Title = title.String
	m.Summary = summary.String
	m.ClientStatus = clientStatus.String
	m.Status = model.Status(status)
	m.TranscriptStatus = model.TranscriptStatus(transcriptStatus)
	m.Transcript = transcript.String
	m.FailureReason = failureReason.String
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	m.StartTime = parseNullTime(startTime)
	m.EndTime = parseNullTime(endTime)
	m.FinalizeDeadline = parseNullTime(deadline)
	return m, nil
}

func scanNotification(row scanner) (model.ChunkNotification, error) {
	var c model.ChunkNotification
	var publicURL, templateID, modelName sql.NullString
	var totalChunks sql.NullInt64
	var receivedAt string

	err := row.Scan(
		&c.ID, &c.SessionID, &c.ChunkIndex, &c.IsLast, &c.MimeType, &c.Size, &c.StoragePath,
		&publicURL, &totalChunks, &templateID, &modelName, &receivedAt,
	)
	if err != nil {
		return c, err
	}
	c.PublicURL = publicURL.String
	c.TemplateID = templateID.String
	c.Model = modelName.String
	c.TotalChunks = int(totalChunks.Int64)
	c.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt)
	return c, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
