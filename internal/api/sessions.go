package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rcliao/consult-recorder/internal/chunkstore"
	"github.com/rcliao/consult-recorder/internal/ledger"
	"github.com/rcliao/consult-recorder/internal/model"
	"github.com/rcliao/consult-recorder/internal/session"
	"github.com/rcliao/consult-recorder/internal/view"
)

type openSessionRequest struct {
	PatientID   string `json:"patientId"`
	UserID      string `json:"userId"`
	PatientName string `json:"patientName"`
	Status      string `json:"status"`
	StartTime   string `json:"startTime"`
	TemplateID  string `json:"templateId"`
}

func (s *Server) openSession(c *fiber.Ctx) error {
	var req openSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Missing required fields")
	}
	p := session.OpenParams{
		UserID:       req.UserID,
		PatientID:    req.PatientID,
		PatientName:  req.PatientName,
		TemplateID:   req.TemplateID,
		ClientStatus: req.Status,
	}
	if req.StartTime != "" {
		start, err := time.Parse(time.RFC3339Nano, req.StartTime)
		if err != nil {
			return model.Invalid("startTime", "must be RFC 3339, got %q", req.StartTime)
		}
		start = start.UTC()
		p.StartTime = &start
	}
	sess, err := s.sessions.Open(c.UserContext(), p)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": sess.ID})
}

func (s *Server) allSessions(c *fiber.Ctx) error {
	ctx := c.UserContext()
	items := []view.SessionItem{}
	if userID := c.Query("userId"); userID != "" {
		list, err := s.sessions.List(ctx, session.ListParams{UserID: userID})
		if err != nil {
			return err
		}
		for _, sess := range list {
			item, err := s.materialize(ctx, sess)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
	}
	return c.JSON(fiber.Map{
		"sessions":   items,
		"patientMap": view.PatientMap(s.directory.AllPatients()),
	})
}

func (s *Server) sessionsByPatient(c *fiber.Ctx) error {
	ctx := c.UserContext()
	list, err := s.sessions.List(ctx, session.ListParams{PatientID: c.Params("patientId")})
	if err != nil {
		return err
	}
	items := make([]view.PatientSessionItem, 0, len(list))
	for _, sess := range list {
		audio, err := s.audio(ctx, sess.ID)
		if err != nil {
			return err
		}
		items = append(items, view.PatientSession(sess, audio))
	}
	return c.JSON(fiber.Map{"sessions": items})
}

func (s *Server) getSession(c *fiber.Ctx) error {
	ctx := c.UserContext()
	sess, err := s.sessions.Get(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	item, err := s.materialize(ctx, *sess)
	if err != nil {
		return err
	}
	return c.JSON(item)
}

func (s *Server) getChunk(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")
	index, err := c.ParamsInt("index")
	if err != nil || index < 0 {
		return model.Invalid("index", "must be a non-negative integer")
	}
	rc, err := s.store.Get(ctx, id, index)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, s.mimeOf(ctx, id, index))
	return c.SendStream(rc)
}

// getAudio streams the contiguous run of chunks starting at 0, stopping at
// the terminal chunk.
func (s *Server) getAudio(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")
	if _, err := s.sessions.Get(ctx, id); err != nil {
		return err
	}
	chunks, err := s.sessions.Chunks(ctx, id)
	if err != nil {
		return err
	}
	k := ledger.NewSnapshot(chunks).Playable()
	if k == 0 {
		return fiber.NewError(fiber.StatusNotFound, "no audio recorded yet")
	}
	indices := make([]int, k)
	for i := range indices {
		indices[i] = i
	}
	c.Set(fiber.HeaderContentType, chunkMime(ledger.Ordered(chunks)[0]))
	// the stream outlives the handler, so it must not use the request context
	return c.SendStream(chunkstore.Concat(context.Background(), s.store, id, indices))
}

type transcriptRequest struct {
	Text   string `json:"text"`
	Status string `json:"status"`
}

func (s *Server) transcriptCallback(c *fiber.Ctx) error {
	var req transcriptRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid transcript callback")
	}
	ctx := c.UserContext()
	id := c.Params("id")
	var err error
	switch model.TranscriptStatus(req.Status) {
	case "", model.TranscriptCompleted:
		err = s.sessions.OnTranscriptReady(ctx, id, req.Text)
	case model.TranscriptFailed:
		reason := req.Text
		if reason == "" {
			reason = "transcription engine reported failure"
		}
		err = s.sessions.OnTranscriptFailed(ctx, id, errors.New(reason))
	default:
		return model.Invalid("status", "must be completed or failed, got %q", req.Status)
	}
	if err != nil {
		return err
	}
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": sess.ID, "transcript_status": sess.TranscriptStatus})
}

func (s *Server) materialize(ctx context.Context, sess model.Session) (view.SessionItem, error) {
	audio, err := s.audio(ctx, sess.ID)
	if err != nil {
		return view.SessionItem{}, err
	}
	var patient *model.Patient
	if p, err := s.directory.Patient(sess.PatientID); err == nil {
		patient = &p
	}
	return view.Session(sess, patient, audio), nil
}

// audio resolves the playable references of a session from its ledger.
func (s *Server) audio(ctx context.Context, id string) (view.Audio, error) {
	chunks, err := s.sessions.Chunks(ctx, id)
	if err != nil {
		return view.Audio{}, err
	}
	snap := ledger.NewSnapshot(chunks)
	var a view.Audio
	for _, ch := range ledger.Ordered(chunks) {
		if !snap.InRange(ch.ChunkIndex) {
			break
		}
		u := ch.PublicURL
		if u == "" {
			if u, err = s.uploads.ReadURL(ctx, id, ch.ChunkIndex); err != nil {
				return view.Audio{}, err
			}
		}
		a.Chunks = append(a.Chunks, u)
	}
	if snap.Playable() > 0 {
		a.URL = fmt.Sprintf("%s/api/v1/sessions/%s/audio", s.cfg.PublicBaseURL, id)
	}
	return a, nil
}

func (s *Server) mimeOf(ctx context.Context, id string, index int) string {
	chunks, err := s.sessions.Chunks(ctx, id)
	if err != nil {
		return fiber.MIMEOctetStream
	}
	for _, ch := range chunks {
		if ch.ChunkIndex == index {
			return chunkMime(ch)
		}
	}
	return fiber.MIMEOctetStream
}

func chunkMime(ch model.ChunkNotification) string {
	if ch.MimeType == "" {
		return fiber.MIMEOctetStream
	}
	return ch.MimeType
}
