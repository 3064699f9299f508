package api

import (
	"bytes"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rcliao/consult-recorder/internal/model"
)

type ticketRequest struct {
	SessionID   string `json:"sessionId"`
	ChunkNumber *int   `json:"chunkNumber"`
	ChunkIndex  *int   `json:"chunkIndex"`
	MimeType    string `json:"mimeType"`
}

type ticketResponse struct {
	URL       string    `json:"url"`
	GCSPath   string    `json:"gcsPath"`
	PublicURL string    `json:"publicUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) issueTicket(c *fiber.Ctx) error {
	var req ticketRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid presigned URL request")
	}
	index := req.ChunkNumber
	if index == nil {
		index = req.ChunkIndex
	}
	if req.SessionID == "" || index == nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid presigned URL request")
	}
	t, err := s.uploads.IssueTicket(c.UserContext(), req.SessionID, *index, req.MimeType)
	if err != nil {
		return err
	}
	return c.JSON(ticketResponse{
		URL:       t.WriteURL,
		GCSPath:   t.StoragePath,
		PublicURL: t.ReadURL,
		ExpiresAt: t.ExpiresAt,
	})
}

func (s *Server) acceptUpload(c *fiber.Ctx) error {
	var body io.Reader
	if stream := c.Context().RequestBodyStream(); stream != nil {
		body = stream
	} else {
		body = bytes.NewReader(c.Body())
	}
	expected := int64(-1)
	if n := c.Request().Header.ContentLength(); n >= 0 {
		expected = int64(n)
	}
	ref, err := s.uploads.Accept(c.UserContext(), c.Params("token"), body, expected)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"gcsPath": ref.Key, "size": ref.Size})
}

type notifyRequest struct {
	SessionID          string `json:"sessionId"`
	GCSPath            string `json:"gcsPath"`
	ChunkNumber        *int   `json:"chunkNumber"`
	ChunkIndex         *int   `json:"chunkIndex"`
	IsLast             bool   `json:"isLast"`
	TotalChunksClient  int    `json:"totalChunksClient"`
	PublicURL          string `json:"publicUrl"`
	MimeType           string `json:"mimeType"`
	SelectedTemplate   string `json:"selectedTemplate"`
	SelectedTemplateID string `json:"selectedTemplateId"`
	Model              string `json:"model"`
}

func (s *Server) notifyChunk(c *fiber.Ctx) error {
	var req notifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid chunk notification")
	}
	index := req.ChunkNumber
	if index == nil {
		index = req.ChunkIndex
	}
	if req.SessionID == "" || req.GCSPath == "" || index == nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid chunk notification")
	}
	_, err := s.uploads.NotifyArrival(c.UserContext(), model.ChunkNotification{
		SessionID:   req.SessionID,
		ChunkIndex:  *index,
		IsLast:      req.IsLast,
		MimeType:    req.MimeType,
		StoragePath: req.GCSPath,
		PublicURL:   req.PublicURL,
		TotalChunks: req.TotalChunksClient,
		TemplateID:  req.SelectedTemplateID,
		Model:       req.Model,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{})
}
