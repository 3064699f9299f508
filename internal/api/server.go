// Package api exposes the recording service over HTTP.
package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/consult-recorder/internal/chunkstore"
	"github.com/rcliao/consult-recorder/internal/directory"
	"github.com/rcliao/consult-recorder/internal/session"
	"github.com/rcliao/consult-recorder/internal/upload"
)

// Config holds transport settings.
type Config struct {
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	BodyLimit     int
	PublicBaseURL string
	AuthDisabled  bool
}

// Deps are the components the handlers serve.
type Deps struct {
	Sessions  *session.Manager
	Uploads   *upload.Coordinator
	Store     chunkstore.Store
	Directory *directory.Directory
	// Validator checks bearer tokens; nil accepts any non-empty token.
	Validator Validator
}

// Server wraps the fiber application.
type Server struct {
	app       *fiber.App
	sessions  *session.Manager
	uploads   *upload.Coordinator
	store     chunkstore.Store
	directory *directory.Directory
	validator Validator
	cfg       Config
}

// New builds the server and registers every route.
func New(d Deps, cfg Config) *Server {
	s := &Server{
		sessions:  d.Sessions,
		uploads:   d.Uploads,
		store:     d.Store,
		directory: d.Directory,
		validator: d.Validator,
		cfg:       cfg,
	}
	s.cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if s.validator == nil {
		s.validator = AnyBearer{}
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "consult-recorder",
		DisableStartupMessage: true,
		StreamRequestBody:     true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(requestLogger)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/", s.banner)
	s.app.Get("/health", s.health)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// the ticket token authorizes the write, like a presigned URL
	s.app.Put("/api/v1/uploads/:token", s.acceptUpload)

	api := s.app.Group("/api")
	if !s.cfg.AuthDisabled {
		api.Use(requireBearer(s.validator))
	}
	api.Get("/users/asd3fd2faec", s.userByEmail)

	v1 := api.Group("/v1")
	v1.Get("/patients", s.listPatients)
	v1.Post("/add-patient-ext", s.addPatient)
	v1.Get("/patient-details/:patientId", s.patientDetails)
	v1.Get("/fetch-default-template-ext", s.templates)

	v1.Post("/upload-session", s.openSession)
	v1.Get("/all-session", s.allSessions)
	v1.Get("/fetch-session-by-patient/:patientId", s.sessionsByPatient)
	v1.Get("/sessions/:id", s.getSession)
	v1.Get("/sessions/:id/chunks/:index", s.getChunk)
	v1.Get("/sessions/:id/audio", s.getAudio)
	v1.Post("/sessions/:id/transcript", s.transcriptCallback)

	v1.Post("/get-presigned-url", s.issueTicket)
	v1.Post("/notify-chunk-uploaded", s.notifyChunk)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	logrus.WithField("addr", addr).Info("http server listening")
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) banner(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "running",
		"message": "Consultation Recorder API",
		"version": "1.0.0",
		"endpoints": fiber.Map{
			"base":    "/api",
			"health":  "/health",
			"metrics": "/metrics",
		},
	})
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	if err := c.Next(); err != nil {
		// render now so the logged status is the one sent
		if herr := c.App().ErrorHandler(c, err); herr != nil {
			return herr
		}
	}
	status := c.Response().StatusCode()
	entry := logrus.WithFields(logrus.Fields{
		"method":     c.Method(),
		"path":       c.Path(),
		"status":     status,
		"latency_ms": time.Since(start).Milliseconds(),
		"request_id": c.GetRespHeader(fiber.HeaderXRequestID),
	})
	if status >= fiber.StatusInternalServerError {
		entry.Warn("request")
	} else {
		entry.Debug("request")
	}
	return nil
}
