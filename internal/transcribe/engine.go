// Package transcribe hands completed sessions to a pluggable transcription engine.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/consult-recorder/internal/chunkstore"
	"github.com/rcliao/consult-recorder/internal/model"
)

// ErrDeferred is returned by engines that finish out of band and report back
// through the transcript callback endpoint.
var ErrDeferred = errors.New("transcript deferred to callback")

// Engine produces a transcript for a completed session.
type Engine interface {
	Transcribe(ctx context.Context, job model.TranscriptionJob) (string, error)
}

// AudioSource opens stored chunk payloads. chunkstore.Store satisfies it.
type AudioSource = chunkstore.Getter

// --- Hand-off (external engine) ---

// HandoffEngine only logs the job; an external engine is expected to call
// back with the transcript.
type HandoffEngine struct{}

func (HandoffEngine) Transcribe(ctx context.Context, job model.TranscriptionJob) (string, error) {
	logrus.WithFields(logrus.Fields{"session": job.SessionID, "chunks": len(job.Chunks)}).Info("transcription handed off")
	return "", ErrDeferred
}

// --- OpenAI Whisper ---

// OpenAIEngine sends the session's audio, concatenated in chunk order, to an
// OpenAI-compatible transcription endpoint.
type OpenAIEngine struct {
	client *openai.Client
	model  string
	audio  AudioSource
}

// NewOpenAIEngine creates an engine. baseURL and model may be empty.
func NewOpenAIEngine(apiKey, baseURL, model string, audio AudioSource) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIEngine{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		audio:  audio,
	}
}

func (e *OpenAIEngine) Transcribe(ctx context.Context, job model.TranscriptionJob) (string, error) {
	if len(job.Chunks) == 0 {
		return "", fmt.Errorf("no audio chunks for %s", job.SessionID)
	}
	indices := make([]int, len(job.Chunks))
	for i, c := range job.Chunks {
		indices[i] = c.ChunkIndex
	}
	r := chunkstore.Concat(ctx, e.audio, job.SessionID, indices)
	defer r.Close()

	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.model,
		FilePath: job.SessionID + extension(job.Chunks[0].MimeType),
		Reader:   r,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

var extensions = map[string]string{
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/wave":  ".wav",
	"audio/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/opus":  ".ogg",
	"audio/mpeg":  ".mp3",
	"audio/mp4":   ".m4a",
	"audio/m4a":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/aac":   ".m4a",
	"audio/flac":  ".flac",
}

func extension(mimeType string) string {
	mt, _ := model.NormalizeMimeType(mimeType)
	if ext, ok := extensions[mt]; ok {
		return ext
	}
	if ext := path.Ext(mt); ext != "" {
		return ext
	}
	return ".wav"
}

// --- Factory ---

// Options selects and configures an engine.
type Options struct {
	Engine        string // "none" | "openai"
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
}

// New creates the engine named by opts.Engine.
func New(opts Options, audio AudioSource) (Engine, error) {
	switch opts.Engine {
	case "", "none":
		return HandoffEngine{}, nil
	case "openai":
		if opts.OpenAIKey == "" {
			return nil, fmt.Errorf("transcription.openai.api_key is required for the openai engine")
		}
		return NewOpenAIEngine(opts.OpenAIKey, opts.OpenAIBaseURL, opts.OpenAIModel, audio), nil
	default:
		return nil, fmt.Errorf("unknown transcription engine %q (valid: none, openai)", opts.Engine)
	}
}
