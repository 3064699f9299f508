package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rcliao/consult-recorder/internal/api"
	"github.com/rcliao/consult-recorder/internal/directory"
	"github.com/rcliao/consult-recorder/internal/metrics"
	"github.com/rcliao/consult-recorder/internal/session"
	"github.com/rcliao/consult-recorder/internal/transcribe"
	"github.com/rcliao/consult-recorder/internal/upload"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingestion service",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default :3000 or :$PORT)")
	v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state, err := openState()
	if err != nil {
		exitErr("open state", err)
	}
	defer state.Close()

	chunks, err := openChunkStore()
	if err != nil {
		exitErr("open chunk store", err)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	manager := session.NewManager(state, state, nil, session.Policy{
		FinalizeTimeout: cfg.Finalize.Timeout,
		SweepInterval:   cfg.Finalize.SweepInterval,
	})

	engine, err := transcribe.New(transcribe.Options{
		Engine:        cfg.Transcription.Engine,
		OpenAIKey:     cfg.Transcription.OpenAI.APIKey,
		OpenAIModel:   cfg.Transcription.OpenAI.Model,
		OpenAIBaseURL: cfg.Transcription.OpenAI.BaseURL,
	}, chunks)
	if err != nil {
		exitErr("transcription engine", err)
	}
	dispatcher := transcribe.NewDispatcher(engine, cfg.Transcription.Workers, cfg.Transcription.Queue, cfg.Transcription.Timeout)
	manager.SetTranscriber(dispatcher)
	dispatcher.Start(ctx, manager)

	signer, err := upload.NewTicketSigner([]byte(cfg.Tickets.SigningKey))
	if err != nil {
		exitErr("ticket signer", err)
	}
	coordinator := upload.NewCoordinator(chunks, manager, signer, upload.Config{
		PublicBaseURL: cfg.PublicBaseURL,
		TicketTTL:     cfg.Tickets.TTL,
	})

	var validator api.Validator
	if cfg.Auth.JWTSecret != "" {
		validator = api.HMACValidator{Secret: []byte(cfg.Auth.JWTSecret)}
	}
	srv := api.New(api.Deps{
		Sessions:  manager,
		Uploads:   coordinator,
		Store:     chunks,
		Directory: directory.New(manager),
		Validator: validator,
	}, api.Config{
		ReadTimeout:   cfg.HTTP.ReadTimeout,
		WriteTimeout:  cfg.HTTP.WriteTimeout,
		BodyLimit:     cfg.HTTP.BodyLimit,
		PublicBaseURL: cfg.PublicBaseURL,
		AuthDisabled:  cfg.Auth.Disabled,
	})

	// sessions left in finalizing by a previous run are expired on schedule
	go manager.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(cfg.HTTP.Addr) }()

	logrus.WithFields(logrus.Fields{
		"storage":       cfg.Storage.Backend,
		"state":         cfg.State.Backend,
		"transcription": cfg.Transcription.Engine,
	}).Info("consult-recorder started")

	select {
	case err := <-errCh:
		stop()
		dispatcher.Wait()
		exitErr("http server", err)
	case <-ctx.Done():
	}

	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http shutdown")
	}
	dispatcher.Wait()
}
