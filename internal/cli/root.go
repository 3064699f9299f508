// Package cli implements the consult-recorder CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rcliao/consult-recorder/internal/chunkstore"
	"github.com/rcliao/consult-recorder/internal/config"
	"github.com/rcliao/consult-recorder/internal/store"
)

var (
	cfgFile    string
	formatFlag string
	v          = viper.New()
	cfg        *config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "consult-recorder",
	Short: "Chunked audio ingestion for clinical consultations",
	Long:  "Receives consultation audio in chunks, tracks each recording session through its lifecycle and hands completed recordings to transcription.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		if err := config.SetupLogging(c.Log); err != nil {
			return err
		}
		cfg = c
		return nil
	},
	SilenceUsage: true,
}

func init() {
	flags := RootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Config file (yaml, toml or json)")
	flags.StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	flags.StringP("db", "d", "", "State database path (default: $CONSULT_STATE_DB or ~/.consult-recorder/state.db)")
	flags.String("storage-dir", "", "Chunk directory for the fs backend")
	flags.String("log-level", "", "Log level: debug, info, warn, error")

	v.BindPFlag("state.db", flags.Lookup("db"))
	v.BindPFlag("storage.dir", flags.Lookup("storage-dir"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
}

// openState opens the configured ledger and session backend.
func openState() (store.State, error) {
	switch cfg.State.Backend {
	case "memory":
		return store.NewMemoryState(), nil
	default:
		return store.NewSQLiteStore(cfg.State.DB)
	}
}

// openSQLite opens the durable state directly, for inspection commands.
func openSQLite() (*store.SQLiteStore, error) {
	if cfg.State.Backend != "sqlite" {
		return nil, fmt.Errorf("state.backend is %q: only sqlite state can be inspected offline", cfg.State.Backend)
	}
	return store.NewSQLiteStore(cfg.State.DB)
}

// openChunkStore opens the configured chunk payload backend.
func openChunkStore() (chunkstore.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return chunkstore.NewMemStore(), nil
	case "s3":
		s3 := cfg.Storage.S3
		return chunkstore.NewS3Store(chunkstore.S3Config{
			Bucket:          s3.Bucket,
			Endpoint:        s3.Endpoint,
			Region:          s3.Region,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			ForcePathStyle:  s3.ForcePathStyle,
			PresignTTL:      s3.PresignTTL,
		})
	default:
		return chunkstore.NewFSStore(cfg.Storage.Dir)
	}
}

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
