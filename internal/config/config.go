// Package config loads service configuration from defaults, an optional
// config file, a .env file and CONSULT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CONSULT_STORAGE_BACKEND.
const EnvPrefix = "CONSULT"

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

// AuthConfig controls bearer checks. A non-empty JWTSecret requires HS256
// tokens; otherwise any bearer token is accepted.
type AuthConfig struct {
	Disabled  bool   `mapstructure:"disabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type S3Config struct {
	Bucket          string        `mapstructure:"bucket"`
	Endpoint        string        `mapstructure:"endpoint"`
	Region          string        `mapstructure:"region"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	ForcePathStyle  bool          `mapstructure:"force_path_style"`
	PresignTTL      time.Duration `mapstructure:"presign_ttl"`
}

type StorageConfig struct {
	Backend string   `mapstructure:"backend"`
	Dir     string   `mapstructure:"dir"`
	S3      S3Config `mapstructure:"s3"`
}

type StateConfig struct {
	Backend string `mapstructure:"backend"`
	DB      string `mapstructure:"db"`
}

type TicketsConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	SigningKey string        `mapstructure:"signing_key"`
}

type FinalizeConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type TranscriptionConfig struct {
	Engine  string        `mapstructure:"engine"`
	Workers int           `mapstructure:"workers"`
	Queue   int           `mapstructure:"queue"`
	Timeout time.Duration `mapstructure:"timeout"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full service configuration.
type Config struct {
	HTTP          HTTPConfig          `mapstructure:"http"`
	PublicBaseURL string              `mapstructure:"public_base_url"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Storage       StorageConfig       `mapstructure:"storage"`
	State         StateConfig         `mapstructure:"state"`
	Tickets       TicketsConfig       `mapstructure:"tickets"`
	Finalize      FinalizeConfig      `mapstructure:"finalize"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Log           LogConfig           `mapstructure:"log"`
}

// DataDir returns the default directory for local state.
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".consult-recorder")
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.read_timeout", 2*time.Minute)
	v.SetDefault("http.write_timeout", 2*time.Minute)
	v.SetDefault("http.body_limit", 100<<20)
	v.SetDefault("public_base_url", "http://localhost:3000")
	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.dir", filepath.Join(DataDir(), "chunks"))
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.force_path_style", false)
	v.SetDefault("storage.s3.presign_ttl", time.Hour)

	v.SetDefault("state.backend", "sqlite")
	v.SetDefault("state.db", filepath.Join(DataDir(), "state.db"))

	v.SetDefault("tickets.ttl", 15*time.Minute)
	v.SetDefault("tickets.signing_key", "")

	v.SetDefault("finalize.timeout", 2*time.Minute)
	v.SetDefault("finalize.sweep_interval", 10*time.Second)

	v.SetDefault("transcription.engine", "none")
	v.SetDefault("transcription.workers", 2)
	v.SetDefault("transcription.queue", 64)
	v.SetDefault("transcription.timeout", 10*time.Minute)
	v.SetDefault("transcription.openai.api_key", "")
	v.SetDefault("transcription.openai.model", "whisper-1")
	v.SetDefault("transcription.openai.base_url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration into a Config. configFile may be empty.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// PORT is the platform convention; an explicit http.addr wins.
	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"_HTTP_ADDR") == "" && !v.InConfig("http.addr") {
		cfg.HTTP.Addr = ":" + port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated and required settings.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the fs backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage.backend %q (valid: fs, s3, memory)", c.Storage.Backend)
	}
	switch c.State.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid state.backend %q (valid: sqlite, memory)", c.State.Backend)
	}
	switch c.Transcription.Engine {
	case "none", "openai":
	default:
		return fmt.Errorf("invalid transcription.engine %q (valid: none, openai)", c.Transcription.Engine)
	}
	if c.Finalize.Timeout <= 0 {
		return fmt.Errorf("finalize.timeout must be positive")
	}
	if c.HTTP.BodyLimit <= 0 {
		return fmt.Errorf("http.body_limit must be positive")
	}
	return nil
}

// SetupLogging applies the log level and formatter to the standard logrus logger.
func SetupLogging(c LogConfig) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	logrus.SetLevel(level)
	switch c.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log.format %q (valid: text, json)", c.Format)
	}
	return nil
}
