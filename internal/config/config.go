// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPollInterval is returned when POLL_INTERVAL is not positive.
	ErrInvalidPollInterval = errors.New("config: POLL_INTERVAL must be positive")
	// ErrInvalidPollMaxWait is returned when POLL_MAX_WAIT is negative.
	ErrInvalidPollMaxWait = errors.New("config: POLL_MAX_WAIT must not be negative")
	// ErrInvalidJobRetention is returned when JOB_RETENTION is negative.
	ErrInvalidJobRetention = errors.New("config: JOB_RETENTION must not be negative")
	// ErrInvalidVideoResolution is returned when VIDEO_RESOLUTION is not supported.
	ErrInvalidVideoResolution = errors.New("config: VIDEO_RESOLUTION must be 720p or 1080p")
	// ErrInvalidMaxVideoBytes is returned when MAX_VIDEO_BYTES is not positive.
	ErrInvalidMaxVideoBytes = errors.New("config: MAX_VIDEO_BYTES must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	// MetricsNamespace prefixes the Prometheus metric names.
	MetricsNamespace string `env:"METRICS_NAMESPACE, default=genstudio" json:"metrics_namespace"`

	// Gemini settings. The API key is optional: without it the credential
	// gate starts closed and a key must be selected through the API.
	GeminiAPIKey  string `env:"GEMINI_API_KEY" json:"-"` // Masked in JSON
	GeminiBaseURL string `env:"GEMINI_BASE_URL, default=https://generativelanguage.googleapis.com/v1beta" json:"gemini_base_url"`

	// Model selection
	AnalyzeModel    string `env:"ANALYZE_MODEL, default=gemini-2.5-flash" json:"analyze_model"`
	ImageModel      string `env:"IMAGE_MODEL, default=imagen-4.0-generate-001" json:"image_model"`
	EditModel       string `env:"EDIT_MODEL, default=gemini-2.5-flash-image" json:"edit_model"`
	VideoModel      string `env:"VIDEO_MODEL, default=veo-3.1-fast-generate-preview" json:"video_model"`
	VideoResolution string `env:"VIDEO_RESOLUTION, default=720p" json:"video_resolution"`

	// Polling settings. A zero PollMaxWait polls until the backend reports a
	// terminal state.
	PollInterval time.Duration `env:"POLL_INTERVAL, default=10s" json:"poll_interval"`
	PollMaxWait  time.Duration `env:"POLL_MAX_WAIT, default=0s" json:"poll_max_wait"`

	// JobRetention is how long finished jobs and their videos are kept.
	// Zero keeps them until the process exits.
	JobRetention time.Duration `env:"JOB_RETENTION, default=1h" json:"job_retention"`

	// Storage settings
	TempDir       string `env:"TEMP_DIR, default=/tmp/genstudio" json:"temp_dir"`
	MaxImageBytes int64  `env:"MAX_IMAGE_BYTES, default=20971520" json:"max_image_bytes"`
	// MaxVideoBytes bounds a downloaded video.
	MaxVideoBytes int64 `env:"MAX_VIDEO_BYTES, default=536870912" json:"max_video_bytes"`

	// Rate limiting for generation endpoints
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS, default=2" json:"rate_limit_rps"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST, default=5" json:"rate_limit_burst"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the loaded values are usable.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.PollMaxWait < 0 {
		return ErrInvalidPollMaxWait
	}
	if c.JobRetention < 0 {
		return ErrInvalidJobRetention
	}
	if c.MaxVideoBytes <= 0 {
		return ErrInvalidMaxVideoBytes
	}
	switch c.VideoResolution {
	case "720p", "1080p":
	default:
		return ErrInvalidVideoResolution
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, GeminiKeySet: %t, VideoModel: %s, PollInterval: %s, PollMaxWait: %s, TempDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.GeminiAPIKey != "",
		c.VideoModel,
		c.PollInterval,
		c.PollMaxWait,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
