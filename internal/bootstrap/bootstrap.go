// Package bootstrap provides dependency initialization for the GenStudio API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/genstudio-api/internal/config"
	"github.com/maauso/genstudio-api/internal/credential"
	"github.com/maauso/genstudio-api/internal/gemini"
	"github.com/maauso/genstudio-api/internal/generator"
	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/media"
	"github.com/maauso/genstudio-api/internal/metrics"
	"github.com/maauso/genstudio-api/internal/storage"
	"github.com/maauso/genstudio-api/internal/studio"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Gate         *credential.Gate
	VideoService *job.AnimateService
	Studio       *studio.Service
	Decoder      *media.Decoder
	Metrics      *metrics.Collector
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// The gate starts open only when a key is configured. Synchronous calls
	// read the key from the gate; video jobs pin the key they started with.
	gate := credential.NewGate(cfg.GeminiAPIKey)
	client, err := gemini.NewClient(
		gemini.WithKeySource(gate),
		gemini.WithBaseURL(cfg.GeminiBaseURL),
		gemini.WithMaxDownloadBytes(cfg.MaxVideoBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	backend := generator.NewGeminiAdapter(client,
		generator.WithModels(generator.Models{
			Analyze: cfg.AnalyzeModel,
			Image:   cfg.ImageModel,
			Edit:    cfg.EditModel,
			Video:   cfg.VideoModel,
		}),
		generator.WithVideoResolution(cfg.VideoResolution),
	)

	collector := metrics.NewCollector(cfg.MetricsNamespace)

	poller := job.NewPoller(backend, store,
		job.WithPollInterval(cfg.PollInterval),
		job.WithMaxWait(cfg.PollMaxWait),
		job.WithLogger(logger),
		job.WithRecorder(collector),
	)

	videos := job.NewAnimateService(poller, job.NewMemoryRepository(), gate, store,
		job.WithServiceLogger(logger),
		job.WithServiceRecorder(collector),
	)

	logger.Info("generation backend configured",
		slog.String("video_model", cfg.VideoModel),
		slog.String("video_resolution", cfg.VideoResolution),
		slog.Bool("api_key_selected", gate.Check()),
	)

	return &Dependencies{
		Gate:         gate,
		VideoService: videos,
		Studio:       studio.NewService(backend, backend, store, logger),
		Decoder:      media.NewDecoder(cfg.MaxImageBytes),
		Metrics:      collector,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewDisk(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
