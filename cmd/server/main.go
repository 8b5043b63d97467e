// Package main provides the entry point for the GenStudio API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/genstudio-api/internal/bootstrap"
	"github.com/maauso/genstudio-api/internal/config"
	"github.com/maauso/genstudio-api/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting GenStudio API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Duration("poll_max_wait", cfg.PollMaxWait),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()

	if cfg.JobRetention > 0 {
		go deps.VideoService.RunJanitor(appCtx, janitorInterval(cfg.JobRetention), cfg.JobRetention)
	}

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(deps.VideoService, deps.Studio, deps.Gate, logger,
		server.WithDecoder(deps.Decoder),
		server.WithGenerationRecorder(deps.Metrics),
	)
	router := server.NewRouter(appCtx, handlers, logger, server.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        deps.Metrics,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Image generation and video downloads can take minutes.
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	// Running video jobs end as cancelled.
	if err := deps.VideoService.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop video jobs: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// janitorInterval checks for expired jobs once a minute, or more often when
// the retention is shorter.
func janitorInterval(retention time.Duration) time.Duration {
	return min(retention, time.Minute)
}
