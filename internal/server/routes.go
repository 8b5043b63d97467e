package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/maauso/genstudio-api/internal/metrics"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// RateLimitRPS is the per-client request rate on generation endpoints.
	// Zero disables rate limiting.
	RateLimitRPS float64
	// RateLimitBurst is the per-client burst on generation endpoints.
	RateLimitBurst int
	// Metrics, when set, records request metrics and serves GET /metrics.
	Metrics *metrics.Collector
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		RateLimitRPS:   2,
		RateLimitBurst: 5,
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing. ctx bounds the
// background cleanup of the rate limiter.
func NewRouter(ctx context.Context, h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	limit := func(next http.HandlerFunc) http.Handler { return next }
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		rl := RateLimitMiddleware(ctx, cfg.RateLimitRPS, burst, logger)
		limit = func(next http.HandlerFunc) http.Handler { return rl(next) }
	}

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /services", h.Services)

	mux.HandleFunc("GET /credential", h.GetCredential)
	mux.HandleFunc("PUT /credential", h.PutCredential)
	mux.HandleFunc("DELETE /credential", h.DeleteCredential)

	// Generation endpoints call the paid backend and are rate limited.
	mux.Handle("POST /analyze", limit(h.Analyze))
	mux.Handle("POST /images", limit(h.GenerateImage))
	mux.Handle("POST /images/edit", limit(h.EditImage))
	mux.Handle("POST /videos", limit(h.CreateVideo))

	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /jobs/{id}/events", h.GetJobEvents)
	mux.HandleFunc("GET /jobs/{id}/video", h.GetJobVideo)
	mux.HandleFunc("DELETE /jobs/{id}", h.CancelJob)

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
		middlewares = append(middlewares, MetricsMiddleware(cfg.Metrics))
	}
	middlewares = append(middlewares, CORSMiddleware(cfg.AllowedOrigins))

	return ChainMiddleware(middlewares...)(mux)
}
