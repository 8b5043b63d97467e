// Package metrics provides the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "genstudio"

// Collector holds the service metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	videoPollsTotal   *prometheus.CounterVec
	videoJobsTotal    *prometheus.CounterVec
	videoJobDuration  *prometheus.HistogramVec
	generationsTotal  *prometheus.CounterVec
	generationLatency *prometheus.HistogramVec
}

// NewCollector creates a collector registered on a fresh registry, together
// with the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.videoPollsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_status_checks_total",
			Help:      "Total number of video operation status checks",
		},
		[]string{"outcome"},
	)

	c.videoJobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_jobs_total",
			Help:      "Total number of finished video jobs",
		},
		[]string{"outcome"},
	)

	c.videoJobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "video_job_duration_seconds",
			Help:      "Video job duration from submission to outcome in seconds",
			Buckets:   []float64{10, 30, 60, 120, 180, 300, 600, 1200},
		},
		[]string{"outcome"},
	)

	c.generationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of synchronous generation calls",
		},
		[]string{"operation", "status"},
	)

	c.generationLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Synchronous generation call duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	return c
}

// Registry returns the registry the collectors are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGeneration records one synchronous analyze, generate or edit call.
func (c *Collector) RecordGeneration(operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.generationsTotal.WithLabelValues(operation, status).Inc()
	c.generationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// PollObserved records one video status check.
func (c *Collector) PollObserved(outcome string) {
	c.videoPollsTotal.WithLabelValues(outcome).Inc()
}

// JobFinished records the outcome of one video job.
func (c *Collector) JobFinished(outcome string, duration time.Duration) {
	c.videoJobsTotal.WithLabelValues(outcome).Inc()
	c.videoJobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}
