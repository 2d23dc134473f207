// Package metrics provides Prometheus metrics for the concept gateway
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Index metrics
	IndexUpdatesTotal     *prometheus.CounterVec
	RebuildsTotal         *prometheus.CounterVec
	RebuildDuration       prometheus.Histogram
	RebuildFilesProcessed prometheus.Histogram
	RebuildFileErrors     prometheus.Counter

	// Content store metrics
	StoreErrorsTotal *prometheus.CounterVec
}

// NewMetrics registers every metric on a dedicated registry so several
// instances can coexist in one process
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conceptstore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conceptstore_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.IndexUpdatesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conceptstore_index_updates_total",
			Help: "Incremental index updates by operation and outcome",
		},
		[]string{"op", "result"},
	)

	m.RebuildsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conceptstore_index_rebuilds_total",
			Help: "Full index rebuilds by outcome",
		},
		[]string{"result"},
	)

	m.RebuildDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conceptstore_index_rebuild_duration_seconds",
			Help:    "Duration of full index rebuilds in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	m.RebuildFilesProcessed = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conceptstore_index_rebuild_files",
			Help:    "Objects indexed per rebuild",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	m.RebuildFileErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "conceptstore_index_rebuild_file_errors_total",
			Help: "Objects skipped during rebuilds because they could not be fetched or parsed",
		},
	)

	m.StoreErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conceptstore_store_errors_total",
			Help: "Content store errors by kind",
		},
		[]string{"kind"},
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordIndexUpdate counts one incremental update
func (m *Metrics) RecordIndexUpdate(op string, err error) {
	if m == nil {
		return
	}
	m.IndexUpdatesTotal.WithLabelValues(op, Outcome(err)).Inc()
	m.recordStoreError(err)
}

// RecordRebuild counts one rebuild attempt
func (m *Metrics) RecordRebuild(start time.Time, processed, fileErrors int, err error) {
	if m == nil {
		return
	}
	m.RebuildsTotal.WithLabelValues(Outcome(err)).Inc()
	if err != nil {
		m.recordStoreError(err)
		return
	}
	m.RebuildDuration.Observe(time.Since(start).Seconds())
	m.RebuildFilesProcessed.Observe(float64(processed))
	m.RebuildFileErrors.Add(float64(fileErrors))
}

// RecordRequest counts one HTTP request
func (m *Metrics) RecordRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, http.StatusText(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) recordStoreError(err error) {
	if err == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(Outcome(err)).Inc()
}

// Outcome classifies an error into a low-cardinality label
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrConflict):
		return "conflict"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, types.ErrForbidden), errors.Is(err, types.ErrUnauthorized):
		return "denied"
	case errors.Is(err, types.ErrMalformedPayload):
		return "malformed"
	default:
		return "error"
	}
}
