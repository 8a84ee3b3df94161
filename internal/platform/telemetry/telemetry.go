// Package telemetry exposes Prometheus metrics for the HTTP layer and the
// background enrichment workers. A nil *Metrics records nothing.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pacs"

// Enrichment outcomes.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	enrichmentRuns     *prometheus.CounterVec
	enrichmentDuration prometheus.Histogram
	enrichmentQueue    prometheus.Gauge

	instancesAccepted prometheus.Counter
	instancesRejected prometheus.Counter
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		enrichmentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "enrichment", Name: "runs_total",
			Help: "Enrichment runs by outcome.",
		}, []string{"outcome"}),
		enrichmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "enrichment", Name: "run_duration_seconds",
			Help:    "Duration of completed enrichment runs.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		enrichmentQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "enrichment", Name: "queue_depth",
			Help: "Studies waiting for enrichment.",
		}),
		instancesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "instances", Name: "accepted_total",
			Help: "Uploaded blobs stored as instances.",
		}),
		instancesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "instances", Name: "rejected_total",
			Help: "Uploaded blobs skipped because they were not valid DICOM.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.enrichmentRuns, m.enrichmentDuration, m.enrichmentQueue,
		m.instancesAccepted, m.instancesRejected,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency keyed by the matched route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) EnrichmentFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.enrichmentRuns.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.enrichmentDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) EnrichmentQueued(depth int) {
	if m == nil {
		return
	}
	m.enrichmentQueue.Set(float64(depth))
}

func (m *Metrics) InstancesPlaced(accepted, rejected int) {
	if m == nil {
		return
	}
	m.instancesAccepted.Add(float64(accepted))
	m.instancesRejected.Add(float64(rejected))
}
