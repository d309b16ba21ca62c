package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threatpulse"

// Metrics holds the Prometheus metrics for threatpulse. All helper methods
// are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Fetch and normalization
	EventsNormalized *prometheus.CounterVec
	FetchFailures    *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec

	// Engine
	EngineDuration *prometheus.HistogramVec
	HostsScored    *prometheus.GaugeVec

	// Collaborators
	CacheRequests  *prometheus.CounterVec
	PushPublished  *prometheus.CounterVec
	EventsMirrored *prometheus.CounterVec
	Forwarded      *prometheus.CounterVec

	// System metrics
	GoroutineCount prometheus.Gauge
	MemoryUsage    prometheus.Gauge

	// Health metrics
	HealthStatus    *prometheus.GaugeVec
	LastHealthCheck prometheus.Gauge

	// API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the metrics on reg. A nil reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsNormalized: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_normalized_total",
				Help:      "Events produced by the source adapters",
			},
			[]string{"source"},
		),
		FetchFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_failures_total",
				Help:      "Source fetches that failed and were replaced by an empty batch",
			},
			[]string{"source"},
		),
		FetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Search backend fetch duration by source",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"source"},
		),
		EngineDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_duration_seconds",
				Help:      "Engine computation duration by operation",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"operation"},
		),
		HostsScored: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "hosts_scored",
				Help:      "Internal hosts in the latest summary by severity",
			},
			[]string{"severity"},
		),
		CacheRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Summary cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		PushPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_published_total",
				Help:      "Summaries published to the message bus",
			},
			[]string{"timeframe", "status"},
		),
		EventsMirrored: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_mirrored_total",
				Help:      "Events written to the relational mirror",
			},
			[]string{"status"},
		),
		Forwarded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forwarded_total",
				Help:      "Risk results forwarded to downstream sinks",
			},
			[]string{"sink", "status"},
		),
		GoroutineCount: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutine_count",
				Help:      "Current goroutine count",
			},
		),
		MemoryUsage: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),
		HealthStatus: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "health_status",
				Help:      "Health status of components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),
		LastHealthCheck: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_health_check_timestamp",
				Help:      "Timestamp of last health check",
			},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "path"},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFetch records one source fetch.
func (m *Metrics) ObserveFetch(source string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
	if err != nil {
		m.FetchFailures.WithLabelValues(source).Inc()
	}
}

// AddNormalized counts events produced for a source.
func (m *Metrics) AddNormalized(source string, n int) {
	if m == nil {
		return
	}
	m.EventsNormalized.WithLabelValues(source).Add(float64(n))
}

// ObserveEngine records the duration of an engine operation.
func (m *Metrics) ObserveEngine(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.EngineDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetHostSeverities replaces the per-severity host gauge.
func (m *Metrics) SetHostSeverities(counts map[string]int) {
	if m == nil {
		return
	}
	m.HostsScored.Reset()
	for sev, n := range counts {
		m.HostsScored.WithLabelValues(sev).Set(float64(n))
	}
}

// CacheResult records a cache lookup on a tier.
func (m *Metrics) CacheResult(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(tier, result).Inc()
}

// PushResult records one publish attempt.
func (m *Metrics) PushResult(timeframe string, err error) {
	if m == nil {
		return
	}
	m.PushPublished.WithLabelValues(timeframe, status(err)).Inc()
}

// MirrorResult records n events written (or not) to the mirror.
func (m *Metrics) MirrorResult(n int, err error) {
	if m == nil {
		return
	}
	m.EventsMirrored.WithLabelValues(status(err)).Add(float64(n))
}

// ForwardResult records one forward to a sink.
func (m *Metrics) ForwardResult(sink string, err error) {
	if m == nil {
		return
	}
	m.Forwarded.WithLabelValues(sink, status(err)).Inc()
}

// SetHealth records a component health probe.
func (m *Metrics) SetHealth(component string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.HealthStatus.WithLabelValues(component).Set(v)
	m.LastHealthCheck.SetToCurrentTime()
}

// ObserveRequest records one HTTP request. path should be a route pattern,
// not the raw URL.
func (m *Metrics) ObserveRequest(method, path string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
