package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Registering twice on the default registry would panic.
	a := NewMetrics(nil)
	b := NewMetrics(nil)
	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestMetrics_Helpers(t *testing.T) {
	m := NewMetrics(nil)

	m.ObserveFetch("sophos", 20*time.Millisecond, nil)
	m.ObserveFetch("sophos", 5*time.Millisecond, errors.New("boom"))
	m.AddNormalized("panw", 7)
	m.CacheResult("redis", true)
	m.CacheResult("redis", false)
	m.CacheResult("redis", false)
	m.PushResult("today", nil)
	m.MirrorResult(3, nil)
	m.ForwardResult("splunk", errors.New("down"))
	m.SetHealth("opensearch", true)
	m.SetHostSeverities(map[string]int{"Low": 2, "High": 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchFailures.WithLabelValues("sophos")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.EventsNormalized.WithLabelValues("panw")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("redis", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushPublished.WithLabelValues("today", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsMirrored.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Forwarded.WithLabelValues("splunk", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthStatus.WithLabelValues("opensearch")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HostsScored.WithLabelValues("Low")))

	m.SetHostSeverities(map[string]int{"Critical": 1})
	assert.Equal(t, 1, testutil.CollectAndCount(m.HostsScored))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("suricata", time.Second, errors.New("x"))
		m.AddNormalized("suricata", 1)
		m.ObserveEngine("summarize", time.Millisecond)
		m.CacheResult("lru", true)
		m.PushResult("today", nil)
		m.MirrorResult(1, nil)
		m.ForwardResult("splunk", nil)
		m.SetHealth("redis", false)
		m.SetHostSeverities(nil)
		m.ObserveRequest("GET", "/health", 200, time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.ObserveRequest(http.MethodPost, "/api/threats/events/summary", http.StatusOK, 12*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `threatpulse_http_requests_total{method="POST",path="/api/threats/events/summary",status="200"} 1`))
}

func TestTelemetry_MetricsDisabled(t *testing.T) {
	tel, err := New(Config{ServiceName: "threatpulse", LogLevel: "error", MetricsEnabled: false})
	require.NoError(t, err)
	defer tel.Shutdown(t.Context())

	assert.Nil(t, tel.Metrics())
	assert.NotNil(t, tel.Logger())

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTelemetry_MetricsEnabledExportsProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("process metrics are read from procfs")
	}

	tel, err := New(Config{ServiceName: "threatpulse", LogLevel: "error", MetricsEnabled: true})
	require.NoError(t, err)
	defer tel.Shutdown(t.Context())

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "threatpulse_process_resident_memory_bytes")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		debug bool
		warn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"", false, true},
		{"error", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(Config{LogLevel: tt.level})
			require.NoError(t, err)
			assert.Equal(t, tt.debug, logger.Core().Enabled(-1))
			assert.Equal(t, tt.warn, logger.Core().Enabled(1))
		})
	}
}
