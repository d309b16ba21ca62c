package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lvonguyen/threatpulse/internal/analytics"
	"github.com/lvonguyen/threatpulse/internal/api/gateway"
	"github.com/lvonguyen/threatpulse/internal/filter"
	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/risk"
)

const testKey = "internal-key"

type fakeAnalytics struct {
	filterReq  analytics.FilterRequest
	timeframes []string
}

func (f *fakeAnalytics) Filter(_ context.Context, req analytics.FilterRequest) analytics.FilterResponse {
	f.filterReq = req
	return analytics.FilterResponse{
		Timeframe:      req.Timeframe,
		OperatorLogic:  filter.ParseLogic(req.OperatorLogic),
		FiltersApplied: req.Filters,
	}
}

func (f *fakeAnalytics) Summary(_ context.Context, timeframe string) analytics.SummaryResponse {
	f.timeframes = append(f.timeframes, timeframe)
	return analytics.SummaryResponse{
		Timeframe: timeframe,
		Status:    analytics.ConnectionStatus{Connected: true, Host: "search"},
		Count:     1,
		Hosts:     []risk.HostRisk{{IP: "192.168.1.10", Score: 19.67, Severity: risk.SeverityLow}},
	}
}

func newTestRouter(t *testing.T, svc Analytics, opts Options) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if opts.Auth == nil {
		opts.Auth = gateway.NewAuthenticator(gateway.AuthConfig{ServiceKey: testKey}, logger)
	}
	return NewRouter(svc, logger, opts)
}

func post(h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

var authed = map[string]string{gateway.ServiceKeyHeader: testKey}

// ============================================================================
// Analytics endpoints
// ============================================================================

func TestFilterEndpoint(t *testing.T) {
	svc := &fakeAnalytics{}
	h := newTestRouter(t, svc, Options{})

	rec := post(h, "/api/threats/events/filter", `{
		"timeframe": "last7days",
		"operator_logic": "or",
		"filters": [{"field": "severity", "operator": "is", "value": "high"}],
		"search_query": "192.168"
	}`, authed)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "192.168", svc.filterReq.SearchQuery)
	require.Len(t, svc.filterReq.Filters, 1)
	assert.Equal(t, filter.OpIs, svc.filterReq.Filters[0].Operator)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "last7days", body["timeframe"])
	assert.Equal(t, "OR", body["operator_logic_used"])
}

func TestSummaryEndpoint(t *testing.T) {
	svc := &fakeAnalytics{}
	h := newTestRouter(t, svc, Options{})

	rec := post(h, "/api/threats/events/summary", `{"timeframe":"today"}`, authed)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"today"}, svc.timeframes)

	var body analytics.SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Status.Connected)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "192.168.1.10", body.Hosts[0].IP)
}

func TestEndpoints_BadRequests(t *testing.T) {
	h := newTestRouter(t, &fakeAnalytics{}, Options{})

	tests := []struct {
		name    string
		path    string
		body    string
		wantErr string
	}{
		{"filter malformed", "/api/threats/events/filter", `{"timeframe":`, "invalid request body"},
		{"filter no timeframe", "/api/threats/events/filter", `{"filters":[]}`, "timeframe is required"},
		{"summary no timeframe", "/api/threats/events/summary", `{}`, "timeframe is required"},
		{"summary wrong type", "/api/threats/events/summary", `{"timeframe":7}`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h, tt.path, tt.body, authed)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"`+tt.wantErr+`"}`, rec.Body.String())
		})
	}
}

// ============================================================================
// Auth
// ============================================================================

func TestEndpoints_RequireAuth(t *testing.T) {
	svc := &fakeAnalytics{}
	h := newTestRouter(t, svc, Options{})

	rec := post(h, "/api/threats/events/summary", `{"timeframe":"today"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(h, "/api/threats/events/summary", `{"timeframe":"today"}`, map[string]string{gateway.ServiceKeyHeader: "nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Empty(t, svc.timeframes)
}

func TestEndpoints_ServiceToken(t *testing.T) {
	auth := gateway.NewAuthenticator(gateway.AuthConfig{JWTSecret: "secret"}, nil)
	h := newTestRouter(t, &fakeAnalytics{}, Options{Auth: auth})

	tok, err := gateway.IssueServiceToken("secret", gateway.DefaultIssuer, "dashboard", time.Minute)
	require.NoError(t, err)

	rec := post(h, "/api/threats/events/summary", `{"timeframe":"today"}`, map[string]string{"Authorization": "Bearer " + tok})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEndpoints_RateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rl := gateway.NewRateLimiter(client, gateway.RateLimitConfig{
		Tiers:     map[string]gateway.TierLimits{gateway.TierInternal: {RequestsPerMinute: 2}},
		Endpoints: map[string]gateway.EndpointLimits{},
	}, zaptest.NewLogger(t))
	h := newTestRouter(t, &fakeAnalytics{}, Options{RateLimiter: rl})

	for i := 0; i < 2; i++ {
		rec := post(h, "/api/threats/events/summary", `{"timeframe":"today"}`, authed)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := post(h, "/api/threats/events/summary", `{"timeframe":"today"}`, authed)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.True(t, mr.Exists("threatpulse:ratelimit:internal:service-key:/api/threats/events/summary:minute"))
}

// ============================================================================
// Health, readiness and metrics
// ============================================================================

func TestHealth(t *testing.T) {
	h := newTestRouter(t, &fakeAnalytics{}, Options{Version: "1.2.3"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","version":"1.2.3"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]ReadinessCheck
		wantCode int
		wantBody string
	}{
		{
			name:     "no checks",
			wantCode: http.StatusOK,
			wantBody: `{"status":"ready","checks":{}}`,
		},
		{
			name: "all healthy",
			checks: map[string]ReadinessCheck{
				"opensearch": func(context.Context) error { return nil },
			},
			wantCode: http.StatusOK,
			wantBody: `{"status":"ready","checks":{"opensearch":"ok"}}`,
		},
		{
			name: "one down",
			checks: map[string]ReadinessCheck{
				"opensearch": func(context.Context) error { return nil },
				"redis":      func(context.Context) error { return errors.New("connection refused") },
			},
			wantCode: http.StatusServiceUnavailable,
			wantBody: `{"status":"not ready","checks":{"opensearch":"ok","redis":"connection refused"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, &fakeAnalytics{}, Options{Readiness: tt.checks})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := observability.NewMetrics(nil)
	h := newTestRouter(t, &fakeAnalytics{}, Options{Metrics: m})

	post(h, "/api/threats/events/summary", `{"timeframe":"today"}`, authed)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`threatpulse_http_requests_total{method="POST",path="/api/threats/events/summary",status="200"} 1`)
}
