// Package api exposes the analytics service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/analytics"
	"github.com/lvonguyen/threatpulse/internal/api/gateway"
	"github.com/lvonguyen/threatpulse/internal/observability"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Analytics is the part of the analytics service the handlers call.
type Analytics interface {
	Filter(ctx context.Context, req analytics.FilterRequest) analytics.FilterResponse
	Summary(ctx context.Context, timeframe string) analytics.SummaryResponse
}

// ReadinessCheck probes one dependency.
type ReadinessCheck func(ctx context.Context) error

// Options configures the router. Auth is required; the limiter and metrics
// are optional.
type Options struct {
	Version        string
	Auth           *gateway.Authenticator
	RateLimiter    *gateway.RateLimiter
	Metrics        *observability.Metrics
	RequestTimeout time.Duration
	Readiness      map[string]ReadinessCheck
}

type handlers struct {
	svc    Analytics
	logger *zap.Logger
	opts   Options
}

// NewRouter builds the HTTP handler.
func NewRouter(svc Analytics, logger *zap.Logger, opts Options) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Auth == nil {
		opts.Auth = gateway.NewAuthenticator(gateway.AuthConfig{}, logger)
	}
	h := &handlers{svc: svc, logger: logger, opts: opts}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Get("/health", h.health)
	r.Get("/ready", h.ready)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Route("/api/threats", func(r chi.Router) {
		r.Use(opts.Auth.Middleware)
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Middleware(nil, nil))
		}
		r.Post("/events/filter", h.filter)
		r.Post("/events/summary", h.summary)
	})

	return r
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": h.opts.Version})
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.opts.Readiness))
	for name := range h.opts.Readiness {
		names = append(names, name)
	}
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		err := h.opts.Readiness[name](ctx)
		h.opts.Metrics.SetHealth(name, err == nil)
		if err != nil {
			checks[name] = err.Error()
			status, code = "not ready", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]interface{}{"status": status, "checks": checks})
}

var errMissingTimeframe = errors.New("timeframe is required")

func (h *handlers) filter(w http.ResponseWriter, r *http.Request) {
	var req analytics.FilterRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Timeframe == "" {
		writeError(w, http.StatusBadRequest, errMissingTimeframe)
		return
	}

	writeJSON(w, http.StatusOK, h.svc.Filter(r.Context(), req))
}

type summaryRequest struct {
	Timeframe string `json:"timeframe"`
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Timeframe == "" {
		writeError(w, http.StatusBadRequest, errMissingTimeframe)
		return
	}

	writeJSON(w, http.StatusOK, h.svc.Summary(r.Context(), req.Timeframe))
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// requestLogger logs each request with zap and records its route metrics.
func requestLogger(logger *zap.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)

			metrics.ObserveRequest(r.Method, route, status, elapsed)
			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
