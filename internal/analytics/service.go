// Package analytics runs one analytics request end to end: it fetches the raw
// batches of every source for a window, normalizes them and hands the events
// to the engine.
package analytics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/engine"
	"github.com/lvonguyen/threatpulse/internal/filter"
	"github.com/lvonguyen/threatpulse/internal/mitre"
	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/risk"
	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// DefaultFetchTimeout bounds a single source fetch.
const DefaultFetchTimeout = 30 * time.Second

// ConnectionStatus reports whether the search backend answered a ping.
type ConnectionStatus struct {
	Connected bool    `json:"connected"`
	Host      string  `json:"host"`
	Error     *string `json:"error"`
}

// Cache stores encoded summaries by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// Options tunes a Service. Zero values take defaults.
type Options struct {
	FetchTimeout time.Duration
	Metrics      *observability.Metrics
	Tracer       trace.Tracer
	Cache        Cache
	// Host is reported in ConnectionStatus when the fetcher does not expose
	// one itself.
	Host string
	Now  func() time.Time
}

// Service is safe for concurrent use.
type Service struct {
	fetcher telemetry.Fetcher
	engine  *engine.Engine
	logger  *zap.Logger
	opts    Options
}

// NewService wires a fetcher to an engine.
func NewService(fetcher telemetry.Fetcher, eng *engine.Engine, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/lvonguyen/threatpulse/internal/analytics")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Host == "" {
		if h, ok := fetcher.(interface{ Host() string }); ok {
			opts.Host = h.Host()
		}
	}
	return &Service{fetcher: fetcher, engine: eng, logger: logger, opts: opts}
}

// Engine returns the engine the service computes with.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Window resolves a timeframe label against the service clock.
func (s *Service) Window(timeframe string) telemetry.Window {
	return telemetry.NewWindow(timeframe, s.opts.Now())
}

// Status pings the search backend.
func (s *Service) Status(ctx context.Context) ConnectionStatus {
	st := ConnectionStatus{Host: s.opts.Host}
	err := s.fetcher.HealthCheck(ctx)
	s.opts.Metrics.SetHealth("search_backend", err == nil)
	if err != nil {
		msg := err.Error()
		st.Error = &msg
		return st
	}
	st.Connected = true
	return st
}

// Fetch pulls every source's raw batch for the window concurrently. A failed
// source is logged and yields an empty batch, so the result always carries
// one entry per source.
func (s *Service) Fetch(ctx context.Context, w telemetry.Window) telemetry.Batches {
	sources := telemetry.EventTypes()
	raw := make([][]byte, len(sources))

	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func(i int, source telemetry.EventType) {
			defer wg.Done()
			raw[i] = s.fetchOne(ctx, w, source)
		}(i, source)
	}
	wg.Wait()

	batches := make(telemetry.Batches, len(sources))
	for i, source := range sources {
		batches[source] = raw[i]
	}
	return batches
}

func (s *Service) fetchOne(ctx context.Context, w telemetry.Window, source telemetry.EventType) []byte {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	ctx, span := s.opts.Tracer.Start(ctx, "analytics.fetch",
		trace.WithAttributes(
			attribute.String("source", string(source)),
			attribute.String("timeframe", w.Label),
		),
	)
	defer span.End()

	start := time.Now()
	body, err := s.fetcher.Fetch(ctx, w, source)
	s.opts.Metrics.ObserveFetch(string(source), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		s.logger.Warn("Source fetch failed, using empty batch",
			zap.String("source", string(source)),
			zap.String("timeframe", w.Label),
			zap.Error(err),
		)
		return nil
	}
	return body
}

// Collect fetches and normalizes every source for a timeframe. Events are
// concatenated in canonical source order.
func (s *Service) Collect(ctx context.Context, timeframe string) (telemetry.Window, []telemetry.Event) {
	w := s.Window(timeframe)
	batches := s.Fetch(ctx, w)

	var events []telemetry.Event
	for _, source := range telemetry.EventTypes() {
		evs := s.engine.Normalize(batches[source], source)
		s.opts.Metrics.AddNormalized(string(source), len(evs))
		events = append(events, evs...)
	}
	return w, events
}

// FilterRequest is the body of a filter call.
type FilterRequest struct {
	Timeframe     string             `json:"timeframe"`
	OperatorLogic string             `json:"operator_logic"`
	Filters       []filter.Criterion `json:"filters"`
	SearchQuery   string             `json:"search_query"`
}

// FilterResponse echoes the request parameters with the matching events.
type FilterResponse struct {
	Timeframe      string             `json:"timeframe"`
	OperatorLogic  filter.Logic       `json:"operator_logic_used"`
	FiltersApplied []filter.Criterion `json:"filters_applied"`
	Count          int                `json:"count"`
	Events         []telemetry.Event  `json:"events"`
}

// Filter returns the window's events narrowed by the request, newest first.
func (s *Service) Filter(ctx context.Context, req FilterRequest) FilterResponse {
	_, events := s.Collect(ctx, req.Timeframe)
	logic := filter.ParseLogic(req.OperatorLogic)

	start := time.Now()
	matched := s.engine.Filter(events, req.Filters, logic, req.SearchQuery)
	s.opts.Metrics.ObserveEngine("filter", time.Since(start))

	applied := req.Filters
	if applied == nil {
		applied = []filter.Criterion{}
	}
	if matched == nil {
		matched = []telemetry.Event{}
	}

	return FilterResponse{
		Timeframe:      req.Timeframe,
		OperatorLogic:  logic,
		FiltersApplied: applied,
		Count:          len(matched),
		Events:         matched,
	}
}

// Report is the full result of one analytics pass over a window.
type Report struct {
	Window  telemetry.Window
	Events  []telemetry.Event
	Summary engine.Summary
}

// Run collects a window and summarizes it, bypassing the cache.
func (s *Service) Run(ctx context.Context, timeframe string) Report {
	w, events := s.Collect(ctx, timeframe)

	start := time.Now()
	summary := s.engine.SummarizeEvents(timeframe, events)
	s.opts.Metrics.ObserveEngine("summarize", time.Since(start))
	s.recordSeverities(summary.Hosts)

	return Report{Window: w, Events: events, Summary: summary}
}

func (s *Service) recordSeverities(hosts []risk.HostRisk) {
	counts := make(map[string]int, 4)
	for _, h := range hosts {
		counts[h.Severity]++
	}
	s.opts.Metrics.SetHostSeverities(counts)
}

// SummaryResponse is an engine summary plus the backend connection status.
type SummaryResponse struct {
	Timeframe string               `json:"timeframe"`
	Status    ConnectionStatus     `json:"status_connect"`
	Count     int                  `json:"count"`
	Hosts     []risk.HostRisk      `json:"summary"`
	Stages    []mitre.StageStat    `json:"mitre"`
	Notable   []telemetry.Event    `json:"global_attack"`
	Events    []engine.EventTotals `json:"events"`
}

// NewSummaryResponse lays a summary out for the wire. Empty lists encode as
// [] rather than null.
func NewSummaryResponse(status ConnectionStatus, sum engine.Summary) SummaryResponse {
	resp := SummaryResponse{
		Timeframe: sum.Timeframe,
		Status:    status,
		Count:     sum.Count,
		Hosts:     sum.Hosts,
		Stages:    sum.Stages,
		Notable:   sum.Notable,
		Events:    sum.Events,
	}
	if resp.Hosts == nil {
		resp.Hosts = []risk.HostRisk{}
	}
	if resp.Notable == nil {
		resp.Notable = []telemetry.Event{}
	}
	return resp
}

func summaryKey(timeframe string) string {
	return "summary:" + timeframe
}

// Summary returns the window's summary and the backend status. Summaries are
// served from the cache when one is configured; the status is always live.
func (s *Service) Summary(ctx context.Context, timeframe string) SummaryResponse {
	status := s.Status(ctx)

	if s.opts.Cache != nil {
		if raw, ok := s.opts.Cache.Get(ctx, summaryKey(timeframe)); ok {
			var sum engine.Summary
			if err := json.Unmarshal(raw, &sum); err == nil {
				return NewSummaryResponse(status, sum)
			}
			s.logger.Warn("Discarding undecodable cached summary", zap.String("timeframe", timeframe))
		}
	}

	sum := s.Run(ctx, timeframe).Summary

	if s.opts.Cache != nil {
		if raw, err := json.Marshal(sum); err == nil {
			s.opts.Cache.Set(ctx, summaryKey(timeframe), raw)
		}
	}
	return NewSummaryResponse(status, sum)
}
