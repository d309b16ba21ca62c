// Package engine composes normalization, filtering, scoring and statistics
// into the analytics computed for one time window. Every method is a pure
// transform of its input: the engine performs no I/O and keeps no state
// between calls.
package engine

import (
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/filter"
	"github.com/lvonguyen/threatpulse/internal/mitre"
	"github.com/lvonguyen/threatpulse/internal/risk"
	"github.com/lvonguyen/threatpulse/internal/stats"
	"github.com/lvonguyen/threatpulse/internal/telemetry"
	"github.com/lvonguyen/threatpulse/internal/telemetry/normalization"
)

// Config is the immutable configuration of an Engine.
type Config struct {
	Weights  risk.Weights
	Internal risk.Matcher
	Stages   *mitre.Taxonomy
}

// DefaultConfig returns the standard weights, the literal 192.168. internal
// matcher and the five-stage taxonomy.
func DefaultConfig() Config {
	return Config{
		Weights:  risk.DefaultWeights(),
		Internal: risk.DefaultMatcher(),
		Stages:   mitre.DefaultTaxonomy(),
	}
}

// Engine runs the analytics over in-memory batches. It is safe for
// concurrent use.
type Engine struct {
	cfg        Config
	normalizer *normalization.Normalizer
	scorer     *risk.Scorer
}

// New creates an engine. Zero-valued parts of cfg take their defaults.
func New(cfg Config, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Weights.Module == nil {
		cfg.Weights = def.Weights
	}
	if cfg.Internal.Mode() == "" {
		cfg.Internal = def.Internal
	}
	if cfg.Stages == nil {
		cfg.Stages = def.Stages
	}

	return &Engine{
		cfg:        cfg,
		normalizer: normalization.NewNormalizer(logger),
		scorer:     risk.NewScorer(cfg.Weights, cfg.Internal),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Normalize converts one raw search response into events.
func (e *Engine) Normalize(raw []byte, source telemetry.EventType) []telemetry.Event {
	return e.normalizer.Normalize(raw, source)
}

// Combine normalizes every batch and concatenates the events in canonical
// source order.
func (e *Engine) Combine(batches telemetry.Batches) []telemetry.Event {
	perSource := e.normalizer.NormalizeAll(batches)

	var n int
	for _, evs := range perSource {
		n += len(evs)
	}
	out := make([]telemetry.Event, 0, n)
	for _, t := range telemetry.EventTypes() {
		out = append(out, perSource[t]...)
	}
	return out
}

// Filter narrows events by criteria and search text, newest first.
func (e *Engine) Filter(events []telemetry.Event, criteria []filter.Criterion, logic filter.Logic, search string) []telemetry.Event {
	return filter.Apply(events, criteria, logic, search)
}

// ScoreHosts returns the five highest-risk internal hosts.
func (e *Engine) ScoreHosts(events []telemetry.Event) []risk.HostRisk {
	return e.scorer.ScoreHosts(events)
}

// StageStats returns the attack-stage distribution, one entry per stage.
func (e *Engine) StageStats(events []telemetry.Event) []mitre.StageStat {
	return e.cfg.Stages.Stats(events)
}

// WindowStats returns totals and the hourly timeline for a window.
func (e *Engine) WindowStats(events []telemetry.Event, window string) stats.WindowStats {
	return stats.ForWindow(events, window)
}

// SourceStats returns per-source totals and timelines.
func (e *Engine) SourceStats(events []telemetry.Event) []stats.SourceStats {
	return stats.BySource(events)
}

// NotableEvents returns the global attack feed.
func (e *Engine) NotableEvents(events []telemetry.Event) []telemetry.Event {
	return stats.NotableEvents(events, e.cfg.Internal)
}

// EventTotals is the volume section of a Summary.
type EventTotals struct {
	Total     int                 `json:"total"`
	PerSecond float64             `json:"seconds"`
	Sources   []stats.SourceStats `json:"list"`
}

// Summary is the full analytics view of one window.
type Summary struct {
	Timeframe string            `json:"timeframe"`
	Count     int               `json:"count"`
	Hosts     []risk.HostRisk   `json:"summary"`
	Stages    []mitre.StageStat `json:"mitre"`
	Notable   []telemetry.Event `json:"global_attack"`
	Events    []EventTotals     `json:"events"`
}

// Summarize normalizes the raw batches of a window and computes its summary.
func (e *Engine) Summarize(window string, batches telemetry.Batches) Summary {
	return e.SummarizeEvents(window, e.Combine(batches))
}

// SummarizeEvents computes the summary of already normalized events.
func (e *Engine) SummarizeEvents(window string, events []telemetry.Event) Summary {
	hosts := e.ScoreHosts(events)
	ws := e.WindowStats(events, window)

	return Summary{
		Timeframe: window,
		Count:     len(hosts),
		Hosts:     hosts,
		Stages:    e.StageStats(events),
		Notable:   e.NotableEvents(events),
		Events: []EventTotals{{
			Total:     ws.Total,
			PerSecond: ws.PerSecond,
			Sources:   e.SourceStats(events),
		}},
	}
}
