// Package correlation links the events of one window into per-host chains
// seen by more than one sensor.
package correlation

import (
	"slices"
	"strings"
	"time"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// EventChain is the time-ordered activity of one source address.
type EventChain struct {
	Entity     string                `json:"entity"`
	StartTime  *time.Time            `json:"start_time"`
	EndTime    *time.Time            `json:"end_time"`
	Sources    []telemetry.EventType `json:"sources"`
	Stages     []string              `json:"mitre_chain"`
	EventCount int                   `json:"event_count"`
	Events     []telemetry.Event     `json:"events"`
}

// CorrelatorConfig holds configuration for the correlator
type CorrelatorConfig struct {
	// MinEvents is the number of events an entity needs to form a chain.
	MinEvents int `yaml:"min_events"`
	// MinSources is the number of distinct sensors that must have seen it.
	MinSources int `yaml:"min_sources"`
}

// DefaultCorrelatorConfig keeps entities seen by at least two sensors.
func DefaultCorrelatorConfig() CorrelatorConfig {
	return CorrelatorConfig{MinEvents: 2, MinSources: 2}
}

// Correlator correlates related events into attack chains
type Correlator struct {
	config CorrelatorConfig
}

// NewCorrelator creates a new correlator
func NewCorrelator(cfg CorrelatorConfig) *Correlator {
	if cfg.MinEvents < 1 {
		cfg.MinEvents = 1
	}
	if cfg.MinSources < 1 {
		cfg.MinSources = 1
	}
	return &Correlator{config: cfg}
}

// Correlate groups events by source address and returns the chains that
// meet the thresholds, widest sensor coverage first. The input is not
// modified.
func (c *Correlator) Correlate(events []telemetry.Event) []EventChain {
	var chains []EventChain
	for entity, group := range groupByEntity(events) {
		if len(group) < c.config.MinEvents {
			continue
		}
		chain := buildChain(entity, group)
		if len(chain.Sources) >= c.config.MinSources {
			chains = append(chains, chain)
		}
	}

	slices.SortFunc(chains, func(a, b EventChain) int {
		if d := len(b.Sources) - len(a.Sources); d != 0 {
			return d
		}
		if d := b.EventCount - a.EventCount; d != 0 {
			return d
		}
		return strings.Compare(a.Entity, b.Entity)
	})
	return chains
}

func groupByEntity(events []telemetry.Event) map[string][]telemetry.Event {
	byEntity := make(map[string][]telemetry.Event)
	for _, ev := range events {
		if ev.SourceIP == "" {
			continue
		}
		byEntity[ev.SourceIP] = append(byEntity[ev.SourceIP], ev)
	}
	return byEntity
}

// buildChain orders events oldest first; events without a timestamp go last.
func buildChain(entity string, events []telemetry.Event) EventChain {
	slices.SortStableFunc(events, func(a, b telemetry.Event) int {
		switch {
		case a.Timestamp == nil && b.Timestamp == nil:
			return 0
		case a.Timestamp == nil:
			return 1
		case b.Timestamp == nil:
			return -1
		}
		return a.Timestamp.Compare(*b.Timestamp)
	})

	chain := EventChain{Entity: entity, Events: events}
	for i := range events {
		ev := &events[i]
		chain.EventCount += max(ev.Count, 1)

		if !slices.Contains(chain.Sources, ev.Type) {
			chain.Sources = append(chain.Sources, ev.Type)
		}
		if ev.HasStage() && !slices.Contains(chain.Stages, ev.MitreStage) {
			chain.Stages = append(chain.Stages, ev.MitreStage)
		}
		if ev.Timestamp != nil {
			if chain.StartTime == nil {
				chain.StartTime = ev.Timestamp
			}
			chain.EndTime = ev.Timestamp
		}
	}
	return chain
}
