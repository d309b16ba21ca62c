// Package risk ranks internal hosts by a weighted, multi-factor score over a
// batch of canonical events.
package risk

import (
	"math"
	"slices"
	"strings"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// Severity labels attached to host scores.
const (
	SeverityLow      = "Low"
	SeverityMedium   = "Medium"
	SeverityHigh     = "High"
	SeverityCritical = "Critical"
)

const (
	// TopHosts is the number of hosts ScoreHosts returns.
	TopHosts = 5

	minScore = 1.0
	maxScore = 100.0
)

// HostRisk is the aggregated risk of one internal host.
type HostRisk struct {
	IP           string  `json:"ip"`
	EventCount   int     `json:"event_count"`
	ModuleCount  int     `json:"modul_count"`
	SubTypeCount int     `json:"sub_type_count"`
	Score        float64 `json:"score"`
	Severity     string  `json:"severity"`
}

// Scorer computes host risk scores. It is safe for concurrent use.
type Scorer struct {
	weights Weights
	matcher Matcher
}

// NewScorer creates a scorer from weight tables and an internal-host matcher.
func NewScorer(weights Weights, matcher Matcher) *Scorer {
	return &Scorer{weights: weights, matcher: matcher}
}

// EventScore is the contribution of a single event whose (host, rule) pair
// occurs dup times in the batch.
func (s *Scorer) EventScore(ev *telemetry.Event, dup int) float64 {
	w := &s.weights
	return w.module(ev.Type) *
		w.severity(ev.Severity) *
		w.subType(ev.SubType) *
		w.rule(ev.Description) *
		w.TimeDecay *
		DupDamping(dup)
}

type hostAgg struct {
	ip       string
	events   int
	modules  map[string]struct{}
	subTypes map[string]struct{}
	raw      float64
}

type ruleKey struct {
	ip   string
	rule string
}

// ScoreHosts returns the TopHosts highest-scoring internal hosts, highest
// first. Hosts with equal scores keep the order in which they first appear.
// Events with no internal address are ignored.
func (s *Scorer) ScoreHosts(events []telemetry.Event) []HostRisk {
	hosts := make([]string, len(events))
	dups := make(map[ruleKey]int)
	for i := range events {
		ip, ok := s.matcher.InternalHost(&events[i])
		if !ok {
			continue
		}
		hosts[i] = ip
		dups[ruleKey{ip, events[i].Description}]++
	}

	var order []*hostAgg
	byIP := make(map[string]*hostAgg)
	for i := range events {
		ip := hosts[i]
		if ip == "" {
			continue
		}
		ev := &events[i]

		agg, ok := byIP[ip]
		if !ok {
			agg = &hostAgg{
				ip:       ip,
				modules:  make(map[string]struct{}),
				subTypes: make(map[string]struct{}),
			}
			byIP[ip] = agg
			order = append(order, agg)
		}
		agg.events++
		agg.modules[strings.ToLower(string(ev.Type))] = struct{}{}
		agg.subTypes[strings.ToLower(ev.SubType)] = struct{}{}
		agg.raw += s.EventScore(ev, dups[ruleKey{ip, ev.Description}])
	}

	results := make([]HostRisk, 0, len(order))
	for _, agg := range order {
		results = append(results, finalize(agg))
	}

	slices.SortStableFunc(results, func(a, b HostRisk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	if len(results) > TopHosts {
		results = results[:TopHosts]
	}
	return results
}

func finalize(agg *hostAgg) HostRisk {
	modules := len(agg.modules)
	subTypes := len(agg.subTypes)

	raw := agg.raw
	raw *= 1 + 0.2*float64(modules-1)
	raw *= 1 + 0.1*float64(min(subTypes-1, 3))

	score := math.Min(maxScore, math.Max(minScore, raw*2))

	return HostRisk{
		IP:           agg.ip,
		EventCount:   agg.events,
		ModuleCount:  modules,
		SubTypeCount: subTypes,
		Score:        math.Round(score*100) / 100,
		Severity:     Label(score),
	}
}

// Label maps a normalized score to its severity label.
func Label(score float64) string {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 30:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
