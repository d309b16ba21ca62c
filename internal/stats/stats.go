// Package stats aggregates event counts over a time window.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// HourLabelLayout formats a timeline bucket. Timestamps are truncated to the
// hour first, so the minutes always read 00.
const HourLabelLayout = "2006-01-02 15:04"

// todayDivisor turns the "today" total into the events-per-second figure the
// dashboards display. It is a fixed heuristic, not a measured rate.
const todayDivisor = 900

// Bucket is the event count for one hour.
type Bucket struct {
	Label string `json:"timeline"`
	Count int    `json:"count"`
}

// WindowStats summarizes a batch for its window.
type WindowStats struct {
	Total     int      `json:"total"`
	PerSecond float64  `json:"seconds"`
	Timeline  []Bucket `json:"timeline"`
}

// SourceStats is the volume seen from one source.
type SourceStats struct {
	EventType telemetry.EventType `json:"event_type"`
	Total     int                 `json:"total"`
	Timeline  []Bucket            `json:"timeline"`
}

// Timeline counts events per UTC hour, in ascending label order. Events
// without a timestamp are skipped.
func Timeline(events []telemetry.Event) []Bucket {
	counts := make(map[string]int)
	for i := range events {
		ts := events[i].Timestamp
		if ts == nil {
			continue
		}
		counts[ts.UTC().Truncate(time.Hour).Format(HourLabelLayout)]++
	}

	out := make([]Bucket, 0, len(counts))
	for label, n := range counts {
		out = append(out, Bucket{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// PerSecond returns the throughput estimate for a window: total/900 rounded
// to two decimals for "today", zero for any other window.
func PerSecond(total int, window string) float64 {
	if window != telemetry.WindowToday {
		return 0
	}
	return math.Round(float64(total)/todayDivisor*100) / 100
}

// ForWindow computes the totals and hourly timeline of a batch.
func ForWindow(events []telemetry.Event, window string) WindowStats {
	return WindowStats{
		Total:     len(events),
		PerSecond: PerSecond(len(events), window),
		Timeline:  Timeline(events),
	}
}

// BySource splits a batch per source, one entry per known source in
// canonical order.
func BySource(events []telemetry.Event) []SourceStats {
	grouped := make(map[telemetry.EventType][]telemetry.Event)
	for i := range events {
		grouped[events[i].Type] = append(grouped[events[i].Type], events[i])
	}

	types := telemetry.EventTypes()
	out := make([]SourceStats, 0, len(types))
	for _, t := range types {
		out = append(out, SourceStats{
			EventType: t,
			Total:     len(grouped[t]),
			Timeline:  Timeline(grouped[t]),
		})
	}
	return out
}
