package stats

import (
	"strings"

	"github.com/lvonguyen/threatpulse/internal/filter"
	"github.com/lvonguyen/threatpulse/internal/risk"
	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// FeedSize is the number of events NotableEvents returns.
const FeedSize = 5

// NotableEvents picks the most recent external attack events for the global
// attack feed. High and critical events are left to the risk views, and
// traffic with both ends internal is not attack traffic. Events without a
// timestamp cannot be ordered and are dropped.
func NotableEvents(events []telemetry.Event, internal risk.Matcher) []telemetry.Event {
	out := make([]telemetry.Event, 0, FeedSize)
	for i := range events {
		ev := &events[i]
		sev := strings.ToLower(ev.Severity)
		if sev == "critical" || sev == "high" {
			continue
		}
		if internal.IsInternal(ev.SourceIP) && internal.IsInternal(ev.DestinationIP) {
			continue
		}
		if ev.Timestamp == nil {
			continue
		}
		out = append(out, *ev)
	}

	filter.SortNewestFirst(out)
	if len(out) > FeedSize {
		out = out[:FeedSize]
	}
	return out
}
