package filter

import (
	"testing"
	"time"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

func at(hour int) *time.Time {
	t := time.Date(2025, 3, 10, hour, 0, 0, 0, time.UTC)
	return &t
}

func intPtr(n int) *int { return &n }

func sampleEvents() []telemetry.Event {
	return []telemetry.Event{
		{EventID: "a", SourceIP: "192.168.1.10", DestinationIP: "203.0.113.5", Country: "Netherlands", Type: telemetry.EventTypeSuricata, Severity: "High", Description: "ET EXPLOIT Generic", Port: intPtr(443), Count: 12, Timestamp: at(9)},
		{EventID: "b", SourceIP: "10.0.0.4", DestinationIP: "192.168.1.20", Country: "Indonesia", Type: telemetry.EventTypeSophos, Severity: "medium", MitreStage: "Exploration", Description: "Block C2 beacon", Count: 1, Timestamp: at(11)},
		{EventID: "c", SourceIP: "198.51.100.7", DestinationIP: "192.168.5.5", Type: telemetry.EventTypePANW, Severity: "critical", Description: "SMB Ransomware", Port: intPtr(445), Count: 1},
		{EventID: "d", SourceIP: "192.168.9.9", Type: telemetry.EventTypePANW, Severity: "low", Description: "Port scan", Count: 1, Timestamp: at(10)},
	}
}

func ids(events []telemetry.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ============================================================================
// Match
// ============================================================================

func TestMatch(t *testing.T) {
	ev := sampleEvents()[0]

	tests := []struct {
		name string
		c    Criterion
		want bool
	}{
		{"is case-insensitive", Criterion{"severity", OpIs, "HIGH"}, true},
		{"is mismatch", Criterion{"severity", OpIs, "low"}, false},
		{"is_not", Criterion{"event_type", OpIsNot, "panw"}, true},
		{"is_not same", Criterion{"event_type", OpIsNot, "Suricata"}, false},
		{"contains", Criterion{"description", OpContains, "exploit"}, true},
		{"contains miss", Criterion{"description", OpContains, "mimikatz"}, false},
		{"starts_with", Criterion{"source_ip", OpStartsWith, "192.168."}, true},
		{"starts_with miss", Criterion{"destination_ip", OpStartsWith, "192.168."}, false},
		{"exists present", Criterion{"port", OpExists, ""}, true},
		{"exists absent", Criterion{"mitre_stage", OpExists, "ignored"}, false},
		{"exists unknown field", Criterion{"hostname", OpExists, ""}, false},
		{"greater", Criterion{"count", OpGreater, "10"}, true},
		{"greater equal is false", Criterion{"count", OpGreater, "12"}, false},
		{"less", Criterion{"port", OpLess, "1024"}, true},
		{"non-numeric value", Criterion{"count", OpGreater, "many"}, false},
		{"non-numeric field", Criterion{"severity", OpLess, "5"}, false},
		{"absent numeric field", Criterion{"destination_latitude", OpLess, "5"}, false},
		{"unknown field is empty", Criterion{"hostname", OpIs, ""}, true},
		{"unknown operator", Criterion{"severity", Operator("matches"), "high"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(&ev, tt.c); got != tt.want {
				t.Errorf("Match(%+v) = %v, want %v", tt.c, got, tt.want)
			}
		})
	}
}

func TestParseLogic(t *testing.T) {
	tests := map[string]Logic{
		"":    LogicAnd,
		"and": LogicAnd,
		"OR":  LogicOr,
		"or ": LogicOr,
		"xor": LogicAnd,
	}
	for in, want := range tests {
		if got := ParseLogic(in); got != want {
			t.Errorf("ParseLogic(%q) = %q, want %q", in, got, want)
		}
	}
}

// ============================================================================
// Apply
// ============================================================================

func TestApply_NoPredicatesSortsNewestFirst(t *testing.T) {
	events := sampleEvents()

	got := Apply(events, nil, LogicAnd, "")

	want := []string{"b", "d", "a", "c"}
	if !equalIDs(ids(got), want) {
		t.Errorf("order = %v, want %v", ids(got), want)
	}
	if events[0].EventID != "a" {
		t.Error("input slice was reordered")
	}
}

func TestApply_Logic(t *testing.T) {
	criteria := []Criterion{
		{Field: "event_type", Operator: OpIs, Value: "panw"},
		{Field: "severity", Operator: OpIs, Value: "low"},
	}

	tests := []struct {
		logic Logic
		want  []string
	}{
		{LogicAnd, []string{"d"}},
		{LogicOr, []string{"d", "c"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.logic), func(t *testing.T) {
			got := Apply(sampleEvents(), criteria, tt.logic, "")
			if !equalIDs(ids(got), tt.want) {
				t.Errorf("got %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestApply_SearchNarrowsCriteria(t *testing.T) {
	criteria := []Criterion{{Field: "source_ip", Operator: OpStartsWith, Value: "192.168"}}

	got := Apply(sampleEvents(), criteria, LogicOr, "GENERIC")
	if !equalIDs(ids(got), []string{"a"}) {
		t.Errorf("got %v, want [a]", ids(got))
	}
}

func TestApply_SearchFields(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"indonesia", []string{"b"}},
		{"exploration", []string{"b"}},
		{"192.168.5", []string{"c"}},
		{"sophos", []string{"b"}},
		{"ransomware", []string{"c"}},
		// Port is not a searchable field.
		{"445", nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := Apply(sampleEvents(), nil, LogicAnd, tt.query)
			if !equalIDs(ids(got), tt.want) {
				t.Errorf("search %q = %v, want %v", tt.query, ids(got), tt.want)
			}
		})
	}
}

func TestApply_Empty(t *testing.T) {
	got := Apply(nil, []Criterion{{Field: "severity", Operator: OpIs, Value: "high"}}, LogicAnd, "x")
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestSortNewestFirst_MissingTimestampsStable(t *testing.T) {
	events := []telemetry.Event{
		{EventID: "n1"},
		{EventID: "t1", Timestamp: at(1)},
		{EventID: "n2"},
		{EventID: "t2", Timestamp: at(2)},
	}

	SortNewestFirst(events)

	want := []string{"t2", "t1", "n1", "n2"}
	if !equalIDs(ids(events), want) {
		t.Errorf("order = %v, want %v", ids(events), want)
	}
}
