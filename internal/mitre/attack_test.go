package mitre

import (
	"testing"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

func stageEvents(stages ...string) []telemetry.Event {
	out := make([]telemetry.Event, len(stages))
	for i, s := range stages {
		out[i] = telemetry.Event{MitreStage: s}
	}
	return out
}

func TestStats_AlwaysFiveStages(t *testing.T) {
	tax := DefaultTaxonomy()

	batches := map[string][]telemetry.Event{
		"empty":    nil,
		"unmapped": stageEvents("Unmapped", "UNMAPPED", ""),
		"mixed":    stageEvents("Exploration", "Exploration", "Propagation", "Unmapped", "exploration", "Lateral Movement"),
		"all five": stageEvents(StageInitialAttempts, StagePersistentFoothold, StageExploration, StagePropagation, StageExfiltration),
	}

	for name, events := range batches {
		t.Run(name, func(t *testing.T) {
			stats := tax.Stats(events)
			if len(stats) != 5 {
				t.Fatalf("got %d stages, want 5", len(stats))
			}
			sum := 0
			for _, s := range stats {
				if s.TotalAll != len(events) {
					t.Errorf("%s: TotalAll = %d, want %d", s.Name, s.TotalAll, len(events))
				}
				sum += s.TotalData
			}
			if sum > len(events) {
				t.Errorf("stage counts sum to %d, more than batch size %d", sum, len(events))
			}
		})
	}
}

func TestStats_CountsAndPercent(t *testing.T) {
	events := stageEvents("Exploration", "Exploration", "Propagation", "Unmapped", "exploration", "Lateral Movement", "", "Exfiltration")

	stats := DefaultTaxonomy().Stats(events)

	want := []struct {
		name     string
		count    int
		percent  string
		severity string
	}{
		{StageInitialAttempts, 0, "0.00", "low"},
		{StagePersistentFoothold, 0, "0.00", "medium"},
		{StageExploration, 2, "25.00", "medium"},
		{StagePropagation, 1, "12.50", "high"},
		{StageExfiltration, 1, "12.50", "critical"},
	}

	for i, w := range want {
		s := stats[i]
		if s.Name != w.name || s.TotalData != w.count || s.Percent != w.percent || s.Severity != w.severity {
			t.Errorf("stage %d = {%s %d %s %s}, want {%s %d %s %s}",
				i, s.Name, s.TotalData, s.Percent, s.Severity, w.name, w.count, w.percent, w.severity)
		}
		if s.TotalAll != 8 {
			t.Errorf("%s: TotalAll = %d, want 8", s.Name, s.TotalAll)
		}
	}
}

func TestStats_PercentTwoDecimals(t *testing.T) {
	stats := DefaultTaxonomy().Stats(stageEvents(StagePropagation, "x", "y"))
	if got := stats[3].Percent; got != "33.33" {
		t.Errorf("percent = %q, want 33.33", got)
	}
}

func TestStats_EmptyBatch(t *testing.T) {
	for _, s := range DefaultTaxonomy().Stats(nil) {
		if s.Percent != "0.00" || s.TotalAll != 0 || s.TotalData != 0 {
			t.Errorf("%s: got %+v, want zeroes", s.Name, s)
		}
	}
}

func TestStats_ResolvesTactics(t *testing.T) {
	tests := []struct {
		stage string
		want  int // index into the default stages, -1 for unattributed
	}{
		{"TA0001", 0},
		{"initial-access", 0},
		{"reconnaissance", 0},
		{"TA0004", 1},
		{"credential-access", 2},
		{"TA0008", 3},
		{"lateral-movement", 3},
		{"exfiltration", 4},
		{"TA0040", 4},
		{"TA0011", -1},
		{"command-and-control", -1},
		{"ta0008", -1},
		{"Lateral-Movement", -1},
		{"Lateral Movement", -1},
	}

	tax := DefaultTaxonomy()
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			stats := tax.Stats(stageEvents(tt.stage))
			for i, s := range stats {
				want := 0
				if i == tt.want {
					want = 1
				}
				if s.TotalData != want {
					t.Errorf("%s: TotalData = %d, want %d", s.Name, s.TotalData, want)
				}
			}
		})
	}
}

func TestStats_MixedNamesAndTactics(t *testing.T) {
	events := stageEvents(StagePropagation, "TA0008", "lateral-movement", "Unmapped")

	stats := DefaultTaxonomy().Stats(events)
	if got := stats[3].TotalData; got != 3 {
		t.Errorf("propagation count = %d, want 3", got)
	}
	if got := stats[3].Percent; got != "75.00" {
		t.Errorf("propagation percent = %q, want 75.00", got)
	}
}

func TestNewTaxonomy_FirstStageOwnsSharedTactic(t *testing.T) {
	tax := NewTaxonomy([]Stage{
		{Name: "A", Tactics: []string{"TA0001"}},
		{Name: "B", Tactics: []string{"TA0001", "TA0002"}},
	})

	stats := tax.Stats(stageEvents("initial-access", "TA0002"))
	if stats[0].TotalData != 1 || stats[1].TotalData != 1 {
		t.Errorf("got A=%d B=%d, want 1 and 1", stats[0].TotalData, stats[1].TotalData)
	}
}
