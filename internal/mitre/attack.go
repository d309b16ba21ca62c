// Package mitre provides the attack-stage taxonomy events are attributed to
// and the distribution statistics computed over it.
package mitre

import (
	"fmt"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// Stage is one bucket of the attack lifecycle. Each stage groups one or more
// ATT&CK tactics.
type Stage struct {
	Name        string   `json:"stages"`
	Severity    string   `json:"severity"`
	Description string   `json:"description"`
	Tactics     []string `json:"tactics"` // tactic IDs
}

// Stage names as they appear in the mitre.stages field of indexed events.
const (
	StageInitialAttempts    = "Initial Attempts"
	StagePersistentFoothold = "Persistent Foothold"
	StageExploration        = "Exploration"
	StagePropagation        = "Propagation"
	StageExfiltration       = "Exfiltration"
)

// tacticShortNames maps ATT&CK tactic IDs to the short names sensors use in
// place of a stage name.
var tacticShortNames = map[string]string{
	"TA0043": "reconnaissance",
	"TA0042": "resource-development",
	"TA0001": "initial-access",
	"TA0002": "execution",
	"TA0003": "persistence",
	"TA0004": "privilege-escalation",
	"TA0005": "defense-evasion",
	"TA0006": "credential-access",
	"TA0007": "discovery",
	"TA0008": "lateral-movement",
	"TA0009": "collection",
	"TA0011": "command-and-control",
	"TA0010": "exfiltration",
	"TA0040": "impact",
}

// Taxonomy is an ordered, fixed set of stages. It is read-only after
// construction and safe for concurrent use.
type Taxonomy struct {
	stages   []Stage
	byName   map[string]int
	byTactic map[string]int // tactic ID or short name -> stage index
}

// DefaultTaxonomy returns the five-stage lifecycle.
func DefaultTaxonomy() *Taxonomy {
	return NewTaxonomy([]Stage{
		{
			Name:        StageInitialAttempts,
			Severity:    "low",
			Description: "Reconnaissance, Initial Access",
			Tactics:     []string{"TA0043", "TA0001"},
		},
		{
			Name:        StagePersistentFoothold,
			Severity:    "medium",
			Description: "Execution, Persistence, Privilege Escalation",
			Tactics:     []string{"TA0002", "TA0003", "TA0004"},
		},
		{
			Name:        StageExploration,
			Severity:    "medium",
			Description: "Defense Evasion, Credential Access, Discovery",
			Tactics:     []string{"TA0005", "TA0006", "TA0007"},
		},
		{
			Name:        StagePropagation,
			Severity:    "high",
			Description: "Lateral Movement",
			Tactics:     []string{"TA0008"},
		},
		{
			Name:        StageExfiltration,
			Severity:    "critical",
			Description: "Collection, Exfiltration, Impact",
			Tactics:     []string{"TA0009", "TA0010", "TA0040"},
		},
	})
}

// NewTaxonomy builds a taxonomy from stages in display order. A tactic listed
// by more than one stage belongs to the first.
func NewTaxonomy(stages []Stage) *Taxonomy {
	t := &Taxonomy{
		stages:   make([]Stage, len(stages)),
		byName:   make(map[string]int, len(stages)),
		byTactic: make(map[string]int, len(tacticShortNames)*2),
	}
	copy(t.stages, stages)
	for i, s := range t.stages {
		t.byName[s.Name] = i
		for _, id := range s.Tactics {
			if _, seen := t.byTactic[id]; seen {
				continue
			}
			t.byTactic[id] = i
			if short, ok := tacticShortNames[id]; ok {
				t.byTactic[short] = i
			}
		}
	}
	return t
}

// stageIndex resolves a stage name, or failing that a tactic ID or short
// name, to its position. Matching is exact.
func (t *Taxonomy) stageIndex(ref string) (int, bool) {
	if i, ok := t.byName[ref]; ok {
		return i, true
	}
	i, ok := t.byTactic[ref]
	return i, ok
}

// StageStat is the share of a batch attributed to one stage.
type StageStat struct {
	Stage
	TotalAll  int    `json:"total_all"`
	TotalData int    `json:"total_data"`
	Percent   string `json:"persen"`
}

// Stats counts the events attributed to each stage, by stage name or by the
// ATT&CK tactic the stage covers. Every stage is present
// in the result, in taxonomy order, even when nothing matched. TotalAll is the
// size of the whole batch, including unattributed events.
func (t *Taxonomy) Stats(events []telemetry.Event) []StageStat {
	counts := make([]int, len(t.stages))
	for i := range events {
		ev := &events[i]
		if !ev.HasStage() {
			continue
		}
		if idx, ok := t.stageIndex(ev.MitreStage); ok {
			counts[idx]++
		}
	}

	total := len(events)
	out := make([]StageStat, len(t.stages))
	for i, s := range t.stages {
		pct := 0.0
		if total > 0 {
			pct = float64(counts[i]) / float64(total) * 100
		}
		out[i] = StageStat{
			Stage:     s,
			TotalAll:  total,
			TotalData: counts[i],
			Percent:   fmt.Sprintf("%.2f", pct),
		}
	}
	return out
}
