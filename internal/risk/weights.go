package risk

import (
	"math"
	"strings"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// Tier assigns one weight to a set of terms.
type Tier struct {
	Weight float64
	Terms  []string
}

// Weights holds the fixed multipliers of the per-event score. Callers must
// treat a Weights value as read-only once it is handed to a Scorer.
type Weights struct {
	Module        map[telemetry.EventType]float64
	ModuleDefault float64

	// Severity keys are lower case.
	Severity        map[string]float64
	SeverityDefault float64

	// SubTypes are matched by exact, case-insensitive membership. The first
	// tier that lists the sub type wins.
	SubTypes       []Tier
	SubTypeDefault float64

	// Rules are matched by case-insensitive substring of the description.
	Rules       []Tier
	RuleDefault float64

	TimeDecay float64
}

// DefaultWeights returns the standard weight tables.
func DefaultWeights() Weights {
	return Weights{
		Module: map[telemetry.EventType]float64{
			telemetry.EventTypeSuricata: 1.0,
			telemetry.EventTypePANW:     1.2,
			telemetry.EventTypeSophos:   1.3,
		},
		ModuleDefault: 1.0,
		Severity: map[string]float64{
			"critical": 5.0,
			"severe":   5.0,
			"high":     3.5,
			"medium":   2.0,
			"low":      1.0,
		},
		SeverityDefault: 0.5,
		SubTypes: []Tier{
			{Weight: 5.5, Terms: []string{"malware", "c2", "command_and_control", "data_exfil", "exfiltration"}},
			{Weight: 4.5, Terms: []string{"exploit_attempt", "exploit", "intrusion", "lateral_movement"}},
			{Weight: 3.8, Terms: []string{"auth_bruteforce", "password_spray", "credential_access"}},
			{Weight: 1.8, Terms: []string{"policy_violation", "misconfiguration"}},
		},
		SubTypeDefault: 1.0,
		Rules: []Tier{
			{Weight: 1.4, Terms: []string{"mimikatz", "c2", "ransomware"}},
			{Weight: 0.8, Terms: []string{"port scan", "generic"}},
		},
		RuleDefault: 1.0,
		TimeDecay:   math.Exp(-1),
	}
}

func (w *Weights) module(t telemetry.EventType) float64 {
	if v, ok := w.Module[telemetry.EventType(strings.ToLower(string(t)))]; ok {
		return v
	}
	return w.ModuleDefault
}

func (w *Weights) severity(s string) float64 {
	if v, ok := w.Severity[strings.ToLower(s)]; ok {
		return v
	}
	return w.SeverityDefault
}

func (w *Weights) subType(s string) float64 {
	s = strings.ToLower(s)
	for _, tier := range w.SubTypes {
		for _, term := range tier.Terms {
			if s == term {
				return tier.Weight
			}
		}
	}
	return w.SubTypeDefault
}

func (w *Weights) rule(description string) float64 {
	d := strings.ToLower(description)
	for _, tier := range w.Rules {
		for _, term := range tier.Terms {
			if strings.Contains(d, term) {
				return tier.Weight
			}
		}
	}
	return w.RuleDefault
}

// DupDamping is the down-weighting for a host that triggered the same rule
// n times in one batch.
func DupDamping(n int) float64 {
	if n < 1 {
		n = 1
	}
	return 1 / (1 + math.Log(float64(n)))
}
