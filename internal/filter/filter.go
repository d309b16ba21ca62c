// Package filter evaluates user-supplied predicates against canonical events.
package filter

import (
	"slices"
	"strconv"
	"strings"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// Operator is a comparison applied by a Criterion.
type Operator string

const (
	OpIs         Operator = "is"
	OpIsNot      Operator = "is_not"
	OpContains   Operator = "contains"
	OpExists     Operator = "exists"
	OpStartsWith Operator = "starts_with"
	OpGreater    Operator = ">"
	OpLess       Operator = "<"
)

// Logic combines the results of several criteria.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// ParseLogic maps a logic flag to a Logic. Anything other than OR, in any
// case, is AND.
func ParseLogic(s string) Logic {
	if strings.EqualFold(strings.TrimSpace(s), string(LogicOr)) {
		return LogicOr
	}
	return LogicAnd
}

// Criterion is a single predicate on one event field. Field uses the event's
// JSON attribute names.
type Criterion struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// SearchFields are the attributes free-text search looks at.
var SearchFields = []string{
	"source_ip",
	"destination_ip",
	"country",
	"event_type",
	"severity",
	"description",
	"mitre_stage",
}

// Match reports whether ev satisfies c. String comparisons are
// case-insensitive; an unknown field reads as the empty string. Numeric
// comparisons against values that do not parse are false.
func Match(ev *telemetry.Event, c Criterion) bool {
	raw, present := ev.Field(c.Field)
	got := strings.ToLower(raw)
	want := strings.ToLower(c.Value)

	switch c.Operator {
	case OpIs:
		return got == want
	case OpIsNot:
		return got != want
	case OpContains:
		return strings.Contains(got, want)
	case OpExists:
		return present
	case OpStartsWith:
		return strings.HasPrefix(got, want)
	case OpGreater, OpLess:
		if !present {
			return false
		}
		lhs, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return false
		}
		rhs, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
		if err != nil {
			return false
		}
		if c.Operator == OpGreater {
			return lhs > rhs
		}
		return lhs < rhs
	}
	return false
}

// MatchAll combines criteria under logic. No criteria always matches.
func MatchAll(ev *telemetry.Event, criteria []Criterion, logic Logic) bool {
	if len(criteria) == 0 {
		return true
	}
	if logic == LogicOr {
		for _, c := range criteria {
			if Match(ev, c) {
				return true
			}
		}
		return false
	}
	for _, c := range criteria {
		if !Match(ev, c) {
			return false
		}
	}
	return true
}

// Search reports whether the lower-cased query is a substring of any of the
// SearchFields. An empty query matches everything.
func Search(ev *telemetry.Event, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	for _, f := range SearchFields {
		v, _ := ev.Field(f)
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

// Apply returns the events that pass the criteria and the search query,
// newest first. The input slice is not modified.
func Apply(events []telemetry.Event, criteria []Criterion, logic Logic, search string) []telemetry.Event {
	out := make([]telemetry.Event, 0, len(events))
	for i := range events {
		ev := &events[i]
		if MatchAll(ev, criteria, logic) && Search(ev, search) {
			out = append(out, *ev)
		}
	}
	SortNewestFirst(out)
	return out
}

// SortNewestFirst orders events by Timestamp descending in place. Events
// without a timestamp compare lowest and keep their relative order at the end.
func SortNewestFirst(events []telemetry.Event) {
	slices.SortStableFunc(events, func(a, b telemetry.Event) int {
		switch {
		case a.Timestamp == nil && b.Timestamp == nil:
			return 0
		case a.Timestamp == nil:
			return 1
		case b.Timestamp == nil:
			return -1
		}
		return b.Timestamp.Compare(*a.Timestamp)
	})
}
