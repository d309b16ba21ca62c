// Package telemetry defines the canonical security event that every source
// adapter produces and every analytics stage consumes.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventType tags the log source an event was normalized from.
type EventType string

const (
	EventTypeSuricata EventType = "suricata"
	EventTypeSophos   EventType = "sophos"
	EventTypePANW     EventType = "panw"
)

// ErrUnknownSource is returned when a source tag is not one of the known types.
var ErrUnknownSource = errors.New("unknown event source")

// EventTypes returns the supported sources in their canonical order.
func EventTypes() []EventType {
	return []EventType{EventTypeSuricata, EventTypeSophos, EventTypePANW}
}

// ParseEventType maps a source tag to its EventType.
func ParseEventType(s string) (EventType, error) {
	switch EventType(strings.ToLower(strings.TrimSpace(s))) {
	case EventTypeSuricata:
		return EventTypeSuricata, nil
	case EventTypeSophos:
		return EventTypeSophos, nil
	case EventTypePANW:
		return EventTypePANW, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
	}
}

// UnmappedStage is the sentinel stage value sources use for events with no
// attack-stage attribution.
const UnmappedStage = "Unmapped"

// Event is a source-agnostic security event.
//
// String fields are empty when the source did not carry them; numeric and time
// fields are nil pointers in that case. Events are never mutated once an
// adapter has returned them.
type Event struct {
	EventID            string     `json:"event_id"`
	SourceIP           string     `json:"source_ip"`
	DestinationIP      string     `json:"destination_ip"`
	Country            string     `json:"country"`
	DestinationCountry string     `json:"destination_country"`
	Type               EventType  `json:"event_type"`
	SubType            string     `json:"sub_type"`
	Severity           string     `json:"severity"`
	MitreStage         string     `json:"mitre_stages"`
	Description        string     `json:"description"`
	Application        string     `json:"application"`
	Protocol           string     `json:"protocol"`
	Port               *int       `json:"port"`
	Count              int        `json:"count"`
	Timestamp          *time.Time `json:"timestamp"`
	FirstEvent         *time.Time `json:"first_event"`
	LastEvent          *time.Time `json:"last_event"`

	SourceLongitude      *float64 `json:"source_longitude"`
	SourceLatitude       *float64 `json:"source_latitude"`
	DestinationLongitude *float64 `json:"destination_longitude"`
	DestinationLatitude  *float64 `json:"destination_latitude"`
}

// HasStage reports whether the event is attributable to an attack stage.
func (e *Event) HasStage() bool {
	return e.MitreStage != "" && !strings.EqualFold(e.MitreStage, UnmappedStage)
}

// Field returns the string form of the attribute named key, using the same
// keys the JSON encoding uses. ok is false when the key is unknown or the
// attribute is absent.
func (e *Event) Field(key string) (value string, ok bool) {
	switch key {
	case "event_id":
		return e.EventID, e.EventID != ""
	case "source_ip":
		return e.SourceIP, e.SourceIP != ""
	case "destination_ip":
		return e.DestinationIP, e.DestinationIP != ""
	case "country":
		return e.Country, e.Country != ""
	case "destination_country":
		return e.DestinationCountry, e.DestinationCountry != ""
	case "event_type":
		return string(e.Type), e.Type != ""
	case "sub_type":
		return e.SubType, e.SubType != ""
	case "severity":
		return e.Severity, e.Severity != ""
	case "mitre_stage", "mitre_stages":
		return e.MitreStage, e.MitreStage != ""
	case "description":
		return e.Description, e.Description != ""
	case "application":
		return e.Application, e.Application != ""
	case "protocol":
		return e.Protocol, e.Protocol != ""
	case "port":
		return formatInt(e.Port)
	case "count":
		return strconv.Itoa(e.Count), true
	case "timestamp":
		return formatTime(e.Timestamp)
	case "first_event":
		return formatTime(e.FirstEvent)
	case "last_event":
		return formatTime(e.LastEvent)
	case "source_longitude":
		return formatFloat(e.SourceLongitude)
	case "source_latitude":
		return formatFloat(e.SourceLatitude)
	case "destination_longitude":
		return formatFloat(e.DestinationLongitude)
	case "destination_latitude":
		return formatFloat(e.DestinationLatitude)
	}
	return "", false
}

func formatInt(v *int) (string, bool) {
	if v == nil {
		return "", false
	}
	return strconv.Itoa(*v), true
}

func formatFloat(v *float64) (string, bool) {
	if v == nil {
		return "", false
	}
	return strconv.FormatFloat(*v, 'f', -1, 64), true
}

func formatTime(v *time.Time) (string, bool) {
	if v == nil {
		return "", false
	}
	return v.UTC().Format(time.RFC3339Nano), true
}

// Batches holds one raw search response per source, as returned by a fetcher.
// A missing or nil entry is treated as an empty batch.
type Batches map[EventType][]byte

// Fetcher retrieves the raw search response for one source and window.
type Fetcher interface {
	// Fetch returns the raw response body for the source within the window.
	Fetch(ctx context.Context, window Window, source EventType) ([]byte, error)
	// HealthCheck verifies connectivity to the backend.
	HealthCheck(ctx context.Context) error
}
