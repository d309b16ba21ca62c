// Package repository mirrors normalized events into PostgreSQL.
package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// Common errors.
var (
	ErrNotConfigured = errors.New("repository not configured")
	ErrEmptyDSN      = errors.New("database DSN is empty")
)

// EventSink stores the events of one analytics pass.
type EventSink interface {
	SaveEvents(ctx context.Context, timeframe string, events []telemetry.Event) (int, error)
}

// Row is one countip record.
type Row struct {
	ID                 string
	RuleName           string
	SourceIP           string
	DestinationIP      string
	DestinationCountry string
	SeverityLabel      string
	DestinationPort    string
	Count              int64
	CreatedDate        time.Time
	FirstSeen          *time.Time
	LastSeen           *time.Time
	Module             string
	SubType            string
	// Tipe holds the timeframe label of the pass that wrote the row.
	Tipe string
}

// RowFromEvent maps an event to a countip row. Events without a first or
// last sighting fall back to their timestamp.
func RowFromEvent(ev *telemetry.Event, timeframe string, now time.Time) Row {
	row := Row{
		ID:                 uuid.NewString(),
		RuleName:           ev.Description,
		SourceIP:           ev.SourceIP,
		DestinationIP:      ev.DestinationIP,
		DestinationCountry: ev.DestinationCountry,
		SeverityLabel:      ev.Severity,
		Count:              int64(ev.Count),
		CreatedDate:        now,
		FirstSeen:          ev.FirstEvent,
		LastSeen:           ev.LastEvent,
		Module:             string(ev.Type),
		SubType:            ev.SubType,
		Tipe:               timeframe,
	}
	if ev.Port != nil {
		row.DestinationPort = strconv.Itoa(*ev.Port)
	}
	if row.FirstSeen == nil {
		row.FirstSeen = ev.Timestamp
	}
	if row.LastSeen == nil {
		row.LastSeen = ev.Timestamp
	}
	return row
}

// RowsFromEvents maps every event.
func RowsFromEvents(events []telemetry.Event, timeframe string, now time.Time) []Row {
	rows := make([]Row, 0, len(events))
	for i := range events {
		rows = append(rows, RowFromEvent(&events[i], timeframe, now))
	}
	return rows
}

// args returns the row's values in insertQuery column order.
func (r *Row) args() []any {
	return []any{
		r.ID, r.RuleName, r.SourceIP, r.DestinationIP, r.DestinationCountry,
		r.SeverityLabel, r.DestinationPort, r.Count, r.CreatedDate,
		r.FirstSeen, r.LastSeen, r.Module, r.SubType, r.Tipe,
	}
}
