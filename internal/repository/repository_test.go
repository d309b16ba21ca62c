package repository

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

func TestRowFromEvent(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	first := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	last := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	port := 445

	tests := []struct {
		name          string
		ev            telemetry.Event
		wantPort      string
		wantFirstSeen *time.Time
		wantLastSeen  *time.Time
	}{
		{
			name: "aggregated suricata rule",
			ev: telemetry.Event{
				SourceIP: "192.168.1.10", DestinationIP: "203.0.113.5",
				DestinationCountry: "Singapore", Type: telemetry.EventTypeSuricata,
				SubType: "Attempted Administrator Privilege Gain", Severity: "high",
				Description: "ET EXPLOIT SMB", Count: 42, Port: &port,
				Timestamp: &ts, FirstEvent: &first, LastEvent: &last,
			},
			wantPort:      "445",
			wantFirstSeen: &first,
			wantLastSeen:  &last,
		},
		{
			name: "single hit falls back to timestamp",
			ev: telemetry.Event{
				Type: telemetry.EventTypePANW, Count: 1, Timestamp: &ts,
			},
			wantFirstSeen: &ts,
			wantLastSeen:  &ts,
		},
		{
			name: "no times at all",
			ev:   telemetry.Event{Type: telemetry.EventTypeSophos, Count: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := RowFromEvent(&tt.ev, "today", now)

			if _, err := uuid.Parse(row.ID); err != nil {
				t.Errorf("id %q is not a uuid: %v", row.ID, err)
			}
			if row.DestinationPort != tt.wantPort {
				t.Errorf("port = %q, want %q", row.DestinationPort, tt.wantPort)
			}
			if row.Module != string(tt.ev.Type) || row.Tipe != "today" || !row.CreatedDate.Equal(now) {
				t.Errorf("unexpected row metadata: %+v", row)
			}
			if row.Count != int64(tt.ev.Count) || row.RuleName != tt.ev.Description || row.SeverityLabel != tt.ev.Severity {
				t.Errorf("unexpected row content: %+v", row)
			}
			if !sameTime(row.FirstSeen, tt.wantFirstSeen) || !sameTime(row.LastSeen, tt.wantLastSeen) {
				t.Errorf("first/last = %v/%v, want %v/%v", row.FirstSeen, row.LastSeen, tt.wantFirstSeen, tt.wantLastSeen)
			}
			if got := len(row.args()); got != strings.Count(insertQuery, "$") {
				t.Errorf("args has %d values for %d placeholders", got, strings.Count(insertQuery, "$"))
			}
		})
	}
}

func TestRowsFromEvents_UniqueIDs(t *testing.T) {
	events := make([]telemetry.Event, 50)
	rows := RowsFromEvents(events, "last7days", time.Now())

	seen := map[string]bool{}
	for _, r := range rows {
		if seen[r.ID] {
			t.Fatalf("duplicate id %s", r.ID)
		}
		seen[r.ID] = true
	}
	if len(rows) != 50 {
		t.Errorf("expected 50 rows, got %d", len(rows))
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}

	var up, down int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			up++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			down++
		}
	}
	if up == 0 || up != down {
		t.Errorf("expected matching up/down migrations, got %d up and %d down", up, down)
	}

	sql, _ := fs.ReadFile(migrationsFS, "migrations/000001_create_countip.up.sql")
	for _, col := range []string{"rule_name", "destination_geo_country", "event_severity_label", "counts", "modul", "tipe"} {
		if !strings.Contains(string(sql), col) {
			t.Errorf("countip migration lacks column %s", col)
		}
	}
}

func TestEmptyDSN(t *testing.T) {
	if err := Migrate(""); !errors.Is(err, ErrEmptyDSN) {
		t.Errorf("Migrate: expected ErrEmptyDSN, got %v", err)
	}
	if _, err := NewPostgresRepository(context.Background(), "", nil); !errors.Is(err, ErrEmptyDSN) {
		t.Errorf("NewPostgresRepository: expected ErrEmptyDSN, got %v", err)
	}
}

func TestUnconfiguredRepository(t *testing.T) {
	tests := []struct {
		name string
		repo *PostgresRepository
	}{
		{"nil", nil},
		{"no pool", &PostgresRepository{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.repo.SaveEvents(context.Background(), "today", []telemetry.Event{{SourceIP: "192.168.1.10"}})
			if !errors.Is(err, ErrNotConfigured) || n != 0 {
				t.Errorf("SaveEvents = (%d, %v), want (0, ErrNotConfigured)", n, err)
			}
			if err := tt.repo.Ping(context.Background()); !errors.Is(err, ErrNotConfigured) {
				t.Errorf("Ping: expected ErrNotConfigured, got %v", err)
			}
			tt.repo.Close()
		})
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
