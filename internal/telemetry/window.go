package telemetry

import "time"

// Window is a named look-back period ending at End.
type Window struct {
	Label string
	Start time.Time
	End   time.Time
}

// WindowToday is the label whose statistics carry a throughput estimate.
const WindowToday = "today"

// NewWindow resolves a timeframe label relative to now (UTC). Unknown labels
// fall back to the last 24 hours.
func NewWindow(label string, now time.Time) Window {
	now = now.UTC()
	var start time.Time

	switch label {
	case WindowToday:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case "yesterday":
		start = now.AddDate(0, 0, -1)
	case "8hours", "last8hours":
		start = now.Add(-8 * time.Hour)
	case "24hours", "last24hours":
		start = now.Add(-24 * time.Hour)
	case "last3days":
		start = now.AddDate(0, 0, -3)
	case "last7days":
		start = now.AddDate(0, 0, -7)
	case "last30days":
		start = now.AddDate(0, 0, -30)
	case "last60days":
		start = now.AddDate(0, 0, -60)
	case "last90days":
		start = now.AddDate(0, 0, -90)
	default:
		start = now.AddDate(0, 0, -1)
	}

	return Window{Label: label, Start: start, End: now}
}

// Timeframes lists every label NewWindow resolves without falling back.
var Timeframes = []string{
	WindowToday, "yesterday", "8hours", "last8hours", "24hours", "last24hours",
	"last3days", "last7days", "last30days", "last60days", "last90days",
}

// KnownTimeframe reports whether label is one of Timeframes.
func KnownTimeframe(label string) bool {
	for _, tf := range Timeframes {
		if tf == label {
			return true
		}
	}
	return false
}
