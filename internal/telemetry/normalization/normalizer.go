// Package normalization maps raw search responses from each log source into
// canonical telemetry events.
package normalization

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// Normalizer decodes raw search responses and dispatches each record to the
// adapter for its source.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a new normalizer. A nil logger disables logging.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize converts a raw search response for one source into events.
// Malformed input yields an empty slice; it is never an error.
func (n *Normalizer) Normalize(raw []byte, source telemetry.EventType) []telemetry.Event {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []telemetry.Event{}
	}

	resp, err := decode(raw)
	if err != nil {
		n.logger.Warn("Discarding undecodable search response",
			zap.String("source", string(source)),
			zap.Int("bytes", len(raw)),
			zap.Error(err),
		)
		return []telemetry.Event{}
	}

	switch source {
	case telemetry.EventTypeSuricata:
		return mapRecords(resp.list("aggregations", "by_rule", "buckets"), FromSuricataBucket)
	case telemetry.EventTypeSophos:
		return mapRecords(resp.list("hits", "hits"), FromSophosHit)
	case telemetry.EventTypePANW:
		return mapRecords(resp.list("hits", "hits"), FromPANWHit)
	default:
		n.logger.Warn("No adapter for source", zap.String("source", string(source)))
		return []telemetry.Event{}
	}
}

// NormalizeAll normalizes the batch of every known source, keyed by source. A
// source missing from batches maps to an empty slice.
func (n *Normalizer) NormalizeAll(batches telemetry.Batches) map[telemetry.EventType][]telemetry.Event {
	out := make(map[telemetry.EventType][]telemetry.Event, len(batches))
	for _, source := range telemetry.EventTypes() {
		out[source] = n.Normalize(batches[source], source)
	}
	return out
}

func decode(raw []byte) (document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var resp map[string]interface{}
	if err := dec.Decode(&resp); err != nil {
		return nil, err
	}
	return document(resp), nil
}

func (d document) list(path ...string) []interface{} {
	v, ok := d.lookup(path...)
	if !ok {
		return nil
	}
	items, _ := v.([]interface{})
	return items
}

func mapRecords(items []interface{}, adapt func(map[string]interface{}) telemetry.Event) []telemetry.Event {
	events := make([]telemetry.Event, 0, len(items))
	for _, item := range items {
		m, ok := asMap(item)
		if !ok {
			m = map[string]interface{}{}
		}
		events = append(events, adapt(m))
	}
	return events
}
