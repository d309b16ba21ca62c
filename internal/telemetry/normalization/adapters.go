package normalization

import (
	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// suricataApplication is the fixed application label suricata events carry;
// the IDS log has no application field of its own.
const suricataApplication = "application"

// FromSuricataBucket converts one bucket of the per-rule terms aggregation.
// The bucket key is the rule name and its sample_event holds the most recent
// matching document.
func FromSuricataBucket(bucket map[string]interface{}) telemetry.Event {
	b := document(bucket)

	var hit document
	if hits, ok := b.lookup("sample_event", "hits", "hits"); ok {
		if list, ok := hits.([]interface{}); ok && len(list) > 0 {
			if first, ok := asMap(list[0]); ok {
				hit = document(first).object("_source")
			}
		}
	}
	if hit == nil {
		hit = document{}
	}

	ev := common(hit)
	ev.Type = telemetry.EventTypeSuricata
	ev.Country = hit.str("source", "geo", "country_name")
	ev.DestinationCountry = hit.str("destination", "geo", "country_name")
	ev.SubType = hit.str("rule", "category")
	ev.Severity = hit.str("event", "severity_label")
	ev.EventID = hit.str("log", "id", "uid")
	ev.Application = suricataApplication
	ev.Description = b.str("key")
	ev.Port = hit.integer("destination", "port")
	ev.Count = 1
	if n := b.integer("doc_count"); n != nil && *n > 0 {
		ev.Count = *n
	}
	ev.FirstEvent = b.timestamp("first_event", "value_as_string")
	ev.LastEvent = b.timestamp("last_event", "value_as_string")
	return ev
}

// FromSophosHit converts one Sophos XG IDP or content-filtering document.
func FromSophosHit(hit map[string]interface{}) telemetry.Event {
	src := document(hit).object("_source")
	xg := src.object("sophos", "xg")

	ev := common(src)
	ev.Type = telemetry.EventTypeSophos
	ev.SubType = xg.str("log_type")
	ev.Severity = firstNonEmpty(src.str("event", "severity_label"), src.str("log", "level"))
	ev.EventID = src.str("log", "id", "uid")
	ev.Application = xg.str("app_name")
	ev.Description = firstNonEmpty(xg.str("message"), xg.str("rule_name"), "unknown")
	ev.Port = firstPort(src.integer("destination", "port"), xg.integer("dst_port"))
	perHit(&ev, src)
	return ev
}

// FromPANWHit converts one PAN-OS THREAT log document.
func FromPANWHit(hit map[string]interface{}) telemetry.Event {
	src := document(hit).object("_source")
	panos := src.object("panw", "panos")

	ev := common(src)
	ev.Type = telemetry.EventTypePANW
	ev.SubType = panos.str("sub_type")
	ev.Severity = src.str("log", "syslog", "severity", "name")
	ev.EventID = panos.str("seqno")
	ev.Application = panos.str("app")
	ev.Description = panos.str("threat", "name")
	ev.Port = firstPort(src.integer("destination", "port"), panos.integer("dest_port"))
	perHit(&ev, src)
	return ev
}

// common fills the ECS fields every source shares.
func common(src document) telemetry.Event {
	ev := telemetry.Event{
		SourceIP:      src.str("source", "ip"),
		DestinationIP: src.str("destination", "ip"),
		MitreStage:    src.str("mitre", "stages"),
		Protocol:      src.str("network", "transport"),
		Timestamp:     src.timestamp("@timestamp"),
	}
	ev.SourceLongitude, ev.SourceLatitude = src.geoPoint("source", "geo", "location")
	ev.DestinationLongitude, ev.DestinationLatitude = src.geoPoint("destination", "geo", "location")
	return ev
}

// perHit applies the fields of sources that deliver one document per hit.
func perHit(ev *telemetry.Event, src document) {
	srcCountry := src.str("source", "geo", "country_name")
	dstCountry := src.str("destination", "geo", "country_name")
	ev.Country = firstNonEmpty(srcCountry, dstCountry)
	ev.DestinationCountry = firstNonEmpty(dstCountry, srcCountry)
	ev.Count = 1
	ev.FirstEvent = ev.Timestamp
	ev.LastEvent = ev.Timestamp
}

func firstPort(ports ...*int) *int {
	for _, p := range ports {
		if p != nil && *p != 0 {
			return p
		}
	}
	return nil
}
