package ingestion

import (
	"time"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// suricataSourceFields limits the sample hit of each rule bucket to the
// fields the adapter reads.
var suricataSourceFields = []string{
	"source.ip",
	"destination.ip",
	"rule.category",
	"source.geo.country_name",
	"destination.geo.country_name",
	"event.severity_label",
	"destination.port",
	"mitre.stages",
	"log.id.uid",
	"network.transport",
	"source.geo.location.lon",
	"source.geo.location.lat",
	"destination.geo.location.lon",
	"destination.geo.location.lat",
	"@timestamp",
}

// Sophos log types that carry detections.
var sophosLogTypes = []string{"IDP", "Content Filtering"}

// PAN-OS threat sub types that carry detections.
var panwSubTypes = []string{"file", "vulnerability"}

func timeRange(w telemetry.Window) map[string]interface{} {
	return map[string]interface{}{
		"range": map[string]interface{}{
			"@timestamp": map[string]interface{}{
				"gte": w.Start.UTC().Format(time.RFC3339),
				"lte": w.End.UTC().Format(time.RFC3339),
			},
		},
	}
}

func term(field string, value interface{}) map[string]interface{} {
	return map[string]interface{}{"term": map[string]interface{}{field: value}}
}

func terms(field string, values []string) map[string]interface{} {
	return map[string]interface{}{"terms": map[string]interface{}{field: values}}
}

func newestFirst() []map[string]interface{} {
	return []map[string]interface{}{
		{"@timestamp": map[string]string{"order": "desc"}},
	}
}

// SuricataQuery aggregates suricata alerts per rule name. Each bucket carries
// its newest document and the first and last time the rule fired.
func SuricataQuery(w telemetry.Window, buckets int) map[string]interface{} {
	return map[string]interface{}{
		"size": 0,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					timeRange(w),
					term("event.module", "suricata"),
				},
			},
		},
		"aggs": map[string]interface{}{
			"by_rule": map[string]interface{}{
				"terms": map[string]interface{}{"field": "rule.name.keyword", "size": buckets},
				"aggs": map[string]interface{}{
					"sample_event": map[string]interface{}{
						"top_hits": map[string]interface{}{
							"size":    1,
							"sort":    newestFirst(),
							"_source": suricataSourceFields,
						},
					},
					"first_event": map[string]interface{}{"min": map[string]string{"field": "@timestamp"}},
					"last_event":  map[string]interface{}{"max": map[string]string{"field": "@timestamp"}},
				},
			},
		},
	}
}

// SophosQuery selects the newest IDP and content-filtering documents.
func SophosQuery(w telemetry.Window, size int) map[string]interface{} {
	return map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					timeRange(w),
					term("event.module", "sophos"),
					terms("sophos.xg.log_type", sophosLogTypes),
				},
			},
		},
		"sort": newestFirst(),
	}
}

// PANWQuery selects the newest PAN-OS THREAT documents of the file and
// vulnerability sub types.
func PANWQuery(w telemetry.Window, size int) map[string]interface{} {
	return map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					timeRange(w),
					term("event.module", "panw"),
					term("panw.panos.type", "THREAT"),
					terms("panw.panos.sub_type", panwSubTypes),
				},
			},
		},
		"sort": newestFirst(),
	}
}
