package normalization

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// document is a decoded JSON object. Lookups walk nested objects and return
// zero values for any missing or mistyped step, never panicking.
type document map[string]interface{}

func (d document) lookup(path ...string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(d)
	for _, key := range path {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func (d document) object(path ...string) document {
	v, ok := d.lookup(path...)
	if !ok {
		return document{}
	}
	m, ok := asMap(v)
	if !ok {
		return document{}
	}
	return document(m)
}

// str returns the value at path coerced to a string. Arrays yield their first
// element, which is how ECS multi-valued keyword fields usually arrive.
func (d document) str(path ...string) string {
	v, ok := d.lookup(path...)
	if !ok {
		return ""
	}
	return stringify(v)
}

func (d document) integer(path ...string) *int {
	f := d.float(path...)
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
		return nil
	}
	n := int(*f)
	return &n
}

func (d document) float(path ...string) *float64 {
	v, ok := d.lookup(path...)
	if !ok {
		return nil
	}
	return floatOf(v)
}

func (d document) timestamp(path ...string) *time.Time {
	v, ok := d.lookup(path...)
	if !ok {
		return nil
	}
	return parseTime(v)
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case document:
		return m, true
	}
	return nil, false
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []interface{}:
		if len(x) == 0 {
			return ""
		}
		return stringify(x[0])
	}
	return ""
}

func floatOf(v interface{}) *float64 {
	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	case []interface{}:
		if len(x) == 0 {
			return nil
		}
		return floatOf(x[0])
	default:
		return nil
	}
	return &f
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTime accepts ISO-8601 strings and epoch milliseconds. The result is
// always UTC; unparseable input yields nil.
func parseTime(v interface{}) *time.Time {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return &t
			}
		}
		return nil
	case json.Number, float64:
		ms := floatOf(x)
		if ms == nil {
			return nil
		}
		t := time.UnixMilli(int64(*ms)).UTC()
		return &t
	case []interface{}:
		if len(x) == 0 {
			return nil
		}
		return parseTime(x[0])
	}
	return nil
}

// geoPoint reads an ECS geo_point, which may be an object with lat/lon, a
// [lon, lat] array or a "lat,lon" string.
func (d document) geoPoint(path ...string) (lon, lat *float64) {
	v, ok := d.lookup(path...)
	if !ok {
		return nil, nil
	}
	switch p := v.(type) {
	case map[string]interface{}:
		loc := document(p)
		return loc.float("lon"), loc.float("lat")
	case []interface{}:
		if len(p) != 2 {
			return nil, nil
		}
		return floatOf(p[0]), floatOf(p[1])
	case string:
		parts := strings.Split(p, ",")
		if len(parts) != 2 {
			return nil, nil
		}
		return floatOf(parts[1]), floatOf(parts[0])
	}
	return nil, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
