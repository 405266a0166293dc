package ingest

import "time"

// localLayout is the zone-less form some senders use. It is read as UTC.
const localLayout = "2006-01-02 15:04:05"

// NormalizeTimestamps rewrites every string that parses as RFC3339 or
// "YYYY-MM-DD HH:MM:SS" to RFC3339 in loc. Other values are returned as is.
func NormalizeTimestamps(doc interface{}, loc *time.Location) interface{} {
	switch v := doc.(type) {
	case map[string]interface{}:
		for k, child := range v {
			v[k] = NormalizeTimestamps(child, loc)
		}
		return v
	case []interface{}:
		for i, child := range v {
			v[i] = NormalizeTimestamps(child, loc)
		}
		return v
	case string:
		if t, ok := parseTimestamp(v); ok {
			return t.In(loc).Format(time.RFC3339Nano)
		}
		return v
	default:
		return v
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	// Cheap shape check before parsing: 2006-01-02?15...
	if len(s) < len(localLayout) || s[4] != '-' || s[7] != '-' {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(localLayout, s, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}
