package filter

import (
	"strconv"
	"strings"
)

// Resolve walks doc along a dot-separated path. Each segment is a map key,
// or a non-negative integer index when the current value is a sequence.
//
// found is false as soon as a segment cannot be resolved: a missing key, an
// index that is out of range or not a plain non-negative integer, or an
// attempt to descend into a scalar. A key that exists with a nil value is
// found.
func Resolve(path string, doc interface{}) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	current := doc
	for _, segment := range strings.Split(path, ".") {
		next, ok := step(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func step(current interface{}, segment string) (interface{}, bool) {
	switch v := current.(type) {
	case map[string]interface{}:
		value, ok := v[segment]
		return value, ok
	case map[string]string:
		value, ok := v[segment]
		return value, ok
	case []interface{}:
		idx, ok := parseIndex(segment, len(v))
		if !ok {
			return nil, false
		}
		return v[idx], true
	case []map[string]interface{}:
		idx, ok := parseIndex(segment, len(v))
		if !ok {
			return nil, false
		}
		return v[idx], true
	case []string:
		idx, ok := parseIndex(segment, len(v))
		if !ok {
			return nil, false
		}
		return v[idx], true
	default:
		return nil, false
	}
}

// parseIndex accepts only ASCII digits so "+1", "-0" and " 1" are rejected.
func parseIndex(segment string, length int) (int, bool) {
	if segment == "" {
		return 0, false
	}
	for i := 0; i < len(segment); i++ {
		if segment[i] < '0' || segment[i] > '9' {
			return 0, false
		}
	}
	idx, err := strconv.Atoi(segment)
	if err != nil || idx >= length {
		return 0, false
	}
	return idx, true
}
