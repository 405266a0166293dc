package utils

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration parses a duration string with support for days ("d") and
// weeks ("w") in addition to the units accepted by time.ParseDuration.
//
// Examples:
//
//	ParseDuration("1d")    // 24 hours
//	ParseDuration("2w")    // 336 hours (14 days)
//	ParseDuration("1h30m") // 1.5 hours (standard Go format)
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var n int
	var unit string
	if count, err := fmt.Sscanf(s, "%d%s", &n, &unit); err == nil && count == 2 {
		switch unit {
		case "d":
			return time.Duration(n) * 24 * time.Hour, nil
		case "w":
			return time.Duration(n) * 7 * 24 * time.Hour, nil
		}
	}

	return 0, fmt.Errorf("invalid duration: %s", s)
}

// ToMillis converts t to UTC unix milliseconds, the persisted time format.
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis converts persisted unix milliseconds back to a time in loc.
// A nil loc yields UTC.
func FromMillis(ms int64, loc *time.Location) time.Time {
	t := time.UnixMilli(ms).UTC()
	if loc != nil {
		t = t.In(loc)
	}
	return t
}

// DurationMillis returns the elapsed milliseconds between start and end,
// never negative.
func DurationMillis(start, end time.Time) int64 {
	d := end.Sub(start).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}
