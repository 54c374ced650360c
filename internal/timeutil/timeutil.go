// Package timeutil parses the timestamp formats that appear in
// Claude Code data files.
package timeutil

import "time"

// formats lists accepted layouts, most common first. Session
// records carry RFC3339 with milliseconds; older history entries
// sometimes omit the fractional part or the zone.
var formats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Parse attempts to parse a timestamp string. Returns the zero
// time if the string is empty or matches no known layout.
func Parse(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Format renders t as RFC3339 UTC, the canonical storage form.
func Format(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
