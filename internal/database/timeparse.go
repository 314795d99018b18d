package database

import (
	"strings"
	"time"
)

// TimestampLayout is the canonical stored timestamp format (UTC, no zone).
const TimestampLayout = "2006-01-02 15:04:05"

// UTCNow returns the current time in UTC truncated to whole seconds.
func UTCNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// FormatTimestamp renders a time in the canonical stored format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses the timestamp formats found in stored alerts:
// ISO-8601 with Z or offset, "YYYY-MM-DD HH:MM:SS", and bare "YYYY-MM-DD".
// All results are converted to UTC. ok is false for empty or unparseable input.
func ParseTimestamp(value string) (time.Time, bool) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return time.Time{}, false
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		TimestampLayout,
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
