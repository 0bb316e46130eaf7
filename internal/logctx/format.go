package logctx

import (
	"fmt"
	"strings"
	"time"
)

// Stringify full event
func (event Event) Format() (text string) {
	// Only print parts that are present
	var parts []string
	if !event.Timestamp.IsZero() {
		parts = append(parts, fmt.Sprintf("[%s]", padTimestamp(event.Timestamp)))
	}

	if len(event.Tags) > 0 {
		tagPrefixes := "["
		tagPrefixes += strings.Join(event.Tags, "/")
		tagPrefixes += "]"
		parts = append(parts, tagPrefixes)
	}

	if event.Severity != "" {
		parts = append(parts, fmt.Sprintf("[%s]", event.Severity))
	}

	if event.Message != "" {
		parts = append(parts, event.Message)
	}

	text = strings.Join(parts, " ")
	// No newline, message creator determines newlines
	return
}

// Ensures fixed length strings for timestamps that carry a fractional
// second; a timestamp with zero nanoseconds has no fractional part in
// RFC3339Nano and is returned as formatted
func padTimestamp(timestamp time.Time) (formatted string) {
	formatted = timestamp.Format(time.RFC3339Nano)

	majorFields := strings.Split(formatted, ".")
	if len(majorFields) != 2 {
		return
	}

	// Fractional digits run up to the zone designator (Z, +hh:mm or -hh:mm)
	zoneStart := strings.IndexAny(majorFields[1], "Z+-")
	if zoneStart < 0 {
		return
	}

	tsPrefix := majorFields[0]
	nanoseconds := majorFields[1][:zoneStart]
	timezoneOffset := majorFields[1][zoneStart:]

	// Pad the nanoseconds part with trailing zeros (RFC3339Nano trims them) to ensure it's 9 digits long
	for len(nanoseconds) < 9 {
		nanoseconds = nanoseconds + "0"
	}

	// Rebuild the timestamp with padded nanoseconds and the original timezone offset
	formatted = fmt.Sprintf("%s.%s%s", tsPrefix, nanoseconds, timezoneOffset)
	return
}
