package gateway

import "time"

// parseTimestamp interprets a device-reported ISO-8601 timestamp. The Z
// suffix and explicit offsets are accepted; an empty, missing, or
// unparseable value falls back to now, so a device with a failed NTP sync
// never loses the rest of the message.
func parseTimestamp(raw string, now time.Time) time.Time {
	if raw == "" {
		return now
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return now
}
