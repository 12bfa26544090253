package printer

import (
	"fmt"
	"time"
)

// TimeUntil returns the time remaining from now to t, like "2h 5m 10s", or
// "due" when t is not in the future.
func TimeUntil(t, now time.Time) string {
	diff := t.Sub(now)
	if diff <= 0 {
		return "due"
	}

	secs := int64(diff.Seconds())
	hrs, rem := secs/3600, secs%3600
	return fmt.Sprintf("%dh %dm %ds", hrs, rem/60, rem%60)
}

// FormatTimestamp returns a formatted timestamp string in UTC.
// Format: "2006-01-02 15:04:05 UTC".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
