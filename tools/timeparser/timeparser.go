package timeparser

import (
	"fmt"
	"math"
	"time"
)

// SampleInterval is the length of one recorded interval used for bulk upload points
const SampleInterval = time.Hour

// SecondsToMillis converts a recorded sample timestamp (seconds since epoch) to milliseconds
func SecondsToMillis(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}

// SecondsToTime converts a recorded sample timestamp to a UTC time
func SecondsToTime(seconds float64) time.Time {
	return time.UnixMilli(SecondsToMillis(seconds)).UTC()
}

// MillisToTime converts a millisecond timestamp to a UTC time
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// IntervalBounds returns the start and end of the interval beginning at the sample
func IntervalBounds(seconds float64, length time.Duration) (time.Time, time.Time) {
	start := SecondsToTime(seconds)
	return start, start.Add(length)
}

// FormatInterval renders a time the way the VTN expects interval boundaries
func FormatInterval(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseInterval parses an interval boundary produced by FormatInterval
func ParseInterval(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse interval '%s': %w", value, err)
	}
	return t, nil
}
