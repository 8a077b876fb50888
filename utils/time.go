package utils

import "time"

// ParseTime returns time.Time from text represented time
func ParseTime(t string) (time.Time, error) {
	return time.Parse(time.RFC3339, t)
}

// MakeTimeToString returns text represented time from time.Time
func MakeTimeToString(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// GetElapsedSince returns elapsed time since the text represented time,
// rounded to seconds. Returns zero if the text can't be parsed.
func GetElapsedSince(t string, now time.Time) time.Duration {
	parsed, err := ParseTime(t)
	if err != nil {
		return 0
	}

	elapsed := now.Sub(parsed)
	if elapsed < 0 {
		return 0
	}
	return elapsed.Round(time.Second)
}
