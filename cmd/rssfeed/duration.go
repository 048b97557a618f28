package main

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// durationPattern matches duration strings like "7d", "2w", "3m", "1y"
var durationPattern = regexp.MustCompile(`^(\d+)([dwmy])$`)

// parseDuration parses a duration string like "7d", "2w", "3m", "1y".
//
// Supported units:
//   - d: days
//   - w: weeks (7 days)
//   - m: months (30 days, approximation)
//   - y: years (365 days, approximation)
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration string is empty")
	}

	matches := durationPattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid duration format: %s (expected format: <number><unit>, e.g., 7d, 2w, 3m, 1y)", s)
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil || num < 0 {
		return 0, fmt.Errorf("invalid number in duration: %s", matches[1])
	}

	var day = 24 * time.Hour
	switch matches[2] {
	case "d":
		return time.Duration(num) * day, nil
	case "w":
		return time.Duration(num) * 7 * day, nil
	case "m":
		return time.Duration(num) * 30 * day, nil
	case "y":
		return time.Duration(num) * 365 * day, nil
	}
	return 0, fmt.Errorf("invalid duration unit: %s (expected d, w, m, or y)", matches[2])
}

// resolveTimeArg accepts either an ISO-8601 timestamp/date, passed
// through unchanged, or a duration shorthand like "7d", converted to
// the timestamp that long ago.
func resolveTimeArg(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if durationPattern.MatchString(s) {
		d, err := parseDuration(s)
		if err != nil {
			return "", err
		}
		return time.Now().UTC().Add(-d).Format(time.RFC3339), nil
	}
	return s, nil
}
