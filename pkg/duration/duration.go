// Package duration provides human-readable duration parsing.
// It extends Go's standard time.ParseDuration with support for days and weeks.
//
// Supported extra units (case-insensitive):
//   - d, day(s): days (24 hours)
//   - w, wk, week(s): weeks (7 days)
//
// Examples:
//   - "30d" = 30 days
//   - "2 weeks" = 2 weeks
//   - "1w2d12h" = 1 week, 2 days, 12 hours
//   - "720h" = 720 hours (standard Go format)
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// extendedUnitPattern matches day/week units with optional whitespace
// between the number and the unit, e.g. "30d", "30 days", "2weeks".
var extendedUnitPattern = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|wks?|w|days?|d)`)

// unitHours maps extended unit names to their hour multiplier.
var unitHours = map[string]int64{
	"w":     7 * 24,
	"wk":    7 * 24,
	"wks":   7 * 24,
	"week":  7 * 24,
	"weeks": 7 * 24,
	"d":     24,
	"day":   24,
	"days":  24,
}

// Parse parses a duration string, accepting Go's standard format plus
// day and week units. Extended units are rewritten into hours and the
// remainder is handed to time.ParseDuration.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	// Bare numbers are seconds.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}

	converted := extendedUnitPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := extendedUnitPattern.FindStringSubmatch(match)
		value, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return match
		}
		hours, ok := unitHours[strings.ToLower(parts[2])]
		if !ok {
			return match
		}
		return fmt.Sprintf("%dh", value*hours)
	})
	converted = strings.ReplaceAll(converted, " ", "")

	d, err := time.ParseDuration(converted)
	if err != nil {
		return 0, fmt.Errorf("duration: invalid format %q: %w", s, err)
	}
	return d, nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}
