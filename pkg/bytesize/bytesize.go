// Package bytesize provides human-readable byte size parsing and formatting
// using binary (1024) units.
//
// Supported units (case-insensitive): B, KB/KiB, MB/MiB, GB/GiB, TB/TiB.
// A bare number is bytes.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size represents a byte size as int64.
type Size int64

// Common size constants using binary (1024) base.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

var unitMultipliers = map[string]Size{
	"b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses a human-readable byte size string.
//
// Examples:
//   - "5MB" → 5242880
//   - "1.5 GB" → 1610612736
//   - "1024" → 1024
func Parse(s string) (Size, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", matches[1], err)
	}

	multiplier := B
	if unit := strings.ToLower(matches[2]); unit != "" {
		var ok bool
		multiplier, ok = unitMultipliers[unit]
		if !ok {
			return 0, fmt.Errorf("bytesize: unknown unit %q", matches[2])
		}
	}

	return Size(value * float64(multiplier)), nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format converts a byte size to a human-readable string using the
// largest unit that yields a value >= 1.
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}

	negative := s < 0
	if negative {
		s = -s
	}

	var (
		value float64
		unit  string
	)
	switch {
	case s >= TB:
		value, unit = float64(s)/float64(TB), "TB"
	case s >= GB:
		value, unit = float64(s)/float64(GB), "GB"
	case s >= MB:
		value, unit = float64(s)/float64(MB), "MB"
	case s >= KB:
		value, unit = float64(s)/float64(KB), "KB"
	default:
		value, unit = float64(s), "B"
	}

	formatted := strconv.FormatFloat(value, 'f', -1, 64)
	if i := strings.Index(formatted, "."); i >= 0 && len(formatted) > i+3 {
		formatted = formatted[:i+3]
	}
	if negative {
		formatted = "-" + formatted
	}
	return formatted + unit
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return Format(s)
}

// Bytes returns the size in bytes as int64.
func (s Size) Bytes() int64 {
	return int64(s)
}
