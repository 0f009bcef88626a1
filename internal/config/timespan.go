// Package config implements the time-span parsing and startup-flag surface
// named in spec.md §6.
package config

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/orizon-lang/orizon-siteprof/internal/errorsx"
)

// maxTimeSpan caps any parsed duration at 365 days, per spec.md §6.
const maxTimeSpan = 365 * 24 * time.Hour

var unitDurations = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// ParseTimeSpan parses a sequence of decimal integers each followed by a
// unit character from s|m|h|d, with whitespace permitted between entries
// (e.g. "1h 30m", "90s", "2d12h"). The total must not exceed 365 days; any
// malformed input yields a *errorsx.ProfilerError (ConfigError).
func ParseTimeSpan(s string) (time.Duration, error) {
	var total time.Duration

	i := 0
	n := len(s)
	sawEntry := false

	for i < n {
		for i < n && unicode.IsSpace(rune(s[i])) {
			i++
		}

		if i >= n {
			break
		}

		start := i
		for i < n && s[i] >= '0' && s[i] <= '9' {
			i++
		}

		if i == start {
			return 0, errorsx.ConfigError("timespan", s, fmt.Sprintf("expected a decimal integer at position %d", start))
		}

		value := 0
		for _, c := range s[start:i] {
			value = value*10 + int(c-'0')
		}

		if i >= n {
			return 0, errorsx.ConfigError("timespan", s, "missing unit character after integer")
		}

		unit := s[i]
		dur, ok := unitDurations[unit]
		if !ok {
			return 0, errorsx.ConfigError("timespan", s, fmt.Sprintf("unknown unit %q (expected one of s, m, h, d)", string(unit)))
		}

		i++
		total += time.Duration(value) * dur
		sawEntry = true
	}

	if !sawEntry {
		return 0, errorsx.ConfigError("timespan", s, "empty time span")
	}

	if total > maxTimeSpan {
		return 0, errorsx.ConfigError("timespan", s, "exceeds the 365-day maximum")
	}

	return total, nil
}

// FormatTimeSpan is the inverse of ParseTimeSpan for diagnostics, rendering
// days/hours/minutes/seconds components that round-trip through it.
func FormatTimeSpan(d time.Duration) string {
	var b strings.Builder

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	if days > 0 {
		fmt.Fprintf(&b, "%dd", days)
	}

	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}

	if minutes > 0 {
		fmt.Fprintf(&b, "%dm", minutes)
	}

	if seconds > 0 || b.Len() == 0 {
		fmt.Fprintf(&b, "%ds", seconds)
	}

	return b.String()
}
