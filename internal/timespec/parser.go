// Package timespec parses the --since and --until flags of list commands.
package timespec

import (
	"fmt"
	"time"

	"github.com/dyluth/rally/pkg/ledger"
)

// Parse parses a time specification into a ledger timestamp.
// Supports two formats:
//   - Go duration format: "1h", "30m", "1h30m", "2h45m30s"
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
//
// Duration specifications are relative to now (subtracted from it).
// For example, "1h" means "1 hour ago".
func Parse(spec string, now time.Time) (ledger.Timestamp, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	// Try parsing as RFC3339 first
	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return ledger.FromTime(t), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("invalid time specification: %s (durations count back from now and must be positive)", spec)
		}
		return ledger.FromTime(now.Add(-d)), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// Range is a half-open time window. A zero bound is unbounded.
type Range struct {
	Since ledger.Timestamp
	Until ledger.Timestamp
}

// Contains reports whether ts falls in [Since, Until).
func (r Range) Contains(ts ledger.Timestamp) bool {
	if r.Since != 0 && ts < r.Since {
		return false
	}
	if r.Until != 0 && ts >= r.Until {
		return false
	}
	return true
}

// IsZero reports whether neither bound is set.
func (r Range) IsZero() bool {
	return r.Since == 0 && r.Until == 0
}

// ParseRange parses both --since and --until flags into a time range.
// Validates that since < until if both are specified.
func ParseRange(since, until string, now time.Time) (Range, error) {
	var r Range
	var err error

	if since != "" {
		r.Since, err = Parse(since, now)
		if err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		r.Until, err = Parse(until, now)
		if err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if r.Since != 0 && r.Until != 0 && r.Since >= r.Until {
		return Range{}, fmt.Errorf("--since must be before --until")
	}

	return r, nil
}
