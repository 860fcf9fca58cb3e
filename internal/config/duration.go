package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const day = 24 * time.Hour

var durationPattern = regexp.MustCompile(`^(\d+)\s*([a-z]?)$`)

var durationUnits = map[string]time.Duration{
	"":  day,
	"d": day,
	"w": 7 * day,
	"m": 30 * day,
	"y": 365 * day,
}

// Duration is a retention period written as an integer magnitude with an optional
// unit suffix: d (days, the default), w (weeks), m (30 days) or y (365 days).
type Duration time.Duration

// ParseDuration parses a retention period such as "90d", "6m", "1y" or "30".
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: expected <number>[d|w|m|y]", raw)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	unit := durationUnits[m[2]]
	if unit == 0 {
		return 0, fmt.Errorf("invalid duration %q: unknown unit %q", raw, m[2])
	}
	if n > int64((1<<63-1)/unit) {
		return 0, fmt.Errorf("invalid duration %q: out of range", raw)
	}
	return time.Duration(n) * unit, nil
}

// FormatDuration renders d in the largest unit that divides it exactly.
func FormatDuration(d time.Duration) string {
	for _, u := range []struct {
		suffix string
		unit   time.Duration
	}{{"y", 365 * day}, {"m", 30 * day}, {"w", 7 * day}} {
		if d > 0 && d%u.unit == 0 {
			return fmt.Sprintf("%d%s", d/u.unit, u.suffix)
		}
	}
	return fmt.Sprintf("%dd", d/day)
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return FormatDuration(time.Duration(d)) }

// UnmarshalYAML accepts both quoted and bare scalars ("90d", 90).
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the canonical short form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
