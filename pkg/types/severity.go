package types

import (
	"fmt"
	"slices"
	"strings"
)

// Severity is a vulnerability severity level. The zero value is SeverityUnknown
// and levels compare with the usual integer operators:
// UNKNOWN < LOW < MEDIUM < HIGH < CRITICAL.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"UNKNOWN", "LOW", "MEDIUM", "HIGH", "CRITICAL"}

// Severities returns every level, lowest first.
func Severities() []Severity {
	return []Severity{SeverityUnknown, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// SeveritiesDescending returns every level, highest first.
func SeveritiesDescending() []Severity {
	s := Severities()
	slices.Reverse(s)
	return s
}

func (s Severity) String() string {
	if s < SeverityUnknown || s > SeverityCritical {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText renders the level name, so config dumps and JSON stay readable.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a level name strictly.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Compare returns -1, 0 or +1 depending on whether a is lower than, equal to
// or higher than b.
func Compare(a, b Severity) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s meets threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s >= threshold
}

// ParseSeverity parses a level name, ignoring case and surrounding space.
// Anything outside the five known names is an error.
func ParseSeverity(name string) (Severity, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for i, candidate := range severityNames {
		if n == candidate {
			return Severity(i), nil
		}
	}
	return SeverityUnknown, fmt.Errorf("unknown severity %q (want one of %s)", name, strings.Join(severityNames[:], ", "))
}

// SeverityOf maps a scanner-reported severity onto a level. Values the
// scanner invents (e.g. "NEGLIGIBLE") are treated as UNKNOWN.
func SeverityOf(name string) Severity {
	s, err := ParseSeverity(name)
	if err != nil {
		return SeverityUnknown
	}
	return s
}
