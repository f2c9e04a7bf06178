package model

import (
	"fmt"
	"strings"
)

// Severity is a normalized four level severity of a diagnostic.
// Ordering is fixed: Error > Warning > Info > Hint.
type Severity int

const (
	SeverityHint Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	sev, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// ParseSeverity converts a string into Severity. It accepts the four
// canonical names only; tool specific aliases are mapped by processors.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return SeverityError, nil
	case "warning":
		return SeverityWarning, nil
	case "info":
		return SeverityInfo, nil
	case "hint":
		return SeverityHint, nil
	default:
		return 0, fmt.Errorf("unknown severity %q: %w", s, ErrInvalidRequest)
	}
}

// Diagnostic is one normalized analysis finding. Immutable once constructed.
type Diagnostic struct {
	Severity   Severity `json:"severity"`
	Line       int      `json:"line"`   // 1-based, >= 1
	Column     int      `json:"column"` // >= 0, 0 means unknown
	Message    string   `json:"message"`
	Code       string   `json:"code,omitempty"`        // tool specific rule id
	SourceLine string   `json:"source_line,omitempty"` // offending line, best effort
}

// FilterOptions are caller supplied result limits, applied after every
// processor run.
type FilterOptions struct {
	MinSeverity Severity `json:"min_severity"`
	TopN        int      `json:"top_n"` // 0 means unlimited
}

// Filter keeps diagnostics at or above opts.MinSeverity, then truncates to at
// most opts.TopN entries. Relative order is preserved and the input slice is
// never mutated.
func Filter(diags []Diagnostic, opts FilterOptions) []Diagnostic {
	out := make([]Diagnostic, 0, len(diags))
	for _, d := range diags {
		if d.Severity >= opts.MinSeverity {
			out = append(out, d)
		}
	}
	if opts.TopN > 0 && len(out) > opts.TopN {
		out = out[:opts.TopN]
	}
	return out
}

// SourceLine returns the 1-based line of code, or "" when out of range.
func SourceLine(code string, line int) string {
	if line < 1 {
		return ""
	}
	lines := strings.Split(code, "\n")
	if line > len(lines) {
		return ""
	}
	return lines[line-1]
}
