// Package schedule decides when recurring workflows are due. Expressions are
// 5-field cron (minute hour day month weekday) with `*`, literals, and `*/N`
// steps. A step matches by positional modulo: `*/30` fires at minutes 0 and
// 30, never 29 or 31.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type fieldKind int

const (
	fieldAny fieldKind = iota
	fieldLiteral
	fieldStep
)

type field struct {
	kind fieldKind
	n    int
}

func (f field) matches(v int) bool {
	switch f.kind {
	case fieldAny:
		return true
	case fieldLiteral:
		return v == f.n
	default:
		return v%f.n == 0
	}
}

var fieldRanges = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Expression is a parsed cron expression.
type Expression struct {
	fields [5]field
}

// ParseExpression parses a 5-field cron expression.
func ParseExpression(expr string) (*Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron expression %q must have 5 fields, has %d", expr, len(parts))
	}
	var e Expression
	for i, part := range parts {
		f, err := parseField(part, fieldRanges[i].min, fieldRanges[i].max)
		if err != nil {
			return nil, fmt.Errorf("cron expression %q: %s field: %w", expr, fieldRanges[i].name, err)
		}
		e.fields[i] = f
	}
	return &e, nil
}

func parseField(s string, min, max int) (field, error) {
	if s == "*" {
		return field{kind: fieldAny}, nil
	}
	if rest, ok := strings.CutPrefix(s, "*/"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			return field{}, fmt.Errorf("invalid step %q", s)
		}
		return field{kind: fieldStep, n: n}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return field{}, fmt.Errorf("invalid value %q", s)
	}
	if n < min || n > max {
		return field{}, fmt.Errorf("value %d out of range [%d,%d]", n, min, max)
	}
	return field{kind: fieldLiteral, n: n}, nil
}

// Matches reports whether the expression is due at t. It is a pure function
// of the wall-clock minute truncation of t; seconds and milliseconds never
// influence the answer.
func (e *Expression) Matches(t time.Time) bool {
	t = t.Truncate(time.Minute)
	values := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, f := range e.fields {
		if !f.matches(values[i]) {
			return false
		}
	}
	return true
}

// IsDue parses expr and reports whether it is due at t.
func IsDue(expr string, t time.Time) (bool, error) {
	e, err := ParseExpression(expr)
	if err != nil {
		return false, err
	}
	return e.Matches(t), nil
}
