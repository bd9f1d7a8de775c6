package credential

import (
	"math"
	"regexp"
	"strings"
)

const redacted = "[redacted]"

// Field names whose values must never appear in user-visible text, matched
// in key:value and key=value shapes across JSON, YAML, and query strings.
var secretFieldPattern = regexp.MustCompile(
	`(?i)("?(?:api[_-]?key|access[_-]?token|refresh[_-]?token|secret|password|passwd|authorization|credentials?|bearer|private[_-]?key)"?\s*[:=]\s*)("[^"]*"|'[^']*'|[^\s,}&]+)`)

var credRefPattern = regexp.MustCompile(`@cred:[A-Za-z0-9._-]+`)

// Candidate tokens for the entropy check: long unbroken runs of
// secret-alphabet characters.
var entropyCandidate = regexp.MustCompile(`[A-Za-z0-9+/_=-]{20,}`)

// Redactor scrubs secret-looking content from error messages and log lines:
// known secret values, credential references, common secret field names, and
// high-entropy strings.
type Redactor struct {
	known  []string
	source func() []string // live values, re-read every pass
}

// NewRedactor builds a redactor. known are exact secret values (from the
// credential store) that are always removed regardless of shape.
func NewRedactor(known []string) *Redactor {
	vals := make([]string, 0, len(known))
	for _, v := range known {
		if len(v) >= 4 {
			vals = append(vals, v)
		}
	}
	return &Redactor{known: vals}
}

// Redact returns s with every secret-looking fragment replaced.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	for _, v := range r.known {
		s = strings.ReplaceAll(s, v, redacted)
	}
	if r.source != nil {
		for _, v := range r.source() {
			if len(v) >= 4 {
				s = strings.ReplaceAll(s, v, redacted)
			}
		}
	}
	s = secretFieldPattern.ReplaceAllString(s, "${1}"+redacted)
	s = credRefPattern.ReplaceAllString(s, redacted)
	s = entropyCandidate.ReplaceAllStringFunc(s, func(tok string) string {
		if highEntropy(tok) {
			return redacted
		}
		return tok
	})
	return s
}

// highEntropy reports whether tok looks like key material: mixed character
// classes and Shannon entropy above what prose or identifiers reach.
func highEntropy(tok string) bool {
	var hasUpper, hasLower, hasDigit bool
	freq := make(map[rune]float64, len(tok))
	for _, r := range tok {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
		freq[r]++
	}
	classes := 0
	for _, has := range []bool{hasUpper, hasLower, hasDigit} {
		if has {
			classes++
		}
	}
	if classes < 2 {
		return false
	}
	n := float64(len(tok))
	entropy := 0.0
	for _, c := range freq {
		p := c / n
		entropy -= p * math.Log2(p)
	}
	return entropy >= 3.8
}
