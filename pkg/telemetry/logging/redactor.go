package logging

import (
	"fmt"
	"regexp"
)

// builtinPatterns cover the secret shapes most likely to appear in tool
// inputs flowing through the engine.
var builtinPatterns = []string{
	// API keys and bearer tokens
	`(?i)(api[_-]?key|token|secret|password|passwd)\s*[:=]\s*\S+`,
	`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`,
	// Common provider key prefixes
	`\bsk-[A-Za-z0-9]{16,}\b`,
	`\bghp_[A-Za-z0-9]{36}\b`,
	`\bAKIA[0-9A-Z]{16}\b`,
	// Private key blocks
	`-----BEGIN [A-Z ]*PRIVATE KEY-----`,
}

// replacement marks a redacted span.
const replacement = "[REDACTED]"

// Redactor rewrites secret-looking substrings.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the built-in patterns plus any extras.
func NewRedactor(extra []string) (*Redactor, error) {
	r := &Redactor{}
	for _, p := range builtinPatterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	for _, p := range extra {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// Redact returns s with every matching span replaced.
func (r *Redactor) Redact(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, replacement)
	}
	return s
}
