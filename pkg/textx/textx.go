// Package textx provides small text utilities for model-generated strings.
package textx

import "strings"

// Sanitize removes control characters except tab, newline and carriage
// return, then trims surrounding whitespace. Postgres text columns reject
// NUL bytes, so model output is run through here before it is stored or
// composed into messages.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Line flattens s for single-line contexts such as file names: every control
// character is dropped and surrounding whitespace trimmed.
func Line(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Clip bounds s to at most max runes, marking a cut with an ellipsis. Model
// output carries no length contract; stored rows and ERP fields do.
func Clip(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
