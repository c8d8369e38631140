package hl7

import (
	"strings"
	"unicode/utf8"
)

// NoLimit is returned by Limit for fields that are never truncated.
const NoLimit = -1

// TruncationConfig bounds outbound field lengths per "SEG-n" field name.
// Receivers running legacy interfaces reject over-length fields, so the
// config trades information loss for deliverability. An absent entry and a
// zero DefaultLength both mean "do not truncate".
type TruncationConfig struct {
	// DefaultLength applies to every field without an override.
	DefaultLength int

	// FieldLengths overrides the default per field name, e.g. "PID-5": 194.
	FieldLengths map[string]int
}

// Limit resolves the effective truncation limit for one field and value.
// Delimiter and escape characters in the kept prefix grow to three-character
// sequences on the wire, so each one found shrinks the limit by two. The
// prefix is measured in runes, the same unit Truncate cuts in.
func (c TruncationConfig) Limit(fieldName, value string) int {
	limit, ok := c.FieldLengths[fieldName]
	if !ok {
		limit = c.DefaultLength
	}
	if limit <= 0 {
		return NoLimit
	}
	var seen, matches int
	for _, r := range value {
		if seen == limit {
			break
		}
		seen++
		switch r {
		case '&', '^', '~', '|', '\\':
			matches++
		}
	}
	return max(limit-matches*2, 0)
}

// Truncate trims surrounding whitespace and cuts the value to the effective
// limit for fieldName. Cuts land on rune boundaries, never inside a
// multi-byte sequence, and the result is trimmed again so a cut cannot leave
// trailing whitespace.
func (c TruncationConfig) Truncate(fieldName, value string) string {
	trimmed := strings.TrimSpace(value)
	limit := c.Limit(fieldName, trimmed)
	if limit == NoLimit || utf8.RuneCountInString(trimmed) <= limit {
		return trimmed
	}
	runes := []rune(trimmed)
	return strings.TrimRight(string(runes[:limit]), " \t")
}
