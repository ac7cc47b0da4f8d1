// Package sanitize normalizes the two tag fields that real-world libraries
// reliably mangle: track numbers and years. Both functions are pure, total
// (malformed input always produces a defined output) and idempotent, so
// replaying a sanitized value reports no further change.
package sanitize

import (
	"strconv"
	"strings"
)

// TrackNumber trims the raw value, takes the part before the first "/"
// (handling "7/12" style tags) and re-stringifies it as a plain integer,
// which also strips leading zeros. A non-numeric value cannot be repaired
// and collapses to the empty string. changed reports whether the cleaned
// value differs from the original; it is the signal collected into the
// scan's fix list.
func TrackNumber(raw string) (bool, string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw != "", ""
	}

	head, _, _ := strings.Cut(trimmed, "/")

	number, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return true, ""
	}

	clean := strconv.Itoa(number)
	return clean != raw, clean
}

// Year trims the raw value and normalizes backslashes to forward slashes;
// a double-slash delimiter marks a malformed multi-value year tag, in which
// case only the part before it survives. Anything else passes through as
// unchanged (the normalized text is still returned, so the store never holds
// a backslash, but no file rewrite is offered for it).
func Year(raw string) (bool, string) {
	normalized := strings.ReplaceAll(strings.TrimSpace(raw), `\`, "/")

	if head, _, found := strings.Cut(normalized, "//"); found {
		return true, strings.TrimSpace(head)
	}

	return false, normalized
}
