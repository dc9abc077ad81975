// Package sanitize normalizes user-supplied identifiers and trims values
// before they reach file paths, store keys, or log lines.
package sanitize

import (
	"strings"
)

// MaxLogArgLength is the maximum length of a single process argument in log output.
// Run configs are passed to processes as JSON and can be large.
const MaxLogArgLength = 120

// StudyName normalizes a study name: surrounding whitespace is trimmed,
// control characters are dropped and spaces become underscores.
func StudyName(input string) string {
	if input == "" {
		return ""
	}
	s := stripControlChars(strings.TrimSpace(input))
	return strings.ReplaceAll(s, " ", "_")
}

// LogArgs returns a copy of args with each element truncated to
// MaxLogArgLength for display. The input slice is not modified.
func LogArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		a = stripControlChars(a)
		if len(a) > MaxLogArgLength {
			a = a[:MaxLogArgLength] + "..."
		}
		out[i] = a
	}
	return out
}

// stripControlChars removes ASCII control characters (0x00-0x1F and 0x7F).
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
