// Package textutil has small string helpers for log output.
package textutil

import (
	"fmt"
	"strings"
)

// Truncate shortens s to at most limit runes, appending an ellipsis when
// anything was cut. A limit of zero or less returns s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// Preview renders v on a single line, truncated for log output.
func Preview(v any, limit int) string {
	s := fmt.Sprintf("%+v", v)
	s = strings.ReplaceAll(s, "\n", " ")
	return Truncate(s, limit)
}
