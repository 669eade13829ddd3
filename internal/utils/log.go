package utils

import "strings"

// TruncateForLog collapses whitespace runs in s and shortens it to limit runes,
// appending an ellipsis when truncated. Mail bodies and model responses are
// multi-line, so previews are flattened to keep console log entries on one line.
func TruncateForLog(s string, limit int) string {
	if limit <= 0 {
		return ""
	}

	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
