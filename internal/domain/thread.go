package domain

import (
	"strings"
	"unicode/utf8"
)

// ContinuationMarker ends every thread part except the last.
const ContinuationMarker = " +"

// SplitThread breaks text into parts no longer than capacity runes, packing
// words greedily. Every part but the last ends with ContinuationMarker. A
// single word longer than capacity is kept whole. Empty input yields no parts.
func SplitThread(text string, capacity int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var (
		parts   []string
		current strings.Builder
	)
	for _, word := range words {
		candidate := current.String() + word + ContinuationMarker
		if current.Len() > 0 && utf8.RuneCountInString(candidate) > capacity {
			parts = append(parts, strings.TrimSpace(current.String())+ContinuationMarker)
			current.Reset()
		}
		current.WriteString(word)
		current.WriteByte(' ')
	}
	if last := strings.TrimSpace(current.String()); last != "" {
		parts = append(parts, last)
	}
	return parts
}

// Preview shortens text for a single, non-threaded post: the first
// maxLength-3 runes followed by "...". The ellipsis is appended even when
// text already fits.
func Preview(text string, maxLength int) string {
	const ellipsis = "..."
	keep := maxLength - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > keep {
		runes = runes[:keep]
	}
	return string(runes) + ellipsis
}
