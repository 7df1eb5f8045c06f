package pipeline

import (
	"strings"
	"time"
	"unicode/utf8"
)

const titleMaxLen = 60

// deriveTitle extracts a note title from polished markdown: the first
// heading if one exists, otherwise the first non-empty line stripped of
// markdown decorations and truncated. Returns "" when the content yields
// nothing usable.
func deriveTitle(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if title != "" {
				return clip(title, titleMaxLen)
			}
			continue
		}
		candidate := strings.TrimSpace(strings.Trim(trimmed, "*_`>- "))
		if utf8.RuneCountInString(candidate) > 3 {
			if utf8.RuneCountInString(candidate) > titleMaxLen {
				return clip(candidate, titleMaxLen) + "..."
			}
			return candidate
		}
	}
	return ""
}

// fallbackTitle names a note by its creation time when no title can be
// derived from content.
func fallbackTitle(ts time.Time) string {
	return "Note from " + ts.Local().Format("Jan 2, 2006 15:04")
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
