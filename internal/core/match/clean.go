package match

import (
	"regexp"
	"strings"
)

var (
	parenthetical  = regexp.MustCompile(`\s*[\(\[][^\)\]]*[\)\]]`)
	boardGameTail  = regexp.MustCompile(`(?i)[\s\-:–—,]*(?:\b(?:a|the)\s+)?\bboard\s*games?\s*$`)
	collapseSpaces = regexp.MustCompile(`\s+`)
)

// CleanTitle strips parenthetical text and trailing "board game" phrasing
// from a retail product title, repeating until nothing changes so a second
// application is a no-op.
func CleanTitle(title string) string {
	cur := normalizeSpaces(title)
	for {
		next := parenthetical.ReplaceAllString(cur, "")
		next = boardGameTail.ReplaceAllString(next, "")
		next = strings.TrimRight(normalizeSpaces(next), " -:,–—")
		if next == cur {
			return cur
		}
		cur = next
	}
}

func normalizeSpaces(s string) string {
	return strings.TrimSpace(collapseSpaces.ReplaceAllString(s, " "))
}
