package catalog

import (
	"strings"

	"golang.org/x/text/cases"

	"bggsync/internal/config"
	"bggsync/internal/syncerr"
)

// classifier decides game membership for one run. It is built once from the
// category list and never changes afterwards.
type classifier struct {
	mode     string
	allowed  map[string]struct{}
	excluded map[string]struct{}
}

func newClassifier(rules config.CategoryRules, categories map[string]string) (*classifier, error) {
	c := &classifier{
		mode:     strings.ToLower(strings.TrimSpace(rules.Mode)),
		allowed:  map[string]struct{}{},
		excluded: map[string]struct{}{},
	}
	if c.mode == "" {
		c.mode = config.CategoryModeKeywords
	}
	switch c.mode {
	case config.CategoryModeKeywords:
		fold := cases.Fold()
		keywords := make([]string, 0, len(rules.Keywords))
		for _, k := range rules.Keywords {
			if k = strings.TrimSpace(k); k != "" {
				keywords = append(keywords, fold.String(k))
			}
		}
		for id, name := range categories {
			folded := fold.String(name)
			for _, k := range keywords {
				if strings.Contains(folded, k) {
					c.allowed[id] = struct{}{}
					break
				}
			}
		}
	case config.CategoryModeIDs:
		if len(rules.GameIDs) == 0 {
			return nil, syncerr.Wrap(syncerr.ErrConfig, "catalog", "ids mode needs at least one game category id", nil)
		}
		for _, id := range rules.GameIDs {
			c.allowed[strings.TrimSpace(id)] = struct{}{}
		}
	case config.CategoryModeExclude:
		for _, id := range rules.ExcludedIDs {
			c.excluded[strings.TrimSpace(id)] = struct{}{}
		}
	default:
		return nil, syncerr.Wrap(syncerr.ErrConfig, "catalog", "unknown category mode "+rules.Mode, nil)
	}
	return c, nil
}

func (c *classifier) isGame(categoryIDs []string) bool {
	if c.mode == config.CategoryModeExclude {
		for _, id := range categoryIDs {
			if _, ok := c.excluded[id]; ok {
				return false
			}
		}
		return true
	}
	for _, id := range categoryIDs {
		if _, ok := c.allowed[id]; ok {
			return true
		}
	}
	return false
}
