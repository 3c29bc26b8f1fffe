package match

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"bggsync/internal/core/bgg"
	"bggsync/internal/core/upc"
	"bggsync/internal/logger"
)

// Scoring weights and candidate tiers.
const (
	ScoreExactName    = 10
	ScoreContainsName = 5
	ScoreYear         = 8

	strictTier   = 3
	fallbackTier = 5
)

// Hints narrow the search for one catalog item. Zero values mean absent.
type Hints struct {
	Year      int
	Publisher string
	UPC       string
}

// Engine selects the best metadata record for a catalog item.
type Engine struct {
	search   bgg.Searcher
	resolver upc.Resolver
	log      *logger.Logger
}

func New(search bgg.Searcher, resolver upc.Resolver, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.New("MatchEngine")
	}
	return &Engine{search: search, resolver: resolver, log: log}
}

// FindBestMatch returns the chosen detail, or nil when nothing qualifies.
// Errors are only returned for metadata service failures.
func (e *Engine) FindBestMatch(ctx context.Context, name string, hints Hints) (*bgg.Detail, error) {
	name = strings.TrimSpace(name)
	query := name

	if hints.UPC != "" && e.resolver != nil {
		if product := e.resolver.Resolve(ctx, hints.UPC); product != nil {
			if cleaned := CleanTitle(product.Title); cleaned != "" {
				e.log.LogDebugf("upc %s resolved to %q (search %q)", hints.UPC, product.Title, cleaned)
				query = cleaned
			}
		}
	}

	detail, err := e.searchAndScore(ctx, query, hints)
	if err != nil || detail != nil {
		return detail, err
	}
	if query != name && name != "" {
		e.log.LogDebugf("no match for %q, retrying with catalog name %q", query, name)
		return e.searchAndScore(ctx, name, hints)
	}
	return nil, nil
}

func (e *Engine) searchAndScore(ctx context.Context, query string, hints Hints) (*bgg.Detail, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	candidates, err := e.search.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	ranked := Rank(candidates, query, hints)

	for i := 0; i < len(ranked) && i < strictTier; i++ {
		detail, err := e.search.FetchDetail(ctx, ranked[i].ExternalID)
		if err != nil {
			return nil, err
		}
		if detail == nil || detail.ImageURL == "" {
			continue
		}
		if hints.Publisher != "" && !publisherMatches(detail.Publishers, hints.Publisher) {
			e.log.LogDebugf("candidate %d %q rejected: publisher %q not in %v", detail.ExternalID, detail.Name, hints.Publisher, detail.Publishers)
			continue
		}
		return detail, nil
	}

	for i := strictTier; i < len(ranked) && i < fallbackTier; i++ {
		detail, err := e.search.FetchDetail(ctx, ranked[i].ExternalID)
		if err != nil {
			return nil, err
		}
		if detail != nil && detail.ImageURL != "" {
			e.log.LogDebugf("fallback candidate %d %q accepted for %q", detail.ExternalID, detail.Name, query)
			return detail, nil
		}
	}
	return nil, nil
}

// Score computes a candidate's score for query and hints.
func Score(c bgg.Candidate, query string, hints Hints) int {
	fold := cases.Fold()
	name := fold.String(strings.TrimSpace(c.Name))
	q := fold.String(strings.TrimSpace(query))

	score := 0
	switch {
	case q != "" && name == q:
		score += ScoreExactName
	case q != "" && strings.Contains(name, q):
		score += ScoreContainsName
	}
	if hints.Year != 0 && c.YearPublished != nil && *c.YearPublished == hints.Year {
		score += ScoreYear
	}
	return score
}

// Rank scores a copy of candidates and orders it by score descending, then
// by external id ascending so the original edition wins ties.
func Rank(candidates []bgg.Candidate, query string, hints Hints) []bgg.Candidate {
	ranked := make([]bgg.Candidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].Score = Score(ranked[i], query, hints)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ExternalID < ranked[j].ExternalID
	})
	return ranked
}

func publisherMatches(publishers []string, want string) bool {
	fold := cases.Fold()
	w := fold.String(strings.TrimSpace(want))
	for _, p := range publishers {
		if strings.Contains(fold.String(p), w) {
			return true
		}
	}
	return false
}
