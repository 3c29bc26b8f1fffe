package match

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"bggsync/internal/core/bgg"
	"bggsync/internal/core/upc"
	"bggsync/internal/logger"
	"bggsync/internal/syncerr"
)

type fakeSearcher struct {
	results map[string][]bgg.Candidate
	details map[int]*bgg.Detail
	err     error

	queries []string
	fetched []int
}

func (f *fakeSearcher) Search(_ context.Context, query string) ([]bgg.Candidate, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func (f *fakeSearcher) FetchDetail(_ context.Context, id int) (*bgg.Detail, error) {
	f.fetched = append(f.fetched, id)
	return f.details[id], nil
}

type fakeResolver map[string]*upc.Product

func (f fakeResolver) Resolve(_ context.Context, code string) *upc.Product { return f[code] }

func year(y int) *int { return &y }

func TestCatanScenario(t *testing.T) {
	search := &fakeSearcher{
		results: map[string][]bgg.Candidate{
			"Catan": {
				{ExternalID: 8, Name: "Catan Card Game", YearPublished: year(2006)},
				{ExternalID: 13, Name: "Catan", YearPublished: year(1995)},
			},
		},
		details: map[int]*bgg.Detail{
			13: {ExternalID: 13, Name: "Catan", ImageURL: "https://img/13.jpg"},
			8:  {ExternalID: 8, Name: "Catan Card Game", ImageURL: "https://img/8.jpg"},
		},
	}
	resolver := fakeResolver{"4002051694776": {Title: "Catan Board Game (2015 Refresh)"}}
	engine := New(search, resolver, logger.Nop())

	got, err := engine.FindBestMatch(context.Background(), "Catan", Hints{Year: 1995, UPC: "4002051694776"})
	if err != nil {
		t.Fatalf("FindBestMatch returned error: %v", err)
	}
	if got == nil || got.ExternalID != 13 {
		t.Fatalf("expected id 13, got %#v", got)
	}
	if !reflect.DeepEqual(search.fetched, []int{13}) {
		t.Fatalf("expected detail fetch for 13 only, got %v", search.fetched)
	}
	if !reflect.DeepEqual(search.queries, []string{"Catan"}) {
		t.Fatalf("unexpected queries %v", search.queries)
	}
}

func TestRankScoresAndTieBreaks(t *testing.T) {
	candidates := []bgg.Candidate{
		{ExternalID: 8, Name: "Catan Card Game", YearPublished: year(2006)},
		{ExternalID: 13, Name: "Catan", YearPublished: year(1995)},
		{ExternalID: 400, Name: "CATAN", YearPublished: year(2015)},
		{ExternalID: 300, Name: "Catan Junior"},
		{ExternalID: 7, Name: "Unrelated"},
	}
	ranked := Rank(candidates, "catan", Hints{Year: 1995})
	gotIDs := make([]int, len(ranked))
	gotScores := make([]int, len(ranked))
	for i, c := range ranked {
		gotIDs[i] = c.ExternalID
		gotScores[i] = c.Score
	}
	if !reflect.DeepEqual(gotIDs, []int{13, 400, 8, 300, 7}) {
		t.Fatalf("unexpected order %v", gotIDs)
	}
	if !reflect.DeepEqual(gotScores, []int{18, 10, 5, 5, 0}) {
		t.Fatalf("unexpected scores %v", gotScores)
	}
	if candidates[0].Score != 0 {
		t.Fatal("Rank must not mutate its input")
	}
}

func TestRankIsDeterministic(t *testing.T) {
	candidates := []bgg.Candidate{
		{ExternalID: 30, Name: "Azul"},
		{ExternalID: 10, Name: "Azul"},
		{ExternalID: 20, Name: "Azul: Summer Pavilion"},
	}
	first := Rank(candidates, "Azul", Hints{})
	for i := 0; i < 20; i++ {
		if again := Rank(candidates, "Azul", Hints{}); !reflect.DeepEqual(first, again) {
			t.Fatalf("ranking changed between runs: %v vs %v", first, again)
		}
	}
	if first[0].ExternalID != 10 || first[1].ExternalID != 30 {
		t.Fatalf("expected lower id first on ties, got %v", first)
	}
}

func TestNoResultsReturnsNil(t *testing.T) {
	search := &fakeSearcher{}
	got, err := New(search, nil, logger.Nop()).FindBestMatch(context.Background(), "Obscure Thing", Hints{})
	if err != nil || got != nil {
		t.Fatalf("expected nil match, got %#v / %v", got, err)
	}
	if len(search.queries) != 1 {
		t.Fatalf("expected a single search, got %v", search.queries)
	}
}

func TestFallsBackToCatalogName(t *testing.T) {
	search := &fakeSearcher{
		results: map[string][]bgg.Candidate{
			"Ticket to Ride Europe": {{ExternalID: 14996, Name: "Ticket to Ride: Europe"}},
		},
		details: map[int]*bgg.Detail{14996: {ExternalID: 14996, ImageURL: "https://img"}},
	}
	resolver := fakeResolver{"1": {Title: "TTR Euro Edition Board Game"}}
	got, err := New(search, resolver, logger.Nop()).FindBestMatch(context.Background(), "Ticket to Ride Europe", Hints{UPC: "1"})
	if err != nil || got == nil || got.ExternalID != 14996 {
		t.Fatalf("expected fallback match, got %#v / %v", got, err)
	}
	if !reflect.DeepEqual(search.queries, []string{"TTR Euro Edition", "Ticket to Ride Europe"}) {
		t.Fatalf("unexpected queries %v", search.queries)
	}
}

func TestUnusableUPCTitleUsesName(t *testing.T) {
	search := &fakeSearcher{}
	resolver := fakeResolver{"1": {Title: "(Board Game)"}}
	_, _ = New(search, resolver, logger.Nop()).FindBestMatch(context.Background(), "Azul", Hints{UPC: "1"})
	if !reflect.DeepEqual(search.queries, []string{"Azul"}) {
		t.Fatalf("expected only the catalog name to be searched, got %v", search.queries)
	}
}

func TestPublisherFilterAndFallbackTier(t *testing.T) {
	search := &fakeSearcher{
		results: map[string][]bgg.Candidate{
			"Carcassonne": {
				{ExternalID: 822, Name: "Carcassonne"},
				{ExternalID: 900, Name: "Carcassonne Big Box"},
				{ExternalID: 901, Name: "Carcassonne: Hunters"},
				{ExternalID: 902, Name: "Carcassonne Junior"},
				{ExternalID: 903, Name: "Carcassonne Mayflower"},
				{ExternalID: 904, Name: "Carcassonne South Seas"},
			},
		},
		details: map[int]*bgg.Detail{
			822: {ExternalID: 822, ImageURL: "https://img/822", Publishers: []string{"Hans im Glück"}},
			900: {ExternalID: 900, ImageURL: ""},
			901: nil,
			902: {ExternalID: 902, ImageURL: "", Publishers: []string{"Z-Man Games"}},
			903: {ExternalID: 903, ImageURL: "https://img/903", Publishers: []string{"Other"}},
			904: {ExternalID: 904, ImageURL: "https://img/904"},
		},
	}
	engine := New(search, nil, logger.Nop())

	got, err := engine.FindBestMatch(context.Background(), "Carcassonne", Hints{Publisher: "z-man"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ExternalID != 903 {
		t.Fatalf("expected fallback tier match 903, got %#v", got)
	}
	if !reflect.DeepEqual(search.fetched, []int{822, 900, 901, 902, 903}) {
		t.Fatalf("unexpected fetch order %v", search.fetched)
	}

	search.fetched = nil
	got, _ = engine.FindBestMatch(context.Background(), "Carcassonne", Hints{Publisher: "HANS IM"})
	if got == nil || got.ExternalID != 822 {
		t.Fatalf("expected publisher match 822, got %#v", got)
	}
}

func TestNoCandidateWithImage(t *testing.T) {
	search := &fakeSearcher{
		results: map[string][]bgg.Candidate{"X": {{ExternalID: 1, Name: "X"}, {ExternalID: 2, Name: "X2"}}},
		details: map[int]*bgg.Detail{1: {ExternalID: 1}, 2: {ExternalID: 2}},
	}
	got, err := New(search, nil, logger.Nop()).FindBestMatch(context.Background(), "X", Hints{})
	if err != nil || got != nil {
		t.Fatalf("expected nil, got %#v / %v", got, err)
	}
}

func TestSearchErrorPropagates(t *testing.T) {
	search := &fakeSearcher{err: syncerr.Wrap(syncerr.ErrAuth, "bgg", "401", nil)}
	_, err := New(search, nil, logger.Nop()).FindBestMatch(context.Background(), "Catan", Hints{})
	if !errors.Is(err, syncerr.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
