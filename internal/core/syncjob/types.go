package syncjob

import (
	"context"

	"bggsync/internal/core/bgg"
	"bggsync/internal/core/catalog"
	"bggsync/internal/core/match"
)

// Request holds the run-level options of a sync.
type Request struct {
	Force      bool   `json:"force" form:"force"`
	FilterName string `json:"filter_name" form:"filter_name"`
}

// DispatchSummary is returned once every item of a run is enqueued.
type DispatchSummary struct {
	RunID      string `json:"run_id"`
	Total      int    `json:"total"`
	Dispatched int    `json:"dispatched"`
	Batches    int    `json:"batches"`
}

// Matcher finds the metadata record for a catalog item.
type Matcher interface {
	FindBestMatch(ctx context.Context, name string, hints match.Hints) (*bgg.Detail, error)
}

// DispatchPayload is the body of a sync:dispatch task.
type DispatchPayload struct {
	RunID   string  `json:"run_id"`
	Request Request `json:"request"`
}

// ItemPayload is the body of a sync:item task.
type ItemPayload struct {
	RunID string       `json:"run_id"`
	Force bool         `json:"force"`
	Item  catalog.Item `json:"item"`
}

func hintsFor(item catalog.Item) match.Hints {
	return match.Hints{Year: item.Meta.Year, Publisher: item.Meta.Publisher, UPC: item.Meta.UPC}
}
