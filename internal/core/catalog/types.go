package catalog

import "context"

// Meta holds the matching hints extracted from a catalog entry. Zero values
// mean the hint is absent.
type Meta struct {
	UPC       string `json:"upc,omitempty"`
	Year      int    `json:"year,omitempty"`
	Publisher string `json:"publisher,omitempty"`
}

// Item is the per-run snapshot of one catalog entry.
type Item struct {
	ID             string   `json:"id"`
	Version        int64    `json:"version"`
	Name           string   `json:"name"`
	HasImage       bool     `json:"has_image"`
	HasDescription bool     `json:"has_description"`
	CategoryIDs    []string `json:"category_ids,omitempty"`
	Meta           Meta     `json:"meta"`
}

// FullySynced reports whether the item already carries both an image and a
// description.
func (i Item) FullySynced() bool { return i.HasImage && i.HasDescription }

// Gateway is the catalog surface the sync job depends on.
type Gateway interface {
	ListItems(ctx context.Context) ([]Item, error)
	UploadAsset(ctx context.Context, itemID, assetURL, label string) (string, error)
	UpdateDescription(ctx context.Context, itemID, html string) error
}

// Archiver mirrors downloaded assets somewhere durable. Failures are logged
// by the caller and never fail an upload.
type Archiver interface {
	Archive(ctx context.Context, itemID, assetURL, contentType string, data []byte) (string, error)
}

type runIDKey struct{}

// WithRunID scopes idempotency keys created under ctx to runID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id set by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
