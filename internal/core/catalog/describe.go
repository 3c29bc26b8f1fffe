package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"bggsync/internal/syncerr"
	"bggsync/internal/utils/htmltext"
)

type retrieveResponse struct {
	Object map[string]interface{} `json:"object"`
}

// UpdateDescription re-reads the item for its current version and upserts
// the description against that version. A concurrent edit in between shows
// up as a conflict error.
func (c *Client) UpdateDescription(ctx context.Context, itemID, html string) error {
	if err := c.requireToken(); err != nil {
		return err
	}
	html = prepareDescription(html)
	if html == "" {
		return nil
	}

	obj, version, err := c.retrieve(ctx, itemID)
	if err != nil {
		return err
	}
	data, _ := obj["item_data"].(map[string]interface{})
	if data == nil {
		return syncerr.Wrap(syncerr.ErrNotFound, "catalog", itemID+" is not an item", nil)
	}
	data["description_html"] = html
	delete(data, "description")
	delete(data, "description_plaintext")
	obj["version"] = version

	r, err := c.doJSON(ctx, http.MethodPost, "/v2/catalog/object", map[string]interface{}{
		"idempotency_key": uuid.NewString(),
		"object":          obj,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return syncerr.Wrap(syncerr.ErrUpstream, "catalog", "upsert "+itemID, err)
	}
	switch {
	case r.ok():
		c.log.Info().Str("item_id", itemID).Str("version", version.String()).Msg("description updated")
		return nil
	case r.status == http.StatusConflict || r.errs.hasCode("VERSION_MISMATCH"):
		return syncerr.Wrap(syncerr.ErrConflict, "catalog", fmt.Sprintf("upsert %s at version %s: %s", itemID, version, r.errs), nil)
	case r.status == http.StatusNotFound:
		return syncerr.Wrap(syncerr.ErrNotFound, "catalog", "upsert "+itemID, nil)
	}
	return statusError("upsert "+itemID, r, syncerr.ErrUpstream)
}

func (c *Client) retrieve(ctx context.Context, itemID string) (map[string]interface{}, json.Number, error) {
	r, err := c.doJSON(ctx, http.MethodGet, "/v2/catalog/object/"+url.PathEscape(itemID), nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", syncerr.Wrap(syncerr.ErrUpstream, "catalog", "retrieve "+itemID, err)
	}
	if r.status == http.StatusNotFound {
		return nil, "", syncerr.Wrap(syncerr.ErrNotFound, "catalog", "item "+itemID+" no longer exists", nil)
	}
	if !r.ok() {
		return nil, "", statusError("retrieve "+itemID, r, syncerr.ErrUpstream)
	}

	dec := json.NewDecoder(bytes.NewReader(r.body))
	dec.UseNumber()
	var out retrieveResponse
	if err := dec.Decode(&out); err != nil {
		return nil, "", syncerr.Wrap(syncerr.ErrUpstream, "catalog", "decode "+itemID, err)
	}
	if out.Object == nil {
		return nil, "", syncerr.Wrap(syncerr.ErrNotFound, "catalog", "item "+itemID+" no longer exists", nil)
	}
	if deleted, _ := out.Object["is_deleted"].(bool); deleted {
		return nil, "", syncerr.Wrap(syncerr.ErrNotFound, "catalog", "item "+itemID+" is deleted", nil)
	}
	version, _ := out.Object["version"].(json.Number)
	return out.Object, version, nil
}

// prepareDescription strips markup the catalog will not render and keeps
// the text within the catalog's length limit.
func prepareDescription(html string) string {
	html = htmltext.Sanitize(html)
	plain := htmltext.ToPlain(html)
	if strings.TrimSpace(plain) == "" {
		return ""
	}
	if len([]rune(plain)) > maxDescriptionRunes {
		return htmltext.FromPlain(htmltext.Truncate(plain, maxDescriptionRunes))
	}
	return html
}
