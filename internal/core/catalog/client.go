package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bggsync/internal/config"
	"bggsync/internal/logger"
	"bggsync/internal/syncerr"
	"bggsync/internal/utils/htmltext"
)

const (
	defaultBaseURL = "https://connect.squareup.com"
	defaultVersion = "2024-01-18"

	// Square rejects descriptions longer than this many characters.
	maxDescriptionRunes = 4096
)

// Config wires a Client. Only AccessToken is required for catalog calls;
// its absence surfaces as a config error on first use.
type Config struct {
	BaseURL     string
	AccessToken string
	Version     string
	Rules       config.CategoryRules

	HTTPClient *http.Client
	// DownloadClient fetches asset bytes. Defaults to HTTPClient.
	DownloadClient *http.Client
	Archive        Archiver
	Logger         *logger.Logger
}

// Client talks to the Square Catalog API.
type Client struct {
	cfg      Config
	baseURL  string
	http     *http.Client
	download *http.Client
	archive  Archiver
	log      *logger.Logger
}

var _ Gateway = (*Client)(nil)

func New(cfg Config) *Client {
	c := &Client{
		cfg:      cfg,
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:     cfg.HTTPClient,
		download: cfg.DownloadClient,
		archive:  cfg.Archive,
		log:      cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.cfg.Version == "" {
		c.cfg.Version = defaultVersion
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.download == nil {
		c.download = c.http
	}
	if c.log == nil {
		c.log = logger.New("CatalogGateway")
	}
	return c
}

// FromConfig builds a Client from process configuration.
func FromConfig(cfg config.Config, archive Archiver) *Client {
	return New(Config{
		BaseURL:     cfg.SquareBaseURL,
		AccessToken: cfg.SquareAccessToken,
		Version:     cfg.SquareVersion,
		Rules:       cfg.Categories,
		Archive:     archive,
	})
}

// apiError is one entry of Square's errors array.
type apiError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field,omitempty"`
}

type errorEnvelope struct {
	Errors []apiError `json:"errors"`
}

func (e errorEnvelope) hasCode(code string) bool {
	for _, item := range e.Errors {
		if item.Code == code {
			return true
		}
	}
	return false
}

func (e errorEnvelope) String() string {
	parts := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		msg := item.Code
		if item.Detail != "" {
			msg += " " + item.Detail
		}
		parts = append(parts, strings.TrimSpace(msg))
	}
	return strings.Join(parts, "; ")
}

// response is a fully read Square reply.
type response struct {
	status int
	body   []byte
	errs   errorEnvelope
}

func (r response) ok() bool { return r.status >= 200 && r.status < 300 }

func (c *Client) requireToken() error {
	if strings.TrimSpace(c.cfg.AccessToken) == "" {
		return syncerr.Wrap(syncerr.ErrConfig, "catalog", "square access token is not configured", nil)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Square-Version", c.cfg.Version)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) send(req *http.Request) (response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{status: resp.StatusCode}, fmt.Errorf("read body: %w", err)
	}
	out := response{status: resp.StatusCode, body: body}
	if !out.ok() {
		_ = json.Unmarshal(body, &out.errs)
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}) (response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return response{}, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

// statusError maps a non-2xx reply to the error taxonomy. fallback is used
// for rejections that are not auth, throttling or server faults.
func statusError(op string, r response, fallback error) error {
	detail := fmt.Sprintf("status %d", r.status)
	if s := r.errs.String(); s != "" {
		detail += ": " + s
	}
	switch {
	case r.status == http.StatusUnauthorized || r.status == http.StatusForbidden:
		return syncerr.Wrap(syncerr.ErrAuth, "catalog", op+" "+detail, nil)
	case r.status == http.StatusTooManyRequests:
		return syncerr.Wrap(syncerr.ErrRateLimit, "catalog", op+" "+detail, nil)
	case r.status >= 500:
		return syncerr.Wrap(syncerr.ErrUpstream, "catalog", op+" "+detail, nil)
	}
	return syncerr.Wrap(fallback, "catalog", op+" "+detail, nil)
}

type listResponse struct {
	Objects []object `json:"objects"`
	Cursor  string   `json:"cursor"`
}

type object struct {
	Type                  string                     `json:"type"`
	ID                    string                     `json:"id"`
	Version               int64                      `json:"version"`
	IsDeleted             bool                       `json:"is_deleted"`
	ItemData              *itemData                  `json:"item_data,omitempty"`
	CategoryData          *categoryData              `json:"category_data,omitempty"`
	ItemVariationData     *variationData             `json:"item_variation_data,omitempty"`
	CustomAttributeValues map[string]customAttribute `json:"custom_attribute_values,omitempty"`
}

type itemData struct {
	Name                 string        `json:"name"`
	Description          string        `json:"description"`
	DescriptionHTML      string        `json:"description_html"`
	DescriptionPlaintext string        `json:"description_plaintext"`
	ImageIDs             []string      `json:"image_ids"`
	CategoryID           string        `json:"category_id"`
	Categories           []categoryRef `json:"categories"`
	ReportingCategory    *categoryRef  `json:"reporting_category"`
	Variations           []object      `json:"variations"`
}

type categoryRef struct {
	ID string `json:"id"`
}

type categoryData struct {
	Name string `json:"name"`
}

type variationData struct {
	UPC string `json:"upc"`
	SKU string `json:"sku"`
}

type customAttribute struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	Type        string `json:"type"`
	StringValue string `json:"string_value"`
	NumberValue string `json:"number_value"`
}

// listObjects pages through /v2/catalog/list for one object type.
func (c *Client) listObjects(ctx context.Context, types string, visit func(object)) error {
	cursor := ""
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("types", types)
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		r, err := c.doJSON(ctx, http.MethodGet, "/v2/catalog/list?"+params.Encode(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return syncerr.Wrap(syncerr.ErrUpstream, "catalog", "list "+types, err)
		}
		if !r.ok() {
			return statusError("list "+types, r, syncerr.ErrUpstream)
		}
		var lr listResponse
		if err := json.Unmarshal(r.body, &lr); err != nil {
			return syncerr.Wrap(syncerr.ErrUpstream, "catalog", "decode list "+types, err)
		}
		for _, obj := range lr.Objects {
			if obj.IsDeleted {
				continue
			}
			visit(obj)
		}
		c.log.LogDebugf("catalog %s page %d: %d objects", types, page, len(lr.Objects))
		if lr.Cursor == "" {
			return nil
		}
		cursor = lr.Cursor
	}
}

// ListItems returns every game item in catalog order. Categories are read
// first so classification stays fixed for the whole enumeration.
func (c *Client) ListItems(ctx context.Context) ([]Item, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}

	categories := map[string]string{}
	if err := c.listObjects(ctx, "CATEGORY", func(obj object) {
		if obj.CategoryData != nil {
			categories[obj.ID] = obj.CategoryData.Name
		}
	}); err != nil {
		return nil, err
	}
	cls, err := newClassifier(c.cfg.Rules, categories)
	if err != nil {
		return nil, err
	}

	var items []Item
	total := 0
	if err := c.listObjects(ctx, "ITEM", func(obj object) {
		if obj.ItemData == nil {
			return
		}
		total++
		item := toItem(obj)
		if cls.isGame(item.CategoryIDs) {
			items = append(items, item)
		}
	}); err != nil {
		return nil, err
	}
	c.log.LogInfof("catalog listed %d items, %d classified as games (%d categories, mode %s)", total, len(items), len(categories), cls.mode)
	return items, nil
}

func toItem(obj object) Item {
	data := obj.ItemData
	item := Item{
		ID:          obj.ID,
		Version:     obj.Version,
		Name:        strings.TrimSpace(data.Name),
		HasImage:    len(data.ImageIDs) > 0,
		CategoryIDs: categoryIDs(data),
	}
	item.HasDescription = strings.TrimSpace(data.Description) != "" ||
		strings.TrimSpace(data.DescriptionPlaintext) != "" ||
		htmltext.ToPlain(data.DescriptionHTML) != ""

	for _, v := range data.Variations {
		if v.ItemVariationData != nil && strings.TrimSpace(v.ItemVariationData.UPC) != "" {
			item.Meta.UPC = strings.TrimSpace(v.ItemVariationData.UPC)
			break
		}
	}
	for _, attr := range obj.CustomAttributeValues {
		switch strings.ToLower(strings.TrimSpace(attr.Name)) {
		case "year", "year published":
			raw := attr.NumberValue
			if raw == "" {
				raw = attr.StringValue
			}
			if y, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && y > 0 {
				item.Meta.Year = y
			}
		case "publisher":
			item.Meta.Publisher = strings.TrimSpace(attr.StringValue)
		}
	}
	return item
}

func categoryIDs(data *itemData) []string {
	seen := map[string]struct{}{}
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	add(data.CategoryID)
	for _, ref := range data.Categories {
		add(ref.ID)
	}
	if data.ReportingCategory != nil {
		add(data.ReportingCategory.ID)
	}
	return ids
}
