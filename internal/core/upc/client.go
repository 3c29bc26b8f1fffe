package upc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bggsync/internal/logger"
)

// Product is the descriptive triple returned for a scan code.
type Product struct {
	Title       string `json:"title"`
	Brand       string `json:"brand"`
	Description string `json:"description"`
}

// Resolver translates a barcode into a product title.
type Resolver interface {
	Resolve(ctx context.Context, code string) *Product
}

// Client looks codes up against the UPCitemdb API. Without an API key it
// uses the trial endpoint, which allows roughly 100 lookups per day; the
// ceiling is not enforced here and exceeding it just yields nil results.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

var _ Resolver = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logger.New("UPCResolver"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lookupResponse struct {
	Code  string    `json:"code"`
	Total int       `json:"total"`
	Items []Product `json:"items"`
}

// Resolve returns the first product for code, or nil on any failure.
func (c *Client) Resolve(ctx context.Context, code string) *Product {
	code = strings.TrimSpace(code)
	if code == "" || c.baseURL == "" {
		return nil
	}

	path := "/prod/trial/lookup"
	if c.apiKey != "" {
		path = "/prod/v1/lookup"
	}
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.log.LogWarnf("bad upc base url: %v", err)
		return nil
	}
	q := endpoint.Query()
	q.Set("upc", code)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("user_key", c.apiKey)
		req.Header.Set("key_type", "3scale")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.LogDebugf("upc lookup %s failed: %v", code, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.LogDebugf("upc lookup %s returned %d", code, resp.StatusCode)
		return nil
	}

	var payload lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.log.LogDebugf("upc lookup %s decode: %v", code, err)
		return nil
	}
	for _, item := range payload.Items {
		if strings.TrimSpace(item.Title) == "" {
			continue
		}
		p := item
		p.Title = strings.TrimSpace(p.Title)
		return &p
	}
	return nil
}
