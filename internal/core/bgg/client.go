package bgg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bggsync/internal/config"
	"bggsync/internal/logger"
	"bggsync/internal/syncerr"
)

// Candidate is one search hit, scored later by the matcher.
type Candidate struct {
	ExternalID    int    `json:"external_id"`
	Name          string `json:"name"`
	YearPublished *int   `json:"year_published,omitempty"`
	Score         int    `json:"score"`
}

// Detail is the full metadata record for a game.
type Detail struct {
	ExternalID      int      `json:"external_id"`
	Name            string   `json:"name"`
	YearPublished   *int     `json:"year_published,omitempty"`
	ImageURL        string   `json:"image_url,omitempty"`
	DescriptionHTML string   `json:"description_html,omitempty"`
	Publishers      []string `json:"publishers,omitempty"`
}

// Searcher is the metadata surface the matcher depends on.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
	FetchDetail(ctx context.Context, externalID int) (*Detail, error)
}

// Config carries every delay and retry parameter of the fetch primitive.
type Config struct {
	BaseURL       string
	Token         string
	CourtesyMin   time.Duration
	CourtesyMax   time.Duration
	BackoffBase   time.Duration
	BackoffJitter time.Duration
	MaxAttempts   int

	HTTPClient *http.Client
	// Sleep waits for d or until ctx is done. Tests inject a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0, n).
	Rand   func(n int64) int64
	Logger *logger.Logger
}

// DefaultConfig mirrors the limits BGG tolerates in practice.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		CourtesyMin:   800 * time.Millisecond,
		CourtesyMax:   1200 * time.Millisecond,
		BackoffBase:   2000 * time.Millisecond,
		BackoffJitter: 1000 * time.Millisecond,
		MaxAttempts:   6,
	}
}

// FromConfig builds a client from the process configuration.
func FromConfig(cfg config.Config) (*Client, error) {
	bc := DefaultConfig(cfg.BGGBaseURL)
	bc.Token = cfg.BGGAPIToken
	bc.CourtesyMin, bc.CourtesyMax = cfg.BGGCourtesyMin, cfg.BGGCourtesyMax
	bc.BackoffBase, bc.BackoffJitter = cfg.BGGBackoffBase, cfg.BGGBackoffJit
	bc.MaxAttempts = cfg.BGGMaxAttempts
	return New(bc)
}

type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
	rnd        func(n int64) int64
	log        *logger.Logger
}

var _ Searcher = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, syncerr.Wrap(syncerr.ErrConfig, "bgg", "base url required", nil)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.CourtesyMax < cfg.CourtesyMin {
		cfg.CourtesyMax = cfg.CourtesyMin
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: cfg.HTTPClient,
		sleep:      cfg.Sleep,
		rnd:        cfg.Rand,
		log:        cfg.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if c.sleep == nil {
		c.sleep = SleepWithContext
	}
	if c.rnd == nil {
		c.rnd = rand.Int63n
	}
	if c.log == nil {
		c.log = logger.New("BGGClient")
	}
	return c, nil
}

// SleepWithContext blocks for d, returning early if ctx is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Search runs a free-text board game search.
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("type", "boardgame")
	body, err := c.fetch(ctx, "/search", params)
	if err != nil {
		if errors.Is(err, syncerr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return parseSearch(body)
}

// FetchDetail returns the full record, or nil when BGG has no such id.
func (c *Client) FetchDetail(ctx context.Context, externalID int) (*Detail, error) {
	if externalID <= 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("id", strconv.Itoa(externalID))
	body, err := c.fetch(ctx, "/thing", params)
	if err != nil {
		if errors.Is(err, syncerr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return parseThing(body)
}

// fetch is the rate-limited primitive shared by every call: courtesy delay,
// then up to MaxAttempts tries with exponential backoff on 429, 202 and 5xx.
func (c *Client) fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path + "?" + params.Encode()
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if err := c.sleep(ctx, c.courtesyDelay()); err != nil {
			return nil, err
		}

		body, status, err := c.do(ctx, endpoint)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = syncerr.Wrap(syncerr.ErrUpstream, "bgg", path, err)
		case status >= 200 && status < 300 && status != http.StatusAccepted:
			return body, nil
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return nil, syncerr.Wrap(syncerr.ErrAuth, "bgg", fmt.Sprintf("%s returned %d", path, status), nil)
		case status == http.StatusNotFound:
			return nil, syncerr.Wrap(syncerr.ErrNotFound, "bgg", path, nil)
		case status == http.StatusTooManyRequests:
			lastErr = syncerr.Wrap(syncerr.ErrRateLimit, "bgg", fmt.Sprintf("%s rate limited after %d attempts", path, attempt+1), nil)
		case status == http.StatusAccepted || status >= 500:
			lastErr = syncerr.Wrap(syncerr.ErrUpstream, "bgg", fmt.Sprintf("%s returned %d after %d attempts", path, status, attempt+1), nil)
		default:
			return nil, syncerr.Wrap(syncerr.ErrUpstream, "bgg", fmt.Sprintf("%s returned %d", path, status), nil)
		}

		if attempt == c.cfg.MaxAttempts-1 {
			break
		}
		backoff := c.backoff(attempt)
		c.log.Warn().
			Str("path", path).
			Int("attempt", attempt+1).
			Int("max_attempts", c.cfg.MaxAttempts).
			Dur("backoff", backoff).
			Err(lastErr).
			Msg("bgg request retrying")
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) courtesyDelay() time.Duration {
	span := int64(c.cfg.CourtesyMax - c.cfg.CourtesyMin)
	if span <= 0 {
		return c.cfg.CourtesyMin
	}
	return c.cfg.CourtesyMin + time.Duration(c.rnd(span+1))
}

// backoff is BackoffBase * 2^attempt plus up to BackoffJitter of noise.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase * time.Duration(1<<uint(attempt))
	if c.cfg.BackoffJitter > 0 {
		d += time.Duration(c.rnd(int64(c.cfg.BackoffJitter)))
	}
	return d
}
