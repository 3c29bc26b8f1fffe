package bgg

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bggsync/internal/logger"
	"bggsync/internal/syncerr"
)

const searchXML = `<?xml version="1.0" encoding="utf-8"?>
<items total="3" termsofuse="https://boardgamegeek.com/xmlapi/termsofuse">
  <item type="boardgame" id="13">
    <name type="primary" value="Catan"/>
    <yearpublished value="1995" />
  </item>
  <item type="boardgame" id="8">
    <name type="alternate" value="Catan: Das Kartenspiel"/>
    <name type="primary" value="Catan Card Game"/>
    <yearpublished value="2006" />
  </item>
  <item type="boardgame" id="13">
    <name type="primary" value="Catan"/>
  </item>
  <item type="boardgame" id="999">
    <name type="primary" value="Catan Prototype"/>
  </item>
</items>`

const thingXML = `<?xml version="1.0" encoding="utf-8"?>
<items termsofuse="https://boardgamegeek.com/xmlapi/termsofuse">
  <item type="boardgame" id="13">
    <thumbnail>https://cf.geekdo-images.com/thumb.jpg</thumbnail>
    <image>https://cf.geekdo-images.com/original.jpg</image>
    <name type="primary" sortindex="1" value="CATAN"/>
    <name type="alternate" sortindex="1" value="Die Siedler von Catan"/>
    <description>In CATAN, players &amp;quot;settle&amp;quot; an island.&#10;&#10;Trade &amp;amp; build.</description>
    <yearpublished value="1995" />
    <link type="boardgamecategory" id="1026" value="Negotiation" />
    <link type="boardgamepublisher" id="37" value="KOSMOS" />
    <link type="boardgamepublisher" id="17" value="999 Games" />
  </item>
</items>`

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestClient(t *testing.T, url string, rec *sleepRecorder) *Client {
	t.Helper()
	cfg := DefaultConfig(url)
	cfg.Sleep = rec.sleep
	cfg.Rand = func(n int64) int64 { return 0 }
	cfg.Logger = logger.Nop()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, syncerr.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestSearchParsesCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("query") != "Catan" || r.URL.Query().Get("type") != "boardgame" {
			t.Fatalf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(searchXML))
	}))
	t.Cleanup(server.Close)

	rec := &sleepRecorder{}
	got, err := newTestClient(t, server.URL, rec).Search(context.Background(), "Catan")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 deduplicated candidates, got %d: %#v", len(got), got)
	}
	if got[1].ExternalID != 8 || got[1].Name != "Catan Card Game" || *got[1].YearPublished != 2006 {
		t.Fatalf("unexpected candidate %#v", got[1])
	}
	if got[2].YearPublished != nil {
		t.Fatalf("expected nil year, got %v", *got[2].YearPublished)
	}
	if len(rec.delays) != 1 || rec.delays[0] != 800*time.Millisecond {
		t.Fatalf("expected one courtesy delay of 800ms, got %v", rec.delays)
	}
}

func TestFetchDetailParsesRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "13" {
			t.Fatalf("unexpected id %q", r.URL.Query().Get("id"))
		}
		_, _ = w.Write([]byte(thingXML))
	}))
	t.Cleanup(server.Close)

	d, err := newTestClient(t, server.URL, &sleepRecorder{}).FetchDetail(context.Background(), 13)
	if err != nil {
		t.Fatalf("FetchDetail returned error: %v", err)
	}
	if d == nil || d.ExternalID != 13 || d.Name != "CATAN" {
		t.Fatalf("unexpected detail %#v", d)
	}
	if d.ImageURL != "https://cf.geekdo-images.com/original.jpg" {
		t.Fatalf("unexpected image %q", d.ImageURL)
	}
	if len(d.Publishers) != 2 || d.Publishers[0] != "KOSMOS" || d.Publishers[1] != "999 Games" {
		t.Fatalf("unexpected publishers %v", d.Publishers)
	}
	want := `<p>In CATAN, players &#34;settle&#34; an island.</p><p>Trade &amp; build.</p>`
	if d.DescriptionHTML != want {
		t.Fatalf("unexpected description %q", d.DescriptionHTML)
	}
}

func TestFetchDetailMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<items termsofuse="x"></items>`))
	}))
	t.Cleanup(server.Close)

	d, err := newTestClient(t, server.URL, &sleepRecorder{}).FetchDetail(context.Background(), 42)
	if err != nil || d != nil {
		t.Fatalf("expected nil detail, got %#v / %v", d, err)
	}
}

func TestFetchDetail404IsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	d, err := newTestClient(t, server.URL, &sleepRecorder{}).FetchDetail(context.Background(), 42)
	if err != nil || d != nil {
		t.Fatalf("expected nil detail, got %#v / %v", d, err)
	}
}

func TestFetchRetriesRateLimitUpToCeiling(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	rec := &sleepRecorder{}
	_, err := newTestClient(t, server.URL, rec).Search(context.Background(), "Catan")
	if !errors.Is(err, syncerr.ErrRateLimit) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 6 {
		t.Fatalf("expected exactly 6 attempts, got %d", got)
	}
	// 6 courtesy delays interleaved with 5 backoffs of 2s * 2^attempt
	wantBackoffs := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	var backoffs []time.Duration
	for i, d := range rec.delays {
		if i%2 == 1 {
			backoffs = append(backoffs, d)
		}
	}
	if len(rec.delays) != 11 || len(backoffs) != len(wantBackoffs) {
		t.Fatalf("unexpected sleeps %v", rec.delays)
	}
	for i := range wantBackoffs {
		if backoffs[i] != wantBackoffs[i] {
			t.Fatalf("backoff %d = %v, want %v", i, backoffs[i], wantBackoffs[i])
		}
	}
}

func TestFetchPersistent5xxIsUpstream(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	_, err := newTestClient(t, server.URL, &sleepRecorder{}).FetchDetail(context.Background(), 1)
	if !errors.Is(err, syncerr.ErrUpstream) || errors.Is(err, syncerr.ErrRateLimit) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 6 {
		t.Fatalf("expected 6 attempts, got %d", calls)
	}
}

func TestFetchRecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(searchXML))
	}))
	t.Cleanup(server.Close)

	got, err := newTestClient(t, server.URL, &sleepRecorder{}).Search(context.Background(), "Catan")
	if err != nil || len(got) == 0 {
		t.Fatalf("expected recovery, got %v / %v", got, err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestFetchAuthFailsImmediately(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(status)
		}))

		_, err := newTestClient(t, server.URL, &sleepRecorder{}).Search(context.Background(), "Catan")
		server.Close()
		if !errors.Is(err, syncerr.ErrAuth) {
			t.Fatalf("status %d: expected auth error, got %v", status, err)
		}
		if atomic.LoadInt32(&calls) != 1 {
			t.Fatalf("status %d: expected a single attempt, got %d", status, calls)
		}
	}
}

func TestFetchSendsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(searchXML))
	}))
	t.Cleanup(server.Close)

	cfg := DefaultConfig(server.URL)
	cfg.Token = "tok"
	cfg.Sleep = (&sleepRecorder{}).sleep
	cfg.Logger = logger.Nop()
	c, _ := New(cfg)
	if _, err := c.Search(context.Background(), "Catan"); err != nil {
		t.Fatalf("expected token to be accepted: %v", err)
	}
}

func TestCourtesyDelayWindow(t *testing.T) {
	cfg := DefaultConfig("http://x")
	cfg.Rand = func(n int64) int64 { return n - 1 }
	c, _ := New(cfg)
	if d := c.courtesyDelay(); d != 1200*time.Millisecond {
		t.Fatalf("expected upper bound 1200ms, got %v", d)
	}
	if d := c.backoff(2); d != 8*time.Second+999*time.Millisecond+999999*time.Nanosecond {
		t.Fatalf("unexpected backoff %v", d)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	c, _ := New(DefaultConfig("http://unused"))
	got, err := c.Search(context.Background(), "  ")
	if err != nil || got != nil {
		t.Fatalf("expected nil result, got %v / %v", got, err)
	}
}
