package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/internal/bus"
	"signalbridge/internal/event"
	"signalbridge/internal/store"
	"signalbridge/pkg/logx"
)

func newTestBus(t *testing.T) (*bus.Bus, *store.SQLite) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "events.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return bus.New(st, logx.Nop()), st
}

func recentEvents(t *testing.T, st *store.SQLite) []event.Event {
	t.Helper()
	events, err := st.Recent(context.Background(), 50)
	require.NoError(t, err)
	return events
}

func TestParseFeedItems(t *testing.T) {
	t.Parallel()
	feed := `<?xml version="1.0"?>
<rss><channel>
  <title>Feed Title Is Not An Item</title>
  <item>
    <title><![CDATA[Go 1.24 &amp; beyond]]></title>
    <link>https://example.com/go</link>
  </item>
  <item>
    <title>Tom &amp; Jerry&#39;s &lt;update&gt;</title>
    <link> https://example.com/tj </link>
  </item>
  <item>
    <title>No link here</title>
  </item>
</channel></rss>`

	items := parseFeedItems(feed)
	require.Len(t, items, 2)
	assert.Equal(t, "Go 1.24 & beyond", items[0].Title)
	assert.Equal(t, "https://example.com/go", items[0].Link)
	assert.Equal(t, "Tom & Jerry's <update>", items[1].Title)
	assert.Equal(t, "https://example.com/tj", items[1].Link)
}

func TestParseFeedItemsGarbage(t *testing.T) {
	t.Parallel()
	assert.Empty(t, parseFeedItems("not xml at all"))
	assert.Empty(t, parseFeedItems("<item><title>unclosed"))
}

func TestNewsEmitsOnKeywordMatch(t *testing.T) {
	t.Parallel()
	feed := `<rss><channel>
  <item><title>Golang 1.24 released</title><link>https://example.com/1</link></item>
  <item><title>Cooking with cast iron</title><link>https://example.com/2</link></item>
  <item><title>Why I rewrote it in Rust</title><link>https://example.com/3</link></item>
</channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	b, st := newTestBus(t)
	w := NewNews("hn", srv.URL, []string{"golang", "kubernetes"}, b, time.Hour, logx.Nop())

	require.NoError(t, w.pollFeed(context.Background()))

	events := recentEvents(t, st)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "news_match", e.Type)
	assert.Equal(t, "watcher/news/hn", e.Source)
	assert.Equal(t, event.SeverityMedium, e.Severity)
	assert.Equal(t, "Golang 1.24 released", e.Data["title"])
	assert.Equal(t, "https://example.com/1", e.Data["link"])
	assert.Equal(t, []any{"golang"}, e.Data["keywords"])

	// A second identical poll finds nothing new.
	require.NoError(t, w.pollFeed(context.Background()))
	assert.Len(t, recentEvents(t, st), 1)
}

func TestNewsSeenBeforeKeywordCheck(t *testing.T) {
	t.Parallel()
	feed := `<rss><channel>
  <item><title>quiet title</title><link>https://example.com/a</link></item>
</channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	b, st := newTestBus(t)
	w := NewNews("hn", srv.URL, []string{"golang"}, b, time.Hour, logx.Nop())
	require.NoError(t, w.pollFeed(context.Background()))

	// The item was recorded as seen even though no keyword matched, so a
	// keyword change later never resurfaces old items.
	w.keywords = []string{"quiet"}
	require.NoError(t, w.pollFeed(context.Background()))
	assert.Empty(t, recentEvents(t, st))
}

func TestNewsFetchFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b, _ := newTestBus(t)
	w := NewNews("hn", srv.URL, []string{"go"}, b, time.Hour, logx.Nop())
	assert.Error(t, w.pollFeed(context.Background()))
}

func priceServer(t *testing.T, quotes *map[string]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeQuoteJSON(t, w, *quotes)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeQuoteJSON(t *testing.T, w http.ResponseWriter, quotes map[string]map[string]any) {
	t.Helper()
	b, err := json.Marshal(quotes)
	require.NoError(t, err)
	_, _ = w.Write(b)
}

func TestPriceBaselineThenAlert(t *testing.T) {
	t.Parallel()
	quotes := map[string]map[string]any{"bitcoin": {"usd": 100.0}}
	srv := priceServer(t, &quotes)

	b, st := newTestBus(t)
	w := NewPrice([]Asset{{ID: "bitcoin", Symbol: "BTC"}}, 2, b, time.Hour, logx.Nop())
	w.apiURL = srv.URL

	// First poll only records the baseline.
	require.NoError(t, w.pollPrices(context.Background()))
	assert.Empty(t, recentEvents(t, st))

	// +3% crosses the 2% threshold.
	quotes = map[string]map[string]any{"bitcoin": {"usd": 103.0}}
	require.NoError(t, w.pollPrices(context.Background()))

	events := recentEvents(t, st)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "price_change", e.Type)
	assert.Equal(t, "watcher/price/bitcoin", e.Source)
	assert.Equal(t, event.SeverityMedium, e.Severity)
	assert.Equal(t, "BTC", e.Data["symbol"])
	assert.Equal(t, 103.0, e.Data["price"])
	assert.Equal(t, 100.0, e.Data["previousPrice"])
	assert.Equal(t, 3.0, e.Data["changePercent"])
	assert.Equal(t, "usd", e.Data["currency"])
}

func TestPriceBelowThresholdStaysQuiet(t *testing.T) {
	t.Parallel()
	quotes := map[string]map[string]any{"ethereum": {"usd": 100.0}}
	srv := priceServer(t, &quotes)

	b, st := newTestBus(t)
	w := NewPrice([]Asset{{ID: "ethereum", Symbol: "ETH"}}, 5, b, time.Hour, logx.Nop())
	w.apiURL = srv.URL

	require.NoError(t, w.pollPrices(context.Background()))
	quotes = map[string]map[string]any{"ethereum": {"usd": 104.0}}
	require.NoError(t, w.pollPrices(context.Background()))
	assert.Empty(t, recentEvents(t, st))

	// The baseline still advanced, so the next move is measured from 104.
	quotes = map[string]map[string]any{"ethereum": {"usd": 110.0}}
	require.NoError(t, w.pollPrices(context.Background()))
	events := recentEvents(t, st)
	require.Len(t, events, 1)
	assert.InDelta(t, 5.7692, events[0].Data["changePercent"].(float64), 0.001)
}

func TestPriceMissingQuoteSkipped(t *testing.T) {
	t.Parallel()
	quotes := map[string]map[string]any{}
	srv := priceServer(t, &quotes)

	b, st := newTestBus(t)
	w := NewPrice([]Asset{{ID: "bitcoin", Symbol: "BTC"}}, 2, b, time.Hour, logx.Nop())
	w.apiURL = srv.URL

	require.NoError(t, w.pollPrices(context.Background()))
	assert.Empty(t, recentEvents(t, st))
}

func TestSeverityFromChange(t *testing.T) {
	t.Parallel()
	assert.Equal(t, event.SeverityCritical, severityFromChange(10.1))
	assert.Equal(t, event.SeverityHigh, severityFromChange(10))
	assert.Equal(t, event.SeverityHigh, severityFromChange(5.1))
	assert.Equal(t, event.SeverityMedium, severityFromChange(5))
	assert.Equal(t, event.SeverityMedium, severityFromChange(2))
	assert.Equal(t, event.SeverityLow, severityFromChange(1.9))
}

func TestExtractText(t *testing.T) {
	t.Parallel()
	html := `<html><head><style>body { color: red }</style>
<script>alert("hi")</script></head>
<body><h1>Hello</h1>&nbsp;<p>World &amp; peace</p></body></html>`
	assert.Equal(t, "Hello World & peace", extractText(html))
}

func TestWebChangeEmitsOnContentChange(t *testing.T) {
	t.Parallel()
	page := "<html><body>version one</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	b, st := newTestBus(t)
	w := NewWebChange("blog", srv.URL, b, time.Hour, logx.Nop())

	// Baseline, then no change.
	require.NoError(t, w.pollPage(context.Background()))
	require.NoError(t, w.pollPage(context.Background()))
	assert.Empty(t, recentEvents(t, st))

	// Markup churn with identical text is not a change.
	page = "<html><body><script>tracker()</script>version   one</body></html>"
	require.NoError(t, w.pollPage(context.Background()))
	assert.Empty(t, recentEvents(t, st))

	page = "<html><body>version two</body></html>"
	require.NoError(t, w.pollPage(context.Background()))
	events := recentEvents(t, st)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "web_change", e.Type)
	assert.Equal(t, "watcher/web/blog", e.Source)
	assert.Equal(t, "blog", e.Data["name"])
	assert.NotEqual(t, e.Data["previousHash"], e.Data["currentHash"])

	// Unchanged again after the alert.
	require.NoError(t, w.pollPage(context.Background()))
	assert.Len(t, recentEvents(t, st), 1)
}

func TestRunnerLifecycle(t *testing.T) {
	t.Parallel()
	polls := make(chan struct{}, 8)
	r := newRunner("test", time.Hour, logx.Nop())
	r.poll = func(ctx context.Context) error {
		polls <- struct{}{}
		return errors.New("boom")
	}

	st := r.Status()
	assert.False(t, st.Running)
	assert.Nil(t, st.LastCheck)

	r.Start()
	select {
	case <-polls:
	case <-time.After(5 * time.Second):
		t.Fatal("no immediate poll")
	}

	require.Eventually(t, func() bool {
		st := r.Status()
		return st.Running && st.LastCheck != nil && st.ErrorCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	r.Stop()
	assert.False(t, r.Status().Running)
	// Idempotent.
	r.Stop()
	r.Start()
	r.Stop()
}
