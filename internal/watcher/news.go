package watcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"signalbridge/internal/bus"
	"signalbridge/internal/event"
	"signalbridge/pkg/logx"
)

// News polls an RSS/Atom-ish feed and emits a news_match event for every
// new item whose title contains at least one configured keyword. Items are
// deduplicated by link in an unbounded per-watcher seen-set.
type News struct {
	*runner

	feedName string
	feedURL  string
	keywords []string
	bus      *bus.Bus
	client   *http.Client

	seen map[string]struct{}
}

func NewNews(feedName, feedURL string, keywords []string, b *bus.Bus, interval time.Duration, log logx.Logger) *News {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	w := &News{
		feedName: feedName,
		feedURL:  feedURL,
		keywords: keywords,
		bus:      b,
		client:   &http.Client{},
		seen:     map[string]struct{}{},
	}
	w.runner = newRunner("news:"+feedName, interval, log)
	w.runner.poll = w.pollFeed
	return w
}

func (w *News) pollFeed(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.feedURL, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed fetch status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	for _, item := range parseFeedItems(string(body)) {
		if _, ok := w.seen[item.Link]; ok {
			continue
		}
		w.seen[item.Link] = struct{}{}

		matched := w.matchKeywords(item.Title)
		if len(matched) == 0 {
			continue
		}

		_, err := w.bus.Emit(ctx, event.Event{
			ID:        uuid.NewString(),
			Type:      "news_match",
			Source:    "watcher/news/" + w.feedName,
			Timestamp: time.Now().UTC(),
			Severity:  event.SeverityMedium,
			Data: map[string]any{
				"title":    item.Title,
				"link":     item.Link,
				"keywords": matched,
				"feedName": w.feedName,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *News) matchKeywords(title string) []string {
	lower := strings.ToLower(title)
	var matched []string
	for _, kw := range w.keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}
