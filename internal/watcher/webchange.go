package watcher

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"signalbridge/internal/bus"
	"signalbridge/internal/event"
	"signalbridge/pkg/logx"
)

// WebChange polls a URL, reduces the page to plain text, and emits a
// web_change event whenever the text hash differs from the previous poll.
// The first poll only sets the baseline.
type WebChange struct {
	*runner

	siteName string
	url      string
	bus      *bus.Bus
	client   *http.Client

	prevHash string
}

func NewWebChange(siteName, url string, b *bus.Bus, interval time.Duration, log logx.Logger) *WebChange {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	w := &WebChange{
		siteName: siteName,
		url:      url,
		bus:      b,
		client:   &http.Client{},
	}
	w.runner = newRunner("web-change:"+siteName, interval, log)
	w.runner.poll = w.pollPage
	return w
}

func (w *WebChange) pollPage(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("page fetch status %d", resp.StatusCode)
	}
	html, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	sum := md5.Sum([]byte(extractText(string(html))))
	hash := hex.EncodeToString(sum[:])

	if w.prevHash == "" {
		w.prevHash = hash
		return nil
	}
	if w.prevHash == hash {
		return nil
	}
	prev := w.prevHash
	w.prevHash = hash

	_, err = w.bus.Emit(ctx, event.Event{
		ID:        uuid.NewString(),
		Type:      "web_change",
		Source:    "watcher/web/" + w.siteName,
		Timestamp: time.Now().UTC(),
		Severity:  event.SeverityMedium,
		Data: map[string]any{
			"name":         w.siteName,
			"url":          w.url,
			"previousHash": prev,
			"currentHash":  hash,
		},
	})
	return err
}

var (
	scriptRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	spaceRe  = regexp.MustCompile(`\s+`)
	nbspRe   = regexp.MustCompile(`(?i)&nbsp;`)
)

// extractText strips scripts, styles, and markup so cosmetic HTML churn
// does not register as a content change.
func extractText(html string) string {
	s := scriptRe.ReplaceAllString(html, " ")
	s = styleRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = nbspRe.ReplaceAllString(s, " ")
	s = entityReplacer.Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
