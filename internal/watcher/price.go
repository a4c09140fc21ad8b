package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"signalbridge/internal/bus"
	"signalbridge/internal/event"
	"signalbridge/pkg/logx"
)

// DefaultPriceAPI is the CoinGecko batch quote endpoint.
const DefaultPriceAPI = "https://api.coingecko.com/api/v3/simple/price"

// Asset is one tracked instrument.
type Asset struct {
	ID     string
	Symbol string
}

// Price polls batch quotes for the configured assets and emits a
// price_change event when the absolute percent change since the previous
// poll exceeds the alert threshold. The first observation of an asset only
// sets the baseline. Severity buckets by fixed cutoffs (>10% critical,
// >5% high, >=2% medium, else low) independent of the alert threshold.
type Price struct {
	*runner

	assets    []Asset
	threshold float64
	apiURL    string
	bus       *bus.Bus
	client    *http.Client

	lastPrices map[string]float64
}

func NewPrice(assets []Asset, thresholdPct float64, b *bus.Bus, interval time.Duration, log logx.Logger) *Price {
	if interval <= 0 {
		interval = time.Minute
	}
	if thresholdPct <= 0 || math.IsNaN(thresholdPct) || math.IsInf(thresholdPct, 0) {
		thresholdPct = 2
	}
	w := &Price{
		assets:     assets,
		threshold:  math.Abs(thresholdPct),
		apiURL:     DefaultPriceAPI,
		bus:        b,
		client:     &http.Client{},
		lastPrices: map[string]float64{},
	}
	w.runner = newRunner("price", interval, log)
	w.runner.poll = w.pollPrices
	return w
}

func (w *Price) pollPrices(ctx context.Context) error {
	if len(w.assets) == 0 {
		return nil
	}

	ids := make([]string, 0, len(w.assets))
	for _, a := range w.assets {
		ids = append(ids, a.ID)
	}
	u := w.apiURL + "?ids=" + url.QueryEscape(strings.Join(ids, ",")) +
		"&vs_currencies=usd&include_24hr_change=true"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quote fetch status %d", resp.StatusCode)
	}

	var payload map[string]map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("quote decode: %w", err)
	}

	for _, asset := range w.assets {
		price, ok := quoteUSD(payload[asset.ID])
		if !ok {
			continue
		}
		prev, seen := w.lastPrices[asset.ID]
		w.lastPrices[asset.ID] = price
		if !seen || prev == 0 {
			continue
		}

		pct := (price - prev) / prev * 100
		if math.IsNaN(pct) || math.IsInf(pct, 0) {
			continue
		}
		absPct := math.Abs(pct)
		if absPct <= w.threshold {
			continue
		}

		_, err := w.bus.Emit(ctx, event.Event{
			ID:        uuid.NewString(),
			Type:      "price_change",
			Source:    "watcher/price/" + asset.ID,
			Timestamp: time.Now().UTC(),
			Severity:  severityFromChange(absPct),
			Data: map[string]any{
				"assetId":       asset.ID,
				"symbol":        asset.Symbol,
				"price":         price,
				"previousPrice": prev,
				"changePercent": math.Round(pct*1e4) / 1e4,
				"currency":      "usd",
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func quoteUSD(entry map[string]any) (float64, bool) {
	if entry == nil {
		return 0, false
	}
	v, ok := entry["usd"].(float64)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func severityFromChange(absPct float64) string {
	switch {
	case absPct > 10:
		return event.SeverityCritical
	case absPct > 5:
		return event.SeverityHigh
	case absPct >= 2:
		return event.SeverityMedium
	default:
		return event.SeverityLow
	}
}
