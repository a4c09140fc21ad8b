package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  any
		typ  string
		src  string
	}{
		{name: "nil input", raw: nil, typ: "unknown", src: "unknown"},
		{name: "not an object", raw: "garbage", typ: "unknown", src: "unknown"},
		{name: "missing fields", raw: map[string]any{}, typ: "unknown", src: "unknown"},
		{name: "wrong types", raw: map[string]any{"type": 42, "source": true}, typ: "unknown", src: "unknown"},
		{name: "valid", raw: map[string]any{"type": "battery_low", "source": "mobile/battery"}, typ: "battery_low", src: "mobile/battery"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Normalize(tt.raw, now)
			assert.Equal(t, tt.typ, e.Type)
			assert.Equal(t, tt.src, e.Source)
			assert.NotEmpty(t, e.ID)
			assert.Equal(t, now, e.Timestamp)
			assert.NotNil(t, e.Data)
		})
	}
}

func TestNormalizeDiscardsProducerTimestamp(t *testing.T) {
	t.Parallel()
	now := time.Now()
	e := Normalize(map[string]any{
		"type":      "wifi_change",
		"source":    "mobile/wifi",
		"timestamp": "1999-01-01T00:00:00Z",
		"id":        "attacker-chosen",
	}, now)
	assert.Equal(t, now.UTC(), e.Timestamp)
	assert.NotEqual(t, "attacker-chosen", e.ID)
}

func TestNormalizeNonObjectData(t *testing.T) {
	t.Parallel()
	e := Normalize(map[string]any{"type": "t", "source": "s", "data": "not-an-object", "metadata": 5}, time.Now())
	assert.Empty(t, e.Data)
	assert.Nil(t, e.Metadata)
}

func TestFingerprintStable(t *testing.T) {
	t.Parallel()
	a := Event{Source: "mobile/battery", Type: "battery_low", Data: map[string]any{"level": 15, "charging": false}}
	b := Event{Source: "mobile/battery", Type: "battery_low", Data: map[string]any{"charging": false, "level": 15}}
	// Key order must not matter: serialization is canonical.
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	c := Event{Source: "mobile/battery", Type: "battery_low", Data: map[string]any{"level": 14}}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))

	d := Event{Source: "other", Type: "battery_low", Data: map[string]any{"level": 15, "charging": false}}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(d))
}

func TestFingerprintIgnoresIDAndTimestamp(t *testing.T) {
	t.Parallel()
	a := Event{ID: "one", Source: "s", Type: "t", Timestamp: time.Now(), Data: map[string]any{"k": "v"}}
	b := Event{ID: "two", Source: "s", Type: "t", Timestamp: time.Now().Add(time.Hour), Data: map[string]any{"k": "v"}}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestCanonicalJSON(t *testing.T) {
	t.Parallel()
	e := Event{Source: "watcher/news/hn", Type: "news_match", Data: map[string]any{"title": "Go 1.24 Released"}}
	s := CanonicalJSON(e)
	require.NotEmpty(t, s)
	assert.Contains(t, s, `"source":"watcher/news/hn"`)
	assert.Contains(t, s, "Go 1.24 Released")
}
