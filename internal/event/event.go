package event

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Severity buckets. Free-form strings are allowed on the wire; these are
// the values the pipeline itself assigns.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Event is a single normalized occurrence ingested into the pipeline.
// Immutable once created: built by the normalizer or a watcher, persisted
// once, never mutated.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  string         `json:"severity,omitempty"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Fingerprint derives the dedup key from (source, type, data).
// encoding/json sorts map keys, so the serialization is canonical.
func Fingerprint(e Event) string {
	data, err := json.Marshal(e.Data)
	if err != nil {
		data = []byte("{}")
	}
	sum := md5.Sum([]byte(e.Source + ":" + e.Type + ":" + string(data)))
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON serializes the matchable surface of an event
// ({source,type,data,metadata}) for substring filters.
func CanonicalJSON(e Event) string {
	b, err := json.Marshal(struct {
		Source   string         `json:"source"`
		Type     string         `json:"type"`
		Data     map[string]any `json:"data"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}{e.Source, e.Type, e.Data, e.Metadata})
	if err != nil {
		return ""
	}
	return string(b)
}
