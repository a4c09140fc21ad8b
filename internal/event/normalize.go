package event

import (
	"time"

	"github.com/google/uuid"
)

// Normalize converts an untrusted raw object into a canonical Event.
// It never fails: missing or invalid type/source default to "unknown",
// non-object data/metadata default to empty, and any producer-supplied
// id or timestamp is discarded. The timestamp is the ingestion instant.
func Normalize(raw any, now time.Time) Event {
	obj, _ := raw.(map[string]any)

	e := Event{
		ID:        uuid.NewString(),
		Type:      stringField(obj, "type"),
		Source:    stringField(obj, "source"),
		Timestamp: now.UTC(),
		Data:      mapField(obj, "data"),
	}
	if s, ok := obj["severity"].(string); ok && s != "" {
		e.Severity = s
	}
	if m, ok := obj["metadata"].(map[string]any); ok && len(m) > 0 {
		e.Metadata = m
	}
	return e
}

func stringField(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

func mapField(obj map[string]any, key string) map[string]any {
	if m, ok := obj[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
