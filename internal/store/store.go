package store

import (
	"context"
	"time"

	"signalbridge/internal/event"
)

// Store is the persistence API for the event log.
//
// Save and IsDuplicate work on the fingerprint column; Recent reads the
// log newest-first. Implementations must be safe for concurrent use and
// keep writes single-writer.
type Store interface {
	Save(ctx context.Context, e event.Event, fingerprint string) error
	IsDuplicate(ctx context.Context, fingerprint string, window time.Duration) (bool, error)
	Recent(ctx context.Context, limit int) ([]event.Event, error)
	Close() error
}

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}
