package bus

import (
	"context"
	"sync"
	"time"

	"signalbridge/internal/event"
	"signalbridge/internal/store"
	"signalbridge/pkg/logx"
)

// DedupWindow is the recency window for fingerprint suppression.
const DedupWindow = 60 * time.Second

// Handler receives every accepted event, in registration order, after the
// event is durably persisted. Handlers are responsible for isolating their
// own failures (log and continue); the bus does not retry.
type Handler func(ctx context.Context, e event.Event)

// Result reports the ingestion outcome of one Emit call.
type Result struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate"`
}

// Bus is the single ingestion entry point: it dedups, persists, and fans
// out to subscribers. It is in-process pub/sub over a durable log, not a
// durable delivery queue.
type Bus struct {
	store  store.Store
	log    logx.Logger
	window time.Duration

	mu       sync.Mutex
	handlers []Handler
}

func New(st store.Store, log logx.Logger) *Bus {
	return &Bus{store: st, log: log, window: DedupWindow}
}

// Subscribe registers a handler. Registration order is notification order.
// Not safe to call concurrently with Emit; wire subscribers at startup.
func (b *Bus) Subscribe(h Handler) {
	b.handlers = append(b.handlers, h)
}

// Emit ingests one event: fingerprint, dedup within the window, persist,
// then notify subscribers sequentially. A duplicate is not persisted and
// not notified. Storage failures propagate to the caller.
func (b *Bus) Emit(ctx context.Context, e event.Event) (Result, error) {
	fp := event.Fingerprint(e)

	// Serialize the check-then-insert so two racing emits of the same
	// fingerprint cannot both pass the duplicate check.
	b.mu.Lock()
	dup, err := b.store.IsDuplicate(ctx, fp, b.window)
	if err != nil {
		b.mu.Unlock()
		return Result{}, err
	}
	if dup {
		b.mu.Unlock()
		b.log.Debug("duplicate event suppressed",
			logx.String("type", e.Type), logx.String("source", e.Source))
		return Result{Accepted: false, Duplicate: true}, nil
	}
	if err := b.store.Save(ctx, e, fp); err != nil {
		b.mu.Unlock()
		return Result{}, err
	}
	b.mu.Unlock()

	for _, h := range b.handlers {
		h(ctx, e)
	}
	return Result{Accepted: true, Duplicate: false}, nil
}
