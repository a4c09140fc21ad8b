package watcher

import (
	"context"
	"sync"
	"time"

	"signalbridge/pkg/logx"
)

// Status is the public view of one watcher's state.
type Status struct {
	Name       string     `json:"name"`
	Running    bool       `json:"running"`
	LastCheck  *time.Time `json:"lastCheck"`
	ErrorCount int        `json:"errorCount"`
}

// Watcher is a polling adapter that synthesizes events from an external
// source. Start polls immediately and then on a fixed interval; Stop makes
// the next tick a no-op (an in-flight poll is not force-aborted). Failures
// are caught, logged, counted, and never halt the schedule.
type Watcher interface {
	Name() string
	Start()
	Stop()
	Status() Status
}

// runner owns the shared polling loop: interval ticker, running flag,
// last-check time, and the error counter. Variants supply poll.
type runner struct {
	name     string
	interval time.Duration
	log      logx.Logger
	poll     func(ctx context.Context) error

	mu        sync.Mutex
	running   bool
	lastCheck time.Time
	errors    int
	stop      chan struct{}
}

func newRunner(name string, interval time.Duration, log logx.Logger) *runner {
	return &runner{name: name, interval: interval, log: log.With(logx.String("watcher", name))}
}

func (r *runner) Name() string { return r.name }

func (r *runner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	stop := r.stop
	r.mu.Unlock()

	r.log.Info("watcher started", logx.Duration("interval", r.interval))
	go r.loop(stop)
}

func (r *runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	r.mu.Unlock()
	r.log.Info("watcher stopped")
}

func (r *runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{Name: r.name, Running: r.running, ErrorCount: r.errors}
	if !r.lastCheck.IsZero() {
		t := r.lastCheck
		st.LastCheck = &t
	}
	return st
}

func (r *runner) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *runner) loop(stop <-chan struct{}) {
	r.tick()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *runner) tick() {
	// The running flag gates every iteration; Stop between ticks makes
	// this a no-op.
	if !r.isRunning() {
		return
	}
	err := r.poll(context.Background())

	r.mu.Lock()
	r.lastCheck = time.Now()
	if err != nil {
		r.errors++
	}
	count := r.errors
	r.mu.Unlock()

	if err != nil {
		// Cycle skipped; the next scheduled tick retries.
		r.log.Warn("poll failed", logx.Int("error_count", count), logx.Err(err))
	}
}
