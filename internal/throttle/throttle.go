package throttle

import (
	"sync"
	"time"
)

// Throttle provides two independent, advisory suppression mechanisms:
// a per-event-type cooldown and a local-time quiet-hours window. Callers
// decide policy; Record is the caller's responsibility after deciding to
// proceed. State is in-memory for the process lifetime.
type Throttle struct {
	mu        sync.Mutex
	cooldowns map[string]time.Duration
	lastFired map[string]time.Time

	now func() time.Time
}

func New(cooldowns map[string]time.Duration) *Throttle {
	if cooldowns == nil {
		cooldowns = map[string]time.Duration{}
	}
	return &Throttle{
		cooldowns: cooldowns,
		lastFired: map[string]time.Time{},
		now:       time.Now,
	}
}

// SetCooldowns replaces the cooldown table (config hot-reload).
// Last-fired state is kept.
func (t *Throttle) SetCooldowns(cooldowns map[string]time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cooldowns == nil {
		cooldowns = map[string]time.Duration{}
	}
	t.cooldowns = cooldowns
}

// ShouldAllow reports whether the cooldown for eventType has elapsed.
// Types without a configured cooldown are always allowed.
func (t *Throttle) ShouldAllow(eventType string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cd := t.cooldowns[eventType]
	if cd <= 0 {
		return true
	}
	last, ok := t.lastFired[eventType]
	if !ok {
		return true
	}
	return t.now().Sub(last) >= cd
}

// Record marks eventType as fired now.
func (t *Throttle) Record(eventType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFired[eventType] = t.now()
}

// IsQuietHours reports whether the current local hour falls inside
// [start, end). start == end disables the window; start > end wraps past
// midnight.
func (t *Throttle) IsQuietHours(start, end int) bool {
	t.mu.Lock()
	hour := t.now().Hour()
	t.mu.Unlock()

	switch {
	case start == end:
		return false
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}
