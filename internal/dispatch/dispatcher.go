package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"signalbridge/internal/event"
	"signalbridge/internal/memory"
	"signalbridge/internal/push"
	"signalbridge/internal/rules"
	"signalbridge/pkg/logx"
)

// Config configures delivery to the agent gateway.
type Config struct {
	GatewayURL string
	Token      string
	Name       string        // sender name in the webhook payload
	BatchSize  int           // flush when the queue reaches this size
	FlushAfter time.Duration // flush this long after the first queued job
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "signalbridge"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.FlushAfter <= 0 {
		c.FlushAfter = 30 * time.Second
	}
	return c
}

// Job is one matched (rule, event) pair. Jobs live only in the in-memory
// pending queue until flushed; a restart drops them.
type Job struct {
	Rule     rules.Rule
	Event    event.Event
	QueuedAt time.Time
}

// Dispatcher queues matched pairs, batches them, and flushes one bundled
// message to the agent webhook. Delivery is fire-and-forget: failures are
// logged, never retried, and jobs are not re-queued.
type Dispatcher struct {
	cfg     Config
	mem     *memory.Service
	pusher  *push.Sender
	log     logx.Logger
	client  *http.Client
	limiter *rate.Limiter

	mu      sync.Mutex
	pending []Job
	timer   *time.Timer
	closed  bool

	probeOnce sync.Once

	wg sync.WaitGroup
}

func New(cfg Config, mem *memory.Service, pusher *push.Sender, log logx.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg.withDefaults(),
		mem:     mem,
		pusher:  pusher,
		log:     log,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

// Enqueue accepts one matched pair. The queue preserves FIFO order through
// flush. The quiescence timer is a fixed deadline armed by the first job
// of a batch; later enqueues do not re-arm it, so a steady trickle still
// flushes every FlushAfter.
func (d *Dispatcher) Enqueue(rule rules.Rule, ev event.Event) {
	d.probeOnce.Do(func() { go d.probe() })

	// Push delivery is decided per rule, independent of webhook flush
	// timing.
	if strings.EqualFold(rule.Reaction.Channel, "push") && d.pusher != nil && d.pusher.Configured() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.sendPush(rule, ev)
		}()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("dispatcher closed; dropping job", logx.String("rule", rule.Name))
		return
	}
	d.pending = append(d.pending, Job{Rule: rule, Event: ev, QueuedAt: time.Now()})
	n := len(d.pending)
	if n >= d.cfg.BatchSize {
		d.mu.Unlock()
		d.flushAsync("size")
		return
	}
	if n == 1 {
		d.timer = time.AfterFunc(d.cfg.FlushAfter, func() { d.flushAsync("deadline") })
	}
	d.mu.Unlock()
}

// Pending reports the current queue depth.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush drains the queue synchronously. Used at shutdown so queued jobs
// are not silently lost on a clean stop.
func (d *Dispatcher) Flush(ctx context.Context) {
	d.flush(ctx, "manual")
}

// Stop flushes what is queued and waits for in-flight sends.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.flush(ctx, "shutdown")

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) flushAsync(reason string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		d.flush(ctx, reason)
	}()
}

func (d *Dispatcher) flush(ctx context.Context, reason string) {
	d.mu.Lock()
	jobs := d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if len(jobs) == 0 {
		return
	}

	summary := ""
	if d.mem != nil {
		s, err := d.mem.TodaySummary(ctx, time.Now())
		if err != nil {
			d.log.Warn("context summary unavailable", logx.Err(err))
		} else {
			summary = s
		}
	}

	msg := buildMessage(jobs, summary)
	events := make([]event.Event, 0, len(jobs))
	for _, j := range jobs {
		events = append(events, j.Event)
	}

	err := d.post(ctx, webhookPayload{
		Message: msg,
		Name:    d.cfg.Name,
		Deliver: true,
		Events:  events,
	})
	if err != nil {
		// Jobs are dropped, not re-queued.
		d.log.Error("webhook flush failed",
			logx.Int("jobs", len(jobs)), logx.String("reason", reason), logx.Err(err))
		return
	}
	d.log.Info("batch flushed",
		logx.Int("jobs", len(jobs)), logx.String("reason", reason))
}

// SendDigest posts the daily context summary to the agent, outside the
// batching queue.
func (d *Dispatcher) SendDigest(ctx context.Context) error {
	if d.mem == nil {
		return errors.New("no context service")
	}
	summary, err := d.mem.TodaySummary(ctx, time.Now())
	if err != nil {
		return err
	}
	return d.post(ctx, webhookPayload{
		Message: "## Daily digest\n\n" + summary,
		Name:    d.cfg.Name,
		Deliver: true,
	})
}

type webhookPayload struct {
	Message string        `json:"message"`
	Name    string        `json:"name"`
	Deliver bool          `json:"deliver"`
	Events  []event.Event `json:"events,omitempty"`
}

func (d *Dispatcher) post(ctx context.Context, payload webhookPayload) error {
	if strings.TrimSpace(d.cfg.GatewayURL) == "" {
		return errors.New("gateway url not configured")
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := strings.TrimRight(d.cfg.GatewayURL, "/") + "/hooks/agent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.cfg.Token)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// probe checks gateway reachability once. Unreachability is degraded, not
// blocking: it is logged and enqueues continue.
func (d *Dispatcher) probe() {
	if strings.TrimSpace(d.cfg.GatewayURL) == "" {
		d.log.Warn("agent gateway not configured; batches will be dropped")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.cfg.GatewayURL, http.NoBody)
	if err != nil {
		return
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn("agent gateway unreachable", logx.String("url", d.cfg.GatewayURL), logx.Err(err))
		return
	}
	_ = resp.Body.Close()
	d.log.Debug("agent gateway reachable", logx.String("url", d.cfg.GatewayURL))
}

func (d *Dispatcher) sendPush(rule rules.Rule, ev event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	n := push.Notification{
		Title: rule.Name,
		Body:  pushBody(ev),
		Data:  map[string]any{"eventId": ev.ID, "type": ev.Type},
	}
	if err := d.pusher.Send(ctx, n); err != nil {
		if errors.Is(err, push.ErrInvalidToken) {
			d.log.Error("push token invalid; not retrying", logx.String("rule", rule.Name))
			return
		}
		d.log.Warn("push send failed", logx.String("rule", rule.Name), logx.Err(err))
		return
	}
	if d.mem != nil {
		if err := d.mem.MarkPushSent(ctx, ev.ID); err != nil {
			d.log.Debug("push bookkeeping failed", logx.Err(err))
		}
	}
}
