package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"signalbridge/internal/bus"
	"signalbridge/internal/config"
	"signalbridge/internal/digest"
	"signalbridge/internal/dispatch"
	"signalbridge/internal/event"
	"signalbridge/internal/httpapi"
	"signalbridge/internal/memory"
	"signalbridge/internal/push"
	"signalbridge/internal/rules"
	"signalbridge/internal/store"
	"signalbridge/internal/throttle"
	"signalbridge/internal/watcher"
	"signalbridge/pkg/logx"
)

// Version is reported by /api/health.
const Version = "0.2.0"

// App is the composition root: every component is constructed and wired
// here, no ambient singletons.
type App struct {
	cfgm *config.Manager

	logs  *logx.Service
	log   logx.Logger
	store *store.SQLite
	mem   *memory.Service
	bus   *bus.Bus
	eng   *rules.Engine
	thr   *throttle.Throttle
	dsp   *dispatch.Dispatcher
	srv   *httpapi.Server
	dig   *digest.Service

	watchers []watcher.Watcher

	// quiet hours are tunable at runtime via config reload
	mu         sync.Mutex
	quietStart int
	quietEnd   int

	httpErr <-chan error
	cancel  context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")

	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logs.Logger().With(logx.String("comp", "config")))

	a := &App{
		cfgm:       cfgm,
		logs:       logs,
		log:        log,
		quietStart: cfg.Server.QuietHoursStart,
		quietEnd:   cfg.Server.QuietHoursEnd,
	}

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout},
		logs.Logger().With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	mem, err := memory.New(st.DB(), logs.Logger().With(logx.String("comp", "memory")))
	if err != nil {
		st.Close()
		return nil, err
	}
	if err := mem.Seed(context.Background(), map[string]string{
		"user_name": cfg.User.Name,
		"timezone":  cfg.User.Timezone,
		"language":  cfg.User.Locale,
	}); err != nil {
		st.Close()
		return nil, fmt.Errorf("seed user context: %w", err)
	}
	a.mem = mem

	loaded, err := rules.LoadDir(cfg.Rules.Dir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load rules: %w", err)
	}
	a.eng = rules.NewEngine(loaded)
	log.Info("rules loaded", logx.Int("count", len(loaded)), logx.String("dir", cfg.Rules.Dir))

	a.thr = throttle.New(cfg.CooldownDurations())

	pusher := push.NewSender(cfg.Push.ExpoToken, "", logs.Logger().With(logx.String("comp", "push")))

	flushAfter, err := config.ParseDurationOrDefault("agent.flush_after", cfg.Agent.FlushAfter, 30*time.Second)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.dsp = dispatch.New(dispatch.Config{
		GatewayURL: cfg.Agent.GatewayURL,
		Token:      cfg.Agent.Token,
		Name:       cfg.Agent.Name,
		BatchSize:  cfg.Agent.BatchSize,
		FlushAfter: flushAfter,
	}, mem, pusher, logs.Logger().With(logx.String("comp", "dispatch")))

	a.bus = bus.New(st, logs.Logger().With(logx.String("comp", "bus")))
	a.bus.Subscribe(a.react)

	a.watchers, err = buildWatchers(cfg, a.bus, logs.Logger())
	if err != nil {
		st.Close()
		return nil, err
	}

	a.srv = httpapi.NewServer(httpapi.Config{Port: cfg.Server.Port, Version: Version},
		a.bus, st, mem, pusher, a.watchers,
		logs.Logger().With(logx.String("comp", "http")))

	if cfg.Digest.Enabled {
		dig, err := digest.New(cfg.Digest.Schedule, a.dsp.SendDigest,
			logs.Logger().With(logx.String("comp", "digest")))
		if err != nil {
			st.Close()
			return nil, err
		}
		a.dig = dig
	}

	return a, nil
}

// react is the single bus subscriber: rule matching, throttle policy, and
// dispatch. It isolates its own failures; the bus never retries.
func (a *App) react(ctx context.Context, ev event.Event) {
	matches := a.eng.Evaluate(ev)
	if len(matches) == 0 {
		return
	}

	a.mu.Lock()
	qs, qe := a.quietStart, a.quietEnd
	a.mu.Unlock()

	// Urgent signals may bypass quiet hours but never the cooldown.
	urgent := ev.Severity == event.SeverityCritical
	if a.thr.IsQuietHours(qs, qe) && !urgent {
		a.log.Debug("suppressed by quiet hours",
			logx.String("type", ev.Type), logx.Int("matches", len(matches)))
		return
	}
	if !a.thr.ShouldAllow(ev.Type) {
		a.log.Debug("suppressed by cooldown", logx.String("type", ev.Type))
		return
	}

	for _, rule := range matches {
		a.log.Info("rule matched",
			logx.String("rule", rule.Name),
			logx.String("type", ev.Type),
			logx.String("event_id", ev.ID))
		a.dsp.Enqueue(rule, ev)
	}
	a.thr.Record(ev.Type)
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go func() {
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()
	go a.applyReloads(runCtx)

	for _, w := range a.watchers {
		w.Start()
	}
	if a.dig != nil {
		a.dig.Start()
	}
	a.httpErr = a.srv.Start()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("signal bridge started", logx.String("version", Version))
	return nil
}

// Err yields a terminal HTTP server error (e.g. port already bound).
func (a *App) Err() <-chan error { return a.httpErr }

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancel != nil {
		a.cancel()
	}

	for _, w := range a.watchers {
		w.Stop()
	}
	if a.dig != nil {
		a.dig.Stop(ctx)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", logx.Err(err))
	}

	// Flush what is queued so a clean stop does not drop batches.
	a.dsp.Stop(ctx)

	err := a.store.Close()
	a.log.Info("signal bridge stopped")
	_ = a.logs.Close()
	return err
}

// applyReloads applies the tunable subset of a reloaded config: log
// level/sinks, cooldowns, quiet hours. Everything else needs a restart.
func (a *App) applyReloads(ctx context.Context) {
	ch := a.cfgm.Subscribe(1)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.thr.SetCooldowns(cfg.CooldownDurations())
			a.mu.Lock()
			a.quietStart = cfg.Server.QuietHoursStart
			a.quietEnd = cfg.Server.QuietHoursEnd
			a.mu.Unlock()
			a.log.Info("tunables applied from config reload")
		}
	}
}

func buildWatchers(cfg *config.Config, b *bus.Bus, log logx.Logger) ([]watcher.Watcher, error) {
	var out []watcher.Watcher

	for i, f := range cfg.Watchers.News {
		interval, err := config.ParseDurationOrDefault(
			fmt.Sprintf("watchers.news[%d].interval", i), f.Interval, 5*time.Minute)
		if err != nil {
			return nil, err
		}
		out = append(out, watcher.NewNews(f.Name, f.URL, f.Keywords, b, interval, log))
	}

	if len(cfg.Watchers.Price.Assets) > 0 {
		interval, err := config.ParseDurationOrDefault(
			"watchers.price.interval", cfg.Watchers.Price.Interval, time.Minute)
		if err != nil {
			return nil, err
		}
		assets := make([]watcher.Asset, 0, len(cfg.Watchers.Price.Assets))
		for _, a := range cfg.Watchers.Price.Assets {
			assets = append(assets, watcher.Asset{ID: a.ID, Symbol: a.Symbol})
		}
		out = append(out, watcher.NewPrice(assets, cfg.Watchers.Price.ThresholdPct, b, interval, log))
	}

	for i, wc := range cfg.Watchers.Web {
		interval, err := config.ParseDurationOrDefault(
			fmt.Sprintf("watchers.web[%d].interval", i), wc.Interval, 30*time.Minute)
		if err != nil {
			return nil, err
		}
		out = append(out, watcher.NewWebChange(wc.Name, wc.URL, b, interval, log))
	}

	return out, nil
}
