package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"signalbridge/internal/dispatch"
	"signalbridge/internal/event"
	"signalbridge/internal/rules"
	"signalbridge/internal/throttle"
	"signalbridge/pkg/logx"
)

func reactApp(t *testing.T, ruleSet []rules.Rule, cooldowns map[string]time.Duration, quietStart, quietEnd int) *App {
	t.Helper()
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(gateway.Close)

	a := &App{
		log:        logx.Nop(),
		eng:        rules.NewEngine(ruleSet),
		thr:        throttle.New(cooldowns),
		quietStart: quietStart,
		quietEnd:   quietEnd,
		dsp: dispatch.New(dispatch.Config{
			GatewayURL: gateway.URL,
			Token:      "t",
			BatchSize:  100,
			FlushAfter: time.Hour,
		}, nil, nil, logx.Nop()),
	}
	t.Cleanup(func() { a.dsp.Stop(context.Background()) })
	return a
}

func batteryRule(name string) rules.Rule {
	return rules.Rule{
		Name:    name,
		Trigger: rules.Trigger{Type: "battery_low"},
		Reaction: rules.Reaction{
			Agent: "main", Approval: "auto", Channel: "agent", PromptContext: "p",
		},
	}
}

func batteryEvent(id, severity string) event.Event {
	return event.Event{
		ID: id, Type: "battery_low", Source: "mobile/battery",
		Timestamp: time.Now().UTC(), Severity: severity,
		Data: map[string]any{"level": float64(15)},
	}
}

func TestReactCooldownAllowsExactlyOneDispatch(t *testing.T) {
	t.Parallel()
	a := reactApp(t, []rules.Rule{batteryRule("battery-alert")},
		map[string]time.Duration{"battery_low": 10 * time.Minute}, 0, 0)

	a.react(context.Background(), batteryEvent("e1", ""))
	a.react(context.Background(), batteryEvent("e2", ""))
	assert.Equal(t, 1, a.dsp.Pending(), "second firing inside the cooldown is suppressed")
}

func TestReactEnqueuesAllMatchesRecordsOnce(t *testing.T) {
	t.Parallel()
	a := reactApp(t, []rules.Rule{batteryRule("first"), batteryRule("second")},
		map[string]time.Duration{"battery_low": 10 * time.Minute}, 0, 0)

	// One event matching two rules: both enqueued, cooldown consumed once.
	a.react(context.Background(), batteryEvent("e1", ""))
	assert.Equal(t, 2, a.dsp.Pending())

	a.react(context.Background(), batteryEvent("e2", ""))
	assert.Equal(t, 2, a.dsp.Pending())
}

func TestReactQuietHoursSuppressNonUrgent(t *testing.T) {
	t.Parallel()
	h := time.Now().Hour()
	a := reactApp(t, []rules.Rule{batteryRule("battery-alert")}, nil, h, (h+1)%24)

	a.react(context.Background(), batteryEvent("e1", event.SeverityHigh))
	assert.Equal(t, 0, a.dsp.Pending())

	// Critical severity bypasses quiet hours.
	a.react(context.Background(), batteryEvent("e2", event.SeverityCritical))
	assert.Equal(t, 1, a.dsp.Pending())
}

func TestReactUrgentNeverBypassesCooldown(t *testing.T) {
	t.Parallel()
	h := time.Now().Hour()
	a := reactApp(t, []rules.Rule{batteryRule("battery-alert")},
		map[string]time.Duration{"battery_low": 10 * time.Minute}, h, (h+1)%24)

	a.react(context.Background(), batteryEvent("e1", event.SeverityCritical))
	a.react(context.Background(), batteryEvent("e2", event.SeverityCritical))
	assert.Equal(t, 1, a.dsp.Pending())
}

func TestReactNoMatchesIsNoop(t *testing.T) {
	t.Parallel()
	a := reactApp(t, []rules.Rule{batteryRule("battery-alert")},
		map[string]time.Duration{"battery_low": 10 * time.Minute}, 0, 0)

	ev := batteryEvent("e1", "")
	ev.Type = "unrelated"
	a.react(context.Background(), ev)
	assert.Equal(t, 0, a.dsp.Pending())

	// An unmatched event must not consume the cooldown.
	a.react(context.Background(), batteryEvent("e2", ""))
	assert.Equal(t, 1, a.dsp.Pending())
}
