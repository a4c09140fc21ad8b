package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/internal/event"
)

const validRule = `name: battery-alert
trigger:
  type: battery_low
reaction:
  agent: main
  approval: auto
  channel: push
  promptContext: "Phone battery is low, remind me to charge it."
`

func writeRule(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestParseFileValid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeRule(t, dir, "battery.yaml", validRule)

	r, err := ParseFile(filepath.Join(dir, "battery.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "battery-alert", r.Name)
	assert.Equal(t, "battery_low", r.Trigger.Type)
	assert.Equal(t, "push", r.Reaction.Channel)
	assert.NotEmpty(t, r.Reaction.PromptContext)
}

func TestParseFileRejectsUnknownField(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeRule(t, dir, "bad.yaml", validRule+"priorty: high\n")

	_, err := ParseFile(filepath.Join(dir, "bad.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestParseFileRejectsMissingFields(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeRule(t, dir, "partial.yaml", `name: partial
trigger:
  type: battery_low
reaction:
  agent: main
  approval: auto
  channel: push
`)
	_, err := ParseFile(filepath.Join(dir, "partial.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "promptContext")
}

func TestLoadDirOrderAndFiltering(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeRule(t, dir, "10-first.yaml", `name: first
trigger: {type: a}
reaction: {agent: m, approval: auto, channel: agent, promptContext: p}
`)
	writeRule(t, dir, "20-second.yml", `name: second
trigger: {type: a}
reaction: {agent: m, approval: auto, channel: agent, promptContext: p}
`)
	writeRule(t, dir, "notes.txt", "not a rule")

	loaded, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "first", loaded[0].Name)
	assert.Equal(t, "second", loaded[1].Name)
}

func TestLoadDirRejectsDuplicateNames(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeRule(t, dir, "a.yaml", validRule)
	writeRule(t, dir, "b.yaml", validRule)

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule name")
}

func TestLoadDirMissingDir(t *testing.T) {
	t.Parallel()
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func mkRule(name, typ, filter string) Rule {
	return Rule{
		Name:    name,
		Trigger: Trigger{Type: typ, Filter: filter},
		Reaction: Reaction{
			Agent: "main", Approval: "auto", Channel: "agent", PromptContext: "p",
		},
	}
}

func TestEvaluateTypeMatch(t *testing.T) {
	t.Parallel()
	eng := NewEngine([]Rule{
		mkRule("battery", "battery_low", ""),
		mkRule("wifi", "wifi_change", ""),
	})

	matches := eng.Evaluate(event.Event{Type: "battery_low", Source: "mobile/battery"})
	require.Len(t, matches, 1)
	assert.Equal(t, "battery", matches[0].Name)

	assert.Empty(t, eng.Evaluate(event.Event{Type: "unrelated"}))
}

func TestEvaluateFilterCaseInsensitive(t *testing.T) {
	t.Parallel()
	eng := NewEngine([]Rule{
		mkRule("go-news", "news_match", "GOLANG"),
		mkRule("rust-news", "news_match", "rust"),
	})

	ev := event.Event{
		Type:   "news_match",
		Source: "watcher/news/hn",
		Data:   map[string]any{"title": "Golang generics in practice"},
	}
	matches := eng.Evaluate(ev)
	require.Len(t, matches, 1)
	assert.Equal(t, "go-news", matches[0].Name)
}

func TestEvaluateFilterSeesSourceAndMetadata(t *testing.T) {
	t.Parallel()
	eng := NewEngine([]Rule{mkRule("home", "wifi_change", "home-network")})

	ev := event.Event{
		Type:     "wifi_change",
		Source:   "mobile/wifi",
		Data:     map[string]any{"ssid": "Home-Network"},
		Metadata: map[string]any{"device": "phone"},
	}
	require.Len(t, eng.Evaluate(ev), 1)
}

func TestEvaluateLoadOrderDeterministic(t *testing.T) {
	t.Parallel()
	eng := NewEngine([]Rule{
		mkRule("b-rule", "ping", ""),
		mkRule("a-rule", "ping", ""),
	})
	for i := 0; i < 5; i++ {
		matches := eng.Evaluate(event.Event{Type: "ping"})
		require.Len(t, matches, 2)
		assert.Equal(t, "b-rule", matches[0].Name)
		assert.Equal(t, "a-rule", matches[1].Name)
	}
}
