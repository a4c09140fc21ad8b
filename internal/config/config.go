package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full server configuration, loaded from one YAML file.
// Field names use json tags because YAML is coerced to JSON for strict
// decoding (see yaml.go).
type Config struct {
	User     UserConfig     `json:"user"`
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Rules    RulesConfig    `json:"rules"`
	Agent    AgentConfig    `json:"agent"`
	Push     PushConfig     `json:"push"`
	Throttle ThrottleConfig `json:"throttle"`
	Watchers WatchersConfig `json:"watchers"`
	Digest   DigestConfig   `json:"digest"`
	Logging  LoggingConfig  `json:"logging"`
}

type UserConfig struct {
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
	Locale   string `json:"locale"`
}

type ServerConfig struct {
	Port            int `json:"port"`
	QuietHoursStart int `json:"quiet_hours_start"`
	QuietHoursEnd   int `json:"quiet_hours_end"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
}

type RulesConfig struct {
	Dir string `json:"dir"`
}

type AgentConfig struct {
	GatewayURL string `json:"gateway_url"`
	Token      string `json:"token"`
	Name       string `json:"name"`
	BatchSize  int    `json:"batch_size"`
	FlushAfter string `json:"flush_after"`
}

type PushConfig struct {
	ExpoToken string `json:"expo_token"`
}

type ThrottleConfig struct {
	// Cooldowns maps event type to a minimum inter-reaction duration
	// ("10m", "600s", ...). Applied live on config reload.
	Cooldowns map[string]string `json:"cooldowns"`
}

type WatchersConfig struct {
	News  []NewsFeedConfig  `json:"news"`
	Price PriceConfig       `json:"price"`
	Web   []WebChangeConfig `json:"web"`
}

type NewsFeedConfig struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Keywords []string `json:"keywords"`
	Interval string   `json:"interval"`
}

type PriceConfig struct {
	Assets       []PriceAssetConfig `json:"assets"`
	ThresholdPct float64            `json:"threshold_pct"`
	Interval     string             `json:"interval"`
}

type PriceAssetConfig struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

type WebChangeConfig struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Interval string `json:"interval"`
}

type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Validate checks everything that must be fatal at startup: the process
// should exit non-zero rather than boot partially initialized.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		c.Server.Port = 3002
	}
	if c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if err := validHour("server.quiet_hours_start", c.Server.QuietHoursStart); err != nil {
		return err
	}
	if err := validHour("server.quiet_hours_end", c.Server.QuietHoursEnd); err != nil {
		return err
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if strings.TrimSpace(c.Rules.Dir) == "" {
		return fmt.Errorf("rules.dir is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("agent.flush_after", c.Agent.FlushAfter); err != nil {
		return err
	}
	for typ, raw := range c.Throttle.Cooldowns {
		if _, err := ParseDurationField("throttle.cooldowns."+typ, raw); err != nil {
			return err
		}
	}
	for i, f := range c.Watchers.News {
		if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.URL) == "" {
			return fmt.Errorf("watchers.news[%d]: name and url are required", i)
		}
		if _, err := ParseDurationField(fmt.Sprintf("watchers.news[%d].interval", i), f.Interval); err != nil {
			return err
		}
	}
	for i, a := range c.Watchers.Price.Assets {
		if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Symbol) == "" {
			return fmt.Errorf("watchers.price.assets[%d]: id and symbol are required", i)
		}
	}
	if _, err := ParseDurationField("watchers.price.interval", c.Watchers.Price.Interval); err != nil {
		return err
	}
	for i, w := range c.Watchers.Web {
		if strings.TrimSpace(w.Name) == "" || strings.TrimSpace(w.URL) == "" {
			return fmt.Errorf("watchers.web[%d]: name and url are required", i)
		}
		if _, err := ParseDurationField(fmt.Sprintf("watchers.web[%d].interval", i), w.Interval); err != nil {
			return err
		}
	}
	if c.Digest.Enabled {
		// An explicitly enabled feature with a missing credential is a
		// startup error, not a silent degrade.
		if strings.TrimSpace(c.Agent.GatewayURL) == "" || strings.TrimSpace(c.Agent.Token) == "" {
			return fmt.Errorf("digest.enabled requires agent.gateway_url and agent.token")
		}
		if strings.TrimSpace(c.Digest.Schedule) == "" {
			return fmt.Errorf("digest.enabled requires digest.schedule")
		}
	}
	return nil
}

// CooldownDurations converts the cooldown table to durations. Call after
// Validate; unparseable entries are skipped.
func (c *Config) CooldownDurations() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Throttle.Cooldowns))
	for typ, raw := range c.Throttle.Cooldowns {
		d, err := ParseDurationField("", raw)
		if err != nil || d <= 0 {
			continue
		}
		out[typ] = d
	}
	return out
}

func validHour(path string, h int) error {
	if h < 0 || h > 23 {
		return fmt.Errorf("%s: hour %d out of range [0,23]", path, h)
	}
	return nil
}
