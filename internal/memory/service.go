package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"signalbridge/pkg/logx"
)

// Service aggregates the user profile and today's event statistics into a
// text bundle for the dispatcher. Read-mostly; shares the event store's
// database file.
type Service struct {
	db  *sql.DB
	log logx.Logger
}

// TypeCount is one row of today's per-type event statistics.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Stats summarizes today's ingestion.
type Stats struct {
	Total  int         `json:"total"`
	ByType []TypeCount `json:"byType"`
}

func New(db *sql.DB, log logx.Logger) (*Service, error) {
	s := &Service{db: db, log: log}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("memory schema: %w", err)
	}
	return s, nil
}

func (s *Service) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_context (
		  key        TEXT PRIMARY KEY,
		  value      TEXT NOT NULL,
		  updated_at TEXT NOT NULL,
		  source     TEXT DEFAULT 'system'
		);
	`)
	return err
}

// Seed inserts default profile entries unless the user already set them.
func (s *Service) Seed(ctx context.Context, defaults map[string]string) error {
	for k, v := range defaults {
		if strings.TrimSpace(v) == "" {
			continue
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_context(key, value, updated_at) VALUES(?,?,?)`,
			k, v, time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Set(ctx context.Context, key, value, source string) error {
	if source == "" {
		source = "user"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_context(key, value, updated_at, source) VALUES(?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET
		  value=excluded.value, updated_at=excluded.updated_at, source=excluded.source`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano), source)
	return err
}

func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM user_context WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// MarkPushSent records that a push went out for an event, so the agent can
// see its own follow-ups in the profile.
func (s *Service) MarkPushSent(ctx context.Context, eventID string) error {
	return s.Set(ctx, "push_sent:"+eventID, time.Now().UTC().Format(time.RFC3339), "system")
}

// TodayStats counts today's events per type, busiest first (top 10).
func (s *Service) TodayStats(ctx context.Context, now time.Time) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) AS cnt FROM events
		WHERE timestamp >= ?
		GROUP BY type ORDER BY cnt DESC LIMIT 10`, startOfDay(now))
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return Stats{}, err
		}
		st.Total += tc.Count
		st.ByType = append(st.ByType, tc)
	}
	return st, rows.Err()
}

// TodaySummary renders the user profile, today's per-type statistics, and
// a short recent-event timeline as markdown for the agent message.
func (s *Service) TodaySummary(ctx context.Context, now time.Time) (string, error) {
	var b strings.Builder

	profile, err := s.profileLines(ctx)
	if err != nil {
		return "", err
	}
	b.WriteString("**User profile:**\n")
	if profile == "" {
		b.WriteString("  - (empty)\n")
	} else {
		b.WriteString(profile)
	}

	stats, err := s.TodayStats(ctx, now)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "\n**Today's signals (%d total):**\n", stats.Total)
	if len(stats.ByType) == 0 {
		b.WriteString("  - none\n")
	}
	for _, tc := range stats.ByType {
		fmt.Fprintf(&b, "  - %s: %d\n", tc.Type, tc.Count)
	}

	timeline, err := s.timelineLines(ctx, now)
	if err != nil {
		return "", err
	}
	b.WriteString("\n**Recent events:**\n")
	if timeline == "" {
		b.WriteString("  - none\n")
	} else {
		b.WriteString(timeline)
	}
	return b.String(), nil
}

func (s *Service) profileLines(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM user_context WHERE key NOT LIKE 'push_sent:%' ORDER BY key`)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "  - %s: %s\n", k, v)
	}
	return b.String(), rows.Err()
}

func (s *Service) timelineLines(ctx context.Context, now time.Time) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, timestamp, data FROM events
		WHERE timestamp >= ?
		ORDER BY timestamp DESC LIMIT 10`, startOfDay(now))
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var typ, ts, data string
		if err := rows.Scan(&typ, &ts, &data); err != nil {
			return "", err
		}
		clock := ts
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			clock = t.Local().Format("15:04")
		}
		fmt.Fprintf(&b, "  - [%s] %s: %s\n", clock, typ, compactJSON(data, 60))
	}
	return b.String(), rows.Err()
}

func startOfDay(now time.Time) string {
	y, m, d := now.Local().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).UTC().Format(time.RFC3339Nano)
}

func compactJSON(raw string, max int) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		if b, err := json.Marshal(v); err == nil {
			raw = string(b)
		}
	}
	if len(raw) > max {
		return raw[:max]
	}
	return raw
}
