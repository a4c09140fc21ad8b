package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"signalbridge/internal/event"
	"signalbridge/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type SQLite struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if necessary) the SQLite event log at cfg.Path.
func Open(cfg Config, log logx.Logger) (*SQLite, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &SQLite{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// DB exposes the underlying handle so sibling services (user context,
// daily stats) can share the same database file.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Save(ctx context.Context, e event.Event, fingerprint string) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	var metadata any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		metadata = string(b)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events(id, hash, type, source, severity, timestamp, data, metadata)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.ID, fingerprint, e.Type, e.Source, nullStr(e.Severity),
		e.Timestamp.UTC().Format(time.RFC3339Nano), string(data), metadata,
	)
	return err
}

func (s *SQLite) IsDuplicate(ctx context.Context, fingerprint string, window time.Duration) (bool, error) {
	since := time.Now().Add(-window).UTC().Format(time.RFC3339Nano)
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM events WHERE hash = ? AND timestamp >= ? LIMIT 1`,
		fingerprint, since,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLite) Recent(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, source, severity, timestamp, data, metadata
		 FROM events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			e        event.Event
			severity sql.NullString
			ts       string
			data     string
			metadata sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &severity, &ts, &data, &metadata); err != nil {
			return nil, err
		}
		e.Severity = severity.String
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			s.log.Warn("corrupt event data", logx.String("id", e.ID), logx.Err(err))
			e.Data = map[string]any{}
		}
		if metadata.Valid {
			_ = json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
