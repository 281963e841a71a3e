package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "qbitmanage/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL UNIQUE,
	config       TEXT NOT NULL,
	start_at     TEXT NOT NULL,
	end_at       TEXT NOT NULL,
	duration_sec INTEGER NOT NULL,
	next_run     TEXT,
	stats        TEXT,
	summary      TEXT,
	err          TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_config ON runs(config, id);
`

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	retain int

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, retain: cfg.retain(), pruneEvery: 50}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	stats, err := json.Marshal(r.Stats)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, config, start_at, end_at, duration_sec, next_run, stats, summary, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.ConfigID, r.Start.Format(time.RFC3339Nano), r.End.Format(time.RFC3339Nano), r.DurationSec,
		nullTime(r.NextRun), string(stats), string(summary), nullStr(r.Error),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("history prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, configID string, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, config, start_at, end_at, duration_sec, next_run, stats, summary, err
		 FROM runs WHERE (? = '' OR config = ?) ORDER BY id DESC LIMIT ?`,
		configID, configID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r              RunRecord
			start, end     string
			next, errStr   sql.NullString
			stats, summary sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.ConfigID, &start, &end, &r.DurationSec, &next, &stats, &summary, &errStr); err != nil {
			return nil, err
		}
		r.Start, _ = time.Parse(time.RFC3339Nano, start)
		r.End, _ = time.Parse(time.RFC3339Nano, end)
		if next.Valid {
			r.NextRun, _ = time.Parse(time.RFC3339Nano, next.String)
		}
		if stats.Valid {
			_ = json.Unmarshal([]byte(stats.String), &r.Stats)
		}
		if summary.Valid {
			_ = json.Unmarshal([]byte(summary.String), &r.Summary)
		}
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`, s.retain)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
