package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Mirror copies run and phase records into a shared Postgres database so
// several build hosts can be watched from one place. The local SQLite
// ledger stays the source of truth; the mirror is best effort.
type Mirror struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

// OpenMirror connects to the Postgres database at dsn.
func OpenMirror(dsn string) (*Mirror, error) {
	conn, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("open events mirror: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping events mirror: %w", err)
	}
	return &Mirror{db: conn}, nil
}

// Close closes the connection.
func (m *Mirror) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *Mirror) ensureSchema(ctx context.Context) error {
	m.schemaOnce.Do(func() {
		_, m.schemaErr = m.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS pysbuild_runs (
  id TEXT PRIMARY KEY,
  host TEXT NOT NULL DEFAULT '',
  mode TEXT NOT NULL,
  version TEXT NOT NULL,
  version_tag TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  started_at TEXT NOT NULL,
  finished_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS pysbuild_phase_events (
  id BIGSERIAL PRIMARY KEY,
  run_id TEXT NOT NULL REFERENCES pysbuild_runs(id) ON DELETE CASCADE,
  platform TEXT NOT NULL DEFAULT '',
  flavor TEXT NOT NULL DEFAULT '',
  phase TEXT NOT NULL,
  event TEXT NOT NULL,
  detail TEXT NOT NULL DEFAULT '',
  ts TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pysbuild_phase_events_run ON pysbuild_phase_events(run_id);
`)
	})
	return m.schemaErr
}

// PutRun inserts or updates a run.
func (m *Mirror) PutRun(ctx context.Context, host string, r Run) error {
	if m == nil || m.db == nil {
		return nil
	}
	if err := m.ensureSchema(ctx); err != nil {
		return fmt.Errorf("events mirror schema: %w", err)
	}
	_, err := m.db.ExecContext(ctx, `
INSERT INTO pysbuild_runs (id, host, mode, version, version_tag, status, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  error = EXCLUDED.error,
  finished_at = EXCLUDED.finished_at
`, r.ID, host, r.Mode, r.Version, r.VersionTag, r.Status, r.Error, r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("mirror run %s: %w", r.ID, err)
	}
	return nil
}

// PutPhaseEvent appends a phase event.
func (m *Mirror) PutPhaseEvent(ctx context.Context, e PhaseEvent) error {
	if m == nil || m.db == nil {
		return nil
	}
	if err := m.ensureSchema(ctx); err != nil {
		return fmt.Errorf("events mirror schema: %w", err)
	}
	_, err := m.db.ExecContext(ctx, `
INSERT INTO pysbuild_phase_events (run_id, platform, flavor, phase, event, detail, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, e.RunID, e.Platform, e.Flavor, e.Phase, e.Event, e.Detail, e.Timestamp)
	if err != nil {
		return fmt.Errorf("mirror phase event: %w", err)
	}
	return nil
}
