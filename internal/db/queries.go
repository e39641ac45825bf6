package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TimeFormat is the layout of every timestamp column. It sorts
// lexicographically.
const TimeFormat = "2006-01-02 15:04:05.000"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Phase event kinds.
const (
	EventStarted   = "started"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

var now = func() time.Time { return time.Now().UTC() }

func stamp() string {
	return now().Format(TimeFormat)
}

// Run represents a row in the runs table.
type Run struct {
	ID         string
	Mode       string
	Target     string
	Platforms  string
	Flavors    string
	Version    string
	VersionTag string
	WorkArea   string
	Status     string
	Error      string
	StartedAt  string
	FinishedAt string
}

// PhaseEvent represents a row in the phase_events table.
type PhaseEvent struct {
	ID        int
	RunID     string
	Platform  string
	Flavor    string
	Phase     string
	Event     string
	Detail    string
	Timestamp string
}

// Artifact represents a row in the artifacts table.
type Artifact struct {
	ID        int
	RunID     string
	Kind      string
	Platform  string
	Flavor    string
	Path      string
	SizeBytes int64
	Timestamp string
}

// ToolInvocation represents a row in the tool_invocations table.
type ToolInvocation struct {
	ID         int
	RunID      string
	Tool       string
	ExitCode   int
	Failed     bool
	Ignored    bool
	DurationMs int64
	Timestamp  string
}

// StartRun inserts a run in the running state. StartedAt is filled in when
// empty.
func (d *DB) StartRun(r Run) error {
	if r.StartedAt == "" {
		r.StartedAt = stamp()
	}
	_, err := d.conn.Exec(
		`INSERT INTO runs (id, mode, target, platforms, flavors, version, version_tag, work_area, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'running', ?)`,
		r.ID, r.Mode, r.Target, r.Platforms, r.Flavors, r.Version, r.VersionTag, r.WorkArea, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun closes a run. A nil runErr marks it succeeded.
func (d *DB) FinishRun(id string, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := d.conn.Exec(
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, msg, stamp(), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %q not found", id)
	}
	return nil
}

// GetRun returns one run, or nil when it does not exist.
func (d *DB) GetRun(id string) (*Run, error) {
	row := d.conn.QueryRow(
		`SELECT id, mode, target, platforms, flavors, version, version_tag, work_area, status, error, started_at, finished_at
		 FROM runs WHERE id = ?`,
		id,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// FindRun resolves a full run ID or a unique prefix of one.
func (d *DB) FindRun(prefix string) (*Run, error) {
	rows, err := d.conn.Query(`SELECT id FROM runs WHERE id LIKE ? || '%' LIMIT 2`, prefix)
	if err != nil {
		return nil, fmt.Errorf("find run: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(ids) {
	case 0:
		return nil, nil
	case 1:
		return d.GetRun(ids[0])
	default:
		return nil, fmt.Errorf("run prefix %q is ambiguous", prefix)
	}
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (d *DB) ListRuns(limit int) ([]Run, error) {
	query := `SELECT id, mode, target, platforms, flavors, version, version_tag, work_area, status, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var finished sql.NullString
	err := s.Scan(&r.ID, &r.Mode, &r.Target, &r.Platforms, &r.Flavors, &r.Version, &r.VersionTag,
		&r.WorkArea, &r.Status, &r.Error, &r.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	r.FinishedAt = finished.String
	return &r, nil
}

// LogPhaseEvent inserts a phase event for a run.
func (d *DB) LogPhaseEvent(e PhaseEvent) error {
	if e.Timestamp == "" {
		e.Timestamp = stamp()
	}
	_, err := d.conn.Exec(
		`INSERT INTO phase_events (run_id, platform, flavor, phase, event, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Platform, e.Flavor, e.Phase, e.Event, e.Detail, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("log phase event: %w", err)
	}
	return nil
}

// GetPhaseEvents returns the events of a run in the order they were logged.
func (d *DB) GetPhaseEvents(runID string) ([]PhaseEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, platform, flavor, phase, event, detail, timestamp
		 FROM phase_events WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get phase events: %w", err)
	}
	defer rows.Close()

	var events []PhaseEvent
	for rows.Next() {
		var e PhaseEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.Platform, &e.Flavor, &e.Phase, &e.Event, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan phase event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecordArtifact inserts a finalized artifact.
func (d *DB) RecordArtifact(a Artifact) error {
	if a.Timestamp == "" {
		a.Timestamp = stamp()
	}
	_, err := d.conn.Exec(
		`INSERT INTO artifacts (run_id, kind, platform, flavor, path, size_bytes, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Kind, a.Platform, a.Flavor, a.Path, a.SizeBytes, a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	return nil
}

// GetArtifacts returns the artifacts of a run.
func (d *DB) GetArtifacts(runID string) ([]Artifact, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, kind, platform, flavor, path, size_bytes, timestamp
		 FROM artifacts WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.RunID, &a.Kind, &a.Platform, &a.Flavor, &a.Path, &a.SizeBytes, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LogToolInvocation inserts one external tool call.
func (d *DB) LogToolInvocation(t ToolInvocation) error {
	if t.Timestamp == "" {
		t.Timestamp = stamp()
	}
	_, err := d.conn.Exec(
		`INSERT INTO tool_invocations (run_id, tool, exit_code, failed, ignored, duration_ms, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.Tool, t.ExitCode, t.Failed, t.Ignored, t.DurationMs, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("log tool invocation: %w", err)
	}
	return nil
}

// GetToolInvocations returns the tool calls of a run.
func (d *DB) GetToolInvocations(runID string) ([]ToolInvocation, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, tool, exit_code, failed, ignored, duration_ms, timestamp
		 FROM tool_invocations WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get tool invocations: %w", err)
	}
	defer rows.Close()

	var out []ToolInvocation
	for rows.Next() {
		var t ToolInvocation
		if err := rows.Scan(&t.ID, &t.RunID, &t.Tool, &t.ExitCode, &t.Failed, &t.Ignored, &t.DurationMs, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan tool invocation: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
