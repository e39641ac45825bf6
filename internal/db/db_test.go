package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func fixedClock(t *testing.T, start time.Time, step time.Duration) {
	t.Helper()
	cur := start
	orig := now
	now = func() time.Time {
		v := cur
		cur = cur.Add(step)
		return v
	}
	t.Cleanup(func() { now = orig })
}

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tables := []string{"schema_version", "runs", "phase_events", "artifacts", "tool_invocations"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var version int
	if err := d.conn.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)
	if err := d.StartRun(Run{ID: "r1", Mode: "default", Version: "2.0.0", VersionTag: "final"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	runs, err := d.ListRuns(0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected empty ledger after reset, got %d runs", len(runs))
	}
}

func TestRunLifecycle(t *testing.T) {
	d := testDB(t)
	fixedClock(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), time.Minute)

	r := Run{ID: "7f1c", Mode: "release", Target: "all", Platforms: "30armv5", Flavors: "unsigned_alabs,alabs_pythonteam",
		Version: "2.0.0", VersionTag: "svn1234", WorkArea: "build"}
	if err := d.StartRun(r); err != nil {
		t.Fatalf("start run: %v", err)
	}
	got, err := d.GetRun("7f1c")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != StatusRunning || got.FinishedAt != "" {
		t.Errorf("new run = %+v, want running and unfinished", got)
	}
	if got.StartedAt != "2026-03-01 10:00:00.000" {
		t.Errorf("started_at = %q", got.StartedAt)
	}

	if err := d.FinishRun("7f1c", nil); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	got, _ = d.GetRun("7f1c")
	if got.Status != StatusSucceeded || got.FinishedAt != "2026-03-01 10:01:00.000" {
		t.Errorf("finished run = %+v", got)
	}
}

func TestFinishRunRecordsFailure(t *testing.T) {
	d := testDB(t)
	if err := d.StartRun(Run{ID: "bad", Mode: "default", Version: "2.0.0", VersionTag: "x"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := d.FinishRun("bad", errors.New("abld exited with 1")); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	got, err := d.GetRun("bad")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.Error != "abld exited with 1" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestFinishRunUnknown(t *testing.T) {
	d := testDB(t)
	if err := d.FinishRun("nope", nil); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestGetRunMissing(t *testing.T) {
	d := testDB(t)
	got, err := d.GetRun("missing")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestFindRunPrefix(t *testing.T) {
	d := testDB(t)
	for _, id := range []string{"abc123", "abd456"} {
		if err := d.StartRun(Run{ID: id, Mode: "default", Version: "2.0.0", VersionTag: "t"}); err != nil {
			t.Fatalf("start run: %v", err)
		}
	}

	got, err := d.FindRun("abc")
	if err != nil {
		t.Fatalf("find run: %v", err)
	}
	if got == nil || got.ID != "abc123" {
		t.Errorf("FindRun(abc) = %+v", got)
	}

	if _, err := d.FindRun("ab"); err == nil {
		t.Error("expected ambiguity error")
	}

	got, err = d.FindRun("zzz")
	if err != nil || got != nil {
		t.Errorf("FindRun(zzz) = %+v, %v", got, err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	d := testDB(t)
	fixedClock(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), time.Hour)
	for _, id := range []string{"first", "second", "third"} {
		if err := d.StartRun(Run{ID: id, Mode: "default", Version: "2.0.0", VersionTag: "t"}); err != nil {
			t.Fatalf("start run: %v", err)
		}
	}

	runs, err := d.ListRuns(2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "third" || runs[1].ID != "second" {
		t.Errorf("order = %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestPhaseEvents(t *testing.T) {
	d := testDB(t)
	if err := d.StartRun(Run{ID: "r", Mode: "default", Version: "2.0.0", VersionTag: "t"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	events := []PhaseEvent{
		{RunID: "r", Platform: "50armv5", Phase: "Configured", Event: EventCompleted},
		{RunID: "r", Platform: "50armv5", Flavor: "selfsigned", Phase: "Repackaged", Event: EventStarted},
		{RunID: "r", Platform: "50armv5", Flavor: "selfsigned", Phase: "Repackaged", Event: EventFailed, Detail: "elftran exited with 2"},
	}
	for _, e := range events {
		if err := d.LogPhaseEvent(e); err != nil {
			t.Fatalf("log phase event: %v", err)
		}
	}

	got, err := d.GetPhaseEvents("r")
	if err != nil {
		t.Fatalf("get phase events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[2].Event != EventFailed || got[2].Detail != "elftran exited with 2" || got[2].Flavor != "selfsigned" {
		t.Errorf("last event = %+v", got[2])
	}
	if got[0].Timestamp == "" {
		t.Error("timestamp not filled in")
	}
}

func TestPhaseEventRejectsUnknownKind(t *testing.T) {
	d := testDB(t)
	if err := d.StartRun(Run{ID: "r", Mode: "default", Version: "2.0.0", VersionTag: "t"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := d.LogPhaseEvent(PhaseEvent{RunID: "r", Phase: "Moved", Event: "exploded"}); err == nil {
		t.Error("expected check constraint failure")
	}
}

func TestPhaseEventRequiresRun(t *testing.T) {
	d := testDB(t)
	if err := d.LogPhaseEvent(PhaseEvent{RunID: "ghost", Phase: "Moved", Event: EventCompleted}); err == nil {
		t.Error("expected foreign key failure")
	}
}

func TestArtifactsAndTools(t *testing.T) {
	d := testDB(t)
	if err := d.StartRun(Run{ID: "r", Mode: "default", Version: "2.0.0", VersionTag: "t"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := d.RecordArtifact(Artifact{RunID: "r", Kind: "sis", Platform: "50armv5", Flavor: "selfsigned",
		Path: "build/Python_2.0.0_3rdEdFP2_selfsigned.sis", SizeBytes: 2048}); err != nil {
		t.Fatalf("record artifact: %v", err)
	}
	if err := d.LogToolInvocation(ToolInvocation{RunID: "r", Tool: "abld", ExitCode: 0, DurationMs: 1500}); err != nil {
		t.Fatalf("log tool: %v", err)
	}
	if err := d.LogToolInvocation(ToolInvocation{RunID: "r", Tool: "abld", ExitCode: 1, Failed: true, Ignored: true, DurationMs: 20}); err != nil {
		t.Fatalf("log tool: %v", err)
	}

	arts, err := d.GetArtifacts("r")
	if err != nil {
		t.Fatalf("get artifacts: %v", err)
	}
	if len(arts) != 1 || arts[0].SizeBytes != 2048 || arts[0].Kind != "sis" {
		t.Errorf("artifacts = %+v", arts)
	}

	tools, err := d.GetToolInvocations("r")
	if err != nil {
		t.Fatalf("get tools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(tools))
	}
	if tools[0].Failed || !tools[1].Failed || !tools[1].Ignored {
		t.Errorf("tool flags = %+v", tools)
	}
}

func TestNilMirrorIsNoop(t *testing.T) {
	var m *Mirror
	if err := m.PutRun(context.Background(), "host", Run{ID: "r"}); err != nil {
		t.Errorf("PutRun on nil mirror: %v", err)
	}
	if err := m.PutPhaseEvent(context.Background(), PhaseEvent{RunID: "r"}); err != nil {
		t.Errorf("PutPhaseEvent on nil mirror: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close on nil mirror: %v", err)
	}
}
