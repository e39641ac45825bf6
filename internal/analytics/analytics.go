package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// PhaseDuration holds duration stats for a pipeline phase.
type PhaseDuration struct {
	Phase string  `json:"phase"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_minutes"`
	P50   float64 `json:"p50_minutes"`
	P95   float64 `json:"p95_minutes"`
}

// timestamp formats to try when parsing timestamps from the database
var timestampFormats = []string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// QueryPhaseDurations returns average and percentile durations per phase.
// Each completed event is paired with the most recent prior started event of
// the same run, platform, flavor and phase. Unpaired events are ignored.
func QueryPhaseDurations(database DB, since string) ([]PhaseDuration, error) {
	query := `
		SELECT pe1.phase, pe1.timestamp as end_ts,
			(SELECT pe2.timestamp FROM phase_events pe2
			 WHERE pe2.run_id = pe1.run_id
			 AND pe2.platform = pe1.platform
			 AND pe2.flavor = pe1.flavor
			 AND pe2.phase = pe1.phase
			 AND pe2.event = 'started'
			 AND pe2.id < pe1.id
			 ORDER BY pe2.id DESC LIMIT 1) as start_ts
		FROM phase_events pe1
		WHERE pe1.event = 'completed'`

	args := []any{}
	if since != "" {
		query += ` AND pe1.timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query phase durations: %w", err)
	}
	defer rows.Close()

	phaseDurations := make(map[string][]float64)
	for rows.Next() {
		var phase, endTS string
		var startTS sql.NullString
		if err := rows.Scan(&phase, &endTS, &startTS); err != nil {
			return nil, fmt.Errorf("scan phase duration: %w", err)
		}
		if !startTS.Valid {
			continue
		}
		start, err := parseTimestamp(startTS.String)
		if err != nil {
			continue
		}
		end, err := parseTimestamp(endTS)
		if err != nil {
			continue
		}
		if minutes := end.Sub(start).Minutes(); minutes >= 0 {
			phaseDurations[phase] = append(phaseDurations[phase], minutes)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []PhaseDuration
	for phase, durations := range phaseDurations {
		sort.Float64s(durations)
		results = append(results, PhaseDuration{
			Phase: phase,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Phase < results[j].Phase
	})
	return results, nil
}

// PhaseFailureRate holds how often a phase failed once started.
type PhaseFailureRate struct {
	Phase    string  `json:"phase"`
	Attempts int     `json:"attempts"`
	Failed   int     `json:"failed"`
	FailRate float64 `json:"fail_rate_pct"`
}

// QueryPhaseFailures returns failure counts per phase, most failing first.
func QueryPhaseFailures(database DB, since string) ([]PhaseFailureRate, error) {
	query := `
		SELECT phase,
			SUM(CASE WHEN event = 'started' THEN 1 ELSE 0 END) as attempts,
			SUM(CASE WHEN event = 'failed' THEN 1 ELSE 0 END) as failed
		FROM phase_events
		WHERE 1 = 1`

	args := []any{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY phase ORDER BY failed DESC, phase ASC`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query phase failures: %w", err)
	}
	defer rows.Close()

	var results []PhaseFailureRate
	for rows.Next() {
		var r PhaseFailureRate
		if err := rows.Scan(&r.Phase, &r.Attempts, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan phase failure: %w", err)
		}
		r.FailRate = pct(r.Failed, max(r.Attempts, r.Failed))
		results = append(results, r)
	}
	return results, rows.Err()
}

// ToolStat holds call statistics for one external tool.
type ToolStat struct {
	Tool    string  `json:"tool"`
	Calls   int     `json:"calls"`
	Failed  int     `json:"failed"`
	Ignored int     `json:"ignored"`
	Avg     float64 `json:"avg_seconds"`
	P95     float64 `json:"p95_seconds"`
}

// QueryToolStats returns per tool call counts and durations.
func QueryToolStats(database DB, since string) ([]ToolStat, error) {
	query := `SELECT tool, failed, ignored, duration_ms FROM tool_invocations WHERE 1 = 1`
	args := []any{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tool stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]*ToolStat)
	durations := make(map[string][]float64)
	for rows.Next() {
		var tool string
		var failed, ignored bool
		var ms int64
		if err := rows.Scan(&tool, &failed, &ignored, &ms); err != nil {
			return nil, fmt.Errorf("scan tool stat: %w", err)
		}
		s, ok := stats[tool]
		if !ok {
			s = &ToolStat{Tool: tool}
			stats[tool] = s
		}
		s.Calls++
		if failed {
			s.Failed++
		}
		if ignored {
			s.Ignored++
		}
		durations[tool] = append(durations[tool], float64(ms)/1000)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []ToolStat
	for tool, s := range stats {
		d := durations[tool]
		sort.Float64s(d)
		s.Avg = avg(d)
		s.P95 = percentile(d, 95)
		results = append(results, *s)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Tool < results[j].Tool
	})
	return results, nil
}

// RunThroughput holds run outcomes for one week.
type RunThroughput struct {
	Period      string  `json:"period"`
	Started     int     `json:"started"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	AvgDuration float64 `json:"avg_duration_minutes"`
}

// QueryRunThroughput returns run outcomes grouped by week, newest first.
func QueryRunThroughput(database DB, since string) ([]RunThroughput, error) {
	query := `
		SELECT
			strftime('%Y-W%W', started_at) as period,
			COUNT(*) as started,
			SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END) as succeeded,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) as failed,
			AVG(CASE WHEN finished_at IS NOT NULL
				THEN (julianday(finished_at) - julianday(started_at)) * 24 * 60 END) as avg_minutes
		FROM runs
		WHERE 1 = 1`

	args := []any{}
	if since != "" {
		query += ` AND started_at >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY period ORDER BY period DESC LIMIT 10`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query run throughput: %w", err)
	}
	defer rows.Close()

	var results []RunThroughput
	for rows.Next() {
		var rt RunThroughput
		var avgMinutes sql.NullFloat64
		if err := rows.Scan(&rt.Period, &rt.Started, &rt.Succeeded, &rt.Failed, &avgMinutes); err != nil {
			return nil, fmt.Errorf("scan throughput: %w", err)
		}
		if avgMinutes.Valid {
			rt.AvgDuration = math.Round(avgMinutes.Float64*10) / 10
		}
		results = append(results, rt)
	}
	return results, rows.Err()
}

// TimelineEvent is one line of a run timeline.
type TimelineEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Event     string `json:"event"`
	Phase     string `json:"phase,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Flavor    string `json:"flavor,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// QueryRunTimeline merges phase events, tool calls and artifacts of one run
// into a single timeline.
func QueryRunTimeline(database DB, runID string) ([]TimelineEvent, error) {
	var results []TimelineEvent

	peRows, err := database.Conn().Query(
		`SELECT timestamp, event, phase, platform, flavor, detail
		 FROM phase_events WHERE run_id = ? ORDER BY timestamp, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query phase events: %w", err)
	}
	defer peRows.Close()

	for peRows.Next() {
		e := TimelineEvent{Type: "phase"}
		if err := peRows.Scan(&e.Timestamp, &e.Event, &e.Phase, &e.Platform, &e.Flavor, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan phase event: %w", err)
		}
		results = append(results, e)
	}
	if err := peRows.Err(); err != nil {
		return nil, err
	}

	tiRows, err := database.Conn().Query(
		`SELECT timestamp, tool, exit_code, failed, ignored, duration_ms
		 FROM tool_invocations WHERE run_id = ? ORDER BY timestamp, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tool invocations: %w", err)
	}
	defer tiRows.Close()

	for tiRows.Next() {
		var ts, tool string
		var exitCode int
		var failed, ignored bool
		var ms int64
		if err := tiRows.Scan(&ts, &tool, &exitCode, &failed, &ignored, &ms); err != nil {
			return nil, fmt.Errorf("scan tool invocation: %w", err)
		}
		status := "ok"
		if failed {
			status = "FAIL"
			if ignored {
				status += " (ignored)"
			}
		}
		results = append(results, TimelineEvent{
			Timestamp: ts,
			Type:      "tool",
			Event:     tool,
			Detail:    fmt.Sprintf("%s exit=%d %dms", status, exitCode, ms),
		})
	}
	if err := tiRows.Err(); err != nil {
		return nil, err
	}

	arRows, err := database.Conn().Query(
		`SELECT timestamp, kind, platform, flavor, path
		 FROM artifacts WHERE run_id = ? ORDER BY timestamp, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer arRows.Close()

	for arRows.Next() {
		e := TimelineEvent{Type: "artifact"}
		if err := arRows.Scan(&e.Timestamp, &e.Event, &e.Platform, &e.Flavor, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		results = append(results, e)
	}
	if err := arRows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp < results[j].Timestamp
	})
	return results, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
