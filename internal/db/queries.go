package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/gatewright/gatewright/internal/event"
)

// GateEvent represents a row in the gate_events table.
type GateEvent struct {
	ID             int
	WorkItem       string
	Event          string
	Stage          string
	Reason         string
	AffectedStages []string
	Timestamp      string
}

// UsageEvent represents a row in the usage_events table.
type UsageEvent struct {
	ID        int
	WorkItem  string
	Stage     string
	Tokens    int
	Cost      float64
	Timestamp string
}

// ValidationRun represents a row in the validation_runs table.
type ValidationRun struct {
	ID         int
	WorkItem   string
	Stage      string
	Validator  string
	Passed     bool
	TimedOut   bool
	DurationMs int
	Summary    string
	Timestamp  string
}

// Notify stores a pipeline event, making DB an event.Notifier so gate
// outcomes land durably in the log.
func (d *DB) Notify(ev event.Event) error {
	affected := strings.Join(ev.AffectedStages, ",")
	_, err := d.conn.Exec(
		`INSERT INTO gate_events (work_item, event, stage, reason, affected) VALUES (?, ?, ?, ?, ?)`,
		ev.WorkItem, string(ev.Type), ev.Stage, ev.Reason, affected,
	)
	if err != nil {
		return fmt.Errorf("log gate event: %w", err)
	}
	return nil
}

// GetGateHistory returns all gate events for a work item, newest first.
func (d *DB) GetGateHistory(workItem string) ([]GateEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, work_item, event, stage, reason, affected, timestamp
		 FROM gate_events WHERE work_item = ? ORDER BY id DESC`,
		workItem,
	)
	if err != nil {
		return nil, fmt.Errorf("get gate history: %w", err)
	}
	defer rows.Close()
	return scanGateEvents(rows)
}

// GetRecentGateEvents returns the most recent gate events across all work
// items, newest first.
func (d *DB) GetRecentGateEvents(limit int) ([]GateEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, work_item, event, stage, reason, affected, timestamp
		 FROM gate_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get recent gate events: %w", err)
	}
	defer rows.Close()
	return scanGateEvents(rows)
}

func scanGateEvents(rows *sql.Rows) ([]GateEvent, error) {
	var events []GateEvent
	for rows.Next() {
		var e GateEvent
		var stage, reason, affected sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkItem, &e.Event, &stage, &reason, &affected, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan gate event: %w", err)
		}
		if stage.Valid {
			e.Stage = stage.String
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		if affected.Valid && affected.String != "" {
			e.AffectedStages = strings.Split(affected.String, ",")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LogUsage records a token/cost usage sample.
func (d *DB) LogUsage(workItem, stage string, tokens int, cost float64) error {
	_, err := d.conn.Exec(
		`INSERT INTO usage_events (work_item, stage, tokens, cost) VALUES (?, ?, ?, ?)`,
		workItem, stage, tokens, cost,
	)
	if err != nil {
		return fmt.Errorf("log usage: %w", err)
	}
	return nil
}

// GetUsage returns all usage samples for a work item, newest first.
func (d *DB) GetUsage(workItem string) ([]UsageEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, work_item, stage, tokens, cost, timestamp
		 FROM usage_events WHERE work_item = ? ORDER BY id DESC`,
		workItem,
	)
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	defer rows.Close()

	var events []UsageEvent
	for rows.Next() {
		var e UsageEvent
		var stage sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkItem, &stage, &e.Tokens, &e.Cost, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		if stage.Valid {
			e.Stage = stage.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UsageTotals returns the total tokens and cost recorded for a work item.
// Pass "" to total across all work items.
func (d *DB) UsageTotals(workItem string) (tokens int, cost float64, err error) {
	query := `SELECT COALESCE(SUM(tokens), 0), COALESCE(SUM(cost), 0) FROM usage_events`
	args := []any{}
	if workItem != "" {
		query += ` WHERE work_item = ?`
		args = append(args, workItem)
	}
	if err := d.conn.QueryRow(query, args...).Scan(&tokens, &cost); err != nil {
		return 0, 0, fmt.Errorf("usage totals: %w", err)
	}
	return tokens, cost, nil
}

// LogValidationRun records one validator execution against a stage gate.
func (d *DB) LogValidationRun(workItem, stage, validator string, passed, timedOut bool, durationMs int, summary string) error {
	_, err := d.conn.Exec(
		`INSERT INTO validation_runs (work_item, stage, validator, passed, timed_out, duration_ms, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		workItem, stage, validator, passed, timedOut, durationMs, summary,
	)
	if err != nil {
		return fmt.Errorf("log validation run: %w", err)
	}
	return nil
}

// GetValidationRuns returns validator executions for a work item and stage,
// newest first.
func (d *DB) GetValidationRuns(workItem, stage string) ([]ValidationRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, work_item, stage, validator, passed, timed_out, duration_ms, summary, timestamp
		 FROM validation_runs WHERE work_item = ? AND stage = ? ORDER BY id DESC`,
		workItem, stage,
	)
	if err != nil {
		return nil, fmt.Errorf("get validation runs: %w", err)
	}
	defer rows.Close()

	var runs []ValidationRun
	for rows.Next() {
		var r ValidationRun
		var durationMs sql.NullInt64
		var summary sql.NullString
		if err := rows.Scan(&r.ID, &r.WorkItem, &r.Stage, &r.Validator, &r.Passed, &r.TimedOut, &durationMs, &summary, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan validation run: %w", err)
		}
		if durationMs.Valid {
			r.DurationMs = int(durationMs.Int64)
		}
		if summary.Valid {
			r.Summary = summary.String
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// EventCount is one (event, stage) bucket from the gate event log.
type EventCount struct {
	Event string
	Stage string
	Count int
}

// CountEventsByStage aggregates gate events grouped by type and stage,
// feeding the analytics summaries.
func (d *DB) CountEventsByStage() ([]EventCount, error) {
	rows, err := d.conn.Query(
		`SELECT event, COALESCE(stage, ''), COUNT(*)
		 FROM gate_events GROUP BY event, stage ORDER BY event, stage`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	var counts []EventCount
	for rows.Next() {
		var c EventCount
		if err := rows.Scan(&c.Event, &c.Stage, &c.Count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
