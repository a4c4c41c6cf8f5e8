// Package analytics summarizes the durable event log: how often gates
// kill, hold or recycle, how validators behave per stage, and where the
// budget is going.
package analytics

import (
	"database/sql"
	"fmt"
	"sort"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// DecisionBreakdown holds gate decision counts for one stage.
type DecisionBreakdown struct {
	Stage    string  `json:"stage"`
	Total    int     `json:"total"`
	Go       int     `json:"go"`
	Kill     int     `json:"kill"`
	Hold     int     `json:"hold"`
	Blocked  int     `json:"blocked"`
	Recycle  int     `json:"recycle"`
	KillPct  float64 `json:"kill_pct"`
	HoldPct  float64 `json:"hold_pct"`
	BlockPct float64 `json:"block_pct"`
}

// QueryDecisionBreakdown returns per-stage decision counts and rates.
// Pass "" for since to include the full history.
func QueryDecisionBreakdown(database DB, since string) ([]DecisionBreakdown, error) {
	query := `
		SELECT COALESCE(stage, ''),
			COUNT(*) as total,
			SUM(CASE WHEN event = 'go' THEN 1 ELSE 0 END),
			SUM(CASE WHEN event = 'kill' THEN 1 ELSE 0 END),
			SUM(CASE WHEN event = 'hold' THEN 1 ELSE 0 END),
			SUM(CASE WHEN event = 'blocked' THEN 1 ELSE 0 END),
			SUM(CASE WHEN event = 'recycle' THEN 1 ELSE 0 END)
		FROM gate_events
		WHERE event IN ('go', 'kill', 'hold', 'blocked', 'recycle')`

	args := []any{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY stage`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decision breakdown: %w", err)
	}
	defer rows.Close()

	var results []DecisionBreakdown
	for rows.Next() {
		var b DecisionBreakdown
		if err := rows.Scan(&b.Stage, &b.Total, &b.Go, &b.Kill, &b.Hold, &b.Blocked, &b.Recycle); err != nil {
			return nil, fmt.Errorf("scan decision breakdown: %w", err)
		}
		b.KillPct = pct(b.Kill, b.Total)
		b.HoldPct = pct(b.Hold, b.Total)
		b.BlockPct = pct(b.Blocked, b.Total)
		results = append(results, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// ValidatorStats holds pass-rate and duration stats for one validator on
// one stage.
type ValidatorStats struct {
	Stage      string  `json:"stage"`
	Validator  string  `json:"validator"`
	Runs       int     `json:"runs"`
	PassPct    float64 `json:"pass_pct"`
	TimeoutPct float64 `json:"timeout_pct"`
	AvgMs      float64 `json:"avg_ms"`
}

// QueryValidatorStats returns per-validator pass rates and mean durations.
func QueryValidatorStats(database DB, since string) ([]ValidatorStats, error) {
	query := `
		SELECT stage, validator,
			COUNT(*) as runs,
			SUM(CASE WHEN passed THEN 1 ELSE 0 END),
			SUM(CASE WHEN timed_out THEN 1 ELSE 0 END),
			AVG(COALESCE(duration_ms, 0))
		FROM validation_runs`

	args := []any{}
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY stage, validator ORDER BY stage, validator`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query validator stats: %w", err)
	}
	defer rows.Close()

	var results []ValidatorStats
	for rows.Next() {
		var s ValidatorStats
		var passed, timedOut int
		if err := rows.Scan(&s.Stage, &s.Validator, &s.Runs, &passed, &timedOut, &s.AvgMs); err != nil {
			return nil, fmt.Errorf("scan validator stats: %w", err)
		}
		s.PassPct = pct(passed, s.Runs)
		s.TimeoutPct = pct(timedOut, s.Runs)
		results = append(results, s)
	}
	return results, rows.Err()
}

// BudgetSummary aggregates spend and halt pressure.
type BudgetSummary struct {
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
	Halts       int     `json:"halts"`
	WorkItems   int     `json:"work_items"`
}

// QueryBudgetSummary totals recorded usage and counts budget halts.
func QueryBudgetSummary(database DB, since string) (*BudgetSummary, error) {
	usageQuery := `
		SELECT COALESCE(SUM(tokens), 0), COALESCE(SUM(cost), 0), COUNT(DISTINCT work_item)
		FROM usage_events`
	haltQuery := `
		SELECT COUNT(*) FROM gate_events WHERE event = 'budget_halt'`

	usageArgs := []any{}
	haltArgs := []any{}
	if since != "" {
		usageQuery += ` WHERE timestamp >= ?`
		haltQuery += ` AND timestamp >= ?`
		usageArgs = append(usageArgs, since)
		haltArgs = append(haltArgs, since)
	}

	var s BudgetSummary
	if err := database.Conn().QueryRow(usageQuery, usageArgs...).Scan(&s.TotalTokens, &s.TotalCost, &s.WorkItems); err != nil {
		return nil, fmt.Errorf("query usage totals: %w", err)
	}
	if err := database.Conn().QueryRow(haltQuery, haltArgs...).Scan(&s.Halts); err != nil {
		return nil, fmt.Errorf("query halt count: %w", err)
	}
	return &s, nil
}

// RecycleStats holds backward-movement counts per recycle target stage.
type RecycleStats struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

// QueryRecycleStats counts recycle decisions grouped by the stage they
// fired from, most frequent first.
func QueryRecycleStats(database DB, since string) ([]RecycleStats, error) {
	query := `
		SELECT COALESCE(stage, ''), COUNT(*)
		FROM gate_events WHERE event = 'recycle'`

	args := []any{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY stage ORDER BY COUNT(*) DESC, stage`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recycle stats: %w", err)
	}
	defer rows.Close()

	var results []RecycleStats
	for rows.Next() {
		var r RecycleStats
		if err := rows.Scan(&r.Stage, &r.Count); err != nil {
			return nil, fmt.Errorf("scan recycle stats: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}
