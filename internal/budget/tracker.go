// Package budget enforces token and cost consumption limits across all
// agents working under one project. Two independent budgets run in parallel:
// a per-minute token-rate window and a daily cost ceiling. Either budget
// breaching its limit halts usage-incurring work until the window resets.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBudgetHalt is returned when usage is recorded against a budget that is
// already at or over its limit. Callers must stop issuing usage-incurring
// work until the window resets or limits are raised.
var ErrBudgetHalt = errors.New("budget halted: limit reached")

// Level classifies current budget consumption.
type Level string

const (
	LevelSafe    Level = "safe"    // below the alert threshold
	LevelWarning Level = "warning" // at or above alert threshold, under limit
	LevelHalt    Level = "halt"    // at or above the limit
)

// Limits configures the two budgets and the shared alert threshold.
type Limits struct {
	TokensPerMinute int     `json:"tokens_per_minute" yaml:"tokens_per_minute"`
	DailyCostLimit  float64 `json:"daily_cost_limit" yaml:"daily_cost_limit"`
	AlertThreshold  float64 `json:"alert_threshold" yaml:"alert_threshold"` // fraction of limit, e.g. 0.8
}

// Window is the persisted accumulator state. It round-trips exactly through
// the pipeline store so a restart never loses or double-counts usage.
type Window struct {
	WindowStartedAt    time.Time `json:"window_started_at"`
	TokensUsedInWindow int       `json:"tokens_used_in_window"`
	DayStartedAt       time.Time `json:"day_started_at"`
	CostUsedToday      float64   `json:"cost_used_today"`
	Limits             Limits    `json:"limits"`
}

// Status is a point-in-time view of both budgets.
type Status struct {
	Level         Level   `json:"level"`
	TokenLevel    Level   `json:"token_level"`
	CostLevel     Level   `json:"cost_level"`
	TokensUsed    int     `json:"tokens_used"`
	TokensLimit   int     `json:"tokens_limit"`
	CostUsed      float64 `json:"cost_used"`
	CostLimit     float64 `json:"cost_limit"`
	TokenFraction float64 `json:"token_fraction"`
	CostFraction  float64 `json:"cost_fraction"`
}

// Tracker accumulates usage against rolling windows. It is safe for
// concurrent use by multiple agent workers: the reset-and-accumulate
// sequence on window rollover runs under a single lock so no update is lost.
type Tracker struct {
	mu  sync.Mutex
	win Window
	now func() time.Time // injectable clock for tests
}

// NewTracker creates a Tracker with fresh windows starting now.
func NewTracker(limits Limits) *Tracker {
	return NewTrackerWithClock(limits, time.Now)
}

// NewTrackerWithClock creates a Tracker with an explicit wall clock
// (for testing window rollover deterministically).
func NewTrackerWithClock(limits Limits, now func() time.Time) *Tracker {
	t := &Tracker{now: now}
	start := t.now()
	t.win = Window{
		WindowStartedAt: start.Truncate(time.Minute),
		DayStartedAt:    dayStart(start),
		Limits:          limits,
	}
	return t
}

// Restore creates a Tracker from a persisted Window snapshot.
func Restore(win Window) *Tracker {
	return &Tracker{win: win, now: time.Now}
}

// SetClock overrides the wall clock (for testing).
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Snapshot returns a copy of the current window state for persistence.
func (t *Tracker) Snapshot() Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return t.win
}

// RecordUsage adds tokens and cost to the current windows, rolling each
// window over first if the wall clock has crossed its boundary. The returned
// Level reflects consumption after the addition. Recording against an
// already-halted budget fails with ErrBudgetHalt without accumulating.
func (t *Tracker) RecordUsage(tokens int, cost float64) (Level, error) {
	if tokens < 0 || cost < 0 {
		return "", fmt.Errorf("negative usage: tokens=%d cost=%f", tokens, cost)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()

	if t.levelLocked() == LevelHalt {
		return LevelHalt, ErrBudgetHalt
	}

	t.win.TokensUsedInWindow += tokens
	t.win.CostUsedToday += cost
	return t.levelLocked(), nil
}

// Check returns the overall budget level without recording anything.
func (t *Tracker) Check() Level {
	return t.Status().Level
}

// Status returns a detailed view of both budgets.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()

	tokenFrac := fraction(float64(t.win.TokensUsedInWindow), float64(t.win.Limits.TokensPerMinute))
	costFrac := fraction(t.win.CostUsedToday, t.win.Limits.DailyCostLimit)

	tokenLevel := classify(tokenFrac, t.win.Limits.AlertThreshold)
	costLevel := classify(costFrac, t.win.Limits.AlertThreshold)

	return Status{
		Level:         worse(tokenLevel, costLevel),
		TokenLevel:    tokenLevel,
		CostLevel:     costLevel,
		TokensUsed:    t.win.TokensUsedInWindow,
		TokensLimit:   t.win.Limits.TokensPerMinute,
		CostUsed:      t.win.CostUsedToday,
		CostLimit:     t.win.Limits.DailyCostLimit,
		TokenFraction: tokenFrac,
		CostFraction:  costFrac,
	}
}

// rollover resets each window whose boundary the clock has crossed.
// Callers must hold t.mu.
func (t *Tracker) rollover() {
	now := t.now()

	minute := now.Truncate(time.Minute)
	if minute.After(t.win.WindowStartedAt) {
		t.win.WindowStartedAt = minute
		t.win.TokensUsedInWindow = 0
	}

	day := dayStart(now)
	if day.After(t.win.DayStartedAt) {
		t.win.DayStartedAt = day
		t.win.CostUsedToday = 0
	}
}

// levelLocked computes the overall level. Callers must hold t.mu.
func (t *Tracker) levelLocked() Level {
	tokenFrac := fraction(float64(t.win.TokensUsedInWindow), float64(t.win.Limits.TokensPerMinute))
	costFrac := fraction(t.win.CostUsedToday, t.win.Limits.DailyCostLimit)
	return worse(
		classify(tokenFrac, t.win.Limits.AlertThreshold),
		classify(costFrac, t.win.Limits.AlertThreshold),
	)
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fraction returns used/limit, treating a non-positive limit as unlimited.
func fraction(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return used / limit
}

func classify(frac, alert float64) Level {
	if alert <= 0 {
		alert = 0.8
	}
	switch {
	case frac >= 1.0:
		return LevelHalt
	case frac >= alert:
		return LevelWarning
	default:
		return LevelSafe
	}
}

// worse returns the more severe of two levels.
func worse(a, b Level) Level {
	rank := map[Level]int{LevelSafe: 0, LevelWarning: 1, LevelHalt: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
