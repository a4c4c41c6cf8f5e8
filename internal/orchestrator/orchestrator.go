// Package orchestrator composes the gate engine, budget tracker, drift
// detector and validators into the work item lifecycle the CLI drives.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/gatewright/gatewright/internal/budget"
	"github.com/gatewright/gatewright/internal/cache"
	"github.com/gatewright/gatewright/internal/config"
	"github.com/gatewright/gatewright/internal/db"
	"github.com/gatewright/gatewright/internal/drift"
	"github.com/gatewright/gatewright/internal/event"
	"github.com/gatewright/gatewright/internal/gate"
	"github.com/gatewright/gatewright/internal/pipeline"
	"github.com/gatewright/gatewright/internal/prune"
	"github.com/gatewright/gatewright/internal/validate"
)

// Orchestrator composes work item lifecycle operations.
type Orchestrator struct {
	store    *pipeline.Store
	db       *db.DB
	tracker  *budget.Tracker
	pruner   *prune.Pruner
	contexts *cache.Cache
	notifier event.Notifier
	cfg      *config.Config
	gateCfg  gate.Config
	source   drift.ArtifactSource
	runner   validate.CommandRunner
	now      func() time.Time
}

// New creates an Orchestrator. The budget window is restored from the store
// if a previous run persisted one.
func New(store *pipeline.Store, database *db.DB, cfg *config.Config, notifier event.Notifier) *Orchestrator {
	tracker := budget.NewTracker(cfg.BudgetLimits())
	var win budget.Window
	if err := pipeline.ReadJSON(store.BudgetPath(), &win); err == nil {
		win.Limits = cfg.BudgetLimits() // config wins over the persisted copy
		tracker = budget.Restore(win)
	}

	return &Orchestrator{
		store:    store,
		db:       database,
		tracker:  tracker,
		pruner:   prune.New(cfg.PruneOptions()),
		contexts: cache.New(cfg.Cache.MaxTokens, store.SnapshotBytes),
		notifier: notifier,
		cfg:      cfg,
		gateCfg:  cfg.GateConfig(),
		source:   &drift.FileSource{Paths: cfg.ArtifactPaths()},
		runner:   &validate.ExecRunner{},
		now:      time.Now,
	}
}

// SetRunner overrides command execution (for testing).
func (o *Orchestrator) SetRunner(r validate.CommandRunner) { o.runner = r }

// SetArtifactSource overrides the drift artifact source (for testing).
func (o *Orchestrator) SetArtifactSource(src drift.ArtifactSource) { o.source = src }

// Tracker exposes the shared budget tracker.
func (o *Orchestrator) Tracker() *budget.Tracker { return o.tracker }

// Create initializes a new work item pipeline.
func (o *Orchestrator) Create(title string) (*gate.PipelineState, error) {
	id := uuid.NewString()
	ps, err := o.store.Create(id, title)
	if err != nil {
		return nil, fmt.Errorf("create work item: %w", err)
	}
	o.notify(event.Event{Type: event.TypeCreated, WorkItem: id, Stage: ps.CurrentStage.String()})
	return ps, nil
}

// AdvanceOptions carries operator-supplied signals for one advance: explicit
// abandonment, a pending human decision, and the risk and cost estimates for
// the work the stage would commit to.
type AdvanceOptions struct {
	Abandon              bool
	HumanDecisionPending bool
	RiskScore            float64
	EstimatedCost        float64
}

// AdvanceResult describes what happened during an advance.
type AdvanceResult struct {
	ID       string   `json:"id"`
	Stage    string   `json:"stage"`
	Action   string   `json:"action"` // "go", "kill", "hold", "recycle", "blocked", "pending_review", "drift", "completed"
	Reasons  []string `json:"reasons,omitempty"`
	CanRetry bool     `json:"can_retry,omitempty"`
	Drifted  []string `json:"drifted,omitempty"`
}

// Advance validates the current stage of a work item and applies the gate
// decision. Drift is checked first: a drifted gate invalidates its
// downstream stages and the advance stops there so the caller sees the
// regression before any new work happens.
func (o *Orchestrator) Advance(ctx context.Context, id string, opts AdvanceOptions) (*AdvanceResult, error) {
	ps, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	if ps.Completed {
		return &AdvanceResult{ID: id, Action: "completed", Stage: ps.CurrentStage.String()}, nil
	}

	m := gate.NewMachine(ps, o.gateCfg)
	detector := drift.NewDetector(m, o.source)

	drifted, err := detector.CheckAll()
	if err != nil {
		return nil, fmt.Errorf("drift check: %w", err)
	}
	if len(drifted) > 0 {
		// Fixing the earliest drifted stage blocks everything after it,
		// which covers any later drift in the same pass.
		rep := drifted[0]
		affected, err := detector.AutoFix(rep)
		if err != nil {
			return nil, fmt.Errorf("drift autofix: %w", err)
		}
		if err := o.store.Save(m.State()); err != nil {
			return nil, err
		}
		names := stageNames(affected)
		o.notify(event.Event{
			Type: event.TypeDrift, WorkItem: id, Stage: rep.Stage.String(),
			Reason: "artifacts changed after lock", AffectedStages: names,
		})
		return &AdvanceResult{
			ID: id, Stage: rep.Stage.String(), Action: "drift",
			Reasons: []string{fmt.Sprintf("stage %s drifted; downstream gates invalidated", rep.Stage)},
			Drifted: names,
		}, nil
	}

	cur := m.CurrentStage()
	if err := m.RequestTransition(cur); err != nil {
		return nil, err
	}

	var validators []validate.Validator
	for _, vc := range o.cfg.Validators[cur.String()] {
		validators = append(validators, validate.NewCommandValidator(vc.Name, vc.Command, vc.ParseTimeout(), o.runner))
	}
	results, err := validate.RunAll(ctx, o.cfg.Workdir, validators)
	if err != nil {
		// Cancelled mid-run: commit nothing beyond the validating marker.
		return nil, err
	}
	for _, r := range results {
		_ = o.db.LogValidationRun(id, cur.String(), r.Validator, r.Passed, r.TimedOut, r.DurationMs, r.Summary)
	}
	passed, verrs := validate.Merge(results)

	retryCount := 0
	if rec := m.State().Record(cur); rec != nil {
		retryCount = rec.RetryCount
	}
	vr := gate.ValidationResult{
		Passed:     passed,
		Errors:     verrs,
		RetryCount: retryCount,
	}
	// A stage with a configured rework destination recycles on repeat
	// failure instead of burning retries in place.
	if !passed {
		if target, ok := o.cfg.RecycleTarget(cur); ok {
			vr.RequiresRework = true
			vr.RecycleTarget = target
		}
	}
	ac := gate.AmbientContext{
		RequiresHumanDecision: opts.HumanDecisionPending,
		EstimatedCost:         opts.EstimatedCost,
		BudgetThreshold:       o.cfg.Budget.DailyCostLimit,
		BudgetHalted:          o.tracker.Check() == budget.LevelHalt,
		RiskScore:             opts.RiskScore,
		Abandoned:             opts.Abandon,
		TimedOut:              o.timedOut(ps),
		Actor:                 actorIdentity(),
	}

	ev, err := m.Decide(cur, vr, ac)
	if err != nil {
		return nil, err
	}

	// A passing gate locks its artifact checksum before persisting, so the
	// drift detector watches it from the moment it is trusted.
	if ev.Decided && ev.Decision.Kind == gate.DecisionGo {
		if _, err := detector.Lock(cur); err != nil {
			return nil, fmt.Errorf("lock checksum: %w", err)
		}
	}
	if err := o.store.Save(m.State()); err != nil {
		return nil, err
	}

	res := &AdvanceResult{ID: id, Stage: cur.String(), Reasons: ev.Reasons, CanRetry: ev.CanRetry}
	switch {
	case ev.Decided:
		res.Action = string(ev.Decision.Kind)
		if ev.Decision.Kind == gate.DecisionGo && m.State().Completed {
			res.Action = "completed"
		}
		o.notifyDecision(id, cur, ev.Decision)
		if ev.Decision.Kind == gate.DecisionGo {
			if err := o.saveSnapshot(id, m.State()); err != nil {
				return nil, err
			}
		}
		if m.State().Killed || m.State().Completed {
			o.contexts.Unpin(id)
		}
	case ev.Status == gate.StatusPendingReview:
		res.Action = "pending_review"
	default:
		res.Action = "blocked"
		o.notify(event.Event{
			Type: event.TypeBlocked, WorkItem: id, Stage: cur.String(),
			Reason: firstReason(ev.Reasons),
		})
	}
	return res, nil
}

// Status returns the persisted state and the current budget view.
func (o *Orchestrator) Status(id string) (*gate.PipelineState, budget.Status, error) {
	ps, err := o.store.Get(id)
	if err != nil {
		return nil, budget.Status{}, err
	}
	return ps, o.tracker.Status(), nil
}

// List returns all work items.
func (o *Orchestrator) List() ([]gate.PipelineState, error) {
	return o.store.List()
}

// Reset returns a work item to the initial stage. Confirmation is required;
// without it nothing changes.
func (o *Orchestrator) Reset(id string, confirm bool) error {
	err := o.store.Update(id, func(ps *gate.PipelineState) error {
		return gate.NewMachine(ps, o.gateCfg).Reset(confirm)
	})
	if err != nil {
		return err
	}
	o.notify(event.Event{Type: event.TypeReset, WorkItem: id, Stage: gate.Research.String()})
	return nil
}

// Review resolves a pending human review on a stage gate.
func (o *Orchestrator) Review(id string, stage gate.Stage, outcome gate.ReviewOutcome, reviewer string) error {
	err := o.store.Update(id, func(ps *gate.PipelineState) error {
		return gate.NewMachine(ps, o.gateCfg).ResolveReview(stage, outcome, reviewer)
	})
	if err != nil {
		return err
	}
	o.notify(event.Event{
		Type: event.TypeReview, WorkItem: id, Stage: stage.String(),
		Reason: fmt.Sprintf("%s by %s", outcome, reviewer),
	})
	return nil
}

// Rollback manually rolls a completed-or-paused stage back for redoing.
func (o *Orchestrator) Rollback(id string, stage gate.Stage, reason string) (*gate.RollbackResult, error) {
	var res gate.RollbackResult
	err := o.store.Update(id, func(ps *gate.PipelineState) error {
		var rerr error
		res, rerr = gate.NewMachine(ps, o.gateCfg).Rollback(stage, gate.TriggerManual, reason)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	o.notify(event.Event{
		Type: event.TypeRollback, WorkItem: id, Stage: stage.String(),
		Reason: reason, AffectedStages: stageNames(res.Affected),
	})
	return &res, nil
}

// RecordUsage accumulates token and cost usage against the shared budget,
// persisting the window and logging the sample. Crossing into halt emits a
// budget_halt event; usage recorded after a halt fails with ErrBudgetHalt.
func (o *Orchestrator) RecordUsage(id string, stage gate.Stage, tokens int, cost float64) (budget.Level, error) {
	level, err := o.tracker.RecordUsage(tokens, cost)
	if err != nil {
		if errors.Is(err, budget.ErrBudgetHalt) {
			o.notify(event.Event{Type: event.TypeBudgetHalt, WorkItem: id, Stage: stage.String(), Reason: "budget limit reached"})
		}
		return level, err
	}
	if err := pipeline.WriteJSON(o.store.BudgetPath(), o.tracker.Snapshot()); err != nil {
		return level, fmt.Errorf("persist budget window: %w", err)
	}
	_ = o.db.LogUsage(id, stage.String(), tokens, cost)
	if level == budget.LevelHalt {
		o.notify(event.Event{Type: event.TypeBudgetHalt, WorkItem: id, Stage: stage.String(), Reason: "budget limit reached"})
	}
	return level, nil
}

// saveSnapshot prunes the work item's context and persists it for the next
// stage to consume.
func (o *Orchestrator) saveSnapshot(id string, ps *gate.PipelineState) error {
	full := prune.Snapshot{
		CurrentStage: ps.CurrentStage.String(),
		WorkItems: []prune.WorkItem{{
			ID:     ps.ID,
			Title:  ps.Title,
			Status: itemStatus(ps),
			Stage:  ps.CurrentStage.String(),
		}},
		StageDetail: make(map[string]string),
	}
	for _, h := range ps.History {
		full.Decisions = append(full.Decisions, prune.DecisionEntry{
			Stage:    h.Stage.String(),
			Decision: string(h.Status),
			Reason:   h.Reason,
			At:       h.EnteredAt.Format(time.RFC3339),
		})
		if h.Reason != "" {
			full.StageDetail[h.Stage.String()] = h.Reason
		}
	}
	res := o.pruner.Prune(full)
	if err := o.store.SaveSnapshot(id, res.Snapshot); err != nil {
		return err
	}
	// Active items stay pinned so the snapshot the next stage operates on
	// survives eviction pressure from other work items.
	o.contexts.Pin(id)
	if data, err := json.Marshal(res.Snapshot); err == nil {
		_ = o.contexts.Put(id, data)
	}
	return nil
}

// Context returns the pruned snapshot the next stage should operate on,
// served through the bounded cache. A cache over its ceiling with every
// entry pinned still serves the content.
func (o *Orchestrator) Context(id string) (*prune.Snapshot, error) {
	data, err := o.contexts.Get(id)
	if err != nil && !errors.Is(err, cache.ErrCapacityExceededAllPinned) {
		return nil, err
	}
	var snap prune.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode context snapshot: %w", err)
	}
	return &snap, nil
}

func (o *Orchestrator) notifyDecision(id string, stage gate.Stage, d gate.Decision) {
	ev := event.Event{WorkItem: id, Stage: stage.String()}
	switch d.Kind {
	case gate.DecisionGo:
		ev.Type = event.TypeGo
	case gate.DecisionKill:
		ev.Type = event.TypeKill
		ev.Reason = d.Reason
	case gate.DecisionHold:
		ev.Type = event.TypeHold
		ev.Reason = firstReason(d.Reasons)
	case gate.DecisionRecycle:
		ev.Type = event.TypeRecycle
		ev.Reason = fmt.Sprintf("recycled to %s", d.Target)
		ev.AffectedStages = stageNames(d.Target.After())
	}
	o.notify(ev)
}

func (o *Orchestrator) notify(ev event.Event) {
	if o.notifier == nil {
		return
	}
	ev.Timestamp = o.now().UTC()
	_ = o.notifier.Notify(ev)
}

// timedOut reports whether the work item has exceeded the configured global
// deadline, measured from creation.
func (o *Orchestrator) timedOut(ps *gate.PipelineState) bool {
	d := o.cfg.GlobalTimeout()
	return d > 0 && o.now().Sub(ps.CreatedAt) > d
}

func itemStatus(ps *gate.PipelineState) string {
	switch {
	case ps.Completed:
		return "completed"
	case ps.Killed:
		return "failed"
	default:
		return "in_progress"
	}
}

func stageNames(stages []gate.Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.String()
	}
	return names
}

func firstReason(reasons []string) string {
	if len(reasons) > 0 {
		return reasons[0]
	}
	return ""
}

func actorIdentity() string {
	if v := os.Getenv("GATEWRIGHT_ACTOR"); v != "" {
		return v
	}
	host, err := os.Hostname()
	if err != nil {
		return "local"
	}
	return host
}
