package gate

import (
	"fmt"
	"sync"
	"time"
)

// Machine is the sequential pipeline controller for one work item. It owns
// the PipelineState and serializes every decide-and-mutate sequence behind a
// single mutex: two racing transition requests can never both observe a
// stale current stage. Independent work items get independent Machines and
// run fully in parallel.
type Machine struct {
	mu    sync.Mutex
	state *PipelineState
	cfg   Config
	now   func() time.Time
}

// NewMachine wraps an existing pipeline state (fresh or loaded from the
// store) with the given decision policy.
func NewMachine(state *PipelineState, cfg Config) *Machine {
	if cfg.Stages == nil {
		cfg = DefaultConfig()
	}
	return &Machine{state: state, cfg: cfg, now: time.Now}
}

// SetClock overrides the wall clock (for testing).
func (m *Machine) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// State returns the underlying pipeline state for persistence. Callers must
// not mutate it; all mutation goes through Machine methods.
func (m *Machine) State() *PipelineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a deep-enough copy of the state for read-only display.
func (m *Machine) Snapshot() PipelineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.state
	cp.Records = make([]*GateRecord, len(m.state.Records))
	for i, r := range m.state.Records {
		if r != nil {
			rc := *r
			cp.Records[i] = &rc
		}
	}
	cp.History = append([]GateRecord(nil), m.state.History...)
	return cp
}

// CurrentStage returns the pipeline's current stage.
func (m *Machine) CurrentStage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CurrentStage
}

// GetDrift reports whether the pipeline has drifted from where the caller
// believes it should be. Callers that track their own expected stage use
// this to detect divergence before acting.
func (m *Machine) GetDrift(expected Stage) (drifted bool, current Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CurrentStage != expected, m.state.CurrentStage
}

// RequestTransition validates a request to begin validating targetStage.
// Only the current stage (idempotent re-validation) or the immediately next
// stage is accepted; anything else fails with *SequenceViolationError and no
// state change. A killed pipeline rejects all transitions with ErrKilled.
func (m *Machine) RequestTransition(target Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Killed {
		return ErrKilled
	}
	if !target.ValidStage() {
		return fmt.Errorf("invalid stage %d", int(target))
	}

	cur := m.state.CurrentStage
	if target != cur && target != cur+1 {
		return &SequenceViolationError{
			Current: cur,
			Target:  target,
			Skipped: Between(cur, target),
		}
	}

	rec := m.state.Records[target]
	if rec == nil {
		rec = &GateRecord{Stage: target, EnteredAt: m.now().UTC()}
		m.state.Records[target] = rec
	}
	rec.Status = StatusValidating
	rec.Reason = ""
	m.appendHistory(rec)
	return nil
}

// Decide runs the decision algorithm for the given stage and applies the
// outcome, all under one lock. Precedence is fixed: kill criteria, then hold
// criteria, then recycle, then go / pending-review, otherwise blocked.
func (m *Machine) Decide(stage Stage, vr ValidationResult, ac AmbientContext) (Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Killed {
		return Evaluation{}, ErrKilled
	}
	if stage != m.state.CurrentStage {
		return Evaluation{}, &StageMismatchError{Requested: stage, Current: m.state.CurrentStage}
	}

	rec := m.ensureRecord(stage)
	if ac.Actor != "" {
		rec.Actor = ac.Actor
	}
	gateCfg := m.cfg.gate(stage)

	// 1. Kill first; kill never competes with hold.
	for _, kc := range killCriteria {
		if kc.triggered(vr, ac, m.cfg) {
			d := Kill(kc.reason)
			if err := m.recordDecisionLocked(stage, d); err != nil {
				return Evaluation{}, err
			}
			return Evaluation{Decided: true, Decision: d, Status: StatusKilled, Reasons: []string{kc.reason}}, nil
		}
	}

	// 2. Hold. At stages where holds are forbidden, a triggered hold
	// criterion degrades to Blocked so the condition still stops the gate.
	var holdReasons []string
	for _, hc := range holdCriteria {
		if hc.triggered(ac, m.cfg) {
			holdReasons = append(holdReasons, hc.reason(ac, m.cfg))
		}
	}
	if len(holdReasons) > 0 {
		if gateCfg.HoldAllowed {
			d := Hold(holdReasons...)
			if err := m.recordDecisionLocked(stage, d); err != nil {
				return Evaluation{}, err
			}
			return Evaluation{Decided: true, Decision: d, Status: StatusHold, Reasons: holdReasons}, nil
		}
		rec.Status = StatusBlocked
		rec.Reason = "hold forbidden at this stage: " + holdReasons[0]
		m.appendHistory(rec)
		return Evaluation{
			Status:   StatusBlocked,
			Reasons:  holdReasons,
			CanRetry: rec.RetryCount < m.cfg.MaxRetries,
		}, nil
	}

	// 3. Rework that already burned a retry goes back, not forward.
	if vr.RequiresRework && vr.RetryCount > 0 {
		d := RecycleTo(vr.RecycleTarget)
		if err := m.recordDecisionLocked(stage, d); err != nil {
			return Evaluation{}, err
		}
		return Evaluation{Decided: true, Decision: d, Status: StatusRecycle}, nil
	}

	if vr.Passed {
		// 5. A configured review gate withholds the automatic decision.
		if gateCfg.ReviewGate {
			rec.Status = StatusPendingReview
			rec.Reason = "awaiting human review"
			m.appendHistory(rec)
			return Evaluation{Status: StatusPendingReview}, nil
		}
		// 4. Clean pass, no review gate.
		d := Go()
		if err := m.recordDecisionLocked(stage, d); err != nil {
			return Evaluation{}, err
		}
		return Evaluation{Decided: true, Decision: d, Status: StatusReady}, nil
	}

	// 6. Failed validation: blocked, retryable while under the cap.
	rec.Status = StatusBlocked
	rec.RetryCount++
	rec.Reason = firstOr(vr.Errors, "validation failed")
	m.appendHistory(rec)
	return Evaluation{
		Status:   StatusBlocked,
		CanRetry: rec.RetryCount < m.cfg.MaxRetries,
		Reasons:  vr.Errors,
	}, nil
}

// RecordDecision applies an externally produced decision to a stage.
func (m *Machine) RecordDecision(stage Stage, d Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Killed {
		return ErrKilled
	}
	if stage != m.state.CurrentStage {
		return &StageMismatchError{Requested: stage, Current: m.state.CurrentStage}
	}
	return m.recordDecisionLocked(stage, d)
}

// recordDecisionLocked applies a decision. Callers must hold m.mu.
func (m *Machine) recordDecisionLocked(stage Stage, d Decision) error {
	rec := m.ensureRecord(stage)

	switch d.Kind {
	case DecisionGo:
		rec.Status = StatusReady
		rec.RetryCount = 0
		rec.Reason = ""
		m.appendHistory(rec)
		if next, ok := stage.Next(); ok {
			m.state.CurrentStage = next
			nrec := m.state.Records[next]
			if nrec == nil {
				nrec = &GateRecord{Stage: next, EnteredAt: m.now().UTC()}
				m.state.Records[next] = nrec
				nrec.Status = StatusIdle
				m.appendHistory(nrec)
			}
		} else {
			m.state.Completed = true
		}
		return nil

	case DecisionKill:
		rec.Status = StatusKilled
		rec.Reason = d.Reason
		m.state.Killed = true
		m.appendHistory(rec)
		return nil

	case DecisionHold:
		if !m.cfg.gate(stage).HoldAllowed {
			return ErrHoldNotAllowed
		}
		rec.Status = StatusHold
		rec.Reason = firstOr(d.Reasons, "hold")
		// No advance, no regression, no retry penalty.
		m.appendHistory(rec)
		return nil

	case DecisionRecycle:
		if !d.Target.ValidStage() || d.Target >= stage {
			return fmt.Errorf("recycle target %s is not earlier than %s", d.Target, stage)
		}
		rec.Status = StatusRecycle
		rec.Reason = fmt.Sprintf("recycled to %s", d.Target)
		m.appendHistory(rec)

		m.state.RecycleCount++
		m.state.CurrentStage = d.Target
		// The only sanctioned backward movement: invalidate the target's
		// dependents so nothing downstream stays trusted.
		m.invalidateLocked(d.Target, StatusIdle, fmt.Sprintf("recycled from %s", stage))
		return nil
	}
	return fmt.Errorf("unknown decision kind %q", d.Kind)
}

// ResolveReview resolves a PendingReview stage. Approved and bypassed both
// record Go; rejected records Kill. Stages configured for independent
// verification refuse a reviewer identical to the producing actor.
func (m *Machine) ResolveReview(stage Stage, outcome ReviewOutcome, reviewer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Killed {
		return ErrKilled
	}
	rec := m.state.Record(stage)
	if rec == nil || rec.Status != StatusPendingReview {
		return ErrNotPendingReview
	}
	if m.cfg.gate(stage).IndependentReview && reviewer != "" && reviewer == rec.Actor {
		return ErrSelfReview
	}

	switch outcome {
	case ReviewApproved, ReviewBypassed:
		return m.recordDecisionLocked(stage, Go())
	case ReviewRejected:
		return m.recordDecisionLocked(stage, Kill(fmt.Sprintf("review rejected by %s", reviewer)))
	}
	return fmt.Errorf("unknown review outcome %q", outcome)
}

// ReviewOutcome is the resolution of a human review.
type ReviewOutcome string

const (
	ReviewApproved ReviewOutcome = "approved"
	ReviewRejected ReviewOutcome = "rejected"
	ReviewBypassed ReviewOutcome = "bypassed"
)

// Reset returns the pipeline to the initial stage. It refuses to run without
// confirmation. History is preserved in full for audit; only the live
// records, retry counters and kill flag clear.
func (m *Machine) Reset(confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	m.state.CurrentStage = Research
	m.state.Killed = false
	m.state.Completed = false
	m.state.LockedAt = nil
	m.state.Records = make([]*GateRecord, NumStages)

	rec := &GateRecord{Stage: Research, Status: StatusIdle, EnteredAt: now, Reason: "reset"}
	m.state.Records[Research] = rec
	m.appendHistory(rec)
	return nil
}

// LockChecksum stores the checksum of the inputs a stage was validated
// against, marking the lock time. Drift detection later compares against it.
func (m *Machine) LockChecksum(stage Stage, sum string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.state.Record(stage)
	if rec == nil {
		return fmt.Errorf("stage %s has no gate record to lock", stage)
	}
	rec.Checksum = sum
	now := m.now().UTC()
	m.state.LockedAt = &now
	m.appendHistory(rec)
	return nil
}

// Checksum returns the stored lock checksum for a stage.
func (m *Machine) Checksum(stage Stage) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec := m.state.Record(stage); rec != nil {
		return rec.Checksum
	}
	return ""
}

// ensureRecord returns the stage's record, creating it if the stage was
// never entered. Callers must hold m.mu.
func (m *Machine) ensureRecord(stage Stage) *GateRecord {
	rec := m.state.Records[stage]
	if rec == nil {
		rec = &GateRecord{Stage: stage, Status: StatusIdle, EnteredAt: m.now().UTC()}
		m.state.Records[stage] = rec
	}
	return rec
}

// appendHistory appends a copy of rec to the audit history and bumps the
// state's modification time. Callers must hold m.mu.
func (m *Machine) appendHistory(rec *GateRecord) {
	m.state.History = append(m.state.History, *rec)
	m.state.UpdatedAt = m.now().UTC()
}

func firstOr(ss []string, fallback string) string {
	if len(ss) > 0 {
		return ss[0]
	}
	return fallback
}
