package gate

import (
	"fmt"
	"time"
)

// RollbackTrigger names what initiated a rollback.
type RollbackTrigger string

const (
	TriggerManual    RollbackTrigger = "manual"
	TriggerDrift     RollbackTrigger = "drift"
	TriggerValidator RollbackTrigger = "validator"
)

// RollbackResult records an applied rollback for event emission.
type RollbackResult struct {
	Stage    Stage           `json:"stage"`
	Trigger  RollbackTrigger `json:"trigger"`
	Reason   string          `json:"reason,omitempty"`
	Affected []Stage         `json:"affected"` // stages invalidated downstream
	At       time.Time       `json:"at"`
}

// rollbackFrom lists the statuses a stage may be rolled back out of. A
// validating or blocked stage is mid-flight; killed is terminal.
var rollbackFrom = map[Status]bool{
	StatusReady:         true,
	StatusHold:          true,
	StatusPendingReview: true,
}

// CanRollback reports whether the given stage may be rolled back, with the
// refusing status when it may not.
func (m *Machine) CanRollback(stage Stage) (bool, Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.state.Record(stage)
	if rec == nil {
		return false, StatusIdle
	}
	return rollbackFrom[rec.Status], rec.Status
}

// Rollback returns a completed-or-paused stage to Idle for redoing, blocking
// every later stage so stale downstream work is never trusted again. The
// current stage regresses to the rollback target.
func (m *Machine) Rollback(stage Stage, trigger RollbackTrigger, reason string) (RollbackResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Killed {
		return RollbackResult{}, ErrKilled
	}
	rec := m.state.Record(stage)
	if rec == nil {
		return RollbackResult{}, fmt.Errorf("cannot roll back %s: stage never entered", stage)
	}
	if !rollbackFrom[rec.Status] {
		return RollbackResult{}, fmt.Errorf("cannot roll back %s from status %s", stage, rec.Status)
	}

	affected := m.invalidateLocked(stage, StatusIdle, reason)
	if stage < m.state.CurrentStage {
		m.state.CurrentStage = stage
	}
	m.state.Completed = false

	return RollbackResult{
		Stage:    stage,
		Trigger:  trigger,
		Reason:   reason,
		Affected: affected,
		At:       m.now().UTC(),
	}, nil
}

// Invalidate marks a stage's gate untrusted after its locked inputs changed
// underneath it. The stage goes Blocked with its checksum cleared, every
// later stage goes Blocked, and the current stage regresses so the pipeline
// must re-earn the invalidated gates. Returns the downstream stages touched.
func (m *Machine) Invalidate(stage Stage, reason string) ([]Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Killed {
		return nil, ErrKilled
	}
	if !stage.ValidStage() {
		return nil, fmt.Errorf("invalid stage %d", int(stage))
	}

	affected := m.invalidateLocked(stage, StatusBlocked, reason)
	if stage < m.state.CurrentStage {
		m.state.CurrentStage = stage
	}
	m.state.Completed = false
	return affected, nil
}

// invalidateLocked resets the target stage to targetStatus with its checksum
// cleared, then blocks every later stage, creating records for stages never
// entered so the blast radius is fully explicit in state. Returns the later
// stages touched. Callers must hold m.mu.
func (m *Machine) invalidateLocked(target Stage, targetStatus Status, reason string) []Stage {
	now := m.now().UTC()

	rec := m.ensureRecord(target)
	rec.Status = targetStatus
	rec.Checksum = ""
	rec.Reason = reason
	m.appendHistory(rec)

	affected := target.After()
	for _, s := range affected {
		drec := m.state.Records[s]
		if drec == nil {
			drec = &GateRecord{Stage: s, EnteredAt: now}
			m.state.Records[s] = drec
		}
		drec.Status = StatusBlocked
		drec.Checksum = ""
		drec.Reason = fmt.Sprintf("invalidated: %s rolled back", target)
		m.appendHistory(drec)
	}
	return affected
}
