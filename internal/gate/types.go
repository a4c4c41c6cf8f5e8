package gate

import "time"

// Status is the lifecycle state of a stage's gate record.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusValidating    Status = "validating"
	StatusReady         Status = "ready"
	StatusHold          Status = "hold"
	StatusBlocked       Status = "blocked"
	StatusKilled        Status = "killed"
	StatusRecycle       Status = "recycle"
	StatusPendingReview Status = "pending_review"
)

// GateRecord tracks one stage's gate. The current record per stage is
// mutated on every transition attempt; a copy of the record is appended to
// the pipeline history on each mutation, and history is never truncated.
type GateRecord struct {
	Stage      Stage     `json:"stage"`
	Status     Status    `json:"status"`
	EnteredAt  time.Time `json:"entered_at"`
	Checksum   string    `json:"checksum,omitempty"`
	RetryCount int       `json:"retry_count"`
	Actor      string    `json:"actor,omitempty"`  // identity that produced the stage's work
	Reason     string    `json:"reason,omitempty"` // why the record is in its current status
}

// PipelineState is the full persisted state of one work item's pipeline.
// It is owned exclusively by a single Machine; callers hold a handle to the
// Machine, never to shared global state.
type PipelineState struct {
	ID           string        `json:"id"`
	Title        string        `json:"title,omitempty"`
	CurrentStage Stage         `json:"current_stage"`
	Records      []*GateRecord `json:"records"` // indexed by Stage; nil = never entered
	History      []GateRecord  `json:"history"` // append-only, never reordered
	LockedAt     *time.Time    `json:"locked_at"`
	Killed       bool          `json:"killed"`
	Completed    bool          `json:"completed"`
	RecycleCount int           `json:"recycle_count"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewPipelineState initializes a pipeline at the Research stage.
func NewPipelineState(id, title string) *PipelineState {
	now := time.Now().UTC()
	ps := &PipelineState{
		ID:           id,
		Title:        title,
		CurrentStage: Research,
		Records:      make([]*GateRecord, NumStages),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	rec := &GateRecord{Stage: Research, Status: StatusIdle, EnteredAt: now}
	ps.Records[Research] = rec
	ps.History = append(ps.History, *rec)
	return ps
}

// Record returns the current gate record for a stage, or nil if the stage
// was never entered.
func (ps *PipelineState) Record(s Stage) *GateRecord {
	if !s.ValidStage() || ps.Records == nil || int(s) >= len(ps.Records) {
		return nil
	}
	return ps.Records[s]
}
