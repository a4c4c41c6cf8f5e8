package gate

import (
	"fmt"
	"strings"
)

// DecisionKind discriminates the Decision variant.
type DecisionKind string

const (
	DecisionGo      DecisionKind = "go"
	DecisionKill    DecisionKind = "kill"
	DecisionHold    DecisionKind = "hold"
	DecisionRecycle DecisionKind = "recycle"
)

// Decision is the tagged-variant outcome of gate evaluation. Exactly one of
// the payload fields is meaningful for each kind; call sites switch on Kind
// exhaustively.
type Decision struct {
	Kind    DecisionKind `json:"kind"`
	Reason  string       `json:"reason,omitempty"`  // Kill
	Reasons []string     `json:"reasons,omitempty"` // Hold
	Target  Stage        `json:"target,omitempty"`  // Recycle
}

// Go approves advancement to the next stage.
func Go() Decision { return Decision{Kind: DecisionGo} }

// Kill terminates the work item. Terminal until an explicit reset.
func Kill(reason string) Decision { return Decision{Kind: DecisionKill, Reason: reason} }

// Hold pauses the stage pending more information; no retry penalty.
func Hold(reasons ...string) Decision { return Decision{Kind: DecisionHold, Reasons: reasons} }

// RecycleTo sends the pipeline back to an earlier stage for rework.
func RecycleTo(target Stage) Decision { return Decision{Kind: DecisionRecycle, Target: target} }

// Describe renders a decision for event payloads and logs.
func (d Decision) Describe() string {
	switch d.Kind {
	case DecisionGo:
		return "go"
	case DecisionKill:
		return fmt.Sprintf("kill: %s", d.Reason)
	case DecisionHold:
		return fmt.Sprintf("hold: %s", strings.Join(d.Reasons, "; "))
	case DecisionRecycle:
		return fmt.Sprintf("recycle to %s", d.Target)
	}
	return string(d.Kind)
}

// ValidationResult is the structured outcome of the external validators run
// for a stage. Replaces the loosely-typed dictionaries of the original
// system with one explicit shape.
type ValidationResult struct {
	Passed         bool
	Errors         []string
	RetryCount     int
	RequiresRework bool
	RecycleTarget  Stage
}

// AmbientContext carries the surrounding conditions the decision engine
// weighs alongside the validation result.
type AmbientContext struct {
	RequiresHumanDecision bool
	EstimatedCost         float64
	BudgetThreshold       float64
	BudgetHalted          bool
	RiskScore             float64
	Abandoned             bool // explicit operator abandonment signal
	TimedOut              bool // global work-item timeout elapsed
	Actor                 string
}

// StageGate is the per-stage gate configuration.
type StageGate struct {
	ReviewGate        bool // passing requires human review before Go
	IndependentReview bool // reviewer must differ from the producing actor
	HoldAllowed       bool
}

// Config tunes the decision engine.
type Config struct {
	MaxRetries       int
	RiskCeiling      float64 // hold when risk score exceeds this; <= 0 disables
	CostHoldFraction float64 // hold when estimated cost reaches this fraction of the budget threshold
	Stages           map[Stage]StageGate
}

// DefaultConfig returns the stock policy: three retries, holds everywhere
// except merge_deploy (no hold at launch, only go or kill there), human
// review with independent verification on safety_check and merge_deploy.
func DefaultConfig() Config {
	stages := make(map[Stage]StageGate, NumStages)
	for _, s := range Stages() {
		stages[s] = StageGate{HoldAllowed: true}
	}
	stages[SafetyCheck] = StageGate{ReviewGate: true, IndependentReview: true, HoldAllowed: true}
	stages[MergeDeploy] = StageGate{ReviewGate: true, IndependentReview: true, HoldAllowed: false}
	return Config{
		MaxRetries:       3,
		RiskCeiling:      0.8,
		CostHoldFraction: 0.8,
		Stages:           stages,
	}
}

func (c Config) gate(s Stage) StageGate {
	if g, ok := c.Stages[s]; ok {
		return g
	}
	return StageGate{HoldAllowed: true}
}

// killCriterion is a stateless terminal-abandon predicate. Kill always takes
// precedence over every other outcome.
type killCriterion struct {
	reason    string
	triggered func(vr ValidationResult, ac AmbientContext, cfg Config) bool
}

var killCriteria = []killCriterion{
	{
		reason: "max retries exceeded",
		triggered: func(vr ValidationResult, ac AmbientContext, cfg Config) bool {
			return cfg.MaxRetries > 0 && vr.RetryCount >= cfg.MaxRetries
		},
	},
	{
		reason: "explicitly abandoned",
		triggered: func(vr ValidationResult, ac AmbientContext, cfg Config) bool {
			return ac.Abandoned
		},
	},
	{
		reason: "global timeout elapsed",
		triggered: func(vr ValidationResult, ac AmbientContext, cfg Config) bool {
			return ac.TimedOut
		},
	},
}

// holdCriterion is a stateless pause predicate, evaluated only after no kill
// criterion fired.
type holdCriterion struct {
	reason    func(ac AmbientContext, cfg Config) string
	triggered func(ac AmbientContext, cfg Config) bool
}

var holdCriteria = []holdCriterion{
	{
		reason: func(AmbientContext, Config) string { return "required human decision missing" },
		triggered: func(ac AmbientContext, cfg Config) bool {
			return ac.RequiresHumanDecision
		},
	},
	{
		reason: func(ac AmbientContext, cfg Config) string {
			return fmt.Sprintf("estimated cost %.2f within %.0f%% of budget threshold %.2f",
				ac.EstimatedCost, cfg.CostHoldFraction*100, ac.BudgetThreshold)
		},
		triggered: func(ac AmbientContext, cfg Config) bool {
			frac := cfg.CostHoldFraction
			if frac <= 0 {
				frac = 0.8
			}
			return ac.BudgetThreshold > 0 && ac.EstimatedCost >= frac*ac.BudgetThreshold
		},
	},
	{
		reason: func(ac AmbientContext, cfg Config) string {
			return fmt.Sprintf("risk score %.2f above ceiling %.2f", ac.RiskScore, cfg.RiskCeiling)
		},
		triggered: func(ac AmbientContext, cfg Config) bool {
			return cfg.RiskCeiling > 0 && ac.RiskScore > cfg.RiskCeiling
		},
	},
	{
		reason: func(AmbientContext, Config) string { return "budget halted" },
		triggered: func(ac AmbientContext, cfg Config) bool {
			return ac.BudgetHalted
		},
	},
}

// Evaluation is the applied outcome of a Decide call. When Decided is false
// the engine produced no automatic decision: the stage is PendingReview
// (awaiting a reviewer) or Blocked (failed, possibly retryable).
type Evaluation struct {
	Decided  bool
	Decision Decision
	Status   Status
	CanRetry bool
	Reasons  []string
}
