package config

import (
	"time"

	"github.com/gatewright/gatewright/internal/budget"
	"github.com/gatewright/gatewright/internal/gate"
	"github.com/gatewright/gatewright/internal/prune"
)

// Config is the top-level structure parsed from gatewright YAML.
type Config struct {
	Engine     Engine                 `yaml:"engine"`
	Budget     Budget                 `yaml:"budget"`
	Cache      Cache                  `yaml:"cache"`
	Prune      Prune                  `yaml:"prune"`
	Validators map[string][]Validator `yaml:"validators"` // keyed by stage name
	Artifacts  map[string][]string    `yaml:"artifacts"`  // drift-watched files per stage
	Workdir    string                 `yaml:"workdir"`
}

// Engine tunes the gate decision policy.
type Engine struct {
	MaxRetries       int                  `yaml:"max_retries"`
	RiskCeiling      float64              `yaml:"risk_ceiling"`
	CostHoldFraction float64              `yaml:"cost_hold_fraction"`
	GlobalTimeout    string               `yaml:"global_timeout"` // Go duration; work items older than this are killed
	Stages           map[string]StageGate `yaml:"stages"`         // overrides keyed by stage name
}

// StageGate overrides the gate policy for one stage.
type StageGate struct {
	ReviewGate        bool   `yaml:"review_gate"`
	IndependentReview bool   `yaml:"independent_review"`
	HoldAllowed       *bool  `yaml:"hold_allowed"`   // nil keeps the stage default
	RecycleTarget     string `yaml:"recycle_target"` // earlier stage to recycle to on repeat failure
}

// Budget caps spend: a rolling per-minute token window and a daily cost
// window. Zero values mean unlimited.
type Budget struct {
	TokensPerMinute int     `yaml:"tokens_per_minute"`
	DailyCostLimit  float64 `yaml:"daily_cost_limit"`
	AlertThreshold  float64 `yaml:"alert_threshold"`
}

// Cache bounds the pinned-aware context cache.
type Cache struct {
	MaxTokens int `yaml:"max_tokens"`
}

// Prune bounds what the context pruner keeps.
type Prune struct {
	MaxDecisions int `yaml:"max_decisions"`
	MaxFiles     int `yaml:"max_files"`
}

// Validator defines one external check wired to a stage's gate.
type Validator struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	Timeout string `yaml:"timeout"` // Go duration string, e.g. "2m"
}

// ParseTimeout returns the validator timeout, or zero when unset or
// unparseable (the runner applies its own default then).
func (v Validator) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(v.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// GlobalTimeout returns the work item deadline, or zero when unset or
// unparseable (Validate reports bad durations).
func (c *Config) GlobalTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.GlobalTimeout)
	if err != nil {
		return 0
	}
	return d
}

// RecycleTarget returns the configured rework destination for a stage. The
// second return is false when the stage has none or the name does not parse.
func (c *Config) RecycleTarget(s gate.Stage) (gate.Stage, bool) {
	sg, ok := c.Engine.Stages[s.String()]
	if !ok || sg.RecycleTarget == "" {
		return 0, false
	}
	target, err := gate.ParseStage(sg.RecycleTarget)
	if err != nil || target >= s {
		return 0, false
	}
	return target, true
}

// GateConfig converts the engine section into the decision engine's policy,
// layering per-stage overrides on top of the stock defaults.
func (c *Config) GateConfig() gate.Config {
	cfg := gate.DefaultConfig()
	if c.Engine.MaxRetries > 0 {
		cfg.MaxRetries = c.Engine.MaxRetries
	}
	if c.Engine.RiskCeiling > 0 {
		cfg.RiskCeiling = c.Engine.RiskCeiling
	}
	if c.Engine.CostHoldFraction > 0 {
		cfg.CostHoldFraction = c.Engine.CostHoldFraction
	}
	for name, sg := range c.Engine.Stages {
		s, err := gate.ParseStage(name)
		if err != nil {
			continue // Validate reports unknown stage names
		}
		g := cfg.Stages[s]
		g.ReviewGate = sg.ReviewGate
		g.IndependentReview = sg.IndependentReview
		if sg.HoldAllowed != nil {
			g.HoldAllowed = *sg.HoldAllowed
		}
		cfg.Stages[s] = g
	}
	return cfg
}

// BudgetLimits converts the budget section into tracker limits.
func (c *Config) BudgetLimits() budget.Limits {
	return budget.Limits{
		TokensPerMinute: c.Budget.TokensPerMinute,
		DailyCostLimit:  c.Budget.DailyCostLimit,
		AlertThreshold:  c.Budget.AlertThreshold,
	}
}

// PruneOptions converts the prune section into pruner options.
func (c *Config) PruneOptions() prune.Options {
	return prune.Options{
		MaxDecisions: c.Prune.MaxDecisions,
		MaxFiles:     c.Prune.MaxFiles,
	}
}

// ArtifactPaths converts the artifacts section into per-stage path lists,
// dropping entries whose stage name does not parse.
func (c *Config) ArtifactPaths() map[gate.Stage][]string {
	out := make(map[gate.Stage][]string, len(c.Artifacts))
	for name, paths := range c.Artifacts {
		s, err := gate.ParseStage(name)
		if err != nil {
			continue
		}
		out[s] = paths
	}
	return out
}
