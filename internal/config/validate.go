package config

import (
	"fmt"
	"time"

	"github.com/gatewright/gatewright/internal/gate"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Engine.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "engine.max_retries", Message: "must not be negative"})
	}
	if cfg.Engine.RiskCeiling < 0 || cfg.Engine.RiskCeiling > 1 {
		errs = append(errs, ValidationError{Field: "engine.risk_ceiling", Message: "must be between 0 and 1"})
	}
	if cfg.Engine.CostHoldFraction < 0 || cfg.Engine.CostHoldFraction > 1 {
		errs = append(errs, ValidationError{Field: "engine.cost_hold_fraction", Message: "must be between 0 and 1"})
	}
	if cfg.Engine.GlobalTimeout != "" {
		if _, err := time.ParseDuration(cfg.Engine.GlobalTimeout); err != nil {
			errs = append(errs, ValidationError{
				Field:   "engine.global_timeout",
				Message: fmt.Sprintf("invalid duration %q", cfg.Engine.GlobalTimeout),
			})
		}
	}
	for name, sg := range cfg.Engine.Stages {
		s, err := gate.ParseStage(name)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "engine.stages." + name,
				Message: "unknown stage name",
			})
			continue
		}
		if sg.RecycleTarget == "" {
			continue
		}
		target, err := gate.ParseStage(sg.RecycleTarget)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "engine.stages." + name + ".recycle_target",
				Message: "unknown stage name",
			})
		} else if target >= s {
			errs = append(errs, ValidationError{
				Field:   "engine.stages." + name + ".recycle_target",
				Message: fmt.Sprintf("%s is not earlier than %s", target, s),
			})
		}
	}

	if cfg.Budget.TokensPerMinute < 0 {
		errs = append(errs, ValidationError{Field: "budget.tokens_per_minute", Message: "must not be negative"})
	}
	if cfg.Budget.DailyCostLimit < 0 {
		errs = append(errs, ValidationError{Field: "budget.daily_cost_limit", Message: "must not be negative"})
	}
	if cfg.Budget.AlertThreshold < 0 || cfg.Budget.AlertThreshold > 1 {
		errs = append(errs, ValidationError{Field: "budget.alert_threshold", Message: "must be between 0 and 1"})
	}

	if cfg.Cache.MaxTokens < 0 {
		errs = append(errs, ValidationError{Field: "cache.max_tokens", Message: "must not be negative"})
	}
	if cfg.Prune.MaxDecisions < 0 {
		errs = append(errs, ValidationError{Field: "prune.max_decisions", Message: "must not be negative"})
	}
	if cfg.Prune.MaxFiles < 0 {
		errs = append(errs, ValidationError{Field: "prune.max_files", Message: "must not be negative"})
	}

	for stageName := range cfg.Validators {
		if _, err := gate.ParseStage(stageName); err != nil {
			errs = append(errs, ValidationError{
				Field:   "validators." + stageName,
				Message: "unknown stage name",
			})
		}
		seen := make(map[string]bool)
		for i, v := range cfg.Validators[stageName] {
			prefix := fmt.Sprintf("validators.%s[%d]", stageName, i)
			if v.Name == "" {
				errs = append(errs, ValidationError{Field: prefix + ".name", Message: "is required"})
			}
			if v.Command == "" {
				errs = append(errs, ValidationError{Field: prefix + ".command", Message: "is required"})
			}
			if v.Name != "" && seen[v.Name] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".name",
					Message: fmt.Sprintf("duplicate validator name %q", v.Name),
				})
			}
			seen[v.Name] = true
			if v.Timeout != "" {
				if _, err := time.ParseDuration(v.Timeout); err != nil {
					errs = append(errs, ValidationError{
						Field:   prefix + ".timeout",
						Message: fmt.Sprintf("invalid duration %q", v.Timeout),
					})
				}
			}
		}
	}

	for stageName := range cfg.Artifacts {
		if _, err := gate.ParseStage(stageName); err != nil {
			errs = append(errs, ValidationError{
				Field:   "artifacts." + stageName,
				Message: "unknown stage name",
			})
		}
	}

	return errs
}
