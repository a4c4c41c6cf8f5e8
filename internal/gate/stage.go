package gate

import (
	"encoding/json"
	"fmt"
)

// Stage is one ordered phase of the development pipeline. Stages are totally
// ordered; forward movement happens one stage at a time.
type Stage int

const (
	Research Stage = iota
	Plan
	TestFirst
	Branch
	Implement
	Refactor
	SafetyCheck
	Validate
	MergeDeploy
)

// NumStages is the length of the fixed stage ordering.
const NumStages = int(MergeDeploy) + 1

var stageNames = [NumStages]string{
	"research",
	"plan",
	"test_first",
	"branch",
	"implement",
	"refactor",
	"safety_check",
	"validate",
	"merge_deploy",
}

// String returns the canonical lowercase stage name.
func (s Stage) String() string {
	if !s.ValidStage() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ValidStage reports whether s is one of the nine pipeline stages.
func (s Stage) ValidStage() bool {
	return s >= Research && s <= MergeDeploy
}

// Next returns the following stage, or false at the end of the pipeline.
func (s Stage) Next() (Stage, bool) {
	if s >= MergeDeploy {
		return s, false
	}
	return s + 1, true
}

// After returns every stage strictly later than s in pipeline order.
func (s Stage) After() []Stage {
	var out []Stage
	for t := s + 1; t <= MergeDeploy; t++ {
		out = append(out, t)
	}
	return out
}

// Between returns the stages strictly between from and to, in order.
// Used to report skipped stages on a sequence violation.
func Between(from, to Stage) []Stage {
	var out []Stage
	for t := from + 1; t < to; t++ {
		out = append(out, t)
	}
	return out
}

// ParseStage converts a canonical stage name back to its Stage.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// Stages returns all stages in pipeline order.
func Stages() []Stage {
	out := make([]Stage, NumStages)
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}

// MarshalJSON serializes the stage as its canonical name so persisted state
// stays readable and stable across reorderings of the constant block.
func (s Stage) MarshalJSON() ([]byte, error) {
	if !s.ValidStage() {
		return nil, fmt.Errorf("marshal invalid stage %d", int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a canonical stage name.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStage(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
