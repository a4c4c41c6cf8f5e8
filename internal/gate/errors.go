package gate

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel failures. All are local, synchronous errors: the failing call
// mutates nothing and the caller retries with corrected input. ErrKilled is
// the exception, sticky until an explicit reset.
var (
	// ErrKilled means the pipeline was terminated by a Kill decision and
	// accepts no further transitions until reset(confirm=true).
	ErrKilled = errors.New("pipeline killed: reset required before further transitions")

	// ErrConfirmationRequired means reset was called without confirmation.
	ErrConfirmationRequired = errors.New("reset requires explicit confirmation")

	// ErrHoldNotAllowed means a Hold decision was recorded for a stage
	// configured to forbid holds (e.g. merge_deploy by default).
	ErrHoldNotAllowed = errors.New("hold not permitted at this stage")

	// ErrSelfReview means the reviewer resolving a pending review is the
	// same identity that produced the work, on a stage configured for
	// independent verification.
	ErrSelfReview = errors.New("independent verification required: reviewer produced this work")

	// ErrNotPendingReview means a review resolution was attempted on a
	// stage that is not awaiting review.
	ErrNotPendingReview = errors.New("stage is not pending review")
)

// SequenceViolationError reports an attempted non-adjacent transition,
// listing the stages the caller tried to skip.
type SequenceViolationError struct {
	Current Stage
	Target  Stage
	Skipped []Stage
}

func (e *SequenceViolationError) Error() string {
	if e.Target < e.Current {
		return fmt.Sprintf("sequence violation: cannot move backward from %s to %s (use recycle or rollback)",
			e.Current, e.Target)
	}
	names := make([]string, len(e.Skipped))
	for i, s := range e.Skipped {
		names[i] = s.String()
	}
	return fmt.Sprintf("sequence violation: %s -> %s skips [%s]",
		e.Current, e.Target, strings.Join(names, ", "))
}

// StageMismatchError reports a decision recorded against a stage other than
// the pipeline's current stage.
type StageMismatchError struct {
	Requested Stage
	Current   Stage
}

func (e *StageMismatchError) Error() string {
	return fmt.Sprintf("decision for stage %s but pipeline is at %s", e.Requested, e.Current)
}
