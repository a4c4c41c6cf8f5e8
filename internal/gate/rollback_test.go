package gate

import (
	"errors"
	"testing"
)

func TestCanRollback(t *testing.T) {
	m := newTestMachine(t, noReviewConfig())
	advanceTo(t, m, Branch)

	// Earlier stages finished with Ready; those roll back.
	if ok, st := m.CanRollback(Plan); !ok {
		t.Fatalf("cannot roll back plan (status %s)", st)
	}
	// The current stage is still Idle; a stage never finished does not.
	if ok, _ := m.CanRollback(Branch); ok {
		t.Fatal("rolled back an idle stage")
	}
	if ok, _ := m.CanRollback(Validate); ok {
		t.Fatal("rolled back a stage never entered")
	}
}

func TestRollback_BlocksDownstreamAndRegresses(t *testing.T) {
	m := newTestMachine(t, noReviewConfig())
	advanceTo(t, m, Implement)

	res, err := m.Rollback(Plan, TriggerManual, "requirements changed")
	if err != nil {
		t.Fatal(err)
	}
	if res.Stage != Plan || res.Trigger != TriggerManual {
		t.Fatalf("result = %+v", res)
	}
	want := Plan.After()
	if len(res.Affected) != len(want) {
		t.Fatalf("affected = %v, want %v", res.Affected, want)
	}

	st := m.State()
	if st.CurrentStage != Plan {
		t.Fatalf("current stage = %s, want plan", st.CurrentStage)
	}
	if rec := st.Record(Plan); rec.Status != StatusIdle || rec.Checksum != "" {
		t.Fatalf("rollback target record = %+v", rec)
	}
	for _, s := range want {
		rec := st.Record(s)
		if rec == nil {
			t.Fatalf("no record created for downstream stage %s", s)
		}
		if rec.Status != StatusBlocked {
			t.Fatalf("stage %s status = %s, want blocked", s, rec.Status)
		}
	}
}

func TestRollback_RefusedMidFlight(t *testing.T) {
	m := newTestMachine(t, noReviewConfig())
	advanceTo(t, m, Plan)
	if err := m.RequestTransition(Plan); err != nil {
		t.Fatal(err)
	}
	// Plan is validating now.
	if _, err := m.Rollback(Plan, TriggerManual, "nope"); err == nil {
		t.Fatal("rolled back a validating stage")
	}
}

func TestRollback_KilledPipeline(t *testing.T) {
	m := newTestMachine(t, noReviewConfig())
	advanceTo(t, m, Branch)
	if err := m.RecordDecision(Branch, Kill("abandoned")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Rollback(Plan, TriggerManual, ""); !errors.Is(err, ErrKilled) {
		t.Fatalf("rollback on killed pipeline: %v, want ErrKilled", err)
	}
}

func TestInvalidate_DriftCascade(t *testing.T) {
	// Scenario: drift detected at plan while the pipeline sits at implement.
	// The plan gate and everything after it become untrusted, and the
	// pipeline regresses to re-earn them.
	m := newTestMachine(t, noReviewConfig())
	advanceTo(t, m, Implement)
	if err := m.LockChecksum(Plan, "sum-before-edit"); err != nil {
		t.Fatal(err)
	}

	affected, err := m.Invalidate(Plan, "plan artifacts changed after lock")
	if err != nil {
		t.Fatal(err)
	}
	if len(affected) != len(Plan.After()) {
		t.Fatalf("affected = %v", affected)
	}

	st := m.State()
	if st.CurrentStage != Plan {
		t.Fatalf("current stage = %s, want plan", st.CurrentStage)
	}
	prec := st.Record(Plan)
	if prec.Status != StatusBlocked {
		t.Fatalf("invalidated stage status = %s, want blocked", prec.Status)
	}
	if prec.Checksum != "" {
		t.Fatal("stale checksum survived invalidation")
	}
	for _, s := range affected {
		if rec := st.Record(s); rec == nil || rec.Status != StatusBlocked {
			t.Fatalf("downstream stage %s not blocked", s)
		}
	}
	// Re-validation resumes at the invalidated stage only.
	if err := m.RequestTransition(Plan); err != nil {
		t.Fatalf("re-validate invalidated stage: %v", err)
	}
	if err := m.RequestTransition(Implement); err == nil {
		t.Fatal("skipped ahead past invalidated gates")
	}
}

func TestInvalidate_LastStageHasEmptyBlastRadius(t *testing.T) {
	m := newTestMachine(t, noReviewConfig())
	advanceTo(t, m, MergeDeploy)

	affected, err := m.Invalidate(MergeDeploy, "deploy inputs changed")
	if err != nil {
		t.Fatal(err)
	}
	if len(affected) != 0 {
		t.Fatalf("affected = %v, want none", affected)
	}
}
