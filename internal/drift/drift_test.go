package drift

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gatewright/gatewright/internal/gate"
)

// mapSource serves artifacts from memory.
type mapSource struct {
	artifacts map[gate.Stage]map[string][]byte
}

func (m *mapSource) Artifacts(stage gate.Stage) (map[string][]byte, error) {
	return m.artifacts[stage], nil
}

func testMachine(t *testing.T) *gate.Machine {
	t.Helper()
	cfg := gate.DefaultConfig()
	for s, g := range cfg.Stages {
		g.ReviewGate = false
		g.IndependentReview = false
		cfg.Stages[s] = g
	}
	return gate.NewMachine(gate.NewPipelineState("wi-drift", "drift test"), cfg)
}

func advanceTo(t *testing.T, m *gate.Machine, target gate.Stage) {
	t.Helper()
	for m.CurrentStage() < target {
		cur := m.CurrentStage()
		if err := m.RequestTransition(cur); err != nil {
			t.Fatal(err)
		}
		if err := m.RecordDecision(cur, gate.Go()); err != nil {
			t.Fatal(err)
		}
	}
}

func TestChecksum_OrderInsensitive(t *testing.T) {
	a := map[string][]byte{"a.md": []byte("alpha"), "b.md": []byte("beta")}
	b := map[string][]byte{"b.md": []byte("beta"), "a.md": []byte("alpha")}
	if Checksum(a) != Checksum(b) {
		t.Fatal("checksum depends on map order")
	}
}

func TestChecksum_NoConcatenationAmbiguity(t *testing.T) {
	// "ab"+"c" vs "a"+"bc" must differ.
	a := map[string][]byte{"x": []byte("ab"), "y": []byte("c")}
	b := map[string][]byte{"x": []byte("a"), "y": []byte("bc")}
	if Checksum(a) == Checksum(b) {
		t.Fatal("length prefixing failed")
	}
	if Checksum(nil) == Checksum(a) {
		t.Fatal("empty set collides")
	}
}

func TestCheck_NoLockNoDrift(t *testing.T) {
	m := testMachine(t)
	d := NewDetector(m, &mapSource{})

	rep, err := d.Check(gate.Research)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Drifted {
		t.Fatal("unlocked stage reported drift")
	}
}

func TestLockAndCheck(t *testing.T) {
	m := testMachine(t)
	src := &mapSource{artifacts: map[gate.Stage]map[string][]byte{
		gate.Plan: {"plan.md": []byte("v1")},
	}}
	d := NewDetector(m, src)
	advanceTo(t, m, gate.TestFirst)

	sum, err := d.Lock(gate.Plan)
	if err != nil {
		t.Fatal(err)
	}
	if sum == "" {
		t.Fatal("empty checksum")
	}

	rep, err := d.Check(gate.Plan)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Drifted {
		t.Fatal("unchanged artifacts reported drift")
	}

	// Mutate the artifact.
	src.artifacts[gate.Plan]["plan.md"] = []byte("v2")
	rep, err = d.Check(gate.Plan)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Drifted {
		t.Fatal("changed artifacts not reported as drift")
	}
	if rep.Stored == rep.Current {
		t.Fatal("report carries identical checksums for drifted stage")
	}
}

func TestAutoFix_CascadesDownstream(t *testing.T) {
	// Plan's artifacts change while the pipeline sits at implement. AutoFix
	// must block plan and everything after it, and regress the pipeline.
	m := testMachine(t)
	src := &mapSource{artifacts: map[gate.Stage]map[string][]byte{
		gate.Plan: {"plan.md": []byte("v1")},
	}}
	d := NewDetector(m, src)
	advanceTo(t, m, gate.Implement)
	if _, err := d.Lock(gate.Plan); err != nil {
		t.Fatal(err)
	}

	src.artifacts[gate.Plan]["plan.md"] = []byte("v2")
	rep, err := d.Check(gate.Plan)
	if err != nil {
		t.Fatal(err)
	}
	affected, err := d.AutoFix(rep)
	if err != nil {
		t.Fatal(err)
	}
	if len(affected) != len(gate.Plan.After()) {
		t.Fatalf("affected = %v", affected)
	}
	if m.CurrentStage() != gate.Plan {
		t.Fatalf("current stage = %s, want plan", m.CurrentStage())
	}
	st := m.State()
	if rec := st.Record(gate.Plan); rec.Status != gate.StatusBlocked || rec.Checksum != "" {
		t.Fatalf("plan record = %+v", rec)
	}
	for _, s := range affected {
		if rec := st.Record(s); rec == nil || rec.Status != gate.StatusBlocked {
			t.Fatalf("downstream %s not blocked", s)
		}
	}

	// A clean report cannot be auto-fixed.
	if _, err := d.AutoFix(Report{Stage: gate.Plan}); err == nil {
		t.Fatal("AutoFix accepted a non-drifted report")
	}
}

func TestCheckAll_ReturnsDriftedInOrder(t *testing.T) {
	m := testMachine(t)
	src := &mapSource{artifacts: map[gate.Stage]map[string][]byte{
		gate.Research: {"notes.md": []byte("r1")},
		gate.Plan:     {"plan.md": []byte("p1")},
	}}
	d := NewDetector(m, src)
	advanceTo(t, m, gate.Branch)
	if _, err := d.Lock(gate.Research); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Lock(gate.Plan); err != nil {
		t.Fatal(err)
	}

	src.artifacts[gate.Research]["notes.md"] = []byte("r2")
	src.artifacts[gate.Plan]["plan.md"] = []byte("p2")

	drifted, err := d.CheckAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(drifted) != 2 {
		t.Fatalf("drifted = %v", drifted)
	}
	if drifted[0].Stage != gate.Research || drifted[1].Stage != gate.Plan {
		t.Fatalf("drift order = %v, %v", drifted[0].Stage, drifted[1].Stage)
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.md")
	if err := os.WriteFile(planPath, []byte("the plan"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := &FileSource{Paths: map[gate.Stage][]string{
		gate.Plan: {planPath, filepath.Join(dir, "missing.md")},
	}}
	artifacts, err := src.Artifacts(gate.Plan)
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("artifacts = %v", artifacts)
	}
	if string(artifacts[planPath]) != "the plan" {
		t.Fatalf("content = %q", artifacts[planPath])
	}

	// Deleting a locked artifact changes the checksum.
	before := Checksum(artifacts)
	if err := os.Remove(planPath); err != nil {
		t.Fatal(err)
	}
	after, err := src.Artifacts(gate.Plan)
	if err != nil {
		t.Fatal(err)
	}
	if Checksum(after) == before {
		t.Fatal("deletion did not change checksum")
	}
}
