package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gatewright/gatewright/internal/gate"
	"github.com/gatewright/gatewright/internal/prune"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	ps, err := s.Create("wi-42", "Add widget")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ps.ID != "wi-42" {
		t.Errorf("ID = %q, want wi-42", ps.ID)
	}
	if ps.CurrentStage != gate.Research {
		t.Errorf("CurrentStage = %s, want research", ps.CurrentStage)
	}
	if len(ps.History) != 1 {
		t.Errorf("initial history length = %d, want 1", len(ps.History))
	}

	// Round-trip through disk.
	got, err := s.Get("wi-42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != ps.ID || got.Title != ps.Title || got.CurrentStage != ps.CurrentStage {
		t.Errorf("round-trip mismatch: %+v vs %+v", got, ps)
	}
	if got.Record(gate.Research) == nil {
		t.Error("research record lost in round-trip")
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("wi-1", "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("wi-1", "again"); err == nil {
		t.Fatal("duplicate create succeeded")
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("nope"); err == nil {
		t.Fatal("Get on missing item succeeded")
	}
}

func TestSavePersistsMutations(t *testing.T) {
	s := newTestStore(t)
	ps, err := s.Create("wi-7", "save test")
	if err != nil {
		t.Fatal(err)
	}

	m := gate.NewMachine(ps, gate.DefaultConfig())
	if err := m.RequestTransition(gate.Research); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordDecision(gate.Research, gate.Go()); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(m.State()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get("wi-7")
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentStage != gate.Plan {
		t.Errorf("persisted stage = %s, want plan", got.CurrentStage)
	}
	if len(got.History) < 3 {
		t.Errorf("history length = %d after two mutations", len(got.History))
	}
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("wi-u", "update test"); err != nil {
		t.Fatal(err)
	}

	err := s.Update("wi-u", func(ps *gate.PipelineState) error {
		ps.Title = "renamed"
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := s.Get("wi-u")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "renamed" {
		t.Errorf("title = %q", got.Title)
	}

	// A failing fn must not persist anything.
	err = s.Update("wi-u", func(ps *gate.PipelineState) error {
		ps.Title = "half-done"
		return os.ErrInvalid
	})
	if err == nil {
		t.Fatal("Update with failing fn succeeded")
	}
	got, _ = s.Get("wi-u")
	if got.Title != "renamed" {
		t.Errorf("failed update persisted: title = %q", got.Title)
	}

	if err := s.Update("wi-missing", func(*gate.PipelineState) error { return nil }); err == nil {
		t.Fatal("Update on missing item succeeded")
	}
}

func TestListNewestFirstAndSkipsBroken(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"wi-a", "wi-b"} {
		if _, err := s.Create(id, id); err != nil {
			t.Fatal(err)
		}
	}
	// A corrupt entry must not break listing.
	broken := filepath.Join(s.BaseDir(), "pipelines", "wi-broken")
	if err := os.MkdirAll(broken, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(broken, "state.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("List returned %d items, want 2", len(items))
	}
}

func TestListEmpty(t *testing.T) {
	s := newTestStore(t)
	items, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if items != nil {
		t.Fatalf("List on empty store = %v", items)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("wi-del", "doomed"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("wi-del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("wi-del"); err == nil {
		t.Fatal("Get succeeded after Delete")
	}
	if err := s.Delete("wi-del"); err == nil {
		t.Fatal("second Delete succeeded")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("wi-s", "snap"); err != nil {
		t.Fatal(err)
	}

	snap := prune.Snapshot{
		CurrentStage: gate.Implement.String(),
		WorkItems:    []prune.WorkItem{{ID: "wi-s", Status: "in_progress"}},
	}
	if err := s.SaveSnapshot("wi-s", snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	var got prune.Snapshot
	if err := s.GetSnapshot("wi-s", &got); err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got.CurrentStage != snap.CurrentStage || len(got.WorkItems) != 1 {
		t.Errorf("snapshot round-trip = %+v", got)
	}

	// Snapshots require an existing work item.
	if err := s.SaveSnapshot("wi-missing", snap); err == nil {
		t.Fatal("SaveSnapshot for missing item succeeded")
	}

	raw, err := s.SnapshotBytes("wi-s")
	if err != nil {
		t.Fatalf("SnapshotBytes: %v", err)
	}
	if len(raw) == 0 {
		t.Error("empty raw snapshot")
	}
	if _, err := s.SnapshotBytes("wi-missing"); err == nil {
		t.Fatal("SnapshotBytes for missing item succeeded")
	}
}

func TestWriteAtomicOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b.json")
	if err := WriteAtomic(path, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := WriteAtomic(path, []byte("two")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "two" {
		t.Fatalf("content = %q", data)
	}
	// No temp droppings left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("leftover files: %v", entries)
	}
}
