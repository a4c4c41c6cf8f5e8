package analytics

import (
	"testing"

	"github.com/gatewright/gatewright/internal/db"
	"github.com/gatewright/gatewright/internal/event"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func seedEvents(t *testing.T, d *db.DB, events []event.Event) {
	t.Helper()
	for _, ev := range events {
		if err := d.Notify(ev); err != nil {
			t.Fatal(err)
		}
	}
}

func TestQueryDecisionBreakdown(t *testing.T) {
	d := testDB(t)
	seedEvents(t, d, []event.Event{
		{Type: event.TypeGo, WorkItem: "a", Stage: "research"},
		{Type: event.TypeGo, WorkItem: "b", Stage: "research"},
		{Type: event.TypeBlocked, WorkItem: "c", Stage: "research"},
		{Type: event.TypeKill, WorkItem: "c", Stage: "implement"},
		{Type: event.TypeHold, WorkItem: "a", Stage: "implement"},
		{Type: event.TypeRecycle, WorkItem: "b", Stage: "implement"},
		// Non-decision events must not pollute the breakdown.
		{Type: event.TypeCreated, WorkItem: "d", Stage: "research"},
		{Type: event.TypeDrift, WorkItem: "a", Stage: "plan"},
	})

	results, err := QueryDecisionBreakdown(d, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d stages, want 2: %+v", len(results), results)
	}

	// Sorted by stage name: implement before research.
	impl := results[0]
	if impl.Stage != "implement" || impl.Total != 3 {
		t.Fatalf("implement = %+v", impl)
	}
	if impl.Kill != 1 || impl.Hold != 1 || impl.Recycle != 1 {
		t.Errorf("implement counts = %+v", impl)
	}
	if impl.KillPct < 33.0 || impl.KillPct > 33.5 {
		t.Errorf("kill pct = %f", impl.KillPct)
	}

	res := results[1]
	if res.Stage != "research" || res.Go != 2 || res.Blocked != 1 {
		t.Errorf("research = %+v", res)
	}
}

func TestQueryDecisionBreakdown_Empty(t *testing.T) {
	d := testDB(t)
	results, err := QueryDecisionBreakdown(d, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %+v", results)
	}
}

func TestQueryValidatorStats(t *testing.T) {
	d := testDB(t)
	runs := []struct {
		item, stage, validator string
		passed, timedOut       bool
		ms                     int
	}{
		{"a", "implement", "unit-tests", true, false, 4000},
		{"a", "implement", "unit-tests", false, false, 6000},
		{"b", "implement", "unit-tests", true, false, 5000},
		{"a", "safety_check", "audit", false, true, 60000},
	}
	for _, r := range runs {
		if err := d.LogValidationRun(r.item, r.stage, r.validator, r.passed, r.timedOut, r.ms, ""); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := QueryValidatorStats(d, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	ut := stats[0]
	if ut.Validator != "unit-tests" || ut.Runs != 3 {
		t.Fatalf("unit-tests = %+v", ut)
	}
	if ut.PassPct < 66.0 || ut.PassPct > 67.0 {
		t.Errorf("pass pct = %f", ut.PassPct)
	}
	if ut.AvgMs != 5000 {
		t.Errorf("avg ms = %f", ut.AvgMs)
	}

	audit := stats[1]
	if audit.TimeoutPct != 100 {
		t.Errorf("audit timeout pct = %f", audit.TimeoutPct)
	}
}

func TestQueryBudgetSummary(t *testing.T) {
	d := testDB(t)
	if err := d.LogUsage("a", "research", 1000, 0.04); err != nil {
		t.Fatal(err)
	}
	if err := d.LogUsage("b", "implement", 2500, 0.10); err != nil {
		t.Fatal(err)
	}
	seedEvents(t, d, []event.Event{
		{Type: event.TypeBudgetHalt, WorkItem: "a", Stage: "research"},
		{Type: event.TypeGo, WorkItem: "a", Stage: "research"},
	})

	s, err := QueryBudgetSummary(d, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if s.TotalTokens != 3500 {
		t.Errorf("tokens = %d", s.TotalTokens)
	}
	if s.WorkItems != 2 {
		t.Errorf("work items = %d", s.WorkItems)
	}
	if s.Halts != 1 {
		t.Errorf("halts = %d", s.Halts)
	}
}

func TestQueryRecycleStats(t *testing.T) {
	d := testDB(t)
	seedEvents(t, d, []event.Event{
		{Type: event.TypeRecycle, WorkItem: "a", Stage: "refactor"},
		{Type: event.TypeRecycle, WorkItem: "b", Stage: "refactor"},
		{Type: event.TypeRecycle, WorkItem: "c", Stage: "validate"},
	})

	stats, err := QueryRecycleStats(d, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[0].Stage != "refactor" || stats[0].Count != 2 {
		t.Errorf("stats[0] = %+v", stats[0])
	}
}
