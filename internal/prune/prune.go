// Package prune reduces a full project-state snapshot to the essential
// subset a pipeline stage needs, under a size target. It keeps a fixed
// allow-list of fields and discards everything else; the result for a large
// realistic snapshot is at least 30% smaller by estimated token count.
package prune

import (
	"sort"

	"github.com/gatewright/gatewright/internal/token"
)

// DecisionEntry is one historical gate decision in a snapshot.
type DecisionEntry struct {
	Stage    string `json:"stage"`
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
	At       string `json:"at,omitempty"`
}

// WorkItem is a unit of work tracked by the orchestrator.
type WorkItem struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	Status     string `json:"status"` // "in_progress", "completed", "failed"
	Stage      string `json:"stage,omitempty"`
	Detail     string `json:"detail,omitempty"`
	SessionLog string `json:"session_log,omitempty"`
}

// FileRef points at a project file with a relevance score assigned upstream.
type FileRef struct {
	Path      string  `json:"path"`
	Relevance float64 `json:"relevance"`
	Summary   string  `json:"summary,omitempty"`
}

// Snapshot is the project state handed to a pipeline stage. The same type
// describes both the full and the pruned form, so downstream consumers never
// see a second schema.
type Snapshot struct {
	CurrentStage string            `json:"current_stage"`
	Decisions    []DecisionEntry   `json:"decisions,omitempty"`
	WorkItems    []WorkItem        `json:"work_items,omitempty"`
	Files        []FileRef         `json:"files,omitempty"`
	StageDetail  map[string]string `json:"stage_detail,omitempty"` // verbose per-stage output
	Extra        map[string]string `json:"extra,omitempty"`        // anything callers tacked on
}

// Options bounds the pruned snapshot.
type Options struct {
	MaxDecisions int // recent decision history entries to keep
	MaxFiles     int // most-relevant file references to keep
}

// DefaultOptions match the pipeline defaults.
func DefaultOptions() Options {
	return Options{MaxDecisions: 10, MaxFiles: 20}
}

// Pruner reduces snapshots under the configured bounds.
type Pruner struct {
	opts Options
}

// New creates a Pruner. Zero-valued options fall back to defaults.
func New(opts Options) *Pruner {
	def := DefaultOptions()
	if opts.MaxDecisions <= 0 {
		opts.MaxDecisions = def.MaxDecisions
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = def.MaxFiles
	}
	return &Pruner{opts: opts}
}

// Result reports what pruning achieved.
type Result struct {
	Snapshot     Snapshot
	TokensBefore int
	TokensAfter  int
}

// Prune keeps the allow-list (current stage, recent decisions, in-progress
// work item identifiers, the most relevant files) and drops the rest:
// completed-stage detail, verbose history, session logs, ad hoc extras.
// An empty input yields an empty-but-valid snapshot.
func (p *Pruner) Prune(full Snapshot) Result {
	before := token.Estimate(full)

	out := Snapshot{CurrentStage: full.CurrentStage}

	// Recent decisions only, order preserved.
	if n := len(full.Decisions); n > 0 {
		keep := p.opts.MaxDecisions
		if keep > n {
			keep = n
		}
		out.Decisions = append(out.Decisions, full.Decisions[n-keep:]...)
	}

	// In-progress work items survive as bare identifiers; completed and
	// failed items carry no information a forward stage needs.
	for _, wi := range full.WorkItems {
		if wi.Status != "in_progress" {
			continue
		}
		out.WorkItems = append(out.WorkItems, WorkItem{
			ID:     wi.ID,
			Status: wi.Status,
			Stage:  wi.Stage,
		})
	}

	// Most relevant files, capped. Sort is stable so equal scores keep
	// their input order.
	if len(full.Files) > 0 {
		files := make([]FileRef, len(full.Files))
		copy(files, full.Files)
		sort.SliceStable(files, func(i, j int) bool {
			return files[i].Relevance > files[j].Relevance
		})
		if len(files) > p.opts.MaxFiles {
			files = files[:p.opts.MaxFiles]
		}
		for i := range files {
			files[i].Summary = "" // summaries are regenerated per stage
		}
		out.Files = files
	}

	return Result{
		Snapshot:     out,
		TokensBefore: before,
		TokensAfter:  token.Estimate(out),
	}
}
