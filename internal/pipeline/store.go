// Package pipeline persists per-work-item gate state as JSON on disk.
// Layout under the base directory:
//
//	pipelines/<id>/state.json     gate machine state
//	pipelines/<id>/snapshot.json  latest pruned context snapshot
//	budget.json                   shared budget window (one per install)
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gatewright/gatewright/internal/gate"
)

// Store manages work item state on disk.
type Store struct {
	baseDir string // defaults to ~/.gatewright
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.gatewright, creating the directory if
// needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".gatewright")
	if err := os.MkdirAll(filepath.Join(dir, "pipelines"), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// BudgetPath is where the shared budget window lives.
func (s *Store) BudgetPath() string {
	return filepath.Join(s.baseDir, "budget.json")
}

// DBPath is where the SQLite event log lives.
func (s *Store) DBPath() string {
	return filepath.Join(s.baseDir, "gatewright.db")
}

func (s *Store) itemDir(id string) string {
	return filepath.Join(s.baseDir, "pipelines", id)
}

func (s *Store) statePath(id string) string {
	return filepath.Join(s.itemDir(id), "state.json")
}

func (s *Store) snapshotPath(id string) string {
	return filepath.Join(s.itemDir(id), "snapshot.json")
}

// Create initialises a new work item pipeline on disk.
func (s *Store) Create(id, title string) (*gate.PipelineState, error) {
	dir := s.itemDir(id)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("work item %s already exists", id)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	ps := gate.NewPipelineState(id, title)
	if err := WriteJSON(s.statePath(id), ps); err != nil {
		return nil, fmt.Errorf("write state.json: %w", err)
	}
	return ps, nil
}

// Get reads the pipeline state for a work item.
func (s *Store) Get(id string) (*gate.PipelineState, error) {
	var ps gate.PipelineState
	if err := ReadJSON(s.statePath(id), &ps); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("work item %s not found", id)
		}
		return nil, err
	}
	return &ps, nil
}

// Save writes the pipeline state back to disk.
func (s *Store) Save(ps *gate.PipelineState) error {
	ps.UpdatedAt = time.Now().UTC()
	return WriteJSON(s.statePath(ps.ID), ps)
}

// Update applies fn to the stored state for a work item and writes the
// result back. If fn errors, nothing is persisted.
func (s *Store) Update(id string, fn func(*gate.PipelineState) error) error {
	ps, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := fn(ps); err != nil {
		return err
	}
	return s.Save(ps)
}

// List returns all work item states, newest first. Entries that fail to
// parse are skipped rather than failing the whole listing.
func (s *Store) List() ([]gate.PipelineState, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "pipelines"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var items []gate.PipelineState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ps, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		items = append(items, *ps)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// Delete removes all data for a work item.
func (s *Store) Delete(id string) error {
	dir := s.itemDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("work item %s not found", id)
	}
	return os.RemoveAll(dir)
}

// SaveSnapshot writes the latest pruned context snapshot for a work item.
func (s *Store) SaveSnapshot(id string, snap any) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return WriteJSON(s.snapshotPath(id), snap)
}

// GetSnapshot reads the latest pruned context snapshot into out.
func (s *Store) GetSnapshot(id string, out any) error {
	return ReadJSON(s.snapshotPath(id), out)
}

// SnapshotBytes reads the raw snapshot file for a work item, for callers
// that cache or forward it without decoding.
func (s *Store) SnapshotBytes(id string) ([]byte, error) {
	data, err := os.ReadFile(s.snapshotPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no context snapshot for work item %s", id)
		}
		return nil, err
	}
	return data, nil
}
