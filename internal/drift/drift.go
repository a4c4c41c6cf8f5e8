// Package drift detects when the artifacts a stage gate was validated
// against change after the gate locked. A drifted gate is untrusted: the
// detector can invalidate it and everything downstream so the pipeline
// re-earns those gates instead of building on stale approvals.
package drift

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/gatewright/gatewright/internal/gate"
)

// ArtifactSource yields the current contents of the artifacts a stage
// depends on, keyed by a stable name (usually a path).
type ArtifactSource interface {
	Artifacts(stage gate.Stage) (map[string][]byte, error)
}

// Report is the outcome of a drift check for one stage.
type Report struct {
	Stage   gate.Stage `json:"stage"`
	Drifted bool       `json:"drifted"`
	Stored  string     `json:"stored"`  // checksum recorded when the gate locked
	Current string     `json:"current"` // checksum of the artifacts right now
}

// Detector compares locked gate checksums against the live artifacts.
type Detector struct {
	machine *gate.Machine
	source  ArtifactSource
}

// NewDetector wires a detector to a gate machine and an artifact source.
func NewDetector(m *gate.Machine, src ArtifactSource) *Detector {
	return &Detector{machine: m, source: src}
}

// Checksum computes the canonical digest of a set of artifacts. Names are
// sorted and both names and contents are length-prefixed, so the digest is
// insensitive to map order and immune to concatenation ambiguity.
func Checksum(artifacts map[string][]byte) string {
	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	var lenBuf [8]byte
	for _, name := range names {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(name)))
		h.Write(lenBuf[:])
		h.Write([]byte(name))
		content := artifacts[name]
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(content)))
		h.Write(lenBuf[:])
		h.Write(content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Lock records the current artifact checksum for a stage, arming drift
// detection for it.
func (d *Detector) Lock(stage gate.Stage) (string, error) {
	artifacts, err := d.source.Artifacts(stage)
	if err != nil {
		return "", fmt.Errorf("read artifacts for %s: %w", stage, err)
	}
	sum := Checksum(artifacts)
	if err := d.machine.LockChecksum(stage, sum); err != nil {
		return "", err
	}
	return sum, nil
}

// Check compares a stage's locked checksum against the artifacts as they
// are now. A stage with no locked checksum never drifts.
func (d *Detector) Check(stage gate.Stage) (Report, error) {
	stored := d.machine.Checksum(stage)
	rep := Report{Stage: stage, Stored: stored}
	if stored == "" {
		return rep, nil
	}

	artifacts, err := d.source.Artifacts(stage)
	if err != nil {
		return rep, fmt.Errorf("read artifacts for %s: %w", stage, err)
	}
	rep.Current = Checksum(artifacts)
	rep.Drifted = rep.Current != stored
	return rep, nil
}

// CheckAll checks every locked stage up to and including the pipeline's
// current stage, returning the drifted reports in stage order.
func (d *Detector) CheckAll() ([]Report, error) {
	current := d.machine.CurrentStage()
	var drifted []Report
	for _, s := range gate.Stages() {
		if s > current {
			break
		}
		rep, err := d.Check(s)
		if err != nil {
			return drifted, err
		}
		if rep.Drifted {
			drifted = append(drifted, rep)
		}
	}
	return drifted, nil
}

// AutoFix invalidates a drifted stage and its downstream gates. The earliest
// drifted stage should be fixed first; its cascade covers later drift.
func (d *Detector) AutoFix(rep Report) ([]gate.Stage, error) {
	if !rep.Drifted {
		return nil, fmt.Errorf("stage %s has not drifted", rep.Stage)
	}
	return d.machine.Invalidate(rep.Stage, fmt.Sprintf("artifacts changed after lock (was %.12s, now %.12s)", rep.Stored, rep.Current))
}

// FileSource reads stage artifacts from configured file paths. Missing
// files hash as absent rather than failing, so deleting a locked artifact
// registers as drift instead of an error.
type FileSource struct {
	// Paths maps each stage to the files its gate depends on.
	Paths map[gate.Stage][]string
}

func (f *FileSource) Artifacts(stage gate.Stage) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for _, path := range f.Paths[stage] {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		out[path] = data
	}
	return out, nil
}
