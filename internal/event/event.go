// Package event defines the notification stream emitted by the gate
// engine: kills, holds, blocks, rollbacks and budget halts. Consumers
// subscribe through the Notifier interface; the engine never blocks on a
// slow consumer decision, it just fans out and moves on.
package event

import (
	"fmt"
	"io"
	"time"
)

// Type classifies a pipeline event.
type Type string

const (
	TypeCreated    Type = "created"
	TypeKill       Type = "kill"
	TypeHold       Type = "hold"
	TypeBlocked    Type = "blocked"
	TypeGo         Type = "go"
	TypeRecycle    Type = "recycle"
	TypeRollback   Type = "rollback"
	TypeDrift      Type = "drift"
	TypeBudgetHalt Type = "budget_halt"
	TypeReset      Type = "reset"
	TypeReview     Type = "review"
)

// Event is one notable pipeline occurrence.
type Event struct {
	Type           Type      `json:"type"`
	WorkItem       string    `json:"work_item"`
	Stage          string    `json:"stage,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	AffectedStages []string  `json:"affected_stages,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Notifier receives pipeline events. Implementations must tolerate being
// called from multiple goroutines.
type Notifier interface {
	Notify(ev Event) error
}

// Multi fans an event out to several notifiers, returning the first error
// after all have been attempted.
type Multi []Notifier

func (m Multi) Notify(ev Event) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Writer logs events as single lines to an io.Writer, for CLI progress
// output and tests.
type Writer struct {
	W io.Writer
}

func (w *Writer) Notify(ev Event) error {
	line := fmt.Sprintf("[%s] %s %s", ev.Type, ev.WorkItem, ev.Stage)
	if ev.Reason != "" {
		line += ": " + ev.Reason
	}
	_, err := fmt.Fprintln(w.W, line)
	return err
}

// Func adapts a function to the Notifier interface.
type Func func(ev Event) error

func (f Func) Notify(ev Event) error { return f(ev) }
