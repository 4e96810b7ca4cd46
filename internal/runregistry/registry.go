// Package runregistry tracks the current pipeline run and its cancellation
// flag so that workers in any process can stop cooperatively.
package runregistry

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of a run record.
type State string

// Run states.
const (
	StateRunning   State = "running"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s != StateRunning
}

var (
	// ErrRunInProgress is returned by Begin while another run is running.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = errors.New("run not found")
)

// Record is the bookkeeping entry for one run.
type Record struct {
	RunID        string    `json:"run_id"`
	State        State     `json:"state"`
	Cancelled    bool      `json:"cancelled"`
	Error        string    `json:"error,omitempty"`
	FannedOut    bool      `json:"fanned_out"`
	Branches     int       `json:"branches"`
	BranchesDone int       `json:"branches_done"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Registry stores run records. The most recently begun run is the current
// one until another run begins.
type Registry interface {
	// Begin records runID as the running current run.
	Begin(ctx context.Context, runID string, at time.Time) error
	// Current returns the current run, if any run was ever begun.
	Current(ctx context.Context) (Record, bool, error)
	// Get returns the record for runID.
	Get(ctx context.Context, runID string) (Record, bool, error)
	// SetBranches records how many branch tasks the run fanned out. A run
	// whose branches are all done completes.
	SetBranches(ctx context.Context, runID string, n int, at time.Time) error
	// BranchDone counts one finished branch of runID.
	BranchDone(ctx context.Context, runID string, at time.Time) error
	// Cancel flags runID as cancelled and stopped.
	Cancel(ctx context.Context, runID string, at time.Time) error
	// Finish moves a running run into a terminal state. A run that was
	// already stopped keeps its state.
	Finish(ctx context.Context, runID string, state State, errText string, at time.Time) error
	// IsCancelled reports whether runID was cancelled. Unknown runs are
	// reported as not cancelled.
	IsCancelled(ctx context.Context, runID string) (bool, error)
}

// ApplyFinish returns rec moved into state unless it was already terminal.
func ApplyFinish(rec Record, state State, errText string, at time.Time) Record {
	if rec.State.Terminal() {
		return rec
	}
	rec.State = state
	rec.Error = errText
	rec.UpdatedAt = at
	return rec
}

// ApplyCancel returns rec flagged cancelled. Only running runs change state.
func ApplyCancel(rec Record, at time.Time) Record {
	rec.Cancelled = true
	if rec.State == StateRunning {
		rec.State = StateStopped
	}
	rec.UpdatedAt = at
	return rec
}

// ApplyBranches returns rec with the fan-out width recorded.
func ApplyBranches(rec Record, n int, at time.Time) Record {
	rec.FannedOut = true
	rec.Branches = n
	rec.UpdatedAt = at
	return completeIfDone(rec)
}

// ApplyBranchDone returns rec with one more finished branch.
func ApplyBranchDone(rec Record, at time.Time) Record {
	rec.BranchesDone++
	rec.UpdatedAt = at
	return completeIfDone(rec)
}

func completeIfDone(rec Record) Record {
	if rec.State == StateRunning && rec.FannedOut && rec.BranchesDone >= rec.Branches {
		rec.State = StateCompleted
	}
	return rec
}
