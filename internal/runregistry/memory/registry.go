// Package memory provides a process-local run registry.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/intel-archiver/internal/runregistry"
)

// Registry keeps run records in a map guarded by a mutex. Only the current
// run and the one before it are retained, so late branch completions of the
// previous run still land.
type Registry struct {
	mu      sync.RWMutex
	current string
	runs    map[string]runregistry.Record
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{runs: make(map[string]runregistry.Record)}
}

// Begin records runID as the running current run.
func (r *Registry) Begin(_ context.Context, runID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.runs[r.current]; ok && cur.State == runregistry.StateRunning {
		return runregistry.ErrRunInProgress
	}
	for id := range r.runs {
		if id != r.current {
			delete(r.runs, id)
		}
	}
	r.runs[runID] = runregistry.Record{
		RunID:     runID,
		State:     runregistry.StateRunning,
		StartedAt: at,
		UpdatedAt: at,
	}
	r.current = runID
	return nil
}

// Current returns the current run.
func (r *Registry) Current(_ context.Context) (runregistry.Record, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[r.current]
	return rec, ok, nil
}

// Get returns the record for runID.
func (r *Registry) Get(_ context.Context, runID string) (runregistry.Record, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[runID]
	return rec, ok, nil
}

// SetBranches records the fan-out width.
func (r *Registry) SetBranches(_ context.Context, runID string, n int, at time.Time) error {
	return r.update(runID, func(rec runregistry.Record) runregistry.Record {
		return runregistry.ApplyBranches(rec, n, at)
	})
}

// BranchDone counts one finished branch.
func (r *Registry) BranchDone(_ context.Context, runID string, at time.Time) error {
	return r.update(runID, func(rec runregistry.Record) runregistry.Record {
		return runregistry.ApplyBranchDone(rec, at)
	})
}

// Cancel flags runID as cancelled.
func (r *Registry) Cancel(_ context.Context, runID string, at time.Time) error {
	return r.update(runID, func(rec runregistry.Record) runregistry.Record {
		return runregistry.ApplyCancel(rec, at)
	})
}

// Finish moves runID into a terminal state.
func (r *Registry) Finish(_ context.Context, runID string, state runregistry.State, errText string, at time.Time) error {
	return r.update(runID, func(rec runregistry.Record) runregistry.Record {
		return runregistry.ApplyFinish(rec, state, errText, at)
	})
}

// IsCancelled reports the cancellation flag of runID.
func (r *Registry) IsCancelled(_ context.Context, runID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs[runID].Cancelled, nil
}

func (r *Registry) update(runID string, fn func(runregistry.Record) runregistry.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[runID]
	if !ok {
		return runregistry.ErrRunNotFound
	}
	r.runs[runID] = fn(rec)
	return nil
}
