// Package registrytest holds behaviour tests shared by run registry backends.
package registrytest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/intel-archiver/internal/runregistry"
)

// Run exercises a fresh Registry returned by newRegistry.
func Run(t *testing.T, newRegistry func(t *testing.T) runregistry.Registry) {
	t.Helper()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty registry", func(t *testing.T) {
		reg := newRegistry(t)
		_, found, err := reg.Current(context.Background())
		require.NoError(t, err)
		assert.False(t, found)

		cancelled, err := reg.IsCancelled(context.Background(), "unknown")
		require.NoError(t, err)
		assert.False(t, cancelled)

		require.ErrorIs(t, reg.Cancel(context.Background(), "unknown", t0), runregistry.ErrRunNotFound)
	})

	t.Run("begin rejects a second running run", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		require.NoError(t, reg.Begin(ctx, "run-1", t0))
		require.ErrorIs(t, reg.Begin(ctx, "run-2", t0), runregistry.ErrRunInProgress)

		cur, found, err := reg.Current(ctx)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "run-1", cur.RunID)
		assert.Equal(t, runregistry.StateRunning, cur.State)
		assert.True(t, cur.StartedAt.Equal(t0))
	})

	t.Run("cancel flags the run and finish keeps stopped", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		require.NoError(t, reg.Begin(ctx, "run-1", t0))
		require.NoError(t, reg.SetBranches(ctx, "run-1", 4, t0.Add(time.Second)))
		require.NoError(t, reg.Cancel(ctx, "run-1", t0.Add(2*time.Second)))

		cancelled, err := reg.IsCancelled(ctx, "run-1")
		require.NoError(t, err)
		assert.True(t, cancelled)

		require.NoError(t, reg.Finish(ctx, "run-1", runregistry.StateCompleted, "", t0.Add(3*time.Second)))
		rec, found, err := reg.Get(ctx, "run-1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, runregistry.StateStopped, rec.State)
		assert.Equal(t, 4, rec.Branches)

		require.NoError(t, reg.Begin(ctx, "run-2", t0.Add(4*time.Second)))
		cur, _, err := reg.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, "run-2", cur.RunID)
	})

	t.Run("finish records failure", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		require.NoError(t, reg.Begin(ctx, "run-1", t0))
		require.NoError(t, reg.Finish(ctx, "run-1", runregistry.StateFailed, "browser endpoint unavailable", t0))

		rec, _, err := reg.Get(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, runregistry.StateFailed, rec.State)
		assert.Equal(t, "browser endpoint unavailable", rec.Error)
		assert.False(t, rec.Cancelled)
	})

	t.Run("run completes when every branch is done", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		require.NoError(t, reg.Begin(ctx, "run-1", t0))
		// A fast branch may finish before the fan-out width is recorded.
		require.NoError(t, reg.BranchDone(ctx, "run-1", t0))
		require.NoError(t, reg.SetBranches(ctx, "run-1", 2, t0))

		rec, _, err := reg.Get(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, runregistry.StateRunning, rec.State)

		require.NoError(t, reg.BranchDone(ctx, "run-1", t0.Add(time.Second)))
		rec, _, err = reg.Get(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, runregistry.StateCompleted, rec.State)
		assert.Equal(t, 2, rec.BranchesDone)
	})

	t.Run("zero branches completes immediately", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		require.NoError(t, reg.Begin(ctx, "run-1", t0))
		require.NoError(t, reg.SetBranches(ctx, "run-1", 0, t0))
		rec, _, err := reg.Get(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, runregistry.StateCompleted, rec.State)
	})
}
