package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/intel-archiver/internal/runregistry"
	"github.com/JakeFAU/intel-archiver/internal/runregistry/registrytest"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	registrytest.Run(t, func(*testing.T) runregistry.Registry {
		return New()
	})
}

func TestRegistryKeepsOnlyRecentRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := New()
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("run-%d", i)
		require.NoError(t, reg.Begin(ctx, id, t0))
		require.NoError(t, reg.Finish(ctx, id, runregistry.StateCompleted, "", t0))
	}

	assert.Len(t, reg.runs, 2)
	_, found, err := reg.Get(ctx, "run-4")
	require.NoError(t, err)
	assert.True(t, found, "the previous run stays readable")
	_, found, err = reg.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, found)
}
