package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/intel-archiver/internal/runregistry"
	"github.com/JakeFAU/intel-archiver/internal/runregistry/registrytest"
)

func newRedisRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, "archiver:", time.Hour), mr
}

func TestRegistry(t *testing.T) {
	registrytest.Run(t, func(t *testing.T) runregistry.Registry {
		reg, _ := newRedisRegistry(t)
		return reg
	})
}

func TestRegistryKeysAndTTL(t *testing.T) {
	reg, mr := newRedisRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Begin(ctx, "run-1", time.Now().UTC()))

	current, err := mr.Get("archiver:current")
	require.NoError(t, err)
	assert.Equal(t, "run-1", current)
	assert.True(t, mr.Exists("archiver:run:run-1"))
	assert.Equal(t, time.Hour, mr.TTL("archiver:run:run-1"))

	mr.FastForward(2 * time.Hour)
	_, found, err := reg.Current(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRegistryCorruptRecord(t *testing.T) {
	reg, mr := newRedisRegistry(t)
	require.NoError(t, mr.Set("archiver:run:bad", "{not json"))
	_, _, err := reg.Get(context.Background(), "bad")
	require.Error(t, err)
}

func TestNewRequiresAddr(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
