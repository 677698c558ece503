package datacache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spdeepak/offlinecache/ttlcache"
)

func TestPresets(t *testing.T) {
	assert.Equal(t, 30*time.Second, Realtime.TTL)
	assert.False(t, Standard.Persist)
	assert.Equal(t, time.Hour, Static.TTL)
	assert.True(t, Session.Persist)
	assert.Equal(t, 24*time.Hour, Session.TTL)
	assert.Equal(t, 7*24*time.Hour, Preferences.TTL)
}

func TestSessionPresetPersists(t *testing.T) {
	ctx := context.Background()
	durable := ttlcache.NewMapTier()

	results := New(ttlcache.New[string](ttlcache.Config{Durable: durable}), Session)
	results.Set(ctx, "result:job-1", ">seq\nACGT")
	assert.Equal(t, 1, durable.Len())

	restarted := New(ttlcache.New[string](ttlcache.Config{Durable: durable}), Session)
	got, ok := restarted.Get(ctx, "result:job-1")
	require.True(t, ok)
	assert.Equal(t, ">seq\nACGT", got)

	assert.True(t, restarted.Invalidate(ctx, "result:job-1"))
	assert.Equal(t, 0, durable.Len())
}

func TestBindingLoadsOnce(t *testing.T) {
	ctx := context.Background()
	c := New(ttlcache.New[int](ttlcache.Config{}), Standard)

	calls := 0
	binding := c.Bind(ctx, "jobs:count", func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	assert.True(t, binding.State().Loading)

	state := binding.Load(ctx)
	assert.False(t, state.Loading)
	assert.True(t, state.HasData)
	assert.Equal(t, 7, state.Data)

	binding.Load(ctx)
	assert.Equal(t, 1, calls)

	// A second binding for the same key starts from the cache.
	seeded := c.Bind(ctx, "jobs:count", func(context.Context) (int, error) {
		t.Fatal("fetch must not run for a cached key")
		return 0, nil
	})
	assert.True(t, seeded.State().HasData)
	assert.Equal(t, 7, seeded.Load(ctx).Data)
}

func TestBindingRefetch(t *testing.T) {
	ctx := context.Background()
	c := New(ttlcache.New[int](ttlcache.Config{}), Realtime)

	next := 1
	binding := c.Bind(ctx, "progress", func(context.Context) (int, error) {
		value := next
		next++
		return value, nil
	})
	assert.Equal(t, 1, binding.Load(ctx).Data)
	assert.Equal(t, 2, binding.Refetch(ctx).Data)

	got, ok := c.Get(ctx, "progress")
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestBindingKeepsErrors(t *testing.T) {
	ctx := context.Background()
	c := New(ttlcache.New[string](ttlcache.Config{}), Standard)
	boom := errors.New("fetch failed")

	binding := c.Bind(ctx, "k", func(context.Context) (string, error) { return "", boom })
	state := binding.Load(ctx)

	assert.False(t, state.Loading)
	assert.False(t, state.HasData)
	assert.ErrorIs(t, state.Err, boom)
}
