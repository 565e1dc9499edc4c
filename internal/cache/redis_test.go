package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/cowatch/internal/cache"
	"github.com/oggyb/cowatch/internal/config"
)

func setupCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()

	c := cache.NewRedisCache(cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

type meta struct {
	Title string `json:"title"`
}

func TestJSONRoundTripRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := setupCache(t)

	key := c.KeyForMetadata("movie", 550)
	assert.Equal(t, "content:meta:movie:550", key)

	var got meta
	assert.ErrorIs(t, c.GetJSON(ctx, key, &got, time.Hour), cache.ErrMiss)

	require.NoError(t, c.SetJSON(ctx, key, meta{Title: "Fight Club"}, time.Minute))
	mr.FastForward(30 * time.Second)

	require.NoError(t, c.GetJSON(ctx, key, &got, time.Hour))
	assert.Equal(t, "Fight Club", got.Title)
	assert.Greater(t, mr.TTL(key), 30*time.Minute)
}

func TestPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	c, _ := setupCache(t)

	sub, err := c.Subscribe(ctx, cache.ChannelPresence, 4)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, c.Publish(ctx, cache.ChannelPresence, meta{Title: "x"}))

	select {
	case payload := <-sub.C:
		assert.JSONEq(t, `{"title":"x"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestLeaderLease(t *testing.T) {
	ctx := context.Background()
	c, mr := setupCache(t)

	a := c.NewLeader("sweeper", "a", time.Minute)
	b := c.NewLeader("sweeper", "b", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second instance must not steal the lease")

	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "holder renews")

	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("leader:sweeper"), "non-holder release is a no-op")

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
