package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// unreachableRedis points at a port nothing listens on so every command
// fails fast.
func unreachableRedis(t *testing.T) (*RedisCache, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	c, err := NewRedisCache(Config{URL: "redis://127.0.0.1:1/0", Timeout: 200 * time.Millisecond}, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, logs
}

func newMiniRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(Config{URL: "redis://" + mr.Addr() + "/0", TTL: time.Minute}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := NewRedisCache(Config{URL: "http://nope"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRedisCache_DegradesToMiss(t *testing.T) {
	c, logs := unreachableRedis(t)
	ctx := context.Background()
	key := Key(testScope, "q")

	c.Set(ctx, key, []byte("v"), time.Minute)
	got, ok := c.Get(ctx, key)
	assert.False(t, ok)
	assert.Nil(t, got)
	c.InvalidateNamespace(ctx, testScope)

	assert.GreaterOrEqual(t, logs.FilterMessage("cache degraded").Len(), 3)
}

func TestRedisCache_Ping(t *testing.T) {
	c, _ := unreachableRedis(t)
	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, ErrCacheUnavailable)
}

func TestNew_RedisUnreachableStillReturned(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c, err := New(context.Background(), Config{Backend: "redis", URL: "redis://127.0.0.1:1/0", Timeout: 100 * time.Millisecond}, zap.New(core))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 1, logs.FilterMessage("redis unreachable at startup, cache degraded").Len())
}

func TestRedisCache_SetAndGet(t *testing.T) {
	c, mr := newMiniRedis(t)
	ctx := context.Background()
	key := Key(testScope, "what is ragd?")

	c.Set(ctx, key, []byte(`[{"title":"t"}]`), 0)
	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, `[{"title":"t"}]`, string(got))

	member, err := mr.IsMember(IndexKey(testScope), key)
	require.NoError(t, err)
	assert.True(t, member)
	assert.Equal(t, time.Minute, mr.TTL(key))
	assert.Equal(t, time.Minute, mr.TTL(IndexKey(testScope)))

	_, ok = c.Get(ctx, Key(testScope, "other"))
	assert.False(t, ok)
	require.NoError(t, c.Ping(ctx))
}

func TestRedisCache_UnscopedKeyNotIndexed(t *testing.T) {
	c, mr := newMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "plain", []byte("v"), 0)
	got, ok := c.Get(ctx, "plain")
	require.True(t, ok)
	assert.Equal(t, "v", string(got))
	assert.Equal(t, []string{"plain"}, mr.Keys())
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, mr := newMiniRedis(t)
	ctx := context.Background()
	key := Key(testScope, "q")

	c.Set(ctx, key, []byte("v"), 10*time.Second)
	_, ok := c.Get(ctx, key)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)
	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
	assert.False(t, mr.Exists(IndexKey(testScope)))
}

func TestRedisCache_InvalidateNamespace(t *testing.T) {
	c, mr := newMiniRedis(t)
	ctx := context.Background()
	other := tenant.Scope{TenantID: "globex", ProjectID: "docs"}

	c.Set(ctx, Key(testScope, "q1"), []byte("1"), 0)
	c.Set(ctx, Key(testScope, "q2"), []byte("2"), 0)
	c.Set(ctx, Key(other, "q1"), []byte("3"), 0)

	c.InvalidateNamespace(ctx, testScope)

	_, ok := c.Get(ctx, Key(testScope, "q1"))
	assert.False(t, ok)
	_, ok = c.Get(ctx, Key(testScope, "q2"))
	assert.False(t, ok)
	assert.False(t, mr.Exists(Key(testScope, "q1")))
	assert.Zero(t, c.client.SCard(ctx, IndexKey(testScope)).Val())

	got, ok := c.Get(ctx, Key(other, "q1"))
	require.True(t, ok)
	assert.Equal(t, "3", string(got))
	member, err := mr.IsMember(IndexKey(other), Key(other, "q1"))
	require.NoError(t, err)
	assert.True(t, member)

	gen, ok := c.Generation(ctx, testScope)
	require.True(t, ok)
	assert.Equal(t, uint64(1), gen)
	gen, ok = c.Generation(ctx, other)
	require.True(t, ok)
	assert.Zero(t, gen)
}

func TestRedisCache_SetIfGeneration(t *testing.T) {
	c, mr := newMiniRedis(t)
	ctx := context.Background()
	key := Key(testScope, "q")

	gen, ok := c.Generation(ctx, testScope)
	require.True(t, ok)
	assert.Zero(t, gen)

	// a namespace invalidated after gen was read refuses the write
	c.InvalidateNamespace(ctx, testScope)
	assert.False(t, c.SetIfGeneration(ctx, key, gen, []byte("stale"), 0))
	assert.False(t, mr.Exists(key))

	gen, ok = c.Generation(ctx, testScope)
	require.True(t, ok)
	assert.True(t, c.SetIfGeneration(ctx, key, gen, []byte("fresh"), 0))
	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "fresh", string(got))
	assert.Equal(t, time.Minute, mr.TTL(key))
	member, err := mr.IsMember(IndexKey(testScope), key)
	require.NoError(t, err)
	assert.True(t, member)

	assert.False(t, c.SetIfGeneration(ctx, "plain", gen, []byte("v"), 0))
}

func TestRedisCache_GenerationUnreachable(t *testing.T) {
	c, _ := unreachableRedis(t)
	ctx := context.Background()

	_, ok := c.Generation(ctx, testScope)
	assert.False(t, ok)
	assert.False(t, c.SetIfGeneration(ctx, Key(testScope, "q"), 0, []byte("v"), 0))
}
