package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/cache"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

func TestKey(t *testing.T) {
	scope := tenant.Scope{TenantID: "acme", ProjectID: "docs"}
	assert.Equal(t, "rag:acme:docs:what is ragd?", cache.Key(scope, "what is ragd?"))

	// query text is not normalized
	assert.NotEqual(t, cache.Key(scope, "Hello"), cache.Key(scope, "hello"))
	assert.NotEqual(t, cache.Key(scope, "hello"), cache.Key(scope, "hello "))
}

func TestKey_Injective(t *testing.T) {
	a := cache.Key(tenant.Scope{TenantID: "a", ProjectID: "b-c"}, "q")
	b := cache.Key(tenant.Scope{TenantID: "a-b", ProjectID: "c"}, "q")
	assert.NotEqual(t, a, b)

	c := cache.Key(tenant.Scope{TenantID: "t1", ProjectID: "p"}, "q")
	d := cache.Key(tenant.Scope{TenantID: "t2", ProjectID: "p"}, "q")
	assert.NotEqual(t, c, d)
}

func TestParseKey(t *testing.T) {
	scope := tenant.Scope{TenantID: "acme", ProjectID: "docs"}
	got, query, ok := cache.ParseKey(cache.Key(scope, "a:b:c"))
	require.True(t, ok)
	assert.Equal(t, scope, got)
	assert.Equal(t, "a:b:c", query)

	for _, bad := range []string{"", "other:acme:docs:q", "rag:acme", "rag:ac_me:docs:q"} {
		_, _, ok := cache.ParseKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestIndexKey(t *testing.T) {
	s := tenant.Scope{TenantID: "acme", ProjectID: "docs"}
	assert.Equal(t, "rag:_keys:acme:docs", cache.IndexKey(s))
	assert.Equal(t, "rag:_gen:acme:docs", cache.GenerationKey(s))

	// a tenant named like a bookkeeping prefix still gets a distinct key
	keys := tenant.Scope{TenantID: "keys", ProjectID: "acme"}
	assert.NotEqual(t, cache.IndexKey(s), cache.Key(keys, "docs"))
	_, _, ok := cache.ParseKey(cache.IndexKey(s))
	assert.False(t, ok)
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg cache.Config
	cfg.ApplyDefaults()
	assert.Equal(t, "redis", cfg.Backend)
	assert.Equal(t, cache.DefaultTTL, cfg.TTL)
	assert.Equal(t, time.Hour, cfg.TTL)
	assert.Positive(t, cfg.MaxEntries)
	assert.Positive(t, cfg.Timeout)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	c, err := cache.New(ctx, cache.Config{Backend: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &cache.MemoryCache{}, c)

	c, err = cache.New(ctx, cache.Config{Backend: "none"}, nil)
	require.NoError(t, err)
	c.Set(ctx, "k", []byte("v"), 0)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, c.SetIfGeneration(ctx, cache.Key(tenant.Scope{TenantID: "a", ProjectID: "b"}, "q"), 0, []byte("v"), 0))

	_, err = cache.New(ctx, cache.Config{Backend: "memcached"}, nil)
	assert.ErrorIs(t, err, cache.ErrInvalidConfig)
}
