package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

var testScope = tenant.Scope{TenantID: "acme", ProjectID: "docs"}

func TestMemoryCache_SetAndGet(t *testing.T) {
	c := NewMemoryCache(time.Minute, 10)
	ctx := context.Background()
	key := Key(testScope, "hello")

	c.Set(ctx, key, []byte(`[{"title":"t"}]`), 0)
	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, `[{"title":"t"}]`, string(got))

	_, ok = c.Get(ctx, Key(testScope, "other"))
	assert.False(t, ok)
}

func TestMemoryCache_ValueIsCopied(t *testing.T) {
	c := NewMemoryCache(time.Minute, 10)
	ctx := context.Background()
	val := []byte("abc")
	c.Set(ctx, "k", val, 0)
	val[0] = 'z'

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute, 10)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, Key(testScope, "q"), []byte("v"), 10*time.Second)
	now = now.Add(5 * time.Second)
	_, ok := c.Get(ctx, Key(testScope, "q"))
	assert.True(t, ok)

	now = now.Add(6 * time.Second)
	_, ok = c.Get(ctx, Key(testScope, "q"))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_DefaultTTL(t *testing.T) {
	c := NewMemoryCache(time.Minute, 10)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 0)
	now = now.Add(59 * time.Second)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	now = now.Add(2 * time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache(time.Minute, 2)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), 0)
	now = now.Add(time.Second)
	c.Set(ctx, "b", []byte("2"), 0)
	now = now.Add(time.Second)
	_, _ = c.Get(ctx, "a")
	now = now.Add(time.Second)
	c.Set(ctx, "c", []byte("3"), 0)

	_, ok := c.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemoryCache_InvalidateNamespace(t *testing.T) {
	c := NewMemoryCache(time.Minute, 100)
	ctx := context.Background()
	other := tenant.Scope{TenantID: "acme", ProjectID: "wiki"}

	c.Set(ctx, Key(testScope, "q1"), []byte("1"), 0)
	c.Set(ctx, Key(testScope, "q2"), []byte("2"), 0)
	c.Set(ctx, Key(other, "q1"), []byte("3"), 0)

	c.InvalidateNamespace(ctx, testScope)

	_, ok := c.Get(ctx, Key(testScope, "q1"))
	assert.False(t, ok)
	_, ok = c.Get(ctx, Key(testScope, "q2"))
	assert.False(t, ok)
	_, ok = c.Get(ctx, Key(other, "q1"))
	assert.True(t, ok, "other namespace must be untouched")

	// invalidating an unknown namespace is a no-op
	c.InvalidateNamespace(ctx, tenant.Scope{TenantID: "nobody", ProjectID: "none"})
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := NewMemoryCache(time.Minute, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := Key(testScope, fmt.Sprintf("q-%d-%d", i, j))
				c.Set(ctx, key, []byte("v"), 0)
				_, _ = c.Get(ctx, key)
				if j%10 == 0 {
					c.InvalidateNamespace(ctx, testScope)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestMemoryCache_SetIfGeneration(t *testing.T) {
	c := NewMemoryCache(time.Minute, 10)
	ctx := context.Background()
	key := Key(testScope, "q")

	gen, ok := c.Generation(ctx, testScope)
	require.True(t, ok)
	assert.Zero(t, gen)

	c.InvalidateNamespace(ctx, testScope)
	assert.False(t, c.SetIfGeneration(ctx, key, gen, []byte("stale"), 0))
	_, hit := c.Get(ctx, key)
	assert.False(t, hit)

	gen, _ = c.Generation(ctx, testScope)
	assert.Equal(t, uint64(1), gen)
	assert.True(t, c.SetIfGeneration(ctx, key, gen, []byte("fresh"), 0))
	got, hit := c.Get(ctx, key)
	require.True(t, hit)
	assert.Equal(t, "fresh", string(got))

	// other namespaces keep their own counter
	other := tenant.Scope{TenantID: "globex", ProjectID: "docs"}
	otherGen, _ := c.Generation(ctx, other)
	assert.Zero(t, otherGen)

	assert.False(t, c.SetIfGeneration(ctx, "unscoped", 0, []byte("v"), 0))
}
