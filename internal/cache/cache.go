// Package cache stores retrieval results keyed by tenant, project and query.
//
// Caching is an optimization only. A backend failure never fails a
// retrieval: Get reports a miss and writes are dropped, with the failure
// logged and counted.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// DefaultTTL is how long an entry lives when no TTL is configured.
const DefaultTTL = time.Hour

// Bookkeeping keys put a '_' where Key puts the tenant ID. Tenant IDs start
// with a letter or digit, so the two never collide.
const (
	keyPrefix      = "rag"
	indexKeyPrefix = "rag:_keys"
	genKeyPrefix   = "rag:_gen"
	keySep         = ":"
)

// ErrCacheUnavailable marks a backend failure. It is logged and counted but
// never returned to callers of Get, Set or InvalidateNamespace.
var ErrCacheUnavailable = errors.New("cache unavailable")

// ErrInvalidConfig indicates invalid cache configuration.
var ErrInvalidConfig = errors.New("invalid cache configuration")

// Cache is a best-effort result cache.
type Cache interface {
	// Get returns the value stored under key. Absent, expired and
	// unreadable entries are all reported as a miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key for ttl. A ttl <= 0 uses the backend default.
	// Keys built with Key are also recorded in their namespace's key set.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// SetIfGeneration behaves like Set but stores nothing once scope's
	// generation has moved past gen. scope is taken from key, which must be
	// built with Key. It reports whether the value was stored.
	SetIfGeneration(ctx context.Context, key string, gen uint64, value []byte, ttl time.Duration) bool

	// Generation returns scope's invalidation counter. ok is false when the
	// backend cannot read it; callers should then skip caching.
	Generation(ctx context.Context, scope tenant.Scope) (gen uint64, ok bool)

	// InvalidateNamespace advances scope's generation and drops every entry
	// recorded for it.
	InvalidateNamespace(ctx context.Context, scope tenant.Scope)

	Ping(ctx context.Context) error
	Close() error
}

// Key builds the cache key for a query in scope. The query is used verbatim.
func Key(scope tenant.Scope, query string) string {
	return keyPrefix + keySep + scope.TenantID + keySep + scope.ProjectID + keySep + query
}

// ParseKey splits a key built by Key back into scope and query.
// Identifiers cannot contain ':', so the first two separators after the
// prefix always delimit them.
func ParseKey(key string) (tenant.Scope, string, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix+keySep)
	if !ok {
		return tenant.Scope{}, "", false
	}
	parts := strings.SplitN(rest, keySep, 3)
	if len(parts) != 3 {
		return tenant.Scope{}, "", false
	}
	scope := tenant.Scope{TenantID: parts[0], ProjectID: parts[1]}
	if scope.Validate() != nil {
		return tenant.Scope{}, "", false
	}
	return scope, parts[2], true
}

// IndexKey names the set of keys stored for scope.
func IndexKey(scope tenant.Scope) string {
	return indexKeyPrefix + keySep + scope.TenantID + keySep + scope.ProjectID
}

// GenerationKey names the counter InvalidateNamespace advances for scope.
func GenerationKey(scope tenant.Scope) string {
	return genKeyPrefix + keySep + scope.TenantID + keySep + scope.ProjectID
}

// Config selects and configures a cache backend.
type Config struct {
	// Backend is "redis", "memory" or "none".
	Backend string
	// URL is the redis connection URL, e.g. redis://localhost:6379/0.
	URL string
	// TTL applies when Set is called without one.
	TTL time.Duration
	// MaxEntries bounds the memory backend.
	MaxEntries int
	// Timeout bounds every redis command.
	Timeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = "redis"
	}
	if c.URL == "" {
		c.URL = "redis://localhost:6379/0"
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
	if c.Timeout <= 0 {
		c.Timeout = 500 * time.Millisecond
	}
}

// New creates the configured cache backend. A redis backend that cannot be
// reached at startup is still returned; it degrades until redis recovers.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	switch cfg.Backend {
	case "redis":
		c, err := NewRedisCache(cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := c.Ping(ctx); err != nil {
			logger.Warn("redis unreachable at startup, cache degraded", zap.Error(err))
		}
		return c, nil
	case "memory":
		return NewMemoryCache(cfg.TTL, cfg.MaxEntries), nil
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q (supported: redis, memory, none)",
			ErrInvalidConfig, cfg.Backend)
	}
}

// Nop is a Cache that stores nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Nop) Set(context.Context, string, []byte, time.Duration) {}
func (Nop) SetIfGeneration(context.Context, string, uint64, []byte, time.Duration) bool {
	return false
}
func (Nop) Generation(context.Context, tenant.Scope) (uint64, bool) { return 0, true }
func (Nop) InvalidateNamespace(context.Context, tenant.Scope) {}
func (Nop) Ping(context.Context) error { return nil }
func (Nop) Close() error { return nil }
