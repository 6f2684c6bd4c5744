package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

const redisBackend = "redis"

// setIfGenScript stores KEYS[1] and records it in the key set KEYS[2] only
// while the generation counter KEYS[3] still reads ARGV[3].
var setIfGenScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[3])
if (cur or '0') ~= ARGV[3] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SADD', KEYS[2], KEYS[1])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return 1
`)

// RedisCache is a Cache backed by redis.
//
// Each Set also adds the key to the namespace's key set so that
// InvalidateNamespace can remove exactly the keys of one scope without
// scanning the keyspace.
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisCache parses cfg.URL and creates a client. It does not connect.
func NewRedisCache(cfg Config, logger *zap.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", ErrInvalidConfig, err)
	}
	opts.DialTimeout = cfg.Timeout
	opts.ReadTimeout = cfg.Timeout
	opts.WriteTimeout = cfg.Timeout
	// A single attempt; a failed cache call degrades to a miss anyway.
	opts.MaxRetries = -1

	return &RedisCache{
		client:  redis.NewClient(opts),
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

func (c *RedisCache) degrade(op, key string, err error) {
	DegradedTotal.WithLabelValues(redisBackend, op).Inc()
	c.logger.Warn("cache degraded",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(fmt.Errorf("%w: %v", ErrCacheUnavailable, err)))
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.degrade("get", key, err)
		}
		MissesTotal.WithLabelValues(redisBackend).Inc()
		return nil, false
	}
	HitsTotal.WithLabelValues(redisBackend).Inc()
	return val, true
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	scope, _, scoped := ParseKey(key)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		if scoped {
			idx := IndexKey(scope)
			pipe.SAdd(ctx, idx, key)
			// The key set outlives every entry it lists.
			pipe.Expire(ctx, idx, ttl)
		}
		return nil
	})
	if err != nil {
		c.degrade("set", key, err)
	}
}

// SetIfGeneration implements Cache. The generation check and the write run
// as one script, so an InvalidateNamespace cannot slip between them.
func (c *RedisCache) SetIfGeneration(ctx context.Context, key string, gen uint64, value []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.ttl
	}
	scope, _, ok := ParseKey(key)
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	keys := []string{key, IndexKey(scope), GenerationKey(scope)}
	stored, err := setIfGenScript.Run(ctx, c.client, keys,
		value, ttl.Milliseconds(), strconv.FormatUint(gen, 10)).Int()
	if err != nil {
		c.degrade("set", key, err)
		return false
	}
	return stored == 1
}

// Generation implements Cache. A namespace never invalidated is at 0.
func (c *RedisCache) Generation(ctx context.Context, scope tenant.Scope) (uint64, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	genKey := GenerationKey(scope)
	gen, err := c.client.Get(ctx, genKey).Uint64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, true
	case err != nil:
		c.degrade("generation", genKey, err)
		return 0, false
	}
	return gen, true
}

// InvalidateNamespace implements Cache. The generation moves first, so a
// result computed before this call can no longer be stored once the key
// set has been read.
func (c *RedisCache) InvalidateNamespace(ctx context.Context, scope tenant.Scope) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	idx := IndexKey(scope)
	var members *redis.StringSliceCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, GenerationKey(scope))
		members = pipe.SMembers(ctx, idx)
		return nil
	})
	if err != nil {
		c.degrade("invalidate", idx, err)
		return
	}
	keys := members.Val()
	if len(keys) == 0 {
		return
	}
	// SREM instead of dropping the key set keeps members added under the
	// new generation.
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, idx, toAny(keys)...)
		return nil
	})
	if err != nil {
		c.degrade("invalidate", idx, err)
		return
	}
	InvalidatedKeys.WithLabelValues(redisBackend).Add(float64(len(keys)))
	c.logger.Debug("cache namespace invalidated",
		zap.String("namespace", scope.Namespace()),
		zap.Int("keys", len(keys)))
}

// Ping reports whether redis answers.
func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func toAny(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}

// Close closes the redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
