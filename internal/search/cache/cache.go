// Package cache keeps compiled conditions in Redis so repeated searches skip
// the parse and compile steps. Keys hash the condition's significant tokens,
// so whitespace and keyword case do not split entries.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/builder"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/compiler"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/lexer"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "condition:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type ConditionCache struct {
	store   Store
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over store. A nil store disables storage: every call
// compiles, with concurrent identical conditions still collapsed. m may be
// nil.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *ConditionCache {
	return &ConditionCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "condition-cache"),
	}
}

// Compile returns the compiled buckets for condition and whether they came
// from the cache. Invalid conditions are never cached.
func (c *ConditionCache) Compile(ctx context.Context, condition string) (*compiler.Buckets, bool, error) {
	key, err := Key(condition)
	if err != nil {
		return nil, false, err
	}
	if buckets, ok := c.get(ctx, key); ok {
		return buckets, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		// another caller may have stored it while this one waited
		if buckets, ok := c.lookup(ctx, key); ok {
			return buckets, nil
		}
		start := time.Now()
		buckets, err := builder.Compile(condition)
		c.observeCompile(start, err)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, buckets)
		return buckets, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*compiler.Buckets), false, nil
}

func (c *ConditionCache) get(ctx context.Context, key string) (*compiler.Buckets, bool) {
	buckets, ok := c.lookup(ctx, key)
	if !ok {
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return buckets, true
}

// lookup reads key from the store without touching the hit counters.
func (c *ConditionCache) lookup(ctx context.Context, key string) (*compiler.Buckets, bool) {
	if c.store == nil {
		return nil, false
	}
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	buckets, err := decode(data)
	if err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return buckets, true
}

func (c *ConditionCache) set(ctx context.Context, key string, buckets *compiler.Buckets) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(buckets)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *ConditionCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *ConditionCache) observeCompile(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.ConditionCompileTime.Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.metrics.ConditionsTotal.WithLabelValues(result).Inc()
}

// Invalidate drops every cached condition.
func (c *ConditionCache) Invalidate(ctx context.Context) (int64, error) {
	if c.store == nil {
		return 0, nil
	}
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return deleted, nil
}

func (c *ConditionCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key derives the cache key of condition. Conditions that tokenize the same
// way share a key; text that does not tokenize returns the lexer error.
func Key(condition string) (string, error) {
	tokens, err := lexer.Significant(condition)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, tok := range tokens {
		switch {
		case tok.Kind == lexer.Identifier || tok.Kind.IsLiteral():
			fmt.Fprintf(&b, "%s:%s ", tok.Kind, tok.Raw)
		default:
			b.WriteString(tok.Kind.String())
			b.WriteByte(' ')
		}
	}
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16]), nil
}

func decode(data string) (*compiler.Buckets, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var buckets compiler.Buckets
	if err := dec.Decode(&buckets); err != nil {
		return nil, err
	}
	return &buckets, nil
}
