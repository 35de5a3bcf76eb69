package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pos-offline-core/internal/logger"
)

// ErrMiss is returned by GetStale when no tier holds the key.
var ErrMiss = errors.New("cache miss")

// FetchFunc loads a value from the remote collaborator on a full miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Tiered checks memory, then the session tier, then the durable backing.
// A hit in a lower tier is copied into the tiers above it.
type Tiered[T any] struct {
	name    string
	ttl     time.Duration
	memory  *Memory[T]
	session *Session[T]
	backing Backing[T]
	fetches singleflight.Group
	now     func() time.Time
}

// NewTiered builds a cache. session and backing may be nil.
func NewTiered[T any](name string, ttl time.Duration, memory *Memory[T], session *Session[T], backing Backing[T]) *Tiered[T] {
	return &Tiered[T]{
		name:    name,
		ttl:     ttl,
		memory:  memory,
		session: session,
		backing: backing,
		now:     time.Now,
	}
}

func (c *Tiered[T]) Name() string { return c.name }

// Get returns a fresh value, or false when no tier has one.
func (c *Tiered[T]) Get(ctx context.Context, key string) (T, bool) {
	e, ok := c.lookup(ctx, key)
	return e.Data, ok
}

func (c *Tiered[T]) lookup(ctx context.Context, key string) (Entry[T], bool) {
	if e, ok := c.memory.Get(key); ok {
		hitsTotal.WithLabelValues(c.name, "memory").Inc()
		return e, true
	}
	now := c.now()
	if c.session != nil {
		if e, ok := c.session.Get(key); ok {
			if e.Fresh(now) {
				hitsTotal.WithLabelValues(c.name, "session").Inc()
				c.memory.Set(key, e)
				return e, true
			}
			c.session.Delete(key)
		}
	}
	if c.backing != nil {
		e, ok, err := c.backing.Load(ctx, key)
		if err != nil {
			logger.Log.Warn("Durable cache read failed",
				zap.String("cache", c.name), zap.String("key", key), zap.Error(err))
		} else if ok && e.Fresh(now) {
			hitsTotal.WithLabelValues(c.name, "durable").Inc()
			c.memory.Set(key, e)
			if c.session != nil {
				c.session.Set(key, e)
			}
			return e, true
		}
	}
	missesTotal.WithLabelValues(c.name).Inc()
	return Entry[T]{}, false
}

// GetStale returns the newest value any tier holds, ignoring freshness. It
// is meant for forced offline use, when an old value beats none.
func (c *Tiered[T]) GetStale(ctx context.Context, key string) (Entry[T], error) {
	var best Entry[T]
	found := false
	consider := func(e Entry[T]) {
		if !found || e.Timestamp.After(best.Timestamp) {
			best = e
			found = true
		}
	}
	if e, ok := c.memory.Peek(key); ok {
		consider(e)
	}
	if c.session != nil {
		if e, ok := c.session.Get(key); ok {
			consider(e)
		}
	}
	if c.backing != nil {
		if e, ok, err := c.backing.Load(ctx, key); err == nil && ok {
			consider(e)
		}
	}
	if !found {
		return best, ErrMiss
	}
	return best, nil
}

// Set writes v through every tier.
func (c *Tiered[T]) Set(ctx context.Context, key string, v T) error {
	return c.setEntry(ctx, key, Entry[T]{Data: v, Timestamp: c.now(), TTL: c.ttl})
}

func (c *Tiered[T]) setEntry(ctx context.Context, key string, e Entry[T]) error {
	c.memory.Set(key, e)
	if c.session != nil {
		c.session.Set(key, e)
	}
	if c.backing != nil {
		if err := c.backing.Store(ctx, key, e); err != nil {
			logger.Log.Warn("Durable cache write failed",
				zap.String("cache", c.name), zap.String("key", key), zap.Error(err))
			return err
		}
	}
	return nil
}

// GetOrFetch serves a fresh value or calls fetch and writes its result back.
// Concurrent misses for the same key share one fetch.
func (c *Tiered[T]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[T]) (T, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}
	v, err, _ := c.fetches.Do(key, func() (interface{}, error) {
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		if err := c.Set(ctx, key, v); err != nil {
			logger.Log.Warn("Fetched value not cached durably", zap.String("cache", c.name), zap.Error(err))
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (c *Tiered[T]) Invalidate(ctx context.Context, key string) error {
	c.memory.Delete(key)
	if c.session != nil {
		c.session.Delete(key)
	}
	if c.backing != nil {
		return c.backing.Delete(ctx, key)
	}
	return nil
}

// Clear empties every tier.
func (c *Tiered[T]) Clear(ctx context.Context) error {
	c.memory.Clear()
	if c.session != nil {
		c.session.Clear()
	}
	if c.backing != nil {
		return c.backing.Clear(ctx)
	}
	return nil
}

// Cleanup sweeps expired entries from the in-process tiers.
func (c *Tiered[T]) Cleanup() {
	c.memory.Cleanup()
	if c.session != nil {
		c.session.Cleanup(c.now())
	}
}

// Shrink drops everything the cache holds; see sync.Shrinker.
func (c *Tiered[T]) Shrink(ctx context.Context) error {
	return c.Clear(ctx)
}
