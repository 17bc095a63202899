// Package idem makes request processing idempotent by request id.
//
// The first call for a key runs; concurrent calls for the same key wait for
// it and share its outcome; later calls get the recorded outcome back
// together with a *bugout.DuplicateRequestError so the caller can replay it
// rather than act twice. Failed calls are not recorded, so a redelivered
// request is processed again.
package idem

import (
	"context"
	"sync"
	"time"

	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/model"
	"golang.org/x/sync/singleflight"
)

// Key scopes a request id to the identity that issued it. Request ids are
// only unique per session (or per game for game-scoped requests).
func Key(scope string, reqId model.ReqId) string {
	return scope + "/" + string(reqId)
}

type entry[V any] struct {
	value    V
	recorded time.Time
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu       sync.RWMutex
	done     map[string]entry[V]
	inflight singleflight.Group
	ttl      time.Duration
	now      func() time.Time
}

// New creates a cache whose outcomes are kept for at least ttl. Zero keeps
// them until the process exits.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		done: make(map[string]entry[V]),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (c *Cache[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, error) {
	if prior, ok := c.Lookup(key); ok {
		return prior, duplicate(key, prior)
	}

	ran := false
	v, err, _ := c.inflight.Do(key, func() (any, error) {
		// A call that finished between the lookup above and this one has
		// already recorded its outcome.
		if prior, ok := c.Lookup(key); ok {
			return prior, nil
		}
		ran = true

		value, err := fn(ctx)
		if err != nil {
			return value, err
		}
		c.record(key, value)
		return value, nil
	})

	value, _ := v.(V)
	if err != nil {
		var zero V
		return zero, err
	}
	if !ran {
		return value, duplicate(key, value)
	}
	return value, nil
}

func (c *Cache[V]) Lookup(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.done[key]
	c.mu.RUnlock()

	if !ok || c.expired(e, c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) record(key string, value V) {
	c.mu.Lock()
	c.done[key] = entry[V]{value: value, recorded: c.now()}
	c.mu.Unlock()
}

// Sweep removes outcomes older than the cache's ttl.
func (c *Cache[V]) Sweep(now time.Time) int {
	if c.ttl <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.done {
		if c.expired(e, now) {
			delete(c.done, key)
			removed++
		}
	}
	return removed
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.done)
}

func (c *Cache[V]) expired(e entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.recorded) >= c.ttl
}

func duplicate[V any](key string, prior V) error {
	return &bugout.DuplicateRequestError{Key: key, Prior: prior}
}
