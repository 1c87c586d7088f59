// Package cache memoizes expensive remote calls behind a TTL keyed by
// operation tag and input. Only the exact derived key decides a hit.
package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const DefaultTTLHours = 24

// RemoteFunc is the wrapped call. Its result is stored verbatim.
type RemoteFunc func(ctx context.Context, input string) (string, error)

type MetricsHooks struct {
	OnHit   func(tag string)
	OnMiss  func(tag string)
	OnStore func(tag string)
	OnError func(tag string)
}

type Options struct {
	DefaultTTLHours int
	Hooks           MetricsHooks
	Logger          logrus.FieldLogger
	Now             func() time.Time
}

type ResponseCache struct {
	store           Store
	defaultTTLHours int
	hooks           MetricsHooks
	logger          logrus.FieldLogger
	now             func() time.Time
	sf              singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	stores atomic.Int64
	errors atomic.Int64
}

func New(store Store, opts Options) *ResponseCache {
	if opts.DefaultTTLHours <= 0 {
		opts.DefaultTTLHours = DefaultTTLHours
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ResponseCache{
		store:           store,
		defaultTTLHours: opts.DefaultTTLHours,
		hooks:           opts.Hooks,
		logger:          opts.Logger,
		now:             opts.Now,
	}
}

// Key derives tag + ":" + base64(input). It is the only hit criterion.
func Key(tag, input string) string {
	return tag + ":" + base64.StdEncoding.EncodeToString([]byte(input))
}

// Get returns the stored value while now is strictly before its expiry.
// An expired entry is reported as a miss, exactly like an absent one.
func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool, error) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !ok || !c.now().Before(entry.ExpiresAt) {
		return "", false, nil
	}
	return entry.Value, true, nil
}

// Put upserts value with expires_at = now + ttlHours. Negative TTLs count as zero.
func (c *ResponseCache) Put(ctx context.Context, key, value string, ttlHours int) error {
	if ttlHours < 0 {
		ttlHours = 0
	}
	expiresAt := c.now().Add(time.Duration(ttlHours) * time.Hour)
	return c.store.Put(ctx, key, value, expiresAt)
}

// Call is CachedCall with the default TTL.
func (c *ResponseCache) Call(ctx context.Context, tag, input string, fn RemoteFunc) (string, error) {
	return c.CachedCall(ctx, tag, input, c.defaultTTLHours, fn)
}

// CachedCall returns the fresh cached value for (tag, input) or invokes fn,
// stores its result for ttlHours and returns it. Failures of fn propagate
// unchanged and are never cached; neither is a result that arrives after ctx
// is done. Concurrent misses for one key in this process share a single call.
// The shared call runs under the context of the caller that started it; when
// that caller goes away the others start a new call under their own contexts.
func (c *ResponseCache) CachedCall(ctx context.Context, tag, input string, ttlHours int, fn RemoteFunc) (string, error) {
	key := Key(tag, input)
	log := c.logger.WithFields(logrus.Fields{"cache_tag": tag})

	value, ok, err := c.Get(ctx, key)
	if err != nil {
		c.errors.Add(1)
		c.fire(c.hooks.OnError, tag)
		log.WithError(err).Warn("cache lookup failed, calling upstream")
	}
	if ok {
		c.hits.Add(1)
		c.fire(c.hooks.OnHit, tag)
		return value, nil
	}

	c.misses.Add(1)
	c.fire(c.hooks.OnMiss, tag)

	for {
		ch := c.sf.DoChan(key, func() (interface{}, error) {
			return c.fill(ctx, key, tag, input, ttlHours, fn, log)
		})

		select {
		case res := <-ch:
			var abandoned *abandonedCall
			if errors.As(res.Err, &abandoned) {
				if err := ctx.Err(); err != nil {
					return "", err
				}
				continue
			}
			if res.Err != nil {
				return "", res.Err
			}
			return res.Val.(string), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// abandonedCall marks a shared call whose starting caller was cancelled.
type abandonedCall struct {
	err error
}

func (e *abandonedCall) Error() string { return "shared call abandoned: " + e.err.Error() }

func (e *abandonedCall) Unwrap() error { return e.err }

func (c *ResponseCache) fill(ctx context.Context, key, tag, input string, ttlHours int, fn RemoteFunc, log logrus.FieldLogger) (string, error) {
	result, err := fn(ctx, input)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", &abandonedCall{err: ctxErr}
	}
	if err != nil {
		return "", err
	}
	if err := c.Put(ctx, key, result, ttlHours); err != nil {
		c.errors.Add(1)
		c.fire(c.hooks.OnError, tag)
		log.WithError(err).Warn("cache store failed")
		return result, nil
	}
	c.stores.Add(1)
	c.fire(c.hooks.OnStore, tag)
	return result, nil
}

// CachedJSON wraps a structured remote call: the result is JSON encoded before
// storage and decoded on every return path.
func CachedJSON[T any](ctx context.Context, c *ResponseCache, tag, input string, ttlHours int, fn func(ctx context.Context, input string) (T, error)) (T, error) {
	var out T
	raw, err := c.CachedCall(ctx, tag, input, ttlHours, func(ctx context.Context, input string) (string, error) {
		v, err := fn(ctx, input)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode %s result: %w", tag, err)
		}
		return string(b), nil
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("decode cached %s result: %w", tag, err)
	}
	return out, nil
}

func (c *ResponseCache) DefaultTTLHours() int {
	return c.defaultTTLHours
}

func (c *ResponseCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"hits":              c.hits.Load(),
		"misses":            c.misses.Load(),
		"stores":            c.stores.Load(),
		"errors":            c.errors.Load(),
		"default_ttl_hours": c.defaultTTLHours,
	}
}

func (c *ResponseCache) fire(hook func(string), tag string) {
	if hook != nil {
		hook(tag)
	}
}
