package cache

import (
	"context"
	"log/slog"
	"time"
)

// DefaultToolTTL is how long tool outputs stay cached when no TTL is given.
const DefaultToolTTL = 24 * time.Hour

// Remember returns the cached output of tool name for args when present.
// Otherwise it calls fn, caches a successful result, and returns it.
// A failing fn is never cached. A nil or disabled cache always calls fn.
func Remember[T any](ctx context.Context, c *Cache, name string, args any, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if !c.Enabled() {
		return fn(ctx)
	}
	return remember(ctx, c, c.ToolKey(name, args), name, ttl, fn)
}

// RememberScoped is Remember for tools whose output is derived from the
// data of scope. The entry is dropped by InvalidateScope(scope).
func RememberScoped[T any](ctx context.Context, c *Cache, scope, name string, args any, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if !c.Enabled() {
		return fn(ctx)
	}
	return remember(ctx, c, c.ScopedToolKey(scope, name, args), name, ttl, fn)
}

func remember[T any](ctx context.Context, c *Cache, key, name string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if ttl <= 0 {
		ttl = DefaultToolTTL
	}
	if v, ok := c.Get(ctx, key); ok {
		var cached T
		if err := v.Decode(&cached); err == nil {
			return cached, nil
		}
		c.log.Warn("cache: undecodable tool output, recomputing",
			slog.String("tool", name),
			slog.String("key", key),
		)
	}

	out, err := fn(ctx)
	if err != nil {
		return out, err
	}
	c.Set(ctx, key, out, ttl)
	return out, nil
}
