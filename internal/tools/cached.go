package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/convrag/internal/cache"
	"github.com/54b3r/convrag/internal/rag"
)

// CachedTool wraps an Eino tool and caches its string output in the tool
// namespace, keyed by tool name and canonicalised arguments under the
// conversation's collection scope. Deleting the collection drops the
// entries. Errors are never cached.
type CachedTool struct {
	// inner is the wrapped tool.
	inner tool.InvokableTool

	// cache stores outputs; a disabled cache makes the wrapper transparent.
	cache *cache.Cache

	// scope is the collection name of the conversation the tool is bound to.
	scope string

	// ttl is the lifetime of a cached output.
	ttl time.Duration
}

// NewCachedTool wraps inner for conversationID. A non-positive ttl uses
// cache.DefaultToolTTL.
func NewCachedTool(inner tool.InvokableTool, c *cache.Cache, conversationID string, ttl time.Duration) *CachedTool {
	if ttl <= 0 {
		ttl = cache.DefaultToolTTL
	}
	return &CachedTool{inner: inner, cache: c, scope: rag.CollectionName(conversationID), ttl: ttl}
}

// Info returns the wrapped tool's metadata unchanged.
func (t *CachedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.inner.Info(ctx)
}

// InvokableRun returns the cached output for these arguments, or runs the
// wrapped tool and caches its output.
func (t *CachedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	info, err := t.inner.Info(ctx)
	if err != nil {
		return "", fmt.Errorf("tools: cached tool info: %w", err)
	}

	var args any
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		args = argumentsInJSON
	}

	return cache.RememberScoped(ctx, t.cache, t.scope, info.Name, args, t.ttl, func(ctx context.Context) (string, error) {
		return t.inner.InvokableRun(ctx, argumentsInJSON, opts...)
	})
}
