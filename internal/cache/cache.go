// Package cache provides the best-effort Redis cache that sits in front of the
// embedding backend and the vector store. Three key namespaces are used:
// embedding vectors, per-conversation search results, and tool outputs.
//
// The cache is never a hard dependency. Every operation fails open: when the
// cache is disabled, unreachable, or returns an error, reads report a miss and
// writes report failure. Errors are logged and counted, never returned.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/54b3r/convrag/internal/metrics"
)

// Namespace partitions cache keys by the kind of value they hold.
type Namespace string

const (
	// NamespaceEmbedding holds embedding vectors keyed by (text, model).
	NamespaceEmbedding Namespace = "embedding"
	// NamespaceSearch holds serialized search results keyed by (conversation, query).
	NamespaceSearch Namespace = "search"
	// NamespaceTool holds tool outputs keyed by (tool name, arguments).
	NamespaceTool Namespace = "tool"
)

// digestLen is the number of hex characters of the SHA-256 digest kept in a key.
const digestLen = 16

// scanBatch is the COUNT hint passed to SCAN during pattern deletes.
const scanBatch = 100

// errDisabled is returned internally when an operation runs against a
// disabled cache. It is never surfaced to callers.
var errDisabled = errors.New("cache: disabled")

// Cache is a fail-open key-value cache backed by Redis.
// It is safe for concurrent use; the underlying client pools connections.
type Cache struct {
	// client is the shared Redis connection. Nil when the cache is disabled.
	client redis.UniversalClient
	// enabled is false when caching was turned off or the startup probe failed.
	enabled bool
	// defaultTTL applies to Set calls that pass ttl <= 0.
	defaultTTL time.Duration
	// prefix is the first segment of every key (e.g. "ai").
	prefix string
	// log receives every swallowed error.
	log *slog.Logger
	// metrics records lookups and writes; may be nil.
	metrics *metrics.Metrics
}

// New connects to Redis and probes it with PING. A failed probe disables the
// cache rather than failing construction, so the rest of the system keeps
// running on the uncached path.
func New(ctx context.Context, cfg Config, log *slog.Logger, m *metrics.Metrics) *Cache {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	c := &Cache{
		defaultTTL: cfg.DefaultTTL,
		prefix:     cfg.KeyPrefix,
		log:        log,
		metrics:    m,
	}
	if !cfg.Enabled {
		log.Info("cache: disabled by configuration")
		return c
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.ReadTimeout,
	})

	probeCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(probeCtx).Err(); err != nil {
		log.Warn("cache: redis connection failed, caching disabled",
			slog.String("addr", cfg.Addr),
			slog.Any("error", err),
		)
		_ = client.Close()
		return c
	}

	log.Info("cache: redis connected",
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
	)
	c.client = client
	c.enabled = true
	return c
}

// NewWithClient wraps an existing Redis client without probing it.
// Intended for tests and for callers that manage the client lifecycle.
func NewWithClient(client redis.UniversalClient, cfg Config, log *slog.Logger, m *metrics.Metrics) *Cache {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		client:     client,
		enabled:    client != nil,
		defaultTTL: cfg.DefaultTTL,
		prefix:     cfg.KeyPrefix,
		log:        log,
		metrics:    m,
	}
}

// Enabled reports whether the cache is backed by a live client.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// Key derives a deterministic cache key from ns and args. The arguments are
// canonicalised as JSON (map keys sorted), hashed with SHA-256, and truncated
// to a 16-hex-character digest: "<prefix>:<ns>:<digest>".
func (c *Cache) Key(ns Namespace, args ...any) string {
	return c.prefix + ":" + string(ns) + ":" + digest(args...)
}

// EmbeddingKey returns the key under which the vector for text produced by
// model is cached.
func (c *Cache) EmbeddingKey(text, model string) string {
	return c.Key(NamespaceEmbedding, text, model)
}

// SearchKey returns the key for cached search results of query within
// scope, the collection the search ran against. The scope is kept in clear
// text in the key so that InvalidateScope can match every query of it. extra
// values (e.g. a metadata filter) are folded into the digest.
func (c *Cache) SearchKey(scope, query string, extra ...any) string {
	args := append([]any{scope, query}, extra...)
	return c.scopedKey(NamespaceSearch, scope, args...)
}

// ToolKey returns the key for a cached tool output.
func (c *Cache) ToolKey(name string, args any) string {
	return c.Key(NamespaceTool, name, args)
}

// ScopedToolKey returns the key for a cached tool output whose result
// depends on the data of scope. InvalidateScope removes it.
func (c *Cache) ScopedToolKey(scope, name string, args any) string {
	return c.scopedKey(NamespaceTool, scope, name, args)
}

// scopedKey returns "<prefix>:<ns>:<scope>:<digest>".
func (c *Cache) scopedKey(ns Namespace, scope string, args ...any) string {
	return c.prefix + ":" + string(ns) + ":" + scope + ":" + digest(args...)
}

// Get returns the value stored under key. The boolean is false on a miss,
// when the cache is disabled, and on any backend error (which is logged).
func (c *Cache) Get(ctx context.Context, key string) (Value, bool) {
	ns := c.namespaceOf(key)
	v, err := c.get(ctx, key)
	switch {
	case err == nil:
		c.metrics.CacheLookup(ns, metrics.ResultHit)
		return v, true
	case errors.Is(err, redis.Nil):
		c.metrics.CacheLookup(ns, metrics.ResultMiss)
	case errors.Is(err, errDisabled):
	default:
		c.metrics.CacheLookup(ns, metrics.ResultError)
		c.log.Error("cache: get failed", slog.String("key", key), slog.Any("error", err))
	}
	return nil, false
}

// get is the error-returning form of Get.
func (c *Cache) get(ctx context.Context, key string) (Value, error) {
	if !c.Enabled() {
		return nil, errDisabled
	}
	b, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	return Value(b), nil
}

// Set stores value under key with the given ttl (the configured default when
// ttl <= 0). Byte slices are stored verbatim; anything else is JSON encoded.
// Returns false when the cache is disabled or the write failed.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	ns := c.namespaceOf(key)
	err := c.set(ctx, key, value, ttl)
	switch {
	case err == nil:
		c.metrics.CacheWrite(ns, metrics.ResultOK)
		return true
	case errors.Is(err, errDisabled):
	default:
		c.metrics.CacheWrite(ns, metrics.ResultError)
		c.log.Error("cache: set failed", slog.String("key", key), slog.Any("error", err))
	}
	return false
}

// set is the error-returning form of Set.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.Enabled() {
		return errDisabled
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	var payload []byte
	switch v := value.(type) {
	case []byte:
		payload = v
	case Value:
		payload = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode value: %w", err)
		}
		payload = b
	}

	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("setex: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key counts as success.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	if !c.Enabled() {
		return false
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Error("cache: delete failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}

// DeleteByPattern removes every key matching the Redis glob pattern and
// returns the number of keys deleted. SCAN is used instead of KEYS so large
// keyspaces are walked incrementally.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) int {
	if !c.Enabled() {
		return 0
	}
	n, err := c.deleteByPattern(ctx, pattern)
	if err != nil {
		c.log.Error("cache: delete by pattern failed",
			slog.String("pattern", pattern),
			slog.Any("error", err),
		)
	}
	c.metrics.CacheInvalidated(n)
	return n
}

// deleteByPattern is the error-returning form of DeleteByPattern. It reports
// the keys deleted so far even when a later batch fails.
func (c *Cache) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan: %w", err)
	}

	deleted := 0
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		n, err := c.client.Del(ctx, keys[start:end]...).Result()
		deleted += int(n)
		if err != nil {
			return deleted, fmt.Errorf("del: %w", err)
		}
	}
	return deleted, nil
}

// InvalidateScope removes every cached search result and scoped tool
// output belonging to scope and returns the number of keys removed.
func (c *Cache) InvalidateScope(ctx context.Context, scope string) int {
	n := 0
	for _, ns := range []Namespace{NamespaceSearch, NamespaceTool} {
		n += c.DeleteByPattern(ctx, c.prefix+":"+string(ns)+":"+escapeGlob(scope)+":*")
	}
	if n > 0 {
		c.log.Info("cache: scope invalidated",
			slog.String("scope", scope),
			slog.Int("keys_deleted", n),
		)
	}
	return n
}

// Ping checks that the Redis connection is alive. It returns an error when
// the cache is disabled so readiness probes can report it.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return errDisabled
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: ping: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("cache: close: %w", err)
	}
	return nil
}

// namespaceOf extracts the namespace segment from a key for metric labels.
func (c *Cache) namespaceOf(key string) string {
	rest := strings.TrimPrefix(key, c.prefix+":")
	if i := strings.IndexByte(rest, ':'); i > 0 {
		return rest[:i]
	}
	return "unknown"
}

// digest canonicalises args as JSON and returns the truncated SHA-256 hex.
// encoding/json sorts map keys, which gives a stable form for structured
// arguments such as tool parameters.
func digest(args ...any) string {
	b, err := json.Marshal(args)
	if err != nil {
		// Unencodable arguments still need a deterministic key.
		b = []byte(fmt.Sprintf("%#v", args))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:digestLen]
}

// escapeGlob escapes the Redis glob metacharacters in s.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
