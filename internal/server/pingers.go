package server

import (
	"context"
	"fmt"

	"github.com/54b3r/convrag/internal/cache"
	"github.com/54b3r/convrag/internal/rag"
)

// healthChecker is satisfied by any dependency client exposing a Ping.
// *rag.QdrantBackend and *cache.Cache both satisfy it.
type healthChecker interface {
	Ping(ctx context.Context) error
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// backend is the vector store client to probe.
	backend healthChecker
}

// NewQdrantPinger constructs a QdrantPinger for the given backend.
func NewQdrantPinger(backend *rag.QdrantBackend) *QdrantPinger {
	return &QdrantPinger{backend: backend}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if err := p.backend.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// RedisPinger probes the cache backend with PING.
type RedisPinger struct {
	// cache is the cache whose connection is probed.
	cache healthChecker
}

// NewRedisPinger constructs a RedisPinger. Only register it when the cache
// is enabled; a disabled cache always reports an error.
func NewRedisPinger(c *cache.Cache) *RedisPinger {
	return &RedisPinger{cache: c}
}

// Name returns the dependency label used in readiness responses.
func (p *RedisPinger) Name() string { return "redis" }

// Ping sends PING to Redis.
func (p *RedisPinger) Ping(ctx context.Context) error {
	if err := p.cache.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Diagnostics implements StatsSource over the cache and collection manager.
type Diagnostics struct {
	// cache supplies backend statistics.
	cache *cache.Cache
	// collections supplies per-conversation collection statistics.
	collections *rag.CollectionManager
}

// NewDiagnostics constructs a Diagnostics. c may be nil or disabled.
func NewDiagnostics(c *cache.Cache, collections *rag.CollectionManager) *Diagnostics {
	return &Diagnostics{cache: c, collections: collections}
}

// CacheStats returns the cache backend snapshot.
func (d *Diagnostics) CacheStats(ctx context.Context) cache.Stats {
	return d.cache.Stats(ctx)
}

// CollectionStats returns the statistics of conversationID's collection.
func (d *Diagnostics) CollectionStats(ctx context.Context, conversationID string) (*rag.CollectionStats, error) {
	return d.collections.Stats(ctx, rag.CollectionName(conversationID))
}
