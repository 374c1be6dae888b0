package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/convrag/internal/cache"
	"github.com/54b3r/convrag/internal/metrics"
)

// SearchRequest describes one retrieval call.
type SearchRequest struct {
	// Query is the natural-language question.
	Query string
	// ConversationID selects the collection to search.
	ConversationID string
	// TopK caps the number of candidates. Zero uses Config.TopK.
	TopK int
	// ScoreThreshold is the maximum cosine distance kept. Nil uses
	// Config.ScoreThreshold.
	ScoreThreshold *float32
	// Filter restricts results to points whose metadata matches every key.
	// A non-empty filter is folded into the cache key.
	Filter Metadata
	// Embedder overrides the engine's embedder for this call, e.g. when a
	// caller supplies a custom embedding endpoint.
	Embedder Embedder
}

// Threshold returns a pointer to t, for SearchRequest.ScoreThreshold literals.
func Threshold(t float32) *float32 { return &t }

// Engine performs cached similarity search over conversation collections.
// It is safe for concurrent use. Two concurrent misses for the same query
// both search and both write the cache; the last write wins.
type Engine struct {
	// backend is the vector store.
	backend VectorBackend
	// collections resolves conversation collections.
	collections *CollectionManager
	// embedder embeds queries unless the request overrides it.
	embedder Embedder
	// cache stores serialized results per (conversation, query).
	cache *cache.Cache
	// cfg holds the TopK, threshold and TTL defaults.
	cfg Config
	// log receives every swallowed retrieval error.
	log *slog.Logger
	// metrics records the path each search took; may be nil.
	metrics *metrics.Metrics
}

// NewEngine constructs an Engine. A nil cache disables result caching.
func NewEngine(backend VectorBackend, collections *CollectionManager, emb Embedder, c *cache.Cache, cfg Config, log *slog.Logger, m *metrics.Metrics) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("rag: backend must not be nil")
	}
	if collections == nil {
		return nil, fmt.Errorf("rag: collection manager must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if c == nil {
		c = cache.NewWithClient(nil, cache.Config{}, log, m)
	}
	return &Engine{
		backend:     backend,
		collections: collections,
		embedder:    emb,
		cache:       c,
		cfg:         cfg.withDefaults(),
		log:         log,
		metrics:     m,
	}, nil
}

// Search returns the chunks of the conversation closest to the query, best
// first. Results whose cosine distance exceeds the threshold are dropped;
// a distance equal to the threshold is kept.
//
// Search never fails. A conversation without a collection, a backend
// outage and an embedding failure all yield an empty, non-nil slice; the
// cause is logged.
func (e *Engine) Search(ctx context.Context, req SearchRequest) []SearchResult {
	start := time.Now()
	key := e.searchKey(req)

	if cached, ok := e.cachedResults(ctx, key); ok {
		e.log.Debug("rag: search cache hit",
			slog.String("conversation_id", req.ConversationID),
			slog.Int("results", len(cached)),
		)
		e.metrics.Search(metrics.PathCache, time.Since(start))
		return cached
	}

	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	threshold := e.cfg.ScoreThreshold
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
	}

	results, path, err := e.search(ctx, req, topK, threshold)
	if err != nil {
		e.log.Error("rag: search failed, returning no results",
			slog.String("conversation_id", req.ConversationID),
			slog.String("error", err.Error()),
		)
		e.metrics.Search(metrics.PathError, time.Since(start))
		return []SearchResult{}
	}
	if path == metrics.PathEmpty {
		e.metrics.Search(path, time.Since(start))
		return results
	}

	e.cache.Set(ctx, key, results, e.cfg.SearchCacheTTL)
	e.log.Info("rag: search complete",
		slog.String("conversation_id", req.ConversationID),
		slog.String("path", path),
		slog.Int("top_k", topK),
		slog.Float64("threshold", float64(threshold)),
		slog.Int("results", len(results)),
	)
	e.metrics.Search(path, time.Since(start))
	return results
}

// search runs the uncached path and reports which path produced the result.
// PathEmpty means the collection does not exist and nothing may be cached.
func (e *Engine) search(ctx context.Context, req SearchRequest, topK int, threshold float32) ([]SearchResult, string, error) {
	name := CollectionName(req.ConversationID)
	exists, err := e.collections.Exists(ctx, name)
	if err != nil {
		return nil, "", err
	}
	if !exists {
		e.log.Debug("rag: no collection for conversation",
			slog.String("conversation_id", req.ConversationID),
		)
		return []SearchResult{}, metrics.PathEmpty, nil
	}

	emb := e.embedder
	if req.Embedder != nil {
		emb = req.Embedder
	}
	vec, err := emb.EmbedOne(ctx, req.Query)
	if err != nil {
		return nil, "", fmt.Errorf("rag: embed query: %w", err)
	}

	points, err := e.backend.Search(ctx, name, vec, topK, req.Filter)
	if err == nil {
		return filterByDistance(points, threshold), metrics.PathPrimary, nil
	}
	if !errors.Is(err, ErrIncompatibleResponse) {
		return nil, "", fmt.Errorf("rag: primary search: %w", err)
	}

	e.log.Warn("rag: primary search incompatible, using fallback",
		slog.String("collection", name),
		slog.String("error", err.Error()),
	)
	points, err = e.backend.SearchWithThreshold(ctx, name, vec, topK, threshold, req.Filter)
	if err != nil {
		return nil, "", fmt.Errorf("rag: fallback search: %w", err)
	}
	return toResults(points), metrics.PathFallback, nil
}

// searchKey derives the cache key for req. Keys are scoped by collection
// name, so conversations sharing a collection also share invalidation.
func (e *Engine) searchKey(req SearchRequest) string {
	scope := CollectionName(req.ConversationID)
	if len(req.Filter) == 0 {
		return e.cache.SearchKey(scope, req.Query)
	}
	return e.cache.SearchKey(scope, req.Query, req.Filter)
}

// cachedResults decodes a cached result list. An undecodable entry is a miss.
func (e *Engine) cachedResults(ctx context.Context, key string) ([]SearchResult, bool) {
	v, ok := e.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var results []SearchResult
	if err := v.Decode(&results); err != nil {
		e.log.Warn("rag: discarding undecodable cached search result",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, true
}

// filterByDistance keeps points with Distance <= threshold, preserving order.
func filterByDistance(points []ScoredPoint, threshold float32) []SearchResult {
	out := make([]SearchResult, 0, len(points))
	for _, p := range points {
		if p.Distance <= threshold {
			out = append(out, newResult(p))
		}
	}
	return out
}

// toResults converts points that were already thresholded by the store.
func toResults(points []ScoredPoint) []SearchResult {
	out := make([]SearchResult, 0, len(points))
	for _, p := range points {
		out = append(out, newResult(p))
	}
	return out
}

// newResult flattens a scored point into a cacheable SearchResult.
func newResult(p ScoredPoint) SearchResult {
	md := p.Metadata
	if md == nil {
		md = Metadata{}
	}
	name := md.String(MetaFileName)
	if name == "" {
		name = UnknownFileName
	}
	return SearchResult{
		Content:  p.Content,
		Metadata: md,
		Score:    p.Distance,
		FileName: name,
		FileID:   md.String(MetaFileID),
	}
}
