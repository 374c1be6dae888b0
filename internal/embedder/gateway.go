package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"golang.org/x/time/rate"

	"github.com/54b3r/convrag/internal/cache"
	"github.com/54b3r/convrag/internal/metrics"
)

// Gateway is the caching front of an embedding Backend. Vectors are looked up
// per text in the cache, only the misses are sent to the backend in a single
// batch, and freshly computed vectors are written back. It is safe for
// concurrent use.
type Gateway struct {
	// backend computes vectors on cache misses.
	backend Backend
	// provider labels metrics.
	provider Provider
	// cache stores vectors keyed by (text, model). May be disabled.
	cache *cache.Cache
	// dimension is the required vector length; 0 skips the check.
	dimension int
	// ttl is the lifetime of cached vectors.
	ttl time.Duration
	// limiter throttles backend requests; nil means unlimited.
	limiter *rate.Limiter
	// log receives cache and backend diagnostics.
	log *slog.Logger
	// metrics records backend calls and hit ratios; may be nil.
	metrics *metrics.Metrics
}

// Compile-time check that Gateway satisfies Eino's embedding contract.
var _ embedding.Embedder = (*Gateway)(nil)

// NewGateway wraps backend with c. A nil cache disables caching. cfg supplies
// the provider label, the required dimension, the cache TTL and the optional
// request rate.
func NewGateway(backend Backend, c *cache.Cache, cfg Config, log *slog.Logger, m *metrics.Metrics) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if c == nil {
		c = cache.NewWithClient(nil, cache.Config{}, log, m)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}
	return &Gateway{
		backend:   backend,
		provider:  cfg.Provider,
		cache:     c,
		dimension: cfg.Dimension,
		ttl:       ttl,
		limiter:   limiter,
		log:       log,
		metrics:   m,
	}
}

// WithBackend returns a gateway that shares this gateway's cache, limiter
// and settings but computes misses with b. Vectors from b are cached under
// b.Model(), so b shares entries with the default backend only when both
// report the same model identifier.
func (g *Gateway) WithBackend(b Backend) *Gateway {
	clone := *g
	clone.backend = b
	return &clone
}

// Model returns the model of the underlying backend.
func (g *Gateway) Model() string { return g.backend.Model() }

// Dimension returns the required vector length.
func (g *Gateway) Dimension() int { return g.dimension }

// EmbedMany returns one vector per input text, in input order.
//
// Repeated texts are sent to the backend once and the resulting vector is
// placed at every position that asked for it. On backend failure nothing is
// cached and the error (wrapping ErrBackendUnavailable) is returned.
func (g *Gateway) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	model := g.backend.Model()

	// missing holds each uncached text once, in first-seen order; positions
	// maps it to every input index that needs it.
	var missing []string
	positions := make(map[string][]int)
	for i, text := range texts {
		if idxs, pending := positions[text]; pending {
			positions[text] = append(idxs, i)
			continue
		}
		if vec, ok := g.lookup(ctx, text, model); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		positions[text] = []int{i}
	}

	hits := len(texts)
	for _, idxs := range positions {
		hits -= len(idxs)
	}
	g.metrics.EmbeddingTexts("cache", hits)

	if len(missing) == 0 {
		g.log.Debug("embedder: all vectors served from cache", slog.Int("texts", len(texts)))
		return out, nil
	}

	g.log.Debug("embedder: computing uncached vectors",
		slog.Int("texts", len(texts)),
		slog.Int("cache_hits", hits),
		slog.Int("to_compute", len(missing)),
	)

	vecs, err := g.compute(ctx, missing)
	if err != nil {
		return nil, err
	}
	g.metrics.EmbeddingTexts("backend", len(missing))

	for j, text := range missing {
		for n, i := range positions[text] {
			if n == 0 {
				out[i] = vecs[j]
			} else {
				out[i] = slices.Clone(vecs[j])
			}
		}
	}

	for j, text := range missing {
		g.cache.Set(ctx, g.cache.EmbeddingKey(text, model), cache.EncodeVector(vecs[j]), g.ttl)
	}

	return out, nil
}

// EmbedOne embeds a single text; same semantics as EmbedMany with one input.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedStrings implements Eino's embedding.Embedder so the gateway can be
// handed directly to Eino indexers and retrievers.
func (g *Gateway) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	vecs, err := g.EmbedMany(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(vecs))
	for i, v := range vecs {
		f := make([]float64, len(v))
		for j, x := range v {
			f[j] = float64(x)
		}
		out[i] = f
	}
	return out, nil
}

// lookup returns the cached vector for (text, model). Entries that fail to
// decode or have the wrong length are treated as misses.
func (g *Gateway) lookup(ctx context.Context, text, model string) ([]float32, bool) {
	key := g.cache.EmbeddingKey(text, model)
	v, ok := g.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	vec, err := cache.DecodeVector(v.Bytes())
	if err != nil {
		g.log.Warn("embedder: discarding undecodable cached vector", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	if g.dimension > 0 && len(vec) != g.dimension {
		g.log.Warn("embedder: discarding cached vector of wrong dimension",
			slog.String("key", key),
			slog.Int("got", len(vec)),
			slog.Int("want", g.dimension),
		)
		return nil, false
	}
	return vec, true
}

// compute sends texts to the backend in one request and validates the result.
func (g *Gateway) compute(ctx context.Context, texts []string) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedder: rate limiter: %w", err)
		}
	}

	vecs, err := g.backend.Embed(ctx, texts)
	if err != nil {
		g.metrics.EmbeddingRequest(string(g.provider), metrics.ResultError)
		return nil, fmt.Errorf("embedder: embed %d texts: %w", len(texts), err)
	}
	if len(vecs) != len(texts) {
		g.metrics.EmbeddingRequest(string(g.provider), metrics.ResultError)
		return nil, fmt.Errorf("%w: backend returned %d vectors for %d texts", ErrBackendUnavailable, len(vecs), len(texts))
	}
	g.metrics.EmbeddingRequest(string(g.provider), metrics.ResultOK)

	if g.dimension > 0 {
		for i, v := range vecs {
			if len(v) != g.dimension {
				return nil, fmt.Errorf("%w: model %q returned %d values for text %d, expected %d",
					ErrDimensionMismatch, g.backend.Model(), len(v), i, g.dimension)
			}
		}
	}
	return vecs, nil
}
