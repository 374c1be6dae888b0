package embedder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/54b3r/convrag/internal/cache"
)

// fakeBackend returns deterministic vectors and records every batch it sees.
type fakeBackend struct {
	mu      sync.Mutex
	model   string
	dim     int
	err     error
	batches [][]string
}

func (f *fakeBackend) Model() string { return f.model }

func (f *fakeBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t, f.dim)
	}
	return out, nil
}

// calls returns the recorded batches.
func (f *fakeBackend) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

// vectorFor derives a stable vector from text.
func vectorFor(text string, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(len(text)*(i+1)) + float32(text[0])
	}
	return v
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newGatewayWithCache builds a Gateway over a fake backend and a miniredis cache.
func newGatewayWithCache(t *testing.T, dim int) (*Gateway, *fakeBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewWithClient(client, cache.Config{}, quietLogger(), nil)

	fb := &fakeBackend{model: "test-model", dim: dim}
	g := NewGateway(fb, c, Config{Provider: ProviderLocal, Dimension: dim}, quietLogger(), nil)
	return g, fb, mr
}

func equalVec(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// EmbedMany
// ---------------------------------------------------------------------------

func TestEmbedMany_EmptyInput(t *testing.T) {
	t.Parallel()
	g, fb, _ := newGatewayWithCache(t, 4)

	out, err := g.EmbedMany(context.Background(), nil)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("want empty result, got %d", len(out))
	}
	if len(fb.calls()) != 0 {
		t.Error("backend must not be called for empty input")
	}
}

func TestEmbedMany_OrderAndLength(t *testing.T) {
	t.Parallel()
	g, _, _ := newGatewayWithCache(t, 4)
	texts := []string{"alpha", "b", "gamma delta"}

	out, err := g.EmbedMany(context.Background(), texts)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(out) != len(texts) {
		t.Fatalf("want %d vectors, got %d", len(texts), len(out))
	}
	for i, text := range texts {
		if !equalVec(out[i], vectorFor(text, 4)) {
			t.Errorf("[%d] vector does not belong to %q", i, text)
		}
	}
}

func TestEmbedMany_DuplicatesComputedOnce(t *testing.T) {
	t.Parallel()
	g, fb, _ := newGatewayWithCache(t, 4)
	texts := []string{"x", "y", "x", "x"}

	out, err := g.EmbedMany(context.Background(), texts)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("want 4 vectors, got %d", len(out))
	}
	for _, i := range []int{0, 2, 3} {
		if !equalVec(out[i], vectorFor("x", 4)) {
			t.Errorf("[%d] want vector of x", i)
		}
	}

	calls := fb.calls()
	if len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("want one batch of 2 unique texts, got %v", calls)
	}

	// Positions must not alias one another.
	out[2][0] = -1
	if out[0][0] == -1 {
		t.Error("duplicate positions share a backing array")
	}
}

func TestEmbedMany_PartialCacheHits(t *testing.T) {
	t.Parallel()
	g, fb, _ := newGatewayWithCache(t, 4)
	ctx := context.Background()

	if _, err := g.EmbedMany(ctx, []string{"a", "c"}); err != nil {
		t.Fatalf("warm: %v", err)
	}

	out, err := g.EmbedMany(ctx, []string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	calls := fb.calls()
	if len(calls) != 2 {
		t.Fatalf("want 2 backend calls, got %d", len(calls))
	}
	if got := calls[1]; len(got) != 2 || got[0] != "b" || got[1] != "d" {
		t.Errorf("second batch should hold only misses [b d], got %v", got)
	}
	for i, text := range []string{"a", "b", "c", "d"} {
		if !equalVec(out[i], vectorFor(text, 4)) {
			t.Errorf("[%d] vector does not belong to %q", i, text)
		}
	}
}

func TestEmbedMany_AllCachedSkipsBackend(t *testing.T) {
	t.Parallel()
	g, fb, _ := newGatewayWithCache(t, 4)
	ctx := context.Background()

	if _, err := g.EmbedOne(ctx, "q"); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if _, err := g.EmbedOne(ctx, "q"); err != nil {
		t.Fatalf("second: %v", err)
	}
	if n := len(fb.calls()); n != 1 {
		t.Errorf("want 1 backend call, got %d", n)
	}
}

func TestEmbedMany_BackendFailureCachesNothing(t *testing.T) {
	t.Parallel()
	g, fb, mr := newGatewayWithCache(t, 4)
	fb.err = ErrBackendUnavailable

	_, err := g.EmbedMany(context.Background(), []string{"a", "b"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("want ErrBackendUnavailable, got %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("nothing should be cached on failure, got %v", keys)
	}
}

func TestEmbedMany_DimensionMismatch(t *testing.T) {
	t.Parallel()
	g, fb, mr := newGatewayWithCache(t, 4)
	fb.dim = 3

	_, err := g.EmbedMany(context.Background(), []string{"a"})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("mismatched vectors must not be cached, got %v", keys)
	}
}

func TestEmbedMany_CacheDownStillEmbeds(t *testing.T) {
	t.Parallel()
	g, fb, mr := newGatewayWithCache(t, 4)
	mr.SetError("LOADING")

	out, err := g.EmbedMany(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(out) != 2 || len(fb.calls()) != 1 {
		t.Errorf("want backend fallback, got %d vectors / %d calls", len(out), len(fb.calls()))
	}
}

func TestEmbedMany_NilCache(t *testing.T) {
	t.Parallel()
	fb := &fakeBackend{model: "m", dim: 2}
	g := NewGateway(fb, nil, Config{Dimension: 2}, quietLogger(), nil)

	if _, err := g.EmbedMany(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if _, err := g.EmbedMany(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if n := len(fb.calls()); n != 2 {
		t.Errorf("without a cache every call reaches the backend, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Model scoping and adapters
// ---------------------------------------------------------------------------

func TestWithBackend_SeparateModelKeys(t *testing.T) {
	t.Parallel()
	g, fb, _ := newGatewayWithCache(t, 4)
	ctx := context.Background()
	override := &fakeBackend{model: "other-model", dim: 4}

	if _, err := g.EmbedOne(ctx, "same text"); err != nil {
		t.Fatalf("default: %v", err)
	}
	if _, err := g.WithBackend(override).EmbedOne(ctx, "same text"); err != nil {
		t.Fatalf("override: %v", err)
	}

	if len(fb.calls()) != 1 || len(override.calls()) != 1 {
		t.Errorf("each model computes its own vector: default=%d override=%d", len(fb.calls()), len(override.calls()))
	}
}

func TestWithBackend_OverrideEndpointNotShared(t *testing.T) {
	t.Parallel()
	g, fb, _ := newGatewayWithCache(t, 4)
	ctx := context.Background()
	inner := &fakeBackend{model: fb.model, dim: 4}
	override := endpointBackend{Backend: inner, endpoint: "http://override:8080/v1"}

	if _, err := g.EmbedOne(ctx, "same text"); err != nil {
		t.Fatalf("default: %v", err)
	}
	if _, err := g.WithBackend(override).EmbedOne(ctx, "same text"); err != nil {
		t.Fatalf("override: %v", err)
	}

	if n := len(inner.calls()); n != 1 {
		t.Errorf("same model behind another endpoint must not reuse cached vectors, got %d calls", n)
	}
}

func TestEmbedStrings_Float64(t *testing.T) {
	t.Parallel()
	g, _, _ := newGatewayWithCache(t, 3)

	out, err := g.EmbedStrings(context.Background(), []string{"hi"})
	if err != nil {
		t.Fatalf("embed strings: %v", err)
	}
	want := vectorFor("hi", 3)
	if len(out) != 1 || len(out[0]) != 3 || out[0][1] != float64(want[1]) {
		t.Errorf("unexpected output %v", out)
	}
}

func TestCachedVectorWrongDimensionIgnored(t *testing.T) {
	t.Parallel()
	g, fb, _ := newGatewayWithCache(t, 4)
	ctx := context.Background()

	// Seed a stale 2-d vector under the key the gateway will use.
	g.cache.Set(ctx, g.cache.EmbeddingKey("t", fb.model), cache.EncodeVector([]float32{1, 2}), 0)

	vec, err := g.EmbedOne(ctx, "t")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 4 || len(fb.calls()) != 1 {
		t.Errorf("stale vector should be recomputed, got len=%d calls=%d", len(vec), len(fb.calls()))
	}
}
