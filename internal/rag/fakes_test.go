package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/54b3r/convrag/internal/cache"
)

// memBackend is an in-memory VectorBackend scoring by cosine distance.
type memBackend struct {
	mu    sync.Mutex
	colls map[string]map[string]Point
	dims  map[string]int

	// searchErr is returned by Search when set.
	searchErr error
	// fallbackErr is returned by SearchWithThreshold when set.
	fallbackErr error
	// upsertErr is returned by Upsert when set.
	upsertErr error
	// raceCreate makes CreateCollection create the collection and still
	// report ErrCollectionExists, as a caller losing a creation race sees.
	raceCreate bool
	// canned replaces computed hits in Search when non-nil.
	canned []ScoredPoint

	searchCalls   int
	fallbackCalls int
	lastFilter    Metadata
}

func newMemBackend() *memBackend {
	return &memBackend{
		colls: make(map[string]map[string]Point),
		dims:  make(map[string]int),
	}
}

func (b *memBackend) ListCollections(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.colls))
	for n := range b.colls {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (b *memBackend) CreateCollection(_ context.Context, name string, dimension int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.colls[name]; ok {
		return ErrCollectionExists
	}
	b.colls[name] = make(map[string]Point)
	b.dims[name] = dimension
	if b.raceCreate {
		return ErrCollectionExists
	}
	return nil
}

func (b *memBackend) DeleteCollection(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.colls[name]; !ok {
		return ErrCollectionNotFound
	}
	delete(b.colls, name)
	delete(b.dims, name)
	return nil
}

func (b *memBackend) CollectionInfo(_ context.Context, name string) (*CollectionStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.colls[name]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	n := uint64(len(c))
	return &CollectionStats{Name: name, VectorsCount: n, PointsCount: n, IndexedVectorsCount: n, Status: "green"}, nil
}

func (b *memBackend) Upsert(_ context.Context, collection string, points []Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.upsertErr != nil {
		return b.upsertErr
	}
	c, ok := b.colls[collection]
	if !ok {
		return ErrCollectionNotFound
	}
	for _, p := range points {
		c[p.ID] = p
	}
	return nil
}

func (b *memBackend) Search(_ context.Context, collection string, vector []float32, k int, filter Metadata) ([]ScoredPoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.searchCalls++
	b.lastFilter = filter
	if b.searchErr != nil {
		return nil, b.searchErr
	}
	if b.canned != nil {
		return slices.Clone(b.canned), nil
	}
	return b.nearest(collection, vector, k, math.MaxFloat32, filter)
}

func (b *memBackend) SearchWithThreshold(_ context.Context, collection string, vector []float32, k int, maxDistance float32, filter Metadata) ([]ScoredPoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallbackCalls++
	if b.fallbackErr != nil {
		return nil, b.fallbackErr
	}
	return b.nearest(collection, vector, k, maxDistance, filter)
}

// nearest must be called with mu held.
func (b *memBackend) nearest(collection string, vector []float32, k int, maxDistance float32, filter Metadata) ([]ScoredPoint, error) {
	c, ok := b.colls[collection]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	var hits []ScoredPoint
	for _, p := range c {
		if !matches(p.Metadata, filter) {
			continue
		}
		d := cosineDistance(vector, p.Vector)
		if d > maxDistance {
			continue
		}
		hits = append(hits, ScoredPoint{ID: p.ID, Content: p.Content, Metadata: p.Metadata, Distance: d})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (b *memBackend) DeleteByFile(_ context.Context, collection, fileID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.colls[collection]
	if !ok {
		return ErrCollectionNotFound
	}
	for id, p := range c {
		if p.Metadata.String(MetaFileID) == fileID {
			delete(c, id)
		}
	}
	return nil
}

func (b *memBackend) Ping(context.Context) error { return nil }
func (b *memBackend) Close() error               { return nil }

// count returns the number of points in collection.
func (b *memBackend) count(collection string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.colls[collection])
}

func matches(md, filter Metadata) bool {
	for k, v := range filter {
		if md[k] != v {
			return false
		}
	}
	return true
}

func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

// ---------------------------------------------------------------------------

// fakeEmbedder maps known texts to fixed 3-d vectors; anything else points
// along the z axis.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{
		"topic": {1, 0, 0},
		"alpha": {1, 0, 0},
		"beta":  {0.8, 0.6, 0},
		"gamma": {0, 1, 0},
	}}
}

func (f *fakeEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = slices.Clone(v)
		} else {
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

var errBackendDown = errors.New("backend down")

// ---------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture wires the retrieval core over in-memory fakes and miniredis.
type fixture struct {
	backend     *memBackend
	embedder    *fakeEmbedder
	cache       *cache.Cache
	redis       *miniredis.Miniredis
	collections *CollectionManager
	engine      *Engine
	indexer     *Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := discardLogger()
	c := cache.NewWithClient(client, cache.Config{}, log, nil)
	backend := newMemBackend()
	emb := newFakeEmbedder()
	cm := NewCollectionManager(backend, c, 3, log)

	engine, err := NewEngine(backend, cm, emb, c, Config{}, log, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	indexer, err := NewIndexer(backend, cm, emb, nil, log, nil)
	if err != nil {
		t.Fatalf("NewIndexer: %v", err)
	}
	return &fixture{
		backend:     backend,
		embedder:    emb,
		cache:       c,
		redis:       mr,
		collections: cm,
		engine:      engine,
		indexer:     indexer,
	}
}

// chunksFor builds chunks for texts with the required metadata.
func chunksFor(conv, file string, texts ...string) []Chunk {
	out := make([]Chunk, len(texts))
	for i, t := range texts {
		out[i] = Chunk{Text: t, Metadata: Metadata{
			MetaConversationID: conv,
			MetaFileID:         file,
			MetaFileName:       file + ".txt",
			MetaChunkIndex:     i,
			MetaTotalChunks:    len(texts),
		}}
	}
	return out
}

// searchKeys returns the cached search keys of conv.
func (f *fixture) searchKeys(conv string) []string {
	var out []string
	prefix := "ai:search:" + CollectionName(conv) + ":"
	for _, k := range f.redis.Keys() {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out
}
