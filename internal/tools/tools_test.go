package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/54b3r/convrag/internal/cache"
	"github.com/54b3r/convrag/internal/rag"
	"github.com/54b3r/convrag/internal/store"
)

var (
	_ tool.InvokableTool = (*SearchTool)(nil)
	_ tool.InvokableTool = (*ListFilesTool)(nil)
	_ tool.InvokableTool = (*CachedTool)(nil)
	_ Tool               = (*SearchTool)(nil)
	_ Tool               = (*ListFilesTool)(nil)

	_ retriever.Retriever = (*Retriever)(nil)
	_ rag.Embedder        = (*einoEmbedder)(nil)
)

// fakeSearcher returns canned results and records the last request.
type fakeSearcher struct {
	mu      sync.Mutex
	results []rag.SearchResult
	last    rag.SearchRequest
	calls   int
}

func (f *fakeSearcher) Search(_ context.Context, req rag.SearchRequest) []rag.SearchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	f.calls++
	return f.results
}

// fakeLister returns canned manifest entries.
type fakeLister struct {
	files []store.FileRecord
	err   error
}

func (f *fakeLister) Files(context.Context, string) ([]store.FileRecord, error) {
	return f.files, f.err
}

func twoResults() []rag.SearchResult {
	return []rag.SearchResult{
		{Content: "alpha body", FileName: "a.md", FileID: "f1", Score: 0.1},
		{Content: "beta body", FileName: "b.md", FileID: "f2", Score: 0.3},
	}
}

// ---------------------------------------------------------------------------
// search_documents
// ---------------------------------------------------------------------------

func TestSearchTool_Info(t *testing.T) {
	t.Parallel()
	st := NewSearchTool(&fakeSearcher{}, "c1", 0)
	info, err := st.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Name != "search_documents" {
		t.Errorf("want search_documents, got %q", info.Name)
	}
	if info.ParamsOneOf == nil {
		t.Error("want parameter schema")
	}
}

func TestSearchTool_InvokableRun(t *testing.T) {
	t.Parallel()
	s := &fakeSearcher{results: twoResults()}
	st := NewSearchTool(s, "c1", 0)

	out, err := st.InvokableRun(context.Background(), `{"query":"  what is alpha ","top_k":3,"score_threshold":0.4,"file_id":"f1"}`)
	if err != nil {
		t.Fatalf("InvokableRun: %v", err)
	}
	if !strings.Contains(out, "[Source 1: a.md") || !strings.Contains(out, "[Source 2: b.md") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if s.last.ConversationID != "c1" || s.last.Query != "what is alpha" || s.last.TopK != 3 {
		t.Errorf("unexpected request %+v", s.last)
	}
	if s.last.ScoreThreshold == nil || *s.last.ScoreThreshold != 0.4 {
		t.Errorf("threshold not passed through: %v", s.last.ScoreThreshold)
	}
	if s.last.Filter[rag.MetaFileID] != "f1" {
		t.Errorf("file filter not set: %v", s.last.Filter)
	}
}

func TestSearchTool_NoResults(t *testing.T) {
	t.Parallel()
	st := NewSearchTool(&fakeSearcher{}, "c1", 0)
	out, err := st.InvokableRun(context.Background(), `{"query":"anything"}`)
	if err != nil {
		t.Fatalf("InvokableRun: %v", err)
	}
	if out != NoResultsMessage {
		t.Errorf("want %q, got %q", NoResultsMessage, out)
	}
}

func TestSearchTool_InvalidInput(t *testing.T) {
	t.Parallel()
	st := NewSearchTool(&fakeSearcher{}, "c1", 0)
	tests := []struct {
		name string
		args string
	}{
		{"not json", `query=x`},
		{"missing query", `{}`},
		{"blank query", `{"query":"   "}`},
		{"negative threshold", `{"query":"x","score_threshold":-0.1}`},
		{"threshold above 2", `{"query":"x","score_threshold":2.5}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := st.InvokableRun(context.Background(), tc.args); err == nil {
				t.Error("want error")
			}
		})
	}
}

func TestContextMessage(t *testing.T) {
	t.Parallel()
	msg := ContextMessage(context.Background(), &fakeSearcher{results: twoResults()}, "c1", "alpha", 0)
	if msg == nil {
		t.Fatal("want a message")
	}
	if msg.Role != schema.System {
		t.Errorf("want system role, got %q", msg.Role)
	}
	if !strings.Contains(msg.Content, "alpha body") {
		t.Errorf("context missing from message: %q", msg.Content)
	}

	if ContextMessage(context.Background(), &fakeSearcher{}, "c1", "alpha", 0) != nil {
		t.Error("want nil message when nothing is found")
	}
}

// ---------------------------------------------------------------------------
// list_documents
// ---------------------------------------------------------------------------

func TestListFilesTool(t *testing.T) {
	t.Parallel()
	when := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	lt := NewListFilesTool(&fakeLister{files: []store.FileRecord{
		{ConversationID: "c1", FileID: "f1", FileName: "a.md", Chunks: 3, IndexedAt: when},
	}}, "c1")

	out, err := lt.InvokableRun(context.Background(), "{}")
	if err != nil {
		t.Fatalf("InvokableRun: %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(got) != 1 || got[0]["file_id"] != "f1" || got[0]["indexed_at"] != "2026-05-01T08:00:00Z" {
		t.Errorf("unexpected output %s", out)
	}
}

func TestListFilesTool_Empty(t *testing.T) {
	t.Parallel()
	out, err := NewListFilesTool(&fakeLister{}, "c1").InvokableRun(context.Background(), "")
	if err != nil {
		t.Fatalf("InvokableRun: %v", err)
	}
	if out != "[]" {
		t.Errorf("want [], got %q", out)
	}
}

func TestListFilesTool_Error(t *testing.T) {
	t.Parallel()
	boom := errors.New("db locked")
	_, err := NewListFilesTool(&fakeLister{err: boom}, "c1").InvokableRun(context.Background(), "")
	if !errors.Is(err, boom) {
		t.Errorf("want wrapped error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// CachedTool
// ---------------------------------------------------------------------------

func newTestCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewWithClient(client, cache.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil), mr
}

func TestCachedTool_ReusesOutput(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t)
	s := &fakeSearcher{results: twoResults()}
	ct := NewCachedTool(NewSearchTool(s, "c1", 0), c, "c1", 0)
	ctx := context.Background()

	first, err := ct.InvokableRun(ctx, `{"query":"alpha","top_k":2}`)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	// Same arguments with different key order and spacing hit the cache.
	second, err := ct.InvokableRun(ctx, `{ "top_k": 2, "query": "alpha" }`)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first != second {
		t.Errorf("cached output differs")
	}
	if s.calls != 1 {
		t.Errorf("want 1 underlying call, got %d", s.calls)
	}

	keys := mr.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "ai:tool:conv_c1:") {
		t.Fatalf("want one tool key, got %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl != cache.DefaultToolTTL {
		t.Errorf("want TTL %v, got %v", cache.DefaultToolTTL, ttl)
	}
}

func TestCachedTool_ScopeSeparatesEntries(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	s := &fakeSearcher{results: twoResults()}
	ctx := context.Background()

	_, _ = NewCachedTool(NewSearchTool(s, "c1", 0), c, "c1", time.Minute).InvokableRun(ctx, `{"query":"alpha"}`)
	_, _ = NewCachedTool(NewSearchTool(s, "c2", 0), c, "c2", time.Minute).InvokableRun(ctx, `{"query":"alpha"}`)
	if s.calls != 2 {
		t.Errorf("different scopes must not share outputs, got %d calls", s.calls)
	}
}

func TestCachedTool_ErrorsNotCached(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t)
	ct := NewCachedTool(NewSearchTool(&fakeSearcher{}, "c1", 0), c, "c1", 0)

	if _, err := ct.InvokableRun(context.Background(), `{}`); err == nil {
		t.Fatal("want error for missing query")
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("errors must not be cached, got %v", keys)
	}
}

func TestCachedTool_DisabledCache(t *testing.T) {
	t.Parallel()
	s := &fakeSearcher{results: twoResults()}
	ct := NewCachedTool(NewSearchTool(s, "c1", 0), nil, "c1", 0)
	for range 2 {
		if _, err := ct.InvokableRun(context.Background(), `{"query":"alpha"}`); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if s.calls != 2 {
		t.Errorf("want pass-through without a cache, got %d calls", s.calls)
	}
}

// memCollections is a VectorBackend holding fixed points per collection;
// every point scores a distance of 0.1.
type memCollections struct {
	mu    sync.Mutex
	colls map[string][]rag.ScoredPoint
}

func (m *memCollections) ListCollections(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.colls))
	for n := range m.colls {
		names = append(names, n)
	}
	return names, nil
}

func (m *memCollections) CreateCollection(_ context.Context, name string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.colls[name]; ok {
		return rag.ErrCollectionExists
	}
	m.colls[name] = nil
	return nil
}

func (m *memCollections) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.colls[name]; !ok {
		return rag.ErrCollectionNotFound
	}
	delete(m.colls, name)
	return nil
}

func (m *memCollections) CollectionInfo(_ context.Context, name string) (*rag.CollectionStats, error) {
	return nil, rag.ErrCollectionNotFound
}

func (m *memCollections) Upsert(context.Context, string, []rag.Point) error { return nil }

func (m *memCollections) Search(_ context.Context, collection string, _ []float32, _ int, _ rag.Metadata) ([]rag.ScoredPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pts, ok := m.colls[collection]
	if !ok {
		return nil, rag.ErrCollectionNotFound
	}
	return pts, nil
}

func (m *memCollections) SearchWithThreshold(ctx context.Context, collection string, v []float32, k int, _ float32, f rag.Metadata) ([]rag.ScoredPoint, error) {
	return m.Search(ctx, collection, v, k, f)
}

func (m *memCollections) DeleteByFile(context.Context, string, string) error { return nil }
func (m *memCollections) Ping(context.Context) error                        { return nil }
func (m *memCollections) Close() error                                      { return nil }

// unitEmbedder embeds every text as the same vector.
type unitEmbedder struct{}

func (unitEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (unitEmbedder) EmbedOne(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func TestCachedTool_DroppedWithCollection(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := &memCollections{colls: map[string][]rag.ScoredPoint{
		rag.CollectionName("c1"): {{
			ID:       "p1",
			Content:  "private passage",
			Metadata: rag.Metadata{rag.MetaFileName: "a.txt", rag.MetaFileID: "f1"},
			Distance: 0.1,
		}},
	}}
	cm := rag.NewCollectionManager(backend, c, 3, log)
	engine, err := rag.NewEngine(backend, cm, unitEmbedder{}, c, rag.Config{}, log, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ct := NewCachedTool(NewSearchTool(engine, "c1", 0), c, "c1", 0)
	ctx := context.Background()

	before, err := ct.InvokableRun(ctx, `{"query":"anything"}`)
	if err != nil {
		t.Fatalf("run before delete: %v", err)
	}
	if !strings.Contains(before, "private passage") {
		t.Fatalf("want the passage before delete, got %q", before)
	}

	if err := cm.DeleteCollection(ctx, "c1"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("want every cached entry of c1 purged, got %v", keys)
	}

	after, err := ct.InvokableRun(ctx, `{"query":"anything"}`)
	if err != nil {
		t.Fatalf("run after delete: %v", err)
	}
	if strings.Contains(after, "private passage") {
		t.Errorf("stale passage served after the collection was deleted: %q", after)
	}
}

// ---------------------------------------------------------------------------
// Eino retriever
// ---------------------------------------------------------------------------

// fakeEinoEmbedder returns a fixed float64 vector per text.
type fakeEinoEmbedder struct {
	calls int
}

func (f *fakeEinoEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	f.calls++
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.5, 0.25}
	}
	return out, nil
}

func TestRetriever_Options(t *testing.T) {
	t.Parallel()
	s := &fakeSearcher{results: twoResults()}
	r := NewRetriever(s, "c1")
	emb := &fakeEinoEmbedder{}

	docs, err := r.Retrieve(context.Background(), " alpha ",
		retriever.WithTopK(2),
		retriever.WithScoreThreshold(0.5),
		retriever.WithEmbedding(emb),
	)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("want 2 documents, got %d", len(docs))
	}
	if s.last.Query != "alpha" || s.last.ConversationID != "c1" || s.last.TopK != 2 {
		t.Errorf("unexpected request %+v", s.last)
	}
	if s.last.ScoreThreshold == nil || *s.last.ScoreThreshold != 0.5 {
		t.Errorf("threshold not forwarded: %v", s.last.ScoreThreshold)
	}
	if s.last.Embedder == nil {
		t.Fatal("embedding override not forwarded")
	}
	vec, err := s.last.Embedder.EmbedOne(context.Background(), "q")
	if err != nil || len(vec) != 2 || vec[0] != 0.5 || vec[1] != 0.25 {
		t.Errorf("adapter returned %v, %v", vec, err)
	}
}

func TestRetriever_Defaults(t *testing.T) {
	t.Parallel()
	s := &fakeSearcher{}
	docs, err := NewRetriever(s, "c1").Retrieve(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("want no documents, got %d", len(docs))
	}
	if s.last.TopK != 0 || s.last.ScoreThreshold != nil || s.last.Embedder != nil {
		t.Errorf("defaults must be left to the engine, got %+v", s.last)
	}
}

func TestRetriever_EmptyQuery(t *testing.T) {
	t.Parallel()
	if _, err := NewRetriever(&fakeSearcher{}, "c1").Retrieve(context.Background(), "  "); err == nil {
		t.Error("want error for blank query")
	}
}

func TestToDocuments(t *testing.T) {
	t.Parallel()
	docs := ToDocuments([]rag.SearchResult{
		{
			Content:  "body",
			FileName: "a.md",
			FileID:   "f1",
			Score:    0.25,
			Metadata: rag.Metadata{rag.MetaFileID: "f1", rag.MetaChunkIndex: int64(3)},
		},
		{Content: "orphan", FileName: rag.UnknownFileName, Score: 0.5, Metadata: rag.Metadata{}},
	})

	if docs[0].ID != "f1#3" || docs[0].Content != "body" {
		t.Errorf("unexpected first document %+v", docs[0])
	}
	if docs[0].Score() != 0.25 {
		t.Errorf("want score 0.25, got %v", docs[0].Score())
	}
	if docs[0].MetaData[rag.MetaFileName] != "a.md" {
		t.Errorf("file_name missing from metadata: %v", docs[0].MetaData)
	}
	if docs[1].ID != "" || docs[1].MetaData[rag.MetaFileName] != rag.UnknownFileName {
		t.Errorf("unexpected second document %+v", docs[1])
	}
}
