package rag

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/54b3r/convrag/internal/metrics"
)

// upsertBatch caps the number of points sent in one Upsert call.
const upsertBatch = 256

// Manifest records which files are indexed in which conversation.
// Implementations must be safe for concurrent use.
type Manifest interface {
	// RecordFile notes that chunks points of fileID are now stored.
	RecordFile(ctx context.Context, conversationID, fileID, fileName string, chunks int) error
	// RemoveFile forgets fileID. Removing an unknown file is not an error.
	RemoveFile(ctx context.Context, conversationID, fileID string) error
}

// Indexer embeds pre-chunked documents and writes them into the owning
// conversation's collection.
type Indexer struct {
	// backend receives the upserts.
	backend VectorBackend
	// collections creates collections lazily.
	collections *CollectionManager
	// embedder embeds chunk texts.
	embedder Embedder
	// manifest is optional.
	manifest Manifest
	// log receives indexing events.
	log *slog.Logger
	// metrics may be nil.
	metrics *metrics.Metrics
}

// NewIndexer constructs an Indexer. manifest may be nil.
func NewIndexer(backend VectorBackend, collections *CollectionManager, emb Embedder, manifest Manifest, log *slog.Logger, m *metrics.Metrics) (*Indexer, error) {
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
	return &Indexer{
		backend:     backend,
		collections: collections,
		embedder:    emb,
		manifest:    manifest,
		log:         log,
		metrics:     m,
	}, nil
}

// Index embeds chunks and upserts one point per chunk into the
// conversation's collection, creating it first if needed. It returns the
// number of chunks stored. Every failure wraps ErrIndexing; the count is
// only non-zero when every point was written.
//
// Index is not atomic: a failure in a later upsert batch leaves earlier
// batches stored. Point IDs are deterministic, so retrying is safe.
func (ix *Indexer) Index(ctx context.Context, chunks []Chunk, conversationID, fileID string) (int, error) {
	if len(chunks) == 0 {
		ix.log.Warn("rag: no chunks to index",
			slog.String("conversation_id", conversationID),
			slog.String("file_id", fileID),
		)
		return 0, nil
	}

	texts := make([]string, len(chunks))
	metas := make([]Metadata, len(chunks))
	indices := make([]int, len(chunks))
	seen := make(map[int]int, len(chunks))
	for i, c := range chunks {
		md, err := chunkMetadata(c.Metadata, conversationID, fileID)
		if err != nil {
			return 0, fmt.Errorf("%w: chunk %d: %w", ErrIndexing, i, err)
		}
		// Point IDs derive from the chunk index; a repeat would overwrite a
		// point and the returned count would overstate what was stored.
		idx := chunkIndex(md, i)
		if prev, dup := seen[idx]; dup {
			return 0, fmt.Errorf("%w: chunk %d repeats chunk_index %d of chunk %d", ErrIndexing, i, idx, prev)
		}
		seen[idx] = i
		texts[i] = c.Text
		metas[i] = md
		indices[i] = idx
	}

	name := CollectionName(conversationID)
	if err := ix.collections.EnsureCollection(ctx, name); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIndexing, err)
	}

	vectors, err := ix.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("%w: embed chunks: %w", ErrIndexing, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("%w: embedder returned %d vectors for %d chunks", ErrIndexing, len(vectors), len(chunks))
	}

	points := make([]Point, len(chunks))
	for i := range chunks {
		points[i] = Point{
			ID:       PointID(conversationID, fileID, indices[i]),
			Vector:   vectors[i],
			Content:  texts[i],
			Metadata: metas[i],
		}
	}

	for start := 0; start < len(points); start += upsertBatch {
		end := min(start+upsertBatch, len(points))
		if err := ix.backend.Upsert(ctx, name, points[start:end]); err != nil {
			return 0, fmt.Errorf("%w: upsert points %d-%d: %w", ErrIndexing, start, end-1, err)
		}
	}

	ix.metrics.IndexedChunks(len(points))
	ix.log.Info("rag: file indexed",
		slog.String("collection", name),
		slog.String("file_id", fileID),
		slog.Int("chunks", len(points)),
	)

	if ix.manifest != nil {
		if err := ix.manifest.RecordFile(ctx, conversationID, fileID, metas[0].String(MetaFileName), len(points)); err != nil {
			ix.log.Warn("rag: manifest record failed",
				slog.String("file_id", fileID),
				slog.String("error", err.Error()),
			)
		}
	}
	return len(points), nil
}

// DeleteFile removes the points of fileID from the conversation's
// collection. Cached search results of the conversation are left to expire
// and may still cite the file until then.
func (ix *Indexer) DeleteFile(ctx context.Context, conversationID, fileID string) error {
	if err := ix.collections.DeletePointsByFile(ctx, CollectionName(conversationID), fileID); err != nil {
		return err
	}
	if ix.manifest != nil {
		if err := ix.manifest.RemoveFile(ctx, conversationID, fileID); err != nil {
			ix.log.Warn("rag: manifest remove failed",
				slog.String("file_id", fileID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// chunkMetadata copies md and fills conversation_id and file_id when absent.
// A chunk that names a different conversation or file is rejected.
func chunkMetadata(md Metadata, conversationID, fileID string) (Metadata, error) {
	out := make(Metadata, len(md)+2)
	maps.Copy(out, md)

	if v, ok := out[MetaConversationID]; ok && v != conversationID {
		return nil, fmt.Errorf("conversation_id %v does not match %q", v, conversationID)
	}
	if v, ok := out[MetaFileID]; ok && v != fileID {
		return nil, fmt.Errorf("file_id %v does not match %q", v, fileID)
	}
	out[MetaConversationID] = conversationID
	out[MetaFileID] = fileID
	return out, nil
}

// chunkIndex reads metadata.chunk_index, falling back to the chunk's position.
func chunkIndex(md Metadata, fallback int) int {
	switch v := md[MetaChunkIndex].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
