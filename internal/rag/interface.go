// Package rag is the retrieval core: per-conversation vector collections,
// document indexing, and similarity search with a Redis-backed result cache.
//
// Every conversation owns one collection. Scores exchanged through this
// package are cosine distances: lower is more similar, and a result passes a
// threshold when score <= threshold. Concrete vector stores (Qdrant) satisfy
// VectorBackend so the engine never depends on a specific backend.
package rag

import (
	"context"
	"errors"
)

// Payload and metadata keys shared by the indexer, the backends and the engine.
const (
	// PayloadContent holds the chunk text in a stored point.
	PayloadContent = "page_content"
	// PayloadMetadata holds the chunk metadata object in a stored point.
	PayloadMetadata = "metadata"
	// payloadText is accepted as a content key from points written by other clients.
	payloadText = "text"

	MetaConversationID = "conversation_id"
	MetaFileID         = "file_id"
	MetaFileName       = "file_name"
	MetaChunkIndex     = "chunk_index"
	MetaTotalChunks    = "total_chunks"

	// UnknownFileName is reported when a chunk carries no file_name.
	UnknownFileName = "Unknown"
)

// Sentinel errors. Callers match with errors.Is.
var (
	// ErrCollectionExists is returned by CreateCollection when the
	// collection already exists. CollectionManager treats it as success.
	ErrCollectionExists = errors.New("rag: collection already exists")

	// ErrCollectionNotFound is returned when an operation targets a
	// collection that does not exist.
	ErrCollectionNotFound = errors.New("rag: collection not found")

	// ErrIncompatibleResponse reports that the primary search API is not
	// supported by the server or returned a payload that cannot be decoded.
	// The engine answers it by switching to the fallback search.
	ErrIncompatibleResponse = errors.New("rag: incompatible vector store response")

	// ErrIndexing wraps every failure of Indexer.Index.
	ErrIndexing = errors.New("rag: indexing failed")
)

// Metadata is the free-form key/value map attached to every chunk.
type Metadata map[string]any

// String returns the value of key as a string, or "" when absent or not a string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Chunk is one contiguous slice of a source document, ready to be embedded.
type Chunk struct {
	// Text is the chunk content.
	Text string `json:"text"`
	// Metadata carries at least conversation_id, file_id, file_name,
	// chunk_index and total_chunks.
	Metadata Metadata `json:"metadata"`
}

// Point is one stored vector together with its payload.
type Point struct {
	// ID is a UUID string; see PointID.
	ID string
	// Vector is the chunk embedding.
	Vector []float32
	// Content is the chunk text, stored under page_content.
	Content string
	// Metadata is stored under metadata.
	Metadata Metadata
}

// ScoredPoint is a search hit as returned by a VectorBackend.
type ScoredPoint struct {
	// ID is the point identifier.
	ID string
	// Content is the chunk text.
	Content string
	// Metadata is the chunk metadata.
	Metadata Metadata
	// Distance is the cosine distance to the query vector (0 = identical).
	Distance float32
}

// SearchResult is one retrieved chunk. It holds plain values only, so it can
// be cached and replayed verbatim.
type SearchResult struct {
	// Content is the chunk text.
	Content string `json:"page_content"`
	// Metadata is the chunk metadata.
	Metadata Metadata `json:"metadata"`
	// Score is the cosine distance to the query; lower is better.
	Score float32 `json:"score"`
	// FileName is metadata.file_name, or "Unknown".
	FileName string `json:"file_name"`
	// FileID is metadata.file_id, or "".
	FileID string `json:"file_id"`
}

// CollectionStats describes a conversation collection.
type CollectionStats struct {
	// Name is the collection name.
	Name string `json:"collection_name"`
	// VectorsCount is the number of stored vectors. Each point carries exactly
	// one vector, so it equals PointsCount.
	VectorsCount uint64 `json:"vectors_count"`
	// PointsCount is the number of stored points.
	PointsCount uint64 `json:"points_count"`
	// IndexedVectorsCount is the number of vectors already in the ANN index.
	IndexedVectorsCount uint64 `json:"indexed_vectors_count"`
	// Status is the backend's health word for the collection (e.g. "green").
	Status string `json:"status"`
}

// VectorBackend is the vector store contract.
// Implementations must be safe to call from multiple goroutines.
type VectorBackend interface {
	// ListCollections returns the names of every collection.
	ListCollections(ctx context.Context) ([]string, error)

	// CreateCollection creates a cosine-distance collection of the given
	// dimension. Returns ErrCollectionExists if it is already present.
	CreateCollection(ctx context.Context, name string, dimension int) error

	// DeleteCollection drops the collection. Returns ErrCollectionNotFound
	// if it does not exist.
	DeleteCollection(ctx context.Context, name string) error

	// CollectionInfo returns statistics, or ErrCollectionNotFound.
	CollectionInfo(ctx context.Context, name string) (*CollectionStats, error)

	// Upsert inserts or replaces points by ID.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns up to k nearest points, best first, scored by cosine
	// distance. filter restricts results to points whose metadata matches
	// every key. Returns ErrIncompatibleResponse when the search API is
	// unsupported or its response cannot be decoded.
	Search(ctx context.Context, collection string, vector []float32, k int, filter Metadata) ([]ScoredPoint, error)

	// SearchWithThreshold is the lower-level nearest-neighbour query that
	// applies the distance cutoff natively in the store. Only points with
	// distance <= maxDistance are returned.
	SearchWithThreshold(ctx context.Context, collection string, vector []float32, k int, maxDistance float32, filter Metadata) ([]ScoredPoint, error)

	// DeleteByFile removes every point whose metadata.file_id equals fileID.
	// Matching zero points is not an error.
	DeleteByFile(ctx context.Context, collection, fileID string) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// FileIndexer is implemented by backends that keep a payload index on
// metadata.file_id. EnsureFileIndex succeeds when the index already exists.
type FileIndexer interface {
	EnsureFileIndex(ctx context.Context, collection string) error
}

// Embedder is the embedding contract the engine and indexer depend on.
// *embedder.Gateway satisfies it.
type Embedder interface {
	// EmbedMany returns one vector per text, in input order.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}
