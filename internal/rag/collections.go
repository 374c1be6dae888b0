package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/convrag/internal/cache"
)

// collectionPrefix starts every conversation collection name.
const collectionPrefix = "conv_"

// CollectionName maps a conversation ID to its collection name. Hyphens
// (and any other character outside [A-Za-z0-9_]) become underscores, so a
// UUID conversation ID yields a valid identifier on every backend. IDs that
// differ only in those characters share one collection and one cache scope.
func CollectionName(conversationID string) string {
	var b strings.Builder
	b.Grow(len(collectionPrefix) + len(conversationID))
	b.WriteString(collectionPrefix)
	for _, r := range conversationID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// pointNamespace scopes deterministic point IDs.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("convrag/points"))

// PointID derives a stable UUIDv5 from (conversation, file, chunk index) so
// re-indexing the same file replaces its points instead of duplicating them.
func PointID(conversationID, fileID string, chunkIndex int) string {
	name := fmt.Sprintf("%s/%s/%d", conversationID, fileID, chunkIndex)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

// CollectionManager owns the lifecycle of per-conversation collections.
// It is safe for concurrent use.
type CollectionManager struct {
	// backend is the vector store.
	backend VectorBackend
	// cache is purged of a collection's cached results when the collection
	// is deleted.
	cache *cache.Cache
	// dimension is the vector size of newly created collections.
	dimension int
	// log receives lifecycle events.
	log *slog.Logger
}

// NewCollectionManager constructs a CollectionManager. A nil cache disables
// invalidation.
func NewCollectionManager(backend VectorBackend, c *cache.Cache, dimension int, log *slog.Logger) *CollectionManager {
	if log == nil {
		log = slog.Default()
	}
	if c == nil {
		c = cache.NewWithClient(nil, cache.Config{}, log, nil)
	}
	return &CollectionManager{backend: backend, cache: c, dimension: dimension, log: log}
}

// Exists reports whether the named collection is present.
func (m *CollectionManager) Exists(ctx context.Context, name string) (bool, error) {
	names, err := m.backend.ListCollections(ctx)
	if err != nil {
		return false, fmt.Errorf("rag: list collections: %w", err)
	}
	return slices.Contains(names, name), nil
}

// EnsureCollection creates the collection when it is absent. Losing a
// creation race to a concurrent caller counts as success. When the backend
// keeps a file_id index it is ensured on every call, so an index that failed
// to build after creation is retried.
func (m *CollectionManager) EnsureCollection(ctx context.Context, name string) error {
	exists, err := m.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		m.log.Debug("rag: collection already exists", slog.String("collection", name))
		return m.ensureFileIndex(ctx, name)
	}

	if err := m.backend.CreateCollection(ctx, name, m.dimension); err != nil {
		if !errors.Is(err, ErrCollectionExists) {
			return fmt.Errorf("rag: create collection %q: %w", name, err)
		}
		m.log.Debug("rag: collection created concurrently", slog.String("collection", name))
		return m.ensureFileIndex(ctx, name)
	}

	m.log.Info("rag: collection created",
		slog.String("collection", name),
		slog.Int("dimension", m.dimension),
	)
	return m.ensureFileIndex(ctx, name)
}

func (m *CollectionManager) ensureFileIndex(ctx context.Context, name string) error {
	fi, ok := m.backend.(FileIndexer)
	if !ok {
		return nil
	}
	if err := fi.EnsureFileIndex(ctx, name); err != nil {
		return fmt.Errorf("rag: ensure file index %q: %w", name, err)
	}
	return nil
}

// DeletePointsByFile removes every point of fileID from the collection.
// A missing collection or zero matching points is not an error.
func (m *CollectionManager) DeletePointsByFile(ctx context.Context, name, fileID string) error {
	if err := m.backend.DeleteByFile(ctx, name, fileID); err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			return nil
		}
		return fmt.Errorf("rag: delete points of file %q: %w", fileID, err)
	}
	m.log.Info("rag: file points deleted",
		slog.String("collection", name),
		slog.String("file_id", fileID),
	)
	return nil
}

// DeleteCollection drops the conversation's collection and purges every
// cached search result and scoped tool output of that collection. Deleting
// a missing collection still purges the cache and returns nil.
func (m *CollectionManager) DeleteCollection(ctx context.Context, conversationID string) error {
	name := CollectionName(conversationID)
	if err := m.backend.DeleteCollection(ctx, name); err != nil && !errors.Is(err, ErrCollectionNotFound) {
		return fmt.Errorf("rag: delete collection %q: %w", name, err)
	}

	purged := m.cache.InvalidateScope(ctx, name)
	m.log.Info("rag: collection deleted",
		slog.String("collection", name),
		slog.Int("cache_keys_purged", purged),
	)
	return nil
}

// Stats returns statistics for the named collection, or nil when it does
// not exist.
func (m *CollectionManager) Stats(ctx context.Context, name string) (*CollectionStats, error) {
	st, err := m.backend.CollectionInfo(ctx, name)
	if err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("rag: collection stats %q: %w", name, err)
	}
	return st, nil
}
