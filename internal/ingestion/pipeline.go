package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/convrag/internal/rag"
)

// Indexer stores chunks for a conversation. *rag.Indexer satisfies it.
type Indexer interface {
	Index(ctx context.Context, chunks []rag.Chunk, conversationID, fileID string) (int, error)
}

// File describes one file to ingest into a conversation.
type File struct {
	// Path is the local path of the file.
	Path string
	// TypeHint overrides the extension-based type detection (e.g. "md").
	TypeHint string
	// DisplayName is stored as file_name. Defaults to the base name of Path.
	DisplayName string
	// ConversationID owns the resulting chunks.
	ConversationID string
	// FileID identifies the file within the conversation.
	FileID string
}

// Pipeline orchestrates the load → chunk → embed → upsert flow for files.
type Pipeline struct {
	// splitter chunks the extracted text.
	splitter *Splitter

	// indexer embeds and stores the chunks.
	indexer Indexer

	// log receives per-file progress.
	log *slog.Logger
}

// NewPipeline constructs a Pipeline. A nil splitter uses the default chunk
// size and overlap.
func NewPipeline(splitter *Splitter, indexer Indexer, log *slog.Logger) (*Pipeline, error) {
	if indexer == nil {
		return nil, fmt.Errorf("ingestion: indexer must not be nil")
	}
	if splitter == nil {
		splitter = NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{splitter: splitter, indexer: indexer, log: log}, nil
}

// Chunk loads f and splits it into chunks without indexing them.
func (p *Pipeline) Chunk(f File) ([]rag.Chunk, error) {
	ft, err := InferFileType(f.Path, f.TypeHint)
	if err != nil {
		return nil, err
	}
	text, err := LoadFile(f.Path, ft)
	if err != nil {
		return nil, err
	}
	base := BaseMetadata(f.Path, ft, f.DisplayName, f.ConversationID, f.FileID)
	return p.splitter.Split(text, base), nil
}

// Ingest chunks and indexes each file in order and returns the total number
// of chunks stored. It stops at the first failure. Progress is reported via
// the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, files []File, progress func(msg string)) (int, error) {
	if progress == nil {
		progress = func(string) {}
	}

	total := 0
	for _, f := range files {
		if f.ConversationID == "" || f.FileID == "" {
			return total, fmt.Errorf("ingestion: %s: conversation and file IDs are required", f.Path)
		}

		chunks, err := p.Chunk(f)
		if err != nil {
			return total, fmt.Errorf("ingestion: %s: %w", f.Path, err)
		}
		progress(fmt.Sprintf("chunked %s into %d chunks", f.Path, len(chunks)))

		n, err := p.indexer.Index(ctx, chunks, f.ConversationID, f.FileID)
		if err != nil {
			return total, fmt.Errorf("ingestion: %s: %w", f.Path, err)
		}
		total += n

		p.log.Info("ingestion: file ingested",
			slog.String("path", f.Path),
			slog.String("conversation_id", f.ConversationID),
			slog.String("file_id", f.FileID),
			slog.Int("chunks", n),
		)
		progress(fmt.Sprintf("indexed %d chunks from %s", n, f.Path))
	}
	return total, nil
}
