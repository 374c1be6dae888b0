// Package tools exposes the retrieval core to an agent as Eino tools. Each
// tool satisfies both this package's Tool interface and Eino's
// tool.InvokableTool interface so an agent can register it directly.
//
// Tools are bound to one conversation at construction; the agent never
// chooses which conversation's documents it reads.
package tools

import (
	"context"

	"github.com/54b3r/convrag/internal/rag"
	"github.com/54b3r/convrag/internal/store"
)

// Tool is the interface all retrieval tools satisfy. It extends the basic
// Eino tool contract with Name and Description accessors so callers can log
// and route tool calls by name without type assertions.
type Tool interface {
	// Name returns the unique tool name registered with the agent.
	Name() string

	// Description returns a human-readable description of what the tool does.
	// This text is sent to the LLM as part of the tool schema.
	Description() string
}

// Searcher runs a retrieval query. *rag.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, req rag.SearchRequest) []rag.SearchResult
}

// FileLister lists the files indexed into a conversation.
// *store.SQLiteStore satisfies it.
type FileLister interface {
	Files(ctx context.Context, conversationID string) ([]store.FileRecord, error)
}
