package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/convrag/internal/budget"
	"github.com/54b3r/convrag/internal/rag"
)

// NoResultsMessage is returned to the model when retrieval finds nothing.
const NoResultsMessage = "No relevant documents found for this query."

// SearchTool is an Eino tool that searches the documents uploaded to one
// conversation and returns the matching chunks as numbered sources.
type SearchTool struct {
	// searcher performs the cached retrieval.
	searcher Searcher

	// conversationID scopes every search.
	conversationID string

	// maxTokens bounds the formatted output.
	maxTokens int
}

// searchInput is the JSON-serialisable input schema for SearchTool.
type searchInput struct {
	// Query is the natural-language search query.
	Query string `json:"query"`

	// TopK caps the number of chunks returned.
	TopK int `json:"top_k,omitempty"`

	// ScoreThreshold is the maximum cosine distance kept (lower is stricter).
	ScoreThreshold *float32 `json:"score_threshold,omitempty"`

	// FileID restricts the search to one uploaded file.
	FileID string `json:"file_id,omitempty"`
}

// NewSearchTool constructs a SearchTool bound to conversationID. A
// non-positive maxTokens uses budget.DefaultMaxContextTokens.
func NewSearchTool(searcher Searcher, conversationID string, maxTokens int) *SearchTool {
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}
	return &SearchTool{searcher: searcher, conversationID: conversationID, maxTokens: maxTokens}
}

// Name returns the tool name registered with the agent.
func (t *SearchTool) Name() string { return "search_documents" }

// Description returns the LLM-facing description of this tool.
func (t *SearchTool) Description() string {
	return "Searches the documents the user uploaded to this conversation and returns the most relevant passages " +
		"with their source file names. Use this whenever the answer may depend on the user's files."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *SearchTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "What to look for, phrased as a question or keywords.",
				Required: true,
			},
			"top_k": {
				Type: schema.Integer,
				Desc: "Maximum number of passages to return (default 5).",
			},
			"score_threshold": {
				Type: schema.Number,
				Desc: "Maximum cosine distance of a passage, between 0 and 2. Lower values return only closer matches (default 0.7).",
			},
			"file_id": {
				Type: schema.String,
				Desc: "Optional file ID to restrict the search to a single uploaded file.",
			},
		}),
	}, nil
}

// InvokableRun executes the tool given a JSON-encoded input string and returns
// the formatted passages for the agent to consume.
func (t *SearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input searchInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("search_documents: invalid input: %w", err)
	}
	input.Query = strings.TrimSpace(input.Query)
	if input.Query == "" {
		return "", fmt.Errorf("search_documents: query is required")
	}
	if input.ScoreThreshold != nil && (*input.ScoreThreshold < 0 || *input.ScoreThreshold > 2) {
		return "", fmt.Errorf("search_documents: score_threshold must be between 0 and 2")
	}

	req := rag.SearchRequest{
		Query:          input.Query,
		ConversationID: t.conversationID,
		TopK:           input.TopK,
		ScoreThreshold: input.ScoreThreshold,
	}
	if input.FileID != "" {
		req.Filter = rag.Metadata{rag.MetaFileID: input.FileID}
	}

	results := t.searcher.Search(ctx, req)
	if len(results) == 0 {
		return NoResultsMessage, nil
	}
	return rag.FormatContext(results, t.maxTokens), nil
}

// ContextMessage retrieves passages for query and wraps them in a system
// message for a model prompt. It returns nil when nothing relevant is found,
// so callers can append it unconditionally after a nil check.
func ContextMessage(ctx context.Context, searcher Searcher, conversationID, query string, maxTokens int) *schema.Message {
	results := searcher.Search(ctx, rag.SearchRequest{Query: query, ConversationID: conversationID})
	if len(results) == 0 {
		return nil
	}
	return schema.SystemMessage(
		"Relevant information from the user's uploaded documents:\n\n" +
			rag.FormatContext(results, maxTokens) +
			"\n\nUse these sources when they answer the question and cite them by source number.",
	)
}
