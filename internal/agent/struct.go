package agent

import (
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/flow/agent/react"

	"github.com/54b3r/convrag/internal/tools"
)

// Config holds the dependencies required to construct a DocumentAgent.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.ToolCallingChatModel

	// Tools is the list of tools available to the agent, normally
	// search_documents and list_documents bound to ConversationID.
	Tools []tool.BaseTool

	// Searcher, when set, prefetches passages for the question and injects
	// them as a system message before the model's first step.
	Searcher tools.Searcher

	// ConversationID scopes the prefetch search.
	ConversationID string

	// MaxContextTokens is the estimated token budget for the full input
	// (system prompt, prefetched passages, question). Defaults to
	// DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// MaxSteps caps the ReAct loop. Defaults to DefaultMaxSteps if zero.
	MaxSteps int
}

// DocumentAgent answers questions about the files uploaded to one
// conversation, calling retrieval tools as it sees fit.
type DocumentAgent struct {
	// reactAgent is the underlying Eino ReAct loop agent.
	reactAgent *react.Agent

	// searcher is the optional prefetch searcher.
	searcher tools.Searcher

	// conversationID scopes the prefetch search.
	conversationID string

	// maxContextTokens is the estimated token budget for the full input.
	maxContextTokens int
}
