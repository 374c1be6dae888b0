// Package agent wires the Eino ReAct agent to the retrieval tools so a chat
// model can answer questions from a conversation's uploaded documents. The
// agent decides when to call search_documents or list_documents and when to
// respond directly.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/convrag/internal/budget"
	"github.com/54b3r/convrag/internal/logging"
	"github.com/54b3r/convrag/internal/tools"
)

const (
	// DefaultMaxContextTokens is the input budget used when Config leaves it
	// unset. Sized for an 8k-context model with room for the answer.
	DefaultMaxContextTokens = 6000

	// DefaultMaxSteps caps the ReAct loop when Config leaves it unset.
	DefaultMaxSteps = 12

	// minPrefetchTokens is the smallest budget worth spending on prefetched
	// passages; below it the model relies on the search tool alone.
	minPrefetchTokens = 200
)

// systemPrompt is injected at the start of every query.
const systemPrompt = `You are a research assistant that answers questions using the documents
the user uploaded to this conversation.

## Tools

- search_documents: semantic search over the uploaded documents. Call it with a
  focused query. Pass file_id to restrict the search to one document.
- list_documents: lists the uploaded documents with their file IDs.

## How to answer

- Ground every factual claim in the retrieved sources and cite them as
  [Source N] using the numbers shown in the search output.
- If the sources do not contain the answer, say so plainly. Do not invent
  content and do not fill gaps from general knowledge without saying that you
  are doing so.
- When a question is about a specific document, list the documents first and
  then search within that file.
- Rephrase and search again when the first search returns nothing relevant.
- Keep answers concise and quote short passages where exact wording matters.`

// New constructs a DocumentAgent from the provided Config.
func New(ctx context.Context, cfg *Config) (*DocumentAgent, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("agent: ChatModel must not be nil")
	}
	if cfg.Searcher != nil && cfg.ConversationID == "" {
		return nil, fmt.Errorf("agent: ConversationID is required with a Searcher")
	}

	steps := cfg.MaxSteps
	if steps <= 0 {
		steps = DefaultMaxSteps
	}

	reactAgent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: cfg.ChatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: cfg.Tools,
		},
		MaxStep: steps,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: failed to create ReAct agent: %w", err)
	}

	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = DefaultMaxContextTokens
	}

	return &DocumentAgent{
		reactAgent:       reactAgent,
		searcher:         cfg.Searcher,
		conversationID:   cfg.ConversationID,
		maxContextTokens: maxCtx,
	}, nil
}

// Query sends question to the agent and streams the answer to w as it
// arrives. The full answer is also returned.
func (a *DocumentAgent) Query(ctx context.Context, question string, w io.Writer) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("agent: question must not be empty")
	}

	messages := a.buildMessages(ctx, question)

	sr, err := a.reactAgent.Stream(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("agent: stream failed: %w", err)
	}
	defer sr.Close()

	var answer strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return answer.String(), fmt.Errorf("agent: stream receive error: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		answer.WriteString(msg.Content)
		if _, err := io.WriteString(w, msg.Content); err != nil {
			return answer.String(), fmt.Errorf("agent: write error: %w", err)
		}
	}
	return answer.String(), nil
}

// buildMessages assembles [system, prefetched passages?, question]. The
// passages get whatever budget the prompt and question leave over.
func (a *DocumentAgent) buildMessages(ctx context.Context, question string) []*schema.Message {
	system := schema.SystemMessage(systemPrompt)
	user := schema.UserMessage(question)
	messages := []*schema.Message{system}

	if a.searcher != nil {
		remaining := a.maxContextTokens - budget.EstimateMessages([]*schema.Message{system, user})
		if remaining < minPrefetchTokens {
			logging.FromContext(ctx).Warn("budget: no room for prefetched passages",
				slog.Int("remaining_tokens", remaining),
				slog.Int("max_tokens", a.maxContextTokens),
			)
		} else if msg := tools.ContextMessage(ctx, a.searcher, a.conversationID, question, remaining); msg != nil {
			messages = append(messages, msg)
		}
	}

	return append(messages, user)
}
