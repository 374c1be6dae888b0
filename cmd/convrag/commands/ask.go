package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	"github.com/spf13/cobra"

	"github.com/54b3r/convrag/internal/agent"
	"github.com/54b3r/convrag/internal/provider"
	"github.com/54b3r/convrag/internal/tools"
	"github.com/54b3r/convrag/internal/tracing"
)

// NewAskCmd constructs the `convrag ask` command, which answers a question
// from a conversation's documents and streams the response to stdout.
func NewAskCmd() *cobra.Command {
	var conversationID string
	var maxTokens int
	var noPrefetch bool

	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask a chat model a question about a conversation's files",
		Long: `Answer a question with a chat model that can search the conversation's
indexed files. Relevant passages are prefetched into the prompt; the model
can search again or list the files while it works.

MODEL_PROVIDER selects the chat model (ollama, openai, azure, ark, gemini).
Set LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY to trace runs in Langfuse.

Examples:
  convrag ask --conversation c42 what was the Q3 revenue
  MODEL_PROVIDER=openai convrag ask -c c42 summarise the contract terms`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if conversationID == "" {
				return fmt.Errorf("ask: --conversation is required")
			}
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("ask: question is required")
			}

			tcfg := tracing.ConfigFromEnv()
			tcfg.SessionID = conversationID
			if handler, flush, ok := tracing.Setup(tcfg); ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			d, err := buildDeps(ctx, depsOptions{embedding: true, manifest: true})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer d.close()

			d.log.Info("provider initialised",
				slog.String("provider", string(providerCfg.Backend)),
				slog.String("model", providerCfg.Model()),
				slog.Bool("langfuse", tcfg.Enabled()),
			)

			agentTools := buildAgentTools(d, conversationID)

			acfg := &agent.Config{
				ChatModel:        chatModel,
				Tools:            agentTools,
				ConversationID:   conversationID,
				MaxContextTokens: maxTokens,
			}
			if !noPrefetch {
				acfg.Searcher = d.engine
			}
			docAgent, err := agent.New(ctx, acfg)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			if _, err := docAgent.Query(ctx, question, out); err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID whose files are searched (required)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", agent.DefaultMaxContextTokens, "Token budget for the model input")
	cmd.Flags().BoolVar(&noPrefetch, "no-prefetch", false, "Skip prefetching passages; rely on the search tool only")

	return cmd
}

// buildAgentTools binds the retrieval tools to conversationID. Search
// results are cached by the engine itself. list_documents needs the
// manifest and is omitted without it.
func buildAgentTools(d *deps, conversationID string) []tool.BaseTool {
	agentTools := []tool.BaseTool{tools.NewSearchTool(d.engine, conversationID, 0)}
	if d.manifest != nil {
		agentTools = append(agentTools, tools.NewListFilesTool(d.manifest, conversationID))
	} else {
		d.log.Info("agent: list_documents unavailable, manifest disabled")
	}
	return agentTools
}
