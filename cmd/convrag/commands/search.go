package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/convrag/internal/budget"
	"github.com/54b3r/convrag/internal/embedder"
	"github.com/54b3r/convrag/internal/rag"
)

// NewSearchCmd constructs the `convrag search` command, which runs one cached
// retrieval query against a conversation's collection.
func NewSearchCmd() *cobra.Command {
	var conversationID string
	var topK int
	var threshold float32
	var fileID string
	var embeddingURL string
	var maxTokens int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search a conversation's files",
		Long: `Embed the query and return the conversation's closest chunks.

Results are cosine distances: lower is closer. Only chunks at or below the
threshold are returned. Repeated queries are served from the search cache
until it expires or the conversation's collection is deleted.

Examples:
  convrag search --conversation c42 what was the Q3 revenue
  convrag search -c c42 -k 10 --threshold 0.5 --json pricing model
  convrag search -c c42 --embedding-url http://gpu-box:8080/v1 deployment steps`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if conversationID == "" {
				return fmt.Errorf("search: --conversation is required")
			}
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("search: query is required")
			}

			d, err := buildDeps(ctx, depsOptions{embedding: true})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer d.close()

			req := rag.SearchRequest{
				Query:          query,
				ConversationID: conversationID,
				TopK:           topK,
			}
			if cmd.Flags().Changed("threshold") {
				req.ScoreThreshold = rag.Threshold(threshold)
			}
			if fileID != "" {
				req.Filter = rag.Metadata{rag.MetaFileID: fileID}
			}
			if embeddingURL != "" {
				req.Embedder = d.gateway.WithBackend(embedder.NewLocalOverride(d.embedCfg, embeddingURL))
			}

			results := d.engine.Search(ctx, req)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No relevant documents found.")
				return nil
			}
			fmt.Fprintln(out, rag.FormatContext(results, maxTokens))
			return nil
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID to search (required)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Maximum results (default: TOP_K_RETRIEVAL or 5)")
	cmd.Flags().Float32Var(&threshold, "threshold", rag.DefaultScoreThreshold, "Maximum cosine distance kept")
	cmd.Flags().StringVar(&fileID, "file-id", "", "Restrict the search to one file")
	cmd.Flags().StringVar(&embeddingURL, "embedding-url", "", "OpenAI-compatible embedding endpoint used for this query only")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", budget.DefaultMaxContextTokens, "Token budget for the formatted output")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}
