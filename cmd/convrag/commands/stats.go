package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/convrag/internal/cache"
	"github.com/54b3r/convrag/internal/rag"
)

// statsOutput is the JSON document printed by `convrag stats`.
type statsOutput struct {
	Cache          cache.Stats          `json:"cache"`
	ConversationID string               `json:"conversation_id,omitempty"`
	Collection     *rag.CollectionStats `json:"collection,omitempty"`
	Files          []fileOutput         `json:"files,omitempty"`
}

// fileOutput is one manifest entry in the stats output.
type fileOutput struct {
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name"`
	Chunks    int    `json:"chunks"`
	IndexedAt string `json:"indexed_at"`
}

// NewStatsCmd constructs the `convrag stats` command.
func NewStatsCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics and, optionally, a conversation's collection",
		Long: `Print a JSON report of the cache backend. With --conversation, also report
the conversation's collection counters and the files recorded in the
manifest. A conversation without a collection reports no collection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			d, err := buildDeps(ctx, depsOptions{manifest: conversationID != ""})
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer d.close()

			out := statsOutput{Cache: d.cache.Stats(ctx)}

			if conversationID != "" {
				out.ConversationID = conversationID
				out.Collection, err = d.collections.Stats(ctx, rag.CollectionName(conversationID))
				if err != nil {
					return fmt.Errorf("stats: %w", err)
				}
				if d.manifest != nil {
					files, err := d.manifest.Files(ctx, conversationID)
					if err != nil {
						return fmt.Errorf("stats: %w", err)
					}
					for _, f := range files {
						out.Files = append(out.Files, fileOutput{
							FileID:    f.FileID,
							FileName:  f.FileName,
							Chunks:    f.Chunks,
							IndexedAt: f.IndexedAt.UTC().Format(time.RFC3339),
						})
					}
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID to report on")

	return cmd
}
