package commands

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/54b3r/convrag/internal/ingestion"
)

// NewIndexCmd constructs the `convrag index` command, which chunks files and
// indexes them into a conversation's collection.
func NewIndexCmd() *cobra.Command {
	var conversationID string
	var fileID string
	var name string
	var fileType string

	cmd := &cobra.Command{
		Use:   "index PATH...",
		Short: "Chunk files and index them into a conversation's collection",
		Long: `Load each file, split it into overlapping chunks, embed the chunks and
upsert them into the conversation's vector collection. The collection is
created on first use.

Re-indexing the same file ID replaces its chunks in place. When --file-id is
omitted each file gets a fresh random ID, which is printed.

Supported types: txt, md, csv. Use --type to override extension detection.

Examples:
  convrag index --conversation c42 notes.md
  convrag index --conversation c42 --file-id f7 --name "Q3 report" report.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if conversationID == "" {
				return fmt.Errorf("index: --conversation is required")
			}
			if fileID != "" && len(args) > 1 {
				return fmt.Errorf("index: --file-id applies to a single file")
			}
			if name != "" && len(args) > 1 {
				return fmt.Errorf("index: --name applies to a single file")
			}

			d, err := buildDeps(ctx, depsOptions{embedding: true, manifest: true})
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer d.close()

			pipeline, err := ingestion.NewPipeline(ingestion.NewSplitterFromEnv(), d.indexer, d.log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			files := make([]ingestion.File, 0, len(args))
			for _, path := range args {
				id := fileID
				if id == "" {
					id = uuid.NewString()
				}
				files = append(files, ingestion.File{
					Path:           path,
					TypeHint:       fileType,
					DisplayName:    name,
					ConversationID: conversationID,
					FileID:         id,
				})
			}

			total, err := pipeline.Ingest(ctx, files, func(msg string) {
				d.log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			for _, f := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", f.FileID, f.Path)
			}
			d.log.Info("index complete",
				slog.String("conversation_id", conversationID),
				slog.Int("files", len(files)),
				slog.Int("chunks", total),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID that owns the files (required)")
	cmd.Flags().StringVar(&fileID, "file-id", "", "File ID (single file only; default: random UUID)")
	cmd.Flags().StringVar(&name, "name", "", "Display name stored as file_name (single file only; default: base name)")
	cmd.Flags().StringVarP(&fileType, "type", "t", "", "File type override: txt, md, csv")

	return cmd
}
