package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/convrag/internal/rag"
)

// NewDeleteFileCmd constructs the `convrag delete-file` command.
func NewDeleteFileCmd() *cobra.Command {
	var conversationID string
	var fileID string

	cmd := &cobra.Command{
		Use:   "delete-file",
		Short: "Remove one file's chunks from a conversation's collection",
		Long: `Delete every point whose file_id matches. The collection itself is kept.
Deleting a file that was never indexed is not an error.

Cached search results for the conversation are not invalidated and may
still mention the file until they expire.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if conversationID == "" || fileID == "" {
				return fmt.Errorf("delete-file: --conversation and --file-id are required")
			}

			d, err := buildDeps(ctx, depsOptions{manifest: true})
			if err != nil {
				return fmt.Errorf("delete-file: %w", err)
			}
			defer d.close()

			if err := d.collections.DeletePointsByFile(ctx, rag.CollectionName(conversationID), fileID); err != nil {
				return fmt.Errorf("delete-file: %w", err)
			}
			if d.manifest != nil {
				if err := d.manifest.RemoveFile(ctx, conversationID, fileID); err != nil {
					d.log.Warn("manifest: remove failed", slog.Any("error", err))
				}
			}

			d.log.Info("file deleted",
				slog.String("conversation_id", conversationID),
				slog.String("file_id", fileID),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID (required)")
	cmd.Flags().StringVar(&fileID, "file-id", "", "File ID to delete (required)")

	return cmd
}

// NewDeleteCollectionCmd constructs the `convrag delete-collection` command.
func NewDeleteCollectionCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "delete-collection",
		Short: "Drop a conversation's collection and its cached searches",
		Long: `Delete the conversation's vector collection, invalidate every cached search
result for it, and forget its files in the manifest. Deleting a collection
that does not exist is not an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if conversationID == "" {
				return fmt.Errorf("delete-collection: --conversation is required")
			}

			d, err := buildDeps(ctx, depsOptions{manifest: true})
			if err != nil {
				return fmt.Errorf("delete-collection: %w", err)
			}
			defer d.close()

			if err := d.collections.DeleteCollection(ctx, conversationID); err != nil {
				return fmt.Errorf("delete-collection: %w", err)
			}

			forgotten := 0
			if d.manifest != nil {
				n, err := d.manifest.RemoveConversation(ctx, conversationID)
				if err != nil {
					d.log.Warn("manifest: remove conversation failed", slog.Any("error", err))
				}
				forgotten = n
			}

			d.log.Info("collection deleted",
				slog.String("conversation_id", conversationID),
				slog.Int("manifest_files_removed", forgotten),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID (required)")

	return cmd
}
