// Package commands defines all Cobra CLI commands for the convrag binary.
package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/convrag/internal/audit"
	"github.com/54b3r/convrag/internal/config"
	"github.com/54b3r/convrag/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "convrag",
		Short: "Cached retrieval over the files attached to a conversation",
		Long: `convrag indexes uploaded files into one vector collection per conversation
and answers similarity queries over them, caching embeddings and search
results in Redis.

Configuration comes from environment variables or a YAML config file
(~/.convrag/config.yaml). Environment variables always win.
See 'convrag <command> --help' for details.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// YAML must be applied before the logger reads LOG_LEVEL, so the
			// first pass logs config loading with a bootstrap logger.
			path, err := config.Load(configPath, logging.New())
			if err != nil {
				return err
			}

			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)

			audit.LogCommandStart(ctx, log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.convrag/config.yaml)")

	root.AddCommand(
		NewIndexCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewDeleteFileCmd(),
		NewDeleteCollectionCmd(),
		NewStatsCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}

// Execute runs the root command and records the audit completion entry for
// whichever subcommand ran.
func Execute(ctx context.Context) error {
	start := time.Now()
	cmd, err := NewRootCmd().ExecuteContextC(ctx)
	if cmd != nil && cmd.HasParent() {
		log := slog.Default()
		if cctx := cmd.Context(); cctx != nil {
			log = logging.FromContext(cctx)
		}
		audit.LogCommandEnd(ctx, log, cmd.Name(), time.Since(start), err)
	}
	return err
}
