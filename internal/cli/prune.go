package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archived artifacts older than a cutoff",
	Long: `Delete archived artifacts whose last modification is older than
--older-than. Requires ARCHIVE_TYPE to be s3 or minio.

Examples:
  orchestrator prune --older-than 720h`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "age cutoff")
}

func runPrune(cmd *cobra.Command, args []string) error {
	if pruneOlderThan <= 0 {
		return errors.New("--older-than must be positive")
	}
	ctx := cmd.Context()
	app, err := NewApp(ctx, cfg, log, WithArchive())
	if err != nil {
		return err
	}
	defer app.Close()
	if app.Archive == nil {
		return errors.New("no archive configured: set ARCHIVE_TYPE")
	}

	threshold := app.Clock.Now().Add(-pruneOlderThan)
	n, err := app.Archive.CleanupBefore(ctx, threshold)
	if err != nil {
		return fmt.Errorf("prune archive: %w", err)
	}
	log.Info("Pruned archive",
		logger.Int("deleted", n),
		logger.Time("threshold", threshold),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d archived artifacts older than %s\n", n, threshold.Format(time.RFC3339))
	return nil
}
