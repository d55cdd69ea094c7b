package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feichai0017/prp-orchestrator/internal/queue"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the queue once and exit",
	Long: `Process every pending item once, oldest first.

An item resumed from a previous run goes first. Items the rate limit
defers stay in pending/ for the next run.`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, log, WithPipeline())
	if err != nil {
		return err
	}
	defer app.Close()

	summary, err := app.Driver.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("queue pass: %w", err)
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func printSummary(w io.Writer, s queue.Summary) {
	fmt.Fprintf(w, "Pass %s: %d done, %d skipped, %d deferred, %d failed\n",
		s.PassID, s.Done, s.Skipped, s.Deferred, s.Failed)
	for _, o := range s.Outcomes {
		line := fmt.Sprintf("  %-40s %s", o.Item, o.Status)
		if o.Reason != "" {
			line += " (" + o.Reason + ")"
		}
		fmt.Fprintln(w, line)
	}
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Process the queue repeatedly until interrupted",
	Long: `Run queue passes every QUEUE_CHECK_INTERVAL_SECONDS until SIGINT or
SIGTERM. An interrupted item keeps its cursor and resumes on the next start.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, log, WithPipeline())
	if err != nil {
		return err
	}
	defer app.Close()

	log.Info("Daemon started")
	if err := app.Driver.RunLoop(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("queue loop: %w", err)
	}
	log.Info("Daemon stopped")
	return nil
}

