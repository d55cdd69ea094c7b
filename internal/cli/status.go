package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/feichai0017/prp-orchestrator/internal/pipeline"
	"github.com/feichai0017/prp-orchestrator/internal/service/status"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts, the in-flight item and rate limit state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the snapshot as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	snap, err := app.Status.Snapshot(ctx, app.Clock.Now())
	if err != nil {
		return err
	}
	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	printStatus(cmd.OutOrStdout(), snap)
	return nil
}

func printStatus(w io.Writer, snap *status.Snapshot) {
	fmt.Fprintf(w, "Environment: %s\n", snap.Environment)
	fmt.Fprintln(w, "Queue:")
	for _, role := range pipeline.Roles {
		fmt.Fprintf(w, "  %-12s %d\n", role, snap.Counts[role])
	}
	for _, name := range snap.Pending {
		fmt.Fprintf(w, "  - %s\n", name)
	}

	if c := snap.Cursor; c != nil {
		fmt.Fprintf(w, "In flight: %s at %s (%s)", c.Item, c.Phase, c.Status)
		if c.JobID != "" {
			fmt.Fprintf(w, " job %s", c.JobID)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "In flight: none")
	}

	last := "never"
	if snap.LastSubmission != nil {
		last = snap.LastSubmission.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "Last submission: %s\n", last)
	fmt.Fprintf(w, "Submissions in last hour: %d/%d (min interval %s)\n",
		snap.WindowCount, snap.Ceiling, snap.MinInterval)
	if snap.CanSubmit {
		fmt.Fprintln(w, "Can submit: yes")
	} else {
		fmt.Fprintf(w, "Can submit: no, %s\n", snap.Reason)
	}
}
