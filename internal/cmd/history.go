package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/foreman/internal/config"
	"github.com/harrison/foreman/internal/history"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent requests from the execution history",
		Args:  cobra.NoArgs,
		RunE:  historyCommand,
	}

	cmd.Flags().String("workspace", ".", "Workspace root whose history to read")
	cmd.Flags().Int("limit", 10, "How many requests to show")
	cmd.Flags().Bool("failures", false, "Show recent failed attempts instead")

	return cmd
}

func historyCommand(cmd *cobra.Command, _ []string) error {
	root, _ := cmd.Flags().GetString("workspace")
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfigFromDir(root)
	if err != nil {
		return err
	}

	store, err := history.Open(filepath.Join(root, cfg.History.DBPath))
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	w := cmd.OutOrStdout()

	if failuresOnly, _ := cmd.Flags().GetBool("failures"); failuresOnly {
		failures, err := store.RecentFailures(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(failures) == 0 {
			fmt.Fprintln(w, "no recorded failures")
			return nil
		}
		for _, f := range failures {
			fmt.Fprintf(w, "[%s] step %s: %s\n    request: %s\n", f.ErrorKind, f.StepID, f.Reason, f.RequestText)
		}
		return nil
	}

	reqs, err := store.RecentRequests(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		fmt.Fprintln(w, "no recorded requests")
		return nil
	}
	for _, r := range reqs {
		fmt.Fprintf(w, "%s  %-8s %-7s %-8s %d/%d ok  %v\n    %s\n",
			r.CreatedAt.Format(time.DateTime), r.Tier, r.Route, r.Health,
			r.StepsOK, r.StepsTotal, r.Duration.Round(time.Millisecond), r.Text)
	}
	return nil
}
