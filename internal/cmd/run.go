package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/foreman/internal/config"
	"github.com/harrison/foreman/internal/engine"
	"github.com/harrison/foreman/internal/history"
	"github.com/harrison/foreman/internal/infer"
	"github.com/harrison/foreman/internal/logger"
	"github.com/harrison/foreman/internal/models"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Execute a coding request against the workspace",
		Long: `Execute a natural-language coding request. The request is classified,
routed (directly or through a generated plan), and executed as atomic file
transactions. Interrupting with Ctrl-C cancels cleanly: running steps roll
back and the report enumerates what finished.

Configuration is loaded from .foreman/config.yaml under the workspace root;
flags override the file.

Examples:
  foreman run "create hello.txt with Hello World"
  foreman run --workspace ./site "build a 3-file landing page"
  foreman run --dry-run "refactor the storage layer"`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: <workspace>/.foreman/config.yaml)")
	cmd.Flags().String("workspace", ".", "Workspace root the request operates on")
	cmd.Flags().Bool("dry-run", false, "Classify, route, and plan without touching files")
	cmd.Flags().Int("max-concurrency", -1, "Maximum parallel steps (-1 = use config)")
	cmd.Flags().String("step-timeout", "", "Per-attempt model deadline (e.g. 90s, 5m)")
	cmd.Flags().String("log-level", "", "Console log level (debug, info, warn, error)")

	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	root, _ := cmd.Flags().GetString("workspace")
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	cfg, err := loadRunConfig(cmd, root)
	if err != nil {
		return err
	}

	if cfg.LogDir != "" && !filepath.IsAbs(cfg.LogDir) {
		cfg.LogDir = filepath.Join(root, cfg.LogDir)
	}
	log := buildLogger(cmd.ErrOrStderr(), cfg)

	var store *history.Store
	if cfg.History.Enabled && !cfg.DryRun {
		store, err = history.Open(filepath.Join(root, cfg.History.DBPath))
		if err != nil {
			// History is best-effort; the run proceeds without it.
			log.Warnf("history disabled: %v", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	if len(cfg.Workers) == 0 && !cfg.DryRun {
		return fmt.Errorf("no model workers configured; add a workers section to %s", filepath.Join(root, ".foreman", "config.yaml"))
	}
	endpoint := infer.NewWorkerEndpoint(cfg.Workers)

	orch, err := engine.New(cfg, root, endpoint, log, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := orch.Run(ctx, args[0])
	if err != nil {
		return err
	}

	printReport(cmd.OutOrStdout(), report)
	if report.Failed() > 0 {
		return fmt.Errorf("%d step(s) did not complete", report.Failed())
	}
	return nil
}

func loadRunConfig(cmd *cobra.Command, root string) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.LoadConfigFromDir(root)
	}
	if err != nil {
		return nil, err
	}

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		cfg.DryRun = true
	}
	if mc, _ := cmd.Flags().GetInt("max-concurrency"); mc >= 0 {
		cfg.MaxConcurrency = mc
	}
	if st, _ := cmd.Flags().GetString("step-timeout"); st != "" {
		d, err := time.ParseDuration(st)
		if err != nil {
			return nil, fmt.Errorf("invalid --step-timeout %q: %w", st, err)
		}
		cfg.StepTimeout = d
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, cfg.Validate()
}

func buildLogger(w io.Writer, cfg *config.Config) logger.Logger {
	sinks := logger.Multi{logger.NewConsole(w, cfg.LogLevel)}
	if cfg.LogDir != "" {
		sinks = append(sinks, logger.NewFile(cfg.LogDir, "debug"))
	}
	return sinks
}

func printReport(w io.Writer, report *models.ExecutionReport) {
	okColor := color.New(color.FgGreen).SprintFunc()
	failColor := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(w, "\nRequest %s (%s route, %s tier)\n", report.RequestID, report.RouteTaken, report.Tier)
	if report.RouteTaken == models.RoutePlanned {
		fmt.Fprintf(w, "Plan score: %.2f, replans: %d\n", report.PlanScore, report.ReplansUsed)
	}

	for _, s := range report.Steps {
		mark := okColor("ok")
		switch s.FinalStatus {
		case models.StepFailedPermanently:
			mark = failColor("failed")
		case models.StepBlocked:
			mark = failColor("blocked")
		case models.StepCanceled:
			mark = "canceled"
		case models.StepNotAttempted:
			mark = "planned"
		}
		fmt.Fprintf(w, "  [%s] %s", mark, s.Step.ID)
		if s.Step.Title != "" {
			fmt.Fprintf(w, ": %s", s.Step.Title)
		}
		if s.Reason != "" {
			fmt.Fprintf(w, " (%s)", s.Reason)
		}
		fmt.Fprintln(w)
	}

	if len(report.FilesChanged) > 0 {
		fmt.Fprintf(w, "Files changed: %v\n", report.FilesChanged)
	}
	fmt.Fprintf(w, "Health: %s, %d/%d step(s) succeeded in %v\n",
		report.Health, report.Succeeded(), len(report.Steps), report.Duration.Round(time.Millisecond))
}
