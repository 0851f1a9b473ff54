package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/foreman/internal/classify"
	"github.com/harrison/foreman/internal/config"
	"github.com/harrison/foreman/internal/models"
	"github.com/harrison/foreman/internal/planner"
	"github.com/harrison/foreman/internal/router"
)

// NewValidateCommand creates the validate command. It runs the offline half
// of the pipeline (classification and routing) without any model calls.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <request>",
		Short: "Show how a request would be classified and routed",
		Long: `Classify a request and show the resulting tier, confidence, matched
cues, and role-to-model routing, without executing anything. Useful for
tuning the cue table.

With --plan, a saved plan (JSON or markdown) is parsed, scored, and its
execution waves printed instead; the request text is used for scoring.

Examples:
  foreman validate "create hello.txt with Hello World"
  foreman validate --workspace ./site "build a 3-file landing page"
  foreman validate --plan plan.md "build a 3-file landing page"`,
		Args: cobra.MaximumNArgs(1),
		RunE: validateCommand,
	}

	cmd.Flags().String("workspace", ".", "Workspace root whose config to use")
	cmd.Flags().String("config", "", "Path to config file")
	cmd.Flags().String("plan", "", "Validate a saved plan file instead of routing a request")

	return cmd
}

func validateCommand(cmd *cobra.Command, args []string) error {
	if planPath, _ := cmd.Flags().GetString("plan"); planPath != "" {
		request := ""
		if len(args) == 1 {
			request = args[0]
		}
		return validatePlanFile(cmd, planPath, request)
	}
	if len(args) != 1 {
		return fmt.Errorf("a request argument is required unless --plan is given")
	}
	root, _ := cmd.Flags().GetString("workspace")
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.LoadConfigFromDir(root)
	}
	if err != nil {
		return err
	}

	cues := classify.DefaultTable()
	if cfg.CueTablePath != "" {
		if cues, err = classify.LoadTable(cfg.CueTablePath); err != nil {
			return err
		}
	}
	caps := router.DefaultTable()
	if cfg.CapabilityTablePath != "" {
		if caps, err = router.LoadTable(cfg.CapabilityTablePath); err != nil {
			return err
		}
	}

	cls := classify.Classify(args[0], classify.Hints{}, cues)
	route, roles := router.Route(cls, caps)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Tier:        %s (confidence %.2f)\n", cls.Tier, cls.Confidence)
	fmt.Fprintf(w, "Route:       %s\n", route)
	fmt.Fprintf(w, "Files (est): %d\n", cls.FileCountEstimate)
	fmt.Fprintf(w, "Creative:    %v\n", cls.Creative)
	if len(cls.Signals) > 0 {
		fmt.Fprintf(w, "Signals:     %s\n", strings.Join(cls.Signals, ", "))
	}
	fmt.Fprintln(w, "Roles:")
	for _, role := range models.Roles {
		fmt.Fprintf(w, "  %-14s %s\n", role, roles[role])
	}
	return nil
}

func validatePlanFile(cmd *cobra.Command, path, request string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	steps, err := planner.ParsePlan(string(data))
	if err != nil {
		return err
	}
	plan := &models.ExecutionPlan{Route: models.RoutePlanned, Steps: steps}

	val, err := planner.Validate(plan, request)
	if err != nil {
		return err
	}
	waves, err := planner.Waves(plan)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Steps: %d\nScore: %.2f\n", len(steps), val.Score)
	for _, issue := range val.Issues {
		fmt.Fprintf(w, "Issue: %s\n", issue)
	}
	for _, s := range val.Suggestions {
		fmt.Fprintf(w, "Suggestion: %s\n", s)
	}
	for i, wave := range waves {
		fmt.Fprintf(w, "Wave %d: %s\n", i+1, strings.Join(wave, ", "))
	}
	return nil
}
