// Package engine wires classification, routing, planning, execution, and
// monitoring into the orchestrator that serves one request end to end.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harrison/foreman/internal/classify"
	"github.com/harrison/foreman/internal/config"
	"github.com/harrison/foreman/internal/history"
	"github.com/harrison/foreman/internal/infer"
	"github.com/harrison/foreman/internal/logger"
	"github.com/harrison/foreman/internal/models"
	"github.com/harrison/foreman/internal/planner"
	"github.com/harrison/foreman/internal/policy"
	"github.com/harrison/foreman/internal/retry"
	"github.com/harrison/foreman/internal/router"
	"github.com/harrison/foreman/internal/tool"
	"github.com/harrison/foreman/internal/txn"
)

// Orchestrator runs requests against one workspace. It is safe for a single
// request at a time; callers wanting parallel requests create one
// Orchestrator per workspace root.
type Orchestrator struct {
	cfg      *config.Config
	root     string
	log      logger.Logger
	endpoint infer.Endpoint

	cues    *classify.Table
	caps    *router.Table
	policy  *policy.Policy
	txns    *txn.Manager
	tools   *tool.Registry
	retries *retry.Engine
	hist    *history.Store // nil when history is disabled
}

// New builds an orchestrator for the workspace at root. The history store
// may be nil.
func New(cfg *config.Config, root string, endpoint infer.Endpoint, log logger.Logger, hist *history.Store) (*Orchestrator, error) {
	if log == nil {
		log = logger.Nop{}
	}

	cues := classify.DefaultTable()
	if cfg.CueTablePath != "" {
		t, err := classify.LoadTable(cfg.CueTablePath)
		if err != nil {
			return nil, fmt.Errorf("load cue table: %w", err)
		}
		cues = t
	}

	caps := router.DefaultTable()
	if cfg.CapabilityTablePath != "" {
		t, err := router.LoadTable(cfg.CapabilityTablePath)
		if err != nil {
			return nil, fmt.Errorf("load capability table: %w", err)
		}
		caps = t
	}

	reg := tool.NewRegistry()
	reg.Register(&tool.ReadFile{Root: root})
	reg.Register(&tool.ListFiles{Root: root})

	return &Orchestrator{
		cfg:      cfg,
		root:     root,
		log:      log,
		endpoint: endpoint,
		cues:     cues,
		caps:     caps,
		policy:   policy.New(cfg.Policy.Allow, cfg.Policy.Deny),
		txns:     txn.NewManager(root),
		tools:    reg,
		retries:  &retry.Engine{Ceiling: cfg.RetryCeiling},
		hist:     hist,
	}, nil
}

// Run executes one request and returns its report. The report enumerates
// every step's terminal status; partial success is never collapsed into a
// single error. The returned error is reserved for failures of the engine
// itself (unloadable plan, canceled before start), not of individual steps.
func (o *Orchestrator) Run(ctx context.Context, text string) (*models.ExecutionReport, error) {
	start := time.Now()
	req := models.NewRequest(text, o.root)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cls := classify.Classify(text, classify.Hints{}, o.cues)
	route, roles := router.Route(cls, o.caps)
	o.log.Infof("request %s: tier=%s confidence=%.2f route=%s", req.ID, cls.Tier, cls.Confidence, route)

	report := &models.ExecutionReport{
		RequestID:  req.ID,
		RouteTaken: route,
		Tier:       cls.Tier,
		Health:     models.HealthOK,
	}

	var err error
	switch route {
	case models.RouteDirect:
		err = o.runDirect(ctx, roles, text, report)
	default:
		err = o.runPlanned(ctx, roles, text, report)
	}
	report.Duration = time.Since(start)
	if err != nil {
		return nil, err
	}

	o.record(ctx, text, report)
	o.log.Infof("request %s: health=%s steps=%d ok=%d files=%d in %v",
		req.ID, report.Health, len(report.Steps), report.Succeeded(), len(report.FilesChanged), report.Duration)
	return report, nil
}

// runDirect executes the request as a single synthetic step, skipping the
// planner entirely.
func (o *Orchestrator) runDirect(ctx context.Context, roles map[models.Role]string, text string, report *models.ExecutionReport) error {
	step := models.PlanStep{ID: "direct", Purpose: text}
	if o.cfg.DryRun {
		report.Steps = []models.StepReport{{Step: step, FinalStatus: models.StepNotAttempted}}
		return nil
	}

	stepReport, files := o.runStep(ctx, roles, step, o.failureContext(ctx))
	report.Steps = []models.StepReport{stepReport}
	report.FilesChanged = dedupe(files)
	report.Health = Assess(report.Steps, o.cfg.MonitorFloor).Health
	return nil
}

// runPlanned generates, validates, and executes a plan, replanning up to the
// configured bound when the monitor turns critical.
func (o *Orchestrator) runPlanned(ctx context.Context, roles map[models.Role]string, text string, report *models.ExecutionReport) error {
	refiner := &planner.Refiner{
		Endpoint:       o.endpoint,
		MaxRefinements: o.cfg.MaxRefinements,
		MinScore:       o.cfg.MinPlanScore,
	}

	plan, val, err := refiner.Produce(ctx, roles[models.RolePlanner], text)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}
	plan.Roles = roles
	report.PlanScore = val.Score
	o.log.Infof("plan ready: %d steps, score %.2f after %d refinement(s)", len(plan.Steps), val.Score, plan.Refinements)

	if o.cfg.DryRun {
		for _, s := range plan.Steps {
			report.Steps = append(report.Steps, models.StepReport{Step: s, FinalStatus: models.StepNotAttempted})
		}
		return nil
	}

	var files []string
	reports, changed, err := o.executePlan(ctx, plan)
	if err != nil {
		return err
	}
	report.Steps = append(report.Steps, reports...)
	files = append(files, changed...)

	verdict := Assess(reports, o.cfg.MonitorFloor)
	for verdict.Replan && report.ReplansUsed < o.cfg.MaxReplans && ctx.Err() == nil {
		report.ReplansUsed++
		o.log.Warnf("execution critical, replanning (%d/%d)", report.ReplansUsed, o.cfg.MaxReplans)

		replanText := replanPrompt(text, reports)
		plan, val, err = refiner.Produce(ctx, roles[models.RolePlanner], replanText)
		if err != nil {
			o.log.Errorf("replan failed: %v", err)
			break
		}
		plan.Roles = roles
		report.PlanScore = val.Score

		reports, changed, err = o.executePlan(ctx, plan)
		if err != nil {
			return err
		}
		report.Steps = append(report.Steps, reports...)
		files = append(files, changed...)
		verdict = Assess(reports, o.cfg.MonitorFloor)
	}

	report.FilesChanged = dedupe(files)
	report.Health = Assess(report.Steps, o.cfg.MonitorFloor).Health
	return nil
}

// executePlan runs the plan wave by wave. Steps within a wave run in
// parallel up to MaxConcurrency; a step whose dependency did not succeed is
// marked blocked (or canceled) without ever being attempted.
func (o *Orchestrator) executePlan(ctx context.Context, plan *models.ExecutionPlan) ([]models.StepReport, []string, error) {
	waves, err := planner.Waves(plan)
	if err != nil {
		return nil, nil, err
	}

	conc := o.cfg.MaxConcurrency
	if conc < 1 {
		conc = 1
	}
	sem := make(chan struct{}, conc)
	failCtx := o.failureContext(ctx)

	status := make(map[string]models.StepStatus, len(plan.Steps))
	reportByID := make(map[string]models.StepReport, len(plan.Steps))
	var allFiles []string
	var mu sync.Mutex

	for i, wave := range waves {
		o.log.Debugf("wave %d: %v", i+1, wave)

		// Resolve every skip before launching any goroutine: the status and
		// report maps are only written bare while nothing else runs.
		var runnable []models.PlanStep
		for _, id := range wave {
			step := *plan.Step(id)
			// A step other work depends on warrants escalation before
			// permanent failure, same as an explicit critical flag.
			if len(plan.Dependents(id)) > 0 {
				step.Critical = true
			}

			if skip, why := o.skipStatus(ctx, step, status); skip != "" {
				status[id] = skip
				reportByID[id] = models.StepReport{Step: step, FinalStatus: skip, Reason: why}
				continue
			}
			runnable = append(runnable, step)
		}

		var wg sync.WaitGroup
		for _, step := range runnable {
			wg.Add(1)
			go func(step models.PlanStep) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				stepReport, files := o.runStep(ctx, plan.Roles, step, failCtx)
				mu.Lock()
				status[step.ID] = stepReport.FinalStatus
				reportByID[step.ID] = stepReport
				allFiles = append(allFiles, files...)
				mu.Unlock()
			}(step)
		}
		wg.Wait()
	}

	// Emit reports in plan order.
	reports := make([]models.StepReport, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		reports = append(reports, reportByID[s.ID])
	}
	return reports, allFiles, nil
}

// skipStatus decides whether a step must be skipped before attempting it.
func (o *Orchestrator) skipStatus(ctx context.Context, step models.PlanStep, status map[string]models.StepStatus) (models.StepStatus, string) {
	if ctx.Err() != nil {
		return models.StepCanceled, "execution canceled"
	}
	for _, dep := range step.DependsOn {
		switch status[dep] {
		case models.StepSucceeded:
		case models.StepCanceled:
			return models.StepCanceled, "dependency " + dep + " was canceled"
		default:
			return models.StepBlocked, "dependency " + dep + " did not succeed"
		}
	}
	return "", ""
}

// failureContext pulls recent failures from history for prompt enrichment.
func (o *Orchestrator) failureContext(ctx context.Context) []history.Failure {
	if o.hist == nil || o.cfg.History.FailureContext <= 0 {
		return nil
	}
	failures, err := o.hist.RecentFailures(ctx, o.cfg.History.FailureContext)
	if err != nil {
		o.log.Warnf("history unavailable: %v", err)
		return nil
	}
	return failures
}

func (o *Orchestrator) record(ctx context.Context, text string, report *models.ExecutionReport) {
	if o.hist == nil {
		return
	}
	if err := o.hist.RecordReport(ctx, text, report); err != nil {
		o.log.Warnf("record history: %v", err)
	}
}

func replanPrompt(text string, reports []models.StepReport) string {
	summary := "The previous plan partially failed:\n"
	for _, r := range reports {
		switch r.FinalStatus {
		case models.StepFailedPermanently:
			summary += fmt.Sprintf("- step %s failed permanently: %s\n", r.Step.ID, r.Reason)
		case models.StepBlocked:
			summary += fmt.Sprintf("- step %s was blocked and never ran (purpose: %s)\n", r.Step.ID, r.Step.Purpose)
		}
	}
	return text + "\n\n" + summary + "Produce a new plan that completes the unfinished work, avoiding the failed approach."
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
