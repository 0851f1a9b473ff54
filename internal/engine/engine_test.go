package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/foreman/internal/config"
	"github.com/harrison/foreman/internal/fault"
	"github.com/harrison/foreman/internal/history"
	"github.com/harrison/foreman/internal/infer"
	"github.com/harrison/foreman/internal/models"
)

// Role assignment against the built-in capability table.
const (
	plannerModel    = "reasoner-xl"
	executorModel   = "coder-std"
	formatterModel  = "formatter-strict"
	escalationModel = "frontier-max"
)

// funcEndpoint dispatches generation to a test-provided handler and records
// every call.
type funcEndpoint struct {
	mu      sync.Mutex
	fn      func(model, prompt string) (string, error)
	calls   map[string]int
	prompts []string
}

func newFuncEndpoint(fn func(model, prompt string) (string, error)) *funcEndpoint {
	return &funcEndpoint{fn: fn, calls: make(map[string]int)}
}

func (f *funcEndpoint) Generate(_ context.Context, model, prompt string, _ infer.Options) (string, error) {
	f.mu.Lock()
	f.calls[model]++
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.fn(model, prompt)
}

func (f *funcEndpoint) callCount(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[model]
}

func createOp(path, content string) string {
	return fmt.Sprintf(`{"operations": [{"path": %q, "kind": "create", "content": %q}]}`, path, content)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.History.Enabled = false
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, ep infer.Endpoint) (*Orchestrator, string) {
	t.Helper()
	root := t.TempDir()
	o, err := New(cfg, root, ep, nil, nil)
	require.NoError(t, err)
	return o, root
}

func TestRunSimpleRequestDirect(t *testing.T) {
	ep := newFuncEndpoint(func(model, prompt string) (string, error) {
		require.Equal(t, executorModel, model, "direct route must not call the planner")
		return createOp("hello.txt", "Hello World\n"), nil
	})
	o, root := newTestOrchestrator(t, testConfig(), ep)

	report, err := o.Run(context.Background(), "create hello.txt with Hello World")
	require.NoError(t, err)

	assert.Equal(t, models.RouteDirect, report.RouteTaken)
	assert.Equal(t, models.TierSimple, report.Tier)
	assert.Equal(t, models.HealthOK, report.Health)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, models.StepSucceeded, report.Steps[0].FinalStatus)
	assert.Equal(t, []string{"hello.txt"}, report.FilesChanged)

	data, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World\n", string(data))
}

const landingPagePlan = `{"steps": [
	{"id": "s1", "title": "Homepage", "purpose": "Create index.html with the landing page hero and pricing sections", "files": ["index.html"]},
	{"id": "s2", "title": "Styles", "purpose": "Create style.css with the landing page layout rules", "files": ["style.css"]},
	{"id": "s3", "title": "Form script", "purpose": "Create script.js wiring the contact form", "files": ["script.js"], "depends_on": ["s1"]}
]}`

func landingPageHandler() func(model, prompt string) (string, error) {
	return func(model, prompt string) (string, error) {
		if model == plannerModel {
			return landingPagePlan, nil
		}
		if model != executorModel {
			return "", fmt.Errorf("unexpected model %s", model)
		}
		for _, f := range []string{"index.html", "style.css", "script.js"} {
			if strings.Contains(prompt, f) {
				return createOp(f, "content of "+f), nil
			}
		}
		return "", errors.New("unexpected executor prompt")
	}
}

func TestRunCreativeRequestPlanned(t *testing.T) {
	ep := newFuncEndpoint(landingPageHandler())
	o, root := newTestOrchestrator(t, testConfig(), ep)

	report, err := o.Run(context.Background(), "build a 3-file landing page with hero, pricing, and a contact form")
	require.NoError(t, err)

	assert.Equal(t, models.RoutePlanned, report.RouteTaken)
	assert.Equal(t, models.TierComplex, report.Tier)
	assert.Equal(t, models.HealthOK, report.Health)
	assert.Greater(t, report.PlanScore, 0.5)
	require.Len(t, report.Steps, 3)
	for _, s := range report.Steps {
		assert.Equal(t, models.StepSucceeded, s.FinalStatus)
	}
	assert.Equal(t, []string{"index.html", "script.js", "style.css"}, report.FilesChanged)

	for _, f := range []string{"index.html", "style.css", "script.js"} {
		_, err := os.Stat(filepath.Join(root, f))
		assert.NoError(t, err, f)
	}
}

func TestRunRetriesMalformedOutput(t *testing.T) {
	calls := 0
	ep := newFuncEndpoint(func(model, prompt string) (string, error) {
		calls++
		if calls < 3 {
			return "sure, I will create that file for you", nil
		}
		return createOp("hello.txt", "hi"), nil
	})

	cfg := testConfig()
	cfg.RetryCeiling = 2
	o, _ := newTestOrchestrator(t, cfg, ep)

	report, err := o.Run(context.Background(), "create hello.txt with a greeting")
	require.NoError(t, err)

	require.Len(t, report.Steps, 1)
	step := report.Steps[0]
	assert.Equal(t, models.StepSucceeded, step.FinalStatus)
	require.Len(t, step.Attempts, 3)
	assert.Equal(t, string(fault.KindParse), step.Attempts[0].ErrorKind)
	assert.True(t, step.Attempts[2].Success)
	assert.Contains(t, ep.prompts[1], "previous response failed", "retry prompt must carry the parse error")
}

func TestRunExhaustedRetriesFailPermanently(t *testing.T) {
	ep := newFuncEndpoint(func(model, prompt string) (string, error) {
		return "still not json", nil
	})

	cfg := testConfig()
	cfg.RetryCeiling = 1
	o, _ := newTestOrchestrator(t, cfg, ep)

	report, err := o.Run(context.Background(), "create notes.txt with something")
	require.NoError(t, err)

	require.Len(t, report.Steps, 1)
	assert.Equal(t, models.StepFailedPermanently, report.Steps[0].FinalStatus)
	assert.Len(t, report.Steps[0].Attempts, 2, "ceiling 1 allows two attempts")
	assert.Equal(t, models.HealthDegraded, report.Health)
	assert.Empty(t, report.FilesChanged)
}

func TestRunCriticalStepEscalates(t *testing.T) {
	criticalPlan := `{"steps": [
		{"id": "s1", "purpose": "Create the payment module main file pay.go", "files": ["pay.go"], "critical": true}
	]}`

	ep := newFuncEndpoint(func(model, prompt string) (string, error) {
		switch model {
		case plannerModel:
			return criticalPlan, nil
		case escalationModel:
			return createOp("pay.go", "package pay\n"), nil
		default:
			return "malformed", nil
		}
	})

	cfg := testConfig()
	cfg.RetryCeiling = 1
	o, root := newTestOrchestrator(t, cfg, ep)

	report, err := o.Run(context.Background(), "implement the payment integration across the codebase modules")
	require.NoError(t, err)

	require.Len(t, report.Steps, 1)
	step := report.Steps[0]
	assert.Equal(t, models.StepSucceeded, step.FinalStatus)
	require.Len(t, step.Attempts, 2)
	assert.False(t, step.Attempts[0].Escalated)
	assert.True(t, step.Attempts[1].Escalated)
	assert.Equal(t, 1, ep.callCount(escalationModel))

	_, err = os.Stat(filepath.Join(root, "pay.go"))
	assert.NoError(t, err)
}

func TestRunBlockedDependentsAndReplan(t *testing.T) {
	firstPlan := `{"steps": [
		{"id": "a", "purpose": "Create the data schema file schema.sql", "files": ["schema.sql"]},
		{"id": "b", "purpose": "Create queries.sql using the schema", "files": ["queries.sql"], "depends_on": ["a"]}
	]}`
	secondPlan := `{"steps": [
		{"id": "c", "purpose": "Create combined.sql holding schema and queries together", "files": ["combined.sql"]}
	]}`

	plannerCalls := 0
	ep := newFuncEndpoint(func(model, prompt string) (string, error) {
		if model == plannerModel {
			plannerCalls++
			if plannerCalls == 1 {
				return firstPlan, nil
			}
			return secondPlan, nil
		}
		if strings.Contains(prompt, "combined.sql") {
			return createOp("combined.sql", "-- ok"), nil
		}
		return "not a call", nil
	})

	cfg := testConfig()
	cfg.RetryCeiling = 0
	cfg.MaxReplans = 1
	o, root := newTestOrchestrator(t, cfg, ep)

	report, err := o.Run(context.Background(), "implement the database migration across the codebase modules")
	require.NoError(t, err)

	assert.Equal(t, 1, report.ReplansUsed)
	assert.Equal(t, 2, plannerCalls)
	require.Len(t, report.Steps, 3, "both passes are enumerated in the report")

	byID := map[string]models.StepReport{}
	for _, s := range report.Steps {
		byID[s.Step.ID] = s
	}
	assert.Equal(t, models.StepFailedPermanently, byID["a"].FinalStatus)
	assert.Equal(t, models.StepBlocked, byID["b"].FinalStatus)
	assert.Empty(t, byID["b"].Attempts, "blocked steps are never attempted")
	assert.Equal(t, models.StepSucceeded, byID["c"].FinalStatus)

	// The replan prompt must describe what failed.
	found := false
	for _, p := range ep.prompts {
		if strings.Contains(p, "partially failed") && strings.Contains(p, "step a failed permanently") {
			found = true
		}
	}
	assert.True(t, found)

	_, err = os.Stat(filepath.Join(root, "combined.sql"))
	assert.NoError(t, err)
}

func TestRunWaveMixesRunnableAndBlockedSteps(t *testing.T) {
	// Two independent roots, one of which fails, so the second wave holds a
	// runnable step next to a blocked one in the same pass.
	mixedPlan := `{"steps": [
		{"id": "a1", "title": "Schema", "purpose": "Create schema.sql holding the core database tables", "files": ["schema.sql"]},
		{"id": "x1", "title": "Seed", "purpose": "Create seed.sql populating the database reference rows", "files": ["seed.sql"]},
		{"id": "c1", "title": "Queries", "purpose": "Create queries.sql selecting from the database tables", "files": ["queries.sql"], "depends_on": ["a1"]},
		{"id": "z9", "title": "Report", "purpose": "Create report.sql aggregating the seeded database rows", "files": ["report.sql"], "depends_on": ["x1"]}
	]}`

	ep := newFuncEndpoint(func(model, prompt string) (string, error) {
		if model == plannerModel {
			return mixedPlan, nil
		}
		if strings.Contains(prompt, "seed.sql") {
			return "cannot seed anything today", nil
		}
		for _, f := range []string{"schema.sql", "queries.sql", "report.sql"} {
			if strings.Contains(prompt, f) {
				return createOp(f, "-- "+f), nil
			}
		}
		return "", errors.New("unexpected executor prompt")
	})

	cfg := testConfig()
	cfg.RetryCeiling = 0
	cfg.MaxReplans = 0
	cfg.MaxConcurrency = 4
	o, root := newTestOrchestrator(t, cfg, ep)

	report, err := o.Run(context.Background(), "implement the database reporting across the codebase modules")
	require.NoError(t, err)

	require.Len(t, report.Steps, 4)
	byID := map[string]models.StepReport{}
	for _, s := range report.Steps {
		byID[s.Step.ID] = s
	}
	assert.Equal(t, models.StepSucceeded, byID["a1"].FinalStatus)
	assert.Equal(t, models.StepSucceeded, byID["c1"].FinalStatus)
	assert.Equal(t, models.StepFailedPermanently, byID["x1"].FinalStatus)
	assert.Equal(t, models.StepBlocked, byID["z9"].FinalStatus)
	assert.Empty(t, byID["z9"].Attempts, "blocked steps are never attempted")
	assert.Equal(t, models.HealthDegraded, report.Health)

	for _, f := range []string{"schema.sql", "queries.sql"} {
		_, err := os.Stat(filepath.Join(root, f))
		assert.NoError(t, err, f)
	}
}

func TestRunToolStepUsesFormatterModel(t *testing.T) {
	toolPlan := `{"steps": [
		{"id": "r1", "title": "Inspect notes", "tool": "read_file", "params": {"path": "notes.txt"}, "purpose": "Read notes.txt to gather the existing release checklist items"},
		{"id": "w1", "title": "Write summary", "purpose": "Create summary.txt condensing the release checklist notes", "files": ["summary.txt"], "depends_on": ["r1"]}
	]}`

	ep := newFuncEndpoint(func(model, prompt string) (string, error) {
		switch model {
		case plannerModel:
			return toolPlan, nil
		case formatterModel:
			return `{"tool": "read_file", "params": {"path": "notes.txt"}}`, nil
		case executorModel:
			return createOp("summary.txt", "release summary"), nil
		}
		return "", fmt.Errorf("unexpected model %s", model)
	})
	o, root := newTestOrchestrator(t, testConfig(), ep)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ship it\n"), 0o644))

	report, err := o.Run(context.Background(), "implement the release summary integration across the codebase modules")
	require.NoError(t, err)

	require.Len(t, report.Steps, 2)
	for _, s := range report.Steps {
		assert.Equal(t, models.StepSucceeded, s.FinalStatus)
	}
	assert.Equal(t, 1, ep.callCount(formatterModel), "tool invocations go to the formatter role")
	assert.Equal(t, 1, ep.callCount(executorModel))
}

func TestRunParseRetryUsesFormatterModel(t *testing.T) {
	ep := newFuncEndpoint(func(model, prompt string) (string, error) {
		if model == formatterModel {
			return createOp("hello.txt", "hi"), nil
		}
		return "sure, here you go", nil
	})

	cfg := testConfig()
	cfg.RetryCeiling = 2
	o, _ := newTestOrchestrator(t, cfg, ep)

	report, err := o.Run(context.Background(), "create hello.txt with a greeting")
	require.NoError(t, err)

	require.Len(t, report.Steps, 1)
	step := report.Steps[0]
	assert.Equal(t, models.StepSucceeded, step.FinalStatus)
	require.Len(t, step.Attempts, 2)
	assert.Equal(t, 1, ep.callCount(executorModel))
	assert.Equal(t, 1, ep.callCount(formatterModel), "a parse failure hands the retry to the formatter role")
}

func TestRunPolicyRejectionNotRetried(t *testing.T) {
	ep := newFuncEndpoint(func(model, prompt string) (string, error) {
		return createOp(".git/hooks/pre-commit", "#!/bin/sh\n"), nil
	})

	cfg := testConfig()
	cfg.RetryCeiling = 3
	o, _ := newTestOrchestrator(t, cfg, ep)

	report, err := o.Run(context.Background(), "create a pre-commit hook file for git_hooks.txt")
	require.NoError(t, err)

	require.Len(t, report.Steps, 1)
	step := report.Steps[0]
	assert.Equal(t, models.StepFailedPermanently, step.FinalStatus)
	assert.Equal(t, string(fault.KindPolicy), step.ErrorKind)
	assert.Len(t, step.Attempts, 1, "policy rejections are terminal on the first attempt")
	assert.Equal(t, 1, ep.callCount(executorModel))
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	ep := newFuncEndpoint(landingPageHandler())

	cfg := testConfig()
	cfg.DryRun = true
	o, root := newTestOrchestrator(t, cfg, ep)

	report, err := o.Run(context.Background(), "build a 3-file landing page with hero, pricing, and a contact form")
	require.NoError(t, err)

	require.Len(t, report.Steps, 3)
	for _, s := range report.Steps {
		assert.Equal(t, models.StepNotAttempted, s.FinalStatus)
	}
	assert.Greater(t, report.PlanScore, 0.0)
	assert.Equal(t, 0, ep.callCount(executorModel), "dry run never calls the executor")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, ".foreman", e.Name(), "only engine state may exist after a dry run")
	}
}

func TestRunCanceledBeforeStart(t *testing.T) {
	ep := newFuncEndpoint(func(model, prompt string) (string, error) {
		return createOp("x.txt", "x"), nil
	})
	o, _ := newTestOrchestrator(t, testConfig(), ep)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := o.Run(ctx, "create x.txt with x")
	require.NoError(t, err)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, models.StepCanceled, report.Steps[0].FinalStatus)
}

func TestRunRecordsHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	defer store.Close()

	ep := newFuncEndpoint(func(model, prompt string) (string, error) {
		return createOp("hello.txt", "hi"), nil
	})

	cfg := testConfig()
	cfg.History.Enabled = true
	root := t.TempDir()
	o, err := New(cfg, root, ep, nil, store)
	require.NoError(t, err)

	_, err = o.Run(context.Background(), "create hello.txt with a greeting")
	require.NoError(t, err)

	reqs, err := store.RecentRequests(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "create hello.txt with a greeting", reqs[0].Text)
	assert.Equal(t, 1, reqs[0].StepsOK)
}

func TestAssess(t *testing.T) {
	ok := models.StepReport{FinalStatus: models.StepSucceeded}
	failed := models.StepReport{Step: models.PlanStep{ID: "f"}, FinalStatus: models.StepFailedPermanently, ErrorKind: "transport", Reason: "timed out"}
	blocked := models.StepReport{Step: models.PlanStep{ID: "b"}, FinalStatus: models.StepBlocked}

	tests := []struct {
		name    string
		reports []models.StepReport
		health  models.Health
		replan  bool
	}{
		{"all ok", []models.StepReport{ok, ok}, models.HealthOK, false},
		{"one failure above floor", []models.StepReport{ok, ok, failed}, models.HealthDegraded, false},
		{"failure with blocked work below floor", []models.StepReport{failed, blocked, blocked}, models.HealthCritical, true},
		{"failures but nothing blocked", []models.StepReport{failed, failed}, models.HealthDegraded, false},
		{"empty", nil, models.HealthOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Assess(tt.reports, 0.5)
			assert.Equal(t, tt.health, v.Health)
			assert.Equal(t, tt.replan, v.Replan)
		})
	}
}
