package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/foreman/internal/fault"
	"github.com/harrison/foreman/internal/history"
	"github.com/harrison/foreman/internal/infer"
	"github.com/harrison/foreman/internal/models"
	"github.com/harrison/foreman/internal/tool"
)

const executorSystemPrompt = `You are the executor of a code-editing engine.
Respond with exactly one JSON object, either a tool invocation
{"tool": "...", "params": {...}} or a batch of file operations
{"operations": [{"path", "kind", "content", "hunks"}]} where kind is one of
create, write_whole, apply_diff, delete. No prose outside the JSON.`

// runStep drives one step through the retry engine and returns its report
// plus the workspace files it changed.
func (o *Orchestrator) runStep(ctx context.Context, roles map[models.Role]string, step models.PlanStep, failCtx []history.Failure) (models.StepReport, []string) {
	var changed []string

	outcome := o.retries.Run(ctx, step, func(ctx context.Context, attempt int, escalated bool, lastErr error) (string, error) {
		model := attemptModel(roles, step, escalated, lastErr)
		if escalated {
			o.log.Warnf("step %s: escalating to %s (attempt %d)", step.ID, model, attempt)
		} else if attempt > 1 {
			o.log.Infof("step %s: retry attempt %d on %s", step.ID, attempt, model)
		}

		cctx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		defer cancel()

		output, err := o.endpoint.Generate(cctx, model, o.executorPrompt(step, lastErr, failCtx), infer.Options{
			System:  executorSystemPrompt,
			Timeout: o.cfg.StepTimeout,
		})
		if err != nil {
			return "", err
		}

		call, err := tool.ParseCall(output, string(models.RoleExecutor))
		if err != nil {
			return "", err
		}

		files, result, err := o.applyCall(ctx, call)
		if err != nil {
			return "", err
		}
		changed = append(changed, files...)
		return result, nil
	})

	report := models.StepReport{
		Step:        step,
		Attempts:    outcome.Attempts,
		FinalStatus: outcome.Status,
		Reason:      outcome.Reason,
	}
	if outcome.Status != models.StepSucceeded {
		report.ErrorKind = string(outcome.ErrorKind)
	}
	return report, changed
}

// attemptModel picks the model for one attempt. Explicit tool invocations
// and retries after a parse failure go to the tool_formatter role, whose
// model is chosen for structured-output reliability; escalation overrides
// everything.
func attemptModel(roles map[models.Role]string, step models.PlanStep, escalated bool, lastErr error) string {
	switch {
	case escalated:
		return roles[models.RoleEscalation]
	case step.Tool != "":
		return roles[models.RoleToolFormatter]
	case lastErr != nil && fault.Classify(lastErr) == fault.KindParse:
		return roles[models.RoleToolFormatter]
	default:
		return roles[models.RoleExecutor]
	}
}

// applyCall executes a parsed call: a named read-only tool, or a batch of
// file operations applied atomically under one transaction.
func (o *Orchestrator) applyCall(ctx context.Context, call *tool.Call) (files []string, output string, err error) {
	if call.Tool != "" {
		t, ok := o.tools.Get(call.Tool)
		if !ok {
			return nil, "", &fault.ToolError{Tool: call.Tool, Detail: "unknown tool"}
		}
		res := t.Invoke(ctx, call.Params)
		if !res.Success {
			return nil, "", &fault.ToolError{Tool: call.Tool, Detail: res.Error, Transient: res.Transient}
		}
		return nil, res.Data, nil
	}

	// Policy runs before any lock or snapshot is taken.
	if err := o.policy.CheckAll(call.Paths()); err != nil {
		return nil, "", err
	}

	tx := o.txns.Begin()
	for _, op := range call.Operations {
		if err := tx.Stage(op.FileOp()); err != nil {
			tx.Rollback()
			return nil, "", err
		}
	}
	res, err := tx.Commit()
	if err != nil {
		return nil, "", err
	}
	return res.FilesChanged, fmt.Sprintf("changed %d file(s)", len(res.FilesChanged)), nil
}

// executorPrompt assembles the per-attempt prompt: the step, its declared
// files, recent failures from history, and the previous attempt's error so
// the model can correct itself.
func (o *Orchestrator) executorPrompt(step models.PlanStep, lastErr error, failCtx []history.Failure) string {
	var b strings.Builder
	b.WriteString(step.Purpose)
	if step.Title != "" {
		b.WriteString("\n\nStep: ")
		b.WriteString(step.Title)
	}
	if len(step.Files) > 0 {
		b.WriteString("\nFiles to touch: ")
		b.WriteString(strings.Join(step.Files, ", "))
	}
	if step.Tool != "" {
		b.WriteString("\nUse tool: ")
		b.WriteString(step.Tool)
		for k, v := range step.Params {
			fmt.Fprintf(&b, "\n  %s: %s", k, v)
		}
	}

	if len(failCtx) > 0 {
		b.WriteString("\n\nRecent failures in this workspace, avoid repeating them:")
		for _, f := range failCtx {
			fmt.Fprintf(&b, "\n- [%s] %s", f.ErrorKind, f.Reason)
		}
	}
	if lastErr != nil {
		b.WriteString("\n\nYour previous response failed: ")
		b.WriteString(lastErr.Error())
		b.WriteString("\nRespond again following the required JSON format exactly.")
	}
	return b.String()
}
