// Package retry drives a failed step through the recovery ladder: retry in
// place with an error-augmented prompt, escalate to the strongest model, or
// fail permanently. Decisions are based solely on the classified error kind;
// the number of attempts per step is hard-bounded.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/foreman/internal/fault"
	"github.com/harrison/foreman/internal/models"
)

// maxRecordedOutput caps how much attempt output is kept in the report.
const maxRecordedOutput = 2048

// AttemptFunc performs one attempt at a step. lastErr carries the previous
// attempt's failure so the caller can augment its prompt; it is nil on the
// first attempt. escalated marks the attempt as running on the
// escalation-role model.
type AttemptFunc func(ctx context.Context, attempt int, escalated bool, lastErr error) (output string, err error)

// Outcome is the terminal result of running one step through the engine.
type Outcome struct {
	Status    models.StepStatus
	Attempts  []models.AttemptResult
	Output    string     // Output of the successful attempt, empty on failure
	ErrorKind fault.Kind // Kind of the terminal failure
	Reason    string     // Terminal failure reason
}

// Engine applies the retry policy. Ceiling is the retry ceiling: a step is
// attempted at most Ceiling+1 times in total, escalation included. Critical
// steps reserve the final slot for the escalation attempt.
type Engine struct {
	Ceiling int
}

// Run drives fn until the step succeeds, fails permanently, or the context
// is canceled. Security-policy rejections fail immediately and are never
// escalated. Non-transient failures stop in-place retries early; for a
// critical step the escalation attempt still runs.
func (e *Engine) Run(ctx context.Context, step models.PlanStep, fn AttemptFunc) Outcome {
	// Critical steps reserve the final attempt slot for escalation, so the
	// total never exceeds Ceiling+1 either way. A critical step with a zero
	// ceiling goes straight to the escalation model.
	normalBudget := e.Ceiling + 1
	if step.Critical {
		normalBudget = e.Ceiling
	}

	var out Outcome
	var lastErr error
	attempt := 0

	for attempt < normalBudget {
		if ctx.Err() != nil {
			return e.canceled(out)
		}
		attempt++
		output, err := e.runAttempt(ctx, &out, step.ID, attempt, false, fn, lastErr)
		if err == nil {
			out.Status = models.StepSucceeded
			out.Output = output
			return out
		}
		lastErr = err

		if fault.Classify(err) == fault.KindPolicy {
			return e.permanent(out, err)
		}
		if errors.Is(err, context.Canceled) {
			return e.canceled(out)
		}
		if !fault.Transient(err) {
			// Retrying the same prompt against a deterministic failure is
			// wasted budget; jump straight to the escalation decision.
			break
		}
	}

	if step.Critical && ctx.Err() == nil {
		attempt++
		output, err := e.runAttempt(ctx, &out, step.ID, attempt, true, fn, lastErr)
		if err == nil {
			out.Status = models.StepSucceeded
			out.Output = output
			return out
		}
		lastErr = err
	}

	return e.permanent(out, lastErr)
}

func (e *Engine) runAttempt(ctx context.Context, out *Outcome, stepID string, attempt int, escalated bool, fn AttemptFunc, lastErr error) (string, error) {
	start := time.Now()
	output, err := fn(ctx, attempt, escalated, lastErr)

	rec := models.AttemptResult{
		AttemptID: uuid.NewString(),
		StepID:    stepID,
		Attempt:   attempt,
		Escalated: escalated,
		Duration:  time.Since(start),
	}
	if err == nil {
		rec.Success = true
		rec.Output = truncate(output)
	} else {
		rec.ErrorKind = string(fault.Classify(err))
		rec.Reason = err.Error()
	}
	out.Attempts = append(out.Attempts, rec)
	return output, err
}

func (e *Engine) permanent(out Outcome, err error) Outcome {
	out.Status = models.StepFailedPermanently
	out.ErrorKind = fault.Classify(err)
	if err != nil {
		out.Reason = err.Error()
	}
	return out
}

// canceled leaves ErrorKind empty, like success: cancellation is not a
// taxonomy failure and must not masquerade as one in reports or history.
func (e *Engine) canceled(out Outcome) Outcome {
	out.Status = models.StepCanceled
	out.ErrorKind = ""
	out.Reason = "execution canceled"
	return out
}

func truncate(s string) string {
	if len(s) <= maxRecordedOutput {
		return s
	}
	return s[:maxRecordedOutput] + "... [truncated]"
}
