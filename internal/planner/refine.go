package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/foreman/internal/fault"
	"github.com/harrison/foreman/internal/infer"
	"github.com/harrison/foreman/internal/models"
)

const plannerSystemPrompt = `You are a planning assistant for a code-editing engine.
Produce an execution plan as a JSON object: {"steps": [{"id", "title", "tool",
"params", "purpose", "files", "depends_on", "critical"}]}. Every step that edits
the workspace must list its files. Keep steps small and independently checkable.`

// Refiner generates a plan and improves it through a bounded number of
// refinement rounds. It always returns the best-scoring plan seen so far;
// an imperfect plan proceeds to execution rather than blocking on a
// perfect score.
type Refiner struct {
	Endpoint       infer.Endpoint
	MaxRefinements int     // Refinement rounds after the initial generation
	MinScore       float64 // Score at which refinement stops early
}

// Produce asks the planner model for a plan and refines it until the score
// clears MinScore or the refinement budget runs out. Parse failures during
// refinement do not discard an earlier good plan.
func (r *Refiner) Produce(ctx context.Context, plannerModel, requestText string) (*models.ExecutionPlan, Validation, error) {
	prompt := requestText
	var best *models.ExecutionPlan
	var bestVal Validation

	for round := 0; round <= r.MaxRefinements; round++ {
		if err := ctx.Err(); err != nil {
			break
		}

		output, err := r.Endpoint.Generate(ctx, plannerModel, prompt, infer.Options{System: plannerSystemPrompt})
		if err != nil {
			if best != nil {
				break
			}
			return nil, Validation{}, err
		}

		steps, err := ParsePlan(output)
		if err != nil {
			// Re-prompt with the parse failure appended; never repair output.
			prompt = refinePromptForError(requestText, err)
			continue
		}

		plan := &models.ExecutionPlan{Route: models.RoutePlanned, Steps: steps, Refinements: round}
		val, err := Validate(plan, requestText)
		if err != nil {
			prompt = refinePromptForError(requestText, err)
			continue
		}

		if best == nil || val.Score > bestVal.Score {
			best, bestVal = plan, val
		}
		if val.Score >= r.MinScore {
			break
		}
		prompt = refinePromptForScore(requestText, output, val)
	}

	if best == nil {
		return nil, Validation{}, &fault.ParseError{
			Role:   string(models.RolePlanner),
			Detail: fmt.Sprintf("no parseable plan after %d rounds", r.MaxRefinements+1),
		}
	}
	return best, bestVal, nil
}

func refinePromptForError(requestText string, err error) string {
	return fmt.Sprintf("%s\n\nYour previous plan was rejected: %v\nProduce a corrected plan.", requestText, err)
}

func refinePromptForScore(requestText, previous string, val Validation) string {
	var b strings.Builder
	b.WriteString(requestText)
	b.WriteString("\n\nYour previous plan scored ")
	fmt.Fprintf(&b, "%.2f", val.Score)
	b.WriteString(". Improve it:\n")
	for _, s := range val.Suggestions {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	for _, s := range val.Issues {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString("\nPrevious plan:\n")
	b.WriteString(previous)
	return b.String()
}
