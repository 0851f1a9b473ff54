// Package planner turns planner-model output into validated execution
// plans: strict structured parsing, rule-based plan scoring, bounded
// refinement, and dependency-ordered wave computation.
package planner

import (
	_ "embed"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/harrison/foreman/internal/fault"
	"github.com/harrison/foreman/internal/models"
)

//go:embed plan_schema.json
var planSchemaJSON string

var planSchema = jsonschema.MustCompileString("plan_schema.json", planSchemaJSON)

// planWire is the JSON wire form of a plan.
type planWire struct {
	Steps []stepWire `json:"steps"`
}

type stepWire struct {
	ID        string            `json:"id"`
	Title     string            `json:"title,omitempty"`
	Tool      string            `json:"tool,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Purpose   string            `json:"purpose"`
	Files     []string          `json:"files,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty"`
	Critical  bool              `json:"critical,omitempty"`
}

// ParsePlan strictly parses planner output into steps. JSON plans are
// validated against the plan schema; markdown plans ("## Step N: title"
// sections) are accepted as the prose alternative. Anything else is a
// structured-output parse error — malformed plans are re-prompted for,
// never patched up.
func ParsePlan(output string) ([]models.PlanStep, error) {
	if raw := extractJSONObject(output); raw != "" {
		return parseJSONPlan(raw)
	}
	if looksLikeMarkdownPlan(output) {
		return parseMarkdownPlan([]byte(output))
	}
	return nil, &fault.ParseError{
		Role:   string(models.RolePlanner),
		Detail: "output is neither a JSON plan nor a markdown plan",
	}
}

func parseJSONPlan(raw string) ([]models.PlanStep, error) {
	var loose interface{}
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		return nil, &fault.ParseError{Role: string(models.RolePlanner), Detail: "plan is not valid JSON", Err: err}
	}
	if err := planSchema.Validate(loose); err != nil {
		return nil, &fault.ParseError{Role: string(models.RolePlanner), Detail: "plan does not match the plan schema", Err: err}
	}

	var wire planWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, &fault.ParseError{Role: string(models.RolePlanner), Detail: "cannot decode plan", Err: err}
	}

	steps := make([]models.PlanStep, len(wire.Steps))
	for i, s := range wire.Steps {
		steps[i] = models.PlanStep{
			ID:        s.ID,
			Title:     s.Title,
			Tool:      s.Tool,
			Params:    s.Params,
			Purpose:   s.Purpose,
			Files:     s.Files,
			DependsOn: s.DependsOn,
			Critical:  s.Critical,
		}
	}
	return steps, nil
}

// extractJSONObject returns the fenced JSON block if present, else the
// trimmed output when it is itself a JSON object.
func extractJSONObject(output string) string {
	if idx := strings.Index(output, "```json"); idx >= 0 {
		rest := output[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	return ""
}
