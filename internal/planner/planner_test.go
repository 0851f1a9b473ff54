package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/foreman/internal/fault"
	"github.com/harrison/foreman/internal/infer"
	"github.com/harrison/foreman/internal/models"
)

const landingPageJSON = `{"steps": [
	{"id": "s1", "title": "Homepage", "tool": "apply_edits", "purpose": "Create index.html with the landing page hero section and navigation", "files": ["index.html"], "critical": true},
	{"id": "s2", "title": "Styles", "tool": "apply_edits", "purpose": "Create style.css with layout and color rules for the landing page", "files": ["style.css"], "depends_on": ["s1"]},
	{"id": "s3", "title": "Script", "tool": "apply_edits", "purpose": "Create script.js wiring the contact form submit handler", "files": ["script.js"], "depends_on": ["s1"]}
]}`

func TestParsePlanJSON(t *testing.T) {
	steps, err := ParsePlan(landingPageJSON)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "s1", steps[0].ID)
	assert.True(t, steps[0].Critical)
	assert.Equal(t, []string{"s1"}, steps[2].DependsOn)
}

func TestParsePlanFencedJSON(t *testing.T) {
	out := "Here is the plan:\n```json\n" + landingPageJSON + "\n```\n"
	steps, err := ParsePlan(out)
	require.NoError(t, err)
	assert.Len(t, steps, 3)
}

func TestParsePlanMarkdown(t *testing.T) {
	out := "## Step s1: Homepage\n\n" +
		"```yaml\ntool: apply_edits\nfiles: [index.html]\ncritical: true\n```\n\n" +
		"Create index.html with the hero section.\n\n" +
		"## Step s2: Styles\n\n" +
		"```yaml\nfiles: [style.css]\ndepends_on: [s1]\n```\n\n" +
		"Create style.css for the page layout.\n"

	steps, err := ParsePlan(out)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "s1", steps[0].ID)
	assert.Equal(t, "Homepage", steps[0].Title)
	assert.Equal(t, "apply_edits", steps[0].Tool)
	assert.True(t, steps[0].Critical)
	assert.Equal(t, "Create index.html with the hero section.", steps[0].Purpose)
	assert.Equal(t, []string{"s1"}, steps[1].DependsOn)
}

func TestParsePlanRejections(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"prose", "First I would create the homepage, then the styles."},
		{"broken json", `{"steps": [`},
		{"empty steps", `{"steps": []}`},
		{"missing purpose", `{"steps": [{"id": "s1"}]}`},
		{"unknown field", `{"steps": [{"id": "s1", "purpose": "x", "cost": 3}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan(tt.output)
			require.Error(t, err)
			assert.Equal(t, fault.KindParse, fault.Classify(err))
		})
	}
}

func TestValidateStructure(t *testing.T) {
	tests := []struct {
		name  string
		steps []models.PlanStep
	}{
		{"duplicate ids", []models.PlanStep{
			{ID: "a", Purpose: "first"}, {ID: "a", Purpose: "second"},
		}},
		{"unknown dependency", []models.PlanStep{
			{ID: "a", Purpose: "first", DependsOn: []string{"ghost"}},
		}},
		{"self dependency", []models.PlanStep{
			{ID: "a", Purpose: "first", DependsOn: []string{"a"}},
		}},
		{"cycle", []models.PlanStep{
			{ID: "a", Purpose: "first", DependsOn: []string{"b"}},
			{ID: "b", Purpose: "second", DependsOn: []string{"a"}},
		}},
		{"no steps", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := &models.ExecutionPlan{Steps: tt.steps}
			_, err := Validate(plan, "request")
			require.Error(t, err)
			assert.Equal(t, fault.KindValidation, fault.Classify(err))
		})
	}
}

func TestValidateScoring(t *testing.T) {
	steps, err := ParsePlan(landingPageJSON)
	require.NoError(t, err)
	plan := &models.ExecutionPlan{Steps: steps}

	v, err := Validate(plan, "build a 3-file landing page with a contact form")
	require.NoError(t, err)
	assert.Greater(t, v.Score, 0.7, "concrete, detailed plan should score high")
	assert.Equal(t, v.Score, plan.Score)

	vague := &models.ExecutionPlan{Steps: []models.PlanStep{
		{ID: "s1", Tool: "apply_edits", Purpose: "do it"},
	}}
	vv, err := Validate(vague, "build a 3-file landing page with a contact form")
	require.NoError(t, err)
	assert.Less(t, vv.Score, v.Score)
	assert.NotEmpty(t, vv.Suggestions)
}

// scriptedEndpoint returns canned outputs in order.
type scriptedEndpoint struct {
	outputs []string
	calls   int
	prompts []string
}

func (s *scriptedEndpoint) Generate(_ context.Context, _ string, prompt string, _ infer.Options) (string, error) {
	s.prompts = append(s.prompts, prompt)
	out := s.outputs[s.calls%len(s.outputs)]
	s.calls++
	return out, nil
}

func TestRefinerStopsAtMinScore(t *testing.T) {
	ep := &scriptedEndpoint{outputs: []string{landingPageJSON}}
	r := &Refiner{Endpoint: ep, MaxRefinements: 3, MinScore: 0.6}

	plan, val, err := r.Produce(context.Background(), "planner-model", "build a 3-file landing page with a contact form")
	require.NoError(t, err)
	assert.Equal(t, 1, ep.calls, "good first plan should not be refined")
	assert.GreaterOrEqual(t, val.Score, 0.6)
	assert.Len(t, plan.Steps, 3)
}

func TestRefinerRecoversFromParseFailure(t *testing.T) {
	ep := &scriptedEndpoint{outputs: []string{"sorry, thinking out loud", landingPageJSON}}
	r := &Refiner{Endpoint: ep, MaxRefinements: 2, MinScore: 0.6}

	plan, _, err := r.Produce(context.Background(), "planner-model", "build a 3-file landing page with a contact form")
	require.NoError(t, err)
	assert.Equal(t, 2, ep.calls)
	assert.Len(t, plan.Steps, 3)
	assert.Contains(t, ep.prompts[1], "rejected", "re-prompt should carry the rejection")
}

func TestRefinerKeepsBestPlan(t *testing.T) {
	vague := `{"steps": [{"id": "s1", "purpose": "do the thing somehow here"}]}`
	ep := &scriptedEndpoint{outputs: []string{landingPageJSON, vague, vague}}
	r := &Refiner{Endpoint: ep, MaxRefinements: 2, MinScore: 0.99}

	plan, _, err := r.Produce(context.Background(), "planner-model", "build a 3-file landing page with a contact form")
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 3, "later worse rounds must not replace the best plan")
}

func TestRefinerAllRoundsUnparseable(t *testing.T) {
	ep := &scriptedEndpoint{outputs: []string{"nope"}}
	r := &Refiner{Endpoint: ep, MaxRefinements: 2, MinScore: 0.6}

	_, _, err := r.Produce(context.Background(), "planner-model", "anything")
	require.Error(t, err)
	assert.Equal(t, fault.KindParse, fault.Classify(err))
}

func TestWaves(t *testing.T) {
	plan := &models.ExecutionPlan{Steps: []models.PlanStep{
		{ID: "a", Purpose: "root"},
		{ID: "b", Purpose: "root"},
		{ID: "c", Purpose: "mid", DependsOn: []string{"a"}},
		{ID: "d", Purpose: "leaf", DependsOn: []string{"b", "c"}},
	}}
	waves, err := Waves(plan)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}, {"d"}}, waves)
}

func TestWavesSplitFileOverlap(t *testing.T) {
	plan := &models.ExecutionPlan{Steps: []models.PlanStep{
		{ID: "a", Purpose: "edit", Files: []string{"main.go"}},
		{ID: "b", Purpose: "edit", Files: []string{"main.go"}},
		{ID: "c", Purpose: "edit", Files: []string{"other.go"}},
	}}
	waves, err := Waves(plan)
	require.NoError(t, err)
	// a and b share main.go, so b is deferred even without a dependency edge.
	assert.Equal(t, [][]string{{"a", "c"}, {"b"}}, waves)
}
