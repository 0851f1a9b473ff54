package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harrison/foreman/internal/fault"
	"github.com/harrison/foreman/internal/models"
)

// Validation is the outcome of scoring a plan against its request.
type Validation struct {
	Score       float64
	Issues      []string
	Suggestions []string
}

var fileTokenRe = regexp.MustCompile(`[\w./-]+\.\w{1,8}`)

// wordRe splits request and purpose text into comparable lowercase words.
var wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]{2,}`)

// Validate checks a plan's structure and scores its quality on 0..1.
// Structural defects (duplicate IDs, unknown dependencies, dependency
// cycles) are hard errors; quality shortfalls only lower the score.
//
// The score has three components: concrete file targets (0.4), enough
// detail per step (0.3), and lexical overlap with the request (0.3).
func Validate(plan *models.ExecutionPlan, requestText string) (Validation, error) {
	if err := checkStructure(plan); err != nil {
		return Validation{}, err
	}

	var v Validation
	v.Score += scoreFileTargets(plan, &v)
	v.Score += scoreDetail(plan, &v)
	v.Score += scoreOverlap(plan, requestText, &v)
	plan.Score = v.Score
	return v, nil
}

func checkStructure(plan *models.ExecutionPlan) error {
	if len(plan.Steps) == 0 {
		return &fault.ValidationError{Subject: "plan", Detail: "plan has no steps"}
	}

	seen := make(map[string]bool, len(plan.Steps))
	var issues []string
	for _, s := range plan.Steps {
		if s.ID == "" {
			issues = append(issues, "step with empty id")
			continue
		}
		if seen[s.ID] {
			issues = append(issues, fmt.Sprintf("duplicate step id %q", s.ID))
		}
		seen[s.ID] = true
	}
	for _, s := range plan.Steps {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				issues = append(issues, fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep))
			}
			if dep == s.ID {
				issues = append(issues, fmt.Sprintf("step %q depends on itself", s.ID))
			}
		}
	}
	if len(issues) > 0 {
		return &fault.ValidationError{Subject: "plan", Detail: "plan structure is invalid", Issues: issues}
	}

	if cycle := findCycle(plan.Steps); cycle != nil {
		return &fault.ValidationError{
			Subject: "plan",
			Detail:  "plan dependencies form a cycle",
			Issues:  []string{"cycle: " + strings.Join(cycle, " -> ")},
		}
	}
	return nil
}

// scoreFileTargets rewards steps that name the files they touch. Steps
// without a tool (pure analysis steps) are exempt.
func scoreFileTargets(plan *models.ExecutionPlan, v *Validation) float64 {
	editing := 0
	targeted := 0
	for _, s := range plan.Steps {
		if s.Tool == "" && len(s.Files) == 0 {
			continue
		}
		editing++
		if len(s.Files) > 0 || fileTokenRe.MatchString(s.Purpose) {
			targeted++
		} else {
			v.Suggestions = append(v.Suggestions, fmt.Sprintf("step %q should name the files it changes", s.ID))
		}
	}
	if editing == 0 {
		v.Issues = append(v.Issues, "no step names a concrete file target")
		return 0
	}
	return 0.4 * float64(targeted) / float64(editing)
}

// scoreDetail rewards purposes long enough to act on without guessing.
func scoreDetail(plan *models.ExecutionPlan, v *Validation) float64 {
	detailed := 0
	for _, s := range plan.Steps {
		if len(wordRe.FindAllString(s.Purpose, -1)) >= 5 {
			detailed++
		} else {
			v.Suggestions = append(v.Suggestions, fmt.Sprintf("step %q needs a more specific purpose", s.ID))
		}
	}
	return 0.3 * float64(detailed) / float64(len(plan.Steps))
}

// scoreOverlap measures how much of the request's vocabulary the plan
// actually addresses.
func scoreOverlap(plan *models.ExecutionPlan, requestText string, v *Validation) float64 {
	reqWords := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(requestText), -1) {
		reqWords[w] = true
	}
	if len(reqWords) == 0 {
		return 0.3
	}

	var planText strings.Builder
	for _, s := range plan.Steps {
		planText.WriteString(strings.ToLower(s.Title))
		planText.WriteString(" ")
		planText.WriteString(strings.ToLower(s.Purpose))
		planText.WriteString(" ")
		planText.WriteString(strings.ToLower(strings.Join(s.Files, " ")))
		planText.WriteString(" ")
	}
	planBody := planText.String()

	covered := 0
	for w := range reqWords {
		if strings.Contains(planBody, w) {
			covered++
		}
	}
	ratio := float64(covered) / float64(len(reqWords))
	if ratio < 0.25 {
		v.Issues = append(v.Issues, "plan barely mentions what the request asks for")
	}
	return 0.3 * ratio
}

// findCycle runs a DFS over the dependency edges and returns the first
// cycle found as a step-id path, or nil.
func findCycle(steps []models.PlanStep) []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(steps))
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.DependsOn
	}

	var stack []string
	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch state[dep] {
			case inStack:
				// Slice the stack from the repeated node to close the loop.
				for i, v := range stack {
					if v == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						return true
					}
				}
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, s := range steps {
		if state[s.ID] == unvisited && visit(s.ID) {
			return cycle
		}
	}
	return nil
}
