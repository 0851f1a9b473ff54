package models

import "errors"

// Route selects how a request is executed.
type Route string

const (
	// RouteDirect executes the request as a single step with no planner call.
	RouteDirect Route = "direct"
	// RoutePlanned generates a multi-step plan and validates it before execution.
	RoutePlanned Route = "planned"
)

// Role is the logical function a model fulfills during execution,
// decoupled from the concrete backend model serving it.
type Role string

const (
	RolePlanner       Role = "planner"
	RoleExecutor      Role = "executor"
	RoleToolFormatter Role = "tool_formatter"
	RoleEscalation    Role = "escalation"
)

// Roles lists every role the router must assign.
var Roles = []Role{RolePlanner, RoleExecutor, RoleToolFormatter, RoleEscalation}

// PlanStep is one unit of work in an execution plan. Identity is the ID;
// a step is never mutated once the plan passes validation.
type PlanStep struct {
	ID        string            // Step identifier, unique within the plan
	Title     string            // Short human-readable name
	Tool      string            // Target tool name
	Params    map[string]string // Tool parameters
	Purpose   string            // What the step should accomplish (fed to the executor model)
	Files     []string          // Workspace-relative paths the step intends to touch
	DependsOn []string          // Step IDs that must reach a terminal state first
	Critical  bool              // Explicitly flagged as warranting escalation before permanent failure
}

// Validate checks the structural fields a step needs before execution.
func (s *PlanStep) Validate() error {
	if s.ID == "" {
		return errors.New("step id is required")
	}
	if s.Purpose == "" && s.Tool == "" {
		return errors.New("step needs a purpose or an explicit tool")
	}
	return nil
}

// ExecutionPlan is the router/planner output for one request. It is mutable
// only during bounded refinement and read-only once execution starts.
type ExecutionPlan struct {
	Route       Route           // direct or planned
	Roles       map[Role]string // role -> concrete model id
	Steps       []PlanStep      // ordered steps
	Score       float64         // last validation score (0..1), planned route only
	Refinements int             // refinement rounds consumed
}

// Step returns the step with the given ID, or nil.
func (p *ExecutionPlan) Step(id string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// Dependents returns the IDs of steps that list id in their depends_on set.
func (p *ExecutionPlan) Dependents(id string) []string {
	var out []string
	for i := range p.Steps {
		for _, dep := range p.Steps[i].DependsOn {
			if dep == id {
				out = append(out, p.Steps[i].ID)
				break
			}
		}
	}
	return out
}
