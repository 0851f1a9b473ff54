// Package router chooses an execution path and a role→model assignment for
// a classified request. The router is deterministic, never calls a model,
// and works from a static capability table that is read-only after startup.
package router

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/harrison/foreman/internal/models"
)

//go:embed capabilities.yaml
var defaultCapabilitiesYAML []byte

// ModelCapability scores one backend model on the axes role assignment
// cares about. Scores are relative, higher is better.
type ModelCapability struct {
	Model            string  `yaml:"model"`
	Reasoning        float64 `yaml:"reasoning"`         // Plan quality
	CodeGeneration   float64 `yaml:"code_generation"`   // Edit quality
	StructuredOutput float64 `yaml:"structured_output"` // Call-grammar reliability
	Overall          float64 `yaml:"overall"`           // General capability, used for escalation
}

// Table is the capability table plus the routing threshold.
type Table struct {
	// DirectFileLimit is the largest file-count estimate still eligible
	// for the direct path.
	DirectFileLimit int               `yaml:"direct_file_limit"`
	Models          []ModelCapability `yaml:"models"`
}

// DefaultTable returns the built-in capability table.
func DefaultTable() *Table {
	t, err := parseTable(defaultCapabilitiesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded capability table invalid: %v", err))
	}
	return t
}

// LoadTable reads a capability table from a YAML file. An empty path
// returns the built-in table.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capability table: %w", err)
	}
	return parseTable(data)
}

func parseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse capability table: %w", err)
	}
	if len(t.Models) == 0 {
		return nil, fmt.Errorf("capability table has no models")
	}
	if t.DirectFileLimit <= 0 {
		t.DirectFileLimit = 2
	}
	for _, m := range t.Models {
		if m.Model == "" {
			return nil, fmt.Errorf("capability table entry missing model id")
		}
	}
	return &t, nil
}

// Route maps a classification onto an execution path and role assignment.
// The direct path is taken for simple/standard requests touching at most
// DirectFileLimit files with no creativity flag; everything else is planned.
func Route(c models.Classification, table *Table) (models.Route, map[models.Role]string) {
	route := models.RoutePlanned
	if (c.Tier == models.TierSimple || c.Tier == models.TierStandard) &&
		c.FileCountEstimate <= table.DirectFileLimit &&
		!c.Creative {
		route = models.RouteDirect
	}
	return route, Assign(table)
}

// Assign performs the static role→model lookup: each role goes to the model
// scoring highest on the axis that role depends on. Ties break toward the
// earlier table entry, so the assignment is stable.
func Assign(table *Table) map[models.Role]string {
	best := func(score func(ModelCapability) float64) string {
		idx := 0
		for i, m := range table.Models {
			if score(m) > score(table.Models[idx]) {
				idx = i
			}
		}
		return table.Models[idx].Model
	}

	return map[models.Role]string{
		models.RolePlanner:       best(func(m ModelCapability) float64 { return m.Reasoning }),
		models.RoleExecutor:      best(func(m ModelCapability) float64 { return m.CodeGeneration }),
		models.RoleToolFormatter: best(func(m ModelCapability) float64 { return m.StructuredOutput }),
		models.RoleEscalation:    best(func(m ModelCapability) float64 { return m.Overall }),
	}
}
