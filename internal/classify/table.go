package classify

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed cues.yaml
var defaultCuesYAML []byte

// Cue is one weighted keyword in the classification table. Strong cues mark
// explicit multi-file/full-application signals that override the hysteresis
// demotion at tier boundaries.
type Cue struct {
	Cue    string  `yaml:"cue"`
	Weight float64 `yaml:"weight"`
	Strong bool    `yaml:"strong,omitempty"`
}

// Thresholds maps the combined score onto tiers.
type Thresholds struct {
	Standard float64 `yaml:"standard"` // Combined score at which standard begins
	Complex  float64 `yaml:"complex"`  // Combined score at which complex begins
	// Hysteresis is the width of the boundary band just above each
	// threshold inside which the cheaper tier is kept unless a strong
	// signal is present.
	Hysteresis float64 `yaml:"hysteresis"`
	// Creative is the creativity score at which the creativity flag trips.
	Creative float64 `yaml:"creative"`
}

// Weights blends the three cue-set scores into the combined score.
type Weights struct {
	Complexity float64 `yaml:"complexity"`
	Structural float64 `yaml:"structural"`
	Creativity float64 `yaml:"creativity"`
	// PerExtraFile scores each file beyond the first from the estimate.
	PerExtraFile float64 `yaml:"per_extra_file"`
}

// Table is the versioned, data-driven classification table. It is loaded at
// startup and read-only afterwards.
type Table struct {
	Version    int        `yaml:"version"`
	Thresholds Thresholds `yaml:"thresholds"`
	Weights    Weights    `yaml:"weights"`
	Complexity []Cue      `yaml:"complexity"`
	Creativity []Cue      `yaml:"creativity"`
	Structural []Cue      `yaml:"structural"`
}

// DefaultTable returns the built-in cue table.
func DefaultTable() *Table {
	t, err := parseTable(defaultCuesYAML)
	if err != nil {
		// The embedded table is validated by tests; reaching this means a
		// broken build.
		panic(fmt.Sprintf("embedded cue table invalid: %v", err))
	}
	return t
}

// LoadTable reads a cue table from a YAML file. An empty path returns the
// built-in table.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cue table: %w", err)
	}
	return parseTable(data)
}

func parseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse cue table: %w", err)
	}
	if t.Version < 1 {
		return nil, fmt.Errorf("cue table missing version")
	}
	if t.Thresholds.Standard <= 0 || t.Thresholds.Complex <= t.Thresholds.Standard {
		return nil, fmt.Errorf("cue table thresholds must satisfy 0 < standard < complex")
	}
	for _, set := range [][]Cue{t.Complexity, t.Creativity, t.Structural} {
		for _, c := range set {
			if c.Cue == "" || c.Weight < 0 {
				return nil, fmt.Errorf("cue %q has an empty pattern or negative weight", c.Cue)
			}
		}
	}
	return &t, nil
}
