package planner

import (
	"sort"

	"github.com/harrison/foreman/internal/fault"
	"github.com/harrison/foreman/internal/models"
)

// Waves groups steps into dependency-ordered execution waves. Steps in the
// same wave have no dependency edges between them and may run in parallel.
// Two steps that declare overlapping file sets are additionally forced into
// separate waves so that concurrent steps never contend for the same path
// locks.
func Waves(plan *models.ExecutionPlan) ([][]string, error) {
	indegree := make(map[string]int, len(plan.Steps))
	dependents := make(map[string][]string, len(plan.Steps))
	for _, s := range plan.Steps {
		indegree[s.ID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var ready []string
	for _, s := range plan.Steps {
		if indegree[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}

	var waves [][]string
	placed := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		wave, deferred := splitFileOverlaps(plan, ready)
		waves = append(waves, wave)
		placed += len(wave)

		var next []string
		for _, id := range wave {
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = append(deferred, next...)
	}

	if placed != len(plan.Steps) {
		return nil, &fault.ValidationError{Subject: "plan", Detail: "plan dependencies form a cycle"}
	}
	return waves, nil
}

// splitFileOverlaps keeps the first step claiming each file in the current
// wave and defers later claimants to a following wave. Deferral preserves
// the ready set's sorted order, so repeated overlap chains resolve in a
// deterministic sequence.
func splitFileOverlaps(plan *models.ExecutionPlan, ready []string) (wave, deferred []string) {
	claimed := make(map[string]bool)
	for _, id := range ready {
		step := plan.Step(id)
		overlap := false
		for _, f := range step.Files {
			if claimed[f] {
				overlap = true
				break
			}
		}
		if overlap {
			deferred = append(deferred, id)
			continue
		}
		for _, f := range step.Files {
			claimed[f] = true
		}
		wave = append(wave, id)
	}
	return wave, deferred
}
