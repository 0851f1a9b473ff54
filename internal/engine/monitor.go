package engine

import (
	"fmt"
	"strings"

	"github.com/harrison/foreman/internal/models"
)

// Verdict is the monitor's reading of an execution pass.
type Verdict struct {
	Health models.Health
	// Replan is set when the pass went badly enough that finishing the
	// remaining work needs a fresh plan rather than more retries.
	Replan bool
	// Summary describes what failed, suitable for feeding into a replan
	// prompt.
	Summary string
}

// Assess inspects step reports after an execution pass. A pass is critical
// when the success rate fell below floor and a permanent failure blocked
// work that was never attempted; it is degraded on any other failure.
func Assess(reports []models.StepReport, floor float64) Verdict {
	total := len(reports)
	if total == 0 {
		return Verdict{Health: models.HealthOK}
	}

	succeeded := 0
	blocked := 0
	var failures []string
	for _, r := range reports {
		switch r.FinalStatus {
		case models.StepSucceeded:
			succeeded++
		case models.StepBlocked:
			blocked++
		case models.StepFailedPermanently:
			failures = append(failures, fmt.Sprintf("step %s failed (%s): %s", r.Step.ID, r.ErrorKind, r.Reason))
		case models.StepCanceled:
			// Cancellation is the caller's doing, not an execution-health signal.
		}
	}

	if len(failures) == 0 && blocked == 0 {
		return Verdict{Health: models.HealthOK}
	}

	v := Verdict{Health: models.HealthDegraded, Summary: strings.Join(failures, "\n")}
	rate := float64(succeeded) / float64(total)
	if rate < floor && blocked > 0 {
		v.Health = models.HealthCritical
		v.Replan = true
	}
	return v
}
