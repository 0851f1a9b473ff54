package models

import "time"

// StepStatus is the terminal (or pending) state of a plan step.
type StepStatus string

const (
	StepNotAttempted      StepStatus = "not_attempted"
	StepSucceeded         StepStatus = "succeeded"
	StepFailedPermanently StepStatus = "failed_permanently"
	// StepBlocked marks a step that was never attempted because a
	// dependency failed permanently.
	StepBlocked  StepStatus = "blocked"
	StepCanceled StepStatus = "canceled"
)

// Terminal reports whether the status is final.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepSucceeded, StepFailedPermanently, StepBlocked, StepCanceled:
		return true
	}
	return false
}

// AttemptResult records one attempt at executing a step. Attempt records are
// append-only; the retry engine owns them and guarantees the per-step bound.
type AttemptResult struct {
	AttemptID string        // UUID of this attempt
	StepID    string        // Step the attempt belongs to
	Attempt   int           // 1-indexed attempt number within the step
	Success   bool          // Whether the attempt succeeded
	Escalated bool          // Attempt ran on the escalation-role model
	Output    string        // Tool/model output on success (may be truncated)
	ErrorKind string        // Classified error kind on failure, empty on success
	Reason    string        // Human-readable failure reason, empty on success
	Duration  time.Duration // Wall time of the attempt
}

// StepReport is the per-step section of the final execution report.
type StepReport struct {
	Step        PlanStep
	Attempts    []AttemptResult
	FinalStatus StepStatus
	ErrorKind   string // Classified kind of the terminal failure, empty on success
	Reason      string // Human-readable reason for the terminal failure
}

// Health summarizes overall execution health as seen by the monitor.
type Health string

const (
	HealthOK       Health = "ok"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
)

// ExecutionReport is the single exposed result of running one request.
// Partial success is always enumerated, never silently dropped.
type ExecutionReport struct {
	RequestID    string
	RouteTaken   Route
	Tier         Tier
	Health       Health
	Steps        []StepReport
	FilesChanged []string
	PlanScore    float64 // 0 for the direct route
	ReplansUsed  int
	Duration     time.Duration
}

// Succeeded counts steps that reached StepSucceeded.
func (r *ExecutionReport) Succeeded() int {
	n := 0
	for _, s := range r.Steps {
		if s.FinalStatus == StepSucceeded {
			n++
		}
	}
	return n
}

// Failed counts steps that failed permanently or were blocked.
func (r *ExecutionReport) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if s.FinalStatus == StepFailedPermanently || s.FinalStatus == StepBlocked {
			n++
		}
	}
	return n
}
