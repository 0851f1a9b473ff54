// Package fault defines the closed error taxonomy of the execution engine.
// Every failure surfaced by inference, tools, or the transaction layer is
// classified into exactly one Kind; the retry engine bases its decisions on
// the kind, never on raw error text.
package fault

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies one bucket of the closed error taxonomy.
type Kind string

const (
	// KindParse means model output did not match the expected call grammar.
	KindParse Kind = "structured_output_parse"
	// KindTool means a tool ran and reported failure.
	KindTool Kind = "tool_execution"
	// KindTransport means a call never completed: timeout or connection loss.
	KindTransport Kind = "transport"
	// KindPolicy means the operation was rejected pre-execution by sandboxing.
	KindPolicy Kind = "security_policy"
	// KindValidation means a plan or parameters failed pre-checks.
	KindValidation Kind = "validation"
	// KindUnknown is returned by Classify for errors outside the taxonomy.
	KindUnknown Kind = "unknown"
)

// ParseError reports model output that failed strict structured parsing.
// The output is never silently repaired; the retry engine re-prompts with
// explicit formatting instructions instead.
type ParseError struct {
	Role   string // Logical role whose output failed to parse
	Detail string // What was wrong with the output
	Err    error  // Underlying parse/validation error, optional
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("structured output parse failed (%s role): %s", e.Role, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// ToolError reports a tool that executed and returned failure.
type ToolError struct {
	Tool      string // Tool name
	Detail    string // Failure description from the tool
	Transient bool   // Plausibly transient: retrying in place may help
	Err       error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("tool %s failed: %s", e.Tool, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// TransportError reports an inference or tool call that did not complete.
type TransportError struct {
	Model   string        // Model id the call was routed to, if known
	Timeout bool          // The call exceeded its deadline
	Elapsed time.Duration // How long the call ran before failing
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("call to %s timed out after %v", e.Model, e.Elapsed)
	}
	msg := fmt.Sprintf("call to %s did not complete", e.Model)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap maps timeouts onto context.DeadlineExceeded so callers can use
// errors.Is without knowing this package.
func (e *TransportError) Unwrap() error {
	if e.Timeout {
		return context.DeadlineExceeded
	}
	return e.Err
}

// PolicyError reports an operation rejected before execution by the
// workspace sandbox. Policy rejections are never retried or escalated.
type PolicyError struct {
	Path string // Offending path
	Rule string // Matched rule, e.g. the deny glob
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy rejected path %q (rule %q)", e.Path, e.Rule)
}

// ValidationError reports a plan or parameter set that failed pre-checks.
// On a plan it triggers refinement, not step retry.
type ValidationError struct {
	Subject string   // What failed validation, e.g. "plan" or a step id
	Detail  string
	Issues  []string // Individual findings, optional
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s failed validation: %s", e.Subject, e.Detail)
}

// Classify maps an error onto the closed taxonomy. Deadline errors without
// an explicit TransportError wrapper still classify as transport, so a bare
// context timeout behaves like one.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return KindParse
	}
	var se *PolicyError
	if errors.As(err, &se) {
		return KindPolicy
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var tre *TransportError
	if errors.As(err, &tre) {
		return KindTransport
	}
	var te *ToolError
	if errors.As(err, &te) {
		return KindTool
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	return KindUnknown
}

// Transient reports whether the error is worth retrying in place with an
// error-augmented prompt. Policy and validation failures never are; tool
// failures only when the tool marked them plausibly transient.
func Transient(err error) bool {
	switch Classify(err) {
	case KindParse, KindTransport:
		return true
	case KindTool:
		var te *ToolError
		if errors.As(err, &te) {
			return te.Transient
		}
	}
	return false
}
