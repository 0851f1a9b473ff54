// Package infer abstracts the backend model-inference endpoint. The engine
// treats it as opaque, slow, and unreliable; reliability is recovered by
// routing and the retry engine, never assumed of the endpoint.
package infer

import (
	"context"
	"time"
)

// Options tunes a single generation call.
type Options struct {
	Timeout time.Duration // Per-call deadline, 0 means the caller's context governs
	System  string        // System prompt, optional
}

// Endpoint is the consumed inference interface. Implementations must honor
// context cancellation and classify their own failures into the fault
// taxonomy (transport vs. tool).
type Endpoint interface {
	Generate(ctx context.Context, modelID, prompt string, opts Options) (string, error)
}
