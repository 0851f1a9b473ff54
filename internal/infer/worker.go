package infer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/harrison/foreman/internal/fault"
)

// WorkerEndpoint shells out to per-model worker commands. Each model id maps
// to an argv; the prompt is appended as the final argument and the worker
// answers on stdout, either as raw text or as a {"content","error"} JSON
// envelope.
type WorkerEndpoint struct {
	// Commands maps model id -> argv of the worker serving that model.
	Commands map[string][]string
}

// NewWorkerEndpoint creates an endpoint over the given model->command table.
func NewWorkerEndpoint(commands map[string][]string) *WorkerEndpoint {
	return &WorkerEndpoint{Commands: commands}
}

// workerEnvelope is the optional JSON wrapper worker commands may emit.
type workerEnvelope struct {
	Content string `json:"content"`
	Error   string `json:"error"`
}

// Generate runs the worker command for modelID with the prompt and returns
// its content. Deadline and connection failures surface as transport errors.
func (w *WorkerEndpoint) Generate(ctx context.Context, modelID, prompt string, opts Options) (string, error) {
	argv, ok := w.Commands[modelID]
	if !ok || len(argv) == 0 {
		return "", &fault.TransportError{
			Model: modelID,
			Err:   fmt.Errorf("no worker command configured for model %q", modelID),
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := append([]string(nil), argv[1:]...)
	if opts.System != "" {
		args = append(args, "--system", opts.System)
	}
	args = append(args, prompt)

	start := time.Now()
	cmd := exec.CommandContext(ctx, argv[0], args...)
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return "", &fault.TransportError{Model: modelID, Timeout: true, Elapsed: elapsed}
	}
	if err != nil {
		return "", &fault.TransportError{
			Model:   modelID,
			Elapsed: elapsed,
			Err:     fmt.Errorf("worker exited: %w: %s", err, strings.TrimSpace(string(output))),
		}
	}

	return ParseWorkerOutput(string(output), modelID)
}

// ParseWorkerOutput unwraps the optional JSON envelope. Non-JSON output is
// returned verbatim; an envelope carrying an error becomes a transport error.
func ParseWorkerOutput(output, modelID string) (string, error) {
	trimmed := strings.TrimSpace(output)
	if !strings.HasPrefix(trimmed, "{") {
		return output, nil
	}
	var env workerEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		// Not the envelope, just JSON-looking model output.
		return output, nil
	}
	if env.Error != "" {
		return "", &fault.TransportError{Model: modelID, Err: errors.New(env.Error)}
	}
	if env.Content != "" {
		return env.Content, nil
	}
	return output, nil
}
