package models

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// Request is a single natural-language change request bound to a workspace.
// It is immutable for the lifetime of the run that services it.
type Request struct {
	ID            string    // ULID, sortable by arrival time
	Text          string    // Raw request text from the user
	WorkspaceRoot string    // Absolute path of the workspace being edited
	ReceivedAt    time.Time // When the request entered the engine
}

// NewRequest builds a Request with a fresh ULID and timestamp.
func NewRequest(text, workspaceRoot string) Request {
	now := time.Now()
	return Request{
		ID:            ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Text:          text,
		WorkspaceRoot: workspaceRoot,
		ReceivedAt:    now,
	}
}

// Validate checks that the request has the fields execution requires.
func (r *Request) Validate() error {
	if r.Text == "" {
		return errors.New("request text is required")
	}
	if r.WorkspaceRoot == "" {
		return errors.New("workspace root is required")
	}
	return nil
}
