package txn

import (
	"errors"
	"fmt"

	"github.com/harrison/foreman/internal/patch"
)

// OpKind identifies the kind of a staged file operation.
type OpKind string

const (
	// OpCreate creates a new file; it fails if the path already exists.
	OpCreate OpKind = "create"
	// OpWriteWhole replaces the full content of a file, creating it if absent.
	OpWriteWhole OpKind = "write_whole"
	// OpApplyDiff applies line-range hunks to an existing file.
	OpApplyDiff OpKind = "apply_diff"
	// OpDelete removes a file; it fails if the path does not exist.
	OpDelete OpKind = "delete"
)

// FileOperation is one staged mutation of a workspace path.
type FileOperation struct {
	Path    string       // Workspace-relative path
	Kind    OpKind       // What to do
	Content string       // Payload for create / write_whole
	Hunks   []patch.Hunk // Payload for apply_diff
}

// Validate checks the operation's shape before staging.
func (op *FileOperation) Validate() error {
	if op.Path == "" {
		return errors.New("file operation requires a path")
	}
	switch op.Kind {
	case OpCreate, OpWriteWhole:
		return nil
	case OpApplyDiff:
		if len(op.Hunks) == 0 {
			return fmt.Errorf("apply_diff on %s has no hunks", op.Path)
		}
		return nil
	case OpDelete:
		if op.Content != "" || len(op.Hunks) != 0 {
			return fmt.Errorf("delete on %s must not carry a payload", op.Path)
		}
		return nil
	default:
		return fmt.Errorf("unknown file operation kind %q", op.Kind)
	}
}
