// Package txn applies batches of per-file edits atomically. A transaction
// snapshots every path on first touch, holds a per-path lock until it
// reaches a terminal state, and guarantees that a failed commit leaves the
// workspace byte-identical to its pre-transaction content.
package txn

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"

	"github.com/harrison/foreman/internal/fault"
	"github.com/harrison/foreman/internal/patch"
)

// State is the lifecycle state of a transaction. A terminal state is
// reached exactly once.
type State string

const (
	StateOpen       State = "open"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// snapshot is the pre-image of a path captured on first touch.
type snapshot struct {
	absPath string
	existed bool
	content []byte
	mode    os.FileMode
	sum     [32]byte // blake3 of content, valid only when existed
}

// Manager creates transactions rooted at one workspace directory.
type Manager struct {
	root  string
	locks *PathLockManager
}

// NewManager creates a transaction manager for the workspace at root.
// Lock sidecar files live under root/.foreman/locks.
func NewManager(root string) *Manager {
	return &Manager{
		root:  root,
		locks: NewPathLockManager(filepath.Join(root, ".foreman", "locks")),
	}
}

// Root returns the workspace root this manager operates on.
func (m *Manager) Root() string { return m.root }

// Transaction is one open batch of staged file operations.
type Transaction struct {
	ID  string
	mgr *Manager

	mu        sync.Mutex
	state     State
	ops       []FileOperation
	snaps     map[string]*snapshot
	snapOrder []string // first-touch order of relative paths
	releases  map[string]func()
}

// Result reports what a successful commit changed.
type Result struct {
	FilesChanged []string // Workspace-relative paths, in operation order, deduplicated
}

// Begin opens a new empty transaction.
func (m *Manager) Begin() *Transaction {
	return &Transaction{
		ID:       ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		mgr:      m,
		state:    StateOpen,
		snaps:    make(map[string]*snapshot),
		releases: make(map[string]func()),
	}
}

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stage adds a file operation to the transaction. The first time a path is
// touched its lock is acquired (blocking until any other transaction holding
// it reaches a terminal state) and its pre-image is snapshotted.
func (t *Transaction) Stage(op FileOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	abs, err := t.resolve(op.Path)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateOpen {
		return fmt.Errorf("transaction %s is %s, cannot stage", t.ID, t.state)
	}

	if _, touched := t.snaps[op.Path]; !touched {
		release, err := t.mgr.locks.Lock(abs)
		if err != nil {
			return err
		}
		snap, err := takeSnapshot(abs)
		if err != nil {
			release()
			return fmt.Errorf("failed to snapshot %s: %w", op.Path, err)
		}
		t.snaps[op.Path] = snap
		t.snapOrder = append(t.snapOrder, op.Path)
		t.releases[op.Path] = release
	}

	t.ops = append(t.ops, op)
	return nil
}

// resolve maps a workspace-relative path to an absolute one and rejects
// paths escaping the workspace root.
func (t *Transaction) resolve(rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", &fault.PolicyError{Path: rel, Rule: "path must stay inside the workspace"}
	}
	return filepath.Join(t.mgr.root, cleaned), nil
}

// Commit applies all staged operations in order. Any failure triggers an
// immediate rollback, so from the caller's perspective the commit is
// all-or-nothing. Locks are released once the transaction is terminal.
func (t *Transaction) Commit() (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateOpen {
		return nil, fmt.Errorf("transaction %s is %s, cannot commit", t.ID, t.state)
	}

	changed := make([]string, 0, len(t.ops))
	seen := make(map[string]bool)

	for i, op := range t.ops {
		if err := t.apply(op); err != nil {
			applyErr := fmt.Errorf("operation %d (%s %s) failed: %w", i+1, op.Kind, op.Path, err)
			if rbErr := t.rollbackLocked(); rbErr != nil {
				return nil, fmt.Errorf("%w (rollback also failed: %v)", applyErr, rbErr)
			}
			return nil, applyErr
		}
		if !seen[op.Path] {
			seen[op.Path] = true
			changed = append(changed, op.Path)
		}
	}

	t.state = StateCommitted
	t.releaseLocks()
	return &Result{FilesChanged: changed}, nil
}

// Rollback restores every snapshot in reverse first-touch order and deletes
// paths that were absent pre-transaction. Safe to call on an open
// transaction with no applied operations.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateOpen {
		return fmt.Errorf("transaction %s is %s, cannot rollback", t.ID, t.state)
	}
	return t.rollbackLocked()
}

// apply executes one operation against the filesystem.
func (t *Transaction) apply(op FileOperation) error {
	abs, err := t.resolve(op.Path)
	if err != nil {
		return err
	}

	switch op.Kind {
	case OpCreate:
		if _, err := os.Stat(abs); err == nil {
			return fmt.Errorf("path already exists")
		} else if !os.IsNotExist(err) {
			return err
		}
		return AtomicWrite(abs, []byte(op.Content))

	case OpWriteWhole:
		return AtomicWrite(abs, []byte(op.Content))

	case OpApplyDiff:
		data, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("cannot read target: %w", err)
		}
		lines := patch.Split(string(data))
		newLines, _, err := patch.Apply(lines, op.Hunks, patch.Options{AllOrNothing: true})
		if err != nil {
			return err
		}
		return AtomicWrite(abs, []byte(patch.Join(newLines)))

	case OpDelete:
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("cannot delete: %w", err)
		}
		return os.Remove(abs)

	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// rollbackLocked restores all snapshots. Caller holds t.mu.
func (t *Transaction) rollbackLocked() error {
	var firstErr error
	for i := len(t.snapOrder) - 1; i >= 0; i-- {
		snap := t.snaps[t.snapOrder[i]]
		if err := snap.restore(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to restore %s: %w", t.snapOrder[i], err)
		}
	}
	t.state = StateRolledBack
	t.releaseLocks()
	return firstErr
}

func (t *Transaction) releaseLocks() {
	for _, release := range t.releases {
		release()
	}
	t.releases = make(map[string]func())
}

// takeSnapshot captures the current content of abs, or an absent marker.
func takeSnapshot(abs string) (*snapshot, error) {
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return &snapshot{absPath: abs, existed: false}, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	return &snapshot{
		absPath: abs,
		existed: true,
		content: data,
		mode:    info.Mode().Perm(),
		sum:     blake3.Sum256(data),
	}, nil
}

// restore writes the pre-image back, verifying the restored bytes hash-match
// the snapshot, or removes the path if it was absent pre-transaction.
func (s *snapshot) restore() error {
	if !s.existed {
		if err := os.Remove(s.absPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	if err := AtomicWrite(s.absPath, s.content); err != nil {
		return err
	}
	if err := os.Chmod(s.absPath, s.mode); err != nil {
		return err
	}

	restored, err := os.ReadFile(s.absPath)
	if err != nil {
		return err
	}
	if blake3.Sum256(restored) != s.sum || !bytes.Equal(restored, s.content) {
		return fmt.Errorf("restored content does not match snapshot")
	}
	return nil
}
