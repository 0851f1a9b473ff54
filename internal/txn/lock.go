package txn

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/zeebo/blake3"
)

// PathLockManager serializes access to workspace paths across transactions.
// Locking is two-level: an in-process mutex per path orders transactions in
// this engine, and a flock sidecar file keeps a second engine process off
// the same path. A lock is held from first stage to commit/rollback.
type PathLockManager struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	lockDir string
}

// NewPathLockManager creates a lock manager keeping flock sidecars in lockDir.
func NewPathLockManager(lockDir string) *PathLockManager {
	return &PathLockManager{
		locks:   make(map[string]*sync.Mutex),
		lockDir: lockDir,
	}
}

// Lock acquires the exclusive lock for path, blocking until available.
// The returned function releases it.
func (m *PathLockManager) Lock(path string) (func(), error) {
	m.mu.Lock()
	pathLock, ok := m.locks[path]
	if !ok {
		pathLock = &sync.Mutex{}
		m.locks[path] = pathLock
	}
	m.mu.Unlock()

	pathLock.Lock()

	fl, err := m.sidecar(path)
	if err != nil {
		pathLock.Unlock()
		return nil, err
	}
	if err := fl.Lock(); err != nil {
		pathLock.Unlock()
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", path, err)
	}

	return func() {
		fl.Unlock()
		pathLock.Unlock()
	}, nil
}

// sidecar builds the flock for a path. The lock file name is a content hash
// of the path so arbitrary workspace paths map to flat, filesystem-safe names.
func (m *PathLockManager) sidecar(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(m.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	sum := blake3.Sum256([]byte(path))
	name := fmt.Sprintf("%x.lock", sum[:16])
	return flock.New(filepath.Join(m.lockDir, name)), nil
}
