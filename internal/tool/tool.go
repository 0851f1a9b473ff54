// Package tool defines the tool execution surface: named operations with a
// uniform result shape. File-mutating calls are translated into staged
// transaction operations by the engine; everything else is invoked directly.
package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Result is the uniform outcome of a tool invocation.
type Result struct {
	Success bool
	Data    string // Output payload on success
	Error   string // Failure description, empty on success
	// Transient marks failures that are plausibly transient and worth a
	// retry in place.
	Transient bool
}

// Tool is one named operation.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, params map[string]string) Result
}

// Registry holds the tools available to the engine. Registration happens at
// startup; lookups are concurrency-safe.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadFile is a read-only tool returning the content of a workspace file.
type ReadFile struct {
	Root string
}

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Invoke(_ context.Context, params map[string]string) Result {
	rel, ok := params["path"]
	if !ok || rel == "" {
		return Result{Error: "read_file requires a path parameter"}
	}
	data, err := os.ReadFile(filepath.Join(t.Root, filepath.Clean(rel)))
	if err != nil {
		return Result{Error: fmt.Sprintf("cannot read %s: %v", rel, err)}
	}
	return Result{Success: true, Data: string(data)}
}

// ListFiles is a read-only tool listing workspace files under a directory.
type ListFiles struct {
	Root string
}

func (t *ListFiles) Name() string { return "list_files" }

func (t *ListFiles) Invoke(_ context.Context, params map[string]string) Result {
	dir := params["dir"]
	if dir == "" {
		dir = "."
	}

	var files []string
	base := filepath.Join(t.Root, filepath.Clean(dir))
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == ".foreman" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(t.Root, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return Result{Error: fmt.Sprintf("cannot list %s: %v", dir, err)}
	}
	sort.Strings(files)
	return Result{Success: true, Data: strings.Join(files, "\n")}
}
