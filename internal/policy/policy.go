// Package policy guards workspace paths before any file mutation executes.
// A rejected path is a permanent failure: the retry engine never retries or
// escalates a policy rejection.
package policy

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/harrison/foreman/internal/fault"
)

// DefaultDeny are glob patterns no configuration can override. The engine's
// own bookkeeping and VCS metadata are never edit targets.
var DefaultDeny = []string{
	".git/**",
	".git",
	".foreman/**",
	"**/*.lock",
}

// Policy is a compiled allow/deny ruleset over workspace-relative paths.
// An empty allow list permits everything not denied.
type Policy struct {
	allow []string
	deny  []string
}

// New builds a policy from config-supplied globs. DefaultDeny always applies.
func New(allow, deny []string) *Policy {
	return &Policy{
		allow: append([]string(nil), allow...),
		deny:  append(append([]string(nil), DefaultDeny...), deny...),
	}
}

// Check validates one workspace-relative path against the ruleset.
// It returns a fault.PolicyError describing the matched rule on rejection.
func (p *Policy) Check(path string) error {
	rel := filepath.ToSlash(filepath.Clean(path))

	if filepath.IsAbs(path) || rel == ".." || strings.HasPrefix(rel, "../") {
		return &fault.PolicyError{Path: path, Rule: "path must stay inside the workspace"}
	}

	for _, pattern := range p.deny {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return &fault.PolicyError{Path: path, Rule: pattern}
		}
	}

	if len(p.allow) == 0 {
		return nil
	}
	for _, pattern := range p.allow {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return nil
		}
	}
	return &fault.PolicyError{Path: path, Rule: "no allow pattern matched"}
}

// CheckAll validates a batch of paths and returns the first rejection.
func (p *Policy) CheckAll(paths []string) error {
	for _, path := range paths {
		if err := p.Check(path); err != nil {
			return err
		}
	}
	return nil
}
