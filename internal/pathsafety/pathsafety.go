// Package pathsafety resolves caller-supplied paths against a workspace
// root, rejecting traversal and restricted locations.
package pathsafety

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/airouter/airouter/internal/routerr"
)

// wslPrefix is the remote-filesystem UNC form this package accepts.
const wslPrefix = `\\wsl.localhost\Ubuntu`

var restrictedPrefixes = []string{"/etc", "/proc", "/sys"}

var blockedSegments = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
}

// Resolver resolves input path strings against a fixed workspace root.
type Resolver struct {
	WorkspaceRoot string
}

// New builds a Resolver rooted at workspaceRoot. workspaceRoot is made
// absolute and cleaned once at construction time.
func New(workspaceRoot string) *Resolver {
	abs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		abs = workspaceRoot
	}
	return &Resolver{WorkspaceRoot: filepath.Clean(abs)}
}

// Resolve normalizes input and, if it is safe, returns its absolute,
// cleaned form. Otherwise it returns routerr.KindRejected.
//
// If the normalized form is rejected outright (ErrRejected), no fallback
// applies. If it passes safety checks but does not exist on disk, the
// caller's original, un-normalized form is tried once more — the only
// sanctioned fallback.
func (r *Resolver) Resolve(input string) (string, error) {
	resolved, err := r.resolveOnce(input)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(resolved); statErr == nil {
		return resolved, nil
	}
	fallback, err := r.resolveOnce(rawJoin(r.WorkspaceRoot, input))
	if err != nil {
		return "", err
	}
	return fallback, nil
}

// rawJoin joins root and input without the backslash/UNC normalization
// normalize() performs, so the "original form" fallback is genuinely
// different from the first attempt when they diverge.
func rawJoin(root, input string) string {
	if filepath.IsAbs(input) {
		return input
	}
	return filepath.Join(root, input)
}

func (r *Resolver) resolveOnce(input string) (string, error) {
	norm := normalize(input)

	var abs string
	if filepath.IsAbs(norm) {
		abs = filepath.Clean(norm)
	} else {
		abs = filepath.Clean(filepath.Join(r.WorkspaceRoot, norm))
	}

	for _, blocked := range restrictedPrefixes {
		if abs == blocked || strings.HasPrefix(abs, blocked+"/") {
			return abs, routerr.New(routerr.KindRejected, "path under restricted prefix: "+blocked)
		}
	}

	if !withinRoot(abs, r.WorkspaceRoot) {
		return abs, routerr.New(routerr.KindRejected, "path escapes workspace root")
	}

	for _, seg := range strings.Split(abs, "/") {
		if blockedSegments[seg] {
			return abs, routerr.New(routerr.KindRejected, "path contains blocked segment: "+seg)
		}
	}

	return abs, nil
}

// normalize strips the WSL UNC prefix and Windows-style backslashes,
// folding separators to forward slashes and collapsing redundant ones.
func normalize(input string) string {
	s := input
	if strings.HasPrefix(s, wslPrefix) {
		s = strings.TrimPrefix(s, wslPrefix)
	}
	s = strings.ReplaceAll(s, `\`, "/")
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	if s == "" {
		s = "/"
	}
	return s
}

// withinRoot reports whether abs is equal to root or a descendant of it,
// after accounting for ".." segments via filepath.Clean semantics.
func withinRoot(abs, root string) bool {
	if abs == root {
		return true
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, "../")
}
