// Package cwdsandbox implements the path-prefix allow-list used to bound
// the working directories a spawned session may run in (spec §4.2).
// Canonicalization is purely syntactic (path.Clean-style, never touching
// the filesystem), matching the teacher's own preference for
// filepath.Join/Clean-based path handling over symlink-resolving calls
// like filepath.EvalSymlinks in hot paths (internal/storage/storage.go).
package cwdsandbox

import (
	"path/filepath"
	"strings"

	"github.com/sessiond/sessiond/internal/apperrors"
)

// Sandbox holds a set of absolute allow-list roots.
type Sandbox struct {
	roots []string
}

// New builds a Sandbox from a list of absolute root paths. An empty list
// means allow-all.
func New(roots []string) *Sandbox {
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		cleaned = append(cleaned, canonicalize(r))
	}
	return &Sandbox{roots: cleaned}
}

// canonicalize resolves "." and ".." segments syntactically and returns
// an absolute, separator-normalized path. It never touches the
// filesystem (no symlink resolution), per spec §4.2.
func canonicalize(path string) string {
	abs := path
	if !filepath.IsAbs(abs) {
		// Treat a non-absolute input as already rooted at "/" for
		// canonicalization purposes; callers are expected to pass
		// absolute paths, but this keeps Clean's traversal collapsing
		// well-defined instead of producing a relative result.
		abs = filepath.Join("/", abs)
	}
	return filepath.Clean(abs)
}

// Check reports whether path lies within the allow-list: equal to a root,
// or strictly under it (the next rune after the root is the separator).
func (s *Sandbox) Check(path string) bool {
	if len(s.roots) == 0 {
		return true
	}

	c := canonicalize(path)
	for _, root := range s.roots {
		if c == root {
			return true
		}
		prefix := root
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// AssertAllowed raises a cwd_denied error when Check fails; otherwise it
// returns the canonicalized path.
func (s *Sandbox) AssertAllowed(path string) (string, error) {
	c := canonicalize(path)
	if !s.Check(c) {
		return "", apperrors.New(apperrors.KindCwdDenied, "path not permitted: "+path)
	}
	return c, nil
}
