package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathGuard bounds file actions to a set of allowed roots. A guard with no
// roots allows every path.
type PathGuard struct {
	roots []string
}

// NewPathGuard returns a guard for the given roots. Roots are made absolute.
func NewPathGuard(allowedRoots []string) *PathGuard {
	roots := make([]string, 0, len(allowedRoots))
	for _, root := range allowedRoots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		roots = append(roots, resolveExisting(filepath.Clean(root)))
	}
	return &PathGuard{roots: roots}
}

// Unrestricted reports whether the guard allows any path.
func (g *PathGuard) Unrestricted() bool {
	return g == nil || len(g.roots) == 0
}

// CheckPath reports whether path is blocked and why.
func (g *PathGuard) CheckPath(path string) (isForbidden bool, reason string) {
	if strings.TrimSpace(path) == "" {
		return true, "empty path"
	}
	if g.Unrestricted() {
		return false, ""
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return true, fmt.Sprintf("cannot resolve path '%s': %v", path, err)
	}
	// Resolve symlinks on the deepest existing ancestor so a link inside a
	// root cannot point outside it.
	abs = resolveExisting(filepath.Clean(abs))

	for _, root := range g.roots {
		if within(root, abs) {
			return false, ""
		}
	}
	return true, fmt.Sprintf("path '%s' is outside the allowed roots", path)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// resolveExisting evaluates symlinks for the longest existing prefix of path
// and re-appends the rest.
func resolveExisting(path string) string {
	var rest []string
	cur := path
	for {
		if _, err := os.Lstat(cur); err == nil {
			if resolved, err := filepath.EvalSymlinks(cur); err == nil {
				cur = resolved
			}
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
	return filepath.Join(append([]string{cur}, rest...)...)
}
