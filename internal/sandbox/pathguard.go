package sandbox

import (
	"path/filepath"
	"strings"
)

// ValidatePath reports whether path canonicalizes to a location strictly
// inside one of the config's allowed roots. It never returns an error:
// anything that cannot be resolved is rejected.
//
// Symlinks and "."/".." segments are resolved before the containment
// check, so a symlink pointing outside the roots is rejected even when
// its own location is inside, and a path whose ".." segments stay inside
// a root is accepted.
//
// Resolution happens once, before the spawn. A hardened variant would
// re-validate at open time to close the check/use race window.
func ValidatePath(path string, cfg *Config) bool {
	if path == "" || cfg == nil {
		return false
	}

	resolved, ok := canonicalize(path)
	if !ok {
		return false
	}

	for _, root := range cfg.AllowedDirs {
		canonRoot, ok := canonicalize(root)
		if !ok {
			continue
		}
		if isDescendant(canonRoot, resolved) {
			return true
		}
	}
	return false
}

// canonicalize returns the absolute, symlink-free form of path.
// For a path whose final component does not exist yet, the parent
// directory is resolved and the component re-joined, so a not-yet-written
// artifact path can still be judged.
func canonicalize(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, true
	}

	dir, base := filepath.Split(filepath.Clean(abs))
	resolvedDir, dirErr := filepath.EvalSymlinks(dir)
	if dirErr != nil {
		return "", false
	}
	return filepath.Join(resolvedDir, base), true
}

// isDescendant reports whether path lies strictly below root.
func isDescendant(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
