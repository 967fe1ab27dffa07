// Package workspace manages the Attest runtime directory structure.
// All runtime state (result database, audit log, per-run artifacts,
// logs) is consolidated under a single workspace root, making Attest
// portable.
//
// Default workspace: ~/.attest/workspace (configurable via config or
// ATTEST_WORKSPACE env var).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Default workspace location relative to the user home directory.
const defaultRelativePath = ".attest/workspace"

// Workspace manages all Attest runtime directories and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path. It resolves ~ to the
// user's home directory and creates the root if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}
	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return w, nil
}

// Default creates a Workspace at ~/.attest/workspace.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// --- Top-level directory accessors ---

// ArtifactsDir returns <root>/artifacts/. Per-run evidence directories.
func (w *Workspace) ArtifactsDir() string {
	return w.dir("artifacts")
}

// RunsDir returns <root>/runs/. Scratch working directories for runs.
func (w *Workspace) RunsDir() string {
	return w.dir("runs")
}

// LogsDir returns <root>/logs/. Application log files.
func (w *Workspace) LogsDir() string {
	return w.dir("logs")
}

// DataDir returns <root>/data/. The result database lives here.
func (w *Workspace) DataDir() string {
	return w.dir("data")
}

// --- Derived paths ---

// ConfigPath returns <root>/config.yaml.
func (w *Workspace) ConfigPath() string {
	return filepath.Join(w.Root, "config.yaml")
}

// DatabasePath returns <root>/data/attest.db.
func (w *Workspace) DatabasePath() string {
	return filepath.Join(w.DataDir(), "attest.db")
}

// AuditLogPath returns <root>/data/audit.jsonl.
func (w *Workspace) AuditLogPath() string {
	return filepath.Join(w.DataDir(), "audit.jsonl")
}

// --- Run-scoped paths ---

// RunDir returns <root>/runs/<runID>/, created on first use.
func (w *Workspace) RunDir(runID string) string {
	p := filepath.Join(w.RunsDir(), sanitizeName(runID))
	_ = w.ensureDir(p, 0750)
	return p
}

// RunArtifactsDir returns <root>/artifacts/<runID>/, created on first use.
func (w *Workspace) RunArtifactsDir(runID string) string {
	p := filepath.Join(w.ArtifactsDir(), sanitizeName(runID))
	_ = w.ensureDir(p, 0750)
	return p
}

// --- Cleanup ---

// PruneRuns removes run and artifact directories older than maxAge.
// Returns how many directories were removed.
func (w *Workspace) PruneRuns(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, dir := range []string{w.RunsDir(), w.ArtifactsDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
				return removed, fmt.Errorf("removing %s: %w", entry.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}

// EnsureAll creates all standard workspace directories. Call during
// first startup.
func (w *Workspace) EnsureAll() error {
	for _, d := range []string{w.ArtifactsDir(), w.RunsDir(), w.LogsDir(), w.DataDir()} {
		if err := w.ensureDir(d, 0750); err != nil {
			return err
		}
	}
	return nil
}

// --- Internal helpers ---

// dir returns an absolute path under the workspace root and ensures the
// directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory if it doesn't already exist. Uses a
// cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an
// absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent directory
// traversal through run identifiers.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
