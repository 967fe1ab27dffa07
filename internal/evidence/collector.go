// Package evidence gathers artifact files produced by a test run into a
// deterministic, time-ordered sequence. Artifacts are the proof a run
// actually exercised the browser: screenshots, videos, trace archives.
package evidence

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// defaultExtensions are the artifact types collected when none are
// configured. Matches what browser runners emit per test.
var defaultExtensions = []string{".png", ".jpg", ".jpeg", ".webm", ".zip"}

// Collector scans the per-run artifacts directory plus the runner's
// conventional results directory. Stateless after construction; safe for
// concurrent use.
type Collector struct {
	artifactsRoot string
	resultsDir    string
	extensions    map[string]bool
	logger        *slog.Logger
}

// NewCollector creates a Collector. artifactsRoot holds per-run
// subdirectories; resultsDir is the runner's own output directory (e.g.
// test-results/). extensions may be nil to use the defaults.
func NewCollector(artifactsRoot, resultsDir string, extensions []string, logger *slog.Logger) *Collector {
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}
	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = true
	}
	return &Collector{
		artifactsRoot: artifactsRoot,
		resultsDir:    resultsDir,
		extensions:    extSet,
		logger:        logger,
	}
}

// entry pairs a path with its modification time for sorting.
type entry struct {
	path    string
	modTime time.Time
}

// Collect returns the absolute paths of all artifacts for the run,
// sorted by modification time ascending with the lexicographic path as
// tie-break, so repeated collection of the same tree is byte-identical.
// Missing or empty directories yield an empty set, not an error.
func (c *Collector) Collect(runName string) []string {
	var entries []entry

	roots := []string{c.resultsDir}
	if runName != "" {
		roots = append([]string{filepath.Join(c.artifactsRoot, sanitizeRunName(runName))}, roots...)
	}

	for _, root := range roots {
		if root == "" {
			continue
		}
		entries = append(entries, c.scan(root)...)
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].modTime.Before(entries[j].modTime)
		}
		return entries[i].path < entries[j].path
	})

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.path
	}
	return paths
}

// scan walks one root recursively. Unreadable entries are logged and
// skipped — partial evidence beats none.
func (c *Collector) scan(root string) []entry {
	if _, err := os.Stat(root); err != nil {
		return nil
	}

	var found []entry
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("skipping unreadable artifact entry",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !c.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil
		}
		found = append(found, entry{path: abs, modTime: info.ModTime()})
		return nil
	})
	if walkErr != nil && c.logger != nil {
		c.logger.Warn("artifact walk aborted",
			slog.String("root", root),
			slog.String("error", walkErr.Error()),
		)
	}
	return found
}

// sanitizeRunName strips path separator characters so a run name can
// never select a directory outside the artifacts root.
func sanitizeRunName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
