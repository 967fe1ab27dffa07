package sandbox

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// ResourceLimiter applies per-process caps to a command before it runs.
// Implementations are best-effort: a cap the platform cannot enforce is
// skipped, never a reason to refuse execution.
type ResourceLimiter interface {
	// Wrap returns the argv to spawn so the caps apply to command.
	Wrap(command []string) []string

	// Supported reports whether this limiter enforces anything at all.
	Supported() bool
}

// ulimitFlags lists every cap the limiter knows how to set. Each flag is
// probed individually at construction; a shell that cannot handle one
// flag still enforces the rest.
var ulimitFlags = []string{
	"-t", // CPU seconds
	"-v", // virtual memory (KiB)
	"-u", // process count
	"-f", // file size (512-byte blocks)
}

// NewResourceLimiter probes the platform and returns a ulimit-based
// limiter where a POSIX shell is available, or a no-op limiter otherwise.
// Both degraded paths log: the whole-platform fallback once, and each
// individually unsupported cap as it is probed.
func NewResourceLimiter(cfg *Config, logger *slog.Logger) ResourceLimiter {
	if runtime.GOOS == "windows" {
		logger.Warn("resource limits unsupported on this platform, executing uncapped",
			slog.String("os", runtime.GOOS))
		return noopLimiter{}
	}
	if _, err := exec.LookPath("sh"); err != nil {
		logger.Warn("no POSIX shell found for ulimit enforcement, executing uncapped",
			slog.String("error", err.Error()))
		return noopLimiter{}
	}

	supported := probeUlimitFlags(logger, func(flag string) error {
		// Read-only probe: querying the limit succeeds exactly when the
		// shell recognizes the flag.
		return exec.Command("sh", "-c", "ulimit "+flag).Run()
	})
	if len(supported) == 0 {
		logger.Warn("shell supports no ulimit caps, executing uncapped")
		return noopLimiter{}
	}
	return &ulimitLimiter{cfg: cfg, flags: supported}
}

// probeUlimitFlags runs the probe for each known flag and returns the set
// the shell accepts. Every skipped cap is logged so degraded protection
// is visible per limit, not just per platform.
func probeUlimitFlags(logger *slog.Logger, probe func(flag string) error) map[string]bool {
	supported := make(map[string]bool, len(ulimitFlags))
	for _, flag := range ulimitFlags {
		if err := probe(flag); err != nil {
			logger.Warn("resource cap unsupported by shell, skipping",
				slog.String("ulimit_flag", flag),
				slog.String("error", err.Error()))
			continue
		}
		supported[flag] = true
	}
	return supported
}

// ulimitLimiter enforces caps through a shell prelude:
//
//	sh -c 'ulimit -t SEC; ulimit -v KB; ...; exec "$@"' attest cmd args...
//
// The command travels as positional parameters, never interpolated into
// the script, so the wrapper cannot be injected through. Plain ulimit
// sets both the soft and hard limit — no grace period between them.
// Only flags that passed the construction-time probe are emitted; a
// value the shell still rejects at run time surfaces in the captured
// stderr and the command keeps running.
type ulimitLimiter struct {
	cfg   *Config
	flags map[string]bool
}

func (l *ulimitLimiter) Supported() bool { return len(l.flags) > 0 }

func (l *ulimitLimiter) Wrap(command []string) []string {
	var prelude []string
	if l.cfg.MaxCPUSeconds > 0 && l.flags["-t"] {
		prelude = append(prelude, fmt.Sprintf("ulimit -t %d", l.cfg.MaxCPUSeconds))
	}
	if l.cfg.MaxMemoryBytes > 0 && l.flags["-v"] {
		// ulimit -v counts KiB.
		prelude = append(prelude, fmt.Sprintf("ulimit -v %d", l.cfg.MaxMemoryBytes/1024))
	}
	if l.cfg.MaxProcesses > 0 && l.flags["-u"] {
		prelude = append(prelude, fmt.Sprintf("ulimit -u %d", l.cfg.MaxProcesses))
	}
	if l.cfg.MaxFileBytes > 0 && l.flags["-f"] {
		// ulimit -f counts 512-byte blocks.
		prelude = append(prelude, fmt.Sprintf("ulimit -f %d", l.cfg.MaxFileBytes/512))
	}
	if len(prelude) == 0 {
		return command
	}

	script := strings.Join(prelude, "; ") + `; exec "$@"`
	argv := make([]string, 0, 4+len(command))
	argv = append(argv, "sh", "-c", script, "attest") // "attest" fills $0
	argv = append(argv, command...)
	return argv
}

// noopLimiter runs the command uncapped. Selected at runtime when the
// platform cannot enforce limits; partial protection never blocks
// execution outright.
type noopLimiter struct{}

func (noopLimiter) Supported() bool                { return false }
func (noopLimiter) Wrap(command []string) []string { return command }
