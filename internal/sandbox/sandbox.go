// Package sandbox executes browser-test commands under userspace resource
// caps and a filesystem/command allow-list. Every run goes through the
// sandbox — never directly on the host.
//
// The sandbox is a best-effort userspace boundary: rlimit-style caps,
// path and command allow-listing, and a credential-free environment.
// It is not namespace or hypervisor isolation.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// ErrSecurityViolation is returned when a path or command is rejected
// before anything is spawned.
var ErrSecurityViolation = errors.New("security violation")

// Default caps applied when the config leaves a field zero.
const (
	defaultCPUSeconds  = 120
	defaultMemoryBytes = 2 << 30 // 2 GiB address space
	defaultWallSeconds = 45
	defaultFileBytes   = 256 << 20 // 256 MiB per created file
	defaultProcesses   = 128
)

// Config is the immutable sandbox policy. Created once at startup and
// shared read-only by every execution; never mutated afterwards.
type Config struct {
	MaxCPUSeconds   int      `json:"max_cpu_seconds" yaml:"max_cpu_seconds"`
	MaxMemoryBytes  int64    `json:"max_memory_bytes" yaml:"max_memory_bytes"`
	MaxWallSeconds  int      `json:"max_wall_seconds" yaml:"max_wall_seconds"`
	MaxFileBytes    int64    `json:"max_file_bytes" yaml:"max_file_bytes"`
	MaxProcesses    int      `json:"max_processes" yaml:"max_processes"`
	AllowedDirs     []string `json:"allowed_dirs" yaml:"allowed_dirs"`
	AllowedCommands []string `json:"allowed_commands" yaml:"allowed_commands"`
}

// WithDefaults returns a copy of the config with zero caps replaced by
// the package defaults. Allow-lists are left as given: an empty
// allow-list denies everything, which is the safe default.
func (c Config) WithDefaults() Config {
	if c.MaxCPUSeconds == 0 {
		c.MaxCPUSeconds = defaultCPUSeconds
	}
	if c.MaxMemoryBytes == 0 {
		c.MaxMemoryBytes = defaultMemoryBytes
	}
	if c.MaxWallSeconds == 0 {
		c.MaxWallSeconds = defaultWallSeconds
	}
	if c.MaxFileBytes == 0 {
		c.MaxFileBytes = defaultFileBytes
	}
	if c.MaxProcesses == 0 {
		c.MaxProcesses = defaultProcesses
	}
	return c
}

// WallTimeout returns the wall-clock limit as a duration.
func (c *Config) WallTimeout() time.Duration {
	return time.Duration(c.MaxWallSeconds) * time.Second
}

// Executor runs a single guarded command and reports the outcome.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionReport, error)
}

// ExecutionRequest describes one command to run. Ephemeral: built per
// invocation and discarded with the report.
type ExecutionRequest struct {
	// Executable is the program name (e.g. "npx"). Must be a literal
	// member of the config's allowed commands.
	Executable string

	// Args are passed verbatim as argv — never through a shell.
	Args []string

	// TargetPath is the test file or directory the command operates on.
	// Must resolve inside one of the allowed roots. Empty = no path check.
	TargetPath string

	// WorkingDir overrides the working directory. Empty = inherit.
	WorkingDir string

	// Env adds variables on top of the sanitized base environment.
	Env map[string]string

	// Timeout overrides the config wall-clock limit. Zero = use config.
	Timeout time.Duration
}

// ExecutionReport is the immutable outcome of one execution. Exactly one
// of the four shapes is produced: normal, timeout, execution error, or
// security violation.
type ExecutionReport struct {
	ProcessStarted   bool   `json:"process_started"`
	ProcessCompleted bool   `json:"process_completed"`
	Success          bool   `json:"success"`
	ExitCode         int    `json:"exit_code"`
	Stdout           string `json:"stdout,omitempty"`
	Stderr           string `json:"stderr,omitempty"`
	DurationMS       int64  `json:"duration_ms"`
	TimedOut         bool   `json:"timed_out"`

	// SecurityViolation is set when a guard rejected the request before
	// anything was spawned. ViolationMessage carries the reason.
	SecurityViolation bool   `json:"security_violation"`
	ViolationMessage  string `json:"violation_message,omitempty"`

	// Error holds the spawn/OS failure message for execution-error
	// reports. Empty otherwise.
	Error string `json:"error,omitempty"`
}
