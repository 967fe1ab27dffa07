package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// maxCaptureBytes caps stdout/stderr to prevent OOM from chatty runners.
const maxCaptureBytes = 1 << 20 // 1 MB

// waitDelay bounds how long Wait blocks on inherited pipe fds after the
// process group has been killed.
const waitDelay = 5 * time.Second

// SandboxedExecutor runs one command per call under the full guard chain:
// path validation, command allow-listing, resource caps, sanitized
// environment, and a wall-clock timeout.
//
// Execute is the only blocking point in the validation core; callers
// wanting non-blocking semantics run it on its own goroutine and wait.
// The executor itself holds no mutable state, so one instance serves any
// number of concurrent invocations.
type SandboxedExecutor struct {
	cfg     *Config
	limiter ResourceLimiter
	logger  *slog.Logger

	// startProcess is the spawn hook; swapped in tests to prove nothing
	// is started after a guard rejection.
	startProcess func(cmd *exec.Cmd) error
}

// NewExecutor creates a SandboxedExecutor for the given policy.
func NewExecutor(cfg *Config, logger *slog.Logger) *SandboxedExecutor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SandboxedExecutor{
		cfg:          cfg,
		limiter:      NewResourceLimiter(cfg, logger),
		logger:       logger,
		startProcess: func(cmd *exec.Cmd) error { return cmd.Start() },
	}
}

// Execute runs the request and returns exactly one report: normal,
// timeout, execution error, or security violation. No panic or stray
// error escapes; the returned error is non-nil only for security
// violations, so direct callers fail fast while report consumers still
// see the violation flagged.
//
// The wall-clock timeout is enforced here and is distinct from the CPU
// cap applied by the limiter: CPU limits cannot bound an I/O-wait hang.
// On expiry the entire process group is killed before the report is
// returned, so no descendant survives the timeout. Partial stdout/stderr
// written before the kill is preserved in the report.
func (e *SandboxedExecutor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionReport, error) {
	// (a) Path guard — fail closed before anything spawns.
	if req.TargetPath != "" && !ValidatePath(req.TargetPath, e.cfg) {
		msg := fmt.Sprintf("path %q escapes the allowed roots", req.TargetPath)
		e.logger.Warn("sandbox rejected path", slog.String("path", req.TargetPath))
		return &ExecutionReport{
			SecurityViolation: true,
			ViolationMessage:  msg,
		}, fmt.Errorf("%w: %s", ErrSecurityViolation, msg)
	}

	// (b) Command guard.
	args, err := SanitizeCommand(req.Executable, req.Args, e.cfg, e.logger)
	if err != nil {
		e.logger.Warn("sandbox rejected command", slog.String("executable", req.Executable))
		return &ExecutionReport{
			SecurityViolation: true,
			ViolationMessage:  err.Error(),
		}, err
	}

	// (c) Spawn under caps, sanitized env, and the wall clock.
	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.cfg.WallTimeout()
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := e.limiter.Wrap(append([]string{req.Executable}, args...))
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = req.WorkingDir
	cmd.Env = SanitizedEnv(req.Env)
	cmd.WaitDelay = waitDelay

	// The child gets its own process group so cancellation can take down
	// everything it spawned, not just the immediate child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID = the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxCaptureBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxCaptureBytes}

	e.logger.Info("sandbox executing",
		slog.String("executable", req.Executable),
		slog.String("target", req.TargetPath),
		slog.Duration("timeout", timeout),
		slog.Bool("limits_enforced", e.limiter.Supported()),
	)

	start := time.Now()
	if err := e.startProcess(cmd); err != nil {
		return &ExecutionReport{
			Error: fmt.Sprintf("spawn failed: %v", err),
		}, nil
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)

	report := &ExecutionReport{
		ProcessStarted: true,
		Stdout:         stdoutBuf.String(),
		Stderr:         stderrBuf.String(),
		DurationMS:     duration.Milliseconds(),
	}

	// Timeout classification is authoritative from the wall clock, not
	// from how the child died. A caller cancellation (SIGINT, shutdown)
	// is not a timeout: it becomes an execution-error report.
	if runCtx.Err() != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			report.TimedOut = true
			e.logger.Warn("sandbox execution timed out",
				slog.Duration("timeout", timeout),
				slog.Duration("duration", duration),
			)
			return report, nil
		}
		report.Error = "execution canceled"
		e.logger.Warn("sandbox execution canceled",
			slog.Duration("duration", duration),
		)
		return report, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			report.Error = fmt.Sprintf("wait failed: %v", waitErr)
			return report, nil
		}
		report.ExitCode = exitErr.ExitCode()
	}

	report.ProcessCompleted = true
	report.Success = report.ExitCode == 0

	e.logger.Info("sandbox execution completed",
		slog.Int("exit_code", report.ExitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdoutBuf.Len()),
		slog.Int("stderr_bytes", stderrBuf.Len()),
	)
	return report, nil
}

// limitedWriter stops writing after a byte limit. Excess output is
// silently discarded, not an error.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > lw.remaining {
		n, err := lw.w.Write(p[:lw.remaining])
		lw.remaining -= n
		if err != nil {
			return n, err
		}
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}
