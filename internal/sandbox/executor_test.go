package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func newTestExecutor(t *testing.T, cfg *Config) *SandboxedExecutor {
	t.Helper()
	return NewExecutor(cfg, discardLogger())
}

func skipIfNoShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests require a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecute_DisallowedCommandNeverSpawns(t *testing.T) {
	cfg := Config{
		AllowedDirs:     []string{t.TempDir()},
		AllowedCommands: []string{"npx", "node"},
	}.WithDefaults()
	exe := newTestExecutor(t, &cfg)

	spawns := 0
	exe.startProcess = func(cmd *exec.Cmd) error {
		spawns++
		return cmd.Start()
	}

	report, err := exe.Execute(context.Background(), ExecutionRequest{
		Executable: "rm",
		Args:       []string{"-rf", "/"},
	})
	if !errors.Is(err, ErrSecurityViolation) {
		t.Fatalf("error = %v, want ErrSecurityViolation", err)
	}
	if !report.SecurityViolation {
		t.Error("report.SecurityViolation = false, want true")
	}
	if report.ProcessStarted {
		t.Error("report claims a process started")
	}
	if spawns != 0 {
		t.Errorf("spawn count = %d, want 0", spawns)
	}
}

func TestExecute_PathViolationFailsClosed(t *testing.T) {
	cfg := testConfig(t.TempDir())
	exe := newTestExecutor(t, cfg)

	spawns := 0
	exe.startProcess = func(cmd *exec.Cmd) error {
		spawns++
		return cmd.Start()
	}

	report, err := exe.Execute(context.Background(), ExecutionRequest{
		Executable: "npx",
		Args:       []string{"playwright", "test"},
		TargetPath: "../../../etc/passwd",
	})
	if !errors.Is(err, ErrSecurityViolation) {
		t.Fatalf("error = %v, want ErrSecurityViolation", err)
	}
	if !report.SecurityViolation || report.ViolationMessage == "" {
		t.Error("violation report missing flag or message")
	}
	if spawns != 0 {
		t.Errorf("spawn count = %d, want 0", spawns)
	}
}

func TestExecute_Success(t *testing.T) {
	skipIfNoShell(t)
	root := t.TempDir()
	target := filepath.Join(root, "a.spec.ts")
	if err := os.WriteFile(target, []byte("t"), 0600); err != nil {
		t.Fatal(err)
	}

	exe := newTestExecutor(t, testConfig(root))
	report, err := exe.Execute(context.Background(), ExecutionRequest{
		Executable: "echo",
		Args:       []string{"hello"},
		TargetPath: target,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.ProcessStarted || !report.ProcessCompleted {
		t.Errorf("lifecycle flags = %v/%v, want true/true", report.ProcessStarted, report.ProcessCompleted)
	}
	if !report.Success || report.ExitCode != 0 {
		t.Errorf("success = %v exit = %d, want true/0", report.Success, report.ExitCode)
	}
	if got := strings.TrimSpace(report.Stdout); got != "hello" {
		t.Errorf("stdout = %q, want %q", got, "hello")
	}
	if report.TimedOut || report.SecurityViolation {
		t.Error("normal report carries timeout or violation flags")
	}
}

func TestExecute_NonZeroExit(t *testing.T) {
	skipIfNoShell(t)
	exe := newTestExecutor(t, testConfig(t.TempDir()))

	report, err := exe.Execute(context.Background(), ExecutionRequest{
		Executable: "sh",
		Args:       []string{"-c", "exit 42"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Success {
		t.Error("success = true for exit 42")
	}
	if report.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", report.ExitCode)
	}
	if !report.ProcessCompleted {
		t.Error("non-zero exit is still a completed process")
	}
}

func TestExecute_Timeout(t *testing.T) {
	skipIfNoShell(t)
	exe := newTestExecutor(t, testConfig(t.TempDir()))

	start := time.Now()
	report, err := exe.Execute(context.Background(), ExecutionRequest{
		Executable: "sleep",
		Args:       []string{"30"},
		Timeout:    300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("timeout must be captured in the report, got error: %v", err)
	}
	if !report.TimedOut {
		t.Error("report.TimedOut = false, want true")
	}
	if report.ProcessCompleted || report.Success {
		t.Error("timed-out run reported as completed/successful")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("termination took %v, process tree not killed promptly", elapsed)
	}
}

func TestExecute_CanceledCallerIsNotTimeout(t *testing.T) {
	skipIfNoShell(t)
	exe := newTestExecutor(t, testConfig(t.TempDir()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	report, err := exe.Execute(ctx, ExecutionRequest{
		Executable: "sleep",
		Args:       []string{"30"},
		Timeout:    30 * time.Second,
	})
	if err != nil {
		t.Fatalf("cancellation must be captured in the report, got error: %v", err)
	}
	if report.TimedOut {
		t.Error("caller cancellation misclassified as a wall-clock timeout")
	}
	if report.ProcessCompleted || report.Success {
		t.Error("canceled run reported as completed/successful")
	}
	if report.Error == "" {
		t.Error("canceled run missing the execution-error message")
	}
}

func TestExecute_TimeoutPreservesPartialOutput(t *testing.T) {
	skipIfNoShell(t)
	exe := newTestExecutor(t, testConfig(t.TempDir()))

	report, err := exe.Execute(context.Background(), ExecutionRequest{
		Executable: "sh",
		Args:       []string{"-c", "echo partial; sleep 30"},
		Timeout:    500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.TimedOut {
		t.Fatal("expected a timeout report")
	}
	if !strings.Contains(report.Stdout, "partial") {
		t.Errorf("stdout = %q, want partial output preserved", report.Stdout)
	}
}

func TestExecute_SpawnFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("spawn semantics differ on windows")
	}
	cfg := Config{
		AllowedDirs:     []string{t.TempDir()},
		AllowedCommands: []string{"attest-no-such-binary"},
	}.WithDefaults()
	exe := newTestExecutor(t, &cfg)
	// Drop the ulimit wrapper so the missing binary fails at spawn, not
	// inside the shell.
	exe.limiter = noopLimiter{}

	report, err := exe.Execute(context.Background(), ExecutionRequest{
		Executable: "attest-no-such-binary",
	})
	if err != nil {
		t.Fatalf("spawn failure must be captured in the report, got error: %v", err)
	}
	if report.ProcessStarted {
		t.Error("ProcessStarted = true after failed spawn")
	}
	if report.Error == "" {
		t.Error("execution-error report missing message")
	}
	if report.SecurityViolation || report.TimedOut {
		t.Error("spawn failure misclassified")
	}
}

func TestExecute_SanitizedEnvironment(t *testing.T) {
	skipIfNoShell(t)
	t.Setenv("SUPER_SECRET_TOKEN", "leakme")

	exe := newTestExecutor(t, testConfig(t.TempDir()))
	report, err := exe.Execute(context.Background(), ExecutionRequest{
		Executable: "sh",
		Args:       []string{"-c", "echo [${SUPER_SECRET_TOKEN}]"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(report.Stdout); got != "[]" {
		t.Errorf("child saw secret: stdout = %q", got)
	}
}

func TestLimitedWriter_Caps(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, remaining: 8}

	n, err := lw.Write([]byte("0123456789"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 10 {
		t.Errorf("n = %d, want full length reported", n)
	}
	if buf.String() != "01234567" {
		t.Errorf("captured = %q, want first 8 bytes", buf.String())
	}

	if _, err := lw.Write([]byte("more")); err != nil {
		t.Fatalf("post-cap write errored: %v", err)
	}
	if buf.Len() != 8 {
		t.Errorf("buffer grew past the cap: %d bytes", buf.Len())
	}
}
