package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/attest/internal/config"
	"github.com/jkaninda/attest/internal/pipeline"
	"github.com/jkaninda/attest/internal/sandbox"
)

// Exit codes for the validate command. Anything short of a clean pass —
// a failing verdict, a security violation, a setup error — exits 1.
const (
	ExitPassed = 0
	ExitFailed = 1
)

var (
	validateConfigPath string
	validateTimeout    int
	validateJSON       bool
	validateDebug      bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <target>",
	Short: "Run one sandboxed validation against a test file or directory",
	Long: `Run the browser-test runner against the target inside the sandbox,
collect evidence artifacts, and validate the run against the rubric.

Examples:
  attest validate tests/login.spec.ts
  attest validate tests/ --timeout 120
  attest validate tests/checkout.spec.ts --json

Exit codes:
  0  validation passed
  1  validation failed, security violation, or error`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	validateCmd.Flags().IntVar(&validateTimeout, "timeout", 0, "wall-clock timeout in seconds (0 = configured default)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the full outcome as JSON")
	validateCmd.Flags().BoolVar(&validateDebug, "debug", false, "enable debug logging")
}

func runValidate(_ *cobra.Command, args []string) error {
	logger := newLogger(validateDebug)

	cfg, err := loadConfig(validateConfigPath)
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome, err := sc.Pipeline.Run(ctx, pipeline.Request{
		TargetPath: args[0],
		Timeout:    time.Duration(validateTimeout) * time.Second,
	})
	if err != nil {
		if !errors.Is(err, sandbox.ErrSecurityViolation) {
			return err
		}
		fmt.Fprintf(os.Stderr, "Denied: %s\n", outcome.Report.ViolationMessage)
		os.Exit(exitCodeFor(outcome, err))
	}

	if validateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			return err
		}
	} else {
		printOutcome(outcome)
	}

	if code := exitCodeFor(outcome, nil); code != ExitPassed {
		os.Exit(code)
	}
	return nil
}

// exitCodeFor maps a run onto the CLI contract: exit 0 only for a clean
// pass; failing verdicts and security violations share exit 1.
func exitCodeFor(o *pipeline.Outcome, runErr error) int {
	if runErr != nil || !o.Verdict.Passed {
		return ExitFailed
	}
	return ExitPassed
}

// printOutcome writes a human-readable verdict to stdout.
func printOutcome(o *pipeline.Outcome) {
	status := "PASSED"
	if !o.Verdict.Passed {
		status = "FAILED"
	}
	fmt.Printf("%s  run=%s  exit=%d  duration=%dms\n",
		status, o.RunID, o.Report.ExitCode, o.DurationMS)

	if o.Summary != nil && !o.Summary.ExitCodeOnly {
		fmt.Printf("  tests: %d passed, %d failed, %d skipped\n",
			o.Summary.PassedTests, o.Summary.FailedTests, o.Summary.SkippedTests)
	}
	for _, e := range o.Verdict.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	for _, w := range o.Verdict.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	fmt.Printf("  evidence: %d file(s)\n", len(o.Evidence))
	for _, path := range o.Evidence {
		fmt.Printf("    %s\n", path)
	}
	for _, a := range o.Enrichment {
		for _, finding := range a.Findings {
			fmt.Printf("  finding: %s\n", finding)
		}
	}
	for _, adv := range o.Advisory {
		fmt.Printf("  advisory: %s\n", adv)
	}
	if o.CostUSD > 0 {
		fmt.Printf("  cost: $%.4f\n", o.CostUSD)
	}
}
