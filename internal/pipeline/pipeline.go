// Package pipeline chains sandboxed execution, evidence collection,
// rubric validation, and optional enrichment into a single run. Each run
// produces exactly one outcome no matter how the execution ended.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/attest/internal/audit"
	"github.com/jkaninda/attest/internal/config"
	"github.com/jkaninda/attest/internal/enrich"
	"github.com/jkaninda/attest/internal/evidence"
	"github.com/jkaninda/attest/internal/observability"
	"github.com/jkaninda/attest/internal/report"
	"github.com/jkaninda/attest/internal/rubric"
	"github.com/jkaninda/attest/internal/sandbox"
	"github.com/jkaninda/attest/internal/storage"
)

// maxEnrichedArtifacts caps how many screenshots one run sends to the
// vision model.
const maxEnrichedArtifacts = 3

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Request describes one validation run.
type Request struct {
	// TargetPath is the test file or directory handed to the runner.
	TargetPath string

	// Timeout overrides the configured wall-clock limit. Zero = default.
	Timeout time.Duration

	// Env adds variables on top of the sanitized base environment.
	Env map[string]string
}

// Outcome is the complete result of one validation run.
type Outcome struct {
	RunID      string                   `json:"run_id"`
	Report     *sandbox.ExecutionReport `json:"report"`
	Summary    *report.Summary          `json:"summary"`
	Evidence   []string                 `json:"evidence"`
	Verdict    *rubric.Verdict          `json:"verdict"`
	Enrichment []*enrich.Analysis       `json:"enrichment,omitempty"`

	// Advisory carries enrichment failures. They never affect the verdict.
	Advisory []string `json:"advisory,omitempty"`

	// DurationMS is the wall-clock time of the whole run: execution,
	// collection, rubric, and enrichment. The child process's own time is
	// Report.DurationMS.
	DurationMS int64 `json:"duration_ms"`

	// CostUSD is incremented only by enrichment calls.
	CostUSD float64 `json:"cost_usd"`
}

// Options wires the pipeline's collaborators. Analyzer, Store, Audit, and
// Observability may be nil; the corresponding stage is skipped.
type Options struct {
	Executor      sandbox.Executor
	Collector     *evidence.Collector
	Rubric        *rubric.Rubric
	Analyzer      enrich.Analyzer
	Store         storage.Store
	Audit         *audit.Logger
	Observability *observability.Observability
	Runner        config.RunnerConfig
	Logger        *slog.Logger
}

// Pipeline runs validations. Safe for concurrent use: each run carries
// its own state.
type Pipeline struct {
	executor  sandbox.Executor
	collector *evidence.Collector
	rubric    *rubric.Rubric
	analyzer  enrich.Analyzer
	store     storage.Store
	auditor   *audit.Logger
	metrics   *observability.MetricsCollector
	tracing   *observability.TracerSetup
	runner    config.RunnerConfig
	logger    *slog.Logger
}

// New creates a Pipeline from options.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		executor:  opts.Executor,
		collector: opts.Collector,
		rubric:    opts.Rubric,
		analyzer:  opts.Analyzer,
		store:     opts.Store,
		auditor:   opts.Audit,
		metrics:   opts.Observability.MetricsOrNil(),
		tracing:   opts.Observability.TracerOrNil(),
		runner:    opts.Runner,
		logger:    logger,
	}
}

// Run executes the target under the sandbox and validates what comes
// back. Security violations fail before anything spawns; every other
// failure mode still flows through the rubric so the caller always gets
// a verdict.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	runID := uuid.NewString()

	ctx, span := p.tracing.StartRun(ctx, runID, req.TargetPath)
	defer span.End()

	if p.metrics != nil {
		p.metrics.ActiveRuns.Inc()
		defer p.metrics.ActiveRuns.Dec()
	}

	p.logger.Info("validation run starting",
		slog.String("run_id", runID),
		slog.String("target", req.TargetPath))

	start := time.Now()
	execReport, execErr := p.executor.Execute(ctx, sandbox.ExecutionRequest{
		Executable: p.runner.Command,
		Args:       append(append([]string{}, p.runner.Args...), req.TargetPath),
		TargetPath: req.TargetPath,
		Env:        req.Env,
		Timeout:    req.Timeout,
	})

	outcome := &Outcome{
		RunID:    runID,
		Report:   execReport,
		Evidence: []string{},
	}

	// A guard rejection means nothing ran: skip collection and let the
	// rubric fail the empty record.
	if execReport.SecurityViolation {
		p.metrics.RecordViolation(violationKind(execReport.ViolationMessage))
	} else {
		outcome.Evidence = p.collector.Collect(runID)
	}

	outcome.Summary = p.summarize(execReport)
	if p.metrics != nil {
		p.metrics.EvidenceFilesCollected.Observe(float64(len(outcome.Evidence)))
	}

	outcome.Verdict = p.rubric.Validate(map[string]any{
		rubric.FieldProcessStarted:   execReport.ProcessStarted,
		rubric.FieldProcessCompleted: execReport.ProcessCompleted,
		rubric.FieldOutcomePassed:    execReport.Success && outcome.Summary.Passed,
		rubric.FieldEvidence:         outcome.Evidence,
		rubric.FieldConsoleErrors:    outcome.Summary.ConsoleErrors,
		rubric.FieldNetworkFailures:  outcome.Summary.NetworkFailures,
		rubric.FieldDurationMS:       execReport.DurationMS,
	})

	p.metrics.RecordVerdict(verdictLabel(outcome.Verdict))
	p.metrics.RecordExecution(executionStatus(execReport), float64(execReport.DurationMS)/1000)
	observability.RecordVerdict(span, outcome.Verdict.Passed, len(outcome.Verdict.Errors))

	// Enrichment only ever strengthens a passing verdict.
	if p.analyzer != nil && outcome.Verdict.Passed && len(outcome.Evidence) > 0 {
		p.enrich(ctx, outcome)
	}

	outcome.DurationMS = time.Since(start).Milliseconds()

	p.persist(ctx, req, outcome)
	p.record(ctx, req, outcome)

	p.logger.Info("validation run finished",
		slog.String("run_id", runID),
		slog.Bool("passed", outcome.Verdict.Passed),
		slog.Int("errors", len(outcome.Verdict.Errors)),
		slog.Int64("duration_ms", outcome.DurationMS))

	if execErr != nil {
		return outcome, fmt.Errorf("run %s: %w", runID, execErr)
	}
	return outcome, nil
}

// summarize decodes the runner's JSON report from stdout, falling back
// to the exit code when the report is missing or malformed.
func (p *Pipeline) summarize(execReport *sandbox.ExecutionReport) *report.Summary {
	if !execReport.ProcessCompleted || strings.TrimSpace(execReport.Stdout) == "" {
		return report.FromExitCode(execReport.ExitCode)
	}
	r, err := report.Parse([]byte(execReport.Stdout))
	if err != nil {
		p.logger.Warn("runner report unreadable, falling back to exit code",
			slog.String("error", err.Error()))
		return report.FromExitCode(execReport.ExitCode)
	}
	return r.Summarize()
}

// enrich runs the vision model over the first few image artifacts.
// Failures are downgraded to advisory notes.
func (p *Pipeline) enrich(ctx context.Context, outcome *Outcome) {
	analyzed := 0
	for _, path := range outcome.Evidence {
		if analyzed >= maxEnrichedArtifacts {
			break
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(path))] {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			outcome.Advisory = append(outcome.Advisory,
				fmt.Sprintf("enrichment skipped %s: %v", filepath.Base(path), err))
			continue
		}

		analysis, err := p.analyzer.Analyze(ctx, data, "Screenshot from a passing browser test run.")
		if err != nil {
			outcome.Advisory = append(outcome.Advisory,
				fmt.Sprintf("enrichment failed for %s: %v", filepath.Base(path), err))
			p.metrics.RecordEnrichment("error", 0)
			continue
		}

		outcome.Enrichment = append(outcome.Enrichment, analysis)
		outcome.CostUSD += analysis.CostUSD
		p.metrics.RecordEnrichment("success", analysis.CostUSD)
		analyzed++
	}
}

// persist writes the outcome to the result store. Best-effort: a storage
// failure is logged, never surfaced.
func (p *Pipeline) persist(ctx context.Context, req Request, outcome *Outcome) {
	if p.store == nil {
		return
	}
	result := &storage.ValidationResult{
		RunID:             outcome.RunID,
		TargetPath:        req.TargetPath,
		Passed:            outcome.Verdict.Passed,
		StructuralInvalid: outcome.Verdict.StructuralInvalid,
		Errors:            outcome.Verdict.Errors,
		Warnings:          outcome.Verdict.Warnings,
		Evidence:          outcome.Evidence,
		ExitCode:          outcome.Report.ExitCode,
		DurationMS:        outcome.Report.DurationMS,
		TimedOut:          outcome.Report.TimedOut,
		SecurityViolation: outcome.Report.SecurityViolation,
		CostUSD:           outcome.CostUSD,
	}
	if err := p.store.SaveResult(ctx, result); err != nil {
		p.logger.Warn("failed to persist validation result",
			slog.String("run_id", outcome.RunID),
			slog.String("error", err.Error()))
	}
}

// record appends the run to the audit trail. Best-effort.
func (p *Pipeline) record(ctx context.Context, req Request, outcome *Outcome) {
	if p.auditor == nil {
		return
	}
	event := audit.Event{
		RunID:      outcome.RunID,
		TargetPath: req.TargetPath,
		Executable: p.runner.Command,
		Result:     auditResult(outcome.Report),
		ExitCode:   outcome.Report.ExitCode,
		DurationMS: outcome.Report.DurationMS,
		Passed:     outcome.Verdict.Passed,
	}
	switch {
	case outcome.Report.SecurityViolation:
		event.Error = outcome.Report.ViolationMessage
	case outcome.Report.Error != "":
		event.Error = outcome.Report.Error
	}
	if err := p.auditor.Record(ctx, event); err != nil {
		p.logger.Warn("failed to append audit event",
			slog.String("run_id", outcome.RunID),
			slog.String("error", err.Error()))
	}
}

func auditResult(r *sandbox.ExecutionReport) string {
	switch {
	case r.SecurityViolation:
		return audit.ResultDenied
	case r.TimedOut:
		return audit.ResultTimeout
	case r.Error != "":
		return audit.ResultError
	default:
		return audit.ResultCompleted
	}
}

func executionStatus(r *sandbox.ExecutionReport) string {
	switch {
	case r.SecurityViolation:
		return "denied"
	case r.TimedOut:
		return "timeout"
	case r.Error != "":
		return "spawn_error"
	default:
		return "completed"
	}
}

func verdictLabel(v *rubric.Verdict) string {
	switch {
	case v.StructuralInvalid:
		return "invalid"
	case v.Passed:
		return "passed"
	default:
		return "failed"
	}
}

func violationKind(message string) string {
	if strings.Contains(message, "path") {
		return "path"
	}
	return "command"
}
