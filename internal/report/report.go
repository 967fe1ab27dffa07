// Package report decodes the structured JSON report a Playwright-style
// browser runner writes after a test run. Decoding is defensive: every
// field is optional, unknown statuses are tolerated, and a malformed
// document degrades to exit-code-only classification instead of failing
// the pipeline.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result statuses a runner may emit. Anything else is counted as "other"
// and affects neither the pass nor the fail tally.
const (
	StatusPassed   = "passed"
	StatusFailed   = "failed"
	StatusTimedOut = "timedOut"
	StatusSkipped  = "skipped"
)

// RunnerReport is the root of the runner's JSON report: nested suites
// containing specs, tests, and per-attempt results.
type RunnerReport struct {
	Suites []Suite `json:"suites"`
}

// Suite groups specs and child suites, usually one per test file.
type Suite struct {
	Title  string  `json:"title"`
	Suites []Suite `json:"suites,omitempty"`
	Specs  []Spec  `json:"specs,omitempty"`
}

// Spec is a single declared test case.
type Spec struct {
	Title string      `json:"title"`
	OK    *bool       `json:"ok,omitempty"`
	Tests []TestEntry `json:"tests,omitempty"`
}

// TestEntry holds the per-project attempts of a spec.
type TestEntry struct {
	Results []Result `json:"results,omitempty"`
}

// Result is one execution attempt.
type Result struct {
	Status   string        `json:"status"`
	Duration float64       `json:"duration"` // milliseconds
	Error    *ResultError  `json:"error,omitempty"`
	Errors   []ResultError `json:"errors,omitempty"`
	Stdout   []LogLine     `json:"stdout,omitempty"`
	Stderr   []LogLine     `json:"stderr,omitempty"`
}

// ResultError carries the failure message of an attempt.
type ResultError struct {
	Message string `json:"message"`
}

// LogLine is one captured output line. Runners emit either
// {"text": "..."} or {"buffer": "..."}; both decode into Text.
type LogLine struct {
	Text string
}

// UnmarshalJSON accepts the object form, the buffer form, and a bare
// string, keeping the decode tolerant of runner version drift.
func (l *LogLine) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		l.Text = s
		return nil
	}
	var obj struct {
		Text   string `json:"text"`
		Buffer string `json:"buffer"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Text != "" {
		l.Text = obj.Text
	} else {
		l.Text = obj.Buffer
	}
	return nil
}

// Parse decodes a runner report. Callers fall back to FromExitCode when
// it returns an error.
func Parse(data []byte) (*RunnerReport, error) {
	var r RunnerReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding runner report: %w", err)
	}
	return &r, nil
}

// Summary is the flattened view the validation rubric consumes.
type Summary struct {
	Passed          bool     `json:"passed"`
	TotalTests      int      `json:"total_tests"`
	PassedTests     int      `json:"passed_tests"`
	FailedTests     int      `json:"failed_tests"`
	SkippedTests    int      `json:"skipped_tests"`
	ConsoleErrors   []string `json:"console_errors"`
	NetworkFailures []string `json:"network_failures"`

	// ExitCodeOnly marks a summary derived solely from the process exit
	// status because the report was missing or malformed.
	ExitCodeOnly bool `json:"exit_code_only"`
}

// FromExitCode is the documented fallback when no report can be decoded:
// the run passed iff the process exited zero. Nothing else is known.
func FromExitCode(exitCode int) *Summary {
	return &Summary{
		Passed:       exitCode == 0,
		ExitCodeOnly: true,
	}
}

// Summarize flattens the suite tree. A run passes when at least one test
// ran and none failed or timed out. stderr lines and attempt errors are
// classified into console errors and network failures.
func (r *RunnerReport) Summarize() *Summary {
	s := &Summary{
		ConsoleErrors:   []string{},
		NetworkFailures: []string{},
	}
	for i := range r.Suites {
		s.walkSuite(&r.Suites[i])
	}
	s.Passed = s.TotalTests > 0 && s.FailedTests == 0
	return s
}

func (s *Summary) walkSuite(suite *Suite) {
	for i := range suite.Suites {
		s.walkSuite(&suite.Suites[i])
	}
	for i := range suite.Specs {
		s.walkSpec(&suite.Specs[i])
	}
}

func (s *Summary) walkSpec(spec *Spec) {
	for _, test := range spec.Tests {
		for _, result := range test.Results {
			s.TotalTests++
			switch result.Status {
			case StatusPassed:
				s.PassedTests++
			case StatusFailed, StatusTimedOut:
				s.FailedTests++
			case StatusSkipped:
				s.SkippedTests++
			}

			if result.Error != nil && result.Error.Message != "" {
				s.classify(result.Error.Message)
			}
			for _, e := range result.Errors {
				if e.Message != "" {
					s.classify(e.Message)
				}
			}
			for _, line := range result.Stderr {
				if text := strings.TrimSpace(line.Text); text != "" {
					s.classify(text)
				}
			}
		}
	}
}

// classify routes a message to the network-failure list when it looks
// like a transport error, otherwise to the console-error list.
func (s *Summary) classify(message string) {
	if isNetworkFailure(message) {
		s.NetworkFailures = append(s.NetworkFailures, message)
		return
	}
	s.ConsoleErrors = append(s.ConsoleErrors, message)
}

var networkMarkers = []string{
	"net::ERR",
	"ECONNREFUSED",
	"ECONNRESET",
	"ETIMEDOUT",
	"ENOTFOUND",
	"ERR_NAME_NOT_RESOLVED",
	"ERR_CONNECTION",
}

func isNetworkFailure(message string) bool {
	for _, marker := range networkMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
