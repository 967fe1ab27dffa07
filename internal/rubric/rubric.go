// Package rubric judges execution records against the validation
// contract: a structural schema layer followed by business rules. A
// record passes exactly when the error list is empty.
package rubric

import (
	"fmt"
	"log/slog"
	"math"
)

// MaxDurationMS is the ceiling a validated run may report. Anything
// slower fails the rubric.
const MaxDurationMS = 45000

// Required record fields.
const (
	FieldProcessStarted   = "process_started"
	FieldProcessCompleted = "process_completed"
	FieldOutcomePassed    = "outcome_passed"
	FieldEvidence         = "evidence"
	FieldConsoleErrors    = "console_errors"
	FieldNetworkFailures  = "network_failures"
	FieldDurationMS       = "duration_ms"
)

// Verdict is the immutable outcome of validating one record.
// Passed holds exactly when Errors is empty.
type Verdict struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`

	// StructuralInvalid marks a verdict whose errors come from the
	// schema layer; business rules were never evaluated.
	StructuralInvalid bool `json:"structural_invalid"`

	// Record echoes the validated input.
	Record map[string]any `json:"record"`
}

// Rubric validates records. Stateless: the same record always yields the
// same verdict, and concurrent validations never interfere.
type Rubric struct {
	logger *slog.Logger
}

// New creates a Rubric.
func New(logger *slog.Logger) *Rubric {
	return &Rubric{logger: logger}
}

// Validate checks the record in two ordered layers. Any structural
// violation short-circuits with only structural errors; otherwise every
// business rule is evaluated and each unmet rule appends one distinct
// error. Non-empty console/network logs produce warnings, never errors.
func (r *Rubric) Validate(record map[string]any) *Verdict {
	v := &Verdict{
		Errors:   []string{},
		Warnings: []string{},
		Record:   record,
	}

	started, completed, outcome, duration, evidence, consoleErrors, networkFailures := r.structural(record, v)
	if len(v.Errors) > 0 {
		v.StructuralInvalid = true
		if r.logger != nil {
			r.logger.Debug("record failed structural validation",
				slog.Int("errors", len(v.Errors)))
		}
		return v
	}

	// Business rules: none short-circuits the others.
	if !started {
		v.Errors = append(v.Errors, "process did not start")
	}
	if !completed {
		v.Errors = append(v.Errors, "process did not complete")
	}
	if !outcome {
		v.Errors = append(v.Errors, "test outcome was not a pass")
	}
	if len(evidence) < 1 {
		v.Errors = append(v.Errors, "no evidence artifacts were produced (at least one required)")
	}
	if duration > MaxDurationMS {
		v.Errors = append(v.Errors, fmt.Sprintf("duration %d ms exceeds the %d ms limit", duration, MaxDurationMS))
	}

	if n := len(consoleErrors); n > 0 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("console errors present: %d entries", n))
	}
	if n := len(networkFailures); n > 0 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("network failures present: %d entries", n))
	}

	v.Passed = len(v.Errors) == 0
	return v
}

// ValidateBatch validates each record independently, keyed by id. No
// state crosses records: the result equals pointwise Validate.
func (r *Rubric) ValidateBatch(records map[string]map[string]any) map[string]*Verdict {
	verdicts := make(map[string]*Verdict, len(records))
	for id, record := range records {
		verdicts[id] = r.Validate(record)
	}
	return verdicts
}

// structural checks presence and types of every required field,
// accumulating schema errors on the verdict. Returned values are only
// meaningful when no structural error was recorded.
func (r *Rubric) structural(record map[string]any, v *Verdict) (started, completed, outcome bool, duration int64, evidence, consoleErrors, networkFailures []string) {
	if record == nil {
		v.Errors = append(v.Errors, "record is missing")
		return
	}

	started = boolField(record, FieldProcessStarted, v)
	completed = boolField(record, FieldProcessCompleted, v)
	outcome = boolField(record, FieldOutcomePassed, v)
	evidence = stringListField(record, FieldEvidence, v)
	consoleErrors = stringListField(record, FieldConsoleErrors, v)
	networkFailures = stringListField(record, FieldNetworkFailures, v)
	duration = durationField(record, FieldDurationMS, v)
	return
}

func boolField(record map[string]any, name string, v *Verdict) bool {
	raw, ok := record[name]
	if !ok {
		v.Errors = append(v.Errors, fmt.Sprintf("missing required field %q", name))
		return false
	}
	b, ok := raw.(bool)
	if !ok {
		v.Errors = append(v.Errors, fmt.Sprintf("field %q must be a boolean, got %T", name, raw))
		return false
	}
	return b
}

// stringListField accepts []string and []any-of-string, the two shapes a
// record takes depending on whether it came from Go or decoded JSON.
func stringListField(record map[string]any, name string, v *Verdict) []string {
	raw, ok := record[name]
	if !ok {
		v.Errors = append(v.Errors, fmt.Sprintf("missing required field %q", name))
		return nil
	}
	switch list := raw.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				v.Errors = append(v.Errors, fmt.Sprintf("field %q must contain only strings, got %T", name, item))
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		v.Errors = append(v.Errors, fmt.Sprintf("field %q must be a list of strings, got %T", name, raw))
		return nil
	}
}

// durationField accepts the integer shapes a duration arrives in: native
// ints or a whole-valued float64 from a JSON decode. The upper bound is
// a business rule so a too-slow run reports alongside the other rule
// failures instead of masking them.
func durationField(record map[string]any, name string, v *Verdict) int64 {
	raw, ok := record[name]
	if !ok {
		v.Errors = append(v.Errors, fmt.Sprintf("missing required field %q", name))
		return 0
	}

	var value int64
	switch n := raw.(type) {
	case int:
		value = int64(n)
	case int64:
		value = n
	case float64:
		if n != math.Trunc(n) {
			v.Errors = append(v.Errors, fmt.Sprintf("field %q must be an integer, got %v", name, n))
			return 0
		}
		value = int64(n)
	default:
		v.Errors = append(v.Errors, fmt.Sprintf("field %q must be an integer, got %T", name, raw))
		return 0
	}

	if value < 0 {
		v.Errors = append(v.Errors, fmt.Sprintf("field %q must be non-negative, got %d", name, value))
		return 0
	}
	return value
}
