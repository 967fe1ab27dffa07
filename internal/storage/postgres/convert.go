package postgres

import (
	"github.com/google/uuid"

	"github.com/jkaninda/attest/internal/storage"
)

func toResultModel(r *storage.ValidationResult) ValidationResultModel {
	id := r.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return ValidationResultModel{
		ID:                id,
		RunID:             r.RunID,
		TargetPath:        r.TargetPath,
		Passed:            r.Passed,
		StructuralInvalid: r.StructuralInvalid,
		Errors:            StringList(r.Errors),
		Warnings:          StringList(r.Warnings),
		Evidence:          StringList(r.Evidence),
		ExitCode:          r.ExitCode,
		DurationMS:        r.DurationMS,
		TimedOut:          r.TimedOut,
		SecurityViolation: r.SecurityViolation,
		CostUSD:           r.CostUSD,
		CreatedAt:         r.CreatedAt,
	}
}

func toResultDomain(m *ValidationResultModel) *storage.ValidationResult {
	return &storage.ValidationResult{
		ID:                m.ID,
		RunID:             m.RunID,
		TargetPath:        m.TargetPath,
		Passed:            m.Passed,
		StructuralInvalid: m.StructuralInvalid,
		Errors:            []string(m.Errors),
		Warnings:          []string(m.Warnings),
		Evidence:          []string(m.Evidence),
		ExitCode:          m.ExitCode,
		DurationMS:        m.DurationMS,
		TimedOut:          m.TimedOut,
		SecurityViolation: m.SecurityViolation,
		CostUSD:           m.CostUSD,
		CreatedAt:         m.CreatedAt,
	}
}
