// Package storage defines the Store interface for validation run history.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL
// (shared deployments). Domain types remain ORM-free — all GORM usage is
// confined to the driver packages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a result ID does not exist.
var ErrNotFound = errors.New("result not found")

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

// Store persists validation outcomes. Both backends implement it.
type Store interface {
	// SaveResult inserts a finished validation record. Records are
	// immutable once written — there is no update method.
	SaveResult(ctx context.Context, result *ValidationResult) error

	// GetResult returns a single record by ID, or ErrNotFound.
	GetResult(ctx context.Context, id uuid.UUID) (*ValidationResult, error)

	// ListResults returns records newest first. Limit defaults to 100.
	ListResults(ctx context.Context, limit int) ([]*ValidationResult, error)

	// DeleteResultsBefore removes records created before the cutoff and
	// returns how many were deleted. Used by the retention janitor.
	DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping checks the backend for health/readiness probes.
	Ping(ctx context.Context) error

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error

	// Driver returns the backend name ("sqlite" or "postgres").
	Driver() string
}

// ValidationResult is the persisted outcome of one validation run.
type ValidationResult struct {
	ID                uuid.UUID `json:"id"`
	RunID             string    `json:"run_id"`
	TargetPath        string    `json:"target_path"`
	Passed            bool      `json:"passed"`
	StructuralInvalid bool      `json:"structural_invalid"`
	Errors            []string  `json:"errors,omitempty"`
	Warnings          []string  `json:"warnings,omitempty"`
	Evidence          []string  `json:"evidence,omitempty"`
	ExitCode          int       `json:"exit_code"`
	DurationMS        int64     `json:"duration_ms"`
	TimedOut          bool      `json:"timed_out"`
	SecurityViolation bool      `json:"security_violation"`
	CostUSD           float64   `json:"cost_usd"`
	CreatedAt         time.Time `json:"created_at"`
}
