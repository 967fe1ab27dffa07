// Package audit keeps an append-only JSONL trail of every sandbox
// execution attempt, including the ones the guards refused. One JSON
// object per line; the file is the record of what the validator actually
// ran and denied.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Results an audit event may record.
const (
	ResultCompleted = "completed"
	ResultTimeout   = "timeout"
	ResultError     = "error"
	ResultDenied    = "denied"
)

// Event is a single entry in the audit trail.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	TargetPath string    `json:"target_path,omitempty"`
	Executable string    `json:"executable,omitempty"`
	Result     string    `json:"result"`
	ExitCode   int       `json:"exit_code,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Passed     bool      `json:"passed"`
	Error      string    `json:"error,omitempty"`
}

// Logger writes audit events as append-only JSONL. Thread-safe: multiple
// pipeline workers can log concurrently.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// NewLogger opens (or creates) the audit log in append-only mode with
// 0600 permissions.
func NewLogger(path string, logger *slog.Logger) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &Logger{file: f, logger: logger}, nil
}

// Record serializes the event and appends it. Marshal happens outside
// the lock; only the file write is serialized.
func (a *Logger) Record(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	a.mu.Lock()
	_, writeErr := a.file.Write(data)
	a.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("writing audit event: %w", writeErr)
	}

	if a.logger != nil {
		a.logger.InfoContext(ctx, "audit event recorded",
			slog.String("run_id", event.RunID),
			slog.String("result", event.Result),
		)
	}
	return nil
}

// Close closes the underlying file.
func (a *Logger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
