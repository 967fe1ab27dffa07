package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/attest/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "attest.db")},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	result := &storage.ValidationResult{
		RunID:      "run-1",
		TargetPath: "/tests/login.spec.ts",
		Passed:     true,
		Evidence:   []string{"/artifacts/run-1/shot.png"},
		Warnings:   []string{"console errors present: 2 entries"},
		ExitCode:   0,
		DurationMS: 12345,
		CostUSD:    0.004,
	}
	if err := s.SaveResult(ctx, result); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if result.ID == uuid.Nil {
		t.Fatal("SaveResult did not assign an ID")
	}

	got, err := s.GetResult(ctx, result.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.RunID != "run-1" || !got.Passed {
		t.Errorf("got %+v, want run-1/passed", got)
	}
	if len(got.Evidence) != 1 || got.Evidence[0] != "/artifacts/run-1/shot.png" {
		t.Errorf("evidence = %v, want original list", got.Evidence)
	}
	if len(got.Warnings) != 1 {
		t.Errorf("warnings = %v, want 1 entry", got.Warnings)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at was not set")
	}
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetResult(context.Background(), uuid.New())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		r := &storage.ValidationResult{
			RunID:     "run",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Passed:    i%2 == 0,
		}
		if err := s.SaveResult(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.ListResults(ctx, 0)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len = %d, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].CreatedAt.After(results[i-1].CreatedAt) {
			t.Errorf("results not ordered newest first at index %d", i)
		}
	}
}

func TestList_Limit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.SaveResult(ctx, &storage.ValidationResult{RunID: "run"}); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.ListResults(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("len = %d, want 2", len(results))
	}
}

func TestDeleteResultsBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := &storage.ValidationResult{RunID: "old", CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	fresh := &storage.ValidationResult{RunID: "fresh", CreatedAt: time.Now().UTC()}
	for _, r := range []*storage.ValidationResult{old, fresh} {
		if err := s.SaveResult(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := s.DeleteResultsBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteResultsBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := s.GetResult(ctx, old.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Error("old result survived pruning")
	}
	if _, err := s.GetResult(ctx, fresh.ID); err != nil {
		t.Errorf("fresh result was pruned: %v", err)
	}
}

func TestPingAndDriver(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if s.Driver() != storage.DriverSQLite {
		t.Errorf("Driver = %q, want sqlite", s.Driver())
	}
}
