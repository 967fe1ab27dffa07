package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestLogger_AppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewLogger(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	events := []Event{
		{RunID: "r1", Result: ResultCompleted, ExitCode: 0, Passed: true},
		{RunID: "r2", Result: ResultDenied, Error: "command \"rm\" not allowed"},
	}
	for _, e := range events {
		if err := l.Record(context.Background(), e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("lines = %d, want 2", len(got))
	}
	if got[0].RunID != "r1" || got[1].RunID != "r2" {
		t.Errorf("order = %s,%s, want r1,r2", got[0].RunID, got[1].RunID)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp was not filled in")
	}
}

func TestLogger_ConcurrentRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewLogger(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Record(context.Background(), Event{RunID: "c", Result: ResultCompleted})
		}()
	}
	wg.Wait()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("interleaved write corrupted a line: %v", err)
		}
		lines++
	}
	if lines != 20 {
		t.Errorf("lines = %d, want 20", lines)
	}
}
