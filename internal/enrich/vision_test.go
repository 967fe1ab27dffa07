package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func visionServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != completionsPath {
			t.Errorf("path = %s, want %s", r.URL.Path, completionsPath)
		}
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
			t.Errorf("request shape = %+v, want one message with text+image", req.Messages)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestVisionClient_Findings(t *testing.T) {
	srv := visionServer(t, "- button overlaps footer\n- missing error banner")
	defer srv.Close()

	c := NewVisionClient("key", "gpt-test", nil, WithBaseURL(srv.URL))
	analysis, err := c.Analyze(context.Background(), []byte("png-bytes"), "login flow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(analysis.Findings) != 2 {
		t.Errorf("findings = %v, want 2", analysis.Findings)
	}
	if analysis.CostUSD <= 0 {
		t.Error("cost estimate missing")
	}
}

func TestVisionClient_NoFindings(t *testing.T) {
	srv := visionServer(t, "no findings")
	defer srv.Close()

	c := NewVisionClient("key", "gpt-test", nil, WithBaseURL(srv.URL))
	analysis, err := c.Analyze(context.Background(), []byte("png-bytes"), "checkout")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(analysis.Findings) != 0 {
		t.Errorf("findings = %v, want none", analysis.Findings)
	}
	if analysis.Confidence < 0.8 {
		t.Errorf("confidence = %v, want high for a clean page", analysis.Confidence)
	}
}

func TestVisionClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewVisionClient("key", "gpt-test", nil, WithBaseURL(srv.URL))
	if _, err := c.Analyze(context.Background(), []byte("x"), "ctx"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
