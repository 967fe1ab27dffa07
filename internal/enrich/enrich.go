// Package enrich adds best-effort vision-model analysis on top of a
// passing validation: a screenshot plus run context goes out, findings
// with a confidence and an estimated cost come back. Enrichment never
// decides a verdict — failures here are downgraded by the caller, not
// propagated.
package enrich

import "context"

// Analyzer inspects one evidence artifact in context.
type Analyzer interface {
	Analyze(ctx context.Context, artifact []byte, contextText string) (*Analysis, error)
}

// Analysis is the advisory result of a vision pass.
type Analysis struct {
	Findings   []string `json:"findings"`
	Confidence float64  `json:"confidence"` // 0.0–1.0
	CostUSD    float64  `json:"cost_usd"`
}
