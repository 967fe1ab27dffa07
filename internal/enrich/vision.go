package enrich

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	defaultBaseURL  = "https://api.openai.com"
	completionsPath = "/v1/chat/completions"

	// Flat per-image estimate; precise token accounting belongs to the
	// provider's billing, this only feeds the pipeline cost accumulator.
	costPerImageUSD = 0.004

	analysisPrompt = `You are reviewing a screenshot captured during an automated browser test.
Context: %s
List any visual defects, error states, or inconsistencies you can see,
one finding per line. Reply "no findings" if the page looks correct.`
)

// VisionClient implements Analyzer against an OpenAI-compatible
// chat-completions API with image input.
type VisionClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the vision client.
type Option func(*VisionClient)

// WithBaseURL overrides the API base URL (e.g. for a local gateway).
func WithBaseURL(url string) Option {
	return func(c *VisionClient) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *VisionClient) { c.httpClient = hc }
}

// NewVisionClient creates a vision analyzer.
func NewVisionClient(apiKey, model string, logger *slog.Logger, opts ...Option) *VisionClient {
	c := &VisionClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiRequest struct {
	Model    string       `json:"model"`
	Messages []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string    `json:"role"`
	Content []apiPart `json:"content"`
}

type apiPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *apiImageURL `json:"image_url,omitempty"`
}

type apiImageURL struct {
	URL string `json:"url"`
}

type apiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the artifact and context to the vision model and parses
// the findings. Best-effort: any transport or API error is returned for
// the caller to downgrade.
func (c *VisionClient) Analyze(ctx context.Context, artifact []byte, contextText string) (*Analysis, error) {
	encoded := base64.StdEncoding.EncodeToString(artifact)
	req := apiRequest{
		Model: c.model,
		Messages: []apiMessage{{
			Role: "user",
			Content: []apiPart{
				{Type: "text", Text: fmt.Sprintf(analysisPrompt, contextText)},
				{Type: "image_url", ImageURL: &apiImageURL{URL: "data:image/png;base64," + encoded}},
			},
		}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from vision model")
	}

	analysis := parseFindings(apiResp.Choices[0].Message.Content)
	analysis.CostUSD = costPerImageUSD

	if c.logger != nil {
		c.logger.DebugContext(ctx, "vision analysis completed",
			slog.Int("findings", len(analysis.Findings)),
			slog.Float64("confidence", analysis.Confidence),
		)
	}
	return analysis, nil
}

// parseFindings splits the model reply into findings. "no findings" (or
// an empty reply) yields zero findings with high confidence; anything
// else is one finding per non-empty line with moderate confidence.
func parseFindings(content string) *Analysis {
	content = strings.TrimSpace(content)
	if content == "" || strings.EqualFold(content, "no findings") {
		return &Analysis{Findings: []string{}, Confidence: 0.9}
	}

	var findings []string
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(strings.TrimLeft(line, "-*• \t")); line != "" {
			findings = append(findings, line)
		}
	}
	return &Analysis{Findings: findings, Confidence: 0.6}
}
