// Package server exposes the validation pipeline and result history over
// HTTP.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - TLS expected via reverse proxy (not handled here)
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crypto/subtle"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkaninda/attest/internal/observability"
	"github.com/jkaninda/attest/internal/pipeline"
	"github.com/jkaninda/attest/internal/ratelimit"
	"github.com/jkaninda/attest/internal/storage"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API server.
type Config struct {
	ListenAddr string // e.g., ":8091"
	EnableDocs bool
	APIKeys    map[string]string // API key → caller ID mapping. Keys from env.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          *observability.TracerSetup      // OTel tracer for HTTP middleware.
}

// Server is the HTTP API server.
type Server struct {
	config   Config
	pipeline *pipeline.Pipeline
	store    storage.Store      // nil = result endpoints disabled.
	limiter  *ratelimit.Limiter // nil = no throttling.
	logger   *slog.Logger
	server   *http.Server
	okapi    *okapi.Okapi
	group    *okapi.Group
}

// New creates the HTTP API server.
func New(cfg Config, p *pipeline.Pipeline, store storage.Store, limiter *ratelimit.Limiter, logger *slog.Logger) *Server {
	return &Server{
		config:   cfg,
		pipeline: p,
		store:    store,
		limiter:  limiter,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithOpenAPIDocs mounts the generated OpenAPI documentation.
func (s *Server) WithOpenAPIDocs() *Server {
	s.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Attest",
			Version: "v0.1.0",
		},
	)
	return s
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if s.config.Metrics != nil || s.config.Tracer != nil {
		s.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(s.config.Metrics, s.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	s.group = s.okapi.Group("/v1", s.authenticate)

	s.group.Post("/validate", s.handleValidate,
		okapi.DocSummary("Run a sandboxed validation against a test target"),
		okapi.DocTags("Validation"),
		okapi.DocRequestBody(ValidateRequest{}),
		okapi.DocResponse(ValidateResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
	)

	if s.store != nil {
		s.group.Get("/results", s.handleResultList,
			okapi.DocSummary("List recent validation results"),
			okapi.DocTags("Results"),
			okapi.DocResponse([]ResultResponse{}),
		)
		s.group.Get("/results/{id}", s.handleResultGet,
			okapi.DocSummary("Get a validation result by ID"),
			okapi.DocTags("Results"),
			okapi.DocPathParam("id", "string", "Result ID (UUID)"),
			okapi.DocResponse(ResultResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	// Observability endpoints (unauthenticated).
	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)

	if s.config.MetricsRegistry != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.okapi.HandleStd("GET", path, promhttp.HandlerFor(s.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if s.config.EnableDocs {
		s.WithOpenAPIDocs()
	}

	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second, // validations may run up to the sandbox wall clock
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("http api server starting", slog.String("addr", s.config.ListenAddr))

	return s.okapi.StartServer(s.server)
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(_ context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("http api server stopping")
	return s.okapi.Shutdown(s.server)
}

// --- Handlers ---

// ValidateRequest is the JSON body for POST /v1/validate.
type ValidateRequest struct {
	TargetPath string `json:"target_path"`
	TimeoutMS  int64  `json:"timeout_ms,omitempty"` // 0 = configured default
}

// ValidateResponse is the JSON response for POST /v1/validate.
type ValidateResponse struct {
	RunID      string   `json:"run_id"`
	Passed     bool     `json:"passed"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	Evidence   []string `json:"evidence"`
	Advisory   []string `json:"advisory,omitempty"`
	ExitCode   int      `json:"exit_code"`
	DurationMS int64    `json:"duration_ms"`
	TimedOut   bool     `json:"timed_out"`
	CostUSD    float64  `json:"cost_usd"`
}

func (s *Server) handleValidate(c *okapi.Context) error {
	callerID := c.GetString("callerID")

	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.TargetPath == "" {
		return c.AbortBadRequest("target_path is required")
	}

	s.logger.Info("http validation request",
		slog.String("caller_id", callerID),
		slog.String("target", req.TargetPath),
	)

	outcome, err := s.pipeline.Run(c.Context(), pipeline.Request{
		TargetPath: req.TargetPath,
		Timeout:    time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		// Guard rejections carry the reason; everything else already
		// surfaced through the verdict.
		return c.JSON(http.StatusForbidden, ErrorBody{Error: outcome.Report.ViolationMessage})
	}

	return c.OK(ValidateResponse{
		RunID:      outcome.RunID,
		Passed:     outcome.Verdict.Passed,
		Errors:     outcome.Verdict.Errors,
		Warnings:   outcome.Verdict.Warnings,
		Evidence:   outcome.Evidence,
		Advisory:   outcome.Advisory,
		ExitCode:   outcome.Report.ExitCode,
		DurationMS: outcome.Report.DurationMS,
		TimedOut:   outcome.Report.TimedOut,
		CostUSD:    outcome.CostUSD,
	})
}

// ResultResponse is one stored validation result.
type ResultResponse struct {
	ID                string   `json:"id"`
	RunID             string   `json:"run_id"`
	TargetPath        string   `json:"target_path"`
	Passed            bool     `json:"passed"`
	StructuralInvalid bool     `json:"structural_invalid"`
	Errors            []string `json:"errors"`
	Warnings          []string `json:"warnings"`
	Evidence          []string `json:"evidence"`
	ExitCode          int      `json:"exit_code"`
	DurationMS        int64    `json:"duration_ms"`
	TimedOut          bool     `json:"timed_out"`
	SecurityViolation bool     `json:"security_violation"`
	CostUSD           float64  `json:"cost_usd"`
	CreatedAt         string   `json:"created_at"`
}

func (s *Server) handleResultList(c *okapi.Context) error {
	limit := 0
	if raw := c.Request().URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.AbortBadRequest("limit must be a non-negative integer")
		}
		limit = n
	}

	results, err := s.store.ListResults(c.Context(), limit)
	if err != nil {
		s.logger.Error("listing results failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing results failed")
	}

	resp := make([]ResultResponse, len(results))
	for i, r := range results {
		resp[i] = toResultResponse(r)
	}
	return c.OK(resp)
}

func (s *Server) handleResultGet(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid result ID")
	}

	result, err := s.store.GetResult(c.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "result not found"})
	}
	if err != nil {
		s.logger.Error("fetching result failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("fetching result failed")
	}

	return c.OK(toResultResponse(result))
}

func toResultResponse(r *storage.ValidationResult) ResultResponse {
	return ResultResponse{
		ID:                r.ID.String(),
		RunID:             r.RunID,
		TargetPath:        r.TargetPath,
		Passed:            r.Passed,
		StructuralInvalid: r.StructuralInvalid,
		Errors:            r.Errors,
		Warnings:          r.Warnings,
		Evidence:          r.Evidence,
		ExitCode:          r.ExitCode,
		DurationMS:        r.DurationMS,
		TimedOut:          r.TimedOut,
		SecurityViolation: r.SecurityViolation,
		CostUSD:           r.CostUSD,
		CreatedAt:         r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (s *Server) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (s *Server) handleReadiness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := s.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped caller ID on
// the request context.
func (s *Server) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		callerID := ""
		for key, caller := range s.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				callerID = caller
			}
		}
		if callerID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		if s.limiter != nil {
			if err := s.limiter.Allow(callerID); err != nil {
				return c.AbortTooManyRequests("rate limit exceeded")
			}
		}
		c.Set("callerID", callerID)
		return next(c)
	}
}
