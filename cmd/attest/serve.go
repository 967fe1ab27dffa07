package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/attest/internal/config"
	"github.com/jkaninda/attest/internal/ratelimit"
	"github.com/jkaninda/attest/internal/retention"
	"github.com/jkaninda/attest/internal/server"
)

var (
	serveConfigPath string
	serveAddr       string
	serveDebug      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the validation HTTP API server",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `attest --config path` and `attest serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :8091)")
		cmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
	}
}

// runServe starts Attest in server mode.
func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger(serveDebug)

	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveAddr != "" {
		if cfg.Server == nil {
			cfg.Server = &config.ServerConfig{}
		}
		cfg.Server.ListenAddr = serveAddr
	}
	if cfg.Server == nil {
		cfg.Server = &config.ServerConfig{}
	}

	logger.Info("starting in server mode", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Retention janitor (optional).
	janitor, err := retention.New(cfg.Retention, sc.Workspace, sc.Store, logger)
	if err != nil {
		return err
	}
	if janitor != nil {
		cancelJanitor := janitor.Start(ctx)
		defer cancelJanitor()
	}

	apiKeys := parseAPIKeys(os.Getenv("ATTEST_API_KEYS"))
	if len(apiKeys) == 0 {
		return fmt.Errorf("no API keys configured: set ATTEST_API_KEYS (comma-separated key:caller entries)")
	}

	srvCfg := server.Config{
		ListenAddr: cfg.Server.Addr(),
		EnableDocs: cfg.Server.EnableDocs,
		APIKeys:    apiKeys,
	}
	if sc.Obs != nil {
		srvCfg.Metrics = sc.Obs.Metrics
		srvCfg.HealthChecker = sc.Obs.Health
		srvCfg.Tracer = sc.Obs.Tracer
		if sc.Obs.Metrics != nil {
			srvCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			srvCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}

	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit != nil {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.Server.RateLimit.BurstSize,
		})
	}

	srv := server.New(srvCfg, sc.Pipeline, sc.Store, limiter, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("server exited with error", slog.String("error", err.Error()))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// parseAPIKeys parses comma-separated key:caller entries from the
// ATTEST_API_KEYS env var into an API key to caller ID mapping.
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) == 2 && parts[0] != "" {
			keys[parts[0]] = parts[1]
		}
	}
	return keys
}
