package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jkaninda/attest/internal/audit"
	"github.com/jkaninda/attest/internal/config"
	"github.com/jkaninda/attest/internal/enrich"
	"github.com/jkaninda/attest/internal/evidence"
	"github.com/jkaninda/attest/internal/observability"
	"github.com/jkaninda/attest/internal/pipeline"
	"github.com/jkaninda/attest/internal/rubric"
	"github.com/jkaninda/attest/internal/sandbox"
	"github.com/jkaninda/attest/internal/storage"
	pgstore "github.com/jkaninda/attest/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/attest/internal/storage/sqlite"
	"github.com/jkaninda/attest/internal/workspace"
	goutils "github.com/jkaninda/go-utils"
)

// SharedComponents holds all initialized subsystems that both server and
// one-shot validation modes require. Built once by initShared, torn down
// by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Store     storage.Store // Unified store (SQLite or PostgreSQL).

	Obs      *observability.Observability
	Audit    *audit.Logger
	Pipeline *pipeline.Pipeline

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between server and
// one-shot modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("creating workspace directories: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, ws, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Run migrations.
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("database", store.Ping)
	}

	// Audit trail.
	auditor, err := audit.NewLogger(ws.AuditLogPath(), logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	sc.Audit = auditor
	sc.addCleanup(func() {
		if err := auditor.Close(); err != nil {
			logger.Error("closing audit log", slog.String("error", err.Error()))
		}
	})

	// Sandbox policy. The workspace runs directory is always an allowed
	// root so staged test files can execute without extra config.
	sandboxCfg := sandbox.Config{
		MaxCPUSeconds:   cfg.Sandbox.MaxCPUSeconds,
		MaxMemoryBytes:  cfg.Sandbox.MaxMemoryBytes,
		MaxWallSeconds:  cfg.Sandbox.MaxWallSeconds,
		MaxFileBytes:    cfg.Sandbox.MaxFileBytes,
		MaxProcesses:    cfg.Sandbox.MaxProcesses,
		AllowedDirs:     append([]string{ws.RunsDir()}, cfg.Sandbox.AllowedDirs...),
		AllowedCommands: cfg.Sandbox.AllowedCommands,
	}.WithDefaults()
	executor := sandbox.NewExecutor(&sandboxCfg, logger)
	logger.Debug("sandbox initialized",
		slog.Int("max_wall_seconds", sandboxCfg.MaxWallSeconds),
		slog.Int("allowed_dirs", len(sandboxCfg.AllowedDirs)),
		slog.Int("allowed_commands", len(sandboxCfg.AllowedCommands)),
	)

	// Evidence collector and rubric.
	collector := evidence.NewCollector(ws.ArtifactsDir(), cfg.Runner.ResultsDir, nil, logger)
	rub := rubric.New(logger)

	// Optional vision enrichment.
	var analyzer enrich.Analyzer
	if cfg.Enrichment != nil && cfg.Enrichment.Enabled {
		apiKey := os.Getenv("ATTEST_VISION_API_KEY")
		if apiKey == "" {
			sc.Cleanup()
			return nil, fmt.Errorf("enrichment is enabled but ATTEST_VISION_API_KEY is not set")
		}
		var opts []enrich.Option
		if cfg.Enrichment.BaseURL != "" {
			opts = append(opts, enrich.WithBaseURL(cfg.Enrichment.BaseURL))
		}
		analyzer = enrich.NewVisionClient(apiKey, cfg.Enrichment.Model, logger, opts...)
		logger.Debug("enrichment initialized", slog.String("model", cfg.Enrichment.Model))
	}

	sc.Pipeline = pipeline.New(pipeline.Options{
		Executor:      executor,
		Collector:     collector,
		Rubric:        rub,
		Analyzer:      analyzer,
		Store:         store,
		Audit:         auditor,
		Observability: obs,
		Runner:        cfg.Runner,
		Logger:        logger,
	})

	return sc, nil
}

// initWorkspace creates the workspace from config, falling back to the
// default location.
func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	if cfg.Workspace == "" {
		return workspace.Default()
	}
	return workspace.New(cfg.Workspace)
}

// initStore opens the configured storage backend.
func initStore(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.StorageDriver() {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, ws, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.StorageDriver())
	}
}

func initSQLiteStore(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (storage.Store, error) {
	sqliteCfg := sqlitestore.Config{
		Path: ws.DatabasePath(),
	}
	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path != "" {
			sqliteCfg.Path = cfg.Storage.SQLite.Path
		}
		sqliteCfg.JournalMode = cfg.Storage.SQLite.JournalMode
	}
	return sqlitestore.Open(sqliteCfg, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	pg := cfg.Storage.Postgres
	if pg == nil {
		return nil, fmt.Errorf("storage.driver is postgres but storage.postgres is not configured")
	}
	pgCfg := pgstore.Config{
		DSN:          goutils.Env("ATTEST_DB_DSN", pg.DSN),
		MaxOpenConns: pg.MaxOpenConns,
		MaxIdleConns: pg.MaxIdleConns,
	}
	if pg.ConnMaxLifetimeS > 0 {
		pgCfg.ConnMaxLifetime = time.Duration(pg.ConnMaxLifetimeS) * time.Second
	}
	return pgstore.Open(pgCfg, logger)
}

// loadConfig resolves the config path and loads it. A missing file at the
// default location is not an error: the built-in defaults apply.
func loadConfig(path string) (*config.Config, error) {
	resolved := goutils.Env("ATTEST_CONFIG", path)
	if resolved == config.DefaultConfigPath() {
		if _, err := os.Stat(resolved); os.IsNotExist(err) {
			resolved = ""
		}
	}
	return config.Load(resolved)
}

// newLogger builds the process-wide structured logger.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
