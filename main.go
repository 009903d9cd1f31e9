package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/octorules/engine/pkg/config"
	"github.com/octorules/engine/pkg/database"
	"github.com/octorules/engine/pkg/github"
	"github.com/octorules/engine/pkg/handlers"
	"github.com/octorules/engine/pkg/llm"
	"github.com/octorules/engine/pkg/middleware"
	"github.com/octorules/engine/pkg/repositories"
	"github.com/octorules/engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Database),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Int("sync_workers", cfg.Sync.Workers),
		zap.Bool("extraction_enabled", cfg.Sync.ExtractionEnabled))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Engine exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	connStr := cfg.Database.ConnectionString()

	// Migrations run over database/sql; the application pool is pgx native.
	migrationDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return err
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		_ = migrationDB.Close()
		return err
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	repoStore := repositories.NewRepositoryRepository(db)
	prStore := repositories.NewPullRequestRepository(db)
	commentStore := repositories.NewReviewCommentRepository(db)
	ruleStore := repositories.NewExtractedRuleRepository(db)
	statStore := repositories.NewRuleStatisticRepository(db)

	ghClient := github.NewClient(github.Options{
		BaseURL:        cfg.GitHub.BaseURL,
		Token:          cfg.GitHub.Token,
		PerPage:        cfg.GitHub.PerPage,
		RateLimitFloor: cfg.GitHub.RateLimitFloor,
	}, logger)

	collector := services.NewCollectorService(ghClient, repoStore, prStore, logger)

	var extractor services.RuleExtractor
	if cfg.Sync.ExtractionEnabled {
		llmClient, err := llm.NewClientFromConfig(&cfg.LLM, logger)
		if err != nil {
			return err
		}
		extractor = services.NewExtractionService(
			llmClient, commentStore, ruleStore, statStore, cfg.LLM.Temperature, logger)
	} else {
		logger.Info("Rule extraction disabled, syncing without LLM")
	}

	syncService := services.NewSyncService(
		collector, extractor, repoStore,
		cfg.Sync.Workers, cfg.Sync.QueueCapacity, cfg.Sync.MaxJobRetries, logger)
	syncService.Start(ctx)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewRepositoryHandler(syncService, repoStore, logger).RegisterRoutes(mux)
	handlers.NewSyncHandler(syncService, ghClient, logger).RegisterRoutes(mux)
	handlers.NewRuleHandler(ruleStore, statStore, logger).RegisterRoutes(mux)

	addr := net.JoinHostPort(cfg.BindAddr, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting octorules-engine",
			zap.String("addr", addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		syncService.Stop()
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// Stop refuses new jobs and waits for in-flight syncs to settle at a
	// pull request boundary.
	syncService.Stop()

	return nil
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
