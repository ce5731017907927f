package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/auth"
	"github.com/ekaya-inc/sqlai-console/pkg/config"
	"github.com/ekaya-inc/sqlai-console/pkg/database"
	"github.com/ekaya-inc/sqlai-console/pkg/handlers"
	"github.com/ekaya-inc/sqlai-console/pkg/logging"
	"github.com/ekaya-inc/sqlai-console/pkg/metrics"
	"github.com/ekaya-inc/sqlai-console/pkg/middleware"
	"github.com/ekaya-inc/sqlai-console/pkg/repositories"
	"github.com/ekaya-inc/sqlai-console/pkg/retry"
	"github.com/ekaya-inc/sqlai-console/pkg/services"
	"github.com/ekaya-inc/sqlai-console/pkg/toolclient"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("tool_service_url", cfg.ToolService.URL),
		zap.Duration("scan_poll_interval", cfg.Scan.PollInterval),
		zap.Bool("persistent_transcripts", cfg.Transcript.DBPath != ""))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tools := toolclient.New(cfg.ToolService.URL, cfg.Version, logger,
		toolclient.WithRetryConfig(&retry.Config{
			MaxAttempts:  cfg.ToolService.MaxAttempts,
			InitialDelay: cfg.ToolService.InitialBackoff,
			Multiplier:   cfg.ToolService.BackoffMultiplier,
		}),
		toolclient.WithCallTimeout(cfg.ToolService.CallTimeout),
		toolclient.WithObserver(metrics.ObserveToolInvocation),
	)

	var transcripts repositories.TranscriptRepository
	if cfg.Transcript.DBPath != "" {
		db, err := database.Open(ctx, cfg.Transcript.DBPath, logger)
		if err != nil {
			logger.Fatal("Failed to open transcript database", zap.Error(err))
		}
		defer db.Close()
		transcripts = repositories.NewSQLTranscriptRepository(db.DB, cfg.Transcript.MaxEntries)
	} else {
		transcripts = repositories.NewMemoryTranscriptRepository(cfg.Transcript.MaxEntries)
	}

	workspaces := services.NewWorkspaceManager(services.WorkspaceManagerConfig{
		IdleTTL: cfg.Session.IdleTTL,
		Scan: services.ScanConfig{
			PollInterval: cfg.Scan.PollInterval,
			PollDeadline: cfg.Scan.PollDeadline,
			OnFinish:     metrics.ObserveScanFinished,
		},
	}, tools, transcripts, logger)
	defer func() { _ = workspaces.Close() }()

	sessionStore := auth.NewSessionStore(cfg.Session.Secret, cfg.Session.CookieSecure, cfg.Session.IdleTTL)
	authMiddleware := auth.NewMiddleware(sessionStore, workspaces, logger)

	mux := http.NewServeMux()

	// Register handlers
	handlers.NewHealthHandler(cfg, workspaces, logger).RegisterRoutes(mux)
	handlers.NewConsoleHandler(logger).RegisterRoutes(mux, authMiddleware)

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           middleware.RequestLogger(logger)(middleware.RequestMetrics(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting sqlai-console", zap.String("addr", cfg.ListenAddr()), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("Shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}
}
