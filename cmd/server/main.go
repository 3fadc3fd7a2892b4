package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/script-runner/config"
	"github.com/ErlanBelekov/script-runner/internal/agent"
	"github.com/ErlanBelekov/script-runner/internal/email"
	"github.com/ErlanBelekov/script-runner/internal/engine"
	"github.com/ErlanBelekov/script-runner/internal/health"
	"github.com/ErlanBelekov/script-runner/internal/infrastructure/memory"
	"github.com/ErlanBelekov/script-runner/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/script-runner/internal/llm"
	ctxlog "github.com/ErlanBelekov/script-runner/internal/log"
	"github.com/ErlanBelekov/script-runner/internal/metrics"
	"github.com/ErlanBelekov/script-runner/internal/repository"
	"github.com/ErlanBelekov/script-runner/internal/sweeper"
	httptransport "github.com/ErlanBelekov/script-runner/internal/transport/http"
	"github.com/ErlanBelekov/script-runner/internal/transport/http/handler"
	"github.com/ErlanBelekov/script-runner/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Run log: Postgres when configured, process memory otherwise.
	var (
		runRepo     repository.RunRepository
		attemptRepo repository.AttemptRepository
		pinger      health.Pinger
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			stop()
			log.Fatalf("db: %v", err)
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool); err != nil {
			stop()
			log.Fatalf("db: %v", err)
		}
		pgRuns := postgres.NewRunRepository(pool)
		if n, err := pgRuns.MarkAbandoned(ctx); err != nil {
			logger.Error("mark abandoned runs", "error", err)
		} else if n > 0 {
			logger.Warn("closed runs left open by a previous process", "count", n)
		}

		runRepo = pgRuns
		attemptRepo = postgres.NewAttemptRepository(pool)
		pinger = pool
		logger.Info("db connected")
	} else {
		runRepo = memory.NewRunRepository()
		attemptRepo = memory.NewAttemptRepository()
		logger.Warn("DATABASE_URL not set, run log is kept in memory")
	}

	// Collaborators
	llmClient, err := llm.New(llm.Config{
		Provider: cfg.LLMProvider,
		BaseURL:  cfg.LLMAPIURL,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
		Timeout:  cfg.LLMTimeout(),
	})
	if err != nil {
		stop()
		log.Fatalf("llm: %v", err)
	}

	// Runs
	eng := engine.New(
		engine.NewExecutor(cfg.ExecutorConfig()),
		agent.NewErrorAnalyzer(llmClient, logger),
		agent.NewCodeRepairer(llmClient, logger),
		attemptRepo,
		logger,
		cfg.EngineConfig(),
	)
	runUsecase := usecase.NewRunUsecase(
		eng,
		runRepo,
		attemptRepo,
		email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger),
		usecase.RunUsecaseConfig{DefaultMaxAttempts: cfg.MaxAttempts, NotifyEmail: cfg.NotifyEmail},
		logger,
	)
	runHandler := handler.NewRunHandler(runUsecase, logger)

	sw, err := sweeper.New(cfg.ScriptDir, engine.ScriptPrefix, cfg.SweepSchedule, cfg.SweepMaxAge(), logger)
	if err != nil {
		stop()
		log.Fatalf("sweeper: %v", err)
	}
	go sw.Start(ctx)

	metrics.Register()
	checker := health.NewChecker(pinger, cfg.ScriptDir, logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httptransport.NewRouter(logger, runHandler, []byte(cfg.JWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port, "interpreter", cfg.Interpreter, "llm_provider", cfg.LLMProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	// Open streams end when their runs do; give them the script timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ExecutorConfig().Timeout+10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
