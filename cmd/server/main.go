package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/cashflow-forecast/internal/cache"
	"example.com/cashflow-forecast/internal/config"
	"example.com/cashflow-forecast/internal/database"
	"example.com/cashflow-forecast/internal/jobs"
	"example.com/cashflow-forecast/internal/server"
)

const purgeTimeout = time.Minute

func main() {
	ensureEnvFile()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Env)}))
	slog.SetDefault(logger)

	db, err := database.Open(context.Background(), cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		db.Close()
	}()

	rdb, err := database.OpenRedis(context.Background(), cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if rdb == nil {
		logger.Warn("REDIS_ADDR is not set, forecast cache disabled")
	} else {
		defer func() {
			_ = rdb.Close()
		}()
	}

	projections := cache.NewProjectionCache(rdb, cfg.Forecast.CacheTTL)

	scheduler := jobs.NewScheduler(logger)
	if projections.Enabled() {
		purge := jobs.NewPurgeJob(projections, logger, purgeTimeout)
		if err := scheduler.Add("forecast-cache-purge", cfg.Forecast.PurgeSchedule, purge); err != nil {
			logger.Error("failed to schedule cache purge", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	scheduler.Start()

	e := server.New(cfg, logger, db, rdb, projections)
	httpServer := server.NewHTTPServer(cfg.Server, e)

	go func() {
		logger.Info("http server started", slog.String("addr", httpServer.Addr))
		if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownSignal

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown failed", slog.String("error", err.Error()))
	}
}

func logLevel(env string) slog.Level {
	if env == "local" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func ensureEnvFile() {
	if os.Getenv("ENV_FILE") != "" {
		return
	}

	if _, err := os.Stat(".env"); err == nil {
		_ = os.Setenv("ENV_FILE", ".env")
		return
	}

	if _, err := os.Stat("../.env"); err == nil {
		_ = os.Setenv("ENV_FILE", "../.env")
	}
}
