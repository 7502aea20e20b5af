// Command regionstore runs a local region store and risk endpoint for
// development against the sync agent.
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

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/firewatch-sync/internal/config"
	"github.com/couchcryptid/firewatch-sync/internal/storeserver"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadStore()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	repo, err := storeserver.NewRepository(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if cfg.RiskSeedFile != "" {
		points, err := storeserver.LoadRiskSeed(cfg.RiskSeedFile)
		if err != nil {
			logger.Error("failed to load risk seed", "path", cfg.RiskSeedFile, "error", err)
			os.Exit(1)
		}
		if err := repo.SeedRisk(context.Background(), points); err != nil {
			logger.Error("failed to seed risk points", "error", err)
			os.Exit(1)
		}
		logger.Info("risk points seeded", "count", len(points))
	}

	gin.SetMode(gin.ReleaseMode)
	router := storeserver.NewRouter(storeserver.NewHandler(repo, logger), cfg.RateLimit)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("region store listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
