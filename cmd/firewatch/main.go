package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/firewatch-sync/internal/adapter/fireapi"
	"github.com/couchcryptid/firewatch-sync/internal/adapter/heatdata"
	httpadapter "github.com/couchcryptid/firewatch-sync/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/firewatch-sync/internal/adapter/kafka"
	"github.com/couchcryptid/firewatch-sync/internal/adapter/layers"
	"github.com/couchcryptid/firewatch-sync/internal/adapter/sqlite"
	"github.com/couchcryptid/firewatch-sync/internal/config"
	"github.com/couchcryptid/firewatch-sync/internal/heatmap"
	"github.com/couchcryptid/firewatch-sync/internal/identity"
	"github.com/couchcryptid/firewatch-sync/internal/notify"
	"github.com/couchcryptid/firewatch-sync/internal/observability"
	"github.com/couchcryptid/firewatch-sync/internal/reconcile"
	"github.com/couchcryptid/firewatch-sync/internal/riskfeed"
	"github.com/couchcryptid/firewatch-sync/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	slots, err := sqlite.NewSlotStore(cfg.StateDBPath)
	if err != nil {
		logger.Error("failed to open state store", "path", cfg.StateDBPath, "error", err)
		os.Exit(1)
	}

	// Notifications go to the log and the UI inbox, and to Kafka when configured.
	inbox := notify.NewInbox(cfg.NotifyInboxSize)
	notifier := notify.Multi{notify.NewLog(logger, metrics), inbox}
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger)
		notifier = append(notifier, writer)
		logger.Info("kafka notifications enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaNotifyTopic)
	} else {
		logger.Info("kafka notifications disabled")
	}

	client := fireapi.NewClient(cfg.APIBaseURL, cfg.APITimeout, metrics, logger)
	table := layers.NewTable(layers.DefaultAssets(cfg.AssetBaseURL))

	engine := reconcile.NewEngine(client, table, notifier, metrics, logger)
	feed := riskfeed.New(client, table, notifier, metrics, logger, cfg.RiskLimit, cfg.RiskRefreshInterval)

	source := heatdata.NewCachedSource(heatdata.NewFileSource(cfg.HeatDataDir, logger), metrics)
	heat := heatmap.New(source, table, metrics, logger, cfg.DefaultHorizon, cfg.DefaultThreshold)

	sess := session.New(engine, feed, notifier, logger)
	resolver := identity.NewResolver(slots, sess, metrics, logger)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Ready:         observability.Readiness{slots, heat},
		Identity:      resolver,
		Regions:       engine,
		Layers:        table,
		Risk:          feed,
		Heat:          heat,
		Notifications: inbox,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := heat.Refresh(ctx); err != nil {
		logger.Error("initial heatmap load failed", "dir", cfg.HeatDataDir, "error", err)
	}
	if _, err := resolver.Load(ctx); err != nil {
		logger.Error("failed to restore identity", "error", err)
	}

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start periodic risk refresh.
	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		if err := feed.Run(ctx); err != nil {
			logger.Error("risk feed error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	background.Wait()
	sess.Close()
	engine.Close()
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := slots.Close(); err != nil {
		logger.Error("state store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
