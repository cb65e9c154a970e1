package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"govqueue/internal/config"
	"govqueue/internal/display"
	"govqueue/internal/logging"
	"govqueue/internal/metrics"
	"govqueue/internal/realtime"
	"govqueue/internal/store/postgres"
	"govqueue/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := logging.Must(cfg.LogLevel, cfg.LogFormat, "realtime-service")
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DB_DSN is required")
	}

	metrics.Init()
	shutdownTelemetry := telemetry.Setup(telemetry.Options{
		ServiceName: "realtime-service",
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		Logger:      logger,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()
	st := postgres.NewStore(pool, postgres.Options{
		FeedPollInterval: cfg.FeedPollInterval,
		FeedBatchSize:    cfg.FeedBatchSize,
		Logger:           logger,
	})

	hub := realtime.NewHub(logger)
	replica := realtime.NewServer(st, hub, realtime.Options{
		Policy: display.Policy{
			WaitingLimit:  cfg.DisplayWaitingLimit,
			PriorityFirst: cfg.DisplayPriorityFirst,
		},
		DefaultWait: cfg.DefaultAvgWaitMinutes,
		Location:    cfg.Location,
		Logger:      logger,
	})
	go func() {
		if err := replica.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("change feed stopped", zap.Error(err))
			stop()
		}
	}()

	handler := realtime.NewHandler(replica, hub, logger)
	server := &http.Server{
		Addr:        ":" + cfg.RealtimePort,
		Handler:     otelhttp.NewHandler(handler.Routes(), "realtime-service"),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		logger.Info("realtime-service listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
