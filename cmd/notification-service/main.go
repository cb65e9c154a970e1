package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"govqueue/internal/config"
	"govqueue/internal/logging"
	"govqueue/internal/metrics"
	"govqueue/internal/notify"
	"govqueue/internal/store/postgres"
	"govqueue/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := logging.Must(cfg.LogLevel, cfg.LogFormat, "notification-service")
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" || cfg.RedisAddr == "" {
		logger.Fatal("DB_DSN and REDIS_ADDR are required")
	}

	metrics.Init()
	shutdownTelemetry := telemetry.Setup(telemetry.Options{
		ServiceName: "notification-service",
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
	st := postgres.NewStore(pool, postgres.Options{Logger: logger})

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer client.Close()

	provider := notify.NewProvider(notify.ProviderConfig{
		Kind:             cfg.NotifProvider,
		WebhookURL:       cfg.WebhookURL,
		WebhookToken:     cfg.WebhookToken,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioFrom:       cfg.TwilioFrom,
		TwilioBaseURL:    cfg.TwilioBaseURL,
		Timeout:          cfg.NotifTimeout,
	}, logger)
	sender := notify.NewSender(st, provider, notify.SenderConfig{
		Agency:      cfg.AgencyName,
		MaxAttempts: cfg.NotifMaxAttempts,
		Timeout:     cfg.NotifTimeout,
	}, logger)
	consumer := notify.NewStreamConsumer(client, notify.ConsumerConfig{
		Stream:   cfg.NotifStream,
		Group:    cfg.NotifGroup,
		Consumer: cfg.NotifConsumer,
	}, sender, logger)

	router := chi.NewRouter()
	router.Use(metrics.Instrument)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := client.Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.NotifPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("notification-service listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("consuming notification jobs", zap.String("stream", cfg.NotifStream), zap.String("group", cfg.NotifGroup))
	if err := consumer.Run(ctx); err != nil {
		logger.Error("notification consumer stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
