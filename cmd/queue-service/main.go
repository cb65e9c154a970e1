package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"govqueue/internal/auth"
	"govqueue/internal/config"
	"govqueue/internal/display"
	"govqueue/internal/httpapi"
	"govqueue/internal/logging"
	"govqueue/internal/metrics"
	"govqueue/internal/notify"
	"govqueue/internal/queue"
	"govqueue/internal/store"
	"govqueue/internal/store/memory"
	"govqueue/internal/store/postgres"
	"govqueue/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := logging.Must(cfg.LogLevel, cfg.LogFormat, "queue-service")
	defer func() { _ = logger.Sync() }()

	metrics.Init()
	shutdownTelemetry := telemetry.Setup(telemetry.Options{
		ServiceName: "queue-service",
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

	var st store.Store
	if cfg.DatabaseURL == "" {
		logger.Warn("DB_DSN is empty, using the in-memory store")
		st = memory.New()
	} else {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		st = postgres.NewStore(pool, postgres.Options{
			FeedPollInterval: cfg.FeedPollInterval,
			FeedBatchSize:    cfg.FeedBatchSize,
			Logger:           logger,
		})
	}

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = randomSecret()
		logger.Warn("JWT_SECRET is empty, issued tokens will not survive a restart")
	}
	issuer := auth.NewIssuer(secret, cfg.JWTTTL)
	accounts := auth.NewService(st, issuer, logger)
	if cfg.BootstrapAdminPhone != "" {
		if _, err := accounts.EnsureAdmin(ctx, cfg.BootstrapAdminName, cfg.BootstrapAdminPhone, cfg.BootstrapAdminPassword); err != nil {
			logger.Fatal("bootstrap admin", zap.Error(err))
		}
	}

	var jobs notify.Handler
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		jobs = notify.NewStreamPublisher(client, cfg.NotifStream)
		logger.Info("notifications published to redis", zap.String("stream", cfg.NotifStream))
	} else {
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
		jobs = notify.NewSender(st, provider, notify.SenderConfig{
			Agency:      cfg.AgencyName,
			MaxAttempts: cfg.NotifMaxAttempts,
			Timeout:     cfg.NotifTimeout,
		}, logger)
	}
	dispatcher := notify.NewDispatcher(jobs, cfg.NotifWorkers, cfg.NotifQueueSize, logger)
	go dispatcher.Run(ctx)

	engine := queue.NewEngine(st, auth.ContextIdentity{}, dispatcher, queue.Options{
		Schedule: queue.Schedule{
			StartHour:   cfg.DayStartHour,
			StartMinute: cfg.DayStartMinute,
			SlotLength:  cfg.SlotLength,
			Location:    cfg.Location,
		},
		DefaultAverageWait:     cfg.DefaultAvgWaitMinutes,
		ReminderPositionsAhead: cfg.ReminderPositionsAhead,
		Display: display.Policy{
			WaitingLimit:  cfg.DisplayWaitingLimit,
			PriorityFirst: cfg.DisplayPriorityFirst,
		},
		Logger: logger,
	})

	handler := httpapi.NewHandler(engine, accounts, issuer, httpapi.Options{
		RateLimit: httpapi.RateLimitConfig{
			IPPerMinute:    cfg.RateLimitPerMinute,
			IPBurst:        cfg.RateLimitBurst,
			LoginPerMinute: cfg.LoginRateLimitPerMinute,
			LoginBurst:     cfg.LoginRateLimitBurst,
		},
		Location: cfg.Location,
		Identity: auth.NewProfileIdentity(st),
		Logger:   logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(handler.Routes(), "queue-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("queue-service listening", zap.String("addr", server.Addr))
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

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return []byte(hex.EncodeToString(buf))
}
