package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/api"
	"github.com/ayo6706/cashdesk-gateway/internal/api/handler"
	"github.com/ayo6706/cashdesk-gateway/internal/api/middleware"
	"github.com/ayo6706/cashdesk-gateway/internal/bookmaker"
	"github.com/ayo6706/cashdesk-gateway/internal/config"
	"github.com/ayo6706/cashdesk-gateway/internal/db"
	"github.com/ayo6706/cashdesk-gateway/internal/idempotency"
	"github.com/ayo6706/cashdesk-gateway/internal/notify"
	"github.com/ayo6706/cashdesk-gateway/internal/observability"
	"github.com/ayo6706/cashdesk-gateway/internal/rates"
	"github.com/ayo6706/cashdesk-gateway/internal/repository"
	"github.com/ayo6706/cashdesk-gateway/internal/service"
	"github.com/ayo6706/cashdesk-gateway/internal/signature"
	"github.com/ayo6706/cashdesk-gateway/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run wires the gateway, starts the HTTP server, the notification queue and
// the retry sweeper, and blocks until SIGINT/SIGTERM.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.WithMaxConns(cfg.DBMaxConns))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	// Redis is optional: without it rates and idempotency records are
	// served from memory and Postgres only.
	var cache redis.Cmdable
	if cfg.RedisURL != "" {
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		cache = client
	}

	store := repository.NewStore(pool)
	idemStore := idempotency.NewStore(cache, repository.New(pool), cfg.IdempotencyTTL)

	sender, err := newSender(cfg)
	if err != nil {
		return fmt.Errorf("init telegram: %w", err)
	}
	queue := notify.NewQueue(sender, cfg.NotifyQueueSize, cfg.ProviderTimeout)
	stopQueue := queue.Run(ctx)

	registry, err := bookmaker.NewRegistry(cfg.Bookmakers, service.NewCodeLedger(store), cfg.ProviderTimeout)
	if err != nil {
		return fmt.Errorf("init bookmakers: %w", err)
	}
	logger.Info("bookmakers registered", zap.Strings("bookmakers", registry.Names()))

	converter := newConverter(cfg, cache)

	ledger := service.NewPaymentLedger(store)
	matcher := service.NewRequestMatcher(store, ledger, cfg.MatchWindow)
	orchestrator := service.NewDepositOrchestrator(store, ledger, converter, registry, queue,
		service.WithOperatorChat(cfg.OperatorChatID),
		service.WithCreditTimeout(cfg.ProviderTimeout),
	)
	cryptoVerifier := signature.NewVerifier(cfg.CryptoBotToken, cfg.WebhookSkipSignature)
	bankVerifier := signature.NewVerifier(cfg.BankWebhookSecret, cfg.WebhookSkipSignature)
	if cfg.WebhookSkipSignature {
		logger.Warn("webhook signature verification is DISABLED")
	}
	if !bankVerifier.Enabled() {
		logger.Warn("BANK_WEBHOOK_SECRET not set, bank webhooks will be rejected")
	}
	webhooks := service.NewWebhookService(store, ledger, matcher, orchestrator, queue,
		cryptoVerifier, bankVerifier, cfg.OperatorChatID)
	withdrawals := service.NewWithdrawalService(store, registry, queue, cfg.OperatorChatID)
	requests := service.NewRequestService(store, queue)
	payments := service.NewPaymentService(store, ledger, orchestrator)

	sweeper := worker.NewReconciliationWorker(webhooks, requests).
		WithInterval(cfg.RetryInterval).
		WithBatchSize(cfg.RetryBatchSize)
	stopSweeper := sweeper.Run(ctx)
	logger.Info("retry sweeper started", zap.Duration("interval", cfg.RetryInterval), zap.Int32("batch", cfg.RetryBatchSize))

	router := api.NewRouter(api.Dependencies{
		Logger:      logger,
		Auth:        middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		Idempotency: idemStore,
		Webhooks:    webhooks,
		Withdrawals: withdrawals,
		Requests:    requests,
		Payments:    payments,
		Rates:       converter,
		Health:      handler.NewHealthHandler(pool, cache),
	}, api.RouterConfig{
		PublicRateLimitRPS: cfg.PublicRateLimitRPS,
		AuthRateLimitRPS:   cfg.AuthRateLimitRPS,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping retry sweeper")
	stopSweeper()
	// Drain notifications last so alerts from in-flight requests go out.
	stopQueue()

	logger.Info("shutdown complete")
	return nil
}

func newConverter(cfg *config.Config, cache redis.Cmdable) *rates.Converter {
	var fallbackCache rates.Cache = rates.NewMemoryCache()
	if cache != nil {
		fallbackCache = rates.NewRedisCache(cache)
	}
	return rates.NewConverter(
		rates.NewCryptoPayClient(cfg.CryptoPayBaseURL, cfg.CryptoBotToken, cfg.ProviderTimeout),
		rates.NewPublicRatesClient(cfg.FallbackRatesURL, cfg.ProviderTimeout, fallbackCache, cfg.RateFallbackCacheTTL),
		rates.WithIntermediates(cfg.RateIntermediates...),
		rates.WithTimeout(cfg.ProviderTimeout),
	)
}

func newSender(cfg *config.Config) (notify.Sender, error) {
	if cfg.TelegramBotToken == "" {
		zap.L().Warn("TELEGRAM_BOT_TOKEN not set, notifications are logged only")
		return notify.LogSender{}, nil
	}
	return notify.NewTelegramSender(cfg.TelegramBotToken, cfg.ProviderTimeout)
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
