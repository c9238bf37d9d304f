package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"staybook/internal/api"
	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/domain"
	"staybook/internal/events"
	"staybook/internal/listing"
	"staybook/internal/logging"
	"staybook/internal/metrics"
	"staybook/internal/notify"
	"staybook/internal/payment"
	"staybook/internal/repository"
	"staybook/internal/service"
	"staybook/internal/storage"
	"staybook/internal/worker"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, sqliteDB, err := storage.Open(ctx, cfg.Database, cfg.Sweeper.BatchSize, &logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init ledger")
		return err
	}
	defer store.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	cache := initCache(cfg, redisClient, &logger)
	listings := initListings(cfg, redisClient)

	payments, err := payment.New(cfg.Payment)
	if err != nil {
		logger.Error().Err(err).Str("provider", cfg.Payment.Provider).Msg("init payment provider")
		return err
	}

	bus := events.NewEventBus(logging.Component(&logger, "events"))
	if err := initNotifier(cfg, bus, &logger); err != nil {
		return err
	}

	scheduler, expiryClient, expiryWorker := initExpiryTasks(cfg, store, cache, bus, &logger)
	if expiryWorker != nil {
		defer expiryWorker.Shutdown()
		defer (func() { _ = expiryClient.Close() })()
	}

	opts := service.Options{
		PaymentWindow: cfg.Booking.PaymentWindow,
		MaxNights:     cfg.Booking.MaxNights,
		MaxAttempts:   cfg.Booking.MaxAttempts,
		Retry: worker.RetryPolicy{
			InitialDelay:  cfg.Booking.BackoffBase,
			MaxDelay:      cfg.Booking.BackoffCap,
			BackoffFactor: 2,
		},
		Policy: service.CheckInCutoffPolicy{Notice: cfg.Booking.CancelNotice},
	}
	if scheduler != nil {
		opts.Scheduler = scheduler
	}
	bookings := service.NewBookingService(store, cache, listings, payments, bus, opts, logging.Component(&logger, "booking"))

	sweeper := worker.NewExpirySweeper(store, cache, bus, cfg.Sweeper.Interval, &logger)
	go sweeper.Start(ctx)

	startBackups(ctx, cfg, sqliteDB, &logger)
	startMetrics(ctx, cfg, &logger)

	checks := healthChecks(store, redisClient)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, checks, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}
	httpServer := api.NewHTTPServer(cfg.API, bookings, payments, checks, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initCache keeps an in-process cache behind Redis so a Redis outage only
// costs hit ratio.
func initCache(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.AvailabilityCache {
	if !cfg.Cache.Enabled {
		return nil
	}
	memory := repository.NewMemoryAvailabilityCache(cfg.Cache.TTL)
	if redisClient == nil {
		logger.Info().Dur("ttl", cfg.Cache.TTL).Msg("availability cache: memory")
		return memory
	}
	primary := repository.NewRedisAvailabilityCache(redisClient, cfg.Cache.TTL)
	logger.Info().Dur("ttl", cfg.Cache.TTL).Msg("availability cache: redis with memory fallback")
	return repository.NewFailoverAvailabilityCache(primary, memory, cfg.Cache.TTL, logging.Component(logger, "cache"))
}

func initListings(cfg *config.Config, redisClient *redis.Client) domain.ListingDirectory {
	if cfg.Listing.BaseURL == "" {
		return listing.NewStaticDirectory(cfg.Listing.Properties)
	}
	dir := listing.NewHTTPDirectory(cfg.Listing.BaseURL, cfg.Listing.APIKey, cfg.Listing.APIExtra, cfg.Listing.Timeout)
	if redisClient != nil && cfg.Listing.CacheTTL > 0 {
		dir.UseRedisCache(redisClient, cfg.Listing.CacheTTL)
	}
	return dir
}

func initNotifier(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) error {
	if !cfg.Notify.Enabled {
		return nil
	}
	sender, err := notify.NewTelegramSender(cfg.Notify.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("init telegram notifier")
		return err
	}
	notify.NewNotifier(sender, cfg.Notify.ChatID, logging.Component(logger, "notify")).Attach(bus)
	logger.Info().Int64("chat_id", cfg.Notify.ChatID).Msg("telegram notifications enabled")
	return nil
}

// initExpiryTasks wires per-hold asynq tasks when enabled. The ticker sweeper
// runs either way.
func initExpiryTasks(
	cfg *config.Config,
	store domain.IntervalStore,
	cache domain.AvailabilityCache,
	bus *events.EventBus,
	logger *zerolog.Logger,
) (*worker.ExpiryTaskScheduler, *asynq.Client, *asynq.Server) {
	if !cfg.Sweeper.Asynq || cfg.Redis.Address == "" {
		return nil, nil, nil
	}

	opt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	handler := worker.NewExpiryTaskHandler(store, cache, bus, logger)
	srv, mux := worker.NewExpiryWorker(opt, 0, handler)
	if err := srv.Start(mux); err != nil {
		logger.Warn().Err(err).Msg("asynq worker failed to start, relying on sweeper")
		return nil, nil, nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("asynq expiry worker started")
	client := asynq.NewClient(opt)
	return worker.NewExpiryTaskScheduler(client, logger), client, srv
}

// healthChecks gates health on the ledger. A Redis outage only degrades it
// since the memory cache takes over.
func healthChecks(store domain.IntervalStore, redisClient *redis.Client) map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{"ledger": store.Ping}
	if redisClient != nil {
		checks["cache"] = api.Optional(func(ctx context.Context) error {
			return repository.Ping(ctx, redisClient)
		})
	}
	return checks
}

func startBackups(ctx context.Context, cfg *config.Config, db *database.DB, logger *zerolog.Logger) {
	if !cfg.Backup.Enabled {
		return
	}
	if db == nil {
		logger.Warn().Msg("backups are only supported for the sqlite ledger")
		return
	}
	go database.NewBackupService(db, cfg.Backup, logger).Start(ctx)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

// startServers blocks until ctx is cancelled or a listener fails, then drains
// both servers.
func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	failed := make(chan error, 2)

	if grpcServer != nil {
		go grpcServer.WatchHealth(ctx, 15*time.Second)
		go func() {
			if err := grpcServer.Serve(); err != nil {
				failed <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}
	if cfg.API.HTTP.Enabled {
		go func() {
			if err := httpServer.Start(); err != nil {
				failed <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	event := logger.Info().Bool("http", cfg.API.HTTP.Enabled).Int("http_port", cfg.API.HTTP.Port)
	if grpcServer != nil {
		event = event.Str("grpc_addr", grpcServer.Addr())
	}
	event.Msg("API server started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-failed:
		logger.Error().Err(runErr).Msg("listener failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return runErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
