package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"lensbook/config"
	"lensbook/database"
	bookingRepo "lensbook/database/repository/booking"
	"lensbook/services/booking"
	"lensbook/services/events"
	"lensbook/services/metrics"
	"lensbook/services/payment"
	"lensbook/services/quote"
	"lensbook/services/reservation"
	"lensbook/services/tasks"
	"lensbook/utils"
)

// app holds every long-lived dependency of a process. Nothing is kept in
// package-level state; each command builds its own app.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	repo     bookingRepo.Repository
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	cache     *redis.Client
	queueOpts asynq.RedisClientOpt
	queue     *asynq.Client
	publisher events.Publisher
	stripe    *payment.StripeProcessor

	orchestrator *payment.Orchestrator
	quotes       *quote.DefaultQuoteService
	reservations *reservation.DefaultReservationService

	health  map[string]utils.HealthCheck
	closers []func() error
}

func loadBase() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := utils.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openRepository connects the configured storage driver.
func openRepository(ctx context.Context, cfg *config.Config) (bookingRepo.Repository, utils.HealthCheck, func() error, error) {
	switch cfg.StorageDriver {
	case config.StorageMongo:
		client, err := database.ConnectMongo(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		check := func(ctx context.Context) error { return client.Ping(ctx, nil) }
		closer := func() error { return disconnect(client) }
		return bookingRepo.NewMongoRepo(client, cfg.DatabaseName), check, closer, nil
	case config.StoragePostgres, config.StorageSQLite:
		db, err := database.OpenGorm(cfg.StorageDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sql handle: %w", err)
		}
		return bookingRepo.NewGormRepo(db), sqlDB.PingContext, sqlDB.Close, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

func disconnect(client *mongo.Client) error {
	return client.Disconnect(context.Background())
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadBase()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, health: map[string]utils.HealthCheck{}}
	if err := a.init(ctx); err != nil {
		// Release whatever was opened before the failure.
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// init opens every dependency of a, recording a closer for each as it goes.
func (a *app) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	repo, check, closer, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	a.repo = repo
	a.health["storage"] = check
	a.closers = append(a.closers, closer)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	var cache payment.CheckoutCache
	enqueuer := tasks.Enqueuer(tasks.NopEnqueuer{})
	if cfg.RedisAddr != "" {
		a.cache, err = utils.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisCacheDB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, a.cache.Close)
		a.health["redis"] = func(ctx context.Context) error { return a.cache.Ping(ctx).Err() }
		cache = payment.NewRedisCheckoutCache(a.cache, cfg.CheckoutCacheTTL)

		a.queueOpts = asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisQueueDB}
		a.queue = asynq.NewClient(a.queueOpts)
		a.closers = append(a.closers, a.queue.Close)
		inspector := asynq.NewInspector(a.queueOpts)
		a.closers = append(a.closers, inspector.Close)
		enqueuer = tasks.NewAsynqEnqueuer(a.queue, inspector, 0)
	} else {
		logger.Warn("REDIS_ADDR not set: checkout cache and task queue disabled")
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		a.publisher = events.NewKafkaPublisher(brokers, cfg.KafkaTopic, logger.Named("events"))
	} else {
		a.publisher = events.NopPublisher{}
	}
	a.closers = append(a.closers, a.publisher.Close)

	a.stripe = payment.NewStripeProcessor(payment.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
	})

	deposit, fee, err := cfg.Rates()
	if err != nil {
		return err
	}
	retry := payment.DefaultRetryPolicy
	retry.MaxRetries = uint64(cfg.ProcessorMaxRetries)
	a.orchestrator = payment.NewOrchestrator(payment.OrchestratorConfig{
		Repo:      repo,
		Processor: a.stripe,
		Cache:     cache,
		Events:    a.publisher,
		Metrics:   a.metrics,
		Logger:    logger.Named("payment"),
		Rates:     payment.SplitRates{DepositRate: deposit, PlatformFeeRate: fee},
		Currency:  cfg.Currency,
		Retry:     retry,
	})

	a.quotes, err = quote.NewDefaultQuoteService(repo, a.orchestrator, a.publisher, a.metrics, logger.Named("quote"), cfg.Currency)
	if err != nil {
		return err
	}
	a.reservations, err = reservation.NewDefaultReservationService(repo, a.orchestrator, booking.DefaultPolicyEngine(), enqueuer, a.metrics, logger.Named("reservation"))
	if err != nil {
		return err
	}
	return nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
