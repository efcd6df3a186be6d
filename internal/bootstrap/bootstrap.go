// Package bootstrap assembles the subscription engine from a ServiceConfig.
// Both the HTTP server and the sweep CLI build their dependencies here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/adapter/gateway"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/adapter/lock"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/application"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/config"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/events"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/metrics"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/database"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/kafka"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/repository"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/saga"
)

const lockPrefix = "subscription:lock:"

// App holds the wired components.
type App struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Producer  *kafka.Producer
	Metrics   *metrics.Metrics
	Gateway   *gateway.MockGateway
	Customers *application.CustomerService
	Coupons   *application.CouponService
	Engine    *application.LifecycleEngine
	Sweeper   *application.RenewalSweeper
	Stats     *application.StatsService
}

// Build connects to Postgres (running migrations outside development), Redis when configured and Kafka,
// then wires the services on top.
func Build(cfg *config.ServiceConfig, reg prometheus.Registerer, logger *zap.Logger) (*App, error) {
	dbConfig := database.PostgresConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.DBName,
		SSLMode:  cfg.DBConfig.SSLMode,
	}
	db, err := database.Connect(dbConfig, logger)
	if err != nil {
		return nil, err
	}
	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(
			&repository.CustomerModel{},
			&repository.SubscriptionModel{},
			&repository.CouponModel{},
			&repository.HistoryModel{},
		); err != nil {
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
		logger.Info("database migration completed (dev auto-migrate)")
	} else if err := database.RunMigrations(dbConfig.DatabaseURL(), cfg.MigrationsDir, logger); err != nil {
		return nil, err
	}

	app := &App{DB: db, Metrics: metrics.New(reg)}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisConfig.Addr != "" {
		app.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		locker = lock.NewRedisLocker(app.Redis, lockPrefix, cfg.Lock.TTL)
		logger.Info("using redis subscription locks", zap.String("addr", cfg.RedisConfig.Addr))
	} else {
		logger.Warn("REDIS_ADDR not set, subscription locks are process local")
	}

	app.Producer = kafka.NewProducer(cfg.KafkaConfig.Brokers, logger)

	app.Gateway = gateway.NewMockGateway(logger)
	gw := gateway.NewResilientGateway(app.Gateway, cfg.Gateway, app.Metrics, logger)

	subRepo := repository.NewGormSubscriptionRepository(db)
	customerRepo := repository.NewGormCustomerRepository(db)
	couponRepo := repository.NewGormCouponRepository(db)
	historyRepo := repository.NewGormHistoryRepository(db)

	app.Customers = application.NewCustomerService(customerRepo, subRepo, nil, logger)
	app.Coupons = application.NewCouponService(couponRepo, nil, logger)
	creator := saga.NewSubscriptionSagaService(subRepo, couponRepo, gw, cfg.Dunning, logger)

	app.Engine = application.NewLifecycleEngine(
		subRepo, historyRepo, app.Customers, app.Coupons, creator, gw, locker,
		application.EngineConfig{
			Policy:      cfg.Dunning,
			LockTimeout: cfg.Lock.Timeout,
			Format:      cfg.MoneyFormat,
		},
		logger,
		app.Metrics,
		events.NewTransitionPublisher(app.Producer, logger),
	)
	app.Sweeper = application.NewRenewalSweeper(app.Engine, cfg.Sweep, logger, app.Metrics)
	app.Stats = application.NewStatsService(customerRepo, subRepo, historyRepo, cfg.MoneyFormat, nil, logger)
	return app, nil
}

// RedisCheck pings Redis for the readiness check.
func (a *App) RedisCheck(ctx context.Context) error {
	return a.Redis.Ping(ctx).Err()
}

// Close releases every connection the App opened.
func (a *App) Close() error {
	var errs []error
	if a.Producer != nil {
		errs = append(errs, a.Producer.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
