package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/bootstrap"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/config"
	subscriptionEvents "github.com/Kilat-Pet-Delivery/service-subscription/internal/events"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/handler"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/auth"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/health"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/logger"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewNamed(cfg.AppEnv, "service-subscription")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting service-subscription",
		zap.String("port", cfg.Port),
	)

	// Database, locks, Kafka producer, gateway and services
	app, err := bootstrap.Build(cfg, prometheus.DefaultRegisterer, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to initialize service", zap.Error(err))
	}
	defer app.Close()

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(
		cfg.JWTConfig.Secret,
		15*time.Minute,
		7*24*time.Hour,
	)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Initialize Kafka consumer for user events
	consumerGroupID := cfg.KafkaConfig.GroupPrefix + "subscription-service"
	userConsumer := subscriptionEvents.NewUserEventConsumer(
		cfg.KafkaConfig.Brokers,
		consumerGroupID,
		app.Engine,
		zapLogger,
	)
	defer userConsumer.Close()

	go func() {
		zapLogger.Info("starting user event consumer")
		if err := userConsumer.Start(bgCtx); err != nil {
			if bgCtx.Err() == nil {
				zapLogger.Error("user event consumer failed", zap.Error(err))
			}
		}
	}()

	// Scheduled renewal sweep
	if cfg.SweepEnabled {
		go app.Sweeper.Start(bgCtx)
	}

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.LoggerMiddleware(zapLogger))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check routes
	healthHandler := health.NewHandler(app.DB, "service-subscription")
	if app.Redis != nil {
		healthHandler.AddCheck("redis", app.RedisCheck)
	}
	healthHandler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Register API routes
	apiV1 := router.Group("/api/v1")
	handler.NewCustomerHandler(app.Customers).RegisterRoutes(apiV1, jwtManager)
	handler.NewSubscriptionHandler(app.Engine, app.Customers).RegisterRoutes(apiV1, jwtManager)
	handler.NewCouponHandler(app.Coupons).RegisterRoutes(apiV1, jwtManager)
	handler.NewAdminHandler(app.Stats, app.Sweeper).RegisterRoutes(apiV1, jwtManager)
	handler.NewUtilHandler(cfg.MoneyFormat).RegisterRoutes(apiV1)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down service-subscription...")

	// Stop the consumer and the sweep loop
	bgCancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("service-subscription stopped")
}
