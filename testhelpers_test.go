//go:build integration

package main_test

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/adapter/gateway"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/application"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/bootstrap"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/config"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
	subscriptionEvents "github.com/Kilat-Pet-Delivery/service-subscription/internal/events"
	platformConfig "github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/config"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/kafka"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/repository"
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	Config  *config.ServiceConfig
	Cleanup func()
}

// setupContainers starts PostgreSQL, Kafka and Redis testcontainers and returns a config pointing at them.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()

	// Start PostgreSQL container with log-based wait strategy.
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "test_subscription",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	// Start Redis for the shared subscription locks.
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start Redis container")

	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	// Start Kafka container using confluent-local (supports KRaft natively).
	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	// Pre-create required topics.
	createTopics(t, kafkaBrokers, subscriptionEvents.TopicUserEvents, subscriptionEvents.TopicSubscriptionEvents)

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	port, err := strconv.Atoi(pgPort.Port())
	require.NoError(t, err)

	cfg := &config.ServiceConfig{
		Port:          ":0",
		AppEnv:        "test",
		MigrationsDir: "migrations",
		DBConfig: platformConfig.DatabaseConfig{
			Host:     pgHost,
			Port:     port,
			User:     "test",
			Password: "test",
			DBName:   "test_subscription",
			SSLMode:  "disable",
		},
		KafkaConfig: platformConfig.KafkaConfig{Brokers: kafkaBrokers, GroupPrefix: "test-"},
		RedisConfig: platformConfig.RedisConfig{Addr: net.JoinHostPort(redisHost, redisPort.Port())},
		Gateway:     gateway.ResilientConfig{Timeout: 5 * time.Second},
		Sweep:       application.SweepConfig{Interval: time.Hour, Concurrency: 4, BatchSize: 50},
		Dunning:     subscription.DefaultDunningPolicy(),
		Lock:        config.LockConfig{Timeout: 10 * time.Second, TTL: 30 * time.Second},
		MoneyFormat: money.DefaultFormat(),
	}
	require.NoError(t, cfg.Validate())

	return &testInfra{Config: cfg, Cleanup: cleanup}
}

// buildApp wires a full service instance against the containers. Each call is an independent replica.
func buildApp(t *testing.T, cfg *config.ServiceConfig) *bootstrap.App {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	var app *bootstrap.App
	require.Eventually(t, func() bool {
		var err error
		app, err = bootstrap.Build(cfg, prometheus.NewRegistry(), logger)
		return err == nil
	}, 30*time.Second, time.Second, "service could not connect to PostgreSQL")

	t.Cleanup(func() { _ = app.Close() })
	return app
}

func subscriptionRequest(email, paymentMethod string, trialDays int) application.CreateSubscriptionRequest {
	return application.CreateSubscriptionRequest{
		Customer:        application.CustomerRequest{Email: email, FirstName: "Ada", LastName: "Lovelace"},
		PlanName:        "Pro",
		Amount:          decimal.RequireFromString("19.99"),
		Currency:        "USD",
		IntervalUnit:    "month",
		IntervalCount:   1,
		TrialPeriodDays: trialDays,
		PaymentMethod:   paymentMethod,
	}
}

// makeDue moves a subscription's billing date into the past.
func makeDue(t *testing.T, db *gorm.DB, id uuid.UUID) {
	t.Helper()
	past := time.Now().UTC().Add(-time.Hour)
	err := db.Model(&repository.SubscriptionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"next_payment_at": past, "trial_end_at": past}).Error
	require.NoError(t, err)
}

// loadSubscription reads the stored row directly.
func loadSubscription(t *testing.T, db *gorm.DB, id uuid.UUID) repository.SubscriptionModel {
	t.Helper()
	var model repository.SubscriptionModel
	require.NoError(t, db.Where("id = ?", id).First(&model).Error)
	return model
}

// waitForDBStatus polls the subscriptions table until the status matches.
func waitForDBStatus(t *testing.T, db *gorm.DB, id uuid.UUID, expectedStatus string, timeout time.Duration) repository.SubscriptionModel {
	t.Helper()
	var result repository.SubscriptionModel
	require.Eventually(t, func() bool {
		var model repository.SubscriptionModel
		if err := db.Where("id = ?", id).First(&model).Error; err != nil {
			return false
		}
		if model.Status == expectedStatus {
			result = model
			return true
		}
		return false
	}, timeout, 200*time.Millisecond, "subscription did not transition to %s", expectedStatus)
	return result
}

// publishTestEvent publishes a CloudEvent to Kafka.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType string, data any) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := kafka.NewProducer(brokers, logger)
	defer func() { _ = producer.Close() }()

	ce, err := kafka.NewCloudEvent(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")

	err = producer.PublishEvent(context.Background(), topic, ce)
	require.NoError(t, err, "failed to publish event")
}

// consumeEvent reads from a Kafka topic until it finds an event of the expected type for subject.
func consumeEvent(t *testing.T, brokers []string, topic, expectedType, subject string, timeout time.Duration) kafka.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q on topic %q", expectedType, topic)
			}
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if ce.Type == expectedType && ce.Subject == subject {
			return ce
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
