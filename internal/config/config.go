package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/adapter/gateway"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/application"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/config"
)

// LockConfig tunes per-subscription locking.
type LockConfig struct {
	Timeout time.Duration
	TTL     time.Duration
}

// ServiceConfig holds all configuration for the subscription service.
type ServiceConfig struct {
	Port          string
	AppEnv        string
	MigrationsDir string
	DBConfig      config.DatabaseConfig
	JWTConfig     config.JWTConfig
	KafkaConfig   config.KafkaConfig
	RedisConfig   config.RedisConfig
	Gateway       gateway.ResilientConfig
	Sweep         application.SweepConfig
	SweepEnabled  bool
	Dunning       subscription.DunningPolicy
	Lock          LockConfig
	MoneyFormat   money.FormatConfig
}

// Load reads configuration from environment variables and returns a ServiceConfig.
func Load() (*ServiceConfig, error) {
	v, err := config.Load("subscription")
	if err != nil {
		return nil, err
	}
	setDefaults(v)

	cfg := &ServiceConfig{
		Port:          config.GetServicePort(v, "SERVICE_PORT"),
		AppEnv:        config.GetAppEnv(v),
		MigrationsDir: v.GetString("MIGRATIONS_DIR"),
		DBConfig:      config.LoadDatabaseConfig(v, "DB_NAME"),
		JWTConfig:     config.LoadJWTConfig(v),
		KafkaConfig:   config.LoadKafkaConfig(v),
		RedisConfig:   config.LoadRedisConfig(v),
		Gateway:       loadGatewayConfig(v),
		Sweep: application.SweepConfig{
			Interval:    v.GetDuration("RENEWAL_SWEEP_INTERVAL"),
			Concurrency: v.GetInt("RENEWAL_CONCURRENCY"),
			BatchSize:   v.GetInt("RENEWAL_BATCH_SIZE"),
		},
		SweepEnabled: v.GetBool("RENEWAL_SWEEP_ENABLED"),
		Dunning: subscription.DunningPolicy{
			MaxAttempts:             v.GetInt("DUNNING_MAX_ATTEMPTS"),
			RetryInterval:           v.GetDuration("DUNNING_RETRY_INTERVAL"),
			IncompleteExpiry:        v.GetDuration("INCOMPLETE_EXPIRY"),
			IncompleteRetryInterval: v.GetDuration("INCOMPLETE_RETRY_INTERVAL"),
		},
		Lock: LockConfig{
			Timeout: v.GetDuration("LOCK_TIMEOUT"),
			TTL:     v.GetDuration("LOCK_TTL"),
		},
		MoneyFormat: money.FormatConfig{
			DecimalSeparator:  v.GetString("MONEY_DECIMAL_SEPARATOR"),
			ThousandSeparator: v.GetString("MONEY_THOUSAND_SEPARATOR"),
			Position:          money.SymbolPosition(v.GetString("MONEY_SYMBOL_POSITION")),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_PORT", "8086")
	v.SetDefault("DB_NAME", "kilat_subscription")
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	v.SetDefault("GATEWAY_TIMEOUT", 10*time.Second)
	v.SetDefault("GATEWAY_BREAKER_FAILURES", 5)
	v.SetDefault("GATEWAY_BREAKER_OPEN_TIMEOUT", 30*time.Second)
	v.SetDefault("GATEWAY_BREAKER_HALF_OPEN_REQUESTS", 1)

	v.SetDefault("RENEWAL_SWEEP_ENABLED", true)
	v.SetDefault("RENEWAL_SWEEP_INTERVAL", 24*time.Hour)
	v.SetDefault("RENEWAL_CONCURRENCY", 8)
	v.SetDefault("RENEWAL_BATCH_SIZE", 200)

	v.SetDefault("DUNNING_MAX_ATTEMPTS", 4)
	v.SetDefault("DUNNING_RETRY_INTERVAL", 24*time.Hour)
	v.SetDefault("INCOMPLETE_EXPIRY", 23*time.Hour)
	v.SetDefault("INCOMPLETE_RETRY_INTERVAL", time.Hour)

	v.SetDefault("LOCK_TIMEOUT", 30*time.Second)
	v.SetDefault("LOCK_TTL", 60*time.Second)

	v.SetDefault("MONEY_DECIMAL_SEPARATOR", ".")
	v.SetDefault("MONEY_THOUSAND_SEPARATOR", ",")
	v.SetDefault("MONEY_SYMBOL_POSITION", string(money.SymbolLeft))
}

func loadGatewayConfig(v *viper.Viper) gateway.ResilientConfig {
	return gateway.ResilientConfig{
		Timeout:          v.GetDuration("GATEWAY_TIMEOUT"),
		FailureThreshold: uint32(v.GetUint("GATEWAY_BREAKER_FAILURES")),
		OpenTimeout:      v.GetDuration("GATEWAY_BREAKER_OPEN_TIMEOUT"),
		HalfOpenRequests: uint32(v.GetUint("GATEWAY_BREAKER_HALF_OPEN_REQUESTS")),
	}
}

// Validate rejects settings the engine cannot run with.
func (c *ServiceConfig) Validate() error {
	if c.Dunning.MaxAttempts < 1 {
		return fmt.Errorf("DUNNING_MAX_ATTEMPTS must be at least 1")
	}
	if c.Dunning.RetryInterval <= 0 || c.Dunning.IncompleteRetryInterval <= 0 {
		return fmt.Errorf("retry intervals must be positive")
	}
	if c.Sweep.Concurrency < 1 || c.Sweep.BatchSize < 1 {
		return fmt.Errorf("RENEWAL_CONCURRENCY and RENEWAL_BATCH_SIZE must be positive")
	}
	// Creation holds the lock across two gateway calls. A lock that expires mid-charge would let a
	// second node charge again.
	if c.Lock.TTL <= 2*c.Gateway.Timeout {
		return fmt.Errorf("LOCK_TTL (%s) must exceed twice GATEWAY_TIMEOUT (%s)", c.Lock.TTL, c.Gateway.Timeout)
	}
	switch c.MoneyFormat.Position {
	case money.SymbolLeft, money.SymbolRight, money.SymbolLeftSpace, money.SymbolRightSpace:
	default:
		return fmt.Errorf("invalid MONEY_SYMBOL_POSITION %q", c.MoneyFormat.Position)
	}
	return nil
}
