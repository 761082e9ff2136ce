package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	StorageMongo    = "mongo"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`

	// Storage: mongo, postgres or sqlite.
	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DatabaseName  string `mapstructure:"DATABASE_NAME"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB  int    `mapstructure:"REDIS_CACHE_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// Stripe.
	StripeSecretKey     string        `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	CheckoutSuccessURL  string        `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL   string        `mapstructure:"CHECKOUT_CANCEL_URL"`
	CheckoutCacheTTL    time.Duration `mapstructure:"CHECKOUT_CACHE_TTL"`

	// Money.
	Currency            string `mapstructure:"CURRENCY"`
	DepositRate         string `mapstructure:"DEPOSIT_RATE"`
	PlatformFeeRate     string `mapstructure:"PLATFORM_FEE_RATE"`
	ProcessorMaxRetries int    `mapstructure:"PROCESSOR_MAX_RETRIES"`

	// Kafka; events are dropped when no brokers are set.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`
}

// LoadConfig reads config.yaml (from . or ./config) when present, then the
// environment, over the defaults below.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MAX_REQUESTS_PER_MIN", 100)
	v.SetDefault("STORAGE_DRIVER", StorageMongo)
	v.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	v.SetDefault("DATABASE_NAME", "lensbook")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_CACHE_DB", 0)
	v.SetDefault("REDIS_QUEUE_DB", 1)
	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success")
	v.SetDefault("CHECKOUT_CANCEL_URL", "http://localhost:3000/checkout/cancel")
	v.SetDefault("CHECKOUT_CACHE_TTL", "30m")
	v.SetDefault("CURRENCY", "usd")
	v.SetDefault("DEPOSIT_RATE", "0.30")
	v.SetDefault("PLATFORM_FEE_RATE", "0.15")
	v.SetDefault("PROCESSOR_MAX_RETRIES", 3)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "reservations")
}

// Validate rejects unknown storage drivers and rates outside [0,1].
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageMongo, StoragePostgres, StorageSQLite:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if _, _, err := c.Rates(); err != nil {
		return err
	}
	if c.ProcessorMaxRetries < 0 {
		return fmt.Errorf("PROCESSOR_MAX_RETRIES must not be negative")
	}
	if c.MaxRequestsPerMin <= 0 {
		return fmt.Errorf("MAX_REQUESTS_PER_MIN must be positive")
	}
	return nil
}

// Rates parses DEPOSIT_RATE and PLATFORM_FEE_RATE.
func (c *Config) Rates() (deposit, platformFee decimal.Decimal, err error) {
	deposit, err = parseRate("DEPOSIT_RATE", c.DepositRate)
	if err != nil {
		return
	}
	platformFee, err = parseRate("PLATFORM_FEE_RATE", c.PlatformFeeRate)
	return
}

func parseRate(key, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%s %s outside [0,1]", key, d)
	}
	return d, nil
}

// Brokers splits KAFKA_BROKERS on commas.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
