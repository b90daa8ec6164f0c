// Package config загружает настройки сервиса из переменных окружения CHECKOUT_*.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix — префикс переменных окружения.
const Prefix = "CHECKOUT"

// Config описывает настройки запуска сервиса.
//
// Пустой PostgresDSN включает in-memory хранилище, пустой RedisAddr —
// in-process блокировки и локальный кеш, пустой KafkaBrokers — доставку
// outbox внутри процесса.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"false"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisLockDB   int    `envconfig:"REDIS_LOCK_DB" default:"0"`
	RedisCacheDB  int    `envconfig:"REDIS_CACHE_DB" default:"1"`

	KafkaBrokers    []string `envconfig:"KAFKA_BROKERS"`
	KafkaMaxRetries int      `envconfig:"KAFKA_MAX_RETRIES" default:"3"`

	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"600s"`
	Lock     LockConfig

	OutboxPollInterval  time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	SalesRetentionDays  int           `envconfig:"SALES_RETENTION_DAYS" default:"3"`
	SalesCleanupEvery   time.Duration `envconfig:"SALES_CLEANUP_INTERVAL" default:"1h"`
	ShutdownGracePeriod time.Duration `envconfig:"SHUTDOWN_GRACE_PERIOD" default:"5s"`

	// SeedDemo заполняет пустое хранилище демонстрационными данными.
	SeedDemo bool `envconfig:"SEED_DEMO" default:"false"`
}

// LockConfig задаёт TTL и ретраи распределённых блокировок (CHECKOUT_LOCK_*).
type LockConfig struct {
	BalanceTTL    time.Duration `envconfig:"BALANCE_TTL" default:"10s"`
	StockTTL      time.Duration `envconfig:"STOCK_TTL" default:"10s"`
	CouponTTL     time.Duration `envconfig:"COUPON_TTL" default:"10s"`
	CheckoutTTL   time.Duration `envconfig:"CHECKOUT_TTL" default:"15s"`
	RetryAttempts int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `envconfig:"RETRY_DELAY" default:"100ms"`
}

// Load читает конфигурацию из окружения.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет значения, которые envconfig пропускает.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http addr must not be empty")
	}
	if c.SalesRetentionDays <= 0 {
		return fmt.Errorf("sales retention days must be positive, got %d", c.SalesRetentionDays)
	}
	if c.Lock.RetryAttempts <= 0 {
		return fmt.Errorf("lock retry attempts must be positive, got %d", c.Lock.RetryAttempts)
	}
	for name, ttl := range map[string]time.Duration{
		"balance":  c.Lock.BalanceTTL,
		"stock":    c.Lock.StockTTL,
		"coupon":   c.Lock.CouponTTL,
		"checkout": c.Lock.CheckoutTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s lock ttl must be positive", name)
		}
	}
	return nil
}

// Default возвращает конфигурацию со значениями по умолчанию без чтения окружения.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		MetricsAddr:     ":9090",
		LogLevel:        "info",
		RedisCacheDB:    1,
		KafkaMaxRetries: 3,
		CacheTTL:        600 * time.Second,
		Lock: LockConfig{
			BalanceTTL:    10 * time.Second,
			StockTTL:      10 * time.Second,
			CouponTTL:     10 * time.Second,
			CheckoutTTL:   15 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    100 * time.Millisecond,
		},
		OutboxPollInterval:  time.Second,
		SalesRetentionDays:  3,
		SalesCleanupEvery:   time.Hour,
		ShutdownGracePeriod: 5 * time.Second,
	}
}
