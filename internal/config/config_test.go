package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, Default(), cfg)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CHECKOUT_HTTP_ADDR", ":18080")
	t.Setenv("CHECKOUT_POSTGRES_DSN", "postgres://u:p@localhost:5432/checkout?sslmode=disable")
	t.Setenv("CHECKOUT_REDIS_ADDR", "localhost:6379")
	t.Setenv("CHECKOUT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CHECKOUT_LOCK_CHECKOUT_TTL", "20s")
	t.Setenv("CHECKOUT_CACHE_TTL", "1m")
	t.Setenv("CHECKOUT_AUTO_MIGRATE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":18080", cfg.HTTPAddr)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 20*time.Second, cfg.Lock.CheckoutTTL)
	require.Equal(t, time.Minute, cfg.CacheTTL)
	require.True(t, cfg.AutoMigrate)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"CHECKOUT_SALES_RETENTION_DAYS": "0",
		"CHECKOUT_LOCK_RETRY_ATTEMPTS":  "0",
		"CHECKOUT_LOCK_STOCK_TTL":       "0s",
		"CHECKOUT_CACHE_TTL":            "not-a-duration",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
