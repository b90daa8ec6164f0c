package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/config"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/sales"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.OutboxPollInterval = 10 * time.Millisecond
	cfg.ShutdownGracePeriod = time.Second
	return cfg
}

func TestInitStorage_Memory(t *testing.T) {
	repos, err := initStorage(context.Background(), testConfig(), testLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, repos.close()) }()

	assert.Equal(t, storageMemory, repos.driver)
	require.NoError(t, repos.pinger.Ping(context.Background()))

	_, err = repos.accounts.GetByUserID(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestInitCoordination(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		coord, err := initCoordination(context.Background(), testConfig(), testLogger())
		require.NoError(t, err)
		defer coord.close()

		assert.Empty(t, coord.checkers)
		require.NotNil(t, coord.locker)
		require.NotNil(t, coord.cache)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig()
		cfg.RedisAddr = mr.Addr()

		coord, err := initCoordination(context.Background(), cfg, testLogger())
		require.NoError(t, err)
		defer coord.close()

		require.Len(t, coord.checkers, 2)
		for name, checker := range coord.checkers {
			assert.Equal(t, healthcheck.StatusHealthy, checker.Check(context.Background()).Status, name)
		}
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := testConfig()
		cfg.RedisAddr = addr
		_, err := initCoordination(context.Background(), cfg, testLogger())
		require.Error(t, err)
	})
}

func newTestDependencies(t *testing.T) (*repositories, *Dependencies) {
	t.Helper()

	cfg := testConfig()
	repos, err := initStorage(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	coord, err := initCoordination(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(coord.close)

	return repos, NewDependencies(cfg, repos, coord, metrics.NewCheckoutMetrics(), testLogger())
}

func TestInitMessaging_WithoutBrokers(t *testing.T) {
	_, deps := newTestDependencies(t)

	msg, err := initMessaging(testConfig(), deps.Sales, testLogger())
	require.NoError(t, err)

	assert.IsType(t, &sales.Sink{}, msg.publisher)
	assert.Nil(t, msg.dlqPublisher)
	assert.Nil(t, msg.producer)
	assert.Nil(t, msg.consumer)
}

func TestSeedDemo(t *testing.T) {
	repos, deps := newTestDependencies(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, seedDemo(ctx, repos, now, testLogger()))
	require.NoError(t, seedDemo(ctx, repos, now, testLogger()), "second run must be a no-op")

	account, err := deps.Balance.Get(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, demoBalance, account.Amount)

	units, err := deps.Stock.List(ctx, domain.NewPage(1, 10))
	require.NoError(t, err)
	assert.Len(t, units, len(demoUnits))

	coupons, err := deps.Coupons.ListAvailable(ctx, domain.NewPage(1, 10))
	require.NoError(t, err)
	assert.Len(t, coupons, len(demoCoupons))

	demo, err := deps.Users.Profile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "demo-01", demo.Name)
}

func TestDependencies_RegisteredUserCanRecharge(t *testing.T) {
	_, deps := newTestDependencies(t)
	router := newRouter(deps)

	serve := func(method, path, userID, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if userID != "" {
			req.Header.Set("X-User-ID", userID)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(http.MethodPost, "/auth/register", "", `{"name":"newcomer"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(http.MethodPost, "/auth/login", "", `{"name":"newcomer"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	userID := rec.Header().Get("X-User-ID")
	require.NotEmpty(t, userID)

	rec = serve(http.MethodPost, "/balances/recharge", userID, `{"amount":5000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "5000")
}

func TestDependencies_HandlersServeSeededData(t *testing.T) {
	repos, deps := newTestDependencies(t)
	require.NoError(t, seedDemo(context.Background(), repos, time.Now(), testLogger()))

	router := newRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/balances", nil)
	req.Header.Set("X-User-ID", "1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "1000000")
}

func TestOpsMux(t *testing.T) {
	healthHandler := healthcheck.NewHandler("test")
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func(context.Context) error {
		return errors.New("down")
	}))
	mux := newOpsMux(healthHandler)

	cases := []struct {
		path string
		want int
	}{
		{"/metrics", http.StatusOK},
		{"/livez", http.StatusOK},
		{"/healthz", http.StatusServiceUnavailable},
		{"/readyz", http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.SeedDemo = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
