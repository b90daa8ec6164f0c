package app

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/config"
	"github.com/vladislavdragonenkov/checkout/internal/lock"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/balance"
	"github.com/vladislavdragonenkov/checkout/internal/service/coupon"
	"github.com/vladislavdragonenkov/checkout/internal/service/order"
	"github.com/vladislavdragonenkov/checkout/internal/service/sales"
	"github.com/vladislavdragonenkov/checkout/internal/service/stock"
	"github.com/vladislavdragonenkov/checkout/internal/service/user"
	"github.com/vladislavdragonenkov/checkout/internal/transport/httpapi"
)

// Dependencies содержит сервисы приложения, собранные поверх выбранных backend'ов.
type Dependencies struct {
	Users     *user.Service
	Balance   *balance.Service
	Stock     *stock.Service
	Coupons   *coupon.Service
	Orders    *order.Service
	Sales     *sales.Aggregator
	Retention *sales.RetentionWorker
	Logger    *log.Entry
}

// lockOptions собирает параметры блокировки из конфигурации.
func lockOptions(cfg config.LockConfig, ttl time.Duration) lock.Options {
	return lock.Options{TTL: ttl, RetryAttempts: cfg.RetryAttempts, RetryDelay: cfg.RetryDelay}
}

// NewDependencies создаёт сервисы. Все они делят один lock.Client и кеш.
func NewDependencies(cfg config.Config, repos *repositories, coord *coordination, m *metrics.CheckoutMetrics, logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	locks := lock.NewClient(coord.locker, logger.WithField("component", "lock"))

	userSvc := user.NewService(repos.tx, repos.users, repos.accounts,
		user.WithLogger(logger.WithField("component", "user")),
	)
	balanceSvc := balance.NewService(repos.tx, repos.accounts, locks, coord.cache,
		balance.WithLockOptions(lockOptions(cfg.Lock, cfg.Lock.BalanceTTL)),
		balance.WithCacheTTL(cfg.CacheTTL),
		balance.WithMetrics(m),
		balance.WithLogger(logger.WithField("component", "balance")),
	)
	stockSvc := stock.NewService(repos.tx, repos.units, locks, coord.cache,
		stock.WithLockOptions(lockOptions(cfg.Lock, cfg.Lock.StockTTL)),
		stock.WithCacheTTL(cfg.CacheTTL),
		stock.WithMetrics(m),
		stock.WithLogger(logger.WithField("component", "stock")),
	)
	couponSvc := coupon.NewService(repos.tx, repos.coupons, repos.issued, locks, coord.cache,
		coupon.WithLockOptions(lockOptions(cfg.Lock, cfg.Lock.CouponTTL)),
		coupon.WithCacheTTL(cfg.CacheTTL),
		coupon.WithMetrics(m),
		coupon.WithLogger(logger.WithField("component", "coupon")),
	)
	orderSvc := order.NewService(
		order.Deps{Tx: repos.tx, Orders: repos.orders, History: repos.history, Outbox: repos.outbox},
		stockSvc, couponSvc, balanceSvc, locks,
		order.WithLockOptions(lockOptions(cfg.Lock, cfg.Lock.CheckoutTTL)),
		order.WithMetrics(m),
		order.WithLogger(logger.WithField("component", "order")),
	)
	aggregator := sales.NewAggregator(repos.tx, repos.sales, coord.cache,
		sales.WithRetentionDays(cfg.SalesRetentionDays),
		sales.WithCacheTTL(cfg.CacheTTL),
		sales.WithMetrics(m),
		sales.WithLogger(logger.WithField("component", "sales")),
	)
	retention := sales.NewRetentionWorker(repos.sales,
		sales.WithRetentionLogger(logger.WithField("component", "sales-retention")),
		sales.WithRetentionInterval(cfg.SalesCleanupEvery),
		sales.WithRetentionWindow(cfg.SalesRetentionDays),
		sales.WithRetentionCache(coord.cache),
	)

	return &Dependencies{
		Users:     userSvc,
		Balance:   balanceSvc,
		Stock:     stockSvc,
		Coupons:   couponSvc,
		Orders:    orderSvc,
		Sales:     aggregator,
		Retention: retention,
		Logger:    logger,
	}
}

// Handlers отдаёт зависимости HTTP-слоя.
func (d *Dependencies) Handlers() *httpapi.Handlers {
	return &httpapi.Handlers{
		Users:           d.Users,
		Balance:         d.Balance,
		Coupons:         d.Coupons,
		Catalog:         d.Stock,
		Sales:           d.Sales,
		Orders:          d.Orders,
		TopSellingDays:  sales.DefaultWindowDays,
		TopSellingLimit: sales.DefaultTopLimit,
	}
}
