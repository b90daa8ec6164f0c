package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/config"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

const (
	storageMemory   = "memory"
	storagePostgres = "postgres"
)

// repositories — хранилище строк, выбранное по конфигурации.
type repositories struct {
	driver   string
	tx       domain.TxManager
	users    domain.UserRepository
	accounts domain.AccountRepository
	units    domain.StockRepository
	coupons  domain.CouponRepository
	issued   domain.UserCouponRepository
	orders   domain.OrderRepository
	history  domain.OrderHistoryRepository
	sales    domain.SalesRepository
	outbox   domain.OutboxRepository
	pinger   healthcheck.Pinger
	close    func() error
}

// initStorage открывает PostgreSQL при заданном DSN, иначе in-memory хранилище.
func initStorage(ctx context.Context, cfg config.Config, logger *log.Entry) (*repositories, error) {
	if cfg.PostgresDSN == "" {
		store := memory.NewStore()
		logger.WithField("driver", storageMemory).Info("storage initialized")
		return &repositories{
			driver:   storageMemory,
			tx:       store,
			users:    memory.NewUserRepository(store),
			accounts: memory.NewAccountRepository(store),
			units:    memory.NewStockRepository(store),
			coupons:  memory.NewCouponRepository(store),
			issued:   memory.NewUserCouponRepository(store),
			orders:   memory.NewOrderRepository(store),
			history:  memory.NewOrderHistoryRepository(store),
			sales:    memory.NewSalesRepository(store),
			outbox:   memory.NewOutboxRepository(store),
			pinger:   store,
			close:    func() error { return nil },
		}, nil
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	logger.WithField("driver", storagePostgres).Info("storage initialized")
	return &repositories{
		driver:   storagePostgres,
		tx:       store,
		users:    postgres.NewUserRepository(store),
		accounts: postgres.NewAccountRepository(store),
		units:    postgres.NewStockRepository(store),
		coupons:  postgres.NewCouponRepository(store),
		issued:   postgres.NewUserCouponRepository(store),
		orders:   postgres.NewOrderRepository(store),
		history:  postgres.NewOrderHistoryRepository(store),
		sales:    postgres.NewSalesRepository(store),
		outbox:   postgres.NewOutboxRepository(store),
		pinger:   store,
		close:    store.Close,
	}, nil
}
