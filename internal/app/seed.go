package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	demoUsers   = 10
	demoBalance = 1_000_000
)

var demoUnits = []domain.StockUnit{
	{ProductID: 1, ProductName: "Smartphone", Name: "128GB Black", Price: 800_000, Stock: 50},
	{ProductID: 1, ProductName: "Smartphone", Name: "256GB Silver", Price: 900_000, Stock: 30},
	{ProductID: 2, ProductName: "Earbuds", Name: "White", Price: 150_000, Stock: 100},
	{ProductID: 3, ProductName: "Phone case", Name: "Clear", Price: 10_000, Stock: 500},
}

var demoCoupons = []domain.Coupon{
	{Code: "WELCOME", Name: "1,000 off", DiscountAmount: 1_000, RemainingStock: 100},
	{Code: "SALE5000", Name: "5,000 off", DiscountAmount: 5_000, RemainingStock: 10},
	{Code: "LAST1", Name: "Last coupon", DiscountAmount: 10_000, RemainingStock: 1},
}

// seedDemo заполняет хранилище демонстрационными данными: пользователи
// demo-01..demo-10 с балансом, SKU и купоны. Если у первого пользователя
// уже есть баланс, ничего не делает.
func seedDemo(ctx context.Context, repos *repositories, now time.Time, logger *log.Entry) error {
	if _, err := repos.accounts.GetByUserID(ctx, 1); err == nil {
		logger.Info("demo data already present")
		return nil
	} else if !errors.Is(err, domain.ErrAccountNotFound) {
		return fmt.Errorf("check demo account: %w", err)
	}

	return repos.tx.WithinTx(ctx, func(ctx context.Context) error {
		for i := 1; i <= demoUsers; i++ {
			u, err := repos.users.Create(ctx, fmt.Sprintf("demo-%02d", i))
			if err != nil {
				return fmt.Errorf("seed user %d: %w", i, err)
			}
			if _, err := repos.accounts.Create(ctx, u.ID, demoBalance); err != nil {
				return fmt.Errorf("seed account %d: %w", u.ID, err)
			}
		}
		for _, unit := range demoUnits {
			if _, err := repos.units.Create(ctx, unit); err != nil {
				return fmt.Errorf("seed sku %s: %w", unit.Name, err)
			}
		}
		for _, c := range demoCoupons {
			c.Status = domain.CouponStatusAvailable
			c.ExpiryDate = now.AddDate(0, 3, 0)
			if _, err := repos.coupons.Create(ctx, c); err != nil {
				return fmt.Errorf("seed coupon %s: %w", c.Code, err)
			}
		}
		logger.WithFields(log.Fields{
			"users":   demoUsers,
			"skus":    len(demoUnits),
			"coupons": len(demoCoupons),
		}).Info("demo data seeded")
		return nil
	})
}
