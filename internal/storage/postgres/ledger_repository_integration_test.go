package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestAccountRepository_PostgresConditionalUpdate(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewAccountRepository(store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	account, err := repo.Create(ctx, 42, 1000)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := repo.Create(ctx, 42, 0); err == nil {
		t.Fatal("expected duplicate account error")
	}

	ok, err := repo.UpdateAmount(ctx, account.ID, 1500, account.Version)
	if err != nil || !ok {
		t.Fatalf("first update must apply: ok=%v err=%v", ok, err)
	}
	ok, err = repo.UpdateAmount(ctx, account.ID, 2000, account.Version)
	if err != nil || ok {
		t.Fatalf("stale version must not apply: ok=%v err=%v", ok, err)
	}

	got, err := repo.GetByUserID(ctx, 42)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Amount != 1500 || got.Version != account.Version+1 {
		t.Fatalf("unexpected account state: %+v", got)
	}

	if _, err := repo.GetByUserID(ctx, 404); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestUserRepository_PostgresUniqueName(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewUserRepository(store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := repo.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := repo.Create(ctx, "alice"); !errors.Is(err, domain.ErrUserAlreadyExists) {
		t.Fatalf("expected ErrUserAlreadyExists, got %v", err)
	}

	byName, err := repo.GetByName(ctx, "alice")
	if err != nil || byName.ID != user.ID {
		t.Fatalf("get by name: %+v %v", byName, err)
	}
	if _, err := repo.Get(ctx, user.ID+100); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestStockRepository_PostgresListByProduct(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewStockRepository(store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, unit := range []domain.StockUnit{
		{ProductID: 1, ProductName: "T-shirt", Name: "M", Price: 1000, Stock: 1},
		{ProductID: 2, ProductName: "Mug", Name: "White", Price: 500, Stock: 1},
		{ProductID: 1, ProductName: "T-shirt", Name: "L", Price: 1100, Stock: 1},
	} {
		if _, err := repo.Create(ctx, unit); err != nil {
			t.Fatalf("create stock unit: %v", err)
		}
	}

	units, err := repo.ListByProduct(ctx, 1)
	if err != nil {
		t.Fatalf("list by product: %v", err)
	}
	if len(units) != 2 || units[0].Name != "M" || units[1].Name != "L" {
		t.Fatalf("unexpected product units: %+v", units)
	}
}

func TestStockRepository_PostgresConcurrentDecrement(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewStockRepository(store)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	unit, err := repo.Create(ctx, domain.StockUnit{ProductID: 1, ProductName: "T-shirt", Name: "M", Price: 1000, Stock: 10})
	if err != nil {
		t.Fatalf("create stock unit: %v", err)
	}
	if _, err := repo.Create(ctx, domain.StockUnit{ID: 100, ProductID: 1, ProductName: "T-shirt", Name: "L", Price: 1000, Stock: 1}); err != nil {
		t.Fatalf("create stock unit with explicit id: %v", err)
	}
	next, err := repo.Create(ctx, domain.StockUnit{ProductID: 1, ProductName: "T-shirt", Name: "XL", Price: 1000, Stock: 1})
	if err != nil {
		t.Fatalf("create stock unit after explicit id: %v", err)
	}
	if next.ID <= 100 {
		t.Fatalf("sequence must continue after explicit id, got %d", next.ID)
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinTx(ctx, func(ctx context.Context) error {
				if _, err := repo.GetForUpdate(ctx, unit.ID); err != nil {
					return err
				}
				ok, err := repo.Decrement(ctx, unit.ID, 1)
				if err != nil {
					return err
				}
				if ok {
					successes.Add(1)
				}
				return nil
			})
			if err != nil {
				t.Errorf("decrement tx: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 10 {
		t.Fatalf("expected exactly 10 successful decrements, got %d", successes.Load())
	}
	got, err := repo.Get(ctx, unit.ID)
	if err != nil {
		t.Fatalf("get stock unit: %v", err)
	}
	if got.Stock != 0 || got.ProductName != "T-shirt" {
		t.Fatalf("unexpected stock unit: %+v", got)
	}

	units, err := repo.GetByIDs(ctx, []int64{next.ID, unit.ID, 999})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(units) != 2 || units[0].ID != unit.ID {
		t.Fatalf("unexpected units: %+v", units)
	}

	page, err := repo.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("list stock units: %v", err)
	}
	if len(page) != 1 || page[0].ID != 100 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestCouponRepositories_PostgresIssueAndRedeem(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	coupons := NewCouponRepository(store)
	userCoupons := NewUserCouponRepository(store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	coupon, err := coupons.Create(ctx, domain.Coupon{
		Code:           " welcome ",
		Name:           "Welcome",
		DiscountAmount: 1000,
		RemainingStock: 1,
		ExpiryDate:     now.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create coupon: %v", err)
	}
	if coupon.Code != "WELCOME" || coupon.Status != domain.CouponStatusAvailable {
		t.Fatalf("unexpected coupon: %+v", coupon)
	}
	if _, err := coupons.Create(ctx, domain.Coupon{Code: "expired", Name: "Old", DiscountAmount: 100, ExpiryDate: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("create expired coupon: %v", err)
	}

	available, err := coupons.ListAvailable(ctx, now, 0, 0)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(available) != 1 || available[0].ID != coupon.ID {
		t.Fatalf("expected only the active coupon, got %+v", available)
	}

	ok, err := coupons.DecrementRemaining(ctx, coupon.ID)
	if err != nil || !ok {
		t.Fatalf("decrement remaining: ok=%v err=%v", ok, err)
	}
	ok, err = coupons.DecrementRemaining(ctx, coupon.ID)
	if err != nil || ok {
		t.Fatalf("decrement below zero must not apply: ok=%v err=%v", ok, err)
	}

	uc, err := userCoupons.Create(ctx, domain.UserCoupon{UserID: 7, CouponID: coupon.ID})
	if err != nil {
		t.Fatalf("issue coupon: %v", err)
	}
	if _, err := userCoupons.Create(ctx, domain.UserCoupon{UserID: 7, CouponID: coupon.ID}); !errors.Is(err, domain.ErrDuplicateIssuance) {
		t.Fatalf("expected ErrDuplicateIssuance, got %v", err)
	}
	exists, err := userCoupons.Exists(ctx, 7, coupon.ID)
	if err != nil || !exists {
		t.Fatalf("expected issued coupon to exist: %v %v", exists, err)
	}

	err = store.WithinTx(ctx, func(ctx context.Context) error {
		issued, err := userCoupons.FindAvailableByCode(ctx, 7, "welcome", true)
		if err != nil {
			return err
		}
		if issued.UserCoupon.ID != uc.ID || issued.Coupon.DiscountAmount != 1000 {
			t.Fatalf("unexpected issued coupon: %+v", issued)
		}
		return userCoupons.MarkUsed(ctx, uc.ID, now)
	})
	if err != nil {
		t.Fatalf("redeem coupon: %v", err)
	}

	if _, err := userCoupons.FindAvailableByCode(ctx, 7, "WELCOME", false); !errors.Is(err, domain.ErrCouponUnusable) {
		t.Fatalf("used coupon must be unusable, got %v", err)
	}
	if err := userCoupons.MarkUsed(ctx, uc.ID, now); !errors.Is(err, domain.ErrCouponUnusable) {
		t.Fatalf("second redeem must fail, got %v", err)
	}

	list, err := userCoupons.ListByUser(ctx, 7)
	if err != nil {
		t.Fatalf("list user coupons: %v", err)
	}
	if len(list) != 1 || list[0].UserCoupon.Status != domain.UserCouponStatusUsed || list[0].UserCoupon.UsedAt == nil {
		t.Fatalf("unexpected user coupons: %+v", list)
	}
}
