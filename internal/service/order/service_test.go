package order

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/lock"
	"github.com/vladislavdragonenkov/checkout/internal/service/balance"
	"github.com/vladislavdragonenkov/checkout/internal/service/coupon"
	"github.com/vladislavdragonenkov/checkout/internal/service/stock"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

const buyer int64 = 1

type PaySuite struct {
	suite.Suite

	ctx      context.Context
	locker   *lock.Memory
	accounts domain.AccountRepository
	units    domain.StockRepository
	coupons  domain.CouponRepository
	issued   domain.UserCouponRepository
	orders   domain.OrderRepository
	history  domain.OrderHistoryRepository
	outbox   domain.OutboxRepository

	couponLedger *coupon.Service
	svc          *Service
}

func TestPaySuite(t *testing.T) {
	suite.Run(t, new(PaySuite))
}

func (s *PaySuite) SetupTest() {
	s.ctx = context.Background()
	store := memory.NewStore()
	s.locker = lock.NewMemory()
	locks := lock.NewClient(s.locker, nil)
	patient := lock.Options{TTL: 10 * time.Second, RetryAttempts: 50, RetryDelay: time.Millisecond}

	s.accounts = memory.NewAccountRepository(store)
	s.units = memory.NewStockRepository(store)
	s.coupons = memory.NewCouponRepository(store)
	s.issued = memory.NewUserCouponRepository(store)
	s.orders = memory.NewOrderRepository(store)
	s.history = memory.NewOrderHistoryRepository(store)
	s.outbox = memory.NewOutboxRepository(store)

	balanceLedger := balance.NewService(store, s.accounts, locks, nil, balance.WithLockOptions(patient))
	stockLedger := stock.NewService(store, s.units, locks, nil, stock.WithLockOptions(patient))
	s.couponLedger = coupon.NewService(store, s.coupons, s.issued, locks, nil, coupon.WithLockOptions(patient))

	s.svc = NewService(
		Deps{Tx: store, Orders: s.orders, History: s.history, Outbox: s.outbox},
		stockLedger, s.couponLedger, balanceLedger, locks,
		WithLockOptions(lock.Options{TTL: 15 * time.Second, RetryAttempts: 2, RetryDelay: time.Millisecond}),
	)

	_, err := s.accounts.Create(s.ctx, buyer, 3_000_000)
	s.Require().NoError(err)
	for _, unit := range []domain.StockUnit{
		{ID: 1, ProductID: 10, ProductName: "Phone", Name: "128GB", Price: 800_000, Stock: 5},
		{ID: 2, ProductID: 10, ProductName: "Phone", Name: "256GB", Price: 900_000, Stock: 5},
		{ID: 3, ProductID: 20, ProductName: "Case", Name: "Black", Price: 10_000, Stock: 100},
	} {
		_, err := s.units.Create(s.ctx, unit)
		s.Require().NoError(err)
	}
}

func (s *PaySuite) issueCoupon(code string, discount int64) {
	c, err := s.coupons.Create(s.ctx, domain.Coupon{
		Code:           code,
		DiscountAmount: discount,
		RemainingStock: 10,
		ExpiryDate:     time.Now().Add(24 * time.Hour),
	})
	s.Require().NoError(err)
	_, err = s.couponLedger.Issue(s.ctx, c.ID, buyer)
	s.Require().NoError(err)
}

func (s *PaySuite) balanceOf() int64 {
	account, err := s.accounts.GetByUserID(s.ctx, buyer)
	s.Require().NoError(err)
	return account.Amount
}

func (s *PaySuite) stockOf(id int64) int64 {
	unit, err := s.units.Get(s.ctx, id)
	s.Require().NoError(err)
	return unit.Stock
}

func (s *PaySuite) pendingOutbox() []domain.OutboxMessage {
	msgs, err := s.outbox.PullPending(s.ctx, 0)
	s.Require().NoError(err)
	return msgs
}

// assertUntouched проверяет, что отказ не изменил ни один ledger.
func (s *PaySuite) assertUntouched() {
	s.Equal(int64(3_000_000), s.balanceOf())
	s.Equal(int64(5), s.stockOf(1))
	s.Equal(int64(5), s.stockOf(2))

	orders, err := s.orders.ListByUser(s.ctx, buyer, 0)
	s.Require().NoError(err)
	s.Empty(orders)
	s.Empty(s.pendingOutbox())
}

func (s *PaySuite) TestPayWithCoupon() {
	s.issueCoupon("WELCOME5", 5000)

	order, err := s.svc.Pay(s.ctx, buyer, PayRequest{
		Items:      []domain.StockRequest{{SKUID: 1, Quantity: 1}, {SKUID: 2, Quantity: 2}},
		UsedAmount: 2_595_000,
		CouponCode: "welcome5",
	})
	s.Require().NoError(err)

	s.NotEmpty(order.ID)
	s.Equal(domain.OrderStatusConfirmed, order.Status)
	s.Equal(int64(2_600_000), order.TotalPrice)
	s.Equal(int64(5000), order.DiscountAmount)
	s.Equal(int64(2_595_000), order.FinalAmount)
	s.Len(order.Lines, 2)
	s.Require().NotNil(order.Coupon)
	s.Equal("WELCOME5", order.Coupon.Code)

	s.Equal(int64(405_000), s.balanceOf())
	s.Equal(int64(4), s.stockOf(1))
	s.Equal(int64(3), s.stockOf(2))

	issued, err := s.issued.ListByUser(s.ctx, buyer)
	s.Require().NoError(err)
	s.Require().Len(issued, 1)
	s.Equal(domain.UserCouponStatusUsed, issued[0].UserCoupon.Status)

	stored, err := s.svc.GetForUser(s.ctx, buyer, order.ID)
	s.Require().NoError(err)
	s.Equal(order.FinalAmount, stored.FinalAmount)

	history, err := s.svc.History(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(domain.OrderStatusConfirmed, history[0].To)

	msgs := s.pendingOutbox()
	s.Require().Len(msgs, 1)
	s.Equal(domain.EventTypeOrderCreated, msgs[0].EventType)
	s.Equal(order.ID, msgs[0].AggregateID)

	var event domain.OrderCreatedEvent
	s.Require().NoError(json.Unmarshal(msgs[0].Payload, &event))
	s.Equal(order.ID, event.OrderID)
	s.Equal([]int64{10}, event.ProductIDs)
}

func (s *PaySuite) TestAmountMismatchRejectedBeforeLock() {
	// Чужая блокировка: если бы проверка шла под ней, вернулся бы busy.
	ok, err := s.locker.Acquire(s.ctx, lock.CheckoutKey(buyer), "other-checkout", time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	_, err = s.svc.Pay(s.ctx, buyer, PayRequest{
		Items:      []domain.StockRequest{{SKUID: 1, Quantity: 1}},
		UsedAmount: 1_000_000,
	})
	s.ErrorIs(err, domain.ErrOrderAmountMismatch)
	s.assertUntouched()
}

func (s *PaySuite) TestRejections() {
	s.issueCoupon("HUGE", 5_000_000)

	cases := []struct {
		name string
		req  PayRequest
		want error
	}{
		{
			name: "no items",
			req:  PayRequest{UsedAmount: 100},
			want: domain.ErrItemsRequired,
		},
		{
			name: "unknown sku",
			req:  PayRequest{Items: []domain.StockRequest{{SKUID: 99, Quantity: 1}}, UsedAmount: 100},
			want: domain.ErrStockUnitNotFound,
		},
		{
			name: "insufficient stock across duplicated items",
			req:  PayRequest{Items: []domain.StockRequest{{SKUID: 1, Quantity: 3}, {SKUID: 1, Quantity: 3}}, UsedAmount: 4_800_000},
			want: domain.ErrInsufficientStock,
		},
		{
			name: "discount exceeds total",
			req:  PayRequest{Items: []domain.StockRequest{{SKUID: 1, Quantity: 1}}, UsedAmount: 0, CouponCode: "HUGE"},
			want: domain.ErrInvalidDiscount,
		},
		{
			name: "coupon not issued",
			req:  PayRequest{Items: []domain.StockRequest{{SKUID: 1, Quantity: 1}}, UsedAmount: 795_000, CouponCode: "NOPE"},
			want: domain.ErrCouponUnusable,
		},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.svc.Pay(s.ctx, buyer, tc.req)
			s.ErrorIs(err, tc.want)
			s.True(domain.IsRejection(err))
			s.assertUntouched()
		})
	}
}

func (s *PaySuite) TestInsufficientFundsRollsBackEverything() {
	s.issueCoupon("WELCOME5", 5000)

	// 5 × 800000 - 5000 = 3995000 > 3000000
	_, err := s.svc.Pay(s.ctx, buyer, PayRequest{
		Items:      []domain.StockRequest{{SKUID: 1, Quantity: 5}},
		UsedAmount: 3_995_000,
		CouponCode: "WELCOME5",
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientFunds)

	s.assertUntouched()
	issued, err := s.issued.ListByUser(s.ctx, buyer)
	s.Require().NoError(err)
	s.Equal(domain.UserCouponStatusAvailable, issued[0].UserCoupon.Status, "coupon redemption must be rolled back")

	locked, err := s.locker.IsLocked(s.ctx, lock.CheckoutKey(buyer))
	s.Require().NoError(err)
	s.False(locked)
}

// redeemObserver вызывает after сразу после погашения купона, пока транзакция checkout ещё открыта.
type redeemObserver struct {
	*coupon.Service
	after func()
}

func (o redeemObserver) Redeem(ctx context.Context, userID int64, code string) (domain.CouponQuote, error) {
	quote, err := o.Service.Redeem(ctx, userID, code)
	o.after()
	return quote, err
}

func (s *PaySuite) TestRolledBackCheckoutLeavesNoStaleCache() {
	local, err := cache.NewLocal(nil)
	s.Require().NoError(err)
	defer local.Close()

	locks := lock.NewClient(s.locker, nil)
	patient := lock.Options{TTL: 10 * time.Second, RetryAttempts: 50, RetryDelay: time.Millisecond}
	stockLedger := stock.NewService(s.svc.tx, s.units, locks, local, stock.WithLockOptions(patient))
	couponLedger := coupon.NewService(s.svc.tx, s.coupons, s.issued, locks, local, coupon.WithLockOptions(patient))
	balanceLedger := balance.NewService(s.svc.tx, s.accounts, locks, local, balance.WithLockOptions(patient))
	s.issueCoupon("WELCOME5", 5000)

	page := domain.NewPage(1, 10)
	cachedStock := func() int64 {
		units, err := stockLedger.List(context.Background(), page)
		s.Require().NoError(err)
		for _, unit := range units {
			if unit.ID == 1 {
				return unit.Stock
			}
		}
		s.FailNow("sku 1 missing from catalog")
		return 0
	}
	cachedCouponStatus := func() domain.UserCouponStatus {
		issued, err := couponLedger.ListForUser(context.Background(), buyer)
		s.Require().NoError(err)
		s.Require().Len(issued, 1)
		return issued[0].UserCoupon.Status
	}
	s.Require().Equal(int64(5), cachedStock())
	s.Require().Equal(domain.UserCouponStatusAvailable, cachedCouponStatus())

	var (
		stockDuringPay  int64
		couponDuringPay domain.UserCouponStatus
	)
	svc := NewService(
		Deps{Tx: s.svc.tx, Orders: s.orders, History: s.history, Outbox: s.outbox},
		stockLedger,
		redeemObserver{Service: couponLedger, after: func() {
			stockDuringPay = cachedStock()
			couponDuringPay = cachedCouponStatus()
		}},
		balanceLedger, locks,
		WithLockOptions(lock.Options{TTL: 15 * time.Second, RetryAttempts: 2, RetryDelay: time.Millisecond}),
	)

	// 5 × 800000 - 5000 = 3995000 > 3000000: списание баланса откатит всё.
	_, err = svc.Pay(s.ctx, buyer, PayRequest{
		Items:      []domain.StockRequest{{SKUID: 1, Quantity: 5}},
		UsedAmount: 3_995_000,
		CouponCode: "WELCOME5",
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientFunds)

	s.Equal(int64(0), stockDuringPay, "concurrent reader caches the in-flight deduction")
	s.Equal(domain.UserCouponStatusUsed, couponDuringPay, "concurrent reader caches the in-flight redemption")

	s.assertUntouched()
	s.Equal(int64(5), cachedStock())
	s.Equal(domain.UserCouponStatusAvailable, cachedCouponStatus())
}

func (s *PaySuite) TestBusyCheckoutLock() {
	ok, err := s.locker.Acquire(s.ctx, lock.CheckoutKey(buyer), "other-checkout", time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	_, err = s.svc.Pay(s.ctx, buyer, PayRequest{
		Items:      []domain.StockRequest{{SKUID: 3, Quantity: 1}},
		UsedAmount: 10_000,
	})
	s.ErrorIs(err, domain.ErrOperationInProgress)
	s.Equal(int64(100), s.stockOf(3))
}

func (s *PaySuite) TestConcurrentPaysKeepLedgersConsistent() {
	const attempts = 20
	var (
		wg   sync.WaitGroup
		paid atomic.Int64
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Pay(s.ctx, buyer, PayRequest{
				Items:      []domain.StockRequest{{SKUID: 3, Quantity: 1}},
				UsedAmount: 10_000,
			})
			switch {
			case err == nil:
				paid.Add(1)
			case domain.IsBusy(err):
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}()
	}
	wg.Wait()

	n := paid.Load()
	s.GreaterOrEqual(n, int64(1))
	s.Equal(100-n, s.stockOf(3))
	s.Equal(3_000_000-n*10_000, s.balanceOf())

	orders, err := s.svc.ListForUser(s.ctx, buyer, 0)
	s.Require().NoError(err)
	s.Len(orders, int(n))
	s.Len(s.pendingOutbox(), int(n))
}

func (s *PaySuite) TestChangeStatus() {
	order, err := s.svc.Pay(s.ctx, buyer, PayRequest{
		Items:      []domain.StockRequest{{SKUID: 3, Quantity: 2}},
		UsedAmount: 20_000,
	})
	s.Require().NoError(err)

	updated, err := s.svc.ChangeStatus(s.ctx, order.ID, domain.OrderStatusProcessing, "picked")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusProcessing, updated.Status)
	s.Equal(order.Version+1, updated.Version)

	_, err = s.svc.ChangeStatus(s.ctx, order.ID, domain.OrderStatusConfirmed, "back")
	s.ErrorIs(err, domain.ErrInvalidStatusTransition)

	_, err = s.svc.ChangeStatus(s.ctx, order.ID, domain.OrderStatus("PAID"), "")
	s.ErrorIs(err, domain.ErrInvalidStatus)

	_, err = s.svc.ChangeStatus(s.ctx, "missing", domain.OrderStatusCancelled, "")
	s.ErrorIs(err, domain.ErrOrderNotFound)

	_, err = s.svc.ChangeStatus(s.ctx, order.ID, domain.OrderStatusCompleted, "delivered")
	s.Require().NoError(err)

	history, err := s.svc.History(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	var path []string
	for _, entry := range history {
		path = append(path, fmt.Sprintf("%s>%s", entry.From, entry.To))
	}
	s.Equal([]string{">CONFIRMED", "CONFIRMED>PROCESSING", "PROCESSING>COMPLETED"}, path)

	_, err = s.svc.GetForUser(s.ctx, buyer+1, order.ID)
	s.ErrorIs(err, domain.ErrOrderNotFound)
}
