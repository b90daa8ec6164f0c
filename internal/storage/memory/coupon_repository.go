package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type couponRepository struct {
	s *Store
}

// NewCouponRepository возвращает in-memory репозиторий купонов.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{s: store}
}

func couponRow(id int64) string {
	return fmt.Sprintf("coupons:%d", id)
}

func (r *couponRepository) Create(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	for _, existing := range r.s.state.coupons {
		if existing.Code == coupon.Code {
			return domain.Coupon{}, fmt.Errorf("coupon code %s already exists", coupon.Code)
		}
	}
	if coupon.ID == 0 {
		coupon.ID = r.s.nextID("coupons")
	}
	if coupon.Status == "" {
		coupon.Status = domain.CouponStatusAvailable
	}
	r.s.state.coupons[coupon.ID] = coupon
	r.s.onRollback(ctx, func() { delete(r.s.state.coupons, coupon.ID) })
	return coupon, nil
}

func (r *couponRepository) Get(_ context.Context, id int64) (domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	coupon, ok := r.s.state.coupons[id]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return coupon, nil
}

func (r *couponRepository) GetForUpdate(ctx context.Context, id int64) (domain.Coupon, error) {
	unlock, err := r.s.lockRow(ctx, couponRow(id))
	if err != nil {
		return domain.Coupon{}, err
	}
	defer unlock()

	return r.Get(ctx, id)
}

func (r *couponRepository) DecrementRemaining(ctx context.Context, id int64) (bool, error) {
	unlock, err := r.s.lockRow(ctx, couponRow(id))
	if err != nil {
		return false, err
	}
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.state.coupons[id]
	if !ok || current.RemainingStock <= 0 {
		return false, nil
	}
	updated := current
	updated.RemainingStock--
	r.s.state.coupons[id] = updated
	r.s.onRollback(ctx, func() { r.s.state.coupons[id] = current })
	return true, nil
}

func (r *couponRepository) ListAvailable(_ context.Context, now time.Time, offset, limit int) ([]domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	result := make([]domain.Coupon, 0)
	for _, coupon := range r.s.state.coupons {
		if coupon.Status != domain.CouponStatusAvailable || coupon.IsExpired(now) {
			continue
		}
		result = append(result, coupon)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return paginate(result, offset, limit), nil
}

type userCouponRepository struct {
	s *Store
}

// NewUserCouponRepository возвращает in-memory репозиторий выданных купонов.
func NewUserCouponRepository(store *Store) domain.UserCouponRepository {
	return &userCouponRepository{s: store}
}

func (r *userCouponRepository) Exists(_ context.Context, userID, couponID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.existsLocked(userID, couponID), nil
}

func (r *userCouponRepository) existsLocked(userID, couponID int64) bool {
	for _, uc := range r.s.state.userCoupons {
		if uc.UserID == userID && uc.CouponID == couponID {
			return true
		}
	}
	return false
}

// Create соблюдает уникальность (user, coupon) так же, как constraint в PostgreSQL.
func (r *userCouponRepository) Create(ctx context.Context, uc domain.UserCoupon) (domain.UserCoupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.existsLocked(uc.UserID, uc.CouponID) {
		return domain.UserCoupon{}, domain.ErrDuplicateIssuance
	}
	uc.ID = r.s.nextID("user_coupons")
	if uc.Status == "" {
		uc.Status = domain.UserCouponStatusAvailable
	}
	if uc.IssuedAt.IsZero() {
		uc.IssuedAt = time.Now().UTC()
	}
	r.s.state.userCoupons[uc.ID] = uc
	r.s.onRollback(ctx, func() { delete(r.s.state.userCoupons, uc.ID) })
	return uc, nil
}

func (r *userCouponRepository) FindAvailableByCode(ctx context.Context, userID int64, code string, forUpdate bool) (domain.IssuedCoupon, error) {
	found, err := r.findAvailable(userID, code)
	if err != nil || !forUpdate {
		return found, err
	}

	unlock, err := r.s.lockRow(ctx, fmt.Sprintf("user_coupons:%d", found.UserCoupon.ID))
	if err != nil {
		return domain.IssuedCoupon{}, err
	}
	defer unlock()

	// Перечитываем под блокировкой: купон мог быть использован, пока ждали.
	return r.findAvailable(userID, code)
}

func (r *userCouponRepository) findAvailable(userID int64, code string) (domain.IssuedCoupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	code = domain.NormalizeCouponCode(code)
	for _, uc := range r.s.state.userCoupons {
		if uc.UserID != userID || uc.Status != domain.UserCouponStatusAvailable {
			continue
		}
		coupon, ok := r.s.state.coupons[uc.CouponID]
		if !ok || coupon.Code != code {
			continue
		}
		return domain.IssuedCoupon{UserCoupon: uc, Coupon: coupon}, nil
	}
	return domain.IssuedCoupon{}, domain.ErrCouponUnusable
}

func (r *userCouponRepository) MarkUsed(ctx context.Context, id int64, usedAt time.Time) error {
	unlock, err := r.s.lockRow(ctx, fmt.Sprintf("user_coupons:%d", id))
	if err != nil {
		return err
	}
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.state.userCoupons[id]
	if !ok {
		return domain.ErrCouponUnusable
	}
	updated := current
	if err := updated.Redeem(usedAt); err != nil {
		return err
	}
	r.s.state.userCoupons[id] = updated
	r.s.onRollback(ctx, func() { r.s.state.userCoupons[id] = current })
	return nil
}

func (r *userCouponRepository) ListByUser(_ context.Context, userID int64) ([]domain.IssuedCoupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	result := make([]domain.IssuedCoupon, 0)
	for _, uc := range r.s.state.userCoupons {
		if uc.UserID != userID {
			continue
		}
		result = append(result, domain.IssuedCoupon{UserCoupon: uc, Coupon: r.s.state.coupons[uc.CouponID]})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserCoupon.ID < result[j].UserCoupon.ID })
	return result, nil
}
