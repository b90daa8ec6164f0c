package domain

import (
	"strings"
	"time"
)

// CouponStatus — статус купона как шаблона выдачи.
type CouponStatus string

const (
	CouponStatusAvailable CouponStatus = "AVAILABLE"
	CouponStatusSuspended CouponStatus = "SUSPENDED"
	CouponStatusExpired   CouponStatus = "EXPIRED"
)

// UserCouponStatus — статус выданного пользователю купона.
type UserCouponStatus string

const (
	UserCouponStatusAvailable UserCouponStatus = "AVAILABLE"
	UserCouponStatusUsed      UserCouponStatus = "USED"
	UserCouponStatusExpired   UserCouponStatus = "EXPIRED"
)

// Coupon — купон с ограниченным количеством выдач.
type Coupon struct {
	ID             int64
	Code           string
	Name           string
	DiscountAmount int64
	RemainingStock int64
	ExpiryDate     time.Time
	Status         CouponStatus
}

// UserCoupon — экземпляр купона, выданный пользователю.
type UserCoupon struct {
	ID       int64
	UserID   int64
	CouponID int64
	Status   UserCouponStatus
	UsedAt   *time.Time
	IssuedAt time.Time
}

// IsExpired сообщает, истёк ли купон к моменту now.
func (c Coupon) IsExpired(now time.Time) bool {
	return c.Status == CouponStatusExpired || (!c.ExpiryDate.IsZero() && now.After(c.ExpiryDate))
}

// CheckIssuable проверяет, можно ли выдать купон в момент now.
// Порядок проверок: приостановка, срок действия, остаток.
func (c Coupon) CheckIssuable(now time.Time) error {
	if c.Status == CouponStatusSuspended {
		return ErrCouponSuspended
	}
	if c.IsExpired(now) {
		return ErrCouponExpired
	}
	if c.RemainingStock <= 0 {
		return ErrCouponOutOfStock
	}
	return nil
}

// NormalizeCouponCode приводит код купона к каноническому виду.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redeem переводит купон AVAILABLE -> USED. Обратного перехода нет.
func (uc *UserCoupon) Redeem(now time.Time) error {
	if uc.Status != UserCouponStatusAvailable {
		return ErrCouponUnusable
	}
	uc.Status = UserCouponStatusUsed
	usedAt := now.UTC()
	uc.UsedAt = &usedAt
	return nil
}

// CouponQuote — результат предварительной проверки купона перед оплатой.
type CouponQuote struct {
	UserCouponID   int64
	CouponID       int64
	Code           string
	DiscountAmount int64
}
