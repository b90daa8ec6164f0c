package cache

import "fmt"

// Шаблоны для инвалидации.
const (
	ProductListPattern = "products:list:*"
	TopSellingPattern  = "products:top-selling:*"
	CouponListPattern  = "coupons:list:*"
)

func BalanceKey(userID int64) string {
	return fmt.Sprintf("user:%d:balance", userID)
}

func ProductListKey(page, limit int) string {
	return fmt.Sprintf("products:list:%d:%d", page, limit)
}

func TopSellingKey(days int) string {
	return fmt.Sprintf("products:top-selling:%d", days)
}

func CouponListKey(page, limit int) string {
	return fmt.Sprintf("coupons:list:%d:%d", page, limit)
}

func UserCouponsKey(userID int64) string {
	return fmt.Sprintf("user:%d:coupons", userID)
}
