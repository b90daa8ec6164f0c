package lock

import "fmt"

// BalanceKey — блокировка баланса пользователя.
func BalanceKey(userID int64) string {
	return fmt.Sprintf("balance:%d", userID)
}

// StockKey — блокировка остатка SKU.
func StockKey(skuID int64) string {
	return fmt.Sprintf("stock:%d", skuID)
}

// CouponIssueKey — блокировка выдачи купона конкретному пользователю.
func CouponIssueKey(couponID, userID int64) string {
	return fmt.Sprintf("coupon:%d:user:%d", couponID, userID)
}

// CheckoutKey — блокировка оформления заказа пользователем.
func CheckoutKey(userID int64) string {
	return fmt.Sprintf("pay:order:%d", userID)
}
