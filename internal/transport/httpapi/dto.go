package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	dateTimeLayout = "2006-01-02 15:04:05"
	dateLayout     = "2006-01-02"
)

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type balanceResponse struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"userId"`
	Amount    int64  `json:"amount"`
	UpdatedAt string `json:"updatedAt"`
}

func balanceOf(a domain.Account) balanceResponse {
	return balanceResponse{
		ID:        a.ID,
		UserID:    a.UserID,
		Amount:    a.Amount,
		UpdatedAt: formatTime(a.UpdatedAt, dateTimeLayout),
	}
}

type useBalanceResponse struct {
	CurrentBalance int64 `json:"currentBalance"`
}

type couponResponse struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	CouponCode     string `json:"couponCode"`
	DiscountAmount int64  `json:"discountAmount"`
	RemainingStock int64  `json:"remainingStock"`
	ExpiryDate     string `json:"expiryDate"`
	Status         string `json:"status"`
}

func couponOf(c domain.Coupon) couponResponse {
	return couponResponse{
		ID:             c.ID,
		Name:           c.Name,
		CouponCode:     c.Code,
		DiscountAmount: c.DiscountAmount,
		RemainingStock: c.RemainingStock,
		ExpiryDate:     formatTime(c.ExpiryDate, dateLayout),
		Status:         string(c.Status),
	}
}

type userCouponResponse struct {
	ID             int64   `json:"id"`
	UserID         int64   `json:"userId"`
	CouponCode     string  `json:"couponCode"`
	CouponName     string  `json:"couponName"`
	DiscountAmount int64   `json:"discountAmount"`
	IssuedDate     string  `json:"issuedDate"`
	ExpiryDate     string  `json:"expiryDate"`
	Status         string  `json:"status"`
	UsedDate       *string `json:"usedDate"`
}

func userCouponOf(ic domain.IssuedCoupon) userCouponResponse {
	resp := userCouponResponse{
		ID:             ic.UserCoupon.ID,
		UserID:         ic.UserCoupon.UserID,
		CouponCode:     ic.Coupon.Code,
		CouponName:     ic.Coupon.Name,
		DiscountAmount: ic.Coupon.DiscountAmount,
		IssuedDate:     formatTime(ic.UserCoupon.IssuedAt, dateLayout),
		ExpiryDate:     formatTime(ic.Coupon.ExpiryDate, dateLayout),
		Status:         string(ic.UserCoupon.Status),
	}
	if ic.UserCoupon.UsedAt != nil {
		used := formatTime(*ic.UserCoupon.UsedAt, dateLayout)
		resp.UsedDate = &used
	}
	return resp
}

type issueCouponResponse struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"userId"`
	CouponID int64  `json:"couponId"`
	Status   string `json:"status"`
	IssuedAt string `json:"issuedAt"`
}

type userRequest struct {
	Name string `json:"name" binding:"required"`
}

type userResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func userOf(u domain.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name}
}

type productResponse struct {
	ID      int64                   `json:"productId"`
	Name    string                  `json:"name"`
	Options []productOptionResponse `json:"options"`
}

type productOptionResponse struct {
	ID          int64  `json:"productOptionId"`
	ProductID   int64  `json:"productId"`
	ProductName string `json:"productName"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Stock       int64  `json:"stock"`
}

func productOptionOf(u domain.StockUnit) productOptionResponse {
	return productOptionResponse{
		ID:          u.ID,
		ProductID:   u.ProductID,
		ProductName: u.ProductName,
		Name:        u.Name,
		Price:       u.Price,
		Stock:       u.Stock,
	}
}

type topSellingResponse struct {
	ProductID   int64  `json:"productId"`
	ProductName string `json:"productName"`
	TotalSales  int64  `json:"totalSales"`
	Rank        int    `json:"rank"`
}

type listResponse[T any] struct {
	List        []T `json:"list"`
	CurrentPage int `json:"currentPage"`
	Limit       int `json:"limit"`
}

type orderOptionRequest struct {
	ProductOptionID int64 `json:"productOptionId"`
	Quantity        int64 `json:"quantity"`
}

type orderProductRequest struct {
	ProductID int64                `json:"productId"`
	Options   []orderOptionRequest `json:"options"`
}

type createOrderRequest struct {
	Products   []orderProductRequest `json:"products"`
	UsedAmount int64                 `json:"usedAmount"`
	CouponCode string                `json:"couponCode"`
}

func (r createOrderRequest) items() []domain.StockRequest {
	var items []domain.StockRequest
	for _, product := range r.Products {
		for _, option := range product.Options {
			items = append(items, domain.StockRequest{SKUID: option.ProductOptionID, Quantity: option.Quantity})
		}
	}
	return items
}

type orderItemResponse struct {
	ProductID       int64  `json:"productId"`
	ProductOptionID int64  `json:"productOptionId"`
	Name            string `json:"name"`
	OptionName      string `json:"optionName"`
	Price           int64  `json:"price"`
	Quantity        int64  `json:"quantity"`
}

type orderResponse struct {
	OrderID        string              `json:"orderId"`
	CreatedAt      string              `json:"createdAt"`
	Items          []orderItemResponse `json:"items"`
	TotalAmount    int64               `json:"totalAmount"`
	DiscountAmount int64               `json:"discountAmount"`
	FinalAmount    int64               `json:"finalAmount"`
	Status         string              `json:"status"`
	CouponCode     *string             `json:"couponCode"`
}

func orderOf(o domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:        o.ID,
		CreatedAt:      formatTime(o.CreatedAt, dateTimeLayout),
		Items:          make([]orderItemResponse, 0, len(o.Lines)),
		TotalAmount:    o.TotalPrice,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		Status:         string(o.Status),
	}
	for _, line := range o.Lines {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID:       line.ProductID,
			ProductOptionID: line.SKUID,
			Name:            line.ProductName,
			OptionName:      line.OptionName,
			Price:           line.UnitPrice,
			Quantity:        line.Quantity,
		})
	}
	if o.Coupon != nil {
		code := o.Coupon.Code
		resp.CouponCode = &code
	}
	return resp
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type historyEntryResponse struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Reason     string `json:"reason"`
	OccurredAt string `json:"occurredAt"`
}

type orderDetailResponse struct {
	orderResponse
	History []historyEntryResponse `json:"history"`
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(layout)
}
