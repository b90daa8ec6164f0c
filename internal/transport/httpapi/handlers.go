package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/order"
)

// BalanceService — операции над балансом, доступные по HTTP.
type BalanceService interface {
	Recharge(ctx context.Context, userID, amount int64) (domain.Account, error)
	Use(ctx context.Context, userID, amount int64) (domain.Account, error)
	Get(ctx context.Context, userID int64) (domain.Account, error)
}

// CouponService — операции над купонами, доступные по HTTP.
type CouponService interface {
	Issue(ctx context.Context, couponID, userID int64) (domain.UserCoupon, error)
	ListAvailable(ctx context.Context, page domain.Page) ([]domain.Coupon, error)
	ListForUser(ctx context.Context, userID int64) ([]domain.IssuedCoupon, error)
}

// UserService — регистрация и профиль пользователя.
type UserService interface {
	Register(ctx context.Context, name string) (domain.User, error)
	Login(ctx context.Context, name string) (domain.User, error)
	Profile(ctx context.Context, userID int64) (domain.User, error)
}

// CatalogService отдаёт витрину SKU.
type CatalogService interface {
	List(ctx context.Context, page domain.Page) ([]domain.StockUnit, error)
	Get(ctx context.Context, skuID int64) (domain.StockUnit, error)
	Product(ctx context.Context, productID int64) ([]domain.StockUnit, error)
}

// SalesService отдаёт рейтинг продаж.
type SalesService interface {
	TopSelling(ctx context.Context, days, limit int) ([]domain.TopSellingProduct, error)
}

// OrderService — оплата и жизненный цикл заказа.
type OrderService interface {
	Pay(ctx context.Context, userID int64, req order.PayRequest) (domain.Order, error)
	GetForUser(ctx context.Context, userID int64, orderID string) (domain.Order, error)
	ListForUser(ctx context.Context, userID int64, limit int) ([]domain.Order, error)
	History(ctx context.Context, orderID string) ([]domain.OrderHistoryEntry, error)
	ChangeStatus(ctx context.Context, orderID string, to domain.OrderStatus, reason string) (domain.Order, error)
}

// Handlers собирает зависимости HTTP-слоя.
type Handlers struct {
	Users   UserService
	Balance BalanceService
	Coupons CouponService
	Catalog CatalogService
	Sales   SalesService
	Orders  OrderService

	// TopSellingDays и TopSellingLimit — значения по умолчанию для рейтинга.
	TopSellingDays  int
	TopSellingLimit int
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

func queryInt(c *gin.Context, name string, def int) int {
	value, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return value
}

func pageFrom(c *gin.Context) domain.Page {
	return domain.NewPage(queryInt(c, "page", 1), queryInt(c, "limit", domain.DefaultPageLimit))
}

// limitFrom читает limit с теми же границами, что и у страниц.
func limitFrom(c *gin.Context, def int) int {
	return domain.ClampLimit(queryInt(c, "limit", def), def)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handlers) register(c *gin.Context) {
	var req userRequest
	if !bindJSON(c, &req) {
		return
	}
	created, err := h.Users.Register(c.Request.Context(), req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, userOf(created))
}

func (h *Handlers) login(c *gin.Context) {
	var req userRequest
	if !bindJSON(c, &req) {
		return
	}
	found, err := h.Users.Login(c.Request.Context(), req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header(HeaderUserID, strconv.FormatInt(found.ID, 10))
	c.JSON(http.StatusOK, userOf(found))
}

func (h *Handlers) profile(c *gin.Context) {
	found, err := h.Users.Profile(c.Request.Context(), userIDFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, userOf(found))
}

func (h *Handlers) rechargeBalance(c *gin.Context) {
	var req amountRequest
	if !bindJSON(c, &req) {
		return
	}
	account, err := h.Balance.Recharge(c.Request.Context(), userIDFrom(c), req.Amount)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceOf(account))
}

func (h *Handlers) useBalance(c *gin.Context) {
	var req amountRequest
	if !bindJSON(c, &req) {
		return
	}
	account, err := h.Balance.Use(c.Request.Context(), userIDFrom(c), req.Amount)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, useBalanceResponse{CurrentBalance: account.Amount})
}

func (h *Handlers) getBalance(c *gin.Context) {
	account, err := h.Balance.Get(c.Request.Context(), userIDFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceOf(account))
}

func (h *Handlers) issueCoupon(c *gin.Context) {
	couponID, ok := pathID(c)
	if !ok {
		abortWithError(c, domain.ErrCouponNotFound)
		return
	}
	issued, err := h.Coupons.Issue(c.Request.Context(), couponID, userIDFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, issueCouponResponse{
		ID:       issued.ID,
		UserID:   issued.UserID,
		CouponID: issued.CouponID,
		Status:   string(issued.Status),
		IssuedAt: formatTime(issued.IssuedAt, dateTimeLayout),
	})
}

func (h *Handlers) listCoupons(c *gin.Context) {
	page := pageFrom(c)
	coupons, err := h.Coupons.ListAvailable(c.Request.Context(), page)
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := listResponse[couponResponse]{List: make([]couponResponse, 0, len(coupons)), CurrentPage: page.Number, Limit: page.Limit}
	for _, coupon := range coupons {
		resp.List = append(resp.List, couponOf(coupon))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) listMyCoupons(c *gin.Context) {
	issued, err := h.Coupons.ListForUser(c.Request.Context(), userIDFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	list := make([]userCouponResponse, 0, len(issued))
	for _, ic := range issued {
		list = append(list, userCouponOf(ic))
	}
	c.JSON(http.StatusOK, gin.H{"list": list})
}

func (h *Handlers) listProducts(c *gin.Context) {
	page := pageFrom(c)
	units, err := h.Catalog.List(c.Request.Context(), page)
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := listResponse[productOptionResponse]{List: make([]productOptionResponse, 0, len(units)), CurrentPage: page.Number, Limit: page.Limit}
	for _, unit := range units {
		resp.List = append(resp.List, productOptionOf(unit))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) getProduct(c *gin.Context) {
	productID, ok := pathID(c)
	if !ok {
		abortWithError(c, domain.ErrProductNotFound)
		return
	}
	units, err := h.Catalog.Product(c.Request.Context(), productID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := productResponse{ID: productID, Name: units[0].ProductName, Options: make([]productOptionResponse, 0, len(units))}
	for _, unit := range units {
		resp.Options = append(resp.Options, productOptionOf(unit))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) getProductOption(c *gin.Context) {
	skuID, ok := pathID(c)
	if !ok {
		abortWithError(c, domain.ErrStockUnitNotFound)
		return
	}
	unit, err := h.Catalog.Get(c.Request.Context(), skuID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, productOptionOf(unit))
}

func (h *Handlers) topSelling(c *gin.Context) {
	days := queryInt(c, "days", h.TopSellingDays)
	if days <= 0 {
		days = h.TopSellingDays
	}
	limit := limitFrom(c, h.TopSellingLimit)

	top, err := h.Sales.TopSelling(c.Request.Context(), days, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	products := make([]topSellingResponse, 0, len(top))
	for i, p := range top {
		products = append(products, topSellingResponse{
			ProductID:   p.ProductID,
			ProductName: p.ProductName,
			TotalSales:  p.SalesCount,
			Rank:        i + 1,
		})
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handlers) createOrder(c *gin.Context) {
	var req createOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	created, err := h.Orders.Pay(c.Request.Context(), userIDFrom(c), order.PayRequest{
		Items:      req.items(),
		UsedAmount: req.UsedAmount,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, orderOf(created))
}

func (h *Handlers) listOrders(c *gin.Context) {
	orders, err := h.Orders.ListForUser(c.Request.Context(), userIDFrom(c), limitFrom(c, domain.DefaultPageLimit))
	if err != nil {
		abortWithError(c, err)
		return
	}
	list := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		list = append(list, orderOf(o))
	}
	c.JSON(http.StatusOK, gin.H{"list": list})
}

func (h *Handlers) getOrder(c *gin.Context) {
	ctx := c.Request.Context()
	found, err := h.Orders.GetForUser(ctx, userIDFrom(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	history, err := h.Orders.History(ctx, found.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := orderDetailResponse{orderResponse: orderOf(found), History: make([]historyEntryResponse, 0, len(history))}
	for _, entry := range history {
		resp.History = append(resp.History, historyEntryResponse{
			From:       string(entry.From),
			To:         string(entry.To),
			Reason:     entry.Reason,
			OccurredAt: formatTime(entry.Occurred, dateTimeLayout),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) changeOrderStatus(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	// Чужой заказ не отличим от отсутствующего.
	if _, err := h.Orders.GetForUser(ctx, userIDFrom(c), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	updated, err := h.Orders.ChangeStatus(ctx, c.Param("id"), domain.OrderStatus(req.Status), req.Reason)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderOf(updated))
}
