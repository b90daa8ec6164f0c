package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/retry"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Status int `json:"-"`
	Error  struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
	Detail any `json:"detail,omitempty"`
}

// StockShortageDetail уточняет ответ на нехватку остатка.
type StockShortageDetail struct {
	SKUID     int64 `json:"productOptionId"`
	Requested int64 `json:"requested"`
	Available int64 `json:"available"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings проверяются по порядку; первое совпадение побеждает.
var errorMappings = []errorMapping{
	{domain.ErrAccountNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
	{domain.ErrOrderNotFound, http.StatusNotFound, "ORDER_NOT_FOUND"},
	{domain.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{domain.ErrProductNotFound, http.StatusNotFound, "PRODUCT_NOT_FOUND"},

	{domain.ErrOperationInProgress, http.StatusConflict, "OPERATION_IN_PROGRESS"},
	{retry.ErrExhausted, http.StatusConflict, "RETRY_EXHAUSTED"},
	{domain.ErrOrderVersionConflict, http.StatusConflict, "VERSION_CONFLICT"},

	{domain.ErrInvalidUserID, http.StatusBadRequest, "INVALID_USER_ID"},
	{domain.ErrInvalidUserName, http.StatusBadRequest, "INVALID_USER_NAME"},
	{domain.ErrUserAlreadyExists, http.StatusBadRequest, "USER_ALREADY_EXISTS"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{domain.ErrAmountBelowMinimum, http.StatusBadRequest, "AMOUNT_BELOW_MINIMUM"},
	{domain.ErrItemsRequired, http.StatusBadRequest, "ITEMS_REQUIRED"},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, "INVALID_QUANTITY"},
	{domain.ErrInvalidStatus, http.StatusBadRequest, "INVALID_STATUS"},
	{domain.ErrStockUnitNotFound, http.StatusBadRequest, "PRODUCT_OPTION_NOT_FOUND"},
	{domain.ErrCouponNotFound, http.StatusBadRequest, "COUPON_NOT_FOUND"},
	{domain.ErrInsufficientFunds, http.StatusBadRequest, "INSUFFICIENT_FUNDS"},
	{domain.ErrInsufficientStock, http.StatusBadRequest, "INSUFFICIENT_STOCK"},
	{domain.ErrCouponOutOfStock, http.StatusBadRequest, "COUPON_OUT_OF_STOCK"},
	{domain.ErrCouponExpired, http.StatusBadRequest, "COUPON_EXPIRED"},
	{domain.ErrCouponSuspended, http.StatusBadRequest, "COUPON_SUSPENDED"},
	{domain.ErrDuplicateIssuance, http.StatusBadRequest, "COUPON_ALREADY_ISSUED"},
	{domain.ErrCouponUnusable, http.StatusBadRequest, "COUPON_UNUSABLE"},
	{domain.ErrOrderAmountMismatch, http.StatusBadRequest, "AMOUNT_MISMATCH"},
	{domain.ErrInvalidDiscount, http.StatusBadRequest, "INVALID_DISCOUNT"},
	{domain.ErrInvalidStatusTransition, http.StatusBadRequest, "INVALID_STATUS_TRANSITION"},
}

// errBadRequest — тело запроса не разобрано.
var errBadRequest = errors.New("invalid request format")

func classify(err error) (int, string) {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest, "BAD_REQUEST"
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// abortWithError пишет ответ с ошибкой и сохраняет исходную ошибку в c.Errors
// для access-лога. Текст 500 не раскрывает внутренние детали.
func abortWithError(c *gin.Context, err error) {
	status, code := classify(err)

	resp := ErrorResponse{Status: status}
	resp.Error.Code = code
	resp.Error.Message = err.Error()
	if status == http.StatusInternalServerError {
		resp.Error.Message = "internal server error"
	}

	var shortage *domain.StockShortageError
	if errors.As(err, &shortage) {
		resp.Detail = StockShortageDetail{SKUID: shortage.SKUID, Requested: shortage.Requested, Available: shortage.Available}
	}

	_ = c.Error(gin.Error{Err: err, Type: gin.ErrorTypePublic, Meta: resp})
	c.AbortWithStatusJSON(status, resp)
}
