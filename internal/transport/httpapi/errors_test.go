package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/retry"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("recharge: %w", domain.ErrOperationInProgress), http.StatusConflict, "OPERATION_IN_PROGRESS"},
		{&retry.ExhaustedError{Attempts: 3, Last: domain.ErrOptimisticLockConflict}, http.StatusConflict, "RETRY_EXHAUSTED"},
		{&domain.StockShortageError{SKUID: 1, Requested: 2, Available: 1}, http.StatusBadRequest, "INSUFFICIENT_STOCK"},
		{domain.ErrStockUnitNotFound, http.StatusBadRequest, "PRODUCT_OPTION_NOT_FOUND"},
		{domain.ErrCouponNotFound, http.StatusBadRequest, "COUPON_NOT_FOUND"},
		{domain.ErrAccountNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{domain.ErrOrderNotFound, http.StatusNotFound, "ORDER_NOT_FOUND"},
		{domain.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
		{domain.ErrProductNotFound, http.StatusNotFound, "PRODUCT_NOT_FOUND"},
		{domain.ErrUserAlreadyExists, http.StatusBadRequest, "USER_ALREADY_EXISTS"},
		{errBadRequest, http.StatusBadRequest, "BAD_REQUEST"},
		{errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tc := range cases {
		status, code := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestEveryRejectionIsMapped(t *testing.T) {
	for _, m := range errorMappings {
		if domain.IsRejection(m.target) {
			assert.NotEqual(t, http.StatusInternalServerError, m.status, m.code)
		}
	}
}
