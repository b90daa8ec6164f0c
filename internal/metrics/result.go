package metrics

import (
	"errors"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/retry"
)

// ResultOf классифицирует ошибку операции для label result.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case domain.IsBusy(err), errors.Is(err, retry.ErrExhausted):
		return ResultBusy
	case domain.IsRejection(err):
		return ResultRejected
	default:
		return ResultError
	}
}
