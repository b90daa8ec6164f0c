// Package retry реализует ограниченный повтор операций с экспоненциальной задержкой.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrExhausted — все попытки исчерпаны, последняя ошибка была retryable.
var ErrExhausted = errors.New("retry attempts exhausted")

var (
	retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_retry_attempts_total",
		Help: "Total number of repeated attempts grouped by policy.",
	}, []string{"policy"})
	retryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_retry_exhausted_total",
		Help: "Total number of operations that exhausted their retry budget.",
	}, []string{"policy"})
)

// ExhaustedError возвращается, когда лимит попыток исчерпан.
// errors.Is(err, ErrExhausted) == true, Unwrap возвращает последнюю причину.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Is сопоставляет ошибку с ErrExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Policy описывает параметры повтора. Значение не хранит состояния между вызовами.
type Policy struct {
	// Name используется как label в метриках.
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Retryable решает, стоит ли повторять после ошибки. nil — повторять любую.
	Retryable func(error) bool
	// OnRetry вызывается перед ожиданием очередной попытки.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy возвращает политику по умолчанию: 3 попытки, 100ms, max 1s, x2.
func DefaultPolicy() Policy {
	return Policy{
		Name:        "default",
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2,
	}
}

// Delay возвращает паузу после попытки attempt (нумерация с 1):
// min(BaseDelay*Multiplier^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) label() string {
	if p.Name == "" {
		return "default"
	}
	return p.Name
}

// Do выполняет fn с повторами согласно политике.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue — вариант Do, возвращающий результат fn.
//
// Не retryable ошибка возвращается сразу без изменений. Отмена ctx во время
// ожидания прерывает цикл и возвращает ctx.Err().
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			retryAttempts.WithLabelValues(p.label()).Inc()
		}

		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		if !p.retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	retryExhausted.WithLabelValues(p.label()).Inc()
	return zero, &ExhaustedError{Attempts: maxAttempts, Last: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
