// Package metrics содержит Prometheus-метрики бизнес-операций checkout.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций для label result.
const (
	ResultSuccess  = "success"
	ResultBusy     = "busy"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// CheckoutMetrics содержит метрики оплаты заказов и операций ledger.
type CheckoutMetrics struct {
	checkouts        *prometheus.CounterVec
	checkoutDuration prometheus.Histogram
	stepDuration     *prometheus.HistogramVec
	inFlight         prometheus.Gauge

	ledgerOps         *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
	salesEvents       *prometheus.CounterVec
}

// NewCheckoutMetrics регистрирует метрики в DefaultRegisterer.
// Повторный вызов возвращает уже зарегистрированные коллекторы.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkouts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_orders_total",
			Help: "Checkout attempts grouped by result.",
		}, []string{"result"})),
		checkoutDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkout_order_duration_seconds",
			Help:    "End-to-end checkout duration including lock waits.",
			Buckets: prometheus.DefBuckets,
		})),
		stepDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkout_order_step_duration_seconds",
			Help:    "Duration of individual checkout steps.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"})),
		inFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkout_orders_in_flight",
			Help: "Number of checkouts currently holding the per-user lock.",
		})),
		ledgerOps: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_ledger_operations_total",
			Help: "Ledger mutations grouped by ledger, operation and result.",
		}, []string{"ledger", "op", "result"})),
		statusTransitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_order_status_transitions_total",
			Help: "Applied order status transitions grouped by target status.",
		}, []string{"to"})),
		salesEvents: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_sales_events_total",
			Help: "Order-created events seen by the sales aggregator grouped by outcome.",
		}, []string{"outcome"})),
	}
}

// register регистрирует коллектор или возвращает ранее зарегистрированный того же типа.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := already.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", already.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordCheckout фиксирует результат и длительность оплаты.
func (m *CheckoutMetrics) RecordCheckout(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает длительность шага оплаты.
func (m *CheckoutMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// CheckoutStarted увеличивает число активных оплат.
func (m *CheckoutMetrics) CheckoutStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// CheckoutFinished уменьшает число активных оплат.
func (m *CheckoutMetrics) CheckoutFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// RecordLedgerOp фиксирует результат мутации ledger.
func (m *CheckoutMetrics) RecordLedgerOp(ledger, op, result string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(ledger, op, result).Inc()
}

// RecordStatusTransition фиксирует применённый переход статуса заказа.
func (m *CheckoutMetrics) RecordStatusTransition(to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(to).Inc()
}

// RecordSalesEvent фиксирует обработку события агрегатором продаж.
func (m *CheckoutMetrics) RecordSalesEvent(outcome string) {
	if m == nil {
		return
	}
	m.salesEvents.WithLabelValues(outcome).Inc()
}
