package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	s *Store
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{s: store}
}

func cloneOrder(order domain.Order) domain.Order {
	order.Lines = slices.Clone(order.Lines)
	if order.Coupon != nil {
		c := *order.Coupon
		order.Coupon = &c
	}
	return order
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.state.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists: %w", order.ID, domain.ErrOrderVersionConflict)
	}
	r.s.state.orders[order.ID] = cloneOrder(order)
	r.s.onRollback(ctx, func() { delete(r.s.state.orders, order.ID) })
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.state.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByUser возвращает заказы пользователя от новых к старым, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByUser(_ context.Context, userID int64, limit int) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	result := make([]domain.Order, 0)
	for _, order := range r.s.state.orders {
		if order.UserID != userID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateStatus меняет статус, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, expectedVersion int64) error {
	unlock, err := r.s.lockRow(ctx, "orders:"+id)
	if err != nil {
		return err
	}
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.state.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrOrderVersionConflict
	}

	updated := cloneOrder(current)
	updated.Status = status
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()
	r.s.state.orders[id] = updated
	r.s.onRollback(ctx, func() { r.s.state.orders[id] = current })
	return nil
}

// historyRepositoryInMemory хранит журнал статусов заказов.
type historyRepositoryInMemory struct {
	s *Store
}

// NewOrderHistoryRepository создаёт in-memory реализацию OrderHistoryRepository.
func NewOrderHistoryRepository(store *Store) domain.OrderHistoryRepository {
	return &historyRepositoryInMemory{s: store}
}

// Append добавляет запись в журнал.
func (r *historyRepositoryInMemory) Append(ctx context.Context, entry domain.OrderHistoryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	previous := r.s.state.history[entry.OrderID]
	entries := append(slices.Clone(previous), entry)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Occurred.Before(entries[j].Occurred)
	})
	r.s.state.history[entry.OrderID] = entries
	r.s.onRollback(ctx, func() {
		if previous == nil {
			delete(r.s.state.history, entry.OrderID)
			return
		}
		r.s.state.history[entry.OrderID] = previous
	})
	return nil
}

// List возвращает журнал заказа в хронологическом порядке.
func (r *historyRepositoryInMemory) List(_ context.Context, orderID string) ([]domain.OrderHistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return slices.Clone(r.s.state.history[orderID]), nil
}
