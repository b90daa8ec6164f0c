package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type salesKey struct {
	productID int64
	day       time.Time
}

type processedMarker struct {
	at time.Time
}

type salesRepository struct {
	s *Store
}

// NewSalesRepository возвращает in-memory репозиторий статистики продаж.
func NewSalesRepository(store *Store) domain.SalesRepository {
	return &salesRepository{s: store}
}

func (r *salesRepository) MarkProcessed(ctx context.Context, orderID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, done := r.s.state.processed[orderID]; done {
		return false, nil
	}
	r.s.state.processed[orderID] = processedMarker{at: at.UTC()}
	r.s.onRollback(ctx, func() { delete(r.s.state.processed, orderID) })
	return true, nil
}

func (r *salesRepository) Increment(ctx context.Context, productID int64, day time.Time) error {
	key := salesKey{productID: productID, day: domain.SalesDay(day)}
	unlock, err := r.s.lockRow(ctx, fmt.Sprintf("product_sales_daily:%d:%s", productID, key.day.Format(time.DateOnly)))
	if err != nil {
		return err
	}
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	previous, existed := r.s.state.sales[key]
	r.s.state.sales[key] = previous + 1
	r.s.onRollback(ctx, func() {
		if !existed {
			delete(r.s.state.sales, key)
			return
		}
		r.s.state.sales[key] = previous
	})
	return nil
}

func (r *salesRepository) TopSelling(_ context.Context, since time.Time, limit int) ([]domain.TopSellingProduct, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	since = domain.SalesDay(since)
	totals := make(map[int64]int64)
	for key, count := range r.s.state.sales {
		if key.day.Before(since) {
			continue
		}
		totals[key.productID] += count
	}

	names := make(map[int64]string, len(totals))
	for _, unit := range r.s.state.units {
		if _, ok := totals[unit.ProductID]; ok {
			names[unit.ProductID] = unit.ProductName
		}
	}

	result := make([]domain.TopSellingProduct, 0, len(totals))
	for productID, count := range totals {
		result = append(result, domain.TopSellingProduct{
			ProductID:   productID,
			ProductName: names[productID],
			SalesCount:  count,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SalesCount != result[j].SalesCount {
			return result[i].SalesCount > result[j].SalesCount
		}
		return result[i].ProductID < result[j].ProductID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *salesRepository) DeleteBefore(_ context.Context, day time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	day = domain.SalesDay(day)
	deleted := 0
	for key := range r.s.state.sales {
		if key.day.Before(day) {
			delete(r.s.state.sales, key)
			deleted++
		}
	}
	for orderID, marker := range r.s.state.processed {
		if marker.at.Before(day) {
			delete(r.s.state.processed, orderID)
		}
	}
	return deleted, nil
}
