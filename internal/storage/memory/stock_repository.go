package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type stockRepository struct {
	s *Store
}

// NewStockRepository возвращает in-memory репозиторий SKU.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{s: store}
}

func stockRow(id int64) string {
	return fmt.Sprintf("stock_units:%d", id)
}

// Create сохраняет SKU; нулевой ID назначается автоматически.
func (r *stockRepository) Create(ctx context.Context, unit domain.StockUnit) (domain.StockUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if unit.ID == 0 {
		unit.ID = r.s.nextID("stock_units")
	} else if _, exists := r.s.state.units[unit.ID]; exists {
		return domain.StockUnit{}, fmt.Errorf("stock unit %d already exists", unit.ID)
	}
	r.s.state.units[unit.ID] = unit
	r.s.onRollback(ctx, func() { delete(r.s.state.units, unit.ID) })
	return unit, nil
}

func (r *stockRepository) Get(_ context.Context, id int64) (domain.StockUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	unit, ok := r.s.state.units[id]
	if !ok {
		return domain.StockUnit{}, domain.ErrStockUnitNotFound
	}
	return unit, nil
}

func (r *stockRepository) GetByIDs(_ context.Context, ids []int64) ([]domain.StockUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	result := make([]domain.StockUnit, 0, len(ids))
	for _, id := range ids {
		if unit, ok := r.s.state.units[id]; ok {
			result = append(result, unit)
		}
	}
	return result, nil
}

func (r *stockRepository) GetForUpdate(ctx context.Context, id int64) (domain.StockUnit, error) {
	unlock, err := r.s.lockRow(ctx, stockRow(id))
	if err != nil {
		return domain.StockUnit{}, err
	}
	defer unlock()

	return r.Get(ctx, id)
}

func (r *stockRepository) Decrement(ctx context.Context, id, quantity int64) (bool, error) {
	unlock, err := r.s.lockRow(ctx, stockRow(id))
	if err != nil {
		return false, err
	}
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.state.units[id]
	if !ok || current.Stock < quantity {
		return false, nil
	}
	updated := current
	updated.Stock -= quantity
	r.s.state.units[id] = updated
	r.s.onRollback(ctx, func() { r.s.state.units[id] = current })
	return true, nil
}

func (r *stockRepository) List(_ context.Context, offset, limit int) ([]domain.StockUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	all := make([]domain.StockUnit, 0, len(r.s.state.units))
	for _, unit := range r.s.state.units {
		all = append(all, unit)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	return paginate(all, offset, limit), nil
}

func (r *stockRepository) ListByProduct(_ context.Context, productID int64) ([]domain.StockUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	units := make([]domain.StockUnit, 0)
	for _, unit := range r.s.state.units {
		if unit.ProductID == productID {
			units = append(units, unit)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
