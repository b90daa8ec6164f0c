package postgres

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const stockUnitColumns = `su.id, su.product_id, p.name, su.name, su.price, su.stock`

type stockRepository struct {
	s *Store
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{s: store}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStockUnit(row rowScanner) (domain.StockUnit, error) {
	var unit domain.StockUnit
	err := row.Scan(&unit.ID, &unit.ProductID, &unit.ProductName, &unit.Name, &unit.Price, &unit.Stock)
	return unit, err
}

// Create сохраняет SKU и его товар. Нулевой ID назначается последовательностью.
func (r *stockRepository) Create(ctx context.Context, unit domain.StockUnit) (domain.StockUnit, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.s.WithinTx(ctx, func(ctx context.Context) error {
		q := r.s.conn(ctx)
		if _, err := q.ExecContext(ctx, `
			INSERT INTO products (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		`, unit.ProductID, unit.ProductName); err != nil {
			return errors.Wrap(err, "upsert product")
		}

		if unit.ID == 0 {
			return errors.Wrap(q.QueryRowContext(ctx, `
				INSERT INTO stock_units (product_id, name, price, stock)
				VALUES ($1, $2, $3, $4)
				RETURNING id
			`, unit.ProductID, unit.Name, unit.Price, unit.Stock).Scan(&unit.ID), "insert stock unit")
		}

		if _, err := q.ExecContext(ctx, `
			INSERT INTO stock_units (id, product_id, name, price, stock)
			VALUES ($1, $2, $3, $4, $5)
		`, unit.ID, unit.ProductID, unit.Name, unit.Price, unit.Stock); err != nil {
			if isUniqueViolation(err) {
				return errors.Newf("stock unit %d already exists", unit.ID)
			}
			return errors.Wrap(err, "insert stock unit")
		}
		// Явный ID не должен ломать последующие вставки через BIGSERIAL.
		_, err := q.ExecContext(ctx, `
			SELECT setval(pg_get_serial_sequence('stock_units', 'id'), (SELECT MAX(id) FROM stock_units))
		`)
		return errors.Wrap(err, "sync stock unit sequence")
	})
	if err != nil {
		return domain.StockUnit{}, err
	}
	return unit, nil
}

func (r *stockRepository) Get(ctx context.Context, id int64) (domain.StockUnit, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate блокирует строку SKU до конца транзакции.
func (r *stockRepository) GetForUpdate(ctx context.Context, id int64) (domain.StockUnit, error) {
	return r.get(ctx, id, "FOR UPDATE OF su")
}

func (r *stockRepository) get(ctx context.Context, id int64, lockClause string) (domain.StockUnit, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	unit, err := scanStockUnit(r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+stockUnitColumns+`
		FROM stock_units su
		JOIN products p ON p.id = su.product_id
		WHERE su.id = $1
		`+lockClause, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockUnit{}, domain.ErrStockUnitNotFound
		}
		return domain.StockUnit{}, errors.Wrap(err, "select stock unit")
	}
	return unit, nil
}

func (r *stockRepository) GetByIDs(ctx context.Context, ids []int64) ([]domain.StockUnit, error) {
	if len(ids) == 0 {
		return []domain.StockUnit{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT `+stockUnitColumns+`
		FROM stock_units su
		JOIN products p ON p.id = su.product_id
		WHERE su.id = ANY($1)
		ORDER BY su.id
	`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select stock units")
	}
	return collectStockUnits(rows)
}

// Decrement списывает остаток только при stock >= quantity.
func (r *stockRepository) Decrement(ctx context.Context, id, quantity int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.s.conn(ctx).ExecContext(ctx, `
		UPDATE stock_units
		SET stock = stock - $2
		WHERE id = $1
		  AND stock >= $2
	`, id, quantity)
	if err != nil {
		return false, errors.Wrap(err, "decrement stock")
	}
	return rowsAffected(res)
}

func (r *stockRepository) List(ctx context.Context, offset, limit int) ([]domain.StockUnit, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT `+stockUnitColumns+`
		FROM stock_units su
		JOIN products p ON p.id = su.product_id
		ORDER BY su.id
		OFFSET $1
		LIMIT NULLIF($2, 0)
	`, max(offset, 0), max(limit, 0))
	if err != nil {
		return nil, errors.Wrap(err, "list stock units")
	}
	return collectStockUnits(rows)
}

func (r *stockRepository) ListByProduct(ctx context.Context, productID int64) ([]domain.StockUnit, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT `+stockUnitColumns+`
		FROM stock_units su
		JOIN products p ON p.id = su.product_id
		WHERE su.product_id = $1
		ORDER BY su.id
	`, productID)
	if err != nil {
		return nil, errors.Wrap(err, "list product stock units")
	}
	return collectStockUnits(rows)
}

func collectStockUnits(rows *sql.Rows) ([]domain.StockUnit, error) {
	defer rows.Close()

	result := make([]domain.StockUnit, 0)
	for rows.Next() {
		unit, err := scanStockUnit(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan stock unit")
		}
		result = append(result, unit)
	}
	return result, errors.Wrap(rows.Err(), "iterate stock units")
}

var _ domain.StockRepository = (*stockRepository)(nil)
