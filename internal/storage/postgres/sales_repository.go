package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type salesRepository struct {
	s *Store
}

// NewSalesRepository создаёт PostgreSQL-реализацию SalesRepository.
func NewSalesRepository(store *Store) domain.SalesRepository {
	return &salesRepository{s: store}
}

// MarkProcessed — отметка о повторной доставке события: вставка без конфликта означает первый раз.
func (r *salesRepository) MarkProcessed(ctx context.Context, orderID string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO sales_processed_orders (order_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING
	`, orderID, at.UTC())
	if err != nil {
		return false, errors.Wrap(err, "mark order processed")
	}
	return rowsAffected(res)
}

func (r *salesRepository) Increment(ctx context.Context, productID int64, day time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO product_sales_daily (product_id, sales_date, sales_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (product_id, sales_date)
		DO UPDATE SET sales_count = product_sales_daily.sales_count + 1
	`, productID, domain.SalesDay(day))
	return errors.Wrap(err, "increment product sales")
}

func (r *salesRepository) TopSelling(ctx context.Context, since time.Time, limit int) ([]domain.TopSellingProduct, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT s.product_id, COALESCE(p.name, ''), SUM(s.sales_count) AS total
		FROM product_sales_daily s
		LEFT JOIN products p ON p.id = s.product_id
		WHERE s.sales_date >= $1
		GROUP BY s.product_id, p.name
		ORDER BY total DESC, s.product_id ASC
		LIMIT NULLIF($2, 0)
	`, domain.SalesDay(since), max(limit, 0))
	if err != nil {
		return nil, errors.Wrap(err, "query top selling products")
	}
	defer rows.Close()

	result := make([]domain.TopSellingProduct, 0)
	for rows.Next() {
		var p domain.TopSellingProduct
		if err := rows.Scan(&p.ProductID, &p.ProductName, &p.SalesCount); err != nil {
			return nil, errors.Wrap(err, "scan top selling product")
		}
		result = append(result, p)
	}
	return result, errors.Wrap(rows.Err(), "iterate top selling products")
}

func (r *salesRepository) DeleteBefore(ctx context.Context, day time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	day = domain.SalesDay(day)
	deleted := 0
	err := r.s.WithinTx(ctx, func(ctx context.Context) error {
		q := r.s.conn(ctx)
		res, err := q.ExecContext(ctx, `DELETE FROM product_sales_daily WHERE sales_date < $1`, day)
		if err != nil {
			return errors.Wrap(err, "delete old sales")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "rows affected")
		}
		deleted = int(n)

		_, err = q.ExecContext(ctx, `DELETE FROM sales_processed_orders WHERE processed_at < $1`, day)
		return errors.Wrap(err, "delete old processed markers")
	})
	return deleted, err
}

var _ domain.SalesRepository = (*salesRepository)(nil)
