package postgres

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const orderColumns = `id, user_id, total_price, discount_amount, final_amount, status, version, created_at, updated_at`

type orderRepository struct {
	s *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{s: store}
}

// Create сохраняет заказ, позиции и купон одной транзакцией
// (или в рамках уже открытой).
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.s.WithinTx(ctx, func(ctx context.Context) error {
		q := r.s.conn(ctx)

		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			order.ID, order.UserID, order.TotalPrice, order.DiscountAmount, order.FinalAmount,
			string(order.Status), order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.Wrapf(domain.ErrOrderVersionConflict, "order %s already exists", order.ID)
			}
			return errors.Wrap(err, "insert order")
		}

		for i, line := range order.Lines {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_lines (
					order_id, line_no, product_id, sku_id, product_name, option_name, unit_price, quantity
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`,
				order.ID, i, line.ProductID, line.SKUID, line.ProductName, line.OptionName,
				line.UnitPrice, line.Quantity,
			); err != nil {
				return errors.Wrap(err, "insert order line")
			}
		}

		if c := order.Coupon; c != nil {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_coupons (order_id, user_coupon_id, coupon_id, code, discount_amount)
				VALUES ($1, $2, $3, $4, $5)
			`, order.ID, c.UserCouponID, c.CouponID, c.Code, c.DiscountAmount); err != nil {
				return errors.Wrap(err, "insert order coupon")
			}
		}
		return nil
	})
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := row.Scan(
		&order.ID, &order.UserID, &order.TotalPrice, &order.DiscountAmount, &order.FinalAmount,
		&status, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	order.Status = domain.OrderStatus(status)
	return order, err
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, errors.Wrap(err, "select order")
	}

	if err := r.loadDetails(ctx, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2, 0)
	`, userID, max(limit, 0))
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan order row")
		}
		orders = append(orders, order)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate order rows")
	}

	// Детали догружаются после закрытия курсора: в транзакции нельзя держать два открытых запроса.
	for i := range orders {
		if err := r.loadDetails(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// UpdateStatus меняет статус с проверкой версии.
func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, expectedVersion int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := r.s.conn(ctx)
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND version = $3
	`, id, string(status), expectedVersion)
	if err != nil {
		return errors.Wrap(err, "update order status")
	}

	ok, err := rowsAffected(res)
	if err != nil || ok {
		return err
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "check order exists")
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

func (r *orderRepository) loadDetails(ctx context.Context, order *domain.Order) error {
	lines, err := r.loadLines(ctx, order.ID)
	if err != nil {
		return err
	}
	order.Lines = lines

	var c domain.OrderCoupon
	err = r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT user_coupon_id, coupon_id, code, discount_amount
		FROM order_coupons
		WHERE order_id = $1
	`, order.ID).Scan(&c.UserCouponID, &c.CouponID, &c.Code, &c.DiscountAmount)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		order.Coupon = nil
	case err != nil:
		return errors.Wrap(err, "load order coupon")
	default:
		order.Coupon = &c
	}
	return nil
}

func (r *orderRepository) loadLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT product_id, sku_id, product_name, option_name, unit_price, quantity
		FROM order_lines
		WHERE order_id = $1
		ORDER BY line_no
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "load order lines")
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(
			&line.ProductID, &line.SKUID, &line.ProductName, &line.OptionName, &line.UnitPrice, &line.Quantity,
		); err != nil {
			return nil, errors.Wrap(err, "scan order line")
		}
		lines = append(lines, line)
	}
	return lines, errors.Wrap(rows.Err(), "iterate order lines")
}

type historyRepository struct {
	s *Store
}

// NewOrderHistoryRepository создаёт PostgreSQL-реализацию OrderHistoryRepository.
func NewOrderHistoryRepository(store *Store) domain.OrderHistoryRepository {
	return &historyRepository{s: store}
}

func (r *historyRepository) Append(ctx context.Context, entry domain.OrderHistoryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO order_history (order_id, from_status, to_status, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.OrderID, string(entry.From), string(entry.To), entry.Reason, entry.Occurred.UTC())
	return errors.Wrap(err, "append order history")
}

func (r *historyRepository) List(ctx context.Context, orderID string) ([]domain.OrderHistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT order_id, from_status, to_status, reason, occurred_at
		FROM order_history
		WHERE order_id = $1
		ORDER BY occurred_at, id
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list order history")
	}
	defer rows.Close()

	result := make([]domain.OrderHistoryEntry, 0)
	for rows.Next() {
		var (
			entry    domain.OrderHistoryEntry
			from, to string
		)
		if err := rows.Scan(&entry.OrderID, &from, &to, &entry.Reason, &entry.Occurred); err != nil {
			return nil, errors.Wrap(err, "scan order history")
		}
		entry.From, entry.To = domain.OrderStatus(from), domain.OrderStatus(to)
		result = append(result, entry)
	}
	return result, errors.Wrap(rows.Err(), "iterate order history")
}

var (
	_ domain.OrderRepository        = (*orderRepository)(nil)
	_ domain.OrderHistoryRepository = (*historyRepository)(nil)
)
