package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const couponColumns = `c.id, c.code, c.name, c.discount_amount, c.remaining_stock, c.expiry_date, c.status`

type couponRepository struct {
	s *Store
}

// NewCouponRepository создаёт PostgreSQL-реализацию CouponRepository.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{s: store}
}

func scanCoupon(row rowScanner, extra ...any) (domain.Coupon, error) {
	var (
		coupon domain.Coupon
		expiry sql.NullTime
		status string
	)
	dest := append([]any{
		&coupon.ID, &coupon.Code, &coupon.Name, &coupon.DiscountAmount,
		&coupon.RemainingStock, &expiry, &status,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Coupon{}, err
	}
	if expiry.Valid {
		coupon.ExpiryDate = expiry.Time.UTC()
	}
	coupon.Status = domain.CouponStatus(status)
	return coupon, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func (r *couponRepository) Create(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	if coupon.Status == "" {
		coupon.Status = domain.CouponStatusAvailable
	}

	var err error
	if coupon.ID == 0 {
		err = r.s.conn(ctx).QueryRowContext(ctx, `
			INSERT INTO coupons (code, name, discount_amount, remaining_stock, expiry_date, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, coupon.Code, coupon.Name, coupon.DiscountAmount, coupon.RemainingStock,
			nullTime(coupon.ExpiryDate), string(coupon.Status)).Scan(&coupon.ID)
	} else {
		_, err = r.s.conn(ctx).ExecContext(ctx, `
			INSERT INTO coupons (id, code, name, discount_amount, remaining_stock, expiry_date, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, coupon.ID, coupon.Code, coupon.Name, coupon.DiscountAmount, coupon.RemainingStock,
			nullTime(coupon.ExpiryDate), string(coupon.Status))
	}
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Coupon{}, errors.Newf("coupon code %s already exists", coupon.Code)
		}
		return domain.Coupon{}, errors.Wrap(err, "insert coupon")
	}
	return coupon, nil
}

func (r *couponRepository) Get(ctx context.Context, id int64) (domain.Coupon, error) {
	return r.get(ctx, id, "")
}

func (r *couponRepository) GetForUpdate(ctx context.Context, id int64) (domain.Coupon, error) {
	return r.get(ctx, id, "FOR UPDATE")
}

func (r *couponRepository) get(ctx context.Context, id int64, lockClause string) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	coupon, err := scanCoupon(r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons c
		WHERE c.id = $1
		`+lockClause, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, errors.Wrap(err, "select coupon")
	}
	return coupon, nil
}

func (r *couponRepository) DecrementRemaining(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.s.conn(ctx).ExecContext(ctx, `
		UPDATE coupons
		SET remaining_stock = remaining_stock - 1
		WHERE id = $1
		  AND remaining_stock > 0
	`, id)
	if err != nil {
		return false, errors.Wrap(err, "decrement coupon stock")
	}
	return rowsAffected(res)
}

func (r *couponRepository) ListAvailable(ctx context.Context, now time.Time, offset, limit int) ([]domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons c
		WHERE c.status = 'AVAILABLE'
		  AND (c.expiry_date IS NULL OR c.expiry_date >= $1)
		ORDER BY c.id
		OFFSET $2
		LIMIT NULLIF($3, 0)
	`, now.UTC(), max(offset, 0), max(limit, 0))
	if err != nil {
		return nil, errors.Wrap(err, "list available coupons")
	}
	defer rows.Close()

	result := make([]domain.Coupon, 0)
	for rows.Next() {
		coupon, err := scanCoupon(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan coupon")
		}
		result = append(result, coupon)
	}
	return result, errors.Wrap(rows.Err(), "iterate coupons")
}

type userCouponRepository struct {
	s *Store
}

// NewUserCouponRepository создаёт PostgreSQL-реализацию UserCouponRepository.
func NewUserCouponRepository(store *Store) domain.UserCouponRepository {
	return &userCouponRepository{s: store}
}

func scanIssuedCoupon(row rowScanner) (domain.IssuedCoupon, error) {
	var (
		issued domain.IssuedCoupon
		status string
		usedAt sql.NullTime
	)
	uc := &issued.UserCoupon
	coupon, err := scanCoupon(row, &uc.ID, &uc.UserID, &uc.CouponID, &status, &usedAt, &uc.IssuedAt)
	if err != nil {
		return domain.IssuedCoupon{}, err
	}
	issued.Coupon = coupon
	uc.Status = domain.UserCouponStatus(status)
	if usedAt.Valid {
		t := usedAt.Time.UTC()
		uc.UsedAt = &t
	}
	return issued, nil
}

const issuedCouponQuery = `
	SELECT ` + couponColumns + `, uc.id, uc.user_id, uc.coupon_id, uc.status, uc.used_at, uc.issued_at
	FROM user_coupons uc
	JOIN coupons c ON c.id = uc.coupon_id
`

func (r *userCouponRepository) Exists(ctx context.Context, userID, couponID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	err := r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_coupons WHERE user_id = $1 AND coupon_id = $2)
	`, userID, couponID).Scan(&exists)
	return exists, errors.Wrap(err, "check user coupon")
}

// Create опирается на constraint uq_user_coupons_user_coupon.
func (r *userCouponRepository) Create(ctx context.Context, uc domain.UserCoupon) (domain.UserCoupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if uc.Status == "" {
		uc.Status = domain.UserCouponStatusAvailable
	}
	if uc.IssuedAt.IsZero() {
		uc.IssuedAt = time.Now().UTC()
	}

	err := r.s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO user_coupons (user_id, coupon_id, status, issued_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, uc.UserID, uc.CouponID, string(uc.Status), uc.IssuedAt).Scan(&uc.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.UserCoupon{}, domain.ErrDuplicateIssuance
		}
		return domain.UserCoupon{}, errors.Wrap(err, "insert user coupon")
	}
	return uc, nil
}

func (r *userCouponRepository) FindAvailableByCode(ctx context.Context, userID int64, code string, forUpdate bool) (domain.IssuedCoupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := issuedCouponQuery + `
		WHERE uc.user_id = $1
		  AND uc.status = 'AVAILABLE'
		  AND c.code = $2
		ORDER BY uc.id
		LIMIT 1
	`
	if forUpdate {
		query += " FOR UPDATE OF uc"
	}

	issued, err := scanIssuedCoupon(r.s.conn(ctx).QueryRowContext(ctx, query, userID, domain.NormalizeCouponCode(code)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IssuedCoupon{}, domain.ErrCouponUnusable
		}
		return domain.IssuedCoupon{}, errors.Wrap(err, "find user coupon")
	}
	return issued, nil
}

// MarkUsed переводит купон в USED только из AVAILABLE.
func (r *userCouponRepository) MarkUsed(ctx context.Context, id int64, usedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.s.conn(ctx).ExecContext(ctx, `
		UPDATE user_coupons
		SET status = 'USED',
		    used_at = $2
		WHERE id = $1
		  AND status = 'AVAILABLE'
	`, id, usedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "mark user coupon used")
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrCouponUnusable
	}
	return nil
}

func (r *userCouponRepository) ListByUser(ctx context.Context, userID int64) ([]domain.IssuedCoupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, issuedCouponQuery+`
		WHERE uc.user_id = $1
		ORDER BY uc.id
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user coupons")
	}
	defer rows.Close()

	result := make([]domain.IssuedCoupon, 0)
	for rows.Next() {
		issued, err := scanIssuedCoupon(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan user coupon")
		}
		result = append(result, issued)
	}
	return result, errors.Wrap(rows.Err(), "iterate user coupons")
}

var (
	_ domain.CouponRepository     = (*couponRepository)(nil)
	_ domain.UserCouponRepository = (*userCouponRepository)(nil)
)
