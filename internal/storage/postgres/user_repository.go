package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type userRepository struct {
	s *Store
}

// NewUserRepository создаёт PostgreSQL-реализацию UserRepository.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepository{s: store}
}

func (r *userRepository) Create(ctx context.Context, name string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	user := domain.User{Name: name}
	err := r.s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO users (name, created_at)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, name, time.Now().UTC()).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, errors.Mark(errors.Newf("user %q already exists", name), domain.ErrUserAlreadyExists)
		}
		return domain.User{}, errors.Wrap(err, "insert user")
	}
	return user, nil
}

func (r *userRepository) Get(ctx context.Context, id int64) (domain.User, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *userRepository) GetByName(ctx context.Context, name string) (domain.User, error) {
	return r.get(ctx, "name = $1", name)
}

func (r *userRepository) get(ctx context.Context, where string, arg any) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var user domain.User
	err := r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, created_at
		FROM users
		WHERE `+where, arg).Scan(&user.ID, &user.Name, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, errors.Wrap(err, "select user")
	}
	return user, nil
}

var _ domain.UserRepository = (*userRepository)(nil)
