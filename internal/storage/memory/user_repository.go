package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type userRepository struct {
	s *Store
}

// NewUserRepository возвращает in-memory репозиторий пользователей.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepository{s: store}
}

func (r *userRepository) Create(ctx context.Context, name string) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.state.userByName[name]; taken {
		return domain.User{}, domain.ErrUserAlreadyExists
	}

	user := domain.User{
		ID:        r.s.nextID("users"),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	r.s.state.users[user.ID] = user
	r.s.state.userByName[name] = user.ID
	r.s.onRollback(ctx, func() {
		delete(r.s.state.users, user.ID)
		delete(r.s.state.userByName, name)
	})
	return user, nil
}

func (r *userRepository) Get(_ context.Context, id int64) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.state.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *userRepository) GetByName(_ context.Context, name string) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.state.userByName[name]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return r.s.state.users[id], nil
}
