package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg       domain.OutboxMessage
	committed bool
	updatedAt time.Time
}

// outboxRepositoryInMemory — in-memory хранилище для transactional outbox.
type outboxRepositoryInMemory struct {
	s *Store
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepositoryInMemory{s: store}
}

// Enqueue сохраняет событие со статусом `pending`. Внутри транзакции
// сообщение становится видимым для PullPending только после коммита.
func (r *outboxRepositoryInMemory) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.Status = domain.OutboxStatusPending
	msg.AttemptCount = 0
	msg.CreatedAt = now

	record := &outboxRecord{msg: msg, updatedAt: now}
	r.s.state.outbox[msg.ID] = record
	r.s.onRollback(ctx, func() { delete(r.s.state.outbox, msg.ID) })
	r.s.afterCommit(ctx, func() { record.committed = true })
	return msg, nil
}

// PullPending возвращает до limit закоммиченных сообщений со статусом `pending`, старые первыми.
func (r *outboxRepositoryInMemory) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0)
	for _, rec := range r.s.state.outbox {
		if rec.committed && rec.msg.Status == domain.OutboxStatusPending {
			result = append(result, rec.msg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (r *outboxRepositoryInMemory) Stats(context.Context) (domain.OutboxStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var stats domain.OutboxStats
	for _, rec := range r.s.state.outbox {
		if !rec.committed || rec.msg.Status != domain.OutboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.msg.CreatedAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepositoryInMemory) MarkSent(_ context.Context, id string) error {
	return r.mark(id, domain.OutboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepositoryInMemory) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, domain.OutboxStatusFailed)
}

func (r *outboxRepositoryInMemory) mark(id string, status domain.OutboxStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	record, ok := r.s.state.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.msg.Status = status
	record.msg.AttemptCount++
	record.updatedAt = time.Now().UTC()
	return nil
}
