package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestOutboxRepository_EnqueueAndPull(t *testing.T) {
	store := NewStore()
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventTypeOrderCreated,
		Payload:       []byte(`{"order_id":"order-1"}`),
	}

	saved, err := repo.Enqueue(ctx, msg)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated id")
	}

	pending, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != saved.ID {
		t.Fatalf("expected the saved message, got %+v", pending)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	repo := NewOutboxRepository(NewStore())
	ctx := context.Background()

	saved, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateTypeOrder})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := repo.MarkSent(ctx, saved.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	pending, _ := repo.PullPending(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("sent message must leave backlog, got %d", len(pending))
	}

	if err := repo.MarkFailed(ctx, saved.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "missing"); err == nil {
		t.Fatal("expected error for missing record")
	}
}

func TestOutboxRepository_VisibleOnlyAfterCommit(t *testing.T) {
	store := NewStore()
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	errAbort := errors.New("abort")
	_ = store.WithinTx(ctx, func(txCtx context.Context) error {
		if _, err := repo.Enqueue(txCtx, domain.OutboxMessage{AggregateID: "rolled-back"}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		return errAbort
	})

	err := store.WithinTx(ctx, func(txCtx context.Context) error {
		if _, err := repo.Enqueue(txCtx, domain.OutboxMessage{AggregateID: "committed"}); err != nil {
			return err
		}
		pending, _ := repo.PullPending(ctx, 10)
		if len(pending) != 0 {
			t.Fatalf("uncommitted message leaked to the worker: %+v", pending)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	pending, _ := repo.PullPending(ctx, 10)
	if len(pending) != 1 || pending[0].AggregateID != "committed" {
		t.Fatalf("expected only committed message, got %+v", pending)
	}
}
