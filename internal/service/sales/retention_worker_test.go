package sales

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

var _ domain.SalesRepository = (*stubSalesRepo)(nil)

func TestRetentionWorker_DeleteExpired_Cutoff(t *testing.T) {
	t.Parallel()

	repo := &stubSalesRepo{deleteResults: []int{4}}
	worker := NewRetentionWorker(repo,
		WithRetentionWindow(3),
		WithRetentionClock(func() time.Time { return today }),
	)

	deleted, err := worker.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("unexpected deleted total: got=%d want=4", deleted)
	}

	want := time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC)
	if got := repo.lastCutoff(); !got.Equal(want) {
		t.Fatalf("unexpected cutoff: got=%v want=%v", got, want)
	}
}

func TestRetentionWorker_DeleteExpired_Error(t *testing.T) {
	t.Parallel()

	repo := &stubSalesRepo{deleteErrors: []error{errors.New("boom")}}
	worker := NewRetentionWorker(repo)

	deleted, err := worker.DeleteExpired(context.Background())
	if err == nil {
		t.Fatal("expected DeleteExpired error")
	}
	if deleted != 0 {
		t.Fatalf("unexpected deleted total: got=%d want=0", deleted)
	}
}

func TestRetentionWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &stubSalesRepo{}
	worker := NewRetentionWorker(repo, WithRetentionInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}

	if calls := repo.calls(); calls == 0 {
		t.Fatal("expected cleanup to be called at least once")
	}
}

func TestRetentionWorker_WithMemoryStore(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	repo := memory.NewSalesRepository(store)
	ctx := context.Background()

	for _, day := range []time.Time{today, today.AddDate(0, 0, -3), today.AddDate(0, 0, -4), today.AddDate(0, 0, -9)} {
		if err := repo.Increment(ctx, 10, day); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}

	worker := NewRetentionWorker(repo, WithRetentionClock(func() time.Time { return today }))
	deleted, err := worker.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("unexpected deleted total: got=%d want=2", deleted)
	}

	top, err := repo.TopSelling(ctx, today.AddDate(0, 0, -30), 5)
	if err != nil {
		t.Fatalf("TopSelling failed: %v", err)
	}
	if len(top) != 1 || top[0].SalesCount != 2 {
		t.Fatalf("unexpected remaining sales: %+v", top)
	}
}

type stubSalesRepo struct {
	mu sync.Mutex

	deleteResults []int
	deleteErrors  []error
	callCount     int
	cutoff        time.Time
}

func (s *stubSalesRepo) MarkProcessed(context.Context, string, time.Time) (bool, error) {
	panic("not implemented")
}

func (s *stubSalesRepo) Increment(context.Context, int64, time.Time) error {
	panic("not implemented")
}

func (s *stubSalesRepo) TopSelling(context.Context, time.Time, int) ([]domain.TopSellingProduct, error) {
	panic("not implemented")
}

func (s *stubSalesRepo) DeleteBefore(_ context.Context, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.cutoff = day

	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		if err != nil {
			return 0, err
		}
	}

	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubSalesRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubSalesRepo) lastCutoff() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cutoff
}
