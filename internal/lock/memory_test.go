package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryAcquireRelease(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if ok, _ := m.Acquire(ctx, "k", "a", time.Second); !ok {
		t.Fatal("expected acquire")
	}
	if ok, _ := m.Acquire(ctx, "k", "b", time.Second); ok {
		t.Fatal("expected busy")
	}
	if released, _ := m.Release(ctx, "k", "b"); released {
		t.Fatal("foreign token released lock")
	}
	if owner, _ := m.Owner(ctx, "k"); owner != "a" {
		t.Fatalf("unexpected owner %q", owner)
	}
	if released, _ := m.Release(ctx, "k", "a"); !released {
		t.Fatal("owner failed to release")
	}
	if locked, _ := m.IsLocked(ctx, "k"); locked {
		t.Fatal("expected free lock")
	}
}

func TestMemoryTTLAndExtend(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if ok, _ := m.Acquire(ctx, "short", "a", 20*time.Millisecond); !ok {
		t.Fatal("expected acquire")
	}
	time.Sleep(60 * time.Millisecond)
	if locked, _ := m.IsLocked(ctx, "short"); locked {
		t.Fatal("expected lock to expire")
	}

	if ok, _ := m.Acquire(ctx, "long", "a", 30*time.Millisecond); !ok {
		t.Fatal("expected acquire")
	}
	if extended, _ := m.Extend(ctx, "long", "a", 200*time.Millisecond); !extended {
		t.Fatal("expected extend")
	}
	time.Sleep(60 * time.Millisecond)
	if locked, _ := m.IsLocked(ctx, "long"); !locked {
		t.Fatal("extended lock expired too early")
	}
}

func TestMemoryMutualExclusion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ok, _ := m.Acquire(ctx, "contended", NewToken("test", int64(i), ""), time.Second); ok {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
}
