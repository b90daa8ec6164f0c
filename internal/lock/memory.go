package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
	timer     *time.Timer
}

// Memory — Locker в памяти процесса. Подходит для одного инстанса и тестов.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*memoryEntry
}

// NewMemory создаёт in-process locker.
func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*memoryEntry)}
}

func (m *Memory) Acquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.locks[key]; ok {
		return false, nil
	}

	entry := &memoryEntry{token: token}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
		entry.timer = time.AfterFunc(ttl, func() { m.expire(key, entry) })
	}
	m.locks[key] = entry
	return true, nil
}

func (m *Memory) expire(key string, entry *memoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Extend мог сдвинуть срок, пока таймер ждал мьютекс.
	if current, ok := m.locks[key]; ok && current == entry && !time.Now().Before(entry.expiresAt) {
		delete(m.locks, key)
	}
}

func (m *Memory) Release(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[key]
	if !ok || entry.token != token {
		return false, nil
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(m.locks, key)
	return true, nil
}

func (m *Memory) Extend(_ context.Context, key, token string, extra time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[key]
	if !ok || entry.token != token {
		return false, nil
	}
	if entry.timer == nil {
		return true, nil
	}

	remaining := time.Until(entry.expiresAt)
	if remaining < 0 {
		remaining = 0
	}
	entry.expiresAt = time.Now().Add(remaining + extra)
	entry.timer.Reset(remaining + extra)
	return true, nil
}

func (m *Memory) IsLocked(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.locks[key]
	return ok, nil
}

func (m *Memory) Owner(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.locks[key]; ok {
		return entry.token, nil
	}
	return "", nil
}

var _ Locker = (*Memory)(nil)
