package cache

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/ristretto"
	log "github.com/sirupsen/logrus"
)

const localBackend = "local"

// Local — кеш в памяти процесса на ristretto.
//
// ristretto не умеет перечислять ключи, поэтому Local ведёт собственный
// индекс ключей для DelPattern. Значения хранятся в JSON, как в Redis, чтобы
// читатели не делили один объект.
type Local struct {
	store  *ristretto.Cache
	logger *log.Entry

	mu   sync.Mutex
	keys map[string]time.Time
}

// NewLocal создаёт локальный кеш.
func NewLocal(logger *log.Entry) (*Local, error) {
	if logger == nil {
		logger = log.WithField("component", "local-cache")
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create ristretto cache")
	}
	return &Local{store: store, logger: logger, keys: make(map[string]time.Time)}, nil
}

func (l *Local) Get(_ context.Context, key string, dst any) bool {
	raw, ok := l.store.Get(key)
	if !ok {
		observeLookup(localBackend, false)
		return false
	}
	data, _ := raw.([]byte)
	if err := json.Unmarshal(data, dst); err != nil {
		reportError(l.logger, localBackend, "decode", key, err)
		observeLookup(localBackend, false)
		return false
	}
	observeLookup(localBackend, true)
	return true
}

func (l *Local) Set(_ context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		reportError(l.logger, localBackend, "encode", key, err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.store.SetWithTTL(key, data, int64(len(data)), ttl) {
		reportError(l.logger, localBackend, "set", key, errors.New("ristretto dropped the write"))
		return
	}
	// Wait под мьютексом: Del из DelPattern не должен обогнать буфер записи.
	l.store.Wait()
	l.keys[key] = time.Now().Add(ttl)
}

func (l *Local) Del(_ context.Context, keys ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range keys {
		l.store.Del(key)
		delete(l.keys, key)
	}
	l.store.Wait()
}

func (l *Local) DelPattern(_ context.Context, pattern string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, expiresAt := range l.keys {
		if now.After(expiresAt) {
			delete(l.keys, key)
			continue
		}
		matched, err := path.Match(pattern, key)
		if err != nil {
			reportError(l.logger, localBackend, "del_pattern", pattern, err)
			return
		}
		if matched {
			l.store.Del(key)
			delete(l.keys, key)
		}
	}
	l.store.Wait()
}

// Close освобождает ресурсы ristretto.
func (l *Local) Close() {
	l.store.Close()
}

var _ Cache = (*Local)(nil)
