// Package memory — транзакционное хранилище в памяти процесса.
//
// Семантика повторяет PostgreSQL настолько, насколько это нужно сервисам:
// изменение существующей строки берёт эксклюзивную блокировку строки
// (внутри транзакции она держится до её конца), GetForUpdate блокирует
// строку явно, откат восстанавливает состояние по undo-журналу.
// Чтение не блокируется и видит незакоммиченные изменения (read uncommitted),
// поэтому условные update по version и по остатку обязательны.
package memory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type txKey struct{}

// txState — состояние открытой транзакции.
type txState struct {
	mu       sync.Mutex
	undo     []func()
	onCommit []func()
	held     map[string]struct{}
}

func txFrom(ctx context.Context) *txState {
	tx, _ := ctx.Value(txKey{}).(*txState)
	return tx
}

// rowLocks — эксклюзивные блокировки строк на каналах ёмкости 1.
type rowLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func (l *rowLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *rowLocks) acquire(ctx context.Context, key string) error {
	select {
	case l.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "wait row lock %s", key)
	}
}

func (l *rowLocks) release(key string) {
	<-l.slot(key)
}

// Store хранит все таблицы сервиса.
type Store struct {
	mu    sync.Mutex
	rows  *rowLocks
	seq   map[string]int64
	log   *log.Entry
	state tables
}

type tables struct {
	users         map[int64]domain.User
	userByName    map[string]int64
	accounts      map[int64]domain.Account
	accountByUser map[int64]int64
	units         map[int64]domain.StockUnit
	coupons       map[int64]domain.Coupon
	userCoupons   map[int64]domain.UserCoupon
	orders        map[string]domain.Order
	history       map[string][]domain.OrderHistoryEntry
	sales         map[salesKey]int64
	processed     map[string]processedMarker
	outbox        map[string]*outboxRecord
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		rows: &rowLocks{slots: make(map[string]chan struct{})},
		seq:  make(map[string]int64),
		log:  log.WithField("component", "memory-store"),
		state: tables{
			users:         make(map[int64]domain.User),
			userByName:    make(map[string]int64),
			accounts:      make(map[int64]domain.Account),
			accountByUser: make(map[int64]int64),
			units:         make(map[int64]domain.StockUnit),
			coupons:       make(map[int64]domain.Coupon),
			userCoupons:   make(map[int64]domain.UserCoupon),
			orders:        make(map[string]domain.Order),
			history:       make(map[string][]domain.OrderHistoryEntry),
			sales:         make(map[salesKey]int64),
			processed:     make(map[string]processedMarker),
			outbox:        make(map[string]*outboxRecord),
		},
	}
}

// WithinTx выполняет fn в транзакции. Если ctx уже несёт транзакцию,
// fn присоединяется к ней. Ошибка или panic в fn откатывают изменения.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx := &txState{held: make(map[string]struct{})}
	txCtx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			s.rollback(tx)
			panic(p)
		}
		if err != nil {
			s.rollback(tx)
			return
		}
		s.commit(tx)
	}()

	return fn(txCtx)
}

func (s *Store) commit(tx *txState) {
	tx.mu.Lock()
	hooks := tx.onCommit
	tx.mu.Unlock()

	s.mu.Lock()
	for _, hook := range hooks {
		hook()
	}
	s.mu.Unlock()

	s.releaseRows(tx)
}

func (s *Store) rollback(tx *txState) {
	tx.mu.Lock()
	undo := tx.undo
	tx.mu.Unlock()

	s.mu.Lock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	s.mu.Unlock()

	s.releaseRows(tx)
	s.log.WithField("undo_steps", len(undo)).Debug("transaction rolled back")
}

func (s *Store) releaseRows(tx *txState) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	for key := range tx.held {
		s.rows.release(key)
	}
	tx.held = nil
}

// lockRow берёт блокировку строки. Внутри транзакции блокировка
// удерживается до её завершения и повторный захват не блокирует.
// Вне транзакции возвращённая функция освобождает строку.
func (s *Store) lockRow(ctx context.Context, key string) (func(), error) {
	tx := txFrom(ctx)
	if tx == nil {
		if err := s.rows.acquire(ctx, key); err != nil {
			return nil, err
		}
		return func() { s.rows.release(key) }, nil
	}

	tx.mu.Lock()
	_, held := tx.held[key]
	tx.mu.Unlock()
	if held {
		return func() {}, nil
	}

	if err := s.rows.acquire(ctx, key); err != nil {
		return nil, err
	}
	tx.mu.Lock()
	tx.held[key] = struct{}{}
	tx.mu.Unlock()
	return func() {}, nil
}

// onRollback регистрирует undo-шаг. Вызывается под s.mu; шаг выполняется под s.mu.
func (s *Store) onRollback(ctx context.Context, undo func()) {
	tx := txFrom(ctx)
	if tx == nil {
		return
	}
	tx.mu.Lock()
	tx.undo = append(tx.undo, undo)
	tx.mu.Unlock()
}

// afterCommit регистрирует действие после коммита; вне транзакции выполняет его сразу.
// Вызывается под s.mu; действие выполняется под s.mu.
func (s *Store) afterCommit(ctx context.Context, hook func()) {
	tx := txFrom(ctx)
	if tx == nil {
		hook()
		return
	}
	tx.mu.Lock()
	tx.onCommit = append(tx.onCommit, hook)
	tx.mu.Unlock()
}

// nextID выдаёт следующий идентификатор таблицы. Вызывается под s.mu.
func (s *Store) nextID(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

// Ping всегда успешен; нужен для health-check.
func (s *Store) Ping(context.Context) error {
	return nil
}

var _ domain.TxManager = (*Store)(nil)
