package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payments-api/internal/models"
)

// Locker serializes balance-affecting work per account. Acquire blocks until
// the key is held or the wait bound expires, in which case it returns
// models.ErrConcurrencyConflict. No caller blocks indefinitely.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedLocker is an in-process Locker backed by one slot per key. It is the
// default for single-instance deployments and for tests.
type KeyedLocker struct {
	mu      sync.Mutex
	slots   map[string]chan struct{}
	maxWait time.Duration
}

func NewKeyedLocker(maxWait time.Duration) *KeyedLocker {
	return &KeyedLocker{
		slots:   make(map[string]chan struct{}),
		maxWait: maxWait,
	}
}

func (l *KeyedLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *KeyedLocker) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)

	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: lock wait exceeded for %s", models.ErrConcurrencyConflict, key)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", models.ErrConcurrencyConflict, ctx.Err())
	}
}
