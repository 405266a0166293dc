// Package locks provides short-lived mutual exclusion around scheduler
// claims and webhook deliveries.
//
// The database claim is the source of truth for single-flight execution.
// A lock in front of it keeps concurrent pollers from racing for the same
// row. RedsyncManager coordinates across instances through Redis and
// LocalManager coordinates goroutines within one process.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Lock is a held lock.
type Lock interface {
	Key() string
	Release(ctx context.Context) error
	IsHeld() bool
}

// Manager hands out locks. TryAcquire never blocks waiting for a holder:
// it reports false when the key is already locked.
type Manager interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error)
	Close() error
}

func AutomationKey(id string) string { return fmt.Sprintf("automation:%s", id) }

func TaskKey(id string) string { return fmt.Sprintf("task:%s", id) }

func WebhookKey(id string) string { return fmt.Sprintf("webhook:%s", id) }

// LocalManager is an in-process Manager. Locks expire after their ttl even
// if never released.
type LocalManager struct {
	mu    sync.Mutex
	held  map[string]*localLock
	now   func() time.Time
	token uint64
}

type localLock struct {
	manager *LocalManager
	key     string
	token   uint64
	expires time.Time
}

func NewLocalManager() *LocalManager {
	return &LocalManager{held: make(map[string]*localLock), now: time.Now}
}

func (m *LocalManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.held[key]; ok && now.Before(existing.expires) {
		return nil, false, nil
	}

	m.token++
	lock := &localLock{manager: m, key: key, token: m.token, expires: now.Add(ttl)}
	m.held[key] = lock
	return lock, true, nil
}

func (m *LocalManager) Close() error {
	m.mu.Lock()
	m.held = make(map[string]*localLock)
	m.mu.Unlock()
	return nil
}

func (l *localLock) Key() string { return l.key }

func (l *localLock) Release(ctx context.Context) error {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()
	if current, ok := l.manager.held[l.key]; ok && current.token == l.token {
		delete(l.manager.held, l.key)
	}
	return nil
}

func (l *localLock) IsHeld() bool {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()
	current, ok := l.manager.held[l.key]
	return ok && current.token == l.token && l.manager.now().Before(current.expires)
}

var (
	_ Manager = (*LocalManager)(nil)
	_ Manager = (*RedsyncManager)(nil)
)
