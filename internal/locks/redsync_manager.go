package locks

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/redis"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// RedsyncManager implements Manager with the Redlock algorithm from
// go-redsync. Held locks are renewed in the background at a third of their
// ttl until released.
type RedsyncManager struct {
	redsync    *redsync.Redsync
	localLocks map[string]*RedsyncLock
	mutex      sync.Mutex
}

// RedsyncLock wraps a redsync.Mutex with automatic renewal.
type RedsyncLock struct {
	mutex   *redsync.Mutex
	key     string
	ttl     time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	manager *RedsyncManager
	once    sync.Once
}

// NewRedsyncManager creates a lock manager over a connected Redis client.
func NewRedsyncManager(redisClient *redis.Client) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GoRedis())

	return &RedsyncManager{
		redsync:    redsync.New(pool),
		localLocks: make(map[string]*RedsyncLock),
	}, nil
}

// TryAcquire makes a single attempt to take key. A key held elsewhere is
// reported as (nil, false, nil).
func (rm *RedsyncManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	mutex := rm.redsync.NewMutex(fmt.Sprintf("lock:%s", key),
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if stderrors.Is(err, redsync.ErrFailed) || stderrors.As(err, &taken) {
			return nil, false, nil
		}
		return nil, false, errors.InfrastructureError("acquire distributed lock", err)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		mutex:   mutex,
		key:     key,
		ttl:     ttl,
		ctx:     lockCtx,
		cancel:  cancel,
		manager: rm,
	}

	rm.mutex.Lock()
	rm.localLocks[key] = lock
	rm.mutex.Unlock()

	go rm.renewLock(lock)

	return lock, true, nil
}

func (rm *RedsyncManager) renewLock(lock *RedsyncLock) {
	renewInterval := lock.ttl / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				lock.release(context.Background())
				return
			}
		}
	}
}

// Close releases every lock still held by this manager.
func (rm *RedsyncManager) Close() error {
	rm.mutex.Lock()
	held := make([]*RedsyncLock, 0, len(rm.localLocks))
	for _, lock := range rm.localLocks {
		held = append(held, lock)
	}
	rm.mutex.Unlock()

	for _, lock := range held {
		lock.release(context.Background())
	}
	return nil
}

func (rl *RedsyncLock) Key() string {
	return rl.key
}

// Release stops renewal and deletes the key in Redis. It is safe to call
// more than once.
func (rl *RedsyncLock) Release(ctx context.Context) error {
	return rl.release(ctx)
}

func (rl *RedsyncLock) release(ctx context.Context) error {
	var err error
	rl.once.Do(func() {
		rl.cancel()

		rl.manager.mutex.Lock()
		if current, ok := rl.manager.localLocks[rl.key]; ok && current == rl {
			delete(rl.manager.localLocks, rl.key)
		}
		rl.manager.mutex.Unlock()

		unlockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, unlockErr := rl.mutex.UnlockContext(unlockCtx); unlockErr != nil {
			err = errors.InfrastructureError("release distributed lock", unlockErr)
		}
	})
	return err
}

func (rl *RedsyncLock) IsHeld() bool {
	select {
	case <-rl.ctx.Done():
		return false
	default:
		return true
	}
}
