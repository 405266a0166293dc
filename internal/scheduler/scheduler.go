// Package scheduler polls for due automations and scheduled tasks and runs
// each one at most once per tick.
//
// A unit moves idle -> due -> running -> succeeded/failed -> idle. Entering
// running takes a lock from locks.Manager and then an atomic claim on the
// row with a lease; the claim is the source of truth and an expired lease
// makes the row claimable again after a crash.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"automation-engine/internal/common/clock"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/common/utils"
	"automation-engine/internal/dispatch"
	"automation-engine/internal/locks"
	"automation-engine/internal/schedule"
	"automation-engine/internal/storage"
)

// Store is the persistence the scheduler needs.
type Store interface {
	storage.AutomationStore
	storage.TaskStore
	storage.RunLedger
}

// Dispatcher runs one unit. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.RunResult
}

// Options configures a Scheduler. Zero values take the defaults noted.
type Options struct {
	PollInterval time.Duration // 5s
	Workers      int           // 4
	BatchSize    int           // 50
	ClaimLease   time.Duration // 5m

	Planner *schedule.Planner
	Locks   locks.Manager
	Clock   clock.Clock
	Logger  logging.Logger
}

type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	opts       Options

	slots  chan struct{}
	wg     sync.WaitGroup
	logger logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(store Store, d Dispatcher, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 5 * time.Minute
	}
	if opts.Planner == nil {
		opts.Planner = schedule.NewPlanner(time.UTC)
	}
	if opts.Locks == nil {
		opts.Locks = locks.NewLocalManager()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	return &Scheduler{
		store:      store,
		dispatcher: d,
		opts:       opts,
		slots:      make(chan struct{}, opts.Workers),
		logger:     opts.Logger.WithFields(logging.String("component", "scheduler")),
	}
}

// Start recovers interrupted runs and then polls until Stop or ctx
// cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.ConflictError("scheduler already started")
	}

	if _, err := s.Recover(ctx); err != nil {
		s.logger.Error("Failed to recover interrupted runs", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)

	s.logger.Info("Scheduler started",
		logging.Duration("poll_interval", s.opts.PollInterval),
		logging.Int("workers", s.opts.Workers),
		logging.String("timezone", s.opts.Planner.Location().String()))
	return nil
}

// Stop ends the poll loop and waits for running units. A running dispatch
// is never aborted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Wait blocks until every unit started so far has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Recover closes runs left running by a previous process for longer than
// the claim lease.
func (s *Scheduler) Recover(ctx context.Context) (int64, error) {
	now := s.opts.Clock.Now()
	n, err := s.store.RecoverInterruptedRuns(ctx, now.Add(-s.opts.ClaimLease), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("Closed interrupted runs", logging.Int64("count", n))
	}
	return n, nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims due automations and then due tasks, up to the number of free
// workers, and starts running them. It returns the number started.
func (s *Scheduler) Poll(ctx context.Context) int {
	started := s.pollAutomations(ctx)
	return started + s.pollTasks(ctx)
}

func (s *Scheduler) free() int {
	free := cap(s.slots) - len(s.slots)
	if free > s.opts.BatchSize {
		free = s.opts.BatchSize
	}
	return free
}

func (s *Scheduler) pollAutomations(ctx context.Context) int {
	limit := s.free()
	if limit <= 0 {
		return 0
	}
	now := s.opts.Clock.Now()
	due, err := s.store.ListDueAutomations(ctx, now, limit)
	if err != nil {
		s.logger.Error("Failed to list due automations", err)
		return 0
	}

	started := 0
	for _, a := range due {
		a := a
		if s.start(ctx, locks.AutomationKey(a.ID), func(token string) (bool, error) {
			return s.store.ClaimAutomation(ctx, storage.Claim{ID: a.ID, Token: token, Now: now, LeaseUntil: now.Add(s.opts.ClaimLease)})
		}, func(ctx context.Context, token string) {
			s.runAutomation(ctx, a, token)
		}) {
			started++
		}
	}
	return started
}

func (s *Scheduler) pollTasks(ctx context.Context) int {
	limit := s.free()
	if limit <= 0 {
		return 0
	}
	now := s.opts.Clock.Now()
	due, err := s.store.ListDueTasks(ctx, now, limit)
	if err != nil {
		s.logger.Error("Failed to list due tasks", err)
		return 0
	}

	started := 0
	for _, t := range due {
		t := t
		if s.start(ctx, locks.TaskKey(t.ID), func(token string) (bool, error) {
			return s.store.ClaimTask(ctx, storage.Claim{ID: t.ID, Token: token, Now: now, LeaseUntil: now.Add(s.opts.ClaimLease)})
		}, func(ctx context.Context, token string) {
			s.runTask(ctx, t, token)
		}) {
			started++
		}
	}
	return started
}

// start takes a worker slot, the lock and the claim, in that order, and
// runs fn on its own goroutine. Any step failing leaves the unit idle.
func (s *Scheduler) start(ctx context.Context, key string, claim func(token string) (bool, error), fn func(ctx context.Context, token string)) bool {
	select {
	case s.slots <- struct{}{}:
	default:
		return false
	}

	lock, ok, err := s.opts.Locks.TryAcquire(ctx, key, s.opts.ClaimLease)
	if err != nil || !ok {
		<-s.slots
		if err != nil {
			s.logger.Error("Failed to acquire unit lock", err, logging.String("key", key))
		}
		return false
	}

	token := utils.GenerateClaimToken()
	claimed, err := claim(token)
	if err != nil || !claimed {
		s.releaseLock(ctx, lock)
		<-s.slots
		if err != nil {
			s.logger.Error("Failed to claim unit", err, logging.String("key", key))
		}
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()
		// The claim is ours; finish the bookkeeping even during shutdown.
		runCtx := context.WithoutCancel(ctx)
		defer s.releaseLock(runCtx, lock)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Scheduled unit panicked", fmt.Errorf("%v", r), logging.String("key", key))
			}
		}()
		fn(runCtx, token)
	}()
	return true
}

func (s *Scheduler) releaseLock(ctx context.Context, lock locks.Lock) {
	if err := lock.Release(ctx); err != nil {
		s.logger.Warn("Failed to release unit lock", logging.String("key", lock.Key()), logging.Err(err))
	}
}
