// Package events is the event source boundary. Producers submit an event
// type and an opaque context; every active event automation listening for
// that type has its trigger filter evaluated and, on a match, its action
// dispatched.
package events

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/dispatch"
	"automation-engine/internal/filter"
	"automation-engine/internal/storage"
)

var (
	// ErrSuppressed is returned when an event is submitted from inside a
	// dispatch. Actions cannot re-enter the event path.
	ErrSuppressed = stderrors.New("events: recursive trigger suppressed")
	// ErrQueueFull is returned by Enqueue when the async queue is at capacity.
	ErrQueueFull = stderrors.New("events: queue full")
)

// Store is the persistence the service needs.
type Store interface {
	ListEventAutomations(ctx context.Context, eventType string) ([]*storage.Automation, error)
	storage.RunLedger
}

// Dispatcher runs a matched automation's action.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.RunResult
}

// Outcome reports what one candidate automation did with an event.
type Outcome struct {
	AutomationID   string              `json:"automation_id"`
	AutomationName string              `json:"automation_name"`
	Matched        bool                `json:"matched"`
	Warnings       []filter.Warning    `json:"warnings,omitempty"`
	Run            *dispatch.RunResult `json:"run,omitempty"`
}

type Options struct {
	QueueSize int // 1024
	Workers   int // 4
	Logger    logging.Logger
}

type job struct {
	eventType string
	context   interface{}
}

type compiled struct {
	updatedAt time.Time
	filter    *filter.Filter
}

type Service struct {
	store      Store
	dispatcher Dispatcher
	opts       Options
	logger     logging.Logger

	queue   chan job
	filters sync.Map // automation id -> compiled

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store Store, d Dispatcher, opts Options) *Service {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	return &Service{
		store:      store,
		dispatcher: d,
		opts:       opts,
		logger:     opts.Logger.WithFields(logging.String("component", "event_service")),
		queue:      make(chan job, opts.QueueSize),
	}
}

// Submit evaluates and dispatches synchronously. Outcomes are returned in
// the order the store listed the candidate automations.
func (s *Service) Submit(ctx context.Context, eventType string, eventCtx interface{}) ([]Outcome, error) {
	if dispatch.TriggersSuppressed(ctx) {
		s.logger.Debug("Dropped event submitted from a dispatch", logging.String("event_type", eventType))
		return nil, ErrSuppressed
	}
	if eventType == "" {
		return nil, errors.ValidationError("event_type is required")
	}

	candidates, err := s.store.ListEventAutomations(ctx, eventType)
	if err != nil {
		return nil, errors.InfrastructureError("list event automations", err)
	}

	logger := s.logger.WithFields(logging.String("event_type", eventType))
	outcomes := make([]Outcome, 0, len(candidates))
	for _, a := range candidates {
		out := Outcome{AutomationID: a.ID, AutomationName: a.Name}

		f := s.filterFor(a)
		out.Warnings = f.Warnings
		if !f.Matches(eventCtx) {
			outcomes = append(outcomes, out)
			continue
		}

		out.Matched = true
		res := s.dispatcher.Dispatch(ctx, dispatch.Request{
			Module:   a.ActionModule,
			Template: a.ActionPayload,
			Context:  eventCtx,
			System: dispatch.System{
				AutomationID: a.ID,
				EventType:    eventType,
				Trigger:      string(storage.TriggerEvent),
			},
			Ledger: dispatch.AutomationLedger{
				Store:        s.store,
				AutomationID: a.ID,
				Trigger:      storage.TriggerEvent,
				EventType:    eventType,
				Module:       a.ActionModule,
			},
		})
		out.Run = &res
		outcomes = append(outcomes, out)
	}

	logger.Debug("Event evaluated",
		logging.Int("candidates", len(candidates)),
		logging.Int("dispatched", countMatched(outcomes)))
	return outcomes, nil
}

// filterFor decodes an automation's filter once per revision.
func (s *Service) filterFor(a *storage.Automation) *filter.Filter {
	if v, ok := s.filters.Load(a.ID); ok {
		c := v.(compiled)
		if c.updatedAt.Equal(a.UpdatedAt) {
			return c.filter
		}
	}
	f := filter.CompileJSON(a.TriggerFilter)
	for _, w := range f.Warnings {
		s.logger.Warn("Malformed trigger filter",
			logging.String("automation_id", a.ID),
			logging.String("path", w.Path),
			logging.String("problem", w.Message))
	}
	s.filters.Store(a.ID, compiled{updatedAt: a.UpdatedAt, filter: f})
	return f
}

func countMatched(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Matched {
			n++
		}
	}
	return n
}

// Enqueue hands an event to the async workers without blocking.
func (s *Service) Enqueue(ctx context.Context, eventType string, eventCtx interface{}) error {
	if dispatch.TriggersSuppressed(ctx) {
		return ErrSuppressed
	}
	if eventType == "" {
		return errors.ValidationError("event_type is required")
	}
	select {
	case s.queue <- job{eventType: eventType, context: eventCtx}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued events.
func (s *Service) Pending() int {
	return len(s.queue)
}

// Start runs the queue workers until Stop or ctx cancellation.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.ConflictError("event service already started")
	}
	workCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.work(workCtx)
	}
	s.logger.Info("Event workers started",
		logging.Int("workers", s.opts.Workers),
		logging.Int("queue_size", cap(s.queue)))
	return nil
}

// Stop ends the workers after they drain the queue.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("Event workers stopped")
}

func (s *Service) work(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case j := <-s.queue:
			s.handle(ctx, j)
		case <-ctx.Done():
			for {
				select {
				case j := <-s.queue:
					s.handle(context.WithoutCancel(ctx), j)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) handle(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Event handling panicked", fmt.Errorf("%v", r), logging.String("event_type", j.eventType))
		}
	}()
	if _, err := s.Submit(ctx, j.eventType, j.context); err != nil {
		s.logger.Error("Failed to process queued event", err, logging.String("event_type", j.eventType))
	}
}
