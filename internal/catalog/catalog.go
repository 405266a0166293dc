// Package catalog is the authoring surface for automations and scheduled
// tasks. It validates definitions, computes the first next_run_at and
// handles activation, so the scheduler only ever sees well formed rows.
package catalog

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"automation-engine/internal/common/clock"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/common/utils"
	"automation-engine/internal/common/validation"
	"automation-engine/internal/dispatch"
	"automation-engine/internal/filter"
	"automation-engine/internal/schedule"
	"automation-engine/internal/storage"
)

// Store is the subset of storage the catalog writes to.
type Store interface {
	storage.AutomationStore
	storage.TaskStore
}

// Modules reports which action modules are registered.
type Modules interface {
	Has(id string) bool
}

// Dispatcher runs an automation on demand.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.RunResult
}

type Options struct {
	Planner *schedule.Planner
	Clock   clock.Clock
	Logger  logging.Logger
	// Dispatcher enables RunAutomation. Optional.
	Dispatcher Dispatcher
	// RunLedger records manual runs. Required with Dispatcher.
	RunLedger storage.RunLedger
}

type Service struct {
	store   Store
	modules Modules
	opts    Options
	logger  logging.Logger
}

func New(store Store, modules Modules, opts Options) *Service {
	if opts.Planner == nil {
		opts.Planner = schedule.NewPlanner(time.UTC)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	return &Service{
		store:   store,
		modules: modules,
		opts:    opts,
		logger:  opts.Logger.WithFields(logging.String("component", "catalog")),
	}
}

// AutomationInput is the authored form of an automation.
type AutomationInput struct {
	Name           string                 `json:"name" validate:"required,max=200"`
	Description    string                 `json:"description,omitempty"`
	Kind           storage.AutomationKind `json:"kind" validate:"required,automation_kind"`
	CronExpression string                 `json:"cron_expression,omitempty" validate:"omitempty,cron_expression"`
	Cadence        string                 `json:"cadence,omitempty" validate:"omitempty,cadence"`
	ScheduledTime  *time.Time             `json:"scheduled_time,omitempty"`
	RunOnce        bool                   `json:"run_once,omitempty"`
	TriggerEvent   string                 `json:"trigger_event,omitempty" validate:"max=200"`
	TriggerFilter  json.RawMessage        `json:"trigger_filter,omitempty"`
	ActionModule   string                 `json:"action_module" validate:"required"`
	ActionPayload  json.RawMessage        `json:"action_payload,omitempty"`
	// Active defaults to true.
	Active *bool `json:"active,omitempty"`
}

// TaskInput is the authored form of a scheduled task.
type TaskInput struct {
	Name                string          `json:"name" validate:"required,max=200"`
	Command             string          `json:"command" validate:"required"`
	Cron                string          `json:"cron" validate:"required,cron_expression"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	Active              *bool           `json:"active,omitempty"`
	MaxRetries          int             `json:"max_retries" validate:"min=0,max=100"`
	RetryBackoffSeconds int             `json:"retry_backoff_seconds" validate:"min=0"`
}

func (in AutomationInput) active() bool { return in.Active == nil || *in.Active }
func (in TaskInput) active() bool       { return in.Active == nil || *in.Active }

// CreateAutomation validates in and stores a new automation. Filter
// warnings do not block creation; the filter fails closed at run time.
func (s *Service) CreateAutomation(ctx context.Context, in AutomationInput) (*storage.Automation, []filter.Warning, error) {
	warnings, err := s.checkAutomation(in)
	if err != nil {
		return nil, warnings, err
	}

	now := s.opts.Clock.Now()
	a := &storage.Automation{ID: utils.GenerateID(), CreatedAt: now}
	applyAutomation(a, in, now)
	a.NextRunAt = s.firstRun(a, now)

	if err := s.store.CreateAutomation(ctx, a); err != nil {
		return nil, warnings, storeErr(err, "automation", in.Name)
	}
	s.logAuthored("Automation created", a, warnings)
	return a, warnings, nil
}

// UpdateAutomation replaces the definition of id. Run history and
// last_run_at are kept. A one-time automation that already ran stays spent
// unless scheduled_time changes.
func (s *Service) UpdateAutomation(ctx context.Context, id string, in AutomationInput) (*storage.Automation, []filter.Warning, error) {
	existing, err := s.store.GetAutomation(ctx, id)
	if err != nil {
		return nil, nil, storeErr(err, "automation", id)
	}
	warnings, err := s.checkAutomation(in)
	if err != nil {
		return nil, warnings, err
	}

	now := s.opts.Clock.Now()
	spent := spentOnce(existing)
	prevScheduled := existing.ScheduledTime
	applyAutomation(existing, in, now)
	existing.NextRunAt = s.firstRun(existing, now)
	if spent && spentOnce(existing) && sameInstant(prevScheduled, existing.ScheduledTime) {
		existing.Status = storage.StatusInactive
		existing.NextRunAt = nil
	}

	if err := s.store.UpdateAutomation(ctx, existing); err != nil {
		return nil, warnings, storeErr(err, "automation", in.Name)
	}
	s.logAuthored("Automation updated", existing, warnings)
	return existing, warnings, nil
}

// UpsertAutomation creates or updates the automation named in.Name.
func (s *Service) UpsertAutomation(ctx context.Context, in AutomationInput) (*storage.Automation, bool, []filter.Warning, error) {
	existing, err := s.store.GetAutomationByName(ctx, in.Name)
	switch {
	case err == nil:
		a, warnings, err := s.UpdateAutomation(ctx, existing.ID, in)
		return a, false, warnings, err
	case stderrors.Is(err, storage.ErrNotFound):
		a, warnings, err := s.CreateAutomation(ctx, in)
		return a, true, warnings, err
	default:
		return nil, false, nil, storeErr(err, "automation", in.Name)
	}
}

// SetAutomationActive switches an automation on or off. Activation
// recomputes next_run_at from now; deactivation clears it. A run already
// in flight is not interrupted.
func (s *Service) SetAutomationActive(ctx context.Context, id string, active bool) (*storage.Automation, error) {
	a, err := s.store.GetAutomation(ctx, id)
	if err != nil {
		return nil, storeErr(err, "automation", id)
	}

	now := s.opts.Clock.Now()
	a.Status = storage.StatusInactive
	a.NextRunAt = nil
	if active {
		a.Status = storage.StatusActive
		a.NextRunAt = s.firstRun(a, now)
	}
	a.UpdatedAt = now
	if err := s.store.SetAutomationStatus(ctx, id, a.Status, a.NextRunAt, now); err != nil {
		return nil, storeErr(err, "automation", id)
	}
	s.logger.Info("Automation status changed",
		logging.String("automation_id", id),
		logging.String("status", string(a.Status)))
	return a, nil
}

// RunAutomation dispatches id once, outside its schedule. next_run_at is
// not touched.
func (s *Service) RunAutomation(ctx context.Context, id string, eventCtx interface{}) (dispatch.RunResult, error) {
	if s.opts.Dispatcher == nil || s.opts.RunLedger == nil {
		return dispatch.RunResult{}, errors.ConfigError("manual runs are not enabled")
	}
	a, err := s.store.GetAutomation(ctx, id)
	if err != nil {
		return dispatch.RunResult{}, storeErr(err, "automation", id)
	}

	res := s.opts.Dispatcher.Dispatch(ctx, dispatch.Request{
		Module:   a.ActionModule,
		Template: a.ActionPayload,
		Context:  eventCtx,
		System: dispatch.System{
			AutomationID: a.ID,
			EventType:    a.TriggerEvent,
			Trigger:      string(storage.TriggerManual),
		},
		Ledger: dispatch.AutomationLedger{
			Store:        s.opts.RunLedger,
			AutomationID: a.ID,
			Trigger:      storage.TriggerManual,
			EventType:    a.TriggerEvent,
			Module:       a.ActionModule,
		},
	})
	if !res.Opened {
		return res, errors.InfrastructureError("open run", res.Err)
	}
	return res, nil
}

func (s *Service) checkAutomation(in AutomationInput) ([]filter.Warning, error) {
	if err := validation.ValidateStruct(in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) != in.Name {
		return nil, errors.ValidationError("field 'name' must not have surrounding whitespace")
	}

	spec := schedule.Spec{
		CronExpression: in.CronExpression,
		Cadence:        schedule.Cadence(in.Cadence),
		ScheduledTime:  in.ScheduledTime,
		RunOnce:        in.RunOnce,
	}
	hasSchedule := in.CronExpression != "" || in.Cadence != "" || in.ScheduledTime != nil || in.RunOnce

	switch in.Kind {
	case storage.KindScheduled:
		if in.TriggerEvent != "" {
			return nil, errors.ValidationError("trigger_event is only allowed on event automations")
		}
		if err := s.opts.Planner.Validate(spec); err != nil {
			return nil, err
		}
	case storage.KindEvent:
		if in.TriggerEvent == "" {
			return nil, errors.ValidationError("event automations need a trigger_event")
		}
		if hasSchedule {
			return nil, errors.ValidationError("event automations cannot carry a schedule")
		}
	}

	if !s.modules.Has(in.ActionModule) {
		return nil, errors.ValidationError("action_module " + in.ActionModule + " is not registered")
	}
	if _, err := dispatch.DecodeTemplate(in.ActionPayload); err != nil {
		return nil, errors.ValidationError("action_payload must be a JSON document")
	}

	var warnings []filter.Warning
	if len(in.TriggerFilter) > 0 {
		if in.Kind != storage.KindEvent {
			return nil, errors.ValidationError("trigger_filter is only allowed on event automations")
		}
		warnings = filter.CompileJSON(in.TriggerFilter).Warnings
	}
	return warnings, nil
}

func applyAutomation(a *storage.Automation, in AutomationInput, now time.Time) {
	a.Name = in.Name
	a.Description = in.Description
	a.Kind = in.Kind
	a.CronExpression = in.CronExpression
	a.Cadence = in.Cadence
	a.ScheduledTime = in.ScheduledTime
	a.RunOnce = in.RunOnce
	a.TriggerEvent = in.TriggerEvent
	a.TriggerFilter = in.TriggerFilter
	a.ActionModule = in.ActionModule
	a.ActionPayload = in.ActionPayload
	a.Status = storage.StatusInactive
	if in.active() {
		a.Status = storage.StatusActive
	}
	a.UpdatedAt = now
}

// firstRun is the next_run_at an active scheduled automation starts with.
// It ignores last_run_at for one-time schedules, so callers decide whether
// a spent one may be re-armed.
func (s *Service) firstRun(a *storage.Automation, now time.Time) *time.Time {
	if a.Kind != storage.KindScheduled || a.Status != storage.StatusActive {
		return nil
	}
	spec := a.ScheduleSpec()
	if mode, _ := spec.Mode(); mode == schedule.ModeOnce {
		spec.LastRunAt = nil
	}
	next, ok := s.opts.Planner.NextRun(spec, now)
	if !ok {
		return nil
	}
	if next.Before(now) {
		next = now
	}
	return &next
}

// spentOnce reports whether a is a one-time scheduled automation that has
// already run.
func spentOnce(a *storage.Automation) bool {
	if a.Kind != storage.KindScheduled || a.LastRunAt == nil {
		return false
	}
	mode, err := a.ScheduleSpec().Mode()
	return err == nil && mode == schedule.ModeOnce
}

// sameInstant compares two optional times at the millisecond precision the
// store keeps.
func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UnixMilli() == b.UnixMilli()
}

// CreateTask validates in and stores a new scheduled task.
func (s *Service) CreateTask(ctx context.Context, in TaskInput) (*storage.ScheduledTask, error) {
	if err := s.checkTask(in); err != nil {
		return nil, err
	}
	now := s.opts.Clock.Now()
	t := &storage.ScheduledTask{ID: utils.GenerateID(), CreatedAt: now}
	s.applyTask(t, in, now)
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, storeErr(err, "task", in.Name)
	}
	s.logger.Info("Task created", logging.String("task_id", t.ID), logging.String("task", t.Name))
	return t, nil
}

// UpdateTask replaces the definition of id and resets its retry state.
func (s *Service) UpdateTask(ctx context.Context, id string, in TaskInput) (*storage.ScheduledTask, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, storeErr(err, "task", id)
	}
	if err := s.checkTask(in); err != nil {
		return nil, err
	}
	s.applyTask(t, in, s.opts.Clock.Now())
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, storeErr(err, "task", in.Name)
	}
	s.logger.Info("Task updated", logging.String("task_id", t.ID), logging.String("task", t.Name))
	return t, nil
}

// UpsertTask creates or updates the task named in.Name.
func (s *Service) UpsertTask(ctx context.Context, in TaskInput) (*storage.ScheduledTask, bool, error) {
	existing, err := s.store.GetTaskByName(ctx, in.Name)
	switch {
	case err == nil:
		t, err := s.UpdateTask(ctx, existing.ID, in)
		return t, false, err
	case stderrors.Is(err, storage.ErrNotFound):
		t, err := s.CreateTask(ctx, in)
		return t, true, err
	default:
		return nil, false, storeErr(err, "task", in.Name)
	}
}

// SetTaskActive switches a task on or off.
func (s *Service) SetTaskActive(ctx context.Context, id string, active bool) (*storage.ScheduledTask, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, storeErr(err, "task", id)
	}
	now := s.opts.Clock.Now()
	t.Active = active
	t.RetryCount = 0
	t.NextRunAt = nil
	if active {
		t.NextRunAt = s.nextCron(t.Cron, now)
	}
	t.UpdatedAt = now
	if err := s.store.SetTaskActive(ctx, id, active, t.NextRunAt, now); err != nil {
		return nil, storeErr(err, "task", id)
	}
	s.logger.Info("Task status changed", logging.String("task_id", id), logging.Bool("active", active))
	return t, nil
}

func (s *Service) checkTask(in TaskInput) error {
	if err := validation.ValidateStruct(in); err != nil {
		return err
	}
	if !s.modules.Has(in.Command) {
		return errors.ValidationError("command " + in.Command + " is not registered")
	}
	if _, err := dispatch.DecodeTemplate(in.Payload); err != nil {
		return errors.ValidationError("payload must be a JSON document")
	}
	return nil
}

func (s *Service) applyTask(t *storage.ScheduledTask, in TaskInput, now time.Time) {
	t.Name = in.Name
	t.Command = in.Command
	t.Cron = in.Cron
	t.Payload = in.Payload
	t.Active = in.active()
	t.MaxRetries = in.MaxRetries
	t.RetryBackoffSeconds = in.RetryBackoffSeconds
	t.RetryCount = 0
	t.NextRunAt = nil
	if t.Active {
		t.NextRunAt = s.nextCron(in.Cron, now)
	}
	t.UpdatedAt = now
}

func (s *Service) nextCron(expr string, now time.Time) *time.Time {
	next, ok := s.opts.Planner.NextCron(expr, now)
	if !ok {
		return nil
	}
	return &next
}

func (s *Service) logAuthored(msg string, a *storage.Automation, warnings []filter.Warning) {
	fields := []logging.Field{
		logging.String("automation_id", a.ID),
		logging.String("automation", a.Name),
		logging.String("kind", string(a.Kind)),
	}
	if len(warnings) > 0 {
		s.logger.Warn(msg+" with filter warnings", append(fields, logging.Int("warnings", len(warnings)))...)
		return
	}
	s.logger.Info(msg, fields...)
}

func storeErr(err error, resource, key string) error {
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		return errors.NotFoundError(resource + " " + key)
	case stderrors.Is(err, storage.ErrDuplicate):
		return errors.ConflictError(resource + " named " + key + " already exists")
	default:
		return errors.InfrastructureError("write "+resource, err)
	}
}
