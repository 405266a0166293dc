package scheduler

import (
	"context"
	stderrors "errors"
	"time"

	"automation-engine/internal/common/logging"
	"automation-engine/internal/dispatch"
	"automation-engine/internal/schedule"
	"automation-engine/internal/storage"
)

func (s *Scheduler) runAutomation(ctx context.Context, a *storage.Automation, token string) {
	logger := s.logger.WithFields(
		logging.String("automation_id", a.ID),
		logging.String("automation", a.Name))

	res := s.dispatcher.Dispatch(ctx, dispatch.Request{
		Module:   a.ActionModule,
		Template: a.ActionPayload,
		System: dispatch.System{
			AutomationID: a.ID,
			Trigger:      string(storage.TriggerSchedule),
		},
		Ledger: dispatch.AutomationLedger{
			Store:        s.store,
			AutomationID: a.ID,
			Trigger:      storage.TriggerSchedule,
			Module:       a.ActionModule,
		},
	})
	if !res.Opened {
		// Nothing ran; leave next_run_at alone so the next tick retries.
		if err := s.store.ReleaseAutomationClaim(ctx, a.ID, token); err != nil {
			logger.Error("Failed to release automation claim", err)
		}
		return
	}

	now := s.opts.Clock.Now()
	completion := storage.AutomationCompletion{
		ID:         a.ID,
		Token:      token,
		LastRunAt:  res.StartedAt,
		LastStatus: res.Status,
		LastError:  res.Error,
		Now:        now,
	}

	spec := a.ScheduleSpec()
	if mode, _ := spec.Mode(); mode == schedule.ModeOnce {
		completion.Deactivate = true
	} else {
		spec.LastRunAt = &res.StartedAt
		completion.NextRunAt = s.next(spec, now)
		if completion.NextRunAt == nil {
			logger.Warn("Automation has no further runs", logging.String("cron", a.CronExpression), logging.String("cadence", a.Cadence))
		}
	}

	if err := s.store.CompleteAutomation(ctx, completion); err != nil {
		if stderrors.Is(err, storage.ErrClaimLost) {
			logger.Warn("Automation claim lost before completion", logging.String("run_id", res.RunID))
			return
		}
		logger.Error("Failed to complete automation", err, logging.String("run_id", res.RunID))
		return
	}

	logger.Info("Scheduled automation ran",
		logging.String("run_id", res.RunID),
		logging.String("status", string(res.Status)),
		logging.Bool("deactivated", completion.Deactivate),
		logging.Duration("duration", res.Duration))
}

func (s *Scheduler) runTask(ctx context.Context, t *storage.ScheduledTask, token string) {
	logger := s.logger.WithFields(
		logging.String("task_id", t.ID),
		logging.String("task", t.Name),
		logging.Int("retry_attempt", t.RetryCount))

	res := s.dispatcher.Dispatch(ctx, dispatch.Request{
		Module:   t.Command,
		Template: t.Payload,
		System: dispatch.System{
			TaskID:  t.ID,
			Trigger: string(storage.TriggerSchedule),
		},
		Ledger: dispatch.TaskLedger{
			Store:        s.store,
			TaskID:       t.ID,
			RetryAttempt: t.RetryCount,
		},
	})
	if !res.Opened {
		if err := s.store.ReleaseTaskClaim(ctx, t.ID, token); err != nil {
			logger.Error("Failed to release task claim", err)
		}
		return
	}

	now := s.opts.Clock.Now()
	completion := storage.TaskCompletion{
		ID:         t.ID,
		Token:      token,
		LastRunAt:  res.StartedAt,
		LastStatus: res.Status,
		LastError:  res.Error,
		Now:        now,
	}
	if res.Status == storage.RunFailed && res.Retryable && t.RetryCount < t.MaxRetries {
		completion.RetryCount = t.RetryCount + 1
		next := now.Add(time.Duration(t.RetryBackoffSeconds) * time.Second)
		completion.NextRunAt = &next
	} else {
		completion.NextRunAt = s.next(schedule.Spec{CronExpression: t.Cron}, now)
	}

	if err := s.store.CompleteTask(ctx, completion); err != nil {
		if stderrors.Is(err, storage.ErrClaimLost) {
			logger.Warn("Task claim lost before completion", logging.String("run_id", res.RunID))
			return
		}
		logger.Error("Failed to complete task", err, logging.String("run_id", res.RunID))
		return
	}

	logger.Info("Scheduled task ran",
		logging.String("run_id", res.RunID),
		logging.String("status", string(res.Status)),
		logging.Int("retry_count", completion.RetryCount),
		logging.Duration("duration", res.Duration))
}

// next returns when spec is next due after now. A cadence step that lands
// in the past makes the unit due immediately, so missed ticks coalesce into
// one run.
func (s *Scheduler) next(spec schedule.Spec, now time.Time) *time.Time {
	t, ok := s.opts.Planner.NextRun(spec, now)
	if !ok {
		return nil
	}
	if t.Before(now) {
		t = now
	}
	return &t
}
