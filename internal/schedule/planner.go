// Package schedule computes when a schedulable unit is next due. It is pure
// apart from a cache of parsed cron expressions.
package schedule

import (
	"strings"
	"sync"
	"time"

	"automation-engine/internal/common/errors"

	"github.com/robfig/cron/v3"
)

// Mode identifies which of the mutually exclusive schedule forms a Spec uses.
type Mode string

const (
	ModeCron    Mode = "cron"
	ModeCadence Mode = "cadence"
	ModeOnce    Mode = "once"
)

// Cadence is one of the fixed intervals a unit may repeat at.
type Cadence string

const (
	CadenceHourly  Cadence = "hourly"
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Valid reports whether c is a known cadence.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceHourly, CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	}
	return false
}

// advance adds one cadence step in loc so daily and longer steps keep wall
// clock time across DST changes.
func (c Cadence) advance(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	switch c {
	case CadenceHourly:
		return t.Add(time.Hour)
	case CadenceDaily:
		return t.AddDate(0, 0, 1)
	case CadenceWeekly:
		return t.AddDate(0, 0, 7)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// Spec is the scheduling part of an automation or task.
type Spec struct {
	CronExpression string
	Cadence        Cadence
	ScheduledTime  *time.Time
	RunOnce        bool
	LastRunAt      *time.Time
}

// Mode returns the schedule form of s, or an error when s does not use
// exactly one form.
func (s Spec) Mode() (Mode, error) {
	var modes []Mode
	if strings.TrimSpace(s.CronExpression) != "" {
		modes = append(modes, ModeCron)
	}
	if s.Cadence != "" {
		modes = append(modes, ModeCadence)
	}
	if s.ScheduledTime != nil || s.RunOnce {
		modes = append(modes, ModeOnce)
	}

	switch len(modes) {
	case 0:
		return "", errors.ValidationError("one of cron_expression, cadence or scheduled_time + run_once is required")
	case 1:
		return modes[0], nil
	default:
		return "", errors.ValidationError("cron_expression, cadence and scheduled_time + run_once are mutually exclusive")
	}
}

// Planner computes next run times in a reference timezone.
type Planner struct {
	location *time.Location
	parser   cron.Parser

	mu    sync.RWMutex
	cache map[string]cron.Schedule
}

// NewPlanner returns a Planner evaluating cron expressions in loc.
// A nil loc means UTC.
func NewPlanner(loc *time.Location) *Planner {
	if loc == nil {
		loc = time.UTC
	}
	return &Planner{
		location: loc,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cache:    make(map[string]cron.Schedule),
	}
}

// Location returns the reference timezone.
func (p *Planner) Location() *time.Location {
	return p.location
}

// ParseCron parses a 5-field cron expression, caching the result.
func (p *Planner) ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)

	p.mu.RLock()
	sched, ok := p.cache[expr]
	p.mu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := p.parser.Parse(expr)
	if err != nil {
		return nil, errors.ValidationError("invalid cron expression " + expr).WithContext("reason", err.Error())
	}

	p.mu.Lock()
	p.cache[expr] = sched
	p.mu.Unlock()
	return sched, nil
}

// Validate checks that spec uses exactly one schedule form and that form is
// well formed.
func (p *Planner) Validate(spec Spec) error {
	mode, err := spec.Mode()
	if err != nil {
		return err
	}
	switch mode {
	case ModeCron:
		_, err = p.ParseCron(spec.CronExpression)
		return err
	case ModeCadence:
		if !spec.Cadence.Valid() {
			return errors.ValidationError("cadence must be one of hourly, daily, weekly, monthly")
		}
	case ModeOnce:
		if spec.ScheduledTime == nil || !spec.RunOnce {
			return errors.ValidationError("one-time schedules need both scheduled_time and run_once")
		}
	}
	return nil
}

// NextRun returns the next time spec is due given the current time after.
//
// Cron schedules yield the first match strictly after after. Cadences step
// from the last run, or return after when there is none. One-time schedules
// yield ScheduledTime until the unit has run once and then report false.
func (p *Planner) NextRun(spec Spec, after time.Time) (time.Time, bool) {
	mode, err := spec.Mode()
	if err != nil {
		return time.Time{}, false
	}

	switch mode {
	case ModeCron:
		sched, err := p.ParseCron(spec.CronExpression)
		if err != nil {
			return time.Time{}, false
		}
		next := sched.Next(after.In(p.location))
		if next.IsZero() {
			return time.Time{}, false
		}
		return next, true

	case ModeCadence:
		if !spec.Cadence.Valid() {
			return time.Time{}, false
		}
		if spec.LastRunAt == nil {
			return after.In(p.location), true
		}
		return spec.Cadence.advance(*spec.LastRunAt, p.location), true

	default:
		if spec.ScheduledTime == nil || !spec.RunOnce || spec.LastRunAt != nil {
			return time.Time{}, false
		}
		return spec.ScheduledTime.In(p.location), true
	}
}

// NextCron is a convenience for units that only support cron schedules.
func (p *Planner) NextCron(expr string, after time.Time) (time.Time, bool) {
	return p.NextRun(Spec{CronExpression: expr}, after)
}
