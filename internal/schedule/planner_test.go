package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(t time.Time) *time.Time { return &t }

func TestSpecMode(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		spec    Spec
		want    Mode
		wantErr bool
	}{
		{"cron", Spec{CronExpression: "* * * * *"}, ModeCron, false},
		{"cadence", Spec{Cadence: CadenceDaily}, ModeCadence, false},
		{"once", Spec{ScheduledTime: &now, RunOnce: true}, ModeOnce, false},
		{"none", Spec{}, "", true},
		{"cron and cadence", Spec{CronExpression: "* * * * *", Cadence: CadenceDaily}, "", true},
		{"cadence and once", Spec{Cadence: CadenceWeekly, ScheduledTime: &now, RunOnce: true}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.spec.Mode()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanner_Validate(t *testing.T) {
	p := NewPlanner(nil)
	now := time.Now()

	assert.NoError(t, p.Validate(Spec{CronExpression: "*/15 * * * *"}))
	assert.NoError(t, p.Validate(Spec{CronExpression: "@daily"}))
	assert.Error(t, p.Validate(Spec{CronExpression: "0 0 * * * *"}), "six fields are rejected")
	assert.Error(t, p.Validate(Spec{CronExpression: "61 * * * *"}))
	assert.Error(t, p.Validate(Spec{Cadence: "fortnightly"}))
	assert.Error(t, p.Validate(Spec{ScheduledTime: &now}), "scheduled_time needs run_once")
	assert.Error(t, p.Validate(Spec{RunOnce: true}), "run_once needs scheduled_time")
}

func TestNextRun_Cron(t *testing.T) {
	p := NewPlanner(time.UTC)
	after := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	next, ok := p.NextRun(Spec{CronExpression: "0 * * * *"}, after)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC), next, "strictly after an exact match")

	next, ok = p.NextRun(Spec{CronExpression: "30 9 * * 1"}, after)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC), next)

	_, ok = p.NextRun(Spec{CronExpression: "bogus"}, after)
	assert.False(t, ok)
}

func TestNextRun_CronReferenceTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	p := NewPlanner(ny)

	after := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) // 08:00 in New York
	next, ok := p.NextRun(Spec{CronExpression: "0 9 * * *"}, after)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), next.UTC())
	assert.Equal(t, ny, next.Location())
}

func TestNextRun_Cadence(t *testing.T) {
	p := NewPlanner(time.UTC)
	now := time.Date(2025, 1, 31, 8, 0, 0, 0, time.UTC)

	next, ok := p.NextRun(Spec{Cadence: CadenceDaily}, now)
	require.True(t, ok)
	assert.Equal(t, now, next, "no prior run schedules immediately")

	last := time.Date(2025, 1, 30, 6, 0, 0, 0, time.UTC)
	tests := []struct {
		cadence Cadence
		want    time.Time
	}{
		{CadenceHourly, last.Add(time.Hour)},
		{CadenceDaily, time.Date(2025, 1, 31, 6, 0, 0, 0, time.UTC)},
		{CadenceWeekly, time.Date(2025, 2, 6, 6, 0, 0, 0, time.UTC)},
		{CadenceMonthly, time.Date(2025, 3, 2, 6, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.cadence), func(t *testing.T) {
			next, ok := p.NextRun(Spec{Cadence: tt.cadence, LastRunAt: &last}, now)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(next), "want %v got %v", tt.want, next)
		})
	}
}

func TestNextRun_CadenceKeepsWallClockAcrossDST(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	p := NewPlanner(berlin)

	last := time.Date(2025, 3, 29, 9, 0, 0, 0, berlin) // day before clocks go forward
	next, ok := p.NextRun(Spec{Cadence: CadenceDaily, LastRunAt: &last}, last)
	require.True(t, ok)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 23*time.Hour, next.Sub(last))
}

func TestNextRun_Once(t *testing.T) {
	p := NewPlanner(time.UTC)
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	now := at.Add(time.Hour)

	next, ok := p.NextRun(Spec{ScheduledTime: &at, RunOnce: true}, now)
	require.True(t, ok)
	assert.Equal(t, at, next, "a past scheduled_time is due immediately")

	_, ok = p.NextRun(Spec{ScheduledTime: &at, RunOnce: true, LastRunAt: ptr(now)}, now.Add(time.Hour))
	assert.False(t, ok, "one-time schedules never fire twice")
}

func TestParseCronCaches(t *testing.T) {
	p := NewPlanner(nil)
	a, err := p.ParseCron("*/5 * * * *")
	require.NoError(t, err)
	b, err := p.ParseCron(" */5 * * * * ")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, time.UTC, p.Location())
}
