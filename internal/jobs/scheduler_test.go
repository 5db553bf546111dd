package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronNextRunEveryFiveMinutes(t *testing.T) {
	after := time.Date(2026, 1, 1, 10, 2, 0, 0, time.UTC)
	next, err := cronNextRun("*/5 * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), next)
}

// TestCronDayOfMonthOrDayOfWeek confirms that when both day-of-month and
// day-of-week are restricted, a match on either fires the job (standard
// cron OR semantics), not an AND.
func TestCronDayOfMonthOrDayOfWeek(t *testing.T) {
	// "at 00:00 on the 1st of the month OR on Monday"
	after := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) // a Monday, not the 1st
	next, err := cronNextRun("0 0 1 * MON", after)
	require.NoError(t, err)
	// The next Monday after Jan 5 2026 is Jan 12; under OR semantics that
	// fires even though it isn't day-of-month 1.
	assert.Equal(t, time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC), next)
}

func TestSchedulerFiresIntervalTask(t *testing.T) {
	q := NewQueue(nil)
	sched := NewScheduler(q, nil)
	ctx := context.Background()

	task := &ScheduledTask{
		Name:           "poll-balances",
		HandlerJobName: "sync_balances",
		Kind:           ScheduleInterval,
		IntervalSecs:   60,
		Priority:       PriorityHigh,
		Enabled:        true,
		NextRun:        time.Now().Add(-time.Second), // already due
	}
	require.NoError(t, sched.Register(ctx, task))

	sched.tick(ctx)

	assert.Equal(t, 1, q.Depth(PriorityHigh))
	assert.False(t, task.LastRun.IsZero())
	assert.True(t, task.NextRun.After(time.Now()))
}

func TestSchedulerSkipsDisabledTask(t *testing.T) {
	q := NewQueue(nil)
	sched := NewScheduler(q, nil)
	ctx := context.Background()

	task := &ScheduledTask{
		Name:           "disabled-task",
		HandlerJobName: "noop",
		Kind:           ScheduleInterval,
		IntervalSecs:   60,
		Enabled:        false,
		NextRun:        time.Now().Add(-time.Second),
	}
	require.NoError(t, sched.Register(ctx, task))

	sched.tick(ctx)

	assert.Equal(t, 0, q.Depth(PriorityNormal))
}
