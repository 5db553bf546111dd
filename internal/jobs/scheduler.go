package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"trading-core/pkg/db"
)

// ScheduleKind selects how a ScheduledTask computes its next run.
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
	ScheduleOnce     ScheduleKind = "once"
)

// ScheduledTask is a registry entry the Scheduler evaluates once per tick.
type ScheduledTask struct {
	Name           string
	HandlerJobName string
	Kind           ScheduleKind
	IntervalSecs   int       // ScheduleInterval
	CronExpr       string    // ScheduleCron
	RunAt          time.Time // ScheduleOnce
	Priority       Priority
	Enabled        bool
	LastRun        time.Time
	NextRun        time.Time
}

// tickInterval is how often the scheduler loop evaluates tasks.
const tickInterval = 30 * time.Second

// Scheduler owns the ScheduledTask registry and enqueues a Job whenever a
// task's nextRun has elapsed.
type Scheduler struct {
	mu         sync.Mutex
	tasks      map[string]*ScheduledTask
	queue      *Queue
	database   *db.Database
	tickEvery time.Duration
}

func NewScheduler(queue *Queue, database *db.Database) *Scheduler {
	return &Scheduler{
		tasks:      make(map[string]*ScheduledTask),
		queue:      queue,
		database:   database,
		tickEvery: tickInterval,
	}
}

// WithTickInterval overrides the evaluation loop's ticker period (defaults
// to 30s). Useful for tightening it in environments that need faster
// reaction to scheduled tasks.
func (s *Scheduler) WithTickInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.tickEvery = d
	}
	return s
}

// Register adds or replaces a scheduled task, computing its initial
// NextRun if unset.
func (s *Scheduler) Register(ctx context.Context, t *ScheduledTask) error {
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	if t.NextRun.IsZero() {
		next, err := s.computeNextRun(t, time.Now())
		if err != nil {
			return fmt.Errorf("jobs: compute next run for %s: %w", t.Name, err)
		}
		t.NextRun = next
	}

	s.mu.Lock()
	s.tasks[t.Name] = t
	s.mu.Unlock()

	if s.database != nil {
		return s.database.UpsertScheduledTask(ctx, db.ScheduledTaskRow{
			Name:           t.Name,
			HandlerJobName: t.HandlerJobName,
			ScheduleKind:   string(t.Kind),
			ScheduleExpr:   s.scheduleExpr(t),
			Priority:       string(t.Priority),
			Enabled:        t.Enabled,
			NextRun:        nullTime(t.NextRun),
		})
	}
	return nil
}

func (s *Scheduler) scheduleExpr(t *ScheduledTask) string {
	switch t.Kind {
	case ScheduleCron:
		return t.CronExpr
	case ScheduleOnce:
		return t.RunAt.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%d", t.IntervalSecs)
	}
}

// computeNextRun derives the next fire time strictly after `after`.
func (s *Scheduler) computeNextRun(t *ScheduledTask, after time.Time) (time.Time, error) {
	switch t.Kind {
	case ScheduleInterval:
		return after.Add(time.Duration(t.IntervalSecs) * time.Second), nil
	case ScheduleCron:
		return cronNextRun(t.CronExpr, after)
	case ScheduleOnce:
		return t.RunAt, nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", t.Kind)
	}
}

// Run starts the 30s evaluation loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	due := make([]*ScheduledTask, 0)
	for _, t := range s.tasks {
		if t.Enabled && !t.NextRun.After(now) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		if err := s.fire(ctx, t, now); err != nil {
			log.Printf("jobs: scheduler fire %s: %v", t.Name, err)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, t *ScheduledTask, now time.Time) error {
	job := &Job{
		ID:             fmt.Sprintf("sched-%s-%d", t.Name, now.UnixNano()),
		Name:           t.HandlerJobName,
		Priority:       t.Priority,
		MaxRetries:     2,
		TimeoutSeconds: 30,
		CreatedAt:      now,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return err
	}

	next, err := s.computeNextRun(t, now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	t.LastRun = now
	t.NextRun = next
	if t.Kind == ScheduleOnce {
		t.Enabled = false
	}
	s.mu.Unlock()

	if s.database != nil {
		return s.database.UpdateScheduledTaskRun(ctx, t.Name, now, next)
	}
	return nil
}
