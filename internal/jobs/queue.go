package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trading-core/internal/apperr"
	"trading-core/pkg/db"
)

// Queue holds four priority FIFOs, a scheduled set, an in-flight set, a
// dead-letter queue, and a result store, all guarded by one mutex.
type Queue struct {
	mu        sync.Mutex
	ready     map[Priority][]*Job
	scheduled []*Job // sorted by ScheduledAt ascending; linear scan is fine at job-queue scale
	inflight  map[string]*Job
	dlq       []*Job
	results   map[string]*Job // completed jobs, keyed by id

	database *db.Database
}

func NewQueue(database *db.Database) *Queue {
	q := &Queue{
		ready:    make(map[Priority][]*Job),
		inflight: make(map[string]*Job),
		results:  make(map[string]*Job),
		database: database,
	}
	for _, p := range priorityOrder {
		q.ready[p] = nil
	}
	return q
}

// Enqueue persists the job descriptor and places it in the scheduled set
// (if scheduled_at is in the future) or directly onto its priority queue.
func (q *Queue) Enqueue(ctx context.Context, j *Job) error {
	if j.ID == "" {
		return apperr.New(apperr.Validation, "JOB_ID_REQUIRED", "job id is required")
	}
	if j.Priority == "" {
		j.Priority = PriorityNormal
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !j.ScheduledAt.IsZero() && j.ScheduledAt.After(time.Now()) {
		j.Status = StatusScheduled
		q.scheduled = append(q.scheduled, j)
		sort.Slice(q.scheduled, func(a, b int) bool { return q.scheduled[a].ScheduledAt.Before(q.scheduled[b].ScheduledAt) })
	} else {
		j.Status = StatusQueued
		q.ready[j.Priority] = append(q.ready[j.Priority], j)
	}

	return q.persist(ctx, j)
}

// promoteDue moves every scheduled entry with ScheduledAt <= now into its
// priority queue. Called at the top of Dequeue, before draining the ready
// queues.
func (q *Queue) promoteDue() {
	now := time.Now()
	var remaining []*Job
	for _, j := range q.scheduled {
		if j.ScheduledAt.After(now) {
			remaining = append(remaining, j)
			continue
		}
		j.Status = StatusQueued
		q.ready[j.Priority] = append(q.ready[j.Priority], j)
	}
	q.scheduled = remaining
}

// Dequeue promotes due scheduled jobs, then attempts each priority queue
// highest-to-lowest. Returns nil if nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteDue()

	for _, p := range priorityOrder {
		bucket := q.ready[p]
		if len(bucket) == 0 {
			continue
		}
		j := bucket[0]
		q.ready[p] = bucket[1:]

		j.Status = StatusRunning
		j.StartedAt = time.Now()
		q.inflight[j.ID] = j

		if err := q.persist(ctx, j); err != nil {
			return nil, err
		}
		return j, nil
	}
	return nil, nil
}

// Complete marks a job terminal-success, removes it from in-flight, and
// stores its result.
func (q *Queue) Complete(ctx context.Context, jobID string, result []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.inflight[jobID]
	if !ok {
		return apperr.ErrNotRunning
	}
	delete(q.inflight, jobID)

	j.Status = StatusCompleted
	j.CompletedAt = time.Now()
	j.Result = result
	q.results[jobID] = j

	return q.persist(ctx, j)
}

// Fail either reschedules the job with exponential backoff (retry budget
// remaining) or moves it to the dead-letter queue (budget exhausted).
func (q *Queue) Fail(ctx context.Context, jobID string, errText string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.inflight[jobID]
	if !ok {
		return apperr.ErrNotRunning
	}
	delete(q.inflight, jobID)
	j.Error = errText

	if j.RetryCount >= j.MaxRetries {
		j.Status = StatusFailed
		q.dlq = append(q.dlq, j)
		if err := q.persist(ctx, j); err != nil {
			return err
		}
		if q.database != nil {
			return q.database.InsertDeadLetterJob(ctx, j.ID, j.Name, string(j.Payload), errText, j.RetryCount)
		}
		return nil
	}

	j.RetryCount++
	j.Status = StatusRetrying
	j.ScheduledAt = time.Now().Add(backoffSeconds(j.RetryCount))
	q.scheduled = append(q.scheduled, j)
	sort.Slice(q.scheduled, func(a, b int) bool { return q.scheduled[a].ScheduledAt.Before(q.scheduled[b].ScheduledAt) })

	return q.persist(ctx, j)
}

// Result returns a completed job's stored record, if any. Failed jobs are
// rescheduled or moved to the dead-letter queue and never appear here.
func (q *Queue) Result(jobID string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.results[jobID]
	return j, ok
}

// DeadLetterJobs returns a snapshot of the DLQ.
func (q *Queue) DeadLetterJobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, len(q.dlq))
	copy(out, q.dlq)
	return out
}

// Depth returns the ready-queue depth for a priority, used for introspection.
func (q *Queue) Depth(p Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready[p])
}

func (q *Queue) persist(ctx context.Context, j *Job) error {
	if q.database == nil {
		return nil
	}
	existing, err := q.database.GetJob(ctx, j.ID)
	if err != nil {
		return fmt.Errorf("jobs: lookup for persist: %w", err)
	}
	row := toRow(j)
	if existing == nil {
		return q.database.InsertJob(ctx, row)
	}
	return q.database.UpdateJob(ctx, row)
}
