package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJobRetryBudgetExhaustion exercises a job exhausting its retry budget
// and landing in the dead-letter queue.
func TestJobRetryBudgetExhaustion(t *testing.T) {
	q := NewQueue(nil)
	ctx := context.Background()

	job := &Job{
		ID:             "job-1",
		Name:           "fetch_missing_candles",
		Priority:       PriorityNormal,
		MaxRetries:     2,
		TimeoutSeconds: 5,
	}
	require.NoError(t, q.Enqueue(ctx, job))

	// Attempt 1
	dequeued, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, dequeued)
	before := time.Now()
	require.NoError(t, q.Fail(ctx, dequeued.ID, "boom"))
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, StatusRetrying, job.Status)
	assert.WithinDuration(t, before.Add(120*time.Second), job.ScheduledAt, 2*time.Second)

	// Force the scheduled entry due so Dequeue can promote it (attempt 2).
	job.ScheduledAt = time.Now().Add(-time.Second)
	dequeued, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, dequeued)
	before = time.Now()
	require.NoError(t, q.Fail(ctx, dequeued.ID, "boom again"))
	assert.Equal(t, 2, job.RetryCount)
	assert.Equal(t, StatusRetrying, job.Status)
	assert.WithinDuration(t, before.Add(240*time.Second), job.ScheduledAt, 2*time.Second)

	// Attempt 3: retry budget (max_retries=2) is exhausted.
	job.ScheduledAt = time.Now().Add(-time.Second)
	dequeued, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, dequeued)
	require.NoError(t, q.Fail(ctx, dequeued.ID, "boom a third time"))

	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "boom a third time", job.Error)

	dlq := q.DeadLetterJobs()
	require.Len(t, dlq, 1)
	assert.Equal(t, "job-1", dlq[0].ID)
}

func TestDequeuePriorityOrder(t *testing.T) {
	q := NewQueue(nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Job{ID: "low-1", Name: "x", Priority: PriorityLow}))
	require.NoError(t, q.Enqueue(ctx, &Job{ID: "critical-1", Name: "x", Priority: PriorityCritical}))
	require.NoError(t, q.Enqueue(ctx, &Job{ID: "normal-1", Name: "x", Priority: PriorityNormal}))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "critical-1", first.ID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "normal-1", second.ID)

	third, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "low-1", third.ID)
}

func TestWorkerNoHandlerFailsImmediately(t *testing.T) {
	q := NewQueue(nil)
	registry := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := &Job{ID: "job-2", Name: "unregistered_handler", MaxRetries: 0, TimeoutSeconds: 1}
	require.NoError(t, q.Enqueue(ctx, job))

	pool := NewPool(1, q, registry, 10*time.Millisecond)
	pool.Start(ctx)

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("job was never dead-lettered")
		default:
		}
		if len(q.DeadLetterJobs()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	dlq := q.DeadLetterJobs()
	require.Len(t, dlq, 1)
	assert.Equal(t, "no handler registered", dlq[0].Error)
}

func TestWorkerRunsRegisteredHandler(t *testing.T) {
	q := NewQueue(nil)
	registry := NewRegistry()
	registry.Register("echo", func(ctx context.Context, j *Job) ([]byte, error) {
		return []byte(`{"ok":true}`), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := &Job{ID: "job-3", Name: "echo", TimeoutSeconds: 1}
	require.NoError(t, q.Enqueue(ctx, job))

	pool := NewPool(1, q, registry, 10*time.Millisecond)
	pool.Start(ctx)

	deadline := time.After(time.Second)
	for {
		if _, ok := q.Result("job-3"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never completed")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	result, ok := q.Result("job-3")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.JSONEq(t, `{"ok":true}`, string(result.Result))
}
