// Package jobs implements a Job Queue, Scheduler, and Worker Pool: four
// priority FIFOs, a scheduled set, an in-flight set, a
// dead-letter queue, and a result store, all guarded by one mutex so that
// enqueue/dequeue/complete/fail each map to a single atomic operation —
// the same map-behind-a-mutex idiom internal/gateway.Manager and
// internal/bot.Manager use for their own registries.
package jobs

import (
	"encoding/json"
	"time"
)

// Priority orders the four FIFOs from highest to lowest.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// priorityOrder is the dequeue attempt order, highest first.
var priorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// Status is a Job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is the in-memory descriptor backing a queued unit of work. Its
// durable twin is pkg/db.JobRow.
type Job struct {
	ID             string
	Name           string
	Priority       Priority
	Payload        json.RawMessage
	Status         Status
	RetryCount     int
	MaxRetries     int
	TimeoutSeconds int
	ScheduledAt    time.Time // zero means "ready now"
	StartedAt      time.Time
	CompletedAt    time.Time
	Error          string
	Result         json.RawMessage
	CreatedAt      time.Time
}

// backoffSeconds computes the retry delay: min(60*2^retry_count, 3600).
func backoffSeconds(retryCount int) time.Duration {
	seconds := 60 * (1 << uint(retryCount))
	if seconds > 3600 {
		seconds = 3600
	}
	return time.Duration(seconds) * time.Second
}
