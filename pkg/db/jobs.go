package db

import (
	"context"
	"database/sql"
	"time"
)

// JobRow is the durable record behind a queued Job: the in-memory queues
// in internal/jobs are the live index, this table is the durability
// layer, persisting the job descriptor with a 7-day TTL.
type JobRow struct {
	ID             string
	Name           string
	Priority       string
	Payload        string
	Status         string
	RetryCount     int
	MaxRetries     int
	TimeoutSeconds int
	ScheduledAt    sql.NullTime
	StartedAt      sql.NullTime
	CompletedAt    sql.NullTime
	Error          sql.NullString
	Result         sql.NullString
	ExpiresAt      sql.NullTime
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const jobColumns = `id, name, priority, payload, status, retry_count, max_retries, timeout_seconds,
	scheduled_at, started_at, completed_at, error, result, expires_at, created_at, updated_at`

func scanJob(row interface{ Scan(dest ...any) error }) (JobRow, error) {
	var j JobRow
	err := row.Scan(
		&j.ID, &j.Name, &j.Priority, &j.Payload, &j.Status, &j.RetryCount, &j.MaxRetries, &j.TimeoutSeconds,
		&j.ScheduledAt, &j.StartedAt, &j.CompletedAt, &j.Error, &j.Result, &j.ExpiresAt, &j.CreatedAt, &j.UpdatedAt,
	)
	return j, err
}

// InsertJob persists a new job descriptor with a 7-day expiry.
func (d *Database) InsertJob(ctx context.Context, j JobRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO jobs (id, name, priority, payload, status, retry_count, max_retries, timeout_seconds,
			scheduled_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Name, j.Priority, j.Payload, j.Status, j.RetryCount, j.MaxRetries, j.TimeoutSeconds,
		j.ScheduledAt, time.Now().Add(7*24*time.Hour))
	return err
}

// UpdateJob persists a job's mutable fields (status, retry bookkeeping,
// result, error, timestamps).
func (d *Database) UpdateJob(ctx context.Context, j JobRow) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, retry_count = ?, scheduled_at = ?, started_at = ?, completed_at = ?,
			error = ?, result = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, j.Status, j.RetryCount, j.ScheduledAt, j.StartedAt, j.CompletedAt, j.Error, j.Result, j.ID)
	return err
}

// GetJob fetches a single job row by id.
func (d *Database) GetJob(ctx context.Context, id string) (*JobRow, error) {
	row := d.DB.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// InsertDeadLetterJob appends a permanently-failed job to the DLQ table.
func (d *Database) InsertDeadLetterJob(ctx context.Context, jobID, name, payload, errText string, retryCount int) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO dead_letter_jobs (id, job_id, name, payload, error, retry_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, jobID+"-dlq", jobID, name, payload, errText, retryCount)
	return err
}

// ScheduledTaskRow mirrors internal/jobs' ScheduledTask registry entry.
type ScheduledTaskRow struct {
	Name           string
	HandlerJobName string
	ScheduleKind   string
	ScheduleExpr   string
	Priority       string
	Enabled        bool
	LastRun        sql.NullTime
	NextRun        sql.NullTime
}

// UpsertScheduledTask inserts or replaces a scheduled task definition.
func (d *Database) UpsertScheduledTask(ctx context.Context, t ScheduledTaskRow) error {
	enabled := 1
	if !t.Enabled {
		enabled = 0
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (name, handler_job_name, schedule_kind, schedule_expr, priority, enabled, next_run)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			handler_job_name = excluded.handler_job_name,
			schedule_kind = excluded.schedule_kind,
			schedule_expr = excluded.schedule_expr,
			priority = excluded.priority,
			enabled = excluded.enabled
	`, t.Name, t.HandlerJobName, t.ScheduleKind, t.ScheduleExpr, t.Priority, enabled, t.NextRun)
	return err
}

// UpdateScheduledTaskRun records a task firing: last_run = now, next_run advances.
func (d *Database) UpdateScheduledTaskRun(ctx context.Context, name string, lastRun, nextRun time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE scheduled_tasks SET last_run = ?, next_run = ? WHERE name = ?
	`, lastRun, nextRun, name)
	return err
}

// ListScheduledTasks returns every enabled scheduled task.
func (d *Database) ListScheduledTasks(ctx context.Context) ([]ScheduledTaskRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT name, handler_job_name, schedule_kind, schedule_expr, priority, enabled, last_run, next_run
		FROM scheduled_tasks WHERE enabled = 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ScheduledTaskRow
	for rows.Next() {
		var t ScheduledTaskRow
		var enabled int
		if err := rows.Scan(&t.Name, &t.HandlerJobName, &t.ScheduleKind, &t.ScheduleExpr, &t.Priority, &enabled, &t.LastRun, &t.NextRun); err != nil {
			return nil, err
		}
		t.Enabled = enabled != 0
		res = append(res, t)
	}
	return res, rows.Err()
}
