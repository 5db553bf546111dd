package jobs

import (
	"database/sql"
	"time"

	"trading-core/pkg/db"
)

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toRow(j *Job) db.JobRow {
	return db.JobRow{
		ID:             j.ID,
		Name:           j.Name,
		Priority:       string(j.Priority),
		Payload:        string(j.Payload),
		Status:         string(j.Status),
		RetryCount:     j.RetryCount,
		MaxRetries:     j.MaxRetries,
		TimeoutSeconds: j.TimeoutSeconds,
		ScheduledAt:    nullTime(j.ScheduledAt),
		StartedAt:      nullTime(j.StartedAt),
		CompletedAt:    nullTime(j.CompletedAt),
		Error:          nullString(j.Error),
		Result:         nullString(string(j.Result)),
		CreatedAt:      j.CreatedAt,
	}
}
