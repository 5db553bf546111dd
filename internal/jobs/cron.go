package jobs

import (
	"time"

	"github.com/robfig/cron/v3"
)

// cronNextRun parses a standard five-field cron expression (minute hour
// dom month dow) and returns the next fire time strictly after `after`.
// Delegates the field-matching (lists, ranges, steps, day-of-month OR
// day-of-week semantics) to robfig/cron/v3's parser, which covers the
// five-field form with `*`, explicit values, ranges, comma lists, and
// step values.
func cronNextRun(expr string, after time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}
