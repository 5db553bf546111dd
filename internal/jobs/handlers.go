package jobs

import (
	"context"
	"fmt"
	"log"

	"trading-core/pkg/db"
)

// RunningChecker is the subset of internal/bot.Manager the reconciliation
// handler needs; kept as a narrow interface so jobs doesn't depend on the
// whole bot package surface.
type RunningChecker interface {
	IsRunning(botID string) bool
}

// NewReconcileBotStatusHandler demotes any bot that storage shows RUNNING
// but has no live engine in this process to PAUSED. A crash leaves no
// automatic resume, so this scheduled job corrects the stale RUNNING row
// rather than leaving it silently wrong.
func NewReconcileBotStatusHandler(database *db.Database, mgr RunningChecker) Handler {
	return func(ctx context.Context, j *Job) ([]byte, error) {
		running, err := database.ListBotsByStatus(ctx, "RUNNING")
		if err != nil {
			return nil, fmt.Errorf("reconcile_bot_status: list running bots: %w", err)
		}

		demoted := 0
		for _, b := range running {
			if mgr.IsRunning(b.ID) {
				continue
			}
			if err := database.SetBotPaused(ctx, b.ID); err != nil {
				return nil, fmt.Errorf("reconcile_bot_status: demote %s: %w", b.ID, err)
			}
			log.Printf("jobs: reconcile_bot_status demoted stale RUNNING bot %s to PAUSED", b.ID)
			demoted++
		}

		return []byte(fmt.Sprintf(`{"checked":%d,"demoted":%d}`, len(running), demoted)), nil
	}
}
