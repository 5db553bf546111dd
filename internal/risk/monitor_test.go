package risk

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/internal/events"
	"trading-core/pkg/db"
)

func newTestMonitor(t *testing.T) (*Monitor, *db.Database) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))
	return NewMonitor(database, events.NewBus()), database
}

// TestEvaluateEscalatesThenBreaches exercises a DAILY_LOSS limit of 500 with
// warning=80/critical=95, first crossed at 96% (CRITICAL, not WARNING — 96
// >= 95), then crossed again seconds later at 102% (BREACHED). Both calls
// must produce a fresh alert; debounce must not collapse the escalation.
func TestEvaluateEscalatesThenBreaches(t *testing.T) {
	mon, database := newTestMonitor(t)
	ctx := context.Background()

	require.NoError(t, database.CreateRiskLimit(ctx, db.RiskLimitRow{
		ID:                "limit-1",
		UserID:            "user-1",
		Kind:              "DAILY_LOSS",
		Symbol:            sql.NullString{},
		ThresholdValue:    500,
		WarningThreshold:  80,
		CriticalThreshold: 95,
		Enabled:           true,
	}))

	alerts, err := mon.Evaluate(ctx, "user-1", "", Metrics{DailyPnL: -480})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "approached")
	assert.Equal(t, 480.0, alerts[0].CurrentValue)
	assert.Equal(t, 500.0, alerts[0].LimitValue)
	assert.Equal(t, 96.0, alerts[0].ViolationPercentage)

	alerts, err = mon.Evaluate(ctx, "user-1", "", Metrics{DailyPnL: -510})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityBreached, alerts[0].Severity)
	assert.Equal(t, 102.0, alerts[0].ViolationPercentage)
}

// TestEvaluateDebouncesSameSeverityRepeat ensures a same-severity re-breach
// within the debounce window does not produce a duplicate alert.
func TestEvaluateDebouncesSameSeverityRepeat(t *testing.T) {
	mon, database := newTestMonitor(t)
	ctx := context.Background()

	require.NoError(t, database.CreateRiskLimit(ctx, db.RiskLimitRow{
		ID:                "limit-2",
		UserID:            "user-2",
		Kind:              "DRAWDOWN",
		ThresholdValue:    20,
		WarningThreshold:  80,
		CriticalThreshold: 95,
		Enabled:           true,
	}))

	alerts, err := mon.Evaluate(ctx, "user-2", "", Metrics{DrawdownPct: 19})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)

	alerts, err = mon.Evaluate(ctx, "user-2", "", Metrics{DrawdownPct: 19.2})
	require.NoError(t, err)
	assert.Len(t, alerts, 0)
}

// TestEvaluateSkipsSymbolScopedLimitForOtherSymbol confirms a symbol-scoped
// limit does not fire for metrics reported under a different symbol.
func TestEvaluateSkipsSymbolScopedLimitForOtherSymbol(t *testing.T) {
	mon, database := newTestMonitor(t)
	ctx := context.Background()

	require.NoError(t, database.CreateRiskLimit(ctx, db.RiskLimitRow{
		ID:                "limit-3",
		UserID:            "user-3",
		Kind:              "EXPOSURE",
		Symbol:            sql.NullString{String: "BTCUSDT", Valid: true},
		ThresholdValue:    50,
		WarningThreshold:  80,
		CriticalThreshold: 95,
		Enabled:           true,
	}))

	alerts, err := mon.Evaluate(ctx, "user-3", "ETHUSDT", Metrics{ExposurePct: 49})
	require.NoError(t, err)
	assert.Len(t, alerts, 0)

	alerts, err = mon.Evaluate(ctx, "user-3", "BTCUSDT", Metrics{ExposurePct: 49})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
}
