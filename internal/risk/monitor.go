package risk

import (
	"context"
	"fmt"
	"time"

	"trading-core/internal/events"
	"trading-core/pkg/db"
)

// Metrics is the current account snapshot the Monitor evaluates against
// every enabled RiskLimit.
type Metrics struct {
	Equity        float64
	DailyPnL      float64
	UnrealizedPnL float64
	RealizedPnL   float64
	DrawdownPct   float64
	MarginRatio   float64
	ExposurePct   float64
}

// Severity tiers, evaluated highest-first.
const (
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
	SeverityBreached = "BREACHED"
)

// debounceWindow collapses duplicate alerts against the same limit.
const debounceWindow = 5 * time.Minute

// Monitor evaluates a user's current metrics against every enabled
// RiskLimit, producing severity-tiered Alerts and fanning them out.
type Monitor struct {
	db  *db.Database
	bus *events.Bus
}

func NewMonitor(database *db.Database, bus *events.Bus) *Monitor {
	return &Monitor{db: database, bus: bus}
}

// currentValue extracts the metric a RiskLimit kind is measured against.
func currentValue(kind string, m Metrics) float64 {
	switch kind {
	case "daily_loss", "DAILY_LOSS":
		if m.DailyPnL < 0 {
			return -m.DailyPnL
		}
		return 0
	case "drawdown", "DRAWDOWN":
		return m.DrawdownPct
	case "margin_ratio", "MARGIN_RATIO":
		return m.MarginRatio
	case "exposure", "EXPOSURE":
		return m.ExposurePct
	default:
		return 0
	}
}

// severity classifies a violation percentage into a tier, or "" if none
// reached: breached >= 100, critical >= critical_threshold (default 95),
// warning >= warning_threshold (default 80).
func severity(violationPct, warningThreshold, criticalThreshold float64) string {
	switch {
	case violationPct >= 100:
		return SeverityBreached
	case violationPct >= criticalThreshold:
		return SeverityCritical
	case violationPct >= warningThreshold:
		return SeverityWarning
	default:
		return ""
	}
}

// Evaluate checks every enabled limit for a user (global and, when symbol
// is non-empty, symbol-scoped) against the given metrics, recording and
// fanning out any newly-produced alert.
func (mon *Monitor) Evaluate(ctx context.Context, userID, symbol string, m Metrics) ([]db.RiskAlertRow, error) {
	limits, err := mon.db.ListRiskLimitsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("risk monitor: list limits: %w", err)
	}

	var produced []db.RiskAlertRow
	for _, l := range limits {
		if l.Symbol.Valid && l.Symbol.String != "" && l.Symbol.String != symbol {
			continue
		}

		current := currentValue(l.Kind, m)
		if l.ThresholdValue <= 0 {
			continue
		}
		violationPct := current / l.ThresholdValue * 100

		sev := severity(violationPct, warningOrDefault(l.WarningThreshold), criticalOrDefault(l.CriticalThreshold))
		if sev == "" {
			continue
		}

		debounced, err := mon.isDebounced(ctx, l.ID, sev)
		if err != nil {
			return nil, err
		}
		if debounced {
			continue
		}

		alert := db.RiskAlertRow{
			ID:                  fmt.Sprintf("alert-%s-%d", l.ID, time.Now().UnixNano()),
			UserID:              userID,
			RiskLimitID:         l.ID,
			Kind:                l.Kind,
			Symbol:              l.Symbol,
			Severity:            sev,
			Message:             message(sev, l.Kind, current, l.ThresholdValue),
			CurrentValue:        current,
			LimitValue:          l.ThresholdValue,
			ViolationPercentage: round1(violationPct),
		}
		if err := mon.db.CreateRiskAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("risk monitor: create alert: %w", err)
		}
		produced = append(produced, alert)

		if mon.bus != nil {
			mon.bus.Publish(events.EventRiskAlertRaised, alert)
		}
	}

	return produced, nil
}

var severityRank = map[string]int{SeverityWarning: 1, SeverityCritical: 2, SeverityBreached: 3}

// isDebounced collapses a repeat alert at the same-or-lower severity within
// the debounce window, but always lets an escalation through: a limit that
// goes from CRITICAL to BREACHED seconds later must still raise a fresh
// alert, which a severity-blind debounce would incorrectly swallow.
func (mon *Monitor) isDebounced(ctx context.Context, limitID, newSeverity string) (bool, error) {
	last, err := mon.db.LastAlertForLimit(ctx, limitID)
	if err != nil {
		return false, fmt.Errorf("risk monitor: last alert lookup: %w", err)
	}
	if last == nil {
		return false, nil
	}
	if time.Since(last.CreatedAt) >= debounceWindow {
		return false, nil
	}
	return severityRank[newSeverity] <= severityRank[last.Severity], nil
}

func message(severity, kind string, current, limit float64) string {
	verb := "approached"
	if severity == SeverityBreached {
		verb = "breached"
	} else if severity == SeverityCritical {
		verb = "critically approached"
	}
	return fmt.Sprintf("%s limit %s %.2f of %.2f", kind, verb, current, limit)
}

func warningOrDefault(v float64) float64 {
	if v <= 0 {
		return 80
	}
	return v
}

func criticalOrDefault(v float64) float64 {
	if v <= 0 {
		return 95
	}
	return v
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
