package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spacelock/membership-security-backend/interfaces"
)

// AnalyticsReport is the aggregate dashboard view over the audit log.
type AnalyticsReport struct {
	TopFailingIPs  []interfaces.IPFailureStat   `json:"topFailingIps"`
	SeverityTrend  []interfaces.SeverityCount   `json:"severityTrend"`
	EventStats     []interfaces.EventTypeCount  `json:"eventStats"`
	SuccessCount   int                          `json:"successCount"`
	FailureCount   int                          `json:"failureCount"`
	WeeklyTrend    []interfaces.DayBucket       `json:"weeklyTrend"`
	CategoryVolume map[string]int               `json:"categoryVolume"`
	Baseline       *interfaces.SecurityBaseline `json:"baseline,omitempty"`
}

// Analytics serves the read-only dashboard aggregates. It runs against
// the same store as the query path and never takes part in audit
// writes, so a slow dashboard cannot stall Record.
type Analytics struct {
	store     interfaces.AuditStore
	baselines interfaces.BaselineStore
	log       *slog.Logger
}

// NewAnalytics creates the analytics reader.
func NewAnalytics(store interfaces.AuditStore, baselines interfaces.BaselineStore, log *slog.Logger) *Analytics {
	return &Analytics{store: store, baselines: baselines, log: log}
}

// Report assembles the aggregate views: top failing IPs and severity
// trend over the last 24 hours, weekly trend over 7 days, event and
// category volumes, the success/failure ratio, and the current
// security baseline when one exists.
func (a *Analytics) Report(ctx context.Context) (*AnalyticsReport, error) {
	now := time.Now().UTC()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	topIPs, err := a.store.TopFailingIPs(ctx, dayAgo, 10)
	if err != nil {
		return nil, fmt.Errorf("top failing ips: %w", err)
	}

	severity, err := a.store.SeverityCounts(ctx, dayAgo)
	if err != nil {
		return nil, fmt.Errorf("severity trend: %w", err)
	}

	events, err := a.store.EventTypeCounts(ctx, weekAgo)
	if err != nil {
		return nil, fmt.Errorf("event stats: %w", err)
	}

	success, failure, err := a.store.StatusRatio(ctx, dayAgo)
	if err != nil {
		return nil, fmt.Errorf("status ratio: %w", err)
	}

	weekly, err := a.store.DailyCounts(ctx, weekAgo)
	if err != nil {
		return nil, fmt.Errorf("weekly trend: %w", err)
	}

	report := &AnalyticsReport{
		TopFailingIPs:  topIPs,
		SeverityTrend:  severity,
		EventStats:     events,
		SuccessCount:   success,
		FailureCount:   failure,
		WeeklyTrend:    weekly,
		CategoryVolume: categorize(events),
	}

	baseline, err := a.baselines.Latest(ctx)
	switch {
	case err == nil:
		report.Baseline = baseline
	case errors.Is(err, interfaces.ErrNotFound):
		// No baseline computed yet; the report is still valid.
	default:
		return nil, fmt.Errorf("baseline: %w", err)
	}

	return report, nil
}

// categorize folds event types into their top-level category: the
// segment before the first dot, e.g. "vault.upload" counts as "vault".
func categorize(events []interfaces.EventTypeCount) map[string]int {
	volume := make(map[string]int, len(events))
	for _, e := range events {
		category := e.EventType
		if i := strings.IndexByte(category, '.'); i > 0 {
			category = category[:i]
		}
		volume[category] += e.Count
	}
	return volume
}
