// Package monitoring reports pipeline health and activity metrics, and
// raises webhook alerts when the backlog or the run failure rate crosses
// configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/toolwatch/internal/model"
	"github.com/sells-group/toolwatch/internal/store"
)

// Health is the overall pipeline status.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
)

// StatusSnapshot is a point-in-time view of pipeline health.
type StatusSnapshot struct {
	Status        Health               `json:"status"`
	Backlog       int                  `json:"backlog"`
	DueTerms      int                  `json:"due_terms"`
	LastScrapeAt  *time.Time           `json:"last_scrape_at,omitempty"`
	Today         store.ActivityCounts `json:"today"`
	RunsCompleted int                  `json:"runs_completed"`
	RunsFailed    int                  `json:"runs_failed"`
	FailureRate   float64              `json:"failure_rate"`
	LookbackHours int                  `json:"lookback_hours"`
	CollectedAt   time.Time            `json:"collected_at"`
}

// MetricsSnapshot is the aggregate view served by the metrics endpoint.
type MetricsSnapshot struct {
	Activity    store.ActivityCounts `json:"activity"`
	Daily       []store.DayMetrics   `json:"daily"`
	ToolCounts  map[model.Tool]int   `json:"tool_counts"`
	TierCounts  map[model.Tier]int   `json:"tier_counts"`
	SuccessRate float64              `json:"run_success_rate"`
	Days        int                  `json:"days"`
	CollectedAt time.Time            `json:"collected_at"`
}

// Store is the persistence surface the collector reads.
type Store interface {
	CountUnprocessed(ctx context.Context) (int, error)
	CountDueTerms(ctx context.Context, olderThan time.Time) (int, error)
	LastCompletedScrape(ctx context.Context) (*time.Time, error)
	RunOutcomes(ctx context.Context, since time.Time) (completed, failed int, err error)
	ActivitySince(ctx context.Context, since time.Time) (store.ActivityCounts, error)
	DailyMetrics(ctx context.Context, since time.Time) ([]store.DayMetrics, error)
	ToolCounts(ctx context.Context) (map[model.Tool]int, error)
	TierCounts(ctx context.Context) (map[model.Tier]int, error)
}

// Thresholds sets the health boundaries the collector evaluates against.
type Thresholds struct {
	DegradedBacklog      int
	CriticalBacklog      int
	FailureRateThreshold float64
	LookbackHours        int
}

// Collector gathers health and activity metrics from the store.
type Collector struct {
	store      Store
	thresholds Thresholds
	staleness  time.Duration
	now        func() time.Time
}

// NewCollector creates a metrics collector. staleness is the term
// re-scrape window, used to count due terms.
func NewCollector(st Store, thresholds Thresholds, staleness time.Duration) *Collector {
	return &Collector{
		store:      st,
		thresholds: thresholds,
		staleness:  staleness,
		now:        time.Now,
	}
}

// Status evaluates pipeline health. The backlog depth drives the status:
// past CriticalBacklog the pipeline is critical, past DegradedBacklog or a
// failure rate above threshold it is degraded.
func (c *Collector) Status(ctx context.Context) (*StatusSnapshot, error) {
	now := c.now().UTC()
	snap := &StatusSnapshot{
		Status:        HealthHealthy,
		LookbackHours: c.thresholds.LookbackHours,
		CollectedAt:   now,
	}

	backlog, err := c.store.CountUnprocessed(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count backlog")
	}
	snap.Backlog = backlog

	due, err := c.store.CountDueTerms(ctx, now.Add(-c.staleness))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count due terms")
	}
	snap.DueTerms = due

	last, err := c.store.LastCompletedScrape(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last scrape")
	}
	snap.LastScrapeAt = last

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := c.store.ActivitySince(ctx, midnight)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: today activity")
	}
	snap.Today = today

	cutoff := now.Add(-time.Duration(c.thresholds.LookbackHours) * time.Hour)
	completed, failed, err := c.store.RunOutcomes(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: run outcomes")
	}
	snap.RunsCompleted = completed
	snap.RunsFailed = failed
	if finished := completed + failed; finished > 0 {
		snap.FailureRate = float64(failed) / float64(finished)
	}

	switch {
	case c.thresholds.CriticalBacklog > 0 && backlog >= c.thresholds.CriticalBacklog:
		snap.Status = HealthCritical
	case c.thresholds.DegradedBacklog > 0 && backlog >= c.thresholds.DegradedBacklog:
		snap.Status = HealthDegraded
	case snap.RunsCompleted+snap.RunsFailed >= 5 && snap.FailureRate > c.thresholds.FailureRateThreshold:
		snap.Status = HealthDegraded
	}

	return snap, nil
}

// Metrics gathers activity aggregates over the trailing number of days.
func (c *Collector) Metrics(ctx context.Context, days int) (*MetricsSnapshot, error) {
	if days <= 0 {
		days = 7
	}
	now := c.now().UTC()
	since := now.AddDate(0, 0, -days)

	snap := &MetricsSnapshot{Days: days, CollectedAt: now}

	activity, err := c.store.ActivitySince(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: activity")
	}
	snap.Activity = activity

	daily, err := c.store.DailyMetrics(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: daily metrics")
	}
	snap.Daily = daily

	tools, err := c.store.ToolCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: tool counts")
	}
	snap.ToolCounts = tools

	tiers, err := c.store.TierCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: tier counts")
	}
	snap.TierCounts = tiers

	completed, failed, err := c.store.RunOutcomes(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: run outcomes")
	}
	if finished := completed + failed; finished > 0 {
		snap.SuccessRate = float64(completed) / float64(finished)
	}

	return snap, nil
}
