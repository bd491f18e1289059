package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBacklogDepth   AlertType = "backlog_depth"
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertScrapeStalled  AlertType = "scrape_stalled"
)

// Alert is a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a StatusSnapshot against thresholds and posts alerts
// to a webhook when they are breached.
type Alerter struct {
	thresholds Thresholds
	webhookURL string
	client     *http.Client
}

// NewAlerter creates an alerter posting to webhookURL. An empty URL
// disables delivery but not evaluation.
func NewAlerter(thresholds Thresholds, webhookURL string) *Alerter {
	return &Alerter{
		thresholds: thresholds,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *StatusSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.thresholds.DegradedBacklog > 0 && snap.Backlog >= a.thresholds.DegradedBacklog {
		severity := "medium"
		if a.thresholds.CriticalBacklog > 0 && snap.Backlog >= a.thresholds.CriticalBacklog {
			severity = "high"
		}
		alerts = append(alerts, Alert{
			Type:     AlertBacklogDepth,
			Severity: severity,
			Message: fmt.Sprintf("Unprocessed posting backlog at %d (degraded >= %d, critical >= %d)",
				snap.Backlog, a.thresholds.DegradedBacklog, a.thresholds.CriticalBacklog),
			Details: map[string]any{
				"backlog":          snap.Backlog,
				"degraded_backlog": a.thresholds.DegradedBacklog,
				"critical_backlog": a.thresholds.CriticalBacklog,
			},
			Timestamp: now,
		})
	}

	finished := snap.RunsCompleted + snap.RunsFailed
	if finished >= 5 && snap.FailureRate > a.thresholds.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf("Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailureRate*100, a.thresholds.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.thresholds.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Terms are piling up but nothing has completed inside the window.
	if snap.DueTerms > 0 && snap.LastScrapeAt != nil {
		stalledFor := now.Sub(*snap.LastScrapeAt)
		window := time.Duration(snap.LookbackHours) * time.Hour
		if window > 0 && stalledFor > window {
			alerts = append(alerts, Alert{
				Type:     AlertScrapeStalled,
				Severity: "high",
				Message: fmt.Sprintf("%d term(s) due but no scrape completed in %.0fh",
					snap.DueTerms, stalledFor.Hours()),
				Details: map[string]any{
					"due_terms":      snap.DueTerms,
					"last_scrape_at": snap.LastScrapeAt,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the webhook URL, returning the number sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.webhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
