package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testThresholds() Thresholds {
	return Thresholds{
		DegradedBacklog:      100,
		CriticalBacklog:      500,
		FailureRateThreshold: 0.10,
		LookbackHours:        24,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testThresholds(), "")

	snap := &StatusSnapshot{
		Backlog:       10,
		RunsCompleted: 19,
		RunsFailed:    1,
		FailureRate:   0.05,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_BacklogDepth(t *testing.T) {
	a := NewAlerter(testThresholds(), "")

	snap := &StatusSnapshot{Backlog: 150, LookbackHours: 24}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBacklogDepth, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)

	snap.Backlog = 600
	alerts = a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(testThresholds(), "")

	snap := &StatusSnapshot{
		RunsCompleted: 12,
		RunsFailed:    8,
		FailureRate:   0.4,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_FailureRateNeedsSample(t *testing.T) {
	a := NewAlerter(testThresholds(), "")

	// Two runs, one failed: 50% but too few finished runs to alert on.
	snap := &StatusSnapshot{
		RunsCompleted: 1,
		RunsFailed:    1,
		FailureRate:   0.5,
		LookbackHours: 24,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ScrapeStalled(t *testing.T) {
	a := NewAlerter(testThresholds(), "")

	stale := time.Now().UTC().Add(-48 * time.Hour)
	snap := &StatusSnapshot{
		DueTerms:      3,
		LastScrapeAt:  &stale,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertScrapeStalled, alerts[0].Type)
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertBacklogDepth, alert.Type)
		received.Add(1)
	}))
	defer srv.Close()

	a := NewAlerter(testThresholds(), srv.URL)
	sent := a.SendAlerts(context.Background(), []Alert{{
		Type:     AlertBacklogDepth,
		Severity: "medium",
		Message:  "backlog at 150",
	}})

	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlerter(testThresholds(), srv.URL)
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertBacklogDepth}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(testThresholds(), "")
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertBacklogDepth}})
	assert.Equal(t, 0, sent)
}
