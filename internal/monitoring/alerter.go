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

	"github.com/sells-group/award-enricher/internal/config"
	"github.com/sells-group/award-enricher/internal/model"
	"github.com/sells-group/award-enricher/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertResultFailureRate AlertType = "result_failure_rate"
	AlertBreakerOpen       AlertType = "breaker_open"
	AlertReviewBacklog     AlertType = "review_backlog"
)

// minResultsForRate keeps a handful of early failures from paging anyone.
const minResultsForRate = 20

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, ep := range snap.Endpoints {
		if ep.Breaker != resilience.CircuitOpen.String() {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "high",
			Message: fmt.Sprintf("Registry endpoint %q circuit is open after %d consecutive failures",
				ep.Name, ep.ConsecutiveFailures),
			Details: map[string]any{
				"endpoint":             ep.Name,
				"consecutive_failures": ep.ConsecutiveFailures,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FailureRateThreshold > 0 && snap.ResultsTotal >= minResultsForRate &&
		snap.FailureRate > a.cfg.FailureRateThreshold {
		failed := snap.ResultsByStatus[model.ResultFailed]
		alerts = append(alerts, Alert{
			Type:     AlertResultFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Enrichment failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d results)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100, failed, snap.ResultsTotal,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       failed,
				"results":      snap.ResultsTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ReviewQueueThreshold > 0 && snap.ReviewQueue > a.cfg.ReviewQueueThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "medium",
			Message: fmt.Sprintf("%d low-confidence results awaiting review (threshold %d)",
				snap.ReviewQueue, a.cfg.ReviewQueueThreshold),
			Details: map[string]any{
				"review_queue": snap.ReviewQueue,
				"threshold":    a.cfg.ReviewQueueThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
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
