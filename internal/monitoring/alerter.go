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

	"github.com/sells-group/kurve-cli/internal/config"
	"github.com/sells-group/kurve-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailure      AlertType = "run_failure"
	AlertStaleData       AlertType = "stale_data"
	AlertMismatchVolume  AlertType = "mismatch_volume"
	AlertNoCurrentTariff AlertType = "no_current_tariff"
)

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
	log    *zap.Logger
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    zap.L().With(zap.String("component", "monitoring.alerter")),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if snap.RunsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d of %d ingestion run(s) failed in last %dh",
				snap.RunsFailed, snap.RunsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failed":     snap.RunsFailed,
				"total":      snap.RunsTotal,
				"last_error": snap.LastError,
			},
			Timestamp: now,
		})
	}

	// Only meaningful once the store holds data.
	if a.cfg.StaleDataHours > 0 && snap.Rows > 0 {
		limit := time.Duration(a.cfg.StaleDataHours) * time.Hour
		latest, ok := snap.LatestReadings[model.Hourly]
		if !ok || now.Sub(latest) > limit {
			msg := fmt.Sprintf("no hourly reading in the last %dh", a.cfg.StaleDataHours)
			details := map[string]any{"threshold_hours": a.cfg.StaleDataHours}
			if ok {
				details["latest_hourly"] = latest
				details["age_hours"] = int(now.Sub(latest).Hours())
			}
			alerts = append(alerts, Alert{
				Type:      AlertStaleData,
				Severity:  "medium",
				Message:   msg,
				Details:   details,
				Timestamp: now,
			})
		}
	}

	if a.cfg.MismatchThreshold > 0 && snap.Mismatches > a.cfg.MismatchThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertMismatchVolume,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d data mismatches exceed threshold %d in last %dh",
				snap.Mismatches, a.cfg.MismatchThreshold, snap.LookbackHours,
			),
			Details: map[string]any{
				"mismatches": snap.Mismatches,
				"threshold":  a.cfg.MismatchThreshold,
			},
			Timestamp: now,
		})
	}

	if snap.Rows > 0 && snap.CurrentTariff == nil {
		alerts = append(alerts, Alert{
			Type:      AlertNoCurrentTariff,
			Severity:  "low",
			Message:   "store has readings but no current tariff",
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
			a.log.Error("failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		a.log.Info("alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
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
