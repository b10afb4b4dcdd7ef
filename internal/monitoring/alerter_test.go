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

	"github.com/sells-group/kurve-cli/internal/config"
	"github.com/sells-group/kurve-cli/internal/model"
)

func healthySnapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		RunsTotal:      4,
		RunsComplete:   4,
		Mismatches:     2,
		LatestReadings: map[model.Granularity]time.Time{model.Hourly: collectedAt.Add(-2 * time.Hour)},
		CurrentTariff:  &model.Tariff{TariffID: 1, IsCurrent: true},
		Rows:           500,
		LookbackHours:  24,
		CollectedAt:    collectedAt,
	}
}

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{StaleDataHours: 48, MismatchThreshold: 50}
}

func alertTypes(alerts []Alert) []AlertType {
	out := make([]AlertType, len(alerts))
	for i, a := range alerts {
		out[i] = a.Type
	}
	return out
}

func TestAlerter_Evaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(s *MetricsSnapshot)
		want   []AlertType
	}{
		{name: "healthy", mutate: func(*MetricsSnapshot) {}},
		{name: "failed run", mutate: func(s *MetricsSnapshot) {
			s.RunsFailed = 1
			s.LastError = "status 500"
		}, want: []AlertType{AlertRunFailure}},
		{name: "stale hourly", mutate: func(s *MetricsSnapshot) {
			s.LatestReadings[model.Hourly] = collectedAt.Add(-72 * time.Hour)
		}, want: []AlertType{AlertStaleData}},
		{name: "no hourly at all", mutate: func(s *MetricsSnapshot) {
			delete(s.LatestReadings, model.Hourly)
		}, want: []AlertType{AlertStaleData}},
		{name: "empty store is not stale", mutate: func(s *MetricsSnapshot) {
			s.Rows = 0
			s.CurrentTariff = nil
			delete(s.LatestReadings, model.Hourly)
		}},
		{name: "mismatch volume", mutate: func(s *MetricsSnapshot) { s.Mismatches = 51 }, want: []AlertType{AlertMismatchVolume}},
		{name: "no current tariff", mutate: func(s *MetricsSnapshot) { s.CurrentTariff = nil }, want: []AlertType{AlertNoCurrentTariff}},
		{name: "all", mutate: func(s *MetricsSnapshot) {
			s.RunsFailed = 2
			s.LatestReadings = map[model.Granularity]time.Time{}
			s.Mismatches = 100
			s.CurrentTariff = nil
		}, want: []AlertType{AlertRunFailure, AlertStaleData, AlertMismatchVolume, AlertNoCurrentTariff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snap := healthySnapshot()
			tt.mutate(snap)
			alerts := NewAlerter(testMonitoringConfig()).Evaluate(snap)
			if len(tt.want) == 0 {
				assert.Empty(t, alerts)
				return
			}
			assert.Equal(t, tt.want, alertTypes(alerts))
		})
	}
}

func TestAlerter_Evaluate_DisabledThresholds(t *testing.T) {
	t.Parallel()
	snap := healthySnapshot()
	snap.Mismatches = 10_000
	snap.LatestReadings = map[model.Granularity]time.Time{}

	assert.Empty(t, NewAlerter(config.MonitoringConfig{}).Evaluate(snap))
}

func TestAlerter_Evaluate_Message(t *testing.T) {
	t.Parallel()
	snap := healthySnapshot()
	snap.RunsTotal = 5
	snap.RunsFailed = 2

	alerts := NewAlerter(testMonitoringConfig()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Equal(t, "2 of 5 ingestion run(s) failed in last 24h", alerts[0].Message)
	assert.Equal(t, collectedAt, alerts[0].Timestamp)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	t.Parallel()
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailure, Severity: "high", Message: "test alert 1"},
		{Type: AlertStaleData, Severity: "medium", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_Noop(t *testing.T) {
	t.Parallel()
	assert.Zero(t, NewAlerter(config.MonitoringConfig{}).SendAlerts(context.Background(), []Alert{{Type: AlertRunFailure}}))
	assert.Zero(t, NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"}).SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailure, Message: "test"}}))
}
