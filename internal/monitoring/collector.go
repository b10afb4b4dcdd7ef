// Package monitoring collects store health, raises alerts and exports
// Prometheus metrics.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kurve-cli/internal/model"
)

// runScanLimit bounds the run log scan per collection.
const runScanLimit = 1000

// MetricsSnapshot holds a point-in-time view of ingestion health.
type MetricsSnapshot struct {
	// Run log metrics (within lookback window).
	RunsTotal    int    `json:"runs_total"`
	RunsComplete int    `json:"runs_complete"`
	RunsFailed   int    `json:"runs_failed"`
	RunsRunning  int    `json:"runs_running"`
	Inserted     int    `json:"inserted"`
	Updated      int    `json:"updated"`
	Mismatches   int    `json:"mismatches"`
	LastError    string `json:"last_error,omitempty"`

	// Store contents.
	LatestReadings map[model.Granularity]time.Time `json:"latest_readings"`
	CurrentTariff  *model.Tariff                   `json:"current_tariff,omitempty"`
	Rows           int64                           `json:"rows"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StoreReader is the slice of the store the collector reads.
type StoreReader interface {
	ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error)
	LatestReading(ctx context.Context, g model.Granularity) (*model.MeterReading, error)
	CurrentTariff(ctx context.Context) (*model.Tariff, error)
	Count(ctx context.Context) (int64, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store StoreReader
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st StoreReader) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of store health over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LatestReadings: make(map[model.Granularity]time.Time),
		LookbackHours:  lookbackHours,
		CollectedAt:    now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, runScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	// Runs are newest first.
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		snap.Inserted += r.Inserted
		snap.Updated += r.Updated
		snap.Mismatches += r.Mismatches
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
			if snap.LastError == "" {
				snap.LastError = r.Error
			}
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}

	for _, g := range model.ReadingGranularities {
		r, err := c.store.LatestReading(ctx, g)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: latest %s reading", g)
		}
		if r != nil {
			snap.LatestReadings[g] = r.PeriodStartUTC
		}
	}

	if snap.CurrentTariff, err = c.store.CurrentTariff(ctx); err != nil {
		return nil, eris.Wrap(err, "monitoring: current tariff")
	}
	if snap.Rows, err = c.store.Count(ctx); err != nil {
		return nil, eris.Wrap(err, "monitoring: count rows")
	}

	return snap, nil
}
