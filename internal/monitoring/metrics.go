package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/kurve-cli/internal/merge"
	"github.com/sells-group/kurve-cli/internal/model"
)

const metricPrefix = "kurve_"

// Metrics owns a Prometheus registry with the reconcile, store, merge and
// HTTP series. It implements reconcile.Recorder.
type Metrics struct {
	reg *prometheus.Registry

	reconciled *prometheus.CounterVec
	mismatches *prometheus.CounterVec

	runs          *prometheus.GaugeVec
	latestReading *prometheus.GaugeVec
	rows          prometheus.Gauge
	currentRate   prometheus.Gauge

	mergeRows      *prometheus.GaugeVec
	mergeDuration  prometheus.Gauge
	mergeTimestamp prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers every series on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "reconcile_records_total",
			Help: "Records reconciled by table and outcome",
		}, []string{"table", "outcome"}),
		mismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "reconcile_mismatches_total",
			Help: "Incoming fields smaller than the stored value, by table",
		}, []string{"table"}),
		runs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "ingest_runs",
			Help: "Ingestion runs in the lookback window by status",
		}, []string{"status"}),
		latestReading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "latest_reading_timestamp_seconds",
			Help: "Period start of the newest stored reading by granularity",
		}, []string{"granularity"}),
		rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "store_rows",
			Help: "Rows across all data tables",
		}),
		currentRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "current_tariff_rate",
			Help: "Rate of the tariff in force",
		}),
		mergeRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "merge_rows",
			Help: "Rows handled by the last merge by table and stage",
		}, []string{"table", "stage"}),
		mergeDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "merge_duration_seconds",
			Help: "Duration of the last merge",
		}),
		mergeTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "merge_last_success_timestamp_seconds",
			Help: "Completion time of the last merge",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "http_requests_total",
			Help: "Total number of HTTP requests served",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricPrefix + "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reconciled, m.mismatches,
		m.runs, m.latestReading, m.rows, m.currentRate,
		m.mergeRows, m.mergeDuration, m.mergeTimestamp,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// RecordReconcile adds one batch's counters.
func (m *Metrics) RecordReconcile(table string, inserted, updated, unchanged, mismatches int) {
	m.reconciled.WithLabelValues(table, "inserted").Add(float64(inserted))
	m.reconciled.WithLabelValues(table, "updated").Add(float64(updated))
	m.reconciled.WithLabelValues(table, "unchanged").Add(float64(unchanged))
	m.mismatches.WithLabelValues(table).Add(float64(mismatches))
}

// Observe sets the store gauges from a snapshot.
func (m *Metrics) Observe(snap *MetricsSnapshot) {
	m.runs.WithLabelValues(string(model.RunStatusComplete)).Set(float64(snap.RunsComplete))
	m.runs.WithLabelValues(string(model.RunStatusFailed)).Set(float64(snap.RunsFailed))
	m.runs.WithLabelValues(string(model.RunStatusRunning)).Set(float64(snap.RunsRunning))
	for g, at := range snap.LatestReadings {
		m.latestReading.WithLabelValues(g.String()).Set(float64(at.Unix()))
	}
	m.rows.Set(float64(snap.Rows))
	if snap.CurrentTariff != nil {
		m.currentRate.Set(snap.CurrentTariff.Rate)
	}
}

// ObserveMerge sets the merge gauges from a report.
func (m *Metrics) ObserveMerge(r *merge.Report) {
	for _, t := range r.Tables {
		m.mergeRows.WithLabelValues(t.Table, "read").Set(float64(t.Read))
		m.mergeRows.WithLabelValues(t.Table, "duplicates").Set(float64(t.Duplicates))
		m.mergeRows.WithLabelValues(t.Table, "filtered").Set(float64(t.Filtered))
		m.mergeRows.WithLabelValues(t.Table, "written").Set(float64(t.Written))
	}
	m.mergeDuration.Set(r.DurationSeconds)
	if !r.DryRun {
		m.mergeTimestamp.Set(float64(r.StartedAt.Unix()) + r.DurationSeconds)
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// WriteTextfile writes the registry for the node-exporter textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return eris.Wrapf(err, "monitoring: write metrics textfile %s", path)
	}
	return nil
}
