package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/kurve-cli/internal/config"
	"github.com/sells-group/kurve-cli/internal/monitoring"
)

var (
	statusLookback int
	statusAlert    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report store health and raise alerts",
	Long:  "Collects run counts, the latest reading per granularity and the current tariff, then evaluates alert thresholds. With --alert, breached thresholds are posted to the monitoring webhook.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mc := cfg.Monitoring
		if statusLookback > 0 {
			mc.LookbackWindowHours = statusLookback
		}
		report, err := collectStatus(ctx, monitoring.NewCollector(st), mc, statusAlert)
		if err != nil {
			return err
		}
		return writeResult(os.Stdout, report)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLookback, "lookback", 0, "run history window in hours (default from config)")
	statusCmd.Flags().BoolVar(&statusAlert, "alert", false, "send triggered alerts to the monitoring webhook")
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Snapshot   *monitoring.MetricsSnapshot `json:"snapshot"`
	Alerts     []monitoring.Alert          `json:"alerts"`
	AlertsSent int                         `json:"alerts_sent"`
}

func collectStatus(ctx context.Context, c *monitoring.Collector, mc config.MonitoringConfig, send bool) (*statusReport, error) {
	snap, err := c.Collect(ctx, mc.LookbackWindowHours)
	if err != nil {
		return nil, err
	}

	alerter := monitoring.NewAlerter(mc)
	report := &statusReport{Snapshot: snap, Alerts: alerter.Evaluate(snap)}
	if report.Alerts == nil {
		report.Alerts = []monitoring.Alert{}
	}
	if send && len(report.Alerts) > 0 {
		report.AlertsSent = alerter.SendAlerts(ctx, report.Alerts)
	}
	return report, nil
}
