package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kurve-cli/internal/config"
	"github.com/sells-group/kurve-cli/internal/ingest"
	"github.com/sells-group/kurve-cli/internal/monitoring"
	"github.com/sells-group/kurve-cli/internal/reconcile"
	"github.com/sells-group/kurve-cli/internal/resilience"
	"github.com/sells-group/kurve-cli/internal/store"
	"github.com/sells-group/kurve-cli/pkg/kurve"
)

// tokenSkew rejects tokens that would expire mid-run.
const tokenSkew = time.Minute

var (
	ingestAccount  string
	ingestToken    string
	ingestStore    string
	ingestTextfile string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch consumption pages and reconcile them into the store",
	Long:  "Walks the configured page plan for every granularity, reconciling readings, averages and the tariff history into the store. Exits non-zero if the run fails.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyIngestFlags(cfg)
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}
		if err := kurve.CheckToken(cfg.Kurve.Token, time.Now(), tokenSkew); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		metrics := monitoring.NewMetrics()
		res, runErr := runIngest(ctx, st, newKurveClient(cfg.Kurve), cfg.Kurve.Account,
			ingest.PlanFromPages(cfg.Ingest.Pages()), metrics)

		observeStore(ctx, st, metrics, cfg.Monitoring.LookbackWindowHours)
		writeTextfile(metrics, cfg.Metrics.TextfilePath)

		if runErr != nil {
			return runErr
		}
		return writeResult(os.Stdout, res)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestAccount, "account", "", "account number (discovered from the portal when omitted)")
	ingestCmd.Flags().StringVar(&ingestToken, "token", "", "bearer token (default from KURVE_TOKEN)")
	ingestCmd.Flags().StringVar(&ingestStore, "store", "", "sqlite store path (default from config)")
	ingestCmd.Flags().StringVar(&ingestTextfile, "textfile", "", "write prometheus metrics to this file")
	rootCmd.AddCommand(ingestCmd)
}

// applyIngestFlags lets explicit flags override the loaded config.
func applyIngestFlags(c *config.Config) {
	if ingestAccount != "" {
		c.Kurve.Account = ingestAccount
	}
	if ingestToken != "" {
		c.Kurve.Token = ingestToken
	}
	if ingestStore != "" {
		c.Store.Driver = "sqlite"
		c.Store.Path = ingestStore
	}
	if ingestTextfile != "" {
		c.Metrics.TextfilePath = ingestTextfile
	}
}

func newKurveClient(kc config.KurveConfig) *kurve.Client {
	retry := resilience.FromRetryConfig(kc.MaxRetries, kc.InitialBackoffMs, kc.MaxBackoffMs)
	retry.OnRetry = resilience.RetryLogger(zap.L(), "kurve")

	opts := []kurve.Option{
		kurve.WithTimeout(time.Duration(kc.TimeoutSecs) * time.Second),
		kurve.WithRateLimit(kc.RatePerSec),
		kurve.WithRetry(retry),
		kurve.WithLogger(zap.L()),
	}
	if kc.BaseURL != "" {
		opts = append(opts, kurve.WithBaseURL(kc.BaseURL))
	}
	if kc.UserAgent != "" {
		opts = append(opts, kurve.WithUserAgent(kc.UserAgent))
	}
	return kurve.NewClient(kc.Token, opts...)
}

// portal is the part of the Kurve client an ingestion run uses.
type portal interface {
	ingest.PageSource
	AccountNumber(ctx context.Context) (string, error)
}

func runIngest(ctx context.Context, st store.Store, src portal, account string, plan ingest.Plan, rec reconcile.Recorder) (*ingest.Result, error) {
	if account == "" {
		a, err := src.AccountNumber(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: discover account")
		}
		zap.L().Info("discovered account", zap.String("account", a))
		account = a
	}

	r := reconcile.New(st, reconcile.WithRecorder(rec))
	return ingest.New(src, st, r).Run(ctx, account, plan)
}

// observeStore refreshes the store gauges before metrics are written.
func observeStore(ctx context.Context, st store.Store, m *monitoring.Metrics, lookbackHours int) {
	snap, err := monitoring.NewCollector(st).Collect(context.WithoutCancel(ctx), lookbackHours)
	if err != nil {
		zap.L().Warn("failed to collect store metrics", zap.Error(err))
		return
	}
	m.Observe(snap)
}

func writeResult(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
