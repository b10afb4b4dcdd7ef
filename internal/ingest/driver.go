// Package ingest drives a full ingestion run: it fetches consumption pages
// one at a time and reconciles each into the store.
package ingest

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kurve-cli/internal/model"
	"github.com/sells-group/kurve-cli/internal/reconcile"
	"github.com/sells-group/kurve-cli/internal/store"
)

// PageSource retrieves one page of the consumption graph.
type PageSource interface {
	ConsumptionPage(ctx context.Context, account string, g model.Granularity, page int) (*model.ConsumptionPage, error)
}

// Result summarizes a completed run.
type Result struct {
	RunID         string          `json:"run_id"`
	Pages         int             `json:"pages"`
	SkippedPages  int             `json:"skipped_pages"`
	Readings      reconcile.Stats `json:"readings"`
	Averages      reconcile.Stats `json:"averages"`
	Tariffs       reconcile.Stats `json:"tariffs"`
	TariffsLoaded bool            `json:"tariffs_loaded"`
}

// Totals returns the counters recorded in the run log.
func (r *Result) Totals() model.RunTotals {
	var all reconcile.Stats
	all.Add(r.Readings)
	all.Add(r.Averages)
	all.Add(r.Tariffs)
	return model.RunTotals{
		Pages:      r.Pages,
		Inserted:   all.Inserted,
		Updated:    all.Updated,
		Unchanged:  all.Unchanged,
		Mismatches: all.Mismatches,
	}
}

// Driver runs ingestion plans against one store.
type Driver struct {
	source PageSource
	store  store.Store
	rec    *reconcile.Reconciler
	log    *zap.Logger
}

// New creates a Driver. rec must be bound to st.
func New(source PageSource, st store.Store, rec *reconcile.Reconciler) *Driver {
	return &Driver{
		source: source,
		store:  st,
		rec:    rec,
		log:    zap.L().With(zap.String("component", "ingest")),
	}
}

// WithLogger replaces the driver's logger.
func (d *Driver) WithLogger(l *zap.Logger) *Driver {
	d.log = l.With(zap.String("component", "ingest"))
	return d
}

// Run fetches every page of plan in order and reconciles it. Fetch,
// validation and commit errors abort the run; pages without readings only
// skip their averages. Tariffs are taken from the last page that carries a
// tariff history. The run is recorded in the store's run log.
func (d *Driver) Run(ctx context.Context, account string, plan Plan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	run, err := d.store.StartRun(ctx, account)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: start run")
	}
	log := d.log.With(zap.String("run_id", run.ID), zap.String("account", account))
	log.Info("ingestion started", zap.Int("pages", plan.Pages()))

	res := &Result{RunID: run.ID}
	if err := d.run(ctx, log, account, plan, res); err != nil {
		// Record the failure even if ctx is done.
		if ferr := d.store.FailRun(context.WithoutCancel(ctx), run.ID, res.Totals(), err.Error()); ferr != nil {
			log.Error("failed to record run failure", zap.Error(ferr))
		}
		log.Error("ingestion failed", zap.Error(err), zap.Int("pages", res.Pages))
		return res, err
	}

	if err := d.store.CompleteRun(ctx, run.ID, res.Totals()); err != nil {
		return res, eris.Wrap(err, "ingest: complete run")
	}
	t := res.Totals()
	log.Info("ingestion complete",
		zap.Int("pages", t.Pages),
		zap.Int("inserted", t.Inserted),
		zap.Int("updated", t.Updated),
		zap.Int("unchanged", t.Unchanged),
		zap.Int("mismatches", t.Mismatches),
	)
	return res, nil
}

func (d *Driver) run(ctx context.Context, log *zap.Logger, account string, plan Plan, res *Result) error {
	var tariffPage *model.ConsumptionPage

	for _, step := range plan {
		g := step.Granularity
		for page := step.First(); page <= 0; page++ {
			if err := ctx.Err(); err != nil {
				return eris.Wrap(err, "ingest: cancelled")
			}

			p, err := d.source.ConsumptionPage(ctx, account, g, page)
			if err != nil {
				return eris.Wrapf(err, "ingest: fetch %s page %d", g, page)
			}
			res.Pages++
			plog := log.With(zap.String("granularity", g.String()), zap.Int("page", page))

			if g.HasReadings() {
				readings, err := p.Readings()
				if err != nil {
					return eris.Wrapf(err, "ingest: %s page %d readings", g, page)
				}
				stats, err := d.rec.Readings(ctx, g, readings)
				if err != nil {
					return eris.Wrapf(err, "ingest: %s page %d readings", g, page)
				}
				res.Readings.Add(stats)
				plog.Debug("readings reconciled", zap.Int("count", len(readings)))
			}

			averages, err := p.Averages()
			switch {
			case errors.Is(err, model.ErrNoReadings):
				res.SkippedPages++
				plog.Warn("no readings on page, skipping averages")
			case err != nil:
				return eris.Wrapf(err, "ingest: %s page %d averages", g, page)
			default:
				stats, err := d.rec.Averages(ctx, g, []model.ConsumptionAverages{averages})
				if err != nil {
					return eris.Wrapf(err, "ingest: %s page %d averages", g, page)
				}
				res.Averages.Add(stats)
			}

			if p.HasTariffHistory() {
				tariffPage = p
			}
		}
	}

	if tariffPage == nil {
		log.Warn("no page carried a tariff history")
		return nil
	}
	history, current, err := tariffPage.Tariffs()
	if err != nil {
		return eris.Wrap(err, "ingest: tariffs")
	}
	stats, err := d.rec.Tariffs(ctx, history, current)
	if err != nil {
		return eris.Wrap(err, "ingest: tariffs")
	}
	res.Tariffs = stats
	res.TariffsLoaded = true
	return nil
}
