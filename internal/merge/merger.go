// Package merge consolidates several independently populated stores into one
// canonical store.
package merge

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/kurve-cli/internal/model"
	"github.com/sells-group/kurve-cli/internal/store"
)

var (
	// ErrOutputNotEmpty is returned when the output store already holds rows.
	ErrOutputNotEmpty = eris.New("merge: output store is not empty")
	// ErrNoSources is returned when there is nothing to merge.
	ErrNoSources = eris.New("merge: no source stores")
)

// Source is one input store.
type Source struct {
	Name  string
	Store store.Store
}

// Options configures a Merger.
type Options struct {
	// DryRun computes the report without writing the output store.
	DryRun bool
	// Concurrency bounds how many sources are read at once. Zero means 4.
	Concurrency int
}

// TableReport summarizes one logical table.
type TableReport struct {
	Table      string `json:"table"`
	Read       int    `json:"read"`
	Duplicates int    `json:"duplicates"`
	Filtered   int    `json:"filtered"`
	Written    int    `json:"written"`
}

// Report summarizes a merge.
type Report struct {
	Sources         []string      `json:"sources"`
	Tables          []TableReport `json:"tables"`
	CurrentCleared  int           `json:"current_tariffs_cleared"`
	DryRun          bool          `json:"dry_run"`
	StartedAt       time.Time     `json:"started_at"`
	DurationSeconds float64       `json:"duration_seconds"`
}

// Written returns the number of rows written across all tables.
func (r *Report) Written() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Written
	}
	return n
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(r), "merge: encode report")
}

// Merger merges source stores into an output store.
type Merger struct {
	out  store.Store
	opts Options
	log  *zap.Logger
}

// New creates a Merger writing into out. out may be nil for dry runs.
func New(out store.Store, opts Options) *Merger {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Merger{
		out:  out,
		opts: opts,
		log:  zap.L().With(zap.String("component", "merge")),
	}
}

// WithLogger replaces the merger's logger.
func (m *Merger) WithLogger(l *zap.Logger) *Merger {
	m.log = l.With(zap.String("component", "merge"))
	return m
}

// Merge reads every source, deduplicates each logical table keeping the
// largest row per key, drops daily readings that do not start at midnight,
// and appends the result to the output store in one transaction. The result
// does not depend on the order of sources. Any failure aborts the whole merge.
func (m *Merger) Merge(ctx context.Context, sources []Source) (*Report, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	if !m.opts.DryRun {
		if m.out == nil {
			return nil, eris.New("merge: no output store")
		}
		n, err := m.out.Count(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "merge: count output rows")
		}
		if n > 0 {
			return nil, eris.Wrapf(ErrOutputNotEmpty, "%d rows present", n)
		}
	}

	report := &Report{DryRun: m.opts.DryRun, StartedAt: time.Now().UTC()}
	for _, src := range sources {
		report.Sources = append(report.Sources, src.Name)
	}

	snaps, err := m.readAll(ctx, sources)
	if err != nil {
		return nil, err
	}

	merged := store.NewSnapshot()
	for _, g := range model.ReadingGranularities {
		table, _ := store.ReadingTable(g)
		var all []model.MeterReading
		for _, s := range snaps {
			all = append(all, s.Readings[g]...)
		}
		rows, dups := dedupLast(all, compareReadings, func(a, b model.MeterReading) bool {
			return a.PeriodStartUTC.Equal(b.PeriodStartUTC)
		})

		filtered := 0
		if g == model.Daily {
			kept := rows[:0]
			for _, r := range rows {
				if r.AtDayBoundary() {
					kept = append(kept, r)
				}
			}
			filtered = len(rows) - len(kept)
			rows = kept
		}
		merged.Readings[g] = rows
		report.Tables = append(report.Tables, TableReport{
			Table: table, Read: len(all), Duplicates: dups, Filtered: filtered, Written: len(rows),
		})
	}

	for _, g := range model.AverageGranularities {
		table, _ := store.AveragesTable(g)
		var all []model.ConsumptionAverages
		for _, s := range snaps {
			all = append(all, s.Averages[g]...)
		}
		rows, dups := dedupLast(all, compareAverages, func(a, b model.ConsumptionAverages) bool {
			return a.Period.Equal(b.Period)
		})
		merged.Averages[g] = rows
		report.Tables = append(report.Tables, TableReport{
			Table: table, Read: len(all), Duplicates: dups, Written: len(rows),
		})
	}

	var tariffs []model.Tariff
	for _, s := range snaps {
		tariffs = append(tariffs, s.Tariffs...)
	}
	rows, dups := dedupLast(tariffs, compareTariffs, func(a, b model.Tariff) bool {
		return a.TariffID == b.TariffID
	})
	report.CurrentCleared = normalizeCurrent(rows)
	merged.Tariffs = rows
	report.Tables = append(report.Tables, TableReport{
		Table: store.TariffTable, Read: len(tariffs), Duplicates: dups, Written: len(rows),
	})

	for _, t := range report.Tables {
		m.log.Info("merged table",
			zap.String("table", t.Table),
			zap.Int("read", t.Read),
			zap.Int("duplicates", t.Duplicates),
			zap.Int("filtered", t.Filtered),
			zap.Int("written", t.Written),
		)
	}
	if report.CurrentCleared > 0 {
		m.log.Warn("sources disagreed on the current tariff", zap.Int("cleared", report.CurrentCleared))
	}

	if !m.opts.DryRun {
		if err := m.out.Append(ctx, merged); err != nil {
			return nil, eris.Wrap(err, "merge: write output")
		}
	}

	report.DurationSeconds = time.Since(report.StartedAt).Seconds()
	m.log.Info("merge complete",
		zap.Int("sources", len(sources)),
		zap.Int("rows", report.Written()),
		zap.Bool("dry_run", m.opts.DryRun),
	)
	return report, nil
}

// readAll snapshots every source concurrently. Snapshots keep the order of
// sources, though nothing downstream depends on it.
func (m *Merger) readAll(ctx context.Context, sources []Source) ([]*store.Snapshot, error) {
	snaps := make([]*store.Snapshot, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			snap, err := src.Store.Snapshot(gctx)
			if err != nil {
				return eris.Wrapf(err, "merge: read source %s", src.Name)
			}
			m.log.Debug("read source", zap.String("source", src.Name), zap.Int("rows", snap.Rows()))
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snaps, nil
}
