// Package reconcile upserts incoming meter data into a store, resolving
// conflicts on existing keys with the larger-value-wins rule.
package reconcile

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kurve-cli/internal/model"
	"github.com/sells-group/kurve-cli/internal/store"
)

// Stats counts the outcome of one or more reconciliation batches. Mismatches
// counts fields, the other counters count records.
type Stats struct {
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
	Mismatches int `json:"mismatches"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Unchanged += o.Unchanged
	s.Mismatches += o.Mismatches
}

// Recorder receives per-batch statistics, e.g. for metrics export.
type Recorder interface {
	RecordReconcile(table string, inserted, updated, unchanged, mismatches int)
}

// Reconciler applies batches of records to a store, one transaction per batch.
type Reconciler struct {
	store    store.Store
	log      *zap.Logger
	recorder Recorder
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger used for insert and mismatch messages.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// WithRecorder sets a statistics sink.
func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) { r.recorder = rec }
}

// New creates a Reconciler bound to s.
func New(s store.Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: s}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = zap.L()
	}
	r.log = r.log.With(zap.String("component", "reconcile"))
	return r
}

// descriptor binds a record type to its table and Tx operations.
type descriptor[T any] struct {
	table    string
	key      func(*T) time.Time
	validate func(*T, int) error
	fields   []field[T]
	get      func(ctx context.Context, tx store.Tx, key time.Time) (*T, error)
	insert   func(ctx context.Context, tx store.Tx, rec T) error
	update   func(ctx context.Context, tx store.Tx, rec T) error
	// inspect logs record-specific observations for an incoming record and
	// its stored counterpart, which is nil on insert.
	inspect func(log *zap.Logger, stored, incoming *T)
}

func readingDescriptor(g model.Granularity) (descriptor[model.MeterReading], error) {
	table, err := store.ReadingTable(g)
	if err != nil || !g.HasReadings() {
		return descriptor[model.MeterReading]{}, eris.Wrapf(ErrUnsupportedGranularity, "%s meter readings", g)
	}
	return descriptor[model.MeterReading]{
		table:    table,
		key:      func(r *model.MeterReading) time.Time { return r.PeriodStartUTC },
		validate: func(r *model.MeterReading, i int) error { return r.Validate(i) },
		fields:   readingFields,
		get: func(ctx context.Context, tx store.Tx, key time.Time) (*model.MeterReading, error) {
			return tx.GetReading(ctx, g, key)
		},
		insert: func(ctx context.Context, tx store.Tx, rec model.MeterReading) error {
			return tx.InsertReading(ctx, g, rec)
		},
		update: func(ctx context.Context, tx store.Tx, rec model.MeterReading) error {
			return tx.UpdateReading(ctx, g, rec)
		},
		inspect: inspectReading,
	}, nil
}

func averagesDescriptor(g model.Granularity) (descriptor[model.ConsumptionAverages], error) {
	table, err := store.AveragesTable(g)
	if err != nil {
		return descriptor[model.ConsumptionAverages]{}, eris.Wrapf(ErrUnsupportedGranularity, "%s consumption averages", g)
	}
	return descriptor[model.ConsumptionAverages]{
		table:    table,
		key:      func(a *model.ConsumptionAverages) time.Time { return a.Period },
		validate: func(a *model.ConsumptionAverages, i int) error { return a.Validate(i) },
		fields:   averagesFields,
		get: func(ctx context.Context, tx store.Tx, key time.Time) (*model.ConsumptionAverages, error) {
			return tx.GetAverages(ctx, g, key)
		},
		insert: func(ctx context.Context, tx store.Tx, rec model.ConsumptionAverages) error {
			return tx.InsertAverages(ctx, g, rec)
		},
		update: func(ctx context.Context, tx store.Tx, rec model.ConsumptionAverages) error {
			return tx.UpdateAverages(ctx, g, rec)
		},
	}, nil
}

func inspectReading(log *zap.Logger, stored, incoming *model.MeterReading) {
	for _, a := range incoming.Anomalies() {
		log.Warn("reading anomaly",
			zap.Time("period_start_utc", incoming.PeriodStartUTC),
			zap.String("anomaly", a),
		)
	}
	if stored != nil && stored.MeterSerial != incoming.MeterSerial {
		log.Warn("meter serial differs from stored row",
			zap.Time("period_start_utc", incoming.PeriodStartUTC),
			zap.String("stored", stored.MeterSerial),
			zap.String("incoming", incoming.MeterSerial),
		)
	}
}

// Readings reconciles meter readings of granularity g. Weekly readings are
// rejected with ErrUnsupportedGranularity.
func (r *Reconciler) Readings(ctx context.Context, g model.Granularity, records []model.MeterReading) (Stats, error) {
	d, err := readingDescriptor(g)
	if err != nil {
		return Stats{}, err
	}
	return apply(ctx, r, d, records)
}

// Averages reconciles consumption averages taken from pages of source
// granularity g. They are stored one level coarser: hourly pages feed daily
// averages, daily pages weekly averages and so on.
func (r *Reconciler) Averages(ctx context.Context, g model.Granularity, records []model.ConsumptionAverages) (Stats, error) {
	target, ok := g.Rollup()
	if !ok {
		return Stats{}, eris.Wrapf(ErrUnsupportedGranularity, "%s has no rollup", g)
	}
	d, err := averagesDescriptor(target)
	if err != nil {
		return Stats{}, err
	}
	return apply(ctx, r, d, records)
}

// apply runs one batch in a single transaction. The whole batch is validated
// before the transaction starts.
func apply[T any](ctx context.Context, r *Reconciler, d descriptor[T], records []T) (Stats, error) {
	var stats Stats
	if len(records) == 0 {
		return stats, nil
	}
	for i := range records {
		if err := d.validate(&records[i], i); err != nil {
			return stats, err
		}
	}

	log := r.log.With(zap.String("table", d.table))

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return stats, &CommitError{Table: d.table, Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for i := range records {
		incoming := &records[i]
		key := d.key(incoming)

		stored, err := d.get(ctx, tx, key)
		if err != nil {
			return Stats{}, &CommitError{Table: d.table, Op: "lookup", Err: err}
		}
		if d.inspect != nil {
			d.inspect(log, stored, incoming)
		}

		if stored == nil {
			if err := d.insert(ctx, tx, *incoming); err != nil {
				return Stats{}, &CommitError{Table: d.table, Op: "insert", Err: err}
			}
			stats.Inserted++
			log.Info("inserted record", zap.Time("key", key))
			continue
		}

		updated, mismatched := resolve(d.fields, stored, incoming)
		for _, m := range mismatched {
			log.Warn("data mismatch: incoming value smaller than stored, keeping stored",
				zap.Time("key", key),
				zap.String("field", m.field),
				zap.Any("stored", m.stored),
				zap.Any("incoming", m.incoming),
			)
		}
		stats.Mismatches += len(mismatched)

		if len(updated) == 0 {
			stats.Unchanged++
			continue
		}
		if err := d.update(ctx, tx, *stored); err != nil {
			return Stats{}, &CommitError{Table: d.table, Op: "update", Err: err}
		}
		stats.Updated++
		for _, u := range updated {
			log.Debug("field overwritten by larger value",
				zap.Time("key", key),
				zap.String("field", u.field),
				zap.Any("stored", u.stored),
				zap.Any("incoming", u.incoming),
			)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Stats{}, &CommitError{Table: d.table, Op: "commit", Err: err}
	}

	r.record(d.table, stats)
	return stats, nil
}

func (r *Reconciler) record(table string, s Stats) {
	if r.recorder != nil {
		r.recorder.RecordReconcile(table, s.Inserted, s.Updated, s.Unchanged, s.Mismatches)
	}
}
