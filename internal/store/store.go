package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kurve-cli/internal/model"
)

// Range bounds a key range query. A zero bound is open.
type Range struct {
	From time.Time // inclusive
	To   time.Time // exclusive
}

// ParseTime accepts an RFC 3339 timestamp or a bare YYYY-MM-DD date, both
// read as UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, eris.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

// ParseRange builds a Range from optional from/to strings. from must be
// before to when both are set.
func ParseRange(from, to string) (Range, error) {
	var r Range
	var err error
	if from != "" {
		if r.From, err = ParseTime(from); err != nil {
			return r, err
		}
	}
	if to != "" {
		if r.To, err = ParseTime(to); err != nil {
			return r, err
		}
	}
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return r, eris.New("from must be before to")
	}
	return r, nil
}

// Snapshot holds every logical table of a store, each sorted by natural key.
type Snapshot struct {
	Readings map[model.Granularity][]model.MeterReading
	Averages map[model.Granularity][]model.ConsumptionAverages
	Tariffs  []model.Tariff
}

// NewSnapshot returns an empty snapshot with all table slots allocated.
func NewSnapshot() *Snapshot {
	s := &Snapshot{
		Readings: make(map[model.Granularity][]model.MeterReading, len(model.ReadingGranularities)),
		Averages: make(map[model.Granularity][]model.ConsumptionAverages, len(model.AverageGranularities)),
	}
	for _, g := range model.ReadingGranularities {
		s.Readings[g] = nil
	}
	for _, g := range model.AverageGranularities {
		s.Averages[g] = nil
	}
	return s
}

// Rows returns the number of rows across all tables of the snapshot.
func (s *Snapshot) Rows() int {
	n := len(s.Tariffs)
	for _, rows := range s.Readings {
		n += len(rows)
	}
	for _, rows := range s.Averages {
		n += len(rows)
	}
	return n
}

// Store defines the persistence interface for meter data. Each physical store
// belongs to one ingestion run or device until merged.
type Store interface {
	// Transactions
	Begin(ctx context.Context) (Tx, error)

	// Range reads, ordered by natural key
	Readings(ctx context.Context, g model.Granularity, r Range) ([]model.MeterReading, error)
	LatestReading(ctx context.Context, g model.Granularity) (*model.MeterReading, error)
	Averages(ctx context.Context, g model.Granularity, r Range) ([]model.ConsumptionAverages, error)
	Tariffs(ctx context.Context) ([]model.Tariff, error)
	CurrentTariff(ctx context.Context) (*model.Tariff, error)

	// Bulk
	Snapshot(ctx context.Context) (*Snapshot, error)
	Append(ctx context.Context, snap *Snapshot) error
	Count(ctx context.Context) (int64, error)

	// Ingestion run log
	StartRun(ctx context.Context, account string) (*model.IngestRun, error)
	CompleteRun(ctx context.Context, runID string, totals model.RunTotals) error
	FailRun(ctx context.Context, runID string, totals model.RunTotals, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Tx is a store transaction. Lookups return (nil, nil) for absent keys.
// Rollback after Commit is a no-op.
type Tx interface {
	GetReading(ctx context.Context, g model.Granularity, periodStart time.Time) (*model.MeterReading, error)
	InsertReading(ctx context.Context, g model.Granularity, r model.MeterReading) error
	UpdateReading(ctx context.Context, g model.Granularity, r model.MeterReading) error

	GetAverages(ctx context.Context, g model.Granularity, period time.Time) (*model.ConsumptionAverages, error)
	InsertAverages(ctx context.Context, g model.Granularity, a model.ConsumptionAverages) error
	UpdateAverages(ctx context.Context, g model.Granularity, a model.ConsumptionAverages) error

	GetTariff(ctx context.Context, tariffID int64) (*model.Tariff, error)
	InsertTariff(ctx context.Context, t model.Tariff) error
	// ClearCurrentTariffs unsets is_current on every row except tariffID and
	// returns how many rows changed.
	ClearCurrentTariffs(ctx context.Context, exceptTariffID int64) (int64, error)
	MarkCurrentTariff(ctx context.Context, tariffID int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
