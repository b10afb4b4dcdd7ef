package merge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/kurve-cli/internal/model"
	"github.com/sells-group/kurve-cli/internal/store"
)

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func openStore(t *testing.T, dir, name string) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(dir, name))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seed(t *testing.T, s store.Store, snap *store.Snapshot) {
	t.Helper()
	require.NoError(t, s.Append(context.Background(), snap))
}

func reading(start time.Time, consumption float64) model.MeterReading {
	return model.MeterReading{
		MeterSerial:      "WM-1",
		PeriodStartUTC:   start,
		ReadTimeUTC:      start.Add(time.Hour),
		ActualValue:      50,
		ConsumptionValue: consumption,
		ConsumptionCost:  consumption / 2,
		StandingCharge:   0.1,
	}
}

func tariff(id int64, changed time.Time, current bool) model.Tariff {
	return model.Tariff{
		TariffID: id, ConsumerNumber: "C1", PricingPlanCode: "STD", PricingPlanDescription: "Standard",
		Rate: 2, StandingCharge: 0.3, TariffChangeDate: changed, IsCurrent: current,
	}
}

func newMerger(out store.Store, opts Options) *Merger {
	return New(out, opts).WithLogger(zap.NewNop())
}

func TestMerge_LargestValueWins(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := openStore(t, dir, "a.db")
	b := openStore(t, dir, "b.db")
	out := openStore(t, dir, "merged.db")

	sa := store.NewSnapshot()
	sa.Readings[model.Hourly] = []model.MeterReading{reading(jan1, 5.0)}
	seed(t, a, sa)
	sb := store.NewSnapshot()
	sb.Readings[model.Hourly] = []model.MeterReading{reading(jan1, 7.0)}
	seed(t, b, sb)

	report, err := newMerger(out, Options{}).Merge(context.Background(), []Source{{"a.db", a}, {"b.db", b}})
	require.NoError(t, err)

	rows, err := out.Readings(context.Background(), model.Hourly, store.Range{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 7.0, rows[0].ConsumptionValue, 1e-9)

	hourly := report.Tables[0]
	assert.Equal(t, "hourly_meter_readings", hourly.Table)
	assert.Equal(t, 2, hourly.Read)
	assert.Equal(t, 1, hourly.Duplicates)
	assert.Equal(t, 1, hourly.Written)
}

func TestMerge_DailyBoundaryFilter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := openStore(t, dir, "a.db")
	out := openStore(t, dir, "merged.db")

	snap := store.NewSnapshot()
	snap.Readings[model.Daily] = []model.MeterReading{
		reading(jan1, 3),
		reading(jan1.Add(13*time.Hour), 1),
		reading(jan1.AddDate(0, 0, 1), 4),
	}
	snap.Readings[model.Hourly] = []model.MeterReading{reading(jan1.Add(13*time.Hour), 1)}
	seed(t, a, snap)

	report, err := newMerger(out, Options{}).Merge(context.Background(), []Source{{"a.db", a}})
	require.NoError(t, err)

	daily, err := out.Readings(context.Background(), model.Daily, store.Range{})
	require.NoError(t, err)
	require.Len(t, daily, 2)
	for _, r := range daily {
		assert.Zero(t, r.PeriodStartUTC.Hour())
	}
	hourly, err := out.Readings(context.Background(), model.Hourly, store.Range{})
	require.NoError(t, err)
	assert.Len(t, hourly, 1)

	assert.Equal(t, 1, report.Tables[1].Filtered)
}

func threeSources(t *testing.T, dir string) []Source {
	t.Helper()
	var sources []Source
	for i, vals := range [][]float64{{5, 1, 9}, {7, 1, 2}, {6, 3, 9}} {
		s := openStore(t, dir, fmt.Sprintf("src%d.db", i))
		snap := store.NewSnapshot()
		for h, v := range vals {
			snap.Readings[model.Hourly] = append(snap.Readings[model.Hourly], reading(jan1.Add(time.Duration(h)*time.Hour), v))
		}
		snap.Averages[model.Weekly] = []model.ConsumptionAverages{{
			Period: jan1, DailyCost: model.Float(vals[0]), DailyUsage: model.Float(1),
		}}
		if i == 1 {
			snap.Averages[model.Weekly][0].WeeklyCost = model.Float(3)
		}
		snap.Tariffs = []model.Tariff{tariff(int64(10+i), jan1.AddDate(0, i, 0), true), tariff(1, jan1, false)}
		seed(t, s, snap)
		sources = append(sources, Source{Name: fmt.Sprintf("src%d.db", i), Store: s})
	}
	return sources
}

func TestMerge_DeterministicAcrossPermutations(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sources := threeSources(t, dir)

	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	var want *store.Snapshot
	for i, p := range perms {
		out := openStore(t, dir, fmt.Sprintf("out%d.db", i))
		ordered := []Source{sources[p[0]], sources[p[1]], sources[p[2]]}
		_, err := newMerger(out, Options{}).Merge(context.Background(), ordered)
		require.NoError(t, err)

		got, err := out.Snapshot(context.Background())
		require.NoError(t, err)
		if want == nil {
			want = got
			continue
		}
		assert.Equal(t, want, got, "permutation %v", p)
	}

	hourly := want.Readings[model.Hourly]
	require.Len(t, hourly, 3)
	assert.InDelta(t, 7, hourly[0].ConsumptionValue, 1e-9)
	assert.InDelta(t, 3, hourly[1].ConsumptionValue, 1e-9)
	assert.InDelta(t, 9, hourly[2].ConsumptionValue, 1e-9)

	weekly := want.Averages[model.Weekly]
	require.Len(t, weekly, 1)
	assert.InDelta(t, 7, *weekly[0].DailyCost, 1e-9)
}

func TestMerge_SingleCurrentTariff(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sources := threeSources(t, dir)
	out := openStore(t, dir, "out.db")

	report, err := newMerger(out, Options{}).Merge(context.Background(), sources)
	require.NoError(t, err)
	assert.Equal(t, 2, report.CurrentCleared)

	cur, err := out.CurrentTariff(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, int64(12), cur.TariffID)

	all, err := out.Tariffs(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sources := threeSources(t, dir)

	first := openStore(t, dir, "first.db")
	_, err := newMerger(first, Options{}).Merge(context.Background(), sources)
	require.NoError(t, err)

	second := openStore(t, dir, "second.db")
	_, err = newMerger(second, Options{}).Merge(context.Background(), []Source{{"first.db", first}})
	require.NoError(t, err)

	a, err := first.Snapshot(context.Background())
	require.NoError(t, err)
	b, err := second.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMerge_OutputNotEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := openStore(t, dir, "a.db")
	out := openStore(t, dir, "out.db")

	snap := store.NewSnapshot()
	snap.Tariffs = []model.Tariff{tariff(1, jan1, true)}
	seed(t, out, snap)

	_, err := newMerger(out, Options{}).Merge(context.Background(), []Source{{"a.db", a}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutputNotEmpty))
}

func TestMerge_NoSources(t *testing.T) {
	t.Parallel()
	_, err := newMerger(nil, Options{DryRun: true}).Merge(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrNoSources))
}

func TestMerge_DryRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sources := threeSources(t, dir)

	report, err := newMerger(nil, Options{DryRun: true}).Merge(context.Background(), sources)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, []string{"src0.db", "src1.db", "src2.db"}, report.Sources)
	assert.Equal(t, 3+1+4, report.Written())

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, true, decoded["dry_run"])
	assert.Len(t, decoded["tables"], 8)
}

func TestMerge_SourceReadFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := openStore(t, dir, "a.db")
	broken := openStore(t, dir, "broken.db")
	require.NoError(t, broken.Close())
	out := openStore(t, dir, "out.db")

	_, err := newMerger(out, Options{}).Merge(context.Background(), []Source{{"a.db", a}, {"broken.db", broken}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.db")

	n, err := out.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDiscover(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"b.db", "a.db", "a.db-wal", "a.db-shm", "water_usage_merged.db", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.db"), 0o755))

	got, err := Discover(dir, "", filepath.Join(dir, "water_usage_merged.db"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.db"), filepath.Join(dir, "b.db")}, got)
}

func TestDedupLast(t *testing.T) {
	t.Parallel()

	rows := []model.MeterReading{reading(jan1, 2), reading(jan1.Add(time.Hour), 1), reading(jan1, 8), reading(jan1, 4)}
	got, dups := dedupLast(rows, compareReadings, func(a, b model.MeterReading) bool {
		return a.PeriodStartUTC.Equal(b.PeriodStartUTC)
	})
	assert.Equal(t, 2, dups)
	require.Len(t, got, 2)
	assert.InDelta(t, 8, got[0].ConsumptionValue, 1e-9)
	assert.Equal(t, jan1.Add(time.Hour), got[1].PeriodStartUTC)

	// input is left untouched
	assert.InDelta(t, 2, rows[0].ConsumptionValue, 1e-9)
}

func TestNormalizeCurrent(t *testing.T) {
	t.Parallel()

	tariffs := []model.Tariff{
		tariff(1, jan1, true),
		tariff(2, jan1.AddDate(0, 1, 0), true),
		tariff(3, jan1.AddDate(0, 1, 0), true),
		tariff(4, jan1.AddDate(0, 2, 0), false),
	}
	assert.Equal(t, 2, normalizeCurrent(tariffs))
	assert.False(t, tariffs[0].IsCurrent)
	assert.False(t, tariffs[1].IsCurrent)
	assert.True(t, tariffs[2].IsCurrent)
	assert.False(t, tariffs[3].IsCurrent)

	none := []model.Tariff{tariff(1, jan1, false)}
	assert.Zero(t, normalizeCurrent(none))
}
