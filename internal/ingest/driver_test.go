package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/kurve-cli/internal/model"
	"github.com/sells-group/kurve-cli/internal/reconcile"
	"github.com/sells-group/kurve-cli/internal/store"
)

type pageKey struct {
	g    model.Granularity
	page int
}

type fakeSource struct {
	pages map[pageKey]*model.ConsumptionPage
	fail  map[pageKey]error
	calls []pageKey
}

func (f *fakeSource) ConsumptionPage(_ context.Context, account string, g model.Granularity, page int) (*model.ConsumptionPage, error) {
	k := pageKey{g, page}
	f.calls = append(f.calls, k)
	if err := f.fail[k]; err != nil {
		return nil, err
	}
	if p, ok := f.pages[k]; ok {
		return p, nil
	}
	return emptyPage(), nil
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func emptyPage() *model.ConsumptionPage {
	return &model.ConsumptionPage{
		ConsumptionMeter:    &model.ConsumptionMeter{MeterSerial: "WM-7"},
		ConsumptionAverages: &model.AveragesPayload{DailyCost: f64(1), DailyUsage: f64(2)},
	}
}

func pageWith(start time.Time, n int, step time.Duration, consumption float64) *model.ConsumptionPage {
	p := emptyPage()
	for i := 0; i < n; i++ {
		at := start.Add(time.Duration(i) * step)
		p.ConsumptionMeter.PagedMeterReadings = append(p.ConsumptionMeter.PagedMeterReadings, model.ReadingPayload{
			PeriodStartUTC:   at.Format(time.RFC3339),
			ReadTimeUTC:      at.Add(step).Format(time.RFC3339),
			ActualValue:      f64(100 + float64(i)),
			ConsumptionValue: f64(consumption),
			ConsumptionCost:  f64(consumption / 4),
			StandingCharge:   f64(0.05),
		})
	}
	return p
}

func tariffPayload(id int64, changed string) model.TariffPayload {
	return model.TariffPayload{
		TariffID: i64(id), ConsumerNumber: "C1", PricingPlanCode: fmt.Sprintf("P%d", id),
		Rate: f64(2), StandingCharge: f64(0.3), TariffChangeDate: changed,
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "water_usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newDriver(src PageSource, s store.Store) (*Driver, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	l := zap.New(core)
	return New(src, s, reconcile.New(s, reconcile.WithLogger(l))).WithLogger(l), logs
}

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func TestDefaultPlan(t *testing.T) {
	t.Parallel()

	p := DefaultPlan()
	require.NoError(t, p.Validate())
	assert.Equal(t, 7+4+6+3, p.Pages())
	assert.Equal(t, -6, p[0].First())
	assert.Equal(t, -3, p[1].First())
	assert.Equal(t, -5, p[2].First())
	assert.Equal(t, -2, p[3].First())

	assert.Equal(t, p, PlanFromPages(map[model.Granularity]int{
		model.Monthly: 3, model.Hourly: 7, model.Weekly: 6, model.Daily: 4,
	}))
}

func TestPlan_Validate(t *testing.T) {
	t.Parallel()

	assert.Error(t, Plan{}.Validate())
	assert.Error(t, Plan{{Granularity: model.Yearly, Pages: 1}}.Validate())
	assert.Error(t, Plan{{Granularity: model.Hourly, Pages: 0}}.Validate())
}

func TestRun_FetchOrderAndReconcile(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	src := &fakeSource{pages: map[pageKey]*model.ConsumptionPage{
		{model.Hourly, -1}: pageWith(day, 24, time.Hour, 0.5),
		{model.Hourly, 0}:  pageWith(day.AddDate(0, 0, 1), 24, time.Hour, 0.5),
		{model.Daily, 0}:   pageWith(day, 7, 24*time.Hour, 12),
		{model.Weekly, 0}:  pageWith(day, 4, 7*24*time.Hour, 80),
	}}
	d, _ := newDriver(src, s)

	plan := Plan{
		{Granularity: model.Hourly, Pages: 2},
		{Granularity: model.Daily, Pages: 1},
		{Granularity: model.Weekly, Pages: 1},
	}
	res, err := d.Run(context.Background(), "ACC-1", plan)
	require.NoError(t, err)

	assert.Equal(t, []pageKey{{model.Hourly, -1}, {model.Hourly, 0}, {model.Daily, 0}, {model.Weekly, 0}}, src.calls)
	assert.Equal(t, 4, res.Pages)
	assert.Equal(t, 48+7, res.Readings.Inserted)
	assert.Equal(t, 4, res.Averages.Inserted)
	assert.False(t, res.TariffsLoaded)

	ctx := context.Background()
	hourly, err := s.Readings(ctx, model.Hourly, store.Range{})
	require.NoError(t, err)
	assert.Len(t, hourly, 48)

	// Hourly pages roll into daily averages keyed by the first reading.
	daily, err := s.Averages(ctx, model.Daily, store.Range{})
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, day, daily[0].Period)

	// Weekly readings are never stored, weekly pages still feed monthly averages.
	monthly, err := s.Averages(ctx, model.Monthly, store.Range{})
	require.NoError(t, err)
	assert.Len(t, monthly, 1)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.Equal(t, 4, runs[0].Pages)
	assert.Equal(t, res.RunID, runs[0].ID)
}

func TestRun_EmptyPageSkipsAverages(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	src := &fakeSource{pages: map[pageKey]*model.ConsumptionPage{
		{model.Daily, 0}: pageWith(day, 7, 24*time.Hour, 3),
	}}
	d, logs := newDriver(src, s)

	res, err := d.Run(context.Background(), "ACC-1", Plan{{Granularity: model.Daily, Pages: 3}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 2, res.SkippedPages)
	assert.Equal(t, 1, res.Averages.Inserted)
	assert.Equal(t, 2, logs.FilterMessageSnippet("skipping averages").Len())
}

func TestRun_BlankEmptyPageContinues(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	src := &fakeSource{pages: map[pageKey]*model.ConsumptionPage{
		{model.Hourly, -1}: {ConsumptionMeter: &model.ConsumptionMeter{}},
		{model.Hourly, 0}:  pageWith(day, 5, time.Hour, 1),
	}}
	d, _ := newDriver(src, s)

	res, err := d.Run(context.Background(), "ACC-1", Plan{{Granularity: model.Hourly, Pages: 2}})
	require.NoError(t, err)
	assert.Equal(t, []pageKey{{model.Hourly, -1}, {model.Hourly, 0}}, src.calls)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 1, res.SkippedPages)
	assert.Equal(t, 5, res.Readings.Inserted)
	assert.Equal(t, 1, res.Averages.Inserted)
}

func TestRun_TariffsFromLastPageWithHistory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	older := pageWith(day, 1, time.Hour, 1)
	older.TariffHistory = &model.TariffHistoryPayload{
		Tariffs:          []model.TariffPayload{tariffPayload(1, "2023-01-01T00:00:00Z")},
		TariffInForceNow: ptr(tariffPayload(1, "2023-01-01T00:00:00Z")),
	}
	latest := pageWith(day, 1, 24*time.Hour, 1)
	latest.TariffHistory = &model.TariffHistoryPayload{
		Tariffs:          []model.TariffPayload{tariffPayload(1, "2023-01-01T00:00:00Z")},
		TariffInForceNow: ptr(tariffPayload(2, "2024-02-01T00:00:00Z")),
	}
	src := &fakeSource{pages: map[pageKey]*model.ConsumptionPage{
		{model.Hourly, 0}: older,
		{model.Daily, 0}:  latest,
	}}
	d, _ := newDriver(src, s)

	res, err := d.Run(context.Background(), "ACC-1", Plan{
		{Granularity: model.Hourly, Pages: 1},
		{Granularity: model.Daily, Pages: 1},
		{Granularity: model.Monthly, Pages: 1},
	})
	require.NoError(t, err)
	assert.True(t, res.TariffsLoaded)
	assert.Equal(t, 2, res.Tariffs.Inserted)

	cur, err := s.CurrentTariff(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, int64(2), cur.TariffID)
}

func ptr[T any](v T) *T { return &v }

func TestRun_FetchErrorFailsRun(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	src := &fakeSource{
		pages: map[pageKey]*model.ConsumptionPage{{model.Hourly, -1}: pageWith(day, 3, time.Hour, 1)},
		fail:  map[pageKey]error{{model.Hourly, 0}: errors.New("status 500")},
	}
	d, _ := newDriver(src, s)

	res, err := d.Run(context.Background(), "ACC-1", DefaultPlan())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch hourly page 0")
	assert.Len(t, src.calls, 7)
	assert.Equal(t, 3, res.Readings.Inserted)

	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "status 500")
	// Three readings plus the daily averages row of page -1.
	assert.Equal(t, 4, runs[0].Inserted)
	assert.Equal(t, 1, res.Averages.Inserted)
}

func TestRun_ValidationErrorFailsRun(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	bad := pageWith(day, 2, time.Hour, 1)
	bad.ConsumptionMeter.PagedMeterReadings[1].ConsumptionCost = nil
	src := &fakeSource{pages: map[pageKey]*model.ConsumptionPage{{model.Hourly, 0}: bad}}
	d, _ := newDriver(src, s)

	_, err := d.Run(context.Background(), "ACC-1", Plan{{Granularity: model.Hourly, Pages: 1}})
	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "consumptionCost", ve.Field)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	src := &fakeSource{}
	d, _ := newDriver(src, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Run(ctx, "ACC-1", DefaultPlan())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, src.calls)
}
