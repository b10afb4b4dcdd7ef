package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/kurve-cli/internal/model"
	"github.com/sells-group/kurve-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "water_usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for h := range 3 {
		at := day.Add(time.Duration(h) * time.Hour)
		require.NoError(t, tx.InsertReading(ctx, model.Hourly, model.MeterReading{
			MeterSerial: "WM-7", PeriodStartUTC: at, ReadTimeUTC: at.Add(time.Hour),
			ActualValue: 100 + float64(h), ConsumptionValue: 0.5, ConsumptionCost: 0.12, StandingCharge: 0.05,
		}))
	}
	require.NoError(t, tx.InsertAverages(ctx, model.Daily, model.ConsumptionAverages{
		Period: day, DailyCost: model.Float(1.5), DailyUsage: model.Float(3),
	}))
	require.NoError(t, tx.InsertTariff(ctx, model.Tariff{
		TariffID: 9, ConsumerNumber: "C1", PricingPlanCode: "P9", Rate: 2.1, StandingCharge: 0.3,
		TariffChangeDate: day, IsCurrent: true,
	}))
	require.NoError(t, tx.Commit(ctx))
}

func TestTableAndWriteXLSX(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	readings, err := Table(ctx, s, "hourly_meter_readings", store.Range{From: day.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, readings.Rows, 2)

	averages, err := Table(ctx, s, "daily_consumption_averages", store.Range{})
	require.NoError(t, err)
	require.Len(t, averages.Rows, 1)

	tariffs, err := Table(ctx, s, store.TariffTable, store.Range{})
	require.NoError(t, err)
	require.Len(t, tariffs.Rows, 1)

	path := filepath.Join(t.TempDir(), "export.xlsx")
	require.NoError(t, WriteXLSX(path, readings, averages, tariffs))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 3)

	ws := f.Sheet["hourly_meter_readings"]
	require.NotNil(t, ws)
	require.Len(t, ws.Rows, 3)
	assert.Equal(t, "meter_serial", ws.Rows[0].Cells[0].String())
	assert.Equal(t, "WM-7", ws.Rows[1].Cells[0].String())
	actual, err := ws.Rows[1].Cells[3].Float()
	require.NoError(t, err)
	assert.InDelta(t, 101, actual, 0.0001)

	avg := f.Sheet["daily_consumption_averages"]
	require.Len(t, avg.Rows, 2)
	usage, err := avg.Rows[1].Cells[2].Float()
	require.NoError(t, err)
	assert.InDelta(t, 3, usage, 0.0001)

	tf := f.Sheet[store.TariffTable]
	require.Len(t, tf.Rows, 2)
	assert.Equal(t, "is_current", tf.Rows[0].Cells[7].String())
	assert.True(t, tf.Rows[1].Cells[7].Bool())
}

func TestTable_Unknown(t *testing.T) {
	t.Parallel()
	_, err := Table(context.Background(), newTestStore(t), "weekly_meter_readings", store.Range{})
	require.Error(t, err)
	assert.False(t, IsTable("weekly_meter_readings"))
	assert.True(t, IsTable("yearly_consumption_averages"))
}

func TestWriteXLSX_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	require.Error(t, WriteXLSX(filepath.Join(dir, "none.xlsx")))

	err := WriteXLSX(filepath.Join(dir, "short.xlsx"), &Sheet{Name: "s", Header: []string{"a", "b"}, Rows: [][]any{{"x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has 1 cells, want 2")

	err = WriteXLSX(filepath.Join(dir, "bad.xlsx"), &Sheet{Name: "s", Header: []string{"a"}, Rows: [][]any{{struct{}{}}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported cell type")
}
