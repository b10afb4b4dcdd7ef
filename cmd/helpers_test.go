package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/kurve-cli/internal/config"
	"github.com/sells-group/kurve-cli/internal/model"
	"github.com/sells-group/kurve-cli/internal/store"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, path string) store.Store {
	t.Helper()
	st, err := initStore(context.Background(), config.StoreConfig{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

// seedStore writes hours hourly readings from day plus one tariff and
// closes the store.
func seedStore(t *testing.T, path string, hours int, consumption float64) {
	t.Helper()
	st, err := store.NewSQLite(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	snap := store.NewSnapshot()
	for h := range hours {
		at := day.Add(time.Duration(h) * time.Hour)
		snap.Readings[model.Hourly] = append(snap.Readings[model.Hourly], model.MeterReading{
			MeterSerial: "WM-7", PeriodStartUTC: at, ReadTimeUTC: at.Add(time.Hour),
			ActualValue: 100 + float64(h), ConsumptionValue: consumption,
			ConsumptionCost: consumption / 4, StandingCharge: 0.05,
		})
	}
	snap.Tariffs = []model.Tariff{{TariffID: 1, PricingPlanCode: "P1", Rate: 2, TariffChangeDate: day, IsCurrent: true}}
	require.NoError(t, st.Append(ctx, snap))
	require.NoError(t, st.Close())
}

func tempPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}
