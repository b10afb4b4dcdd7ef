package main

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/kurve-cli/internal/export"
	"github.com/sells-group/kurve-cli/internal/store"
)

func TestExportSelection(t *testing.T) {
	all, err := exportSelection(nil, true)
	require.NoError(t, err)
	assert.Equal(t, export.Tables(), all)

	got, err := exportSelection([]string{"hourly_meter_readings", "tariff_history"}, false)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = exportSelection(nil, false)
	assert.Error(t, err)

	_, err = exportSelection([]string{"weekly_meter_readings"}, false)
	assert.Error(t, err)
}

func TestRunExport(t *testing.T) {
	path := tempPath(t, "water_usage.db")
	seedStore(t, path, 6, 0.5)
	st := newTestStore(t, path)

	rng, err := store.ParseRange("2024-03-04T02:00:00Z", "2024-03-04T05:00:00Z")
	require.NoError(t, err)

	out := tempPath(t, "export.xlsx")
	rows, err := runExport(context.Background(), st, []string{"hourly_meter_readings", "tariff_history"}, rng, out)
	require.NoError(t, err)
	assert.Equal(t, 4, rows)

	f, err := xlsx.OpenFile(out)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)
	assert.Len(t, f.Sheet["hourly_meter_readings"].Rows, 4)
	assert.Len(t, f.Sheet["tariff_history"].Rows, 2)
}

func TestRunExport_PDF(t *testing.T) {
	path := tempPath(t, "water_usage.db")
	seedStore(t, path, 2, 0.5)
	st := newTestStore(t, path)

	out := tempPath(t, "usage.pdf")
	rows, err := runExport(context.Background(), st, export.Tables(), store.Range{}, out)
	require.NoError(t, err)
	assert.Equal(t, 3, rows)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}
