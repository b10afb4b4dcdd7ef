// Package export writes store tables to spreadsheet files.
package export

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/kurve-cli/internal/model"
	"github.com/sells-group/kurve-cli/internal/store"
)

// Sheet is one exported table: a header row plus data rows.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]any
}

// Tables lists the exportable table names in store order.
func Tables() []string { return store.DataTables() }

// Table reads a logical table from st, restricted to rng where the table is
// time-keyed.
func Table(ctx context.Context, st store.Store, table string, rng store.Range) (*Sheet, error) {
	if table == store.TariffTable {
		tariffs, err := st.Tariffs(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "export: read tariffs")
		}
		sh := &Sheet{Name: table, Header: store.TariffColumns()}
		for _, t := range tariffs {
			sh.Rows = append(sh.Rows, []any{
				t.TariffID, t.ConsumerNumber, t.PricingPlanCode, t.PricingPlanDescription,
				t.Rate, t.StandingCharge, t.TariffChangeDate, t.IsCurrent,
			})
		}
		return sh, nil
	}

	for _, g := range model.ReadingGranularities {
		if name, _ := store.ReadingTable(g); name == table {
			return readingSheet(ctx, st, g, table, rng)
		}
	}
	for _, g := range model.AverageGranularities {
		if name, _ := store.AveragesTable(g); name == table {
			return averagesSheet(ctx, st, g, table, rng)
		}
	}
	return nil, eris.Errorf("export: unknown table %q", table)
}

func readingSheet(ctx context.Context, st store.Store, g model.Granularity, table string, rng store.Range) (*Sheet, error) {
	readings, err := st.Readings(ctx, g, rng)
	if err != nil {
		return nil, eris.Wrapf(err, "export: read %s", table)
	}
	sh := &Sheet{Name: table, Header: store.ReadingColumns()}
	for _, r := range readings {
		sh.Rows = append(sh.Rows, []any{
			r.MeterSerial, r.PeriodStartUTC, r.ReadTimeUTC,
			r.ActualValue, r.ConsumptionValue, r.ConsumptionCost, r.StandingCharge,
		})
	}
	return sh, nil
}

func averagesSheet(ctx context.Context, st store.Store, g model.Granularity, table string, rng store.Range) (*Sheet, error) {
	averages, err := st.Averages(ctx, g, rng)
	if err != nil {
		return nil, eris.Wrapf(err, "export: read %s", table)
	}
	sh := &Sheet{Name: table, Header: store.AveragesColumns()}
	for _, a := range averages {
		sh.Rows = append(sh.Rows, []any{
			a.Period, a.DailyCost, a.DailyUsage, a.WeeklyCost, a.WeeklyUsage, a.MonthlyCost, a.MonthlyUsage,
		})
	}
	return sh, nil
}

// WriteXLSX writes each sheet to its own worksheet of a new workbook at
// path. Timestamps are written as UTC date-times and NULLs as empty cells.
func WriteXLSX(path string, sheets ...*Sheet) error {
	if len(sheets) == 0 {
		return eris.New("export: no sheets")
	}
	f := xlsx.NewFile()
	for _, s := range sheets {
		ws, err := f.AddSheet(s.Name)
		if err != nil {
			return eris.Wrapf(err, "export: add sheet %s", s.Name)
		}
		header := ws.AddRow()
		for _, h := range s.Header {
			header.AddCell().SetString(h)
		}
		for i, row := range s.Rows {
			if len(row) != len(s.Header) {
				return eris.Errorf("export: %s row %d has %d cells, want %d", s.Name, i, len(row), len(s.Header))
			}
			r := ws.AddRow()
			for _, v := range row {
				if err := setCell(r.AddCell(), v); err != nil {
					return eris.Wrapf(err, "export: %s row %d", s.Name, i)
				}
			}
		}
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func setCell(c *xlsx.Cell, v any) error {
	switch x := v.(type) {
	case nil:
	case string:
		c.SetString(x)
	case float64:
		c.SetFloat(x)
	case *float64:
		if x != nil {
			c.SetFloat(*x)
		}
	case int64:
		c.SetInt64(x)
	case int:
		c.SetInt(x)
	case bool:
		c.SetBool(x)
	case time.Time:
		c.SetDateTime(x.UTC())
	default:
		return eris.Errorf("unsupported cell type %T", v)
	}
	return nil
}

// IsTable reports whether name is an exportable table.
func IsTable(name string) bool { return slices.Contains(Tables(), name) }
