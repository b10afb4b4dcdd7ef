package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kurve-cli/internal/export"
	"github.com/sells-group/kurve-cli/internal/store"
)

var (
	exportTables []string
	exportAll    bool
	exportOut    string
	exportFrom   string
	exportTo     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export store tables to an XLSX workbook or PDF",
	Long:  "Writes one sheet per table; an --out path ending in .pdf renders a PDF instead of a workbook. Readings and averages can be bounded with --from and --to (RFC 3339 or YYYY-MM-DD).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		tables, err := exportSelection(exportTables, exportAll)
		if err != nil {
			return err
		}
		rng, err := store.ParseRange(exportFrom, exportTo)
		if err != nil {
			return eris.Wrap(err, "export: range")
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := runExport(ctx, st, tables, rng, exportOut)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %d rows in %d sheets to %s\n", rows, len(tables), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringSliceVar(&exportTables, "table", nil, "table to export, repeatable (one of "+strings.Join(export.Tables(), ", ")+")")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "export every table")
	exportCmd.Flags().StringVar(&exportOut, "out", "water_usage.xlsx", "output path (.xlsx or .pdf)")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "earliest period to include")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "period to stop before")
	rootCmd.AddCommand(exportCmd)
}

// exportSelection validates the requested table names.
func exportSelection(tables []string, all bool) ([]string, error) {
	if all {
		return export.Tables(), nil
	}
	if len(tables) == 0 {
		return nil, eris.New("export: --table or --all is required")
	}
	for _, t := range tables {
		if !export.IsTable(t) {
			return nil, eris.Errorf("export: unknown table %q", t)
		}
	}
	return tables, nil
}

func runExport(ctx context.Context, st store.Store, tables []string, rng store.Range, out string) (int, error) {
	sheets := make([]*export.Sheet, 0, len(tables))
	rows := 0
	for _, t := range tables {
		sh, err := export.Table(ctx, st, t, rng)
		if err != nil {
			return 0, err
		}
		rows += len(sh.Rows)
		sheets = append(sheets, sh)
	}
	if err := export.Write(out, sheets...); err != nil {
		return 0, err
	}
	zap.L().Info("export complete", zap.String("path", out), zap.Int("sheets", len(sheets)), zap.Int("rows", rows))
	return rows, nil
}
