package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kurve-cli/internal/merge"
	"github.com/sells-group/kurve-cli/internal/monitoring"
	"github.com/sells-group/kurve-cli/internal/store"
)

var (
	mergeOutput   string
	mergePattern  string
	mergeDir      string
	mergeDryRun   bool
	mergeReport   string
	mergeTextfile string
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge per-run stores into one canonical store",
	Long:  "Discovers SQLite stores in a directory, deduplicates every table keeping the largest row per key, and writes the result to an empty output store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		applyMergeFlags(cmd)
		if err := cfg.Validate("merge"); err != nil {
			return err
		}

		metrics := monitoring.NewMetrics()
		report, err := runMerge(ctx, mergeRequest{
			Dir:         cfg.Merge.Dir,
			Pattern:     cfg.Merge.Pattern,
			Output:      cfg.Merge.Output,
			Concurrency: cfg.Merge.Concurrency,
			DryRun:      mergeDryRun,
		})
		if err != nil {
			return err
		}

		metrics.ObserveMerge(report)
		writeTextfile(metrics, cfg.Metrics.TextfilePath)

		if mergeReport != "" {
			if err := writeMergeReport(mergeReport, report); err != nil {
				return err
			}
		}
		formatMergeReport(os.Stdout, report)
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeOutput, "output", "", "output store path (default from config)")
	mergeCmd.Flags().StringVar(&mergePattern, "pattern", "", "glob for source stores (default from config)")
	mergeCmd.Flags().StringVar(&mergeDir, "dir", "", "directory to search for source stores (default from config)")
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "compute the merge report without writing the output store")
	mergeCmd.Flags().StringVar(&mergeReport, "report", "", "write the merge report as JSON to this path (- for stdout)")
	mergeCmd.Flags().StringVar(&mergeTextfile, "textfile", "", "write prometheus metrics to this file")
	rootCmd.AddCommand(mergeCmd)
}

func applyMergeFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("output") {
		cfg.Merge.Output = mergeOutput
	}
	if cmd.Flags().Changed("pattern") {
		cfg.Merge.Pattern = mergePattern
	}
	if cmd.Flags().Changed("dir") {
		cfg.Merge.Dir = mergeDir
	}
	if mergeTextfile != "" {
		cfg.Metrics.TextfilePath = mergeTextfile
	}
}

type mergeRequest struct {
	Dir         string
	Pattern     string
	Output      string
	Concurrency int
	DryRun      bool
}

// runMerge discovers the source stores, opens them and merges them into a
// fresh SQLite store at req.Output. A dry run never creates the output.
func runMerge(ctx context.Context, req mergeRequest) (*merge.Report, error) {
	output := req.Output
	if !filepath.IsAbs(output) && filepath.Dir(output) == "." {
		output = filepath.Join(req.Dir, output)
	}

	paths, err := merge.Discover(req.Dir, req.Pattern, output)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, eris.Wrapf(merge.ErrNoSources, "no stores match %s in %s", req.Pattern, req.Dir)
	}

	sources := make([]merge.Source, 0, len(paths))
	defer func() {
		for _, s := range sources {
			_ = s.Store.Close()
		}
	}()
	for _, p := range paths {
		st, err := store.NewSQLite(p)
		if err != nil {
			return nil, eris.Wrapf(err, "merge: open source %s", p)
		}
		sources = append(sources, merge.Source{Name: filepath.Base(p), Store: st})
	}
	zap.L().Info("discovered source stores", zap.Int("count", len(sources)), zap.String("output", output))

	var out store.Store
	if !req.DryRun {
		o, err := store.NewSQLite(output)
		if err != nil {
			return nil, eris.Wrap(err, "merge: open output")
		}
		defer o.Close() //nolint:errcheck
		if err := o.Migrate(ctx); err != nil {
			return nil, err
		}
		out = o
	}

	return merge.New(out, merge.Options{DryRun: req.DryRun, Concurrency: req.Concurrency}).Merge(ctx, sources)
}

func writeMergeReport(path string, report *merge.Report) error {
	if path == "-" {
		return report.WriteJSON(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "merge: create report")
	}
	if err := report.WriteJSON(f); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "merge: close report")
}

// formatMergeReport writes a per-table summary to w.
func formatMergeReport(out io.Writer, r *merge.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TABLE\tREAD\tDUPLICATES\tFILTERED\tWRITTEN")
	_, _ = fmt.Fprintln(w, "-----\t----\t----------\t--------\t-------")
	for _, t := range r.Tables {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", t.Table, t.Read, t.Duplicates, t.Filtered, t.Written)
	}
	_ = w.Flush()

	mode := "written"
	if r.DryRun {
		mode = "would be written (dry run)"
	}
	_, _ = fmt.Fprintf(out, "%d sources, %d rows %s in %.1fs\n", len(r.Sources), r.Written(), mode, r.DurationSeconds)
	if r.CurrentCleared > 0 {
		_, _ = fmt.Fprintf(out, "%d conflicting current tariff flags cleared\n", r.CurrentCleared)
	}
}
