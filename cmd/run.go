package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sales-warehouse/internal/pipeline"
	"github.com/sells-group/sales-warehouse/internal/source"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stage new files and merge them into the warehouse",
	Long: "Stages unprocessed source files, cleans new staging rows, reconciles the four\n" +
		"dimensions and loads the resolved sales facts. Rejected rows and failed chunks\n" +
		"are written to the diagnostics directory.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		skipExtract, _ := cmd.Flags().GetBool("skip-extract")
		extractOnly, _ := cmd.Flags().GetBool("extract-only")
		takeover, _ := cmd.Flags().GetBool("takeover")
		if skipExtract && extractOnly {
			return eris.New("run: --skip-extract and --extract-only are mutually exclusive")
		}

		wh, err := openWarehouse(ctx, "run")
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		if err := wh.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate warehouse")
		}

		var src source.Source
		if !skipExtract {
			src, err = openSource(ctx)
			if err != nil {
				return err
			}
		}

		engine := pipeline.NewEngine(wh, cfg.PipelineOptions(), pipeline.FileSinks(cfg.Diagnostics.Dir))
		sum, err := engine.Run(ctx, src, pipeline.RunOptions{
			SkipExtract: skipExtract,
			ExtractOnly: extractOnly,
			Takeover:    takeover,
		})
		if sum != nil {
			formatSummary(os.Stdout, sum)
		}
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}
		return nil
	},
}

func formatSummary(out io.Writer, sum *pipeline.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", sum.RunID)
	_, _ = fmt.Fprintf(w, "Started:\t%s\n", sum.StartedAt.Format("2006-01-02 15:04:05"))

	if e := sum.Extract; e != nil {
		_, _ = fmt.Fprintf(w, "Files:\t%d seen, %d staged, %d skipped, %d rejected\n",
			e.FilesSeen, e.FilesStaged, e.FilesSkipped, e.FilesRejected)
		_, _ = fmt.Fprintf(w, "Rows staged:\t%d\n", e.RowsStaged)
		if len(e.Suspect) > 0 {
			_, _ = fmt.Fprintf(w, "Suspect files:\t%d\n", len(e.Suspect))
		}
	}

	if sum.NoOp {
		_, _ = fmt.Fprintln(w, "Merge:\tnothing new to merge")
		_ = w.Flush()
		return
	}

	_, _ = fmt.Fprintf(w, "Rows:\t%d in, %d cleaned\n", sum.Clean.RowsIn, sum.Clean.RowsCleaned)
	reasons := make([]string, 0, len(sum.Clean.Dropped))
	for r := range sum.Clean.Dropped {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		_, _ = fmt.Fprintf(w, "  dropped %s:\t%d\n", r, sum.Clean.Dropped[r])
	}

	for _, d := range sum.Dimensions {
		_, _ = fmt.Fprintf(w, "Dimension %s:\t%d inserted, %d expired, %d unchanged\n",
			d.Dimension, d.Inserted, d.Expired, d.Unchanged)
	}

	_, _ = fmt.Fprintf(w, "Facts:\t%d loaded, %d rejected, %d chunks failed\n",
		sum.FactsLoaded, sum.FactsRejected, sum.ChunksFailed)
	if sum.QuarantineDir != "" {
		_, _ = fmt.Fprintf(w, "Quarantine:\t%s\n", sum.QuarantineDir)
	}
	_ = w.Flush()
}

func init() {
	runCmd.Flags().Bool("skip-extract", false, "merge rows already in staging without reading the source")
	runCmd.Flags().Bool("extract-only", false, "stage new files and stop before merging")
	runCmd.Flags().Bool("takeover", false, "mark stale running runs abandoned before starting")
	rootCmd.AddCommand(runCmd)
}
