package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sales-warehouse/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent pipeline runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		wh, err := openWarehouse(ctx, "status")
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := wh.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs, time.Now())
		return nil
	},
}

func formatRunsList(out io.Writer, runs []model.Run, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tFACTS\tDETAIL")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t--------\t-----\t------")

	for _, r := range runs {
		end := now
		if r.CompletedAt != nil {
			end = *r.CompletedAt
		}
		dur := end.Sub(r.StartedAt).Round(time.Second).String()

		facts := "-"
		if v, ok := r.Summary["facts_loaded"]; ok {
			facts = fmt.Sprint(v)
		}

		detail := r.Error
		if detail == "" {
			if q, ok := r.Summary["quarantine_dir"].(string); ok {
				detail = q
			}
		}
		if len(detail) > 50 {
			detail = detail[:47] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			facts,
			detail,
		)
	}
	_ = w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	statusCmd.Flags().Int("limit", 20, "maximum number of runs to show")
	rootCmd.AddCommand(statusCmd)
}
