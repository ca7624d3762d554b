package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sales-warehouse/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history <dimension> <natural-key>",
	Short: "Show every version of one dimension member",
	Long:  "Lists the SCD2 versions of a date, store, item or vendor member, oldest first.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dim, err := dimensionByName(args[0])
		if err != nil {
			return err
		}
		key, err := model.NormalizeKey(dim.KeyKind, args[1])
		if err != nil {
			return eris.Wrapf(err, "history: %s key %q", dim.Name, args[1])
		}

		wh, err := openWarehouse(ctx, "status")
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		versions, err := wh.Versions(ctx, dim, key)
		if err != nil {
			return eris.Wrap(err, "history")
		}
		if len(versions) == 0 {
			fmt.Fprintf(os.Stderr, "No %s member %q.\n", dim.Name, key)
			return nil
		}

		formatVersions(os.Stdout, dim, versions)
		return nil
	},
}

func dimensionByName(name string) (model.Dimension, error) {
	for _, d := range model.Dimensions() {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return model.Dimension{}, eris.Errorf("history: unknown dimension %q (want date, store, item or vendor)", name)
}

func formatVersions(out io.Writer, dim model.Dimension, versions []model.DimensionVersion) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	header := []string{"KEY", "START", "END", "ACTIVE"}
	for _, a := range dim.Attributes {
		header = append(header, strings.ToUpper(a.Column))
	}
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, v := range versions {
		end := "-"
		if v.EndDate != nil {
			end = v.EndDate.Format(model.DateLayout)
		}
		row := []string{
			fmt.Sprint(v.SurrogateKey),
			v.StartDate.Format(model.DateLayout),
			end,
			fmt.Sprint(v.IsActive),
		}
		row = append(row, v.Values...)
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
