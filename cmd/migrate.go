package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply warehouse schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		wh, err := openWarehouse(ctx, "migrate")
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		if err := wh.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate warehouse")
		}

		zap.L().Info("warehouse migrations applied", zap.String("driver", cfg.Warehouse.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
