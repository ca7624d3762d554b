package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sales-warehouse/internal/source"
	"github.com/sells-group/sales-warehouse/internal/warehouse"
)

// openWarehouse validates the config for mode and connects to the warehouse.
func openWarehouse(ctx context.Context, mode string) (warehouse.Warehouse, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	wh, err := warehouse.Open(ctx, cfg.Warehouse)
	if err != nil {
		return nil, eris.Wrap(err, "open warehouse")
	}
	return wh, nil
}

func openSource(ctx context.Context) (source.Source, error) {
	src, err := source.New(ctx, cfg.Source.Options)
	if err != nil {
		return nil, eris.Wrap(err, "open source")
	}
	return src, nil
}
