package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sales-warehouse/internal/model"
	"github.com/sells-group/sales-warehouse/internal/resilience"
	"github.com/sells-group/sales-warehouse/internal/warehouse"
)

// Loader appends resolved facts in batches, one transaction per batch.
type Loader struct {
	store     warehouse.FactStore
	batchSize int
	retry     retryPolicy
}

// NewLoader creates a loader. The batch size is raised to at least one chunk.
func NewLoader(store warehouse.FactStore, cfg Config) *Loader {
	cfg = cfg.withDefaults()
	return &Loader{store: store, batchSize: cfg.LoadBatchSize, retry: storeRetry(cfg.RetryAttempts)}
}

// Load writes every accepted chunk and returns the number of rows stored.
// A batch that still fails after retries aborts the load; earlier batches
// stay committed.
func (l *Loader) Load(ctx context.Context, chunks [][]model.SalesFact) (int64, error) {
	log := zap.L().With(zap.String("component", "pipeline.load"))

	var loaded int64
	for i, batch := range batches(chunks, l.batchSize) {
		n, err := resilience.DoVal(ctx, l.retry("pipeline.load", "append_facts"), func(ctx context.Context) (int64, error) {
			return l.store.AppendFacts(ctx, batch)
		})
		if err != nil {
			return loaded, eris.Wrapf(err, "load: batch %d (%d rows)", i, len(batch))
		}
		loaded += n
		log.Debug("batch loaded", zap.Int("batch", i), zap.Int64("rows", n))
	}

	log.Info("facts loaded", zap.Int64("rows", loaded))
	return loaded, nil
}

// batches flattens chunks and cuts them into slices of at most size rows.
func batches(chunks [][]model.SalesFact, size int) [][]model.SalesFact {
	var (
		out []model.SalesFact
		all [][]model.SalesFact
	)
	for _, chunk := range chunks {
		for _, f := range chunk {
			out = append(out, f)
			if len(out) == size {
				all = append(all, out)
				out = nil
			}
		}
	}
	if len(out) > 0 {
		all = append(all, out)
	}
	return all
}
