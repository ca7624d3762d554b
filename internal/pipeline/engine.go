// Package pipeline stages raw sales files and merges them into the star
// schema: cleaning, SCD2 dimension reconciliation, fact key resolution and
// fact loading.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sales-warehouse/internal/diagnostics"
	"github.com/sells-group/sales-warehouse/internal/model"
	"github.com/sells-group/sales-warehouse/internal/source"
	"github.com/sells-group/sales-warehouse/internal/warehouse"
)

// RunOptions selects which phases run.
type RunOptions struct {
	SkipExtract bool // merge what is already staged
	ExtractOnly bool // stop after staging
	Takeover    bool // abandon stale running rows before starting
}

// Summary is the user-visible outcome of a run.
type Summary struct {
	RunID         string            `json:"run_id"`
	StartedAt     time.Time         `json:"started_at"`
	Extract       *ExtractResult    `json:"extract,omitempty"`
	Clean         CleanStats        `json:"clean"`
	Dimensions    []ReconcileResult `json:"dimensions"`
	FactsLoaded   int64             `json:"facts_loaded"`
	FactsRejected int               `json:"facts_rejected"`
	ChunksFailed  int               `json:"chunks_failed"`
	QuarantineDir string            `json:"quarantine_dir,omitempty"`
	NoOp          bool              `json:"no_op"`
}

// Map flattens the summary for the run log.
func (s *Summary) Map() map[string]any {
	m := map[string]any{
		"rows_in":        s.Clean.RowsIn,
		"rows_cleaned":   s.Clean.RowsCleaned,
		"dropped":        s.Clean.Dropped,
		"facts_loaded":   s.FactsLoaded,
		"facts_rejected": s.FactsRejected,
		"chunks_failed":  s.ChunksFailed,
		"no_op":          s.NoOp,
	}
	if s.Extract != nil {
		m["files_staged"] = s.Extract.FilesStaged
		m["files_skipped"] = s.Extract.FilesSkipped
		m["files_rejected"] = s.Extract.FilesRejected
		m["rows_staged"] = s.Extract.RowsStaged
	}
	for _, d := range s.Dimensions {
		m[d.Dimension] = map[string]int{"inserted": d.Inserted, "expired": d.Expired, "unchanged": d.Unchanged}
	}
	if s.QuarantineDir != "" {
		m["quarantine_dir"] = s.QuarantineDir
	}
	return m
}

// SinkFactory opens the diagnostics sink for one run.
type SinkFactory func(runID string, started time.Time) diagnostics.Sink

// FileSinks returns a factory writing under dir.
func FileSinks(dir string) SinkFactory {
	return func(runID string, started time.Time) diagnostics.Sink {
		return diagnostics.NewFileSink(dir, runID, started)
	}
}

// Engine runs the pipeline phases in order against one warehouse handle.
type Engine struct {
	wh    warehouse.Warehouse
	cfg   Config
	sinks SinkFactory
	now   func() time.Time
	newID func() string
}

// NewEngine creates an engine. A nil sink factory discards diagnostics.
func NewEngine(wh warehouse.Warehouse, cfg Config, sinks SinkFactory) *Engine {
	if sinks == nil {
		sinks = func(string, time.Time) diagnostics.Sink { return diagnostics.Nop{} }
	}
	return &Engine{
		wh:    wh,
		cfg:   cfg.withDefaults(),
		sinks: sinks,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Run executes one pipeline run and records it in the run log. src may be
// nil when opts.SkipExtract is set.
func (e *Engine) Run(ctx context.Context, src source.Source, opts RunOptions) (*Summary, error) {
	log := zap.L().With(zap.String("component", "pipeline.engine"))

	if opts.Takeover {
		n, err := e.wh.AbandonRunning(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "engine: abandon running runs")
		}
		if n > 0 {
			log.Warn("abandoned stale runs", zap.Int64("count", n))
		}
	}

	sum := &Summary{RunID: e.newID(), StartedAt: e.now().UTC()}
	log = log.With(zap.String("run_id", sum.RunID))

	if err := e.wh.StartRun(ctx, sum.RunID); err != nil {
		return nil, eris.Wrap(err, "engine: start run")
	}

	start := time.Now()
	err := e.run(ctx, src, opts, sum, log)
	elapsed := time.Since(start)

	// Record the outcome even if ctx was cancelled.
	logCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.Error("run failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		if logErr := e.wh.FailRun(logCtx, sum.RunID, err.Error()); logErr != nil {
			log.Error("failed to record run failure", zap.Error(logErr))
		}
		return sum, err
	}

	if err := e.wh.CompleteRun(logCtx, sum.RunID, sum.Map()); err != nil {
		return sum, eris.Wrap(err, "engine: complete run")
	}

	log.Info("run complete",
		zap.Int64("facts_loaded", sum.FactsLoaded),
		zap.Int("facts_rejected", sum.FactsRejected),
		zap.Int("chunks_failed", sum.ChunksFailed),
		zap.String("quarantine", sum.QuarantineDir),
		zap.Duration("elapsed", elapsed),
	)
	return sum, nil
}

func (e *Engine) run(ctx context.Context, src source.Source, opts RunOptions, sum *Summary, log *zap.Logger) error {
	if !opts.SkipExtract {
		if src == nil {
			return eris.New("engine: no source configured")
		}
		ex := NewExtractor(src, e.wh, NewProvenanceTracker(e.wh), e.cfg)
		ex.now = e.now
		res, err := ex.Run(ctx)
		sum.Extract = res
		if err != nil {
			return err
		}
	}
	if opts.ExtractOnly {
		return nil
	}

	watermark, err := e.wh.MaxProcessedTimestamp(ctx)
	if err != nil {
		return eris.Wrap(err, "engine: read fact watermark")
	}
	if watermark == nil {
		log.Info("fact table empty, cleaning all staged rows")
	} else {
		log.Info("cleaning staged rows after watermark", zap.Time("watermark", *watermark))
	}

	records, err := e.wh.StagingSince(ctx, watermark)
	if err != nil {
		return eris.Wrap(err, "engine: read staging")
	}

	bundle, stats := Clean(records)
	sum.Clean = stats
	if bundle == nil {
		log.Info("nothing to merge")
		sum.NoOp = true
		return nil
	}

	rec := NewReconciler(e.wh, e.now, e.cfg.RetryAttempts)
	for _, dim := range model.Dimensions() {
		res, err := rec.Reconcile(ctx, dim, bundle.Members(dim.Name))
		if err != nil {
			return err
		}
		sum.Dimensions = append(sum.Dimensions, res)
	}

	caches, err := BuildKeyCaches(ctx, e.wh, e.cfg.RetryAttempts)
	if err != nil {
		return err
	}

	resolution, err := NewResolver(e.cfg.ChunkSize, e.cfg.ResolveWorkers).Resolve(ctx, bundle.Facts, caches)
	if err != nil {
		return err
	}
	sum.FactsRejected = len(resolution.Rejected)
	sum.ChunksFailed = len(resolution.Failed)

	dir, err := quarantine(e.sinks(sum.RunID, sum.StartedAt), resolution)
	if err != nil {
		return err
	}
	sum.QuarantineDir = dir

	loaded, err := NewLoader(e.wh, e.cfg).Load(ctx, resolution.Accepted)
	sum.FactsLoaded = loaded
	return err
}
