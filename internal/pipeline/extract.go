package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sales-warehouse/internal/model"
	"github.com/sells-group/sales-warehouse/internal/resilience"
	"github.com/sells-group/sales-warehouse/internal/source"
	"github.com/sells-group/sales-warehouse/internal/warehouse"
)

// ExtractResult counts what one extraction pass did.
type ExtractResult struct {
	FilesSeen     int      `json:"files_seen"`
	FilesStaged   int      `json:"files_staged"`
	FilesSkipped  int      `json:"files_skipped"`
	FilesRejected int      `json:"files_rejected"`
	RowsStaged    int64    `json:"rows_staged"`
	Suspect       []string `json:"suspect,omitempty"`
}

// Extractor stages unprocessed CSV files from a source.
type Extractor struct {
	src       source.Source
	staging   warehouse.StagingStore
	prov      *ProvenanceTracker
	batchSize int
	policy    string
	retry     retryPolicy
	now       func() time.Time
}

// NewExtractor creates an extractor. cfg supplies batch size, retry attempts
// and the provenance policy.
func NewExtractor(src source.Source, staging warehouse.StagingStore, prov *ProvenanceTracker, cfg Config) *Extractor {
	cfg = cfg.withDefaults()
	return &Extractor{
		src:       src,
		staging:   staging,
		prov:      prov,
		batchSize: cfg.StagingBatchSize,
		policy:    cfg.ProvenancePolicy,
		retry:     storeRetry(cfg.RetryAttempts),
		now:       time.Now,
	}
}

// Run stages every unprocessed .csv file. A file is marked processed only
// after all of its rows are staged. Files with an unusable header or a
// malformed row are rejected and left unmarked, and any rows already staged
// from them are discarded.
func (x *Extractor) Run(ctx context.Context) (*ExtractResult, error) {
	log := zap.L().With(zap.String("component", "pipeline.extract"))

	objs, err := x.src.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "extract: list source")
	}

	res := &ExtractResult{}
	for _, obj := range objs {
		if !source.IsCSV(obj.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.FilesSeen++

		fileLog := log.With(zap.String("file", obj.Name))

		done, err := x.prov.IsProcessed(ctx, obj.Name)
		if err != nil {
			if x.policy != PolicyAssumeUnprocessed {
				return res, err
			}
			fileLog.Warn("provenance unavailable, staging file as unprocessed", zap.Error(err))
			res.Suspect = append(res.Suspect, obj.Name)
		}
		if done {
			fileLog.Debug("skipping processed file")
			res.FilesSkipped++
			continue
		}

		ingestedAt := x.now().UTC().Truncate(time.Microsecond)
		rows, err := x.stageFile(ctx, obj.Name, ingestedAt)
		if err != nil {
			if rows > 0 {
				if derr := x.discard(ctx, obj.Name, ingestedAt); derr != nil {
					return res, derr
				}
			}
			if errors.Is(err, source.ErrMissingColumns) || errors.Is(err, source.ErrMalformedRow) {
				fileLog.Warn("rejecting file", zap.Error(err), zap.Int64("rows_discarded", rows))
				res.FilesRejected++
				continue
			}
			return res, eris.Wrapf(err, "extract: stage %s", obj.Name)
		}

		err = resilience.Do(ctx, x.retry("pipeline.extract", "mark_processed"), func(ctx context.Context) error {
			return x.prov.MarkProcessed(ctx, obj.Name, ingestedAt)
		})
		if err != nil {
			return res, eris.Wrapf(err, "extract: mark %s", obj.Name)
		}

		fileLog.Info("staged file", zap.Int64("rows", rows))
		res.FilesStaged++
		res.RowsStaged += rows
	}

	log.Info("extraction complete",
		zap.Int("staged", res.FilesStaged),
		zap.Int("skipped", res.FilesSkipped),
		zap.Int("rejected", res.FilesRejected),
		zap.Int64("rows", res.RowsStaged),
	)
	return res, nil
}

// discard removes the rows staged from a file that did not finish staging.
// It runs even when ctx is cancelled so an interrupted file leaves no rows.
func (x *Extractor) discard(ctx context.Context, name string, ingestedAt time.Time) error {
	ctx = context.WithoutCancel(ctx)
	n, err := resilience.DoVal(ctx, x.retry("pipeline.extract", "discard_staging"), func(ctx context.Context) (int64, error) {
		return x.staging.DiscardStaging(ctx, name, ingestedAt)
	})
	if err != nil {
		return eris.Wrapf(err, "extract: discard partial staging for %s", name)
	}
	zap.L().Debug("discarded partial staging",
		zap.String("component", "pipeline.extract"),
		zap.String("file", name),
		zap.Int64("rows", n),
	)
	return nil
}

// stageFile streams one file into staging in batches and returns the number
// of rows committed. A header missing required columns returns
// source.ErrMissingColumns before anything is staged; a malformed row
// returns source.ErrMalformedRow after the earlier batches are committed.
func (x *Extractor) stageFile(ctx context.Context, name string, ingestedAt time.Time) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rc, err := x.src.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	headerCh := make(chan []string, 1)
	rowCh, errCh := source.StreamCSV(ctx, rc, source.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	var raw []string
	select {
	case raw = <-headerCh:
	case err, ok := <-errCh:
		if ok && err != nil {
			return 0, err
		}
		select {
		case raw = <-headerCh:
		default:
			return 0, eris.Wrap(source.ErrMissingColumns, "empty file")
		}
	}

	header, err := source.MapHeader(raw)
	if err != nil {
		return 0, err
	}

	var (
		total int64
		row   int
		batch = make([]model.StagingRecord, 0, x.batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := resilience.Do(ctx, x.retry("pipeline.extract", "append_staging"), func(ctx context.Context) error {
			return x.staging.AppendStaging(ctx, batch)
		})
		if err != nil {
			return err
		}
		total += int64(len(batch))
		batch = make([]model.StagingRecord, 0, x.batchSize)
		return nil
	}

	for rec := range rowCh {
		row++
		r := header.Record(rec)
		r.FileName = name
		r.IngestedAt = ingestedAt
		r.SourceRow = row
		batch = append(batch, r)

		if len(batch) >= x.batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return total, err
	}
	return total, flush()
}
