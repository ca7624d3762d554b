package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sales-warehouse/internal/diagnostics"
	"github.com/sells-group/sales-warehouse/internal/model"
	"github.com/sells-group/sales-warehouse/internal/source"
	"github.com/sells-group/sales-warehouse/internal/warehouse"
)

func newTestEngine(wh warehouse.Warehouse, clock time.Time) *Engine {
	e := NewEngine(wh, Config{ChunkSize: 2, LoadBatchSize: 3, RetryAttempts: 1}, nil)
	e.now = fixedClock(clock)
	return e
}

func dimResult(t *testing.T, sum *Summary, dim string) ReconcileResult {
	t.Helper()
	for _, d := range sum.Dimensions {
		if d.Dimension == dim {
			return d
		}
	}
	t.Fatalf("no result for %s", dim)
	return ReconcileResult{}
}

func TestEngine_EndToEnd(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	ctx := context.Background()
	dir := t.TempDir()
	src := source.NewDir(dir)

	writeSalesCSV(t, dir, "2024-03.csv",
		saleRow("INV-1", "101", 0),
		saleRow("INV-2", "101", 0, func(r *model.StagingRecord) { r.ItemNo = "55"; r.Category = "Wine" }),
		saleRow("INV-2", "101", 0),
		saleRow("INV-3", "102", 0, func(r *model.StagingRecord) { r.SaleBottles = "0" }),
	)

	t1 := time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)
	sum, err := newTestEngine(wh, t1).Run(ctx, src, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Extract.FilesStaged)
	assert.Equal(t, int64(4), sum.Extract.RowsStaged)
	assert.Equal(t, 3, sum.Clean.RowsCleaned)
	assert.Equal(t, 1, sum.Clean.Dropped[DropDuplicate])
	assert.Equal(t, int64(3), sum.FactsLoaded)
	assert.Zero(t, sum.FactsRejected)
	assert.Equal(t, 2, dimResult(t, sum, model.DimStore).Inserted)
	assert.Equal(t, 2, dimResult(t, sum, model.DimItem).Inserted)
	assert.Equal(t, 1, dimResult(t, sum, model.DimDate).Inserted)
	assert.Empty(t, sum.QuarantineDir)

	watermark, err := wh.MaxProcessedTimestamp(ctx)
	require.NoError(t, err)
	require.NotNil(t, watermark)
	assert.Equal(t, t1, *watermark)

	// Second delivery: item 55 changes category, one new sale.
	writeSalesCSV(t, dir, "2024-04.csv",
		saleRow("INV-4", "101", 0, func(r *model.StagingRecord) {
			r.ItemNo = "55"
			r.Category = "Fortified Wine"
			r.Date = "2024-04-01"
		}),
	)

	t2 := t1.Add(30 * 24 * time.Hour)
	sum, err = newTestEngine(wh, t2).Run(ctx, src, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Extract.FilesStaged)
	assert.Equal(t, 1, sum.Extract.FilesSkipped)
	assert.Equal(t, 1, sum.Clean.RowsIn)
	assert.Equal(t, int64(1), sum.FactsLoaded)

	items := dimResult(t, sum, model.DimItem)
	assert.Equal(t, 1, items.Expired)
	assert.Equal(t, 1, items.Inserted)
	assert.Equal(t, 1, dimResult(t, sum, model.DimStore).Unchanged)

	versions, err := wh.Versions(ctx, model.ItemDimension, "55")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.False(t, versions[0].IsActive)
	assert.Equal(t, "2024-04-01", versions[0].EndDate.Format(model.DateLayout))
	assert.True(t, versions[1].IsActive)

	// Nothing new: no-op run.
	sum, err = newTestEngine(wh, t2.Add(time.Hour)).Run(ctx, src, RunOptions{})
	require.NoError(t, err)
	assert.True(t, sum.NoOp)
	assert.Zero(t, sum.FactsLoaded)

	runs, err := wh.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.Equal(t, model.RunStatusComplete, r.Status)
	}
}

func TestEngine_MalformedFileDoesNotBlockOthers(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	ctx := context.Background()
	dir := t.TempDir()
	src := source.NewDir(dir)

	writeSalesCSV(t, dir, "a.csv", saleRow("INV-1", "101", 0))
	appendLine(t, dir, "a.csv", "\"unterminated\n")
	writeSalesCSV(t, dir, "b.csv", saleRow("INV-2", "102", 0))

	t1 := time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		e := NewEngine(wh, Config{StagingBatchSize: 1, ChunkSize: 2, RetryAttempts: 1}, nil)
		e.now = fixedClock(t1.Add(time.Duration(i) * time.Hour))
		sum, err := e.Run(ctx, src, RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Extract.FilesRejected)
		if i == 0 {
			assert.Equal(t, int64(1), sum.FactsLoaded)
		} else {
			assert.True(t, sum.NoOp)
		}
	}

	staged, err := wh.StagingSince(ctx, nil)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "b.csv", staged[0].FileName)

	runs, err := wh.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.Equal(t, model.RunStatusComplete, r.Status)
	}
}

func TestEngine_ExtractOnlyThenSkipExtract(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeSalesCSV(t, dir, "a.csv", saleRow("INV-1", "1", 0))

	sum, err := newTestEngine(wh, ingest1).Run(ctx, source.NewDir(dir), RunOptions{ExtractOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Extract.RowsStaged)
	assert.Zero(t, sum.FactsLoaded)
	assert.Empty(t, sum.Dimensions)

	sum, err = newTestEngine(wh, ingest1.Add(time.Hour)).Run(ctx, nil, RunOptions{SkipExtract: true})
	require.NoError(t, err)
	assert.Nil(t, sum.Extract)
	assert.Equal(t, int64(1), sum.FactsLoaded)
}

func TestEngine_RunInProgress(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	ctx := context.Background()
	require.NoError(t, wh.StartRun(ctx, "stale"))

	_, err := newTestEngine(wh, ingest1).Run(ctx, nil, RunOptions{SkipExtract: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, warehouse.ErrRunInProgress))

	sum, err := newTestEngine(wh, ingest1).Run(ctx, nil, RunOptions{SkipExtract: true, Takeover: true})
	require.NoError(t, err)
	assert.True(t, sum.NoOp)

	runs, err := wh.ListRuns(ctx, 10)
	require.NoError(t, err)
	statuses := map[string]model.RunStatus{}
	for _, r := range runs {
		statuses[r.ID] = r.Status
	}
	assert.Equal(t, model.RunStatusAbandoned, statuses["stale"])
	assert.Equal(t, model.RunStatusComplete, statuses[sum.RunID])
}

func TestEngine_FailureRecorded(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	ctx := context.Background()

	sum, err := newTestEngine(wh, ingest1).Run(ctx, nil, RunOptions{})
	require.Error(t, err)

	runs, err := wh.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].ID)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "no source configured")
}

func TestQuarantine_WritesFailedAndRejected(t *testing.T) {
	root := t.TempDir()
	sink := diagnostics.NewFileSink(root, "run-q", ingest1)

	res := &Resolution{
		Failed: []FailedChunk{{Index: 2, Rows: []model.FactCandidate{candidate("INV-1")}, Err: ErrJoinFanOut}},
		Rejected: []RejectedFact{
			{Chunk: 0, Candidate: candidate("INV-7"), Missing: []string{model.DimItem, model.DimVendor}},
			{Chunk: 0, Candidate: candidate("INV-8"), Missing: []string{model.DimVendor}},
		},
	}

	dir, err := quarantine(sink, res)
	require.NoError(t, err)
	assert.Equal(t, sink.Dir(), dir)

	m, err := diagnostics.ReadManifest(dir)
	require.NoError(t, err)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, "chunk-0002-failed.csv", m.Entries[0].File)
	assert.Equal(t, "chunk-0000-rejected.csv", m.Entries[1].File)
	assert.Equal(t, 2, m.Entries[1].Rows)
	assert.FileExists(t, filepath.Join(dir, "chunk-0000-rejected.csv"))
}

func TestQuarantine_NothingToWrite(t *testing.T) {
	dir, err := quarantine(diagnostics.Nop{}, &Resolution{})
	require.NoError(t, err)
	assert.Empty(t, dir)
}

func TestSummary_Map(t *testing.T) {
	sum := &Summary{
		Extract:       &ExtractResult{FilesStaged: 2, RowsStaged: 10},
		Clean:         CleanStats{RowsIn: 10, RowsCleaned: 9, Dropped: map[string]int{DropMissing: 1}},
		Dimensions:    []ReconcileResult{{Dimension: model.DimStore, Inserted: 3}},
		FactsLoaded:   9,
		QuarantineDir: "quarantine/x",
	}
	m := sum.Map()
	assert.Equal(t, 2, m["files_staged"])
	assert.Equal(t, int64(9), m["facts_loaded"])
	assert.Equal(t, map[string]int{"inserted": 3, "expired": 0, "unchanged": 0}, m[model.DimStore])
	assert.Equal(t, "quarantine/x", m["quarantine_dir"])
}
