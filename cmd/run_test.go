package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/sales-warehouse/internal/pipeline"
)

func TestFormatSummary(t *testing.T) {
	sum := &pipeline.Summary{
		RunID:     "run-1",
		StartedAt: time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
		Extract: &pipeline.ExtractResult{
			FilesSeen:     3,
			FilesStaged:   2,
			FilesSkipped:  1,
			RowsStaged:    40,
			Suspect:       []string{"a.csv"},
			FilesRejected: 0,
		},
		Clean: pipeline.CleanStats{
			RowsIn:      40,
			RowsCleaned: 37,
			Dropped:     map[string]int{pipeline.DropMissing: 2, pipeline.DropDuplicate: 1},
		},
		Dimensions: []pipeline.ReconcileResult{
			{Dimension: "store", Inserted: 2, Expired: 1, Unchanged: 5},
		},
		FactsLoaded:   35,
		FactsRejected: 2,
		QuarantineDir: "quarantine/20250615T103000Z",
	}

	var buf bytes.Buffer
	formatSummary(&buf, sum)

	output := buf.String()
	assert.Contains(t, output, "run-1")
	assert.Contains(t, output, "2025-06-15 10:30:00")
	assert.Contains(t, output, "3 seen, 2 staged, 1 skipped, 0 rejected")
	assert.Contains(t, output, "Suspect files:")
	assert.Contains(t, output, "40 in, 37 cleaned")
	assert.Contains(t, output, "dropped "+pipeline.DropMissing)
	assert.Contains(t, output, "Dimension store:")
	assert.Contains(t, output, "2 inserted, 1 expired, 5 unchanged")
	assert.Contains(t, output, "35 loaded, 2 rejected, 0 chunks failed")
	assert.Contains(t, output, "quarantine/20250615T103000Z")
}

func TestFormatSummary_NoOp(t *testing.T) {
	sum := &pipeline.Summary{RunID: "run-2", NoOp: true}

	var buf bytes.Buffer
	formatSummary(&buf, sum)

	output := buf.String()
	assert.Contains(t, output, "nothing new to merge")
	assert.NotContains(t, output, "Facts:")
	assert.NotContains(t, output, "Files:")
}
