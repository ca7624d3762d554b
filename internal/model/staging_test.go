package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStagingRecord_FieldsMatchColumns(t *testing.T) {
	t.Parallel()

	var r StagingRecord
	fields := r.Fields()
	assert.Len(t, fields, len(SourceColumns))

	*fields[2] = "2633"
	v, ok := r.Field(ColStore)
	assert.True(t, ok)
	assert.Equal(t, "2633", v)

	_, ok = r.Field("nope")
	assert.False(t, ok)
}

func TestStagingRecord_Less(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &StagingRecord{IngestedAt: t0, FileName: "a.csv", SourceRow: 2}
	b := &StagingRecord{IngestedAt: t0, FileName: "a.csv", SourceRow: 3}
	c := &StagingRecord{IngestedAt: t0, FileName: "b.csv", SourceRow: 1}
	d := &StagingRecord{IngestedAt: t0.Add(time.Second), FileName: "a.csv", SourceRow: 1}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.True(t, c.Less(d))
	assert.False(t, d.Less(a))
}

func TestStagingColumns(t *testing.T) {
	t.Parallel()

	cols := StagingColumns()
	assert.Len(t, cols, len(SourceColumns)+3)
	assert.Equal(t, "source_row", cols[len(cols)-1])
}

func TestSalesFact_ValuesMatchColumns(t *testing.T) {
	t.Parallel()

	assert.Len(t, SalesFact{}.Values(), len(FactColumns))
}
