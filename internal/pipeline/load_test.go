package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sales-warehouse/internal/model"
	"github.com/sells-group/sales-warehouse/internal/resilience"
)

type fakeFacts struct {
	batches  [][]model.SalesFact
	failures []error
}

func (f *fakeFacts) AppendFacts(_ context.Context, facts []model.SalesFact) (int64, error) {
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return 0, err
	}
	f.batches = append(f.batches, facts)
	return int64(len(facts)), nil
}

func (f *fakeFacts) MaxProcessedTimestamp(context.Context) (*time.Time, error) {
	return nil, nil
}

func factChunks(sizes ...int) [][]model.SalesFact {
	var out [][]model.SalesFact
	n := 0
	for _, size := range sizes {
		var chunk []model.SalesFact
		for i := 0; i < size; i++ {
			chunk = append(chunk, model.SalesFact{InvoiceLineNo: fmt.Sprintf("INV-%d", n)})
			n++
		}
		out = append(out, chunk)
	}
	return out
}

func TestBatches(t *testing.T) {
	got := batches(factChunks(4, 4, 4, 1), 10)
	require.Len(t, got, 2)
	assert.Len(t, got[0], 10)
	assert.Len(t, got[1], 3)
	assert.Equal(t, "INV-10", got[1][0].InvoiceLineNo)

	assert.Empty(t, batches(nil, 10))
}

func TestNewLoader_BatchAtLeastChunk(t *testing.T) {
	l := NewLoader(&fakeFacts{}, Config{ChunkSize: 1000, LoadBatchSize: 10})
	assert.Equal(t, 1000, l.batchSize)

	l = NewLoader(&fakeFacts{}, Config{ChunkSize: 100})
	assert.Equal(t, 1000, l.batchSize)
}

func TestLoader_Load(t *testing.T) {
	store := &fakeFacts{}
	l := NewLoader(store, Config{ChunkSize: 2, LoadBatchSize: 5})

	n, err := l.Load(context.Background(), factChunks(2, 2, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	require.Len(t, store.batches, 2)
	assert.Len(t, store.batches[0], 5)
	assert.Len(t, store.batches[1], 2)
}

func TestLoader_RetriesTransient(t *testing.T) {
	store := &fakeFacts{failures: []error{resilience.NewTransientError(errors.New("conn reset"))}}
	l := NewLoader(store, Config{ChunkSize: 2})
	l.retry = fastRetry

	n, err := l.Load(context.Background(), factChunks(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestLoader_PermanentFailureAborts(t *testing.T) {
	store := &fakeFacts{failures: []error{errors.New("foreign key violation")}}
	l := NewLoader(store, Config{ChunkSize: 2, LoadBatchSize: 2})
	l.retry = fastRetry

	n, err := l.Load(context.Background(), factChunks(2, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load: batch 0")
	assert.Zero(t, n)
	assert.Empty(t, store.batches)
}
