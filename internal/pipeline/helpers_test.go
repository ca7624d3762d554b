package pipeline

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/sales-warehouse/internal/model"
	"github.com/sells-group/sales-warehouse/internal/resilience"
	"github.com/sells-group/sales-warehouse/internal/warehouse"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func fastRetry(string, string) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newSQLiteWarehouse(t *testing.T) *warehouse.SQLiteStore {
	t.Helper()
	wh, err := warehouse.NewSQLite(filepath.Join(t.TempDir(), "warehouse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() }) //nolint:errcheck
	require.NoError(t, wh.Migrate(context.Background()))
	return wh
}

// memDims is an in-memory DimensionStore. Unlike the real backends it
// does not enforce a single active version, so tests can seed corruption.
type memDims struct {
	mu       sync.Mutex
	rows     map[string][]model.DimensionVersion
	next     int64
	err      error
	skipExp  bool // expire nothing, forcing a count mismatch
	appended int
}

func newMemDims() *memDims {
	return &memDims{rows: map[string][]model.DimensionVersion{}}
}

func (m *memDims) seed(dim model.Dimension, key string, values ...string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.rows[dim.Name] = append(m.rows[dim.Name], model.DimensionVersion{
		SurrogateKey: m.next,
		NaturalKey:   key,
		Values:       values,
		StartDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:     true,
	})
	return m.next
}

func (m *memDims) toVersion(dim model.Dimension, mem model.Member, start time.Time) model.DimensionVersion {
	m.next++
	v := model.DimensionVersion{SurrogateKey: m.next, NaturalKey: mem.NaturalKey(), StartDate: start, IsActive: true}
	for i, val := range mem.Values() {
		s, _ := model.Canonical(dim.Attributes[i].Kind, val)
		v.Values = append(v.Values, s)
	}
	return v
}

func (m *memDims) QueryActive(_ context.Context, dim model.Dimension) ([]model.DimensionVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []model.DimensionVersion
	for _, v := range m.rows[dim.Name] {
		if v.IsActive {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memDims) Versions(_ context.Context, dim model.Dimension, key string) ([]model.DimensionVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DimensionVersion
	for _, v := range m.rows[dim.Name] {
		if v.NaturalKey == key {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SurrogateKey < out[j].SurrogateKey })
	return out, nil
}

func (m *memDims) AppendMembers(_ context.Context, dim model.Dimension, members []model.Member, start time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range members {
		m.rows[dim.Name] = append(m.rows[dim.Name], m.toVersion(dim, mem, start))
	}
	m.appended += len(members)
	return len(members), nil
}

func (m *memDims) ExpireAndInsert(_ context.Context, dim model.Dimension, keys []string, members []model.Member, asOf time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skipExp {
		return 0, 0, warehouse.ErrExpireMismatch
	}
	want := map[string]bool{}
	for _, k := range keys {
		want[k] = true
	}
	expired := 0
	rows := m.rows[dim.Name]
	for i := range rows {
		if rows[i].IsActive && want[rows[i].NaturalKey] {
			end := asOf
			rows[i].IsActive = false
			rows[i].EndDate = &end
			expired++
		}
	}
	for _, mem := range members {
		rows = append(rows, m.toVersion(dim, mem, asOf))
	}
	m.rows[dim.Name] = rows
	return expired, len(members), nil
}

func (m *memDims) ActiveKeys(ctx context.Context, dim model.Dimension) ([]model.KeyPair, error) {
	active, err := m.QueryActive(ctx, dim)
	if err != nil {
		return nil, err
	}
	out := make([]model.KeyPair, 0, len(active))
	for _, v := range active {
		out = append(out, model.KeyPair{NaturalKey: v.NaturalKey, SurrogateKey: v.SurrogateKey})
	}
	return out, nil
}

var _ warehouse.DimensionStore = (*memDims)(nil)
