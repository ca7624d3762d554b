package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sales-warehouse/internal/model"
	"github.com/sells-group/sales-warehouse/internal/resilience"
	"github.com/sells-group/sales-warehouse/internal/warehouse"
)

// KeyCache maps a canonical natural key to every active surrogate key
// recorded for it. More than one surrogate key means corrupted state and
// shows up as a join fan-out.
type KeyCache map[string][]int64

// KeyCaches holds one cache per dimension, keyed by dimension name.
type KeyCaches map[string]KeyCache

// BuildKeyCaches reads the active keys of every dimension.
func BuildKeyCaches(ctx context.Context, store warehouse.DimensionStore, retryAttempts int) (KeyCaches, error) {
	log := zap.L().With(zap.String("component", "pipeline.resolve"))
	retry := storeRetry(retryAttempts)

	caches := make(KeyCaches, 4)
	for _, dim := range model.Dimensions() {
		pairs, err := resilience.DoVal(ctx, retry("pipeline.resolve", "active_keys"), func(ctx context.Context) ([]model.KeyPair, error) {
			return store.ActiveKeys(ctx, dim)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "resolve: active keys %s", dim.Name)
		}

		cache := make(KeyCache, len(pairs))
		for _, p := range pairs {
			key, err := model.NormalizeKey(dim.KeyKind, p.NaturalKey)
			if err != nil {
				log.Warn("skipping active key", zap.String("dimension", dim.Name), zap.Int64("surrogate", p.SurrogateKey), zap.Error(err))
				continue
			}
			cache[key] = append(cache[key], p.SurrogateKey)
		}
		caches[dim.Name] = cache
		log.Debug("key cache built", zap.String("dimension", dim.Name), zap.Int("keys", len(cache)))
	}
	return caches, nil
}

// Clone deep-copies the caches for one worker.
func (c KeyCaches) Clone() KeyCaches {
	out := make(KeyCaches, len(c))
	for name, cache := range c {
		cp := make(KeyCache, len(cache))
		for k, v := range cache {
			cp[k] = append([]int64(nil), v...)
		}
		out[name] = cp
	}
	return out
}

// RejectedFact is a candidate missing one or more surrogate keys.
type RejectedFact struct {
	Chunk     int
	Candidate model.FactCandidate
	Missing   []string
}

// FailedChunk is a chunk that could not be resolved, with its input rows.
type FailedChunk struct {
	Index int
	Rows  []model.FactCandidate
	Err   error
}

// Resolution is the outcome of resolving all fact candidates. Accepted
// holds one slice per chunk in chunk order; failed chunks have no entry.
type Resolution struct {
	Accepted [][]model.SalesFact
	Rejected []RejectedFact
	Failed   []FailedChunk
}

// AcceptedCount returns the number of accepted facts.
func (r *Resolution) AcceptedCount() int {
	n := 0
	for _, c := range r.Accepted {
		n += len(c)
	}
	return n
}

// Resolver replaces natural keys with surrogate keys chunk by chunk.
type Resolver struct {
	chunkSize int
	workers   int
}

// NewResolver creates a resolver. Non-positive values use the defaults.
func NewResolver(chunkSize, workers int) *Resolver {
	cfg := Config{ChunkSize: chunkSize, ResolveWorkers: workers}.withDefaults()
	return &Resolver{chunkSize: cfg.ChunkSize, workers: cfg.ResolveWorkers}
}

type chunkResult struct {
	accepted []model.SalesFact
	rejected []RejectedFact
	failed   *FailedChunk
}

// Resolve processes candidates in fixed-size chunks. A chunk failure is
// recorded and does not stop other chunks; only context cancellation is
// returned as an error.
func (r *Resolver) Resolve(ctx context.Context, candidates []model.FactCandidate, caches KeyCaches) (*Resolution, error) {
	log := zap.L().With(zap.String("component", "pipeline.resolve"))

	var chunks [][]model.FactCandidate
	for start := 0; start < len(candidates); start += r.chunkSize {
		end := min(start+r.chunkSize, len(candidates))
		chunks = append(chunks, candidates[start:end])
	}

	results := make([]chunkResult, len(chunks))
	work := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers + 1)

	g.Go(func() error {
		defer close(work)
		for i := range chunks {
			select {
			case work <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < r.workers; w++ {
		g.Go(func() error {
			local := caches.Clone()
			for i := range work {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = resolveChunk(i, chunks[i], local)
				if f := results[i].failed; f != nil {
					log.Warn("chunk failed", zap.Int("chunk", i), zap.Int("rows", len(f.Rows)), zap.Error(f.Err))
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "resolve: cancelled")
	}

	res := &Resolution{}
	for _, cr := range results {
		if cr.failed != nil {
			res.Failed = append(res.Failed, *cr.failed)
			continue
		}
		res.Accepted = append(res.Accepted, cr.accepted)
		res.Rejected = append(res.Rejected, cr.rejected...)
	}

	log.Info("resolution complete",
		zap.Int("chunks", len(chunks)),
		zap.Int("accepted", res.AcceptedCount()),
		zap.Int("rejected", len(res.Rejected)),
		zap.Int("failed_chunks", len(res.Failed)),
	)
	return res, nil
}

// joinRow is a candidate with the surrogate keys resolved so far.
type joinRow struct {
	cand    model.FactCandidate
	keys    map[string]int64
	missing []string
}

// resolveChunk left-joins a chunk to the caches in dimension order and
// checks after each join that no row was multiplied.
func resolveChunk(index int, chunk []model.FactCandidate, caches KeyCaches) chunkResult {
	fail := func(err error) chunkResult {
		rows := append([]model.FactCandidate(nil), chunk...)
		return chunkResult{failed: &FailedChunk{Index: index, Rows: rows, Err: err}}
	}

	dims := model.Dimensions()
	rows := make([]joinRow, len(chunk))
	for i, c := range chunk {
		for _, dim := range dims {
			key, err := model.NormalizeKey(dim.KeyKind, c.NaturalKey(dim.Name))
			if err != nil {
				return fail(eris.Wrapf(ErrKeyCoercion, "row %s:%d %s key %q: %v",
					c.SourceFile, c.SourceRow, dim.Name, c.NaturalKey(dim.Name), err))
			}
			switch dim.Name {
			case model.DimDate:
				c.Date = key
			case model.DimStore:
				c.StoreID = key
			case model.DimItem:
				c.ItemNo = key
			case model.DimVendor:
				c.VendorNo = key
			}
		}
		rows[i] = joinRow{cand: c, keys: make(map[string]int64, len(dims))}
	}

	for _, dim := range dims {
		cache := caches[dim.Name]
		out := make([]joinRow, 0, len(rows))
		for _, row := range rows {
			matches := cache[row.cand.NaturalKey(dim.Name)]
			if len(matches) == 0 {
				row.missing = append(row.missing, dim.Name)
				out = append(out, row)
				continue
			}
			for _, sk := range matches {
				joined := joinRow{cand: row.cand, keys: make(map[string]int64, len(dims)), missing: append([]string(nil), row.missing...)}
				for k, v := range row.keys {
					joined.keys[k] = v
				}
				joined.keys[dim.Name] = sk
				out = append(out, joined)
			}
		}
		if len(out) > len(chunk) {
			return fail(eris.Wrapf(ErrJoinFanOut, "%s join produced %d rows from %d", dim.Name, len(out), len(chunk)))
		}
		rows = out
	}

	var res chunkResult
	for _, row := range rows {
		if len(row.missing) > 0 {
			res.rejected = append(res.rejected, RejectedFact{Chunk: index, Candidate: row.cand, Missing: row.missing})
			continue
		}
		res.accepted = append(res.accepted, model.SalesFact{
			InvoiceLineNo:      row.cand.InvoiceLineNo,
			StoreID:            row.cand.StoreID,
			DateKey:            row.keys[model.DimDate],
			StoreKey:           row.keys[model.DimStore],
			ItemKey:            row.keys[model.DimItem],
			VendorKey:          row.keys[model.DimVendor],
			Metrics:            row.cand.Metrics,
			ProcessedTimestamp: row.cand.ProcessedTimestamp,
		})
	}
	return res
}
