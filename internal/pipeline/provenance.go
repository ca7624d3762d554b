package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sales-warehouse/internal/model"
	"github.com/sells-group/sales-warehouse/internal/warehouse"
)

// ProvenanceTracker answers whether a source file was already staged. The
// processed set is read once per run and then consulted in memory.
type ProvenanceTracker struct {
	store     warehouse.ProvenanceStore
	processed map[string]struct{}
	loadErr   error
	loaded    bool
}

// NewProvenanceTracker wraps a provenance store.
func NewProvenanceTracker(store warehouse.ProvenanceStore) *ProvenanceTracker {
	return &ProvenanceTracker{store: store}
}

func (p *ProvenanceTracker) load(ctx context.Context) error {
	if p.loaded {
		return p.loadErr
	}
	p.loaded = true

	set, err := p.store.ProcessedFiles(ctx)
	if err != nil {
		p.loadErr = eris.Wrapf(ErrProvenanceUnavailable, "load processed files: %v", err)
		return p.loadErr
	}
	if set == nil {
		set = make(map[string]struct{})
	}
	for name := range p.processed {
		set[name] = struct{}{}
	}
	p.processed = set
	return nil
}

// IsProcessed reports whether name has a provenance entry. When the store
// cannot be read the error matches ErrProvenanceUnavailable and the caller
// applies its policy.
func (p *ProvenanceTracker) IsProcessed(ctx context.Context, name string) (bool, error) {
	if err := p.load(ctx); err != nil {
		return false, err
	}
	_, ok := p.processed[name]
	return ok, nil
}

// MarkProcessed appends a provenance entry for name.
func (p *ProvenanceTracker) MarkProcessed(ctx context.Context, name string, at time.Time) error {
	if err := p.store.MarkProcessed(ctx, model.ProvenanceEntry{FileName: name, IngestedAt: at}); err != nil {
		return eris.Wrapf(err, "provenance: mark %s", name)
	}
	if p.processed == nil {
		p.processed = make(map[string]struct{})
	}
	p.processed[name] = struct{}{}
	return nil
}
