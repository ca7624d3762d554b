package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sales-warehouse/internal/model"
	"github.com/sells-group/sales-warehouse/internal/resilience"
	"github.com/sells-group/sales-warehouse/internal/warehouse"
)

// ReconcileResult counts the versions written for one dimension.
type ReconcileResult struct {
	Dimension string `json:"dimension"`
	Inserted  int    `json:"inserted"`
	Expired   int    `json:"expired"`
	Unchanged int    `json:"unchanged"`
}

// Reconciler applies SCD2 versioning to dimension candidates.
type Reconciler struct {
	store warehouse.DimensionStore
	now   func() time.Time
	retry retryPolicy
}

// NewReconciler creates a reconciler. A nil clock uses time.Now.
func NewReconciler(store warehouse.DimensionStore, clock func() time.Time, retryAttempts int) *Reconciler {
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{store: store, now: clock, retry: storeRetry(retryAttempts)}
}

// Reconcile inserts candidates with no active version, and expires and
// re-inserts candidates whose tracked attributes changed. Active members
// absent from candidates are left untouched.
func (r *Reconciler) Reconcile(ctx context.Context, dim model.Dimension, candidates []model.Member) (ReconcileResult, error) {
	log := zap.L().With(zap.String("component", "pipeline.reconcile"), zap.String("dimension", dim.Name))
	res := ReconcileResult{Dimension: dim.Name}

	active, err := resilience.DoVal(ctx, r.retry("pipeline.reconcile", "query_active"), func(ctx context.Context) ([]model.DimensionVersion, error) {
		return r.store.QueryActive(ctx, dim)
	})
	if err != nil {
		return res, eris.Wrapf(err, "reconcile: query active %s", dim.Name)
	}

	current := make(map[string]model.DimensionVersion, len(active))
	for _, v := range active {
		key, err := model.NormalizeKey(dim.KeyKind, v.NaturalKey)
		if err != nil {
			return res, eris.Wrapf(ErrInvariantViolation, "%s: active version %d has invalid key %q", dim.Name, v.SurrogateKey, v.NaturalKey)
		}
		if prev, dup := current[key]; dup {
			return res, eris.Wrapf(ErrInvariantViolation, "%s: key %s has active versions %d and %d",
				dim.Name, key, prev.SurrogateKey, v.SurrogateKey)
		}
		current[key] = v
	}

	var unique keyed[model.Member]
	for _, c := range candidates {
		unique.put(c.NaturalKey(), c)
	}

	var (
		fresh       []model.Member
		changed     []model.Member
		changedKeys []string
	)
	for _, c := range unique.rows {
		key := c.NaturalKey()
		v, ok := current[key]
		if !ok {
			fresh = append(fresh, c)
			continue
		}

		diff, err := trackedDiff(dim, c, v)
		if err != nil {
			return res, eris.Wrapf(err, "reconcile: compare %s %s", dim.Name, key)
		}
		if diff == "" {
			res.Unchanged++
			continue
		}
		log.Debug("tracked attribute changed", zap.String("key", key), zap.String("attribute", diff))
		changed = append(changed, c)
		changedKeys = append(changedKeys, key)
	}

	day := today(r.now())

	if len(fresh) > 0 {
		n, err := resilience.DoVal(ctx, r.retry("pipeline.reconcile", "append_members"), func(ctx context.Context) (int, error) {
			return r.store.AppendMembers(ctx, dim, fresh, day)
		})
		if err != nil {
			return res, eris.Wrapf(err, "reconcile: insert %s members", dim.Name)
		}
		res.Inserted += n
	}

	if len(changed) > 0 {
		var expired, inserted int
		err := resilience.Do(ctx, r.retry("pipeline.reconcile", "expire_and_insert"), func(ctx context.Context) error {
			var err error
			expired, inserted, err = r.store.ExpireAndInsert(ctx, dim, changedKeys, changed, day)
			return err
		})
		if errors.Is(err, warehouse.ErrExpireMismatch) {
			return res, eris.Wrapf(ErrInvariantViolation, "%s: %v", dim.Name, err)
		}
		if err != nil {
			return res, eris.Wrapf(err, "reconcile: expire and insert %s", dim.Name)
		}
		res.Expired += expired
		res.Inserted += inserted
	}

	log.Info("dimension reconciled",
		zap.Int("inserted", res.Inserted),
		zap.Int("expired", res.Expired),
		zap.Int("unchanged", res.Unchanged),
	)
	return res, nil
}

// trackedDiff returns the first tracked attribute whose canonical value
// differs between candidate and active version, or "".
func trackedDiff(dim model.Dimension, c model.Member, v model.DimensionVersion) (string, error) {
	values := c.Values()
	for i, attr := range dim.Attributes {
		if !attr.Tracked {
			continue
		}
		if i >= len(values) || i >= len(v.Values) {
			return "", eris.Errorf("attribute %s out of range", attr.Column)
		}
		want, err := model.Canonical(attr.Kind, values[i])
		if err != nil {
			return "", err
		}
		have, err := model.Canonical(attr.Kind, v.Values[i])
		if err != nil {
			return "", err
		}
		if want != have {
			return attr.Column, nil
		}
	}
	return "", nil
}
