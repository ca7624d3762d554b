package pipeline

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/sales-warehouse/internal/model"
)

// Drop reasons reported by Clean.
const (
	DropDuplicate   = "duplicate"
	DropMissing     = "missing_value"
	DropUnparseable = "unparseable"
)

// Bundle is the cleaned output of one run: one candidate table per
// dimension plus the fact candidates.
type Bundle struct {
	Dates   []model.DateMember
	Stores  []model.StoreMember
	Items   []model.ItemMember
	Vendors []model.VendorMember
	Facts   []model.FactCandidate
}

// Members returns the candidates for the named dimension.
func (b *Bundle) Members(dim string) []model.Member {
	var out []model.Member
	switch dim {
	case model.DimDate:
		for _, m := range b.Dates {
			out = append(out, m)
		}
	case model.DimStore:
		for _, m := range b.Stores {
			out = append(out, m)
		}
	case model.DimItem:
		for _, m := range b.Items {
			out = append(out, m)
		}
	case model.DimVendor:
		for _, m := range b.Vendors {
			out = append(out, m)
		}
	}
	return out
}

// CleanStats counts rows through the cleaning stage.
type CleanStats struct {
	RowsIn      int            `json:"rows_in"`
	RowsCleaned int            `json:"rows_cleaned"`
	Dropped     map[string]int `json:"dropped"`
}

// Clean deduplicates, fills, parses and projects staging records. Records
// are processed in staging order; the first record wins for a duplicate
// (invoice_line_no, store) and the last record wins for a dimension member.
// It returns a nil bundle when no row survives.
func Clean(records []model.StagingRecord) (*Bundle, CleanStats) {
	log := zap.L().With(zap.String("component", "pipeline.clean"))

	stats := CleanStats{RowsIn: len(records), Dropped: map[string]int{}}

	ordered := make([]model.StagingRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Less(&ordered[j]) })

	p := newProjector()
	seen := make(map[string]struct{}, len(ordered))
	for i := range ordered {
		rec := &ordered[i]

		key := dedupKey(rec)
		if _, dup := seen[key]; dup {
			stats.Dropped[DropDuplicate]++
			continue
		}
		seen[key] = struct{}{}

		fillUnknown(rec)
		if col := firstMissing(rec); col != "" {
			stats.Dropped[DropMissing]++
			log.Debug("dropping row with missing value",
				zap.String("file", rec.FileName), zap.Int("row", rec.SourceRow), zap.String("column", col))
			continue
		}

		if err := p.add(rec); err != nil {
			stats.Dropped[DropUnparseable]++
			log.Debug("dropping unparseable row",
				zap.String("file", rec.FileName), zap.Int("row", rec.SourceRow), zap.Error(err))
			continue
		}
		stats.RowsCleaned++
	}

	log.Info("cleaning complete",
		zap.Int("rows_in", stats.RowsIn),
		zap.Int("rows_cleaned", stats.RowsCleaned),
		zap.Any("dropped", stats.Dropped),
	)

	if stats.RowsCleaned == 0 {
		return nil, stats
	}
	return p.bundle(), stats
}

func dedupKey(rec *model.StagingRecord) string {
	store := strings.TrimSpace(rec.Store)
	if k, err := model.NormalizeKey(model.KindText, store); err == nil {
		store = k
	}
	return strings.TrimSpace(rec.InvoiceLineNo) + "\x00" + store
}

func fillUnknown(rec *model.StagingRecord) {
	fields := rec.Fields()
	for i, col := range model.SourceColumns {
		if strings.TrimSpace(*fields[i]) != "" {
			continue
		}
		for _, fill := range model.UnknownFillColumns {
			if col == fill {
				*fields[i] = model.UnknownValue
				break
			}
		}
	}
}

// firstMissing returns the first required column that is empty.
func firstMissing(rec *model.StagingRecord) string {
	fields := rec.Fields()
	for i, col := range model.SourceColumns {
		if strings.TrimSpace(*fields[i]) != "" {
			continue
		}
		optional := false
		for _, o := range model.OptionalColumns {
			if col == o {
				optional = true
				break
			}
		}
		if !optional {
			return col
		}
	}
	return ""
}
