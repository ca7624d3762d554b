package source

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sales-warehouse/internal/model"
)

// ErrMissingColumns is returned when a header lacks required columns.
var ErrMissingColumns = eris.New("source: header missing required columns")

// headerAliases maps the column titles of the portal's CSV export to the
// API column names.
var headerAliases = map[string]string{
	"invoice/item number":   model.ColInvoiceLineNo,
	"store number":          model.ColStore,
	"store name":            model.ColName,
	"zip code":              model.ColZipcode,
	"store location":        model.ColStoreLocation,
	"county number":         model.ColCountyNumber,
	"category name":         model.ColCategoryName,
	"vendor number":         model.ColVendorNo,
	"vendor name":           model.ColVendorName,
	"item number":           model.ColItemNo,
	"item description":      model.ColImDesc,
	"bottle volume (ml)":    model.ColBottleVolumeML,
	"state bottle cost":     model.ColStateBottleCost,
	"state bottle retail":   model.ColStateBottleRetail,
	"bottles sold":          model.ColSaleBottles,
	"sale (dollars)":        model.ColSaleDollars,
	"volume sold (liters)":  model.ColSaleLiters,
	"volume sold (gallons)": model.ColSaleGallons,
}

// Header maps source column names to positions in a CSV record.
type Header map[string]int

// MapHeader normalizes header names and checks that every source column
// except the optional ones is present. Unknown columns are ignored.
func MapHeader(header []string) (Header, error) {
	h := make(Header, len(header))
	for i, raw := range header {
		name := normalizeColumn(raw)
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}

	var missing []string
	for _, col := range model.SourceColumns {
		if _, ok := h[col]; ok || isOptional(col) {
			continue
		}
		missing = append(missing, col)
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrMissingColumns, "missing %s", strings.Join(missing, ", "))
	}
	return h, nil
}

// Record builds a staging record from a CSV row. Short rows yield empty
// trailing fields.
func (h Header) Record(row []string) model.StagingRecord {
	var rec model.StagingRecord
	fields := rec.Fields()
	for i, col := range model.SourceColumns {
		idx, ok := h[col]
		if !ok || idx >= len(row) {
			continue
		}
		*fields[i] = strings.TrimSpace(row[idx])
	}
	return rec
}

func normalizeColumn(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.Trim(strings.TrimSpace(s), `"`)
	return strings.ToLower(s)
}

func isOptional(col string) bool {
	for _, c := range model.OptionalColumns {
		if c == col {
			return true
		}
	}
	return false
}
