package pipeline

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/sales-warehouse/internal/model"
)

// projector accumulates cleaned rows into candidate tables. Members are
// kept in first-seen order and overwritten by later rows with the same key.
type projector struct {
	dates   keyed[model.DateMember]
	stores  keyed[model.StoreMember]
	items   keyed[model.ItemMember]
	vendors keyed[model.VendorMember]
	facts   []model.FactCandidate
}

type keyed[T any] struct {
	index map[string]int
	rows  []T
}

func (k *keyed[T]) put(key string, v T) {
	if k.index == nil {
		k.index = make(map[string]int)
	}
	if i, ok := k.index[key]; ok {
		k.rows[i] = v
		return
	}
	k.index[key] = len(k.rows)
	k.rows = append(k.rows, v)
}

func newProjector() *projector {
	return &projector{}
}

// add parses rec and projects it. Nothing is recorded when parsing fails.
func (p *projector) add(rec *model.StagingRecord) error {
	date, err := model.ParseDate(rec.Date)
	if err != nil {
		return err
	}
	storeID, err := model.NormalizeKey(model.KindText, rec.Store)
	if err != nil {
		return eris.Wrap(err, "store")
	}
	itemNo, err := model.NormalizeKey(model.KindText, rec.ItemNo)
	if err != nil {
		return eris.Wrap(err, "itemno")
	}
	vendorNo, err := model.NormalizeKey(model.KindText, rec.VendorNo)
	if err != nil {
		return eris.Wrap(err, "vendor_no")
	}

	pack, err := parseWhole(rec.Pack)
	if err != nil {
		return eris.Wrap(err, "pack")
	}
	volume, err := parseWhole(rec.BottleVolumeML)
	if err != nil {
		return eris.Wrap(err, "bottle_volume_ml")
	}

	nums := []struct {
		col string
		raw string
	}{
		{model.ColStateBottleCost, rec.StateBottleCost},
		{model.ColStateBottleRetail, rec.StateBottleRetail},
		{model.ColSaleBottles, rec.SaleBottles},
		{model.ColSaleDollars, rec.SaleDollars},
		{model.ColSaleLiters, rec.SaleLiters},
		{model.ColSaleGallons, rec.SaleGallons},
	}
	parsed := make(map[string]decimal.Decimal, len(nums))
	for _, n := range nums {
		d, err := parseDecimal(n.raw)
		if err != nil {
			return eris.Wrap(err, n.col)
		}
		parsed[n.col] = d
	}

	cost := parsed[model.ColStateBottleCost]
	retail := parsed[model.ColStateBottleRetail]

	dm := model.NewDateMember(date)
	p.dates.put(dm.NaturalKey(), dm)

	p.stores.put(storeID, model.StoreMember{
		StoreID:      storeID,
		Address:      cleanText(rec.Address),
		City:         cleanText(rec.City),
		Zipcode:      canonicalCode(rec.Zipcode),
		CountyNumber: canonicalCode(rec.CountyNumber),
		County:       cleanText(rec.County),
	})

	p.items.put(itemNo, model.ItemMember{
		ItemNo:            itemNo,
		Description:       cleanText(rec.ImDesc),
		Category:          canonicalCode(rec.Category),
		CategoryName:      cleanText(rec.CategoryName),
		Pack:              pack,
		BottleVolumeML:    volume,
		StateBottleCost:   cost.Round(model.DecimalScale),
		StateBottleRetail: retail.Round(model.DecimalScale),
	})

	p.vendors.put(vendorNo, model.VendorMember{
		VendorNo:   vendorNo,
		VendorName: cleanText(rec.VendorName),
	})

	p.facts = append(p.facts, model.FactCandidate{
		InvoiceLineNo: cleanText(rec.InvoiceLineNo),
		Date:          dm.NaturalKey(),
		StoreID:       storeID,
		ItemNo:        itemNo,
		VendorNo:      vendorNo,
		Metrics: computeMetrics(
			parsed[model.ColSaleDollars],
			cost,
			retail,
			parsed[model.ColSaleBottles],
			parsed[model.ColSaleLiters],
		),
		ProcessedTimestamp: rec.IngestedAt,
		SourceFile:         rec.FileName,
		SourceRow:          rec.SourceRow,
	})
	return nil
}

func (p *projector) bundle() *Bundle {
	return &Bundle{
		Dates:   p.dates.rows,
		Stores:  p.stores.rows,
		Items:   p.items.rows,
		Vendors: p.vendors.rows,
		Facts:   p.facts,
	}
}
