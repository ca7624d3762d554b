package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Metrics are the derived per-sale measures.
type Metrics struct {
	Revenue                 decimal.Decimal `json:"revenue"`
	Profit                  decimal.Decimal `json:"profit"`
	Cost                    decimal.Decimal `json:"cost"`
	TotalBottlesSold        decimal.Decimal `json:"total_bottles_sold"`
	TotalVolumeSoldInLiters decimal.Decimal `json:"total_volume_sold_in_liters"`
	ProfitMargin            decimal.Decimal `json:"profit_margin"`
	AverageBottlePrice      decimal.Decimal `json:"average_bottle_price"`
	VolumePerBottleSold     decimal.Decimal `json:"volume_per_bottle_sold"`
}

// FactCandidate is a cleaned sale still referencing natural keys.
type FactCandidate struct {
	InvoiceLineNo      string    `json:"invoice_line_no"`
	Date               string    `json:"date"`
	StoreID            string    `json:"store"`
	ItemNo             string    `json:"itemno"`
	VendorNo           string    `json:"vendor_no"`
	Metrics            Metrics   `json:"metrics"`
	ProcessedTimestamp time.Time `json:"processed_timestamp"`
	SourceFile         string    `json:"source_file"`
	SourceRow          int       `json:"source_row"`
}

// NaturalKey returns the candidate's natural key for the named dimension.
func (c FactCandidate) NaturalKey(dim string) string {
	switch dim {
	case DimDate:
		return c.Date
	case DimStore:
		return c.StoreID
	case DimItem:
		return c.ItemNo
	case DimVendor:
		return c.VendorNo
	default:
		return ""
	}
}

// SalesFact is a fact row resolved to surrogate keys.
type SalesFact struct {
	InvoiceLineNo      string    `json:"invoice_line_no"`
	StoreID            string    `json:"store"`
	DateKey            int64     `json:"date_key"`
	StoreKey           int64     `json:"store_key"`
	ItemKey            int64     `json:"item_key"`
	VendorKey          int64     `json:"vendor_key"`
	Metrics            Metrics   `json:"metrics"`
	ProcessedTimestamp time.Time `json:"processed_timestamp"`
}

// FactColumns are the persisted sales_fact columns, excluding the row id.
var FactColumns = []string{
	"invoice_line_no", "store", "date_key", "store_key", "item_key", "vendor_key",
	"revenue", "profit", "cost", "total_bottles_sold", "total_volume_sold_in_liters",
	"profit_margin", "average_bottle_price", "volume_per_bottle_sold", "processed_timestamp",
}

// Values returns the fact in FactColumns order. Decimals are left typed so
// each backend can encode them.
func (f SalesFact) Values() []any {
	m := f.Metrics
	return []any{
		f.InvoiceLineNo, f.StoreID, f.DateKey, f.StoreKey, f.ItemKey, f.VendorKey,
		m.Revenue, m.Profit, m.Cost, m.TotalBottlesSold, m.TotalVolumeSoldInLiters,
		m.ProfitMargin, m.AverageBottlePrice, m.VolumePerBottleSold, f.ProcessedTimestamp,
	}
}
