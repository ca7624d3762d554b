package model

import "time"

// Source column names, in the order of the state sales export.
const (
	ColInvoiceLineNo     = "invoice_line_no"
	ColDate              = "date"
	ColStore             = "store"
	ColName              = "name"
	ColAddress           = "address"
	ColCity              = "city"
	ColZipcode           = "zipcode"
	ColStoreLocation     = "store_location"
	ColCountyNumber      = "county_number"
	ColCounty            = "county"
	ColCategory          = "category"
	ColCategoryName      = "category_name"
	ColVendorNo          = "vendor_no"
	ColVendorName        = "vendor_name"
	ColItemNo            = "itemno"
	ColImDesc            = "im_desc"
	ColPack              = "pack"
	ColBottleVolumeML    = "bottle_volume_ml"
	ColStateBottleCost   = "state_bottle_cost"
	ColStateBottleRetail = "state_bottle_retail"
	ColSaleBottles       = "sale_bottles"
	ColSaleDollars       = "sale_dollars"
	ColSaleLiters        = "sale_liters"
	ColSaleGallons       = "sale_gallons"
)

// SourceColumns lists every column staged from a source file.
var SourceColumns = []string{
	ColInvoiceLineNo, ColDate, ColStore, ColName, ColAddress, ColCity, ColZipcode,
	ColStoreLocation, ColCountyNumber, ColCounty, ColCategory, ColCategoryName,
	ColVendorNo, ColVendorName, ColItemNo, ColImDesc, ColPack, ColBottleVolumeML,
	ColStateBottleCost, ColStateBottleRetail, ColSaleBottles, ColSaleDollars,
	ColSaleLiters, ColSaleGallons,
}

// UnknownFillColumns are categorical columns filled with UnknownValue when empty.
var UnknownFillColumns = []string{
	ColAddress, ColCity, ColZipcode, ColCountyNumber, ColCounty, ColCategory, ColCategoryName,
}

// OptionalColumns may be empty without dropping the row.
var OptionalColumns = []string{ColStoreLocation}

// UnknownValue is the fill for empty categorical columns.
const UnknownValue = "Unknown"

// StagingRecord is one raw source row. Empty strings are nulls.
type StagingRecord struct {
	InvoiceLineNo     string `json:"invoice_line_no"`
	Date              string `json:"date"`
	Store             string `json:"store"`
	Name              string `json:"name"`
	Address           string `json:"address"`
	City              string `json:"city"`
	Zipcode           string `json:"zipcode"`
	StoreLocation     string `json:"store_location"`
	CountyNumber      string `json:"county_number"`
	County            string `json:"county"`
	Category          string `json:"category"`
	CategoryName      string `json:"category_name"`
	VendorNo          string `json:"vendor_no"`
	VendorName        string `json:"vendor_name"`
	ItemNo            string `json:"itemno"`
	ImDesc            string `json:"im_desc"`
	Pack              string `json:"pack"`
	BottleVolumeML    string `json:"bottle_volume_ml"`
	StateBottleCost   string `json:"state_bottle_cost"`
	StateBottleRetail string `json:"state_bottle_retail"`
	SaleBottles       string `json:"sale_bottles"`
	SaleDollars       string `json:"sale_dollars"`
	SaleLiters        string `json:"sale_liters"`
	SaleGallons       string `json:"sale_gallons"`

	FileName   string    `json:"file_name"`
	IngestedAt time.Time `json:"ingested_at"`
	SourceRow  int       `json:"source_row"`
}

// Fields returns pointers to the source fields in SourceColumns order.
func (r *StagingRecord) Fields() []*string {
	return []*string{
		&r.InvoiceLineNo, &r.Date, &r.Store, &r.Name, &r.Address, &r.City, &r.Zipcode,
		&r.StoreLocation, &r.CountyNumber, &r.County, &r.Category, &r.CategoryName,
		&r.VendorNo, &r.VendorName, &r.ItemNo, &r.ImDesc, &r.Pack, &r.BottleVolumeML,
		&r.StateBottleCost, &r.StateBottleRetail, &r.SaleBottles, &r.SaleDollars,
		&r.SaleLiters, &r.SaleGallons,
	}
}

// Field returns the value of the named source column.
func (r *StagingRecord) Field(col string) (string, bool) {
	for i, c := range SourceColumns {
		if c == col {
			return *r.Fields()[i], true
		}
	}
	return "", false
}

// StagingColumns are the persisted staging columns: source columns plus lineage.
func StagingColumns() []string {
	cols := make([]string, 0, len(SourceColumns)+3)
	cols = append(cols, SourceColumns...)
	return append(cols, "file_name", "ingested_at", "source_row")
}

// Less orders records by (ingested_at, file_name, source_row).
func (r *StagingRecord) Less(o *StagingRecord) bool {
	if !r.IngestedAt.Equal(o.IngestedAt) {
		return r.IngestedAt.Before(o.IngestedAt)
	}
	if r.FileName != o.FileName {
		return r.FileName < o.FileName
	}
	return r.SourceRow < o.SourceRow
}
