package model

import "time"

// AttrKind describes how a column is stored and compared.
type AttrKind int

const (
	KindText AttrKind = iota
	KindInt
	KindDecimal
	KindDate
)

// String returns the kind name used in logs.
func (k AttrKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindDecimal:
		return "decimal"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Attribute is one non-key column of a dimension. Only tracked attributes
// take part in change detection; untracked ones are carried on insert.
type Attribute struct {
	Column  string
	Kind    AttrKind
	Tracked bool
}

// Dimension describes one SCD2 dimension table.
type Dimension struct {
	Name            string
	Table           string
	KeyColumn       string
	KeyKind         AttrKind
	SurrogateColumn string
	Attributes      []Attribute
}

// AttributeColumns returns the attribute column names in definition order.
func (d Dimension) AttributeColumns() []string {
	cols := make([]string, len(d.Attributes))
	for i, a := range d.Attributes {
		cols[i] = a.Column
	}
	return cols
}

// InsertColumns returns the columns written for a new version, excluding the
// store-assigned surrogate key.
func (d Dimension) InsertColumns() []string {
	cols := make([]string, 0, len(d.Attributes)+4)
	cols = append(cols, d.KeyColumn)
	cols = append(cols, d.AttributeColumns()...)
	return append(cols, "start_date", "end_date", "is_active")
}

// DimensionVersion is a persisted dimension row as read back from the store.
// Values holds the text form of each attribute in Attributes order.
type DimensionVersion struct {
	SurrogateKey int64
	NaturalKey   string
	Values       []string
	StartDate    time.Time
	EndDate      *time.Time
	IsActive     bool
}

// KeyPair maps an active natural key to its surrogate key.
type KeyPair struct {
	NaturalKey   string
	SurrogateKey int64
}

// Dimension names, also used as diagnostics labels.
const (
	DimDate   = "date"
	DimStore  = "store"
	DimItem   = "item"
	DimVendor = "vendor"
)

var (
	DateDimension = Dimension{
		Name:            DimDate,
		Table:           "date_dim",
		KeyColumn:       "date",
		KeyKind:         KindDate,
		SurrogateColumn: "date_key",
		Attributes: []Attribute{
			{Column: "year", Kind: KindInt, Tracked: true},
			{Column: "month", Kind: KindInt, Tracked: true},
			{Column: "day", Kind: KindInt, Tracked: true},
			{Column: "quarter", Kind: KindInt, Tracked: true},
			{Column: "weekday", Kind: KindText, Tracked: true},
		},
	}

	StoreDimension = Dimension{
		Name:            DimStore,
		Table:           "store_dim",
		KeyColumn:       "store_id",
		KeyKind:         KindText,
		SurrogateColumn: "store_key",
		Attributes: []Attribute{
			{Column: "address", Kind: KindText, Tracked: true},
			{Column: "city", Kind: KindText, Tracked: true},
			{Column: "zipcode", Kind: KindText, Tracked: true},
			{Column: "county_number", Kind: KindText, Tracked: true},
			{Column: "county", Kind: KindText, Tracked: true},
		},
	}

	ItemDimension = Dimension{
		Name:            DimItem,
		Table:           "item_dim",
		KeyColumn:       "itemno",
		KeyKind:         KindText,
		SurrogateColumn: "item_key",
		Attributes: []Attribute{
			{Column: "im_desc", Kind: KindText},
			{Column: "category", Kind: KindText, Tracked: true},
			{Column: "category_name", Kind: KindText, Tracked: true},
			{Column: "pack", Kind: KindInt, Tracked: true},
			{Column: "bottle_volume_ml", Kind: KindInt, Tracked: true},
			{Column: "state_bottle_cost", Kind: KindDecimal, Tracked: true},
			{Column: "state_bottle_retail", Kind: KindDecimal, Tracked: true},
		},
	}

	VendorDimension = Dimension{
		Name:            DimVendor,
		Table:           "vendor_dim",
		KeyColumn:       "vendor_no",
		KeyKind:         KindText,
		SurrogateColumn: "vendor_key",
		Attributes: []Attribute{
			{Column: "vendor_name", Kind: KindText, Tracked: true},
		},
	}
)

// Dimensions returns every dimension in the fixed join order: date, store, item, vendor.
func Dimensions() []Dimension {
	return []Dimension{DateDimension, StoreDimension, ItemDimension, VendorDimension}
}
