package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Member is a typed dimension candidate row.
type Member interface {
	// NaturalKey returns the canonical natural key (see NormalizeKey).
	NaturalKey() string
	// Values returns attribute values in the dimension's Attributes order.
	Values() []any
}

// DateMember is a calendar-date dimension candidate.
type DateMember struct {
	Date    time.Time
	Year    int
	Month   int
	Day     int
	Quarter int
	Weekday string
}

// NewDateMember derives the calendar attributes of d.
func NewDateMember(d time.Time) DateMember {
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return DateMember{
		Date:    d,
		Year:    d.Year(),
		Month:   int(d.Month()),
		Day:     d.Day(),
		Quarter: (int(d.Month())-1)/3 + 1,
		Weekday: d.Weekday().String(),
	}
}

func (m DateMember) NaturalKey() string { return m.Date.Format(DateLayout) }

func (m DateMember) Values() []any {
	return []any{int64(m.Year), int64(m.Month), int64(m.Day), int64(m.Quarter), m.Weekday}
}

// StoreMember is a store dimension candidate.
type StoreMember struct {
	StoreID      string
	Address      string
	City         string
	Zipcode      string
	CountyNumber string
	County       string
}

func (m StoreMember) NaturalKey() string { return m.StoreID }

func (m StoreMember) Values() []any {
	return []any{m.Address, m.City, m.Zipcode, m.CountyNumber, m.County}
}

// ItemMember is an item dimension candidate.
type ItemMember struct {
	ItemNo            string
	Description       string
	Category          string
	CategoryName      string
	Pack              int64
	BottleVolumeML    int64
	StateBottleCost   decimal.Decimal
	StateBottleRetail decimal.Decimal
}

func (m ItemMember) NaturalKey() string { return m.ItemNo }

func (m ItemMember) Values() []any {
	return []any{m.Description, m.Category, m.CategoryName, m.Pack, m.BottleVolumeML, m.StateBottleCost, m.StateBottleRetail}
}

// VendorMember is a vendor dimension candidate.
type VendorMember struct {
	VendorNo   string
	VendorName string
}

func (m VendorMember) NaturalKey() string { return m.VendorNo }

func (m VendorMember) Values() []any { return []any{m.VendorName} }
