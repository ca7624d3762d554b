package pipeline

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/sales-warehouse/internal/model"
)

var hundred = decimal.NewFromInt(100)

// cleanText trims s and applies Unicode NFC normalization.
func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// parseDecimal parses a numeric column. Thousands separators and a leading
// dollar sign are tolerated.
func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "parse decimal %q", s)
	}
	return d, nil
}

// parseWhole parses an integral numeric column. "750.0" is accepted, "750.5" is not.
func parseWhole(s string) (int64, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, eris.Errorf("parse integer %q: fractional value", s)
	}
	return d.IntPart(), nil
}

// canonicalCode renders numeric codes such as category or county number
// without a trailing ".0"; other text is cleaned.
func canonicalCode(s string) string {
	s = cleanText(s)
	if s == model.UnknownValue {
		return s
	}
	if k, err := model.NormalizeKey(model.KindText, s); err == nil {
		return k
	}
	return s
}

// computeMetrics derives the fact measures. Every division is guarded and
// results are rounded half away from zero to two places.
func computeMetrics(saleDollars, bottleCost, bottleRetail, bottles, liters decimal.Decimal) model.Metrics {
	m := model.Metrics{
		Revenue:                 saleDollars.Round(model.DecimalScale),
		Cost:                    bottleCost.Mul(bottles).Round(model.DecimalScale),
		Profit:                  bottleRetail.Sub(bottleCost).Mul(bottles).Round(model.DecimalScale),
		TotalBottlesSold:        bottles.Round(model.DecimalScale),
		TotalVolumeSoldInLiters: liters.Round(model.DecimalScale),
		ProfitMargin:            decimal.Zero,
		AverageBottlePrice:      decimal.Zero,
		VolumePerBottleSold:     decimal.Zero,
	}

	if saleDollars.IsPositive() {
		profit := bottleRetail.Sub(bottleCost).Mul(bottles)
		m.ProfitMargin = profit.Mul(hundred).DivRound(saleDollars, model.DecimalScale)
	}
	if bottles.IsPositive() {
		m.AverageBottlePrice = saleDollars.DivRound(bottles, model.DecimalScale)
		m.VolumePerBottleSold = liters.DivRound(bottles, model.DecimalScale)
	}
	return m
}
