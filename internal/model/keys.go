package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// DateLayout is the canonical text form of calendar dates.
const DateLayout = "2006-01-02"

// DecimalScale is the number of fractional digits kept for decimal attributes.
const DecimalScale = 2

// ErrEmptyKey is returned when a natural key is blank.
var ErrEmptyKey = eris.New("model: empty natural key")

// dateLayouts are the accepted source date formats, most common first.
var dateLayouts = []string{
	DateLayout,
	"01/02/2006",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05.999999999-07:00",
}

// ParseDate parses s using the accepted source layouts and returns the UTC
// calendar date at midnight.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, eris.Errorf("model: unparseable date %q", s)
}

// NormalizeKey returns the canonical text form of a natural key so that keys
// read from files and keys read from the warehouse compare equal. Integral
// numerics lose leading zeros and trailing ".0" ("0101", "101.0" -> "101");
// dates become YYYY-MM-DD; anything else is trimmed.
func NormalizeKey(kind AttrKind, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmptyKey
	}

	if kind == KindDate {
		t, err := ParseDate(s)
		if err != nil {
			return "", err
		}
		return t.Format(DateLayout), nil
	}

	if d, err := decimal.NewFromString(s); err == nil && d.IsInteger() {
		return d.Truncate(0).String(), nil
	}
	return s, nil
}

// Canonical renders v as the text used for attribute equality. Values that
// arrive typed (from candidates) and values read back as text (from the
// warehouse) produce the same string for the same logical value.
func Canonical(kind AttrKind, v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return canonicalText(kind, val)
	case *string:
		if val == nil {
			return "", nil
		}
		return canonicalText(kind, *val)
	case []byte:
		return canonicalText(kind, string(val))
	case int:
		return canonicalDecimal(kind, decimal.NewFromInt(int64(val))), nil
	case int32:
		return canonicalDecimal(kind, decimal.NewFromInt32(val)), nil
	case int64:
		return canonicalDecimal(kind, decimal.NewFromInt(val)), nil
	case float64:
		return canonicalDecimal(kind, decimal.NewFromFloat(val)), nil
	case decimal.Decimal:
		return canonicalDecimal(kind, val), nil
	case time.Time:
		return val.UTC().Format(DateLayout), nil
	default:
		return canonicalText(kind, fmt.Sprint(val))
	}
}

func canonicalText(kind AttrKind, s string) (string, error) {
	switch kind {
	case KindInt, KindDecimal:
		if strings.TrimSpace(s) == "" {
			return "", nil
		}
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return "", eris.Wrapf(err, "model: canonical %s %q", kind, s)
		}
		return canonicalDecimal(kind, d), nil
	case KindDate:
		if strings.TrimSpace(s) == "" {
			return "", nil
		}
		t, err := ParseDate(s)
		if err != nil {
			return "", err
		}
		return t.Format(DateLayout), nil
	default:
		return s, nil
	}
}

func canonicalDecimal(kind AttrKind, d decimal.Decimal) string {
	if kind == KindInt {
		return strconv.FormatInt(d.IntPart(), 10)
	}
	return d.StringFixed(DecimalScale)
}
