package amount

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Ratio is a dimensionless multiplier derived from a rate setting.
type Ratio struct {
	d decimal.Decimal
}

var thousand = decimal.NewFromInt(MaxRate)

// RateToRatio converts a rate in tenths of a percent into an exact ratio:
// 10 becomes 0.01 and 1000 becomes 1.
func RateToRatio(rate int) Ratio {
	return Ratio{d: decimal.NewFromInt(int64(rate)).Div(thousand)}
}

func (r Ratio) String() string { return r.d.String() }

// Percent renders the ratio as a percentage with one decimal, e.g. "2.5%".
func (r Ratio) Percent() string {
	return r.d.Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
}

// RoundHalfUpToCent rounds to the nearest dent, halves away from zero.
// Used for the percentage part of transfer fees.
func (a Amount) RoundHalfUpToCent() Amount {
	return Amount{d: a.d.Round(CentPlaces)}
}

// FloorToCent rounds towards negative infinity to a whole dent.
// Used for per-head UBI shares.
func (a Amount) FloorToCent() Amount {
	return Amount{d: a.d.RoundFloor(CentPlaces)}
}

// CeilToCent rounds towards positive infinity to a whole dent.
// Used for tax charges.
func (a Amount) CeilToCent() Amount {
	return Amount{d: a.d.RoundCeil(CentPlaces)}
}

// ClampMinUnit raises the amount to one whole doint if it is smaller.
func (a Amount) ClampMinUnit() Amount {
	return Max(a, One)
}

// Style selects the separators used when displaying an amount.
type Style int

const (
	// American groups with commas and uses a decimal point: Đ1,234.50.
	American Style = iota
	// European groups with dots and uses a decimal comma: Đ1.234,50.
	European
)

// Display renders the amount for people in the American style.
func (a Amount) Display() string {
	return a.Format(American)
}

// Format renders the amount with the doint sign, grouped thousands and
// exactly two decimals.
func (a Amount) Format(style Style) string {
	group, point := ',', '.'
	if style == European {
		group, point = '.', ','
	}

	fixed := a.d.Abs().StringFixed(CentPlaces)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if a.d.Round(CentPlaces).IsNegative() {
		b.WriteByte('-')
	}
	b.WriteString("Đ")
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteRune(group)
		}
		b.WriteRune(c)
	}
	fmt.Fprintf(&b, "%c%s", point, frac)
	return b.String()
}
