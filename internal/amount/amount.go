// Package amount provides the exact decimal quantity used for every doint
// balance, fee and payout, together with the rounding modes the ledger
// applies when converting rates into money.
package amount

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// CentPlaces is the number of decimal places a doint is displayed with.
// One hundredth of a doint is a dent.
const CentPlaces = 2

// MaxRate is the largest rate accepted in tenths of a percent (100%).
const MaxRate = 1000

var (
	// Zero is the zero amount.
	Zero = Amount{}
	// One is one whole doint, the minimum unit charged or paid by batch jobs.
	One = New(1)
)

// ErrInvalidAmount is returned when a textual amount cannot be parsed.
var ErrInvalidAmount = errors.New("amount: invalid decimal")

const (
	// MaxTextLen bounds the textual form of an amount.
	MaxTextLen = 40
	// MaxFractionDigits bounds the digits after the decimal point.
	MaxFractionDigits = 8
)

// plainDecimal admits signed positional notation with at most
// MaxFractionDigits decimals. Exponent forms such as "1e-9" are refused.
var plainDecimal = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]{1,8})?$`)

// Amount is an arbitrary precision decimal quantity of doints.
// The zero value is a valid zero amount.
type Amount struct {
	d decimal.Decimal
}

// New returns an amount of whole doints.
func New(units int64) Amount {
	return Amount{d: decimal.NewFromInt(units)}
}

// FromCents returns an amount of dents.
func FromCents(cents int64) Amount {
	return Amount{d: decimal.New(cents, -CentPlaces)}
}

// FromDecimal wraps an existing decimal.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount{d: d}
}

// Parse reads a plain decimal string such as "12.50". It accepts at most
// MaxFractionDigits decimals and MaxTextLen characters, and no exponent.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	if len(s) > MaxTextLen {
		return Zero, fmt.Errorf("%w: longer than %d characters", ErrInvalidAmount, MaxTextLen)
	}
	if !plainDecimal.MatchString(s) {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{d: d}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Decimal exposes the underlying decimal value.
func (a Amount) Decimal() decimal.Decimal { return a.d }

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }
func (a Amount) Neg() Amount         { return Amount{d: a.d.Neg()} }

// MulInt multiplies by a whole count, e.g. a per-head share by a population.
func (a Amount) MulInt(n int64) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromInt(n))}
}

// DivInt divides by a whole count. The quotient is not rounded to cents;
// callers pick a rounding mode explicitly.
func (a Amount) DivInt(n int64) Amount {
	return Amount{d: a.d.Div(decimal.NewFromInt(n))}
}

// Scale multiplies by a ratio produced by RateToRatio.
func (a Amount) Scale(r Ratio) Amount {
	return Amount{d: a.d.Mul(r.d)}
}

func (a Amount) Cmp(b Amount) int          { return a.d.Cmp(b.d) }
func (a Amount) Equal(b Amount) bool       { return a.d.Equal(b.d) }
func (a Amount) LessThan(b Amount) bool    { return a.d.LessThan(b.d) }
func (a Amount) GreaterThan(b Amount) bool { return a.d.GreaterThan(b.d) }
func (a Amount) IsZero() bool              { return a.d.IsZero() }
func (a Amount) IsPositive() bool          { return a.d.IsPositive() }
func (a Amount) IsNegative() bool          { return a.d.IsNegative() }

// String renders the exact value without trailing zero padding.
func (a Amount) String() string { return a.d.String() }

// StringFixed renders the value rounded half-up to two decimal places.
func (a Amount) StringFixed() string { return a.d.StringFixed(CentPlaces) }

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Sum adds up a list of amounts.
func Sum(as ...Amount) Amount {
	total := Zero
	for _, a := range as {
		total = total.Add(a)
	}
	return total
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.d.String())
}

// UnmarshalJSON accepts both quoted strings and bare JSON numbers.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value stores the amount as its exact decimal text.
func (a Amount) Value() (driver.Value, error) {
	return a.d.String(), nil
}

// Scan reads an amount from TEXT, NUMERIC or integer columns.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Zero
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case int64:
		*a = New(v)
		return nil
	case float64:
		*a = Amount{d: decimal.NewFromFloat(v)}
		return nil
	default:
		return fmt.Errorf("amount: cannot scan %T", src)
	}
}
