// Package fxp implements the number model shared by the matcher, the execution
// engine and the settlement adapter: an arbitrary precision Decimal for every
// user-facing amount and the ledger's 2^64 fixed-point integers.
package fxp

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places Mul and Div keep. It is finer than
// the ledger resolution of 2^-64.
const Places = 20

// ErrInvalidNumber is returned for unparsable or non-finite input and for
// division by zero.
var ErrInvalidNumber = errors.New("invalid number")

var placesScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Places), nil)

// Decimal is a signed arbitrary precision decimal. The zero value is 0.
type Decimal struct {
	d decimal.Decimal
}

var Zero = Decimal{}

func New(v int64) Decimal {
	return Decimal{d: decimal.NewFromInt(v)}
}

// NewFromBigInt returns v * 10^exp.
func NewFromBigInt(v *big.Int, exp int32) Decimal {
	return Decimal{d: decimal.NewFromBigInt(v, exp)}
}

// Parse reads a decimal string such as "0.6" or "-1.25e3".
func Parse(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("%w: empty string", ErrInvalidNumber)
	}
	switch strings.ToLower(strings.TrimLeft(s, "+-")) {
	case "nan", "inf", "infinity":
		return Zero, fmt.Errorf("%w: %q is not finite", ErrInvalidNumber, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	return Decimal{d: d}, nil
}

// MustParse is Parse for constants. It panics on bad input.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (x Decimal) Add(y Decimal) Decimal { return Decimal{d: x.d.Add(y.d)} }
func (x Decimal) Sub(y Decimal) Decimal { return Decimal{d: x.d.Sub(y.d)} }
func (x Decimal) Neg() Decimal          { return Decimal{d: x.d.Neg()} }
func (x Decimal) Abs() Decimal          { return Decimal{d: x.d.Abs()} }

// Mul returns x*y floored to Places decimal places.
func (x Decimal) Mul(y Decimal) Decimal {
	return Decimal{d: x.d.Mul(y.d).RoundFloor(Places)}
}

// Div returns x/y floored to Places decimal places.
func (x Decimal) Div(y Decimal) (Decimal, error) {
	if y.IsZero() {
		return Zero, fmt.Errorf("%w: division by zero", ErrInvalidNumber)
	}
	q := new(big.Rat).Quo(x.d.Rat(), y.d.Rat())
	// Rat keeps the denominator positive, so Euclidean division floors.
	num := new(big.Int).Mul(q.Num(), placesScale)
	num.Div(num, q.Denom())
	return Decimal{d: decimal.NewFromBigInt(num, -Places)}, nil
}

// MulInt multiplies by an integer exactly.
func (x Decimal) MulInt(n int64) Decimal {
	return Decimal{d: x.d.Mul(decimal.NewFromInt(n))}
}

func (x Decimal) Floor() Decimal { return Decimal{d: x.d.Floor()} }

// Truncate drops digits past the given number of decimal places.
func (x Decimal) Truncate(places int32) Decimal { return Decimal{d: x.d.Truncate(places)} }

func (x Decimal) Cmp(y Decimal) int                 { return x.d.Cmp(y.d) }
func (x Decimal) Equal(y Decimal) bool              { return x.d.Equal(y.d) }
func (x Decimal) LessThan(y Decimal) bool           { return x.d.LessThan(y.d) }
func (x Decimal) LessThanOrEqual(y Decimal) bool    { return x.d.LessThanOrEqual(y.d) }
func (x Decimal) GreaterThan(y Decimal) bool        { return x.d.GreaterThan(y.d) }
func (x Decimal) GreaterThanOrEqual(y Decimal) bool { return x.d.GreaterThanOrEqual(y.d) }
func (x Decimal) IsZero() bool                      { return x.d.IsZero() }
func (x Decimal) IsPositive() bool                  { return x.d.IsPositive() }
func (x Decimal) IsNegative() bool                  { return x.d.IsNegative() }
func (x Decimal) Sign() int                         { return x.d.Sign() }
func (x Decimal) String() string                    { return x.d.String() }
func (x Decimal) StringFixed(places int32) string   { return x.d.StringFixed(places) }

// Min returns the smallest of its arguments.
func Min(first Decimal, rest ...Decimal) Decimal {
	m := first
	for _, v := range rest {
		if v.LessThan(m) {
			m = v
		}
	}
	return m
}

// Max returns the largest of its arguments.
func Max(first Decimal, rest ...Decimal) Decimal {
	m := first
	for _, v := range rest {
		if v.GreaterThan(m) {
			m = v
		}
	}
	return m
}

// MarshalJSON encodes the value as a JSON string so clients never round it
// through a float.
func (x Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + x.d.String() + `"`), nil
}

func (x *Decimal) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*x = Zero
		return nil
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}
