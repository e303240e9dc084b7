package orderbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/predikt/pkg/fxp"
)

// Type is the side an order rests on.
type Type int8

const (
	Buy  Type = 1
	Sell Type = 2
)

func (t Type) String() string {
	switch t {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side a taker of this type trades against.
func (t Type) Opposite() Type {
	if t == Buy {
		return Sell
	}
	return Buy
}

func (t Type) Valid() bool { return t == Buy || t == Sell }

func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid order type %d", t)
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "buy", "bid":
		*t = Buy
	case "sell", "ask":
		*t = Sell
	default:
		return fmt.Errorf("invalid order type %q", string(b))
	}
	return nil
}

// Order is a resting order as reported by the ledger. Orders are values:
// reducing one yields a new Order.
type Order struct {
	ID      string         `json:"id"`
	Type    Type           `json:"type"`
	Market  string         `json:"market,omitempty"`
	Outcome string         `json:"outcome"`
	Owner   common.Address `json:"owner"`
	Block   uint64         `json:"block,omitempty"`

	// Amount and Price are display values; the FullPrecision fields carry
	// the exact ledger values when they differ.
	Amount              fxp.Decimal `json:"amount"`
	Price               fxp.Decimal `json:"price"`
	FullPrecisionAmount fxp.Decimal `json:"fullPrecisionAmount"`
	FullPrecisionPrice  fxp.Decimal `json:"fullPrecisionPrice"`
}

// ExactAmount is the full precision amount, falling back to Amount.
func (o Order) ExactAmount() fxp.Decimal {
	if o.FullPrecisionAmount.IsZero() {
		return o.Amount
	}
	return o.FullPrecisionAmount
}

// ExactPrice is the full precision price, falling back to Price.
func (o Order) ExactPrice() fxp.Decimal {
	if o.FullPrecisionPrice.IsZero() {
		return o.Price
	}
	return o.FullPrecisionPrice
}

// Reduce returns the order left after filling amount shares of it. ok is
// false when nothing is left.
func (o Order) Reduce(amount fxp.Decimal) (rest Order, ok bool) {
	left := o.ExactAmount().Sub(amount)
	if !left.IsPositive() {
		return Order{}, false
	}
	rest = o
	rest.FullPrecisionAmount = left
	rest.Amount = o.Amount.Sub(amount)
	if rest.Amount.IsNegative() {
		rest.Amount = fxp.Zero
	}
	return rest, true
}

// Validate checks the fields every consumer relies on.
func (o Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("order has no id")
	}
	if !o.Type.Valid() {
		return fmt.Errorf("order %s: invalid type %d", o.ID, o.Type)
	}
	if o.Outcome == "" {
		return fmt.Errorf("order %s: missing outcome", o.ID)
	}
	if !o.ExactAmount().IsPositive() {
		return fmt.Errorf("order %s: amount must be positive", o.ID)
	}
	if o.ExactPrice().IsNegative() {
		return fmt.Errorf("order %s: negative price", o.ID)
	}
	return nil
}
