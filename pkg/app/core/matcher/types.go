package matcher

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/predikt/pkg/app/core/orderbook"
	"github.com/uhyunpark/predikt/pkg/fxp"
)

var (
	ErrInvalidTrade = errors.New("invalid trade")

	// ErrNoCounterparty marks a market order that could not be fully matched.
	// It is informational; the unmatched shares still get a resting action.
	ErrNoCounterparty = errors.New("no counterparty")
)

// Kind is the concrete action a trade intent decomposes into.
type Kind string

const (
	Buy            Kind = "BUY"
	Sell           Kind = "SELL"
	ShortSell      Kind = "SHORT_SELL"
	Bid            Kind = "BID"
	Ask            Kind = "ASK"
	ShortAsk       Kind = "SHORT_ASK"
	ShortSellRisky Kind = "SHORT_SELL_RISKY"
)

// Resting reports whether the action places an order on the book instead of
// taking one.
func (k Kind) Resting() bool {
	switch k {
	case Bid, Ask, ShortAsk, ShortSellRisky:
		return true
	}
	return false
}

// outflow reports whether the trader pays the action's cost. Shorts lock
// collateral, so they are outflows even though they sell.
func (k Kind) outflow() bool {
	switch k {
	case Buy, Bid, ShortSell, ShortAsk, ShortSellRisky:
		return true
	}
	return false
}

// TradeAction is one step of a classified trade.
type TradeAction struct {
	Action     Kind        `json:"action"`
	Shares     fxp.Decimal `json:"shares"`
	FeeEth     fxp.Decimal `json:"feeEth"`
	FeePercent fxp.Decimal `json:"feePercent"`
	CostEth    fxp.Decimal `json:"costEth"`
	AvgPrice   fxp.Decimal `json:"avgPrice"`
	NoFeePrice fxp.Decimal `json:"noFeePrice"`
	GasEth     fxp.Decimal `json:"gasEth"`
}

// CashFlow is the signed cash effect of the action excluding gas: negative
// when the trader pays.
func (a TradeAction) CashFlow() fxp.Decimal {
	if a.Action.outflow() {
		return a.CostEth.Add(a.FeeEth).Neg()
	}
	return a.CostEth.Sub(a.FeeEth)
}

// Fees are a market's fee rates as fractions of notional.
type Fees struct {
	Maker fxp.Decimal `json:"maker"`
	Taker fxp.Decimal `json:"taker"`
}

var one = fxp.New(1)

// Validate checks that each rate and their sum lie in [0, 1).
func (f Fees) Validate() error {
	if f.Maker.IsNegative() || f.Taker.IsNegative() {
		return fmt.Errorf("%w: negative fee: %w", ErrInvalidTrade, fxp.ErrInvalidNumber)
	}
	if f.Maker.GreaterThanOrEqual(one) || f.Taker.GreaterThanOrEqual(one) || f.TradingFee().GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: fees %s/%s must total less than 1", ErrInvalidTrade, f.Maker, f.Taker)
	}
	return nil
}

// ScalarRange bounds a scalar market's outcome value.
type ScalarRange struct {
	Min fxp.Decimal `json:"min"`
	Max fxp.Decimal `json:"max"`
}

// shrink maps a quoted scalar price onto [0, max-min].
func (r ScalarRange) shrink(p fxp.Decimal) fxp.Decimal { return p.Sub(r.Min) }

// complement is a short seller's cost per share at quoted price p.
func (r ScalarRange) complement(p fxp.Decimal) fxp.Decimal { return r.Max.Sub(p) }

// Trade is the user's intent.
type Trade struct {
	Side   orderbook.Type `json:"side"`
	Shares fxp.Decimal    `json:"shares"`
	// LimitPrice is nil for a market order.
	LimitPrice   *fxp.Decimal   `json:"limitPrice,omitempty"`
	Fees         Fees           `json:"fees"`
	UserPosition fxp.Decimal    `json:"userPosition"`
	UserID       common.Address `json:"userId"`
	Outcome      string         `json:"outcome"`
	Scalar       *ScalarRange   `json:"scalar,omitempty"`
}

func (t Trade) IsMarketOrder() bool { return t.LimitPrice == nil }

// Validate rejects intents the matcher cannot classify.
func (t Trade) Validate() error {
	if !t.Side.Valid() {
		return fmt.Errorf("%w: side %d", ErrInvalidTrade, t.Side)
	}
	if t.Outcome == "" {
		return fmt.Errorf("%w: missing outcome", ErrInvalidTrade)
	}
	if !t.Shares.IsPositive() {
		return fmt.Errorf("%w: shares must be positive: %w", ErrInvalidTrade, fxp.ErrInvalidNumber)
	}
	if t.UserPosition.IsNegative() {
		return fmt.Errorf("%w: negative position: %w", ErrInvalidTrade, fxp.ErrInvalidNumber)
	}
	if err := t.Fees.Validate(); err != nil {
		return err
	}
	if t.LimitPrice == nil {
		return nil
	}
	limit := *t.LimitPrice
	if t.Scalar != nil {
		if limit.LessThan(t.Scalar.Min) || limit.GreaterThan(t.Scalar.Max) {
			return fmt.Errorf("%w: limit %s outside [%s, %s]", ErrInvalidTrade, limit, t.Scalar.Min, t.Scalar.Max)
		}
	} else if limit.IsNegative() {
		return fmt.Errorf("%w: negative limit price: %w", ErrInvalidTrade, fxp.ErrInvalidNumber)
	}
	return nil
}

// Totals summarise a classification.
type Totals struct {
	Side        orderbook.Type `json:"side"`
	Shares      fxp.Decimal    `json:"shares"`
	LimitPrice  *fxp.Decimal   `json:"limitPrice,omitempty"`
	TotalCost   fxp.Decimal    `json:"totalCost"`
	CashFlow    fxp.Decimal    `json:"cashFlow"`
	TradingFees fxp.Decimal    `json:"tradingFees"`
	GasFees     fxp.Decimal    `json:"gasFees"`
	FeePercent  fxp.Decimal    `json:"feePercent"`
}

// Classification is the matcher's answer for one trade intent.
type Classification struct {
	Actions []TradeAction `json:"actions"`
	Totals  Totals        `json:"totals"`
	// NoCounterparty is set when a market order left shares unmatched.
	NoCounterparty bool `json:"noCounterparty"`
}

// Err returns ErrNoCounterparty when the book could not absorb a market
// order.
func (c Classification) Err() error {
	if c.NoCounterparty {
		return fmt.Errorf("%w: %s of %s shares unmatched", ErrNoCounterparty, c.unmatched(), c.Totals.Shares)
	}
	return nil
}

func (c Classification) unmatched() fxp.Decimal {
	var n fxp.Decimal
	for _, a := range c.Actions {
		if a.Action.Resting() {
			n = n.Add(a.Shares)
		}
	}
	return n
}
