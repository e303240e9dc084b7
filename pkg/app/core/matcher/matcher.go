// Package matcher decomposes a trade intent into the concrete actions needed
// to carry it out against an order book snapshot, with cost, fee and gas
// estimates for each.
package matcher

import (
	"math/big"
	"sort"

	"github.com/uhyunpark/predikt/pkg/app/core/orderbook"
	"github.com/uhyunpark/predikt/pkg/fxp"
)

var binaryRange = ScalarRange{Min: fxp.Zero, Max: one}

type Matcher struct {
	gas GasParams
}

func New(gas GasParams) *Matcher {
	return &Matcher{gas: gas}
}

func (m *Matcher) Gas() GasParams { return m.gas }

// fill is one (partial) counter-order consumed by a trade.
type fill struct {
	order  orderbook.Order
	shares fxp.Decimal
}

// Candidates returns the orders a trade may match: the opposite side of the
// trade's outcome, not owned by the trader, price-compatible with the limit,
// best price first. The sort is stable so equal prices keep book order.
func Candidates(t Trade, book *orderbook.Book) []orderbook.Order {
	if book == nil {
		return nil
	}
	side := t.Side.Opposite()
	var out []orderbook.Order
	for _, o := range book.Orders(t.Outcome, side) {
		if o.Owner == t.UserID {
			continue
		}
		if !priceCompatible(t, o.ExactPrice()) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if side == orderbook.Sell {
			return out[i].ExactPrice().LessThan(out[j].ExactPrice())
		}
		return out[i].ExactPrice().GreaterThan(out[j].ExactPrice())
	})
	return out
}

func priceCompatible(t Trade, price fxp.Decimal) bool {
	if t.Scalar != nil && (price.LessThan(t.Scalar.Min) || price.GreaterThan(t.Scalar.Max)) {
		return false
	}
	if t.LimitPrice == nil {
		return true
	}
	if t.Side == orderbook.Buy {
		return price.LessThanOrEqual(*t.LimitPrice)
	}
	return price.GreaterThanOrEqual(*t.LimitPrice)
}

// take consumes candidates greedily until want shares are filled, returning
// the fills and what is left of the candidate list.
func take(candidates []orderbook.Order, want fxp.Decimal) ([]fill, []orderbook.Order) {
	var fills []fill
	for i, o := range candidates {
		if !want.IsPositive() {
			return fills, candidates[i:]
		}
		amount := o.ExactAmount()
		q := fxp.Min(amount, want)
		fills = append(fills, fill{order: o, shares: q})
		want = want.Sub(q)
		if rest, ok := o.Reduce(q); ok {
			left := make([]orderbook.Order, 0, len(candidates)-i)
			left = append(left, rest)
			return fills, append(left, candidates[i+1:]...)
		}
	}
	return fills, nil
}

// Classify turns a trade intent into actions. The shares of the returned
// actions always sum to t.Shares.
func (m *Matcher) Classify(t Trade, book *orderbook.Book) (Classification, error) {
	if err := t.Validate(); err != nil {
		return Classification{}, err
	}

	c := classifier{trade: t, rates: newRates(t.Fees), gas: m.gas}
	candidates := Candidates(t, book)
	if t.Side == orderbook.Buy {
		c.buy(candidates)
	} else {
		c.sell(candidates)
	}

	return Classification{
		Actions:        c.actions,
		Totals:         CalculateTradeTotals(t, c.actions),
		NoCounterparty: c.unpriced,
	}, nil
}

type classifier struct {
	trade   Trade
	rates   rates
	gas     GasParams
	actions []TradeAction
	// unpriced is set when a market order had to rest shares.
	unpriced bool
}

func (c *classifier) buy(asks []orderbook.Order) {
	remaining := c.trade.Shares
	if len(asks) > 0 {
		fills, _ := take(asks, remaining)
		a := c.matched(Buy, fills, c.longPrice)
		c.actions = append(c.actions, a)
		remaining = remaining.Sub(a.Shares)
	}
	if remaining.IsPositive() {
		c.actions = append(c.actions, c.resting(Bid, remaining, c.longPrice, c.gas.TxGasEth()))
	}
}

// sell works through the remainder: the held position is sold first (to
// bids, else as an ask), then the rest is shorted against bids, and whatever
// is still left rests as a short.
func (c *classifier) sell(bids []orderbook.Order) {
	remaining := c.trade.Shares
	position := c.trade.UserPosition

	for remaining.IsPositive() {
		switch {
		case position.IsPositive() && len(bids) > 0:
			var fills []fill
			fills, bids = take(bids, fxp.Min(remaining, position))
			a := c.matched(Sell, fills, c.longPrice)
			c.actions = append(c.actions, a)
			remaining = remaining.Sub(a.Shares)
			position = position.Sub(a.Shares)

		case position.IsPositive():
			q := fxp.Min(remaining, position)
			c.actions = append(c.actions, c.resting(Ask, q, c.longPrice, c.gas.TxGasEth()))
			remaining = remaining.Sub(q)
			position = fxp.Zero

		case len(bids) > 0:
			var fills []fill
			fills, bids = take(bids, remaining)
			a := c.matched(ShortSell, fills, c.shortPrice)
			c.actions = append(c.actions, a)
			remaining = remaining.Sub(a.Shares)

		default:
			kind := ShortSellRisky
			if c.trade.Scalar != nil {
				kind = ShortAsk
			}
			c.actions = append(c.actions, c.resting(kind, remaining, c.shortPrice, c.gas.multiStepGasEth()))
			remaining = fxp.Zero
		}
	}
}

// longPrice is the price buys, sells, bids and asks are costed at.
func (c *classifier) longPrice(quoted fxp.Decimal) fxp.Decimal {
	if c.trade.Scalar != nil {
		return c.trade.Scalar.shrink(quoted)
	}
	return quoted
}

// shortPrice is the collateral a short seller puts up per share: the
// complement of the quoted price, with a binary market treated as the
// [0, 1] range.
func (c *classifier) shortPrice(quoted fxp.Decimal) fxp.Decimal {
	if c.trade.Scalar != nil {
		return c.trade.Scalar.complement(quoted)
	}
	return binaryRange.complement(quoted)
}

func (c *classifier) matched(kind Kind, fills []fill, price func(fxp.Decimal) fxp.Decimal) TradeAction {
	gross, takerFee := new(big.Int), new(big.Int)
	var shares, quotedNotional fxp.Decimal
	for _, f := range fills {
		quoted := f.order.ExactPrice()
		cost := c.rates.cost(f.shares, price(quoted))
		gross.Add(gross, cost.gross)
		takerFee.Add(takerFee, cost.takerFee)
		shares = shares.Add(f.shares)
		quotedNotional = quotedNotional.Add(f.shares.Mul(quoted))
	}

	a := TradeAction{
		Action:  kind,
		Shares:  shares,
		FeeEth:  fxp.Unfix(takerFee),
		CostEth: fxp.Unfix(gross),
		GasEth:  c.gas.TxGasEth(),
	}
	if avg, err := fxp.DivFloor(gross, fxp.Fix(shares)); err == nil {
		a.AvgPrice = fxp.Unfix(avg)
	}
	if p, err := quotedNotional.Div(shares); err == nil {
		a.NoFeePrice = p
	}
	a.FeePercent = feePercent(a.FeeEth, a.CostEth)
	return a
}

func (c *classifier) resting(kind Kind, shares fxp.Decimal, price func(fxp.Decimal) fxp.Decimal, gas fxp.Decimal) TradeAction {
	a := TradeAction{Action: kind, Shares: shares, GasEth: gas}
	if c.trade.LimitPrice == nil {
		c.unpriced = true
		return a
	}
	quoted := *c.trade.LimitPrice
	p := price(quoted)
	gross := fxp.MulFloor(fxp.Fix(shares), fxp.Fix(p))
	a.CostEth = fxp.Unfix(gross)
	a.FeeEth = fxp.Unfix(c.rates.makerFee(gross))
	a.AvgPrice = p
	a.NoFeePrice = quoted
	a.FeePercent = feePercent(a.FeeEth, a.CostEth)
	return a
}

func feePercent(fee, cost fxp.Decimal) fxp.Decimal {
	if !cost.IsPositive() {
		return fxp.Zero
	}
	p, err := fee.MulInt(100).Div(cost)
	if err != nil {
		return fxp.Zero
	}
	return p
}
