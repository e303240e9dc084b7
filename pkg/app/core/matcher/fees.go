package matcher

import (
	"math/big"

	"github.com/uhyunpark/predikt/pkg/fxp"
)

// Cost is the fixed-point cost breakdown of trading shares at one price.
type Cost struct {
	Gross      fxp.Decimal // shares * price
	Fee        fxp.Decimal // gross * (maker + taker)
	MakerShare fxp.Decimal
	TakerFee   fxp.Decimal
	Cost       fxp.Decimal // what a buyer pays
	Proceeds   fxp.Decimal // what a seller receives
}

// rates are a fee schedule in ledger units.
type rates struct {
	maker           *big.Int
	tradingFee      *big.Int
	makerProportion *big.Int
}

func newRates(f Fees) rates {
	maker := fxp.Fix(f.Maker)
	tf := new(big.Int).Add(maker, fxp.Fix(f.Taker))
	prop := new(big.Int)
	if tf.Sign() > 0 {
		// tf is non-zero, so DivFloor cannot fail.
		prop, _ = fxp.DivFloor(maker, tf)
	}
	return rates{maker: maker, tradingFee: tf, makerProportion: prop}
}

// TradingFee is maker + taker.
func (f Fees) TradingFee() fxp.Decimal { return f.Maker.Add(f.Taker) }

// MakerProportionOfFee is maker / (maker + taker), floored at ledger
// resolution; zero when there are no fees.
func (f Fees) MakerProportionOfFee() fxp.Decimal {
	return fxp.Unfix(newRates(f).makerProportion)
}

type fixedCost struct {
	gross, fee, makerShare, takerFee *big.Int
}

func (r rates) cost(shares, price fxp.Decimal) fixedCost {
	gross := fxp.MulFloor(fxp.Fix(shares), fxp.Fix(price))
	fee := fxp.MulFloor(gross, r.tradingFee)
	makerShare := fxp.MulFloor(fee, r.makerProportion)
	return fixedCost{
		gross:      gross,
		fee:        fee,
		makerShare: makerShare,
		takerFee:   new(big.Int).Sub(fee, makerShare),
	}
}

// makerFee is the fee a resting order pays on its notional.
func (r rates) makerFee(gross *big.Int) *big.Int {
	return fxp.MulFloor(gross, r.maker)
}

// TradingCost computes the cost of trading shares at price, flooring at
// ledger resolution after every step.
func TradingCost(shares, price fxp.Decimal, f Fees) Cost {
	c := newRates(f).cost(shares, price)
	return Cost{
		Gross:      fxp.Unfix(c.gross),
		Fee:        fxp.Unfix(c.fee),
		MakerShare: fxp.Unfix(c.makerShare),
		TakerFee:   fxp.Unfix(c.takerFee),
		Cost:       fxp.Unfix(new(big.Int).Add(c.gross, c.fee)),
		Proceeds:   fxp.Unfix(new(big.Int).Sub(c.gross, c.fee)),
	}
}

// GasParams prices the transactions an action needs.
type GasParams struct {
	GasLimit uint64
	GasPrice *big.Int // wei
	// MultiStep scales the gas of actions that need a complete-set purchase
	// before the order itself.
	MultiStep int64
}

const (
	DefaultGasLimit  = 3_135_000
	DefaultMultiStep = 2
)

// DefaultGasPrice is 20 gwei.
var DefaultGasPrice = big.NewInt(20_000_000_000)

func DefaultGas() GasParams {
	return GasParams{
		GasLimit:  DefaultGasLimit,
		GasPrice:  new(big.Int).Set(DefaultGasPrice),
		MultiStep: DefaultMultiStep,
	}
}

// TxGasEth is the ether cost of one transaction: gasLimit * gasPrice.
func (g GasParams) TxGasEth() fxp.Decimal {
	price := g.GasPrice
	if price == nil {
		price = DefaultGasPrice
	}
	return fxp.GasCost(g.GasLimit, price)
}

func (g GasParams) multiStepGasEth() fxp.Decimal {
	n := g.MultiStep
	if n < 1 {
		n = 1
	}
	return g.TxGasEth().MulInt(n)
}
