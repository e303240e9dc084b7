package execution

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/predikt/pkg/fxp"
)

var ErrInvalidRequest = errors.New("invalid execution request")

// errComplete stops a short-sell run once nothing is left to sell.
var errComplete = errors.New("short sell complete")

// Request asks the engine to buy with TotalEth or to sell Shares of an
// outcome. Exactly one of the two must be positive.
type Request struct {
	Market  string
	Outcome string

	Shares   fxp.Decimal
	TotalEth fxp.Decimal
	// LimitPrice bounds the counter-orders considered; nil takes any price.
	LimitPrice *fxp.Decimal
	// TradingFees is the matcher's fee estimate, reported back unchanged.
	TradingFees fxp.Decimal

	TradeGroupID string
	Sender       common.Address
}

// sell reports whether the request is denominated in shares.
func (r Request) sell() bool { return r.Shares.IsPositive() }

func (r Request) Validate() error {
	if r.Market == "" || r.Outcome == "" {
		return fmt.Errorf("%w: market and outcome are required", ErrInvalidRequest)
	}
	if r.Shares.IsNegative() || r.TotalEth.IsNegative() {
		return fmt.Errorf("%w: negative amount: %w", ErrInvalidRequest, fxp.ErrInvalidNumber)
	}
	if r.Shares.IsPositive() == r.TotalEth.IsPositive() {
		return fmt.Errorf("%w: exactly one of shares and totalEth must be positive", ErrInvalidRequest)
	}
	return nil
}

// ShortSellRequest sells Shares the trader does not hold against buy orders.
type ShortSellRequest struct {
	Market  string
	Outcome string
	Shares  fxp.Decimal
	// BuyerTradeIDs are tried in order. When empty the engine takes the
	// outcome's bids from the book, best first.
	BuyerTradeIDs []string
	LimitPrice    *fxp.Decimal

	TradeGroupID string
	Sender       common.Address
}

func (r ShortSellRequest) Validate() error {
	if r.Market == "" || r.Outcome == "" {
		return fmt.Errorf("%w: market and outcome are required", ErrInvalidRequest)
	}
	if !r.Shares.IsPositive() {
		return fmt.Errorf("%w: shares must be positive: %w", ErrInvalidRequest, fxp.ErrInvalidNumber)
	}
	return nil
}

// Result is the running accounting of an execution. Every update produces
// a new value.
type Result struct {
	FilledShares    fxp.Decimal `json:"filledShares"`
	FilledEth       fxp.Decimal `json:"filledEth"`
	RemainingShares fxp.Decimal `json:"remainingShares"`
	RemainingEth    fxp.Decimal `json:"remainingEth"`
	TradingFees     fxp.Decimal `json:"tradingFees"`
	GasFees         fxp.Decimal `json:"gasFees"`
	EstimatedFees   fxp.Decimal `json:"estimatedFees"`
	Rounds          int         `json:"rounds"`
	Trades          int         `json:"trades"`
}

// CommitEvent is reported once a commitment has been accepted.
type CommitEvent struct {
	Round     int         `json:"round"`
	TradeHash common.Hash `json:"tradeHash"`
	TradeIDs  []string    `json:"tradeIds"`
	MaxValue  fxp.Decimal `json:"maxValue"`
	MaxAmount fxp.Decimal `json:"maxAmount"`
	// GasFees is the run's gas spend including this commitment.
	GasFees fxp.Decimal `json:"gasFees"`
}

// Callbacks receive progress. Any of them may be nil. They are called from
// the goroutine running the execution, one at a time.
type Callbacks struct {
	OnCommitSent   func(CommitEvent)
	OnCommitFailed func(error)
	OnTradeSent    func(CommitEvent)
	OnTradeSuccess func(Result)
	OnTradeFailed  func(error)
	OnComplete     func(Result)
	OnError        func(error)
}

func (c Callbacks) commitSent(e CommitEvent) {
	if c.OnCommitSent != nil {
		c.OnCommitSent(e)
	}
}

func (c Callbacks) commitFailed(err error) {
	if c.OnCommitFailed != nil {
		c.OnCommitFailed(err)
	}
}

func (c Callbacks) tradeSent(e CommitEvent) {
	if c.OnTradeSent != nil {
		c.OnTradeSent(e)
	}
}

func (c Callbacks) tradeSuccess(r Result) {
	if c.OnTradeSuccess != nil {
		c.OnTradeSuccess(r)
	}
}

func (c Callbacks) tradeFailed(err error) {
	if c.OnTradeFailed != nil {
		c.OnTradeFailed(err)
	}
}

func (c Callbacks) complete(r Result) {
	if c.OnComplete != nil {
		c.OnComplete(r)
	}
}

func (c Callbacks) fail(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

// Outcome is what Start delivers when an execution ends.
type Outcome struct {
	Result Result
	Err    error
}
