// Package settlement defines what the execution engine needs from the ledger
// that holds orders, positions and cash.
package settlement

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/predikt/pkg/app/core/orderbook"
	"github.com/uhyunpark/predikt/pkg/fxp"
)

var (
	// ErrCommitRejected and ErrTradeRejected invalidate one batch of trade
	// IDs; the caller may move on to the next batch.
	ErrCommitRejected = errors.New("commit rejected")
	ErrTradeRejected  = errors.New("trade rejected")

	// ErrStructural marks failures that make further progress pointless,
	// such as a lost connection or an undecodable response.
	ErrStructural = errors.New("settlement unavailable")
)

// Skippable reports whether err only invalidates the current batch.
func Skippable(err error) bool {
	return errors.Is(err, ErrCommitRejected) || errors.Is(err, ErrTradeRejected)
}

// TradeParams describe one commit-then-trade round.
type TradeParams struct {
	Market       string
	Outcome      string
	MaxValue     fxp.Decimal // cash the round may spend
	MaxAmount    fxp.Decimal // shares the round may sell
	TradeIDs     []string
	TradeGroupID string
	Sender       common.Address
}

// ShortSellParams describe a short sale against one buy order.
type ShortSellParams struct {
	Market       string
	Outcome      string
	BuyerTradeID string
	MaxAmount    fxp.Decimal
	TradeGroupID string
	Sender       common.Address
}

// TradeParams is the commitment view of a short sale.
func (p ShortSellParams) TradeParams() TradeParams {
	return TradeParams{
		Market:       p.Market,
		Outcome:      p.Outcome,
		MaxAmount:    p.MaxAmount,
		TradeIDs:     []string{p.BuyerTradeID},
		TradeGroupID: p.TradeGroupID,
		Sender:       p.Sender,
	}
}

// Commitment is the receipt of a trade commitment.
type Commitment struct {
	TradeHash common.Hash
	TxHash    common.Hash
	GasFees   fxp.Decimal
}

// TradeReceipt reports what a trade actually did.
type TradeReceipt struct {
	TxHash          common.Hash
	SharesBought    fxp.Decimal // shares received by a buy
	CashFromTrade   fxp.Decimal // cash received by a sell
	MatchedShares   fxp.Decimal // shares sold by a short sell
	UnmatchedShares fxp.Decimal
	UnmatchedCash   fxp.Decimal
	TradingFees     fxp.Decimal
	GasFees         fxp.Decimal
}

// Ledger is the settlement collaborator of the execution engine.
//
// CommitTrade and Trade/ShortSell return errors wrapping ErrCommitRejected or
// ErrTradeRejected when the ledger refuses the request; any other error is
// treated as structural.
type Ledger interface {
	OrderBook(ctx context.Context, market string) (*orderbook.Book, error)
	Position(ctx context.Context, market, outcome string, account common.Address) (fxp.Decimal, error)
	CashBalance(ctx context.Context, account common.Address) (fxp.Decimal, error)

	CommitTrade(ctx context.Context, p TradeParams) (Commitment, error)
	Trade(ctx context.Context, tradeHash common.Hash, p TradeParams) (TradeReceipt, error)
	ShortSell(ctx context.Context, tradeHash common.Hash, p ShortSellParams) (TradeReceipt, error)
}
