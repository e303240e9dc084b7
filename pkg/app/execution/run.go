package execution

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/pkg/app/core/matcher"
	"github.com/uhyunpark/predikt/pkg/app/core/orderbook"
	"github.com/uhyunpark/predikt/pkg/fxp"
	"github.com/uhyunpark/predikt/pkg/settlement"
)

// State is where an execution run is in its round.
type State int

const (
	Selecting State = iota
	AwaitingCommit
	AwaitingTrade
	Accumulating
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Selecting:
		return "selecting"
	case AwaitingCommit:
		return "awaiting_commit"
	case AwaitingTrade:
		return "awaiting_trade"
	case Accumulating:
		return "accumulating"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// round is the state of one commit/trade round. It is rebuilt from scratch
// each time the run returns to Selecting.
type round struct {
	params      settlement.TradeParams
	isRemainder bool
	commit      settlement.Commitment
	receipt     settlement.TradeReceipt
}

type run struct {
	e   *Engine
	req Request
	cb  Callbacks
	log *zap.SugaredLogger

	state     State
	res       Result
	round     round
	attempted map[string]bool // trade IDs already tried in this run
	err       error
}

func (r *run) transition(to State) {
	r.log.Debugw("execution_transition", "from", r.state, "to", to, "round", r.res.Rounds)
	r.state = to
}

func (r *run) failWith(err error) {
	r.err = err
	r.transition(Failed)
}

func (r *run) step(ctx context.Context) {
	// In-flight calls are not interrupted by cancellation.
	calls := context.WithoutCancel(ctx)
	switch r.state {
	case Selecting:
		r.selectRound(ctx, calls)
	case AwaitingCommit:
		r.commitRound(calls)
	case AwaitingTrade:
		r.tradeRound(calls)
	case Accumulating:
		r.accumulate()
	}
}

// candidates lists untried counter-order IDs, best price first.
func (r *run) candidates(book *orderbook.Book) []string {
	side := orderbook.Buy
	if r.req.sell() {
		side = orderbook.Sell
	}
	var ids []string
	for _, o := range matcher.Candidates(matcher.Trade{
		Side:       side,
		Outcome:    r.req.Outcome,
		UserID:     r.req.Sender,
		LimitPrice: r.req.LimitPrice,
	}, book) {
		if !r.attempted[o.ID] {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

func (r *run) selectRound(ctx, calls context.Context) {
	if err := ctx.Err(); err != nil {
		r.failWith(err)
		return
	}

	book, err := r.e.ledger.OrderBook(calls, r.req.Market)
	if err != nil {
		r.failWith(fmt.Errorf("load order book: %w", err))
		return
	}
	ids := r.candidates(book)

	position, cash, err := r.e.balances(calls, r.req)
	if err != nil {
		r.failWith(err)
		return
	}

	dust := r.e.cfg.DustThreshold
	switch {
	case len(ids) == 0:
		r.log.Infow("execution_no_candidates", "round", r.res.Rounds)
		r.transition(Done)
		return
	case r.res.RemainingShares.LessThanOrEqual(dust) && r.res.RemainingEth.LessThanOrEqual(dust):
		r.transition(Done)
		return
	case r.req.sell() && position.LessThanOrEqual(dust):
		r.log.Infow("execution_position_exhausted", "position", position)
		r.transition(Done)
		return
	case !r.req.sell() && cash.LessThanOrEqual(dust):
		r.log.Infow("execution_cash_exhausted", "cash", cash)
		r.transition(Done)
		return
	}

	if len(ids) > r.e.cfg.MaxTradesPerRound {
		ids = ids[:r.e.cfg.MaxTradesPerRound]
	}
	for _, id := range ids {
		r.attempted[id] = true
	}

	maxAmount, isRemainder := r.res.RemainingShares, false
	if maxAmount.GreaterThan(position) {
		maxAmount, isRemainder = position, true
	}
	r.res.Rounds++
	r.round = round{
		params: settlement.TradeParams{
			Market:       r.req.Market,
			Outcome:      r.req.Outcome,
			MaxValue:     fxp.Min(r.res.RemainingEth, cash),
			MaxAmount:    maxAmount,
			TradeIDs:     ids,
			TradeGroupID: r.req.TradeGroupID,
			Sender:       r.req.Sender,
		},
		isRemainder: isRemainder,
	}
	r.log.Debugw("execution_round",
		"round", r.res.Rounds,
		"trade_ids", ids,
		"max_value", r.round.params.MaxValue,
		"max_amount", maxAmount,
		"is_remainder", isRemainder,
	)
	r.transition(AwaitingCommit)
}

func (r *run) event() CommitEvent {
	return CommitEvent{
		Round:     r.res.Rounds,
		TradeHash: r.round.commit.TradeHash,
		TradeIDs:  r.round.params.TradeIDs,
		MaxValue:  r.round.params.MaxValue,
		MaxAmount: r.round.params.MaxAmount,
		GasFees:   r.res.GasFees,
	}
}

func (r *run) commitRound(ctx context.Context) {
	commit, err := r.e.ledger.CommitTrade(ctx, r.round.params)
	if err != nil {
		if settlement.Skippable(err) {
			CommitsTotal.WithLabelValues(resultRejected).Inc()
			r.log.Infow("commit_failed", "round", r.res.Rounds, "err", err)
			r.cb.commitFailed(fmt.Errorf("round %d: %w", r.res.Rounds, err))
			r.transition(Selecting)
			return
		}
		CommitsTotal.WithLabelValues(resultError).Inc()
		r.failWith(fmt.Errorf("commit trade: %w", err))
		return
	}
	CommitsTotal.WithLabelValues(resultOK).Inc()
	r.round.commit = commit
	r.res.GasFees = r.res.GasFees.Add(commit.GasFees)
	r.cb.commitSent(r.event())
	r.transition(AwaitingTrade)
}

func (r *run) tradeRound(ctx context.Context) {
	r.cb.tradeSent(r.event())
	receipt, err := r.e.ledger.Trade(ctx, r.round.commit.TradeHash, r.round.params)
	if err != nil {
		if settlement.Skippable(err) {
			TradesTotal.WithLabelValues("trade", resultRejected).Inc()
			r.log.Infow("trade_failed", "round", r.res.Rounds, "err", err)
			r.cb.tradeFailed(fmt.Errorf("round %d: %w", r.res.Rounds, err))
			r.transition(Selecting)
			return
		}
		TradesTotal.WithLabelValues("trade", resultError).Inc()
		r.failWith(fmt.Errorf("trade: %w", err))
		return
	}
	TradesTotal.WithLabelValues("trade", resultOK).Inc()
	r.round.receipt = receipt
	r.transition(Accumulating)
}

// accumulate folds the round's receipt into the result. A round capped by
// the position (isRemainder) only accounts for the shares it was allowed to
// sell; the rest stays outstanding.
func (r *run) accumulate() {
	p, rc := r.round.params, r.round.receipt
	res := r.res

	if r.round.isRemainder {
		res.RemainingShares = res.RemainingShares.Sub(p.MaxAmount).Add(rc.UnmatchedShares)
	} else {
		res.RemainingShares = rc.UnmatchedShares
	}
	res.RemainingEth = res.RemainingEth.Sub(p.MaxValue).Add(rc.UnmatchedCash)

	if r.req.sell() {
		res.FilledShares = res.FilledShares.Add(fxp.Max(p.MaxAmount.Sub(rc.UnmatchedShares), fxp.Zero))
		res.FilledEth = res.FilledEth.Add(rc.CashFromTrade)
	} else {
		res.FilledShares = res.FilledShares.Add(rc.SharesBought)
		res.FilledEth = res.FilledEth.Add(fxp.Max(p.MaxValue.Sub(rc.UnmatchedCash), fxp.Zero))
	}
	res.TradingFees = res.TradingFees.Add(rc.TradingFees)
	res.GasFees = res.GasFees.Add(rc.GasFees)
	res.Trades++

	r.res = res
	r.log.Infow("trade_success",
		"round", res.Rounds,
		"trade_hash", r.round.commit.TradeHash,
		"remaining_shares", res.RemainingShares,
		"remaining_eth", res.RemainingEth,
	)
	r.cb.tradeSuccess(res)

	if !r.e.cfg.IgnoreStalls && r.stalled() {
		r.log.Infow("execution_stalled", "round", res.Rounds)
		r.transition(Done)
		return
	}
	r.transition(Selecting)
}

// stalled reports whether the last trade went through without filling
// anything, which means the settlement layer is quietly refusing the orders.
func (r *run) stalled() bool {
	p, rc := r.round.params, r.round.receipt
	dust := r.e.cfg.DustThreshold
	if r.req.sell() {
		return p.MaxAmount.Sub(rc.UnmatchedShares).LessThanOrEqual(dust)
	}
	return rc.SharesBought.LessThanOrEqual(dust)
}
