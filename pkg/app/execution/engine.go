// Package execution drives trades against the settlement ledger: it commits
// to a batch of counter-orders, trades against them, folds the receipt into a
// running result and repeats until the intent is filled or nothing is left to
// trade against.
package execution

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/predikt/pkg/app/core/matcher"
	"github.com/uhyunpark/predikt/pkg/app/core/orderbook"
	"github.com/uhyunpark/predikt/pkg/fxp"
	"github.com/uhyunpark/predikt/pkg/settlement"
	"github.com/uhyunpark/predikt/pkg/util"
)

const DefaultMaxTradesPerRound = 3

// DefaultDust is the amount at or below which shares or cash count as zero.
var DefaultDust = fxp.MustParse("0.00000001")

type Config struct {
	DustThreshold     fxp.Decimal
	MaxTradesPerRound int
	// IgnoreStalls keeps a run going after a successful trade that filled
	// nothing. By default such a round ends the run.
	IgnoreStalls bool
}

func DefaultConfig() Config {
	return Config{
		DustThreshold:     DefaultDust,
		MaxTradesPerRound: DefaultMaxTradesPerRound,
	}
}

type Engine struct {
	ledger settlement.Ledger
	cfg    Config
	logger *zap.SugaredLogger
	clock  util.Clock
}

func NewEngine(ledger settlement.Ledger, cfg Config, logger *zap.SugaredLogger, clock util.Clock) *Engine {
	if cfg.MaxTradesPerRound <= 0 {
		cfg.MaxTradesPerRound = DefaultMaxTradesPerRound
	}
	if cfg.DustThreshold.IsNegative() {
		cfg.DustThreshold = fxp.Zero
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Engine{ledger: ledger, cfg: cfg, logger: logger, clock: clock}
}

// Start runs Execute on its own goroutine. The channel receives exactly one
// Outcome.
func (e *Engine) Start(ctx context.Context, req Request, cb Callbacks) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		res, err := e.Execute(ctx, req, cb)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

// StartShortSell runs ExecuteShortSell on its own goroutine.
func (e *Engine) StartShortSell(ctx context.Context, req ShortSellRequest, cb Callbacks) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		res, err := e.ExecuteShortSell(ctx, req, cb)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

// Execute runs the commit/trade loop to completion. Cancelling ctx stops the
// loop before the next round; a round already in flight is finished first.
// On failure the partial result is returned along with the error.
func (e *Engine) Execute(ctx context.Context, req Request, cb Callbacks) (Result, error) {
	if err := req.Validate(); err != nil {
		cb.fail(err)
		return Result{}, err
	}

	r := &run{
		e:         e,
		req:       req,
		cb:        cb,
		log:       e.logger.With("market", req.Market, "outcome", req.Outcome, "trade_group", req.TradeGroupID),
		attempted: make(map[string]bool),
		res: Result{
			RemainingShares: req.Shares,
			RemainingEth:    req.TotalEth,
			EstimatedFees:   req.TradingFees,
		},
	}

	start := e.clock.Now()
	r.log.Infow("execution_started", "shares", req.Shares, "total_eth", req.TotalEth)
	for r.state != Done && r.state != Failed {
		r.step(ctx)
	}
	elapsed := e.clock.Now().Sub(start)

	ExecutionDuration.WithLabelValues("trade").Observe(elapsed.Seconds())
	ExecutionRounds.Observe(float64(r.res.Rounds))
	ExecutionsTotal.WithLabelValues("trade", r.state.String()).Inc()

	if r.state == Failed {
		r.log.Warnw("execution_failed", "err", r.err, "rounds", r.res.Rounds, "elapsed", elapsed)
		cb.fail(r.err)
		return r.res, r.err
	}
	r.log.Infow("execution_complete",
		"filled_shares", r.res.FilledShares,
		"filled_eth", r.res.FilledEth,
		"remaining_shares", r.res.RemainingShares,
		"remaining_eth", r.res.RemainingEth,
		"rounds", r.res.Rounds,
		"elapsed", elapsed,
	)
	cb.complete(r.res)
	return r.res, nil
}

// ExecuteShortSell sells against buy orders one at a time until the shares
// are gone or the orders run out.
func (e *Engine) ExecuteShortSell(ctx context.Context, req ShortSellRequest, cb Callbacks) (Result, error) {
	if err := req.Validate(); err != nil {
		cb.fail(err)
		return Result{}, err
	}
	log := e.logger.With("market", req.Market, "outcome", req.Outcome, "trade_group", req.TradeGroupID)
	calls := context.WithoutCancel(ctx)
	start := e.clock.Now()

	finish := func(res Result, state State, err error) (Result, error) {
		ExecutionDuration.WithLabelValues("short_sell").Observe(e.clock.Now().Sub(start).Seconds())
		ExecutionsTotal.WithLabelValues("short_sell", state.String()).Inc()
		if err != nil {
			log.Warnw("short_sell_failed", "err", err, "remaining_shares", res.RemainingShares)
			cb.fail(err)
			return res, err
		}
		log.Infow("short_sell_complete", "filled_shares", res.FilledShares, "remaining_shares", res.RemainingShares)
		cb.complete(res)
		return res, nil
	}

	ids := req.BuyerTradeIDs
	if len(ids) == 0 {
		book, err := e.ledger.OrderBook(calls, req.Market)
		if err != nil {
			return finish(Result{RemainingShares: req.Shares}, Failed, fmt.Errorf("load order book: %w", err))
		}
		for _, o := range matcher.Candidates(matcher.Trade{
			Side:       orderbook.Sell,
			Outcome:    req.Outcome,
			UserID:     req.Sender,
			LimitPrice: req.LimitPrice,
		}, book) {
			ids = append(ids, o.ID)
		}
	}

	res := Result{RemainingShares: req.Shares}
	log.Infow("short_sell_started", "shares", req.Shares, "candidates", len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return finish(res, Failed, err)
		}
		next, err := e.shortSellOne(calls, req, id, res, cb, log)
		res = next
		if errors.Is(err, errComplete) {
			break
		}
		if err != nil {
			return finish(res, Failed, err)
		}
	}
	return finish(res, Done, nil)
}

// shortSellOne commits and trades against one buy order. It returns
// errComplete once the remainder is dust.
func (e *Engine) shortSellOne(ctx context.Context, req ShortSellRequest, id string, res Result, cb Callbacks, log *zap.SugaredLogger) (Result, error) {
	params := settlement.ShortSellParams{
		Market:       req.Market,
		Outcome:      req.Outcome,
		BuyerTradeID: id,
		MaxAmount:    res.RemainingShares,
		TradeGroupID: req.TradeGroupID,
		Sender:       req.Sender,
	}
	res.Rounds++

	commit, err := e.ledger.CommitTrade(ctx, params.TradeParams())
	if err != nil {
		if settlement.Skippable(err) {
			CommitsTotal.WithLabelValues(resultRejected).Inc()
			log.Infow("short_sell_commit_failed", "buyer_trade_id", id, "err", err)
			cb.commitFailed(fmt.Errorf("buyer trade %s: %w", id, err))
			return res, nil
		}
		CommitsTotal.WithLabelValues(resultError).Inc()
		return res, fmt.Errorf("commit short sell against %s: %w", id, err)
	}
	CommitsTotal.WithLabelValues(resultOK).Inc()
	res.GasFees = res.GasFees.Add(commit.GasFees)

	ev := CommitEvent{
		Round:     res.Rounds,
		TradeHash: commit.TradeHash,
		TradeIDs:  []string{id},
		MaxAmount: params.MaxAmount,
		GasFees:   res.GasFees,
	}
	cb.commitSent(ev)
	cb.tradeSent(ev)

	receipt, err := e.ledger.ShortSell(ctx, commit.TradeHash, params)
	if err != nil {
		if settlement.Skippable(err) {
			TradesTotal.WithLabelValues("short_sell", resultRejected).Inc()
			log.Infow("short_sell_trade_failed", "buyer_trade_id", id, "err", err)
			cb.tradeFailed(fmt.Errorf("buyer trade %s: %w", id, err))
			return res, nil
		}
		TradesTotal.WithLabelValues("short_sell", resultError).Inc()
		return res, fmt.Errorf("short sell against %s: %w", id, err)
	}
	TradesTotal.WithLabelValues("short_sell", resultOK).Inc()

	sold := receipt.MatchedShares
	res.FilledShares = res.FilledShares.Add(sold)
	res.FilledEth = res.FilledEth.Add(receipt.CashFromTrade)
	res.RemainingShares = receipt.UnmatchedShares
	res.TradingFees = res.TradingFees.Add(receipt.TradingFees)
	res.GasFees = res.GasFees.Add(receipt.GasFees)
	res.Trades++
	log.Infow("short_sell_filled", "buyer_trade_id", id, "sold", sold, "remaining_shares", res.RemainingShares)
	cb.tradeSuccess(res)

	if res.RemainingShares.LessThanOrEqual(e.cfg.DustThreshold) {
		return res, errComplete
	}
	return res, nil
}

// balances fetches the trader's position and cash concurrently.
func (e *Engine) balances(ctx context.Context, req Request) (position, cash fxp.Decimal, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := e.ledger.Position(gctx, req.Market, req.Outcome, req.Sender)
		if err != nil {
			return fmt.Errorf("position: %w", err)
		}
		position = p
		return nil
	})
	g.Go(func() error {
		c, err := e.ledger.CashBalance(gctx, req.Sender)
		if err != nil {
			return fmt.Errorf("cash balance: %w", err)
		}
		cash = c
		return nil
	})
	err = g.Wait()
	return position, cash, err
}
