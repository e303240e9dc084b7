// Package ethrpc implements settlement.Ledger against the market contract
// through an Ethereum JSON-RPC node.
package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/pkg/app/core/orderbook"
	"github.com/uhyunpark/predikt/pkg/crypto"
	"github.com/uhyunpark/predikt/pkg/fxp"
	"github.com/uhyunpark/predikt/pkg/settlement"
	"github.com/uhyunpark/predikt/pkg/util"
)

// Backend is the part of *ethclient.Client the ledger needs.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

type Config struct {
	Contract common.Address
	// ChainID, when set, is used instead of asking the node.
	ChainID *big.Int
	// GasLimit of 0 estimates per transaction; a nil GasPrice asks the node.
	GasLimit            uint64
	GasPrice            *big.Int
	ReceiptPollInterval time.Duration
	// ReceiptTimeout bounds the wait for a sent transaction to be mined.
	ReceiptTimeout time.Duration
}

const (
	defaultPollInterval   = 2 * time.Second
	defaultReceiptTimeout = 5 * time.Minute
	displayPlaces         = 8
)

// Ledger talks to the market contract. Transactions from one Ledger are
// sent one at a time so nonces stay in order.
type Ledger struct {
	backend Backend
	signer  *crypto.Signer
	cfg     Config
	logger  *zap.SugaredLogger
	clock   util.Clock

	sendMu  sync.Mutex
	chainMu sync.Mutex
	chainID *big.Int
}

var _ settlement.Ledger = (*Ledger)(nil)

func New(backend Backend, signer *crypto.Signer, cfg Config, logger *zap.SugaredLogger, clock util.Clock) *Ledger {
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = defaultPollInterval
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = defaultReceiptTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Ledger{backend: backend, signer: signer, cfg: cfg, logger: logger, clock: clock, chainID: cfg.ChainID}
}

func (l *Ledger) OrderBook(ctx context.Context, market string) (*orderbook.Book, error) {
	out, err := l.call(ctx, "getOrderBook", common.HexToHash(market))
	if err != nil {
		return nil, err
	}
	words, ok := out[0].([]*big.Int)
	if !ok || len(words)%orderWords != 0 {
		return nil, fmt.Errorf("%w: malformed order book for %s", settlement.ErrStructural, market)
	}

	book := orderbook.New(market)
	for i := 0; i < len(words); i += orderWords {
		o, ok := decodeOrder(market, words[i:i+orderWords])
		if !ok {
			continue
		}
		if err := book.Add(o); err != nil {
			return nil, fmt.Errorf("%w: %v", settlement.ErrStructural, err)
		}
	}
	return book, nil
}

// decodeOrder reads one order; ok is false for filled or unknown entries.
func decodeOrder(market string, w []*big.Int) (orderbook.Order, bool) {
	typ := orderbook.Type(w[1].Int64())
	amount := fxp.Unfix(w[3])
	price := fxp.Unfix(w[4])
	if !typ.Valid() || !amount.IsPositive() {
		return orderbook.Order{}, false
	}
	return orderbook.Order{
		ID:                  common.BigToHash(w[0]).Hex(),
		Type:                typ,
		Market:              market,
		Amount:              amount.Truncate(displayPlaces),
		Price:               price.Truncate(displayPlaces),
		FullPrecisionAmount: amount,
		FullPrecisionPrice:  price,
		Owner:               common.BigToAddress(w[5]),
		Block:               w[6].Uint64(),
		Outcome:             w[7].String(),
	}, true
}

func (l *Ledger) Position(ctx context.Context, market, outcome string, account common.Address) (fxp.Decimal, error) {
	n, ok := new(big.Int).SetString(outcome, 10)
	if !ok {
		return fxp.Zero, fmt.Errorf("%w: outcome %q", fxp.ErrInvalidNumber, outcome)
	}
	out, err := l.call(ctx, "getParticipantSharesPurchased", common.HexToHash(market), account, n)
	if err != nil {
		return fxp.Zero, err
	}
	return unfixWord(out[0])
}

func (l *Ledger) CashBalance(ctx context.Context, account common.Address) (fxp.Decimal, error) {
	out, err := l.call(ctx, "balance", account)
	if err != nil {
		return fxp.Zero, err
	}
	return unfixWord(out[0])
}

func (l *Ledger) CommitTrade(ctx context.Context, p settlement.TradeParams) (settlement.Commitment, error) {
	hash := crypto.TradeHash(p.MaxValue, p.MaxAmount, tradeIDHashes(p.TradeIDs))
	tx, err := l.transact(ctx, settlement.ErrCommitRejected, "commitTrade", [32]byte(hash))
	if err != nil {
		return settlement.Commitment{}, err
	}
	return settlement.Commitment{TradeHash: hash, TxHash: tx.hash, GasFees: tx.gasFees}, nil
}

func (l *Ledger) Trade(ctx context.Context, tradeHash common.Hash, p settlement.TradeParams) (settlement.TradeReceipt, error) {
	ids := tradeIDHashes(p.TradeIDs)
	if want := crypto.TradeHash(p.MaxValue, p.MaxAmount, ids); want != tradeHash {
		return settlement.TradeReceipt{}, fmt.Errorf("%w: trade hash %s does not match params (%s)", settlement.ErrStructural, tradeHash.Hex(), want.Hex())
	}
	words := make([][32]byte, len(ids))
	for i, id := range ids {
		words[i] = id
	}
	tx, err := l.transact(ctx, settlement.ErrTradeRejected, "trade",
		fxp.Fix(p.MaxValue), fxp.Fix(p.MaxAmount), words, groupID(p.TradeGroupID))
	if err != nil {
		return settlement.TradeReceipt{}, err
	}
	v, err := unfixWords(tx.out[1:])
	if err != nil {
		return settlement.TradeReceipt{}, err
	}
	return settlement.TradeReceipt{
		TxHash:          tx.hash,
		SharesBought:    v[0],
		CashFromTrade:   v[1],
		UnmatchedShares: v[2],
		UnmatchedCash:   v[3],
		TradingFees:     v[4],
		GasFees:         tx.gasFees,
	}, nil
}

func (l *Ledger) ShortSell(ctx context.Context, tradeHash common.Hash, p settlement.ShortSellParams) (settlement.TradeReceipt, error) {
	tx, err := l.transact(ctx, settlement.ErrTradeRejected, "shortSell",
		[32]byte(common.HexToHash(p.BuyerTradeID)), fxp.Fix(p.MaxAmount), groupID(p.TradeGroupID))
	if err != nil {
		return settlement.TradeReceipt{}, err
	}
	v, err := unfixWords(tx.out[1:])
	if err != nil {
		return settlement.TradeReceipt{}, err
	}
	return settlement.TradeReceipt{
		TxHash:          tx.hash,
		MatchedShares:   v[0],
		CashFromTrade:   v[1],
		UnmatchedShares: v[2],
		TradingFees:     v[3],
		GasFees:         tx.gasFees,
	}, nil
}

func tradeIDHashes(ids []string) []common.Hash {
	out := make([]common.Hash, len(ids))
	for i, id := range ids {
		out[i] = common.HexToHash(id)
	}
	return out
}

// groupID maps a trade group ID to bytes32: UUIDs are left-padded, anything
// else is hashed.
func groupID(id string) [32]byte {
	if id == "" {
		return [32]byte{}
	}
	if u, err := uuid.Parse(id); err == nil {
		return common.BytesToHash(u[:])
	}
	return ethcrypto.Keccak256Hash([]byte(id))
}

func unfixWord(v interface{}) (fxp.Decimal, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return fxp.Zero, fmt.Errorf("%w: expected int256, got %T", settlement.ErrStructural, v)
	}
	return fxp.Unfix(n), nil
}

func unfixWords(vs []interface{}) ([]fxp.Decimal, error) {
	out := make([]fxp.Decimal, len(vs))
	for i, v := range vs {
		d, err := unfixWord(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// call runs a read-only contract call.
func (l *Ledger) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", settlement.ErrStructural, method, err)
	}
	raw, err := l.backend.CallContract(ctx, l.msg(data), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", settlement.ErrStructural, method, err)
	}
	out, err := parsedABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", settlement.ErrStructural, method, err)
	}
	return out, nil
}

func (l *Ledger) msg(data []byte) ethereum.CallMsg {
	to := l.cfg.Contract
	return ethereum.CallMsg{From: l.signer.Address(), To: &to, Data: data}
}

type sent struct {
	hash    common.Hash
	gasFees fxp.Decimal
	out     []interface{} // simulated return values
}

// transact simulates a state-changing call, then sends it and waits for the
// receipt. A non-positive simulated status or a reverted receipt is reported
// as rejected. A transaction still unmined after ReceiptTimeout is
// structural: it may yet be mined, so the batch cannot safely be skipped.
func (l *Ledger) transact(ctx context.Context, rejected error, method string, args ...interface{}) (sent, error) {
	out, err := l.call(ctx, method, args...)
	if err != nil {
		return sent{}, err
	}
	status, ok := out[0].(*big.Int)
	if !ok {
		return sent{}, fmt.Errorf("%w: %s returned no status", settlement.ErrStructural, method)
	}
	if status.Sign() <= 0 {
		return sent{}, fmt.Errorf("%w: %s status %s", rejected, method, status)
	}

	data, _ := parsedABI.Pack(method, args...) // packed successfully in call
	tx, err := l.send(ctx, rejected, data)
	if err != nil {
		return sent{}, err
	}
	l.logger.Debugw("tx_sent", "method", method, "tx", tx.Hash())

	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.ReceiptTimeout)
	defer cancel()
	receipt, err := l.waitMined(waitCtx, tx.Hash())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			l.logger.Warnw("tx_receipt_timeout", "method", method, "tx", tx.Hash(), "timeout", l.cfg.ReceiptTimeout)
			return sent{}, fmt.Errorf("%w: %s tx %s not mined within %s", settlement.ErrStructural, method, tx.Hash().Hex(), l.cfg.ReceiptTimeout)
		}
		return sent{}, err
	}
	gasPrice := receipt.EffectiveGasPrice
	if gasPrice == nil {
		gasPrice = tx.GasPrice()
	}
	res := sent{
		hash:    tx.Hash(),
		gasFees: fxp.GasCost(receipt.GasUsed, gasPrice),
		out:     out,
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return res, fmt.Errorf("%w: %s reverted in tx %s", rejected, method, tx.Hash().Hex())
	}
	l.logger.Infow("tx_mined", "method", method, "tx", tx.Hash(), "gas_used", receipt.GasUsed, "block", receipt.BlockNumber)
	return res, nil
}

// send signs and submits data. A nonce race is reported as rejected.
func (l *Ledger) send(ctx context.Context, rejected error, data []byte) (*types.Transaction, error) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	chainID, err := l.chain(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := l.backend.PendingNonceAt(ctx, l.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", settlement.ErrStructural, err)
	}
	gasPrice := l.cfg.GasPrice
	if gasPrice == nil {
		if gasPrice, err = l.backend.SuggestGasPrice(ctx); err != nil {
			return nil, fmt.Errorf("%w: gas price: %v", settlement.ErrStructural, err)
		}
	}
	gas := l.cfg.GasLimit
	if gas == 0 {
		if gas, err = l.backend.EstimateGas(ctx, l.msg(data)); err != nil {
			return nil, fmt.Errorf("%w: estimate gas: %v", settlement.ErrStructural, err)
		}
	}

	to := l.cfg.Contract
	tx, err := l.signer.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Data:     data,
	}), chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", settlement.ErrStructural, err)
	}
	if err := l.backend.SendTransaction(ctx, tx); err != nil {
		if isNonceError(err) {
			return nil, fmt.Errorf("%w: %v", rejected, err)
		}
		return nil, fmt.Errorf("%w: send: %v", settlement.ErrStructural, err)
	}
	return tx, nil
}

// isNonceError matches node errors for a transaction another sender raced.
func isNonceError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "replacement transaction underpriced")
}

func (l *Ledger) chain(ctx context.Context) (*big.Int, error) {
	l.chainMu.Lock()
	defer l.chainMu.Unlock()
	if l.chainID != nil {
		return l.chainID, nil
	}
	id, err := l.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", settlement.ErrStructural, err)
	}
	l.chainID = id
	return id, nil
}

func (l *Ledger) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := l.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: receipt %s: %v", settlement.ErrStructural, hash.Hex(), err)
		}
		if err := util.Sleep(ctx, l.clock, l.cfg.ReceiptPollInterval); err != nil {
			return nil, err
		}
	}
}
