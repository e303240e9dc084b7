package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/predikt/pkg/app/core/orderbook"
	"github.com/uhyunpark/predikt/pkg/app/execution"
	"github.com/uhyunpark/predikt/pkg/crypto"
	"github.com/uhyunpark/predikt/pkg/fxp"
	"github.com/uhyunpark/predikt/pkg/settlement"
)

var gwei20 = big.NewInt(20_000_000_000)

// fakeBackend answers contract calls from canned values and mines every
// transaction after pendingPolls receipt lookups.
type fakeBackend struct {
	mu sync.Mutex

	book     []*big.Int
	position *big.Int
	cash     *big.Int
	status   *big.Int
	reverted bool
	callErr  error
	sendErr  error

	tradeOut []*big.Int // sharesBought, cashFromTrade, unmatchedShares, unmatchedCash, tradingFees
	shortOut []*big.Int // matchedShares, cashFromTrade, unmatchedShares, tradingFees

	pendingPolls int
	polls        int
	calls        []string
	callArgs     map[string][]interface{}
	sent         []*types.Transaction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		position: big.NewInt(0),
		cash:     big.NewInt(0),
		status:   big.NewInt(1),
		callArgs: map[string][]interface{}{},
	}
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	method, err := parsedABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, method.Name)
	f.callArgs[method.Name] = args

	switch method.Name {
	case "getOrderBook":
		return method.Outputs.Pack(f.book)
	case "getParticipantSharesPurchased":
		return method.Outputs.Pack(f.position)
	case "balance":
		return method.Outputs.Pack(f.cash)
	case "commitTrade":
		return method.Outputs.Pack(f.status)
	case "trade":
		return method.Outputs.Pack(f.status, f.tradeOut[0], f.tradeOut[1], f.tradeOut[2], f.tradeOut[3], f.tradeOut[4])
	case "shortSell":
		return method.Outputs.Pack(f.status, f.shortOut[0], f.shortOut[1], f.shortOut[2], f.shortOut[3])
	}
	return nil, fmt.Errorf("unexpected method %s", method.Name)
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return gwei20, nil }

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls <= f.pendingPolls {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if f.reverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{
		Status:            status,
		TxHash:            hash,
		GasUsed:           50_000,
		EffectiveGasPrice: gwei20,
		BlockNumber:       big.NewInt(7),
	}, nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}
func (instantClock) Now() time.Time { return time.Time{} }

func newTestLedger(t *testing.T, b *fakeBackend) (*Ledger, *crypto.Signer) {
	t.Helper()
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg := Config{Contract: common.HexToAddress("0xc0ffee")}
	return New(b, signer, cfg, zaptest.NewLogger(t).Sugar(), instantClock{}), signer
}

func fix(s string) *big.Int { return fxp.Fix(fxp.MustParse(s)) }

func orderWordsFor(id int64, typ orderbook.Type, amount, price string, owner common.Address, outcome int64) []*big.Int {
	return []*big.Int{
		big.NewInt(id),
		big.NewInt(int64(typ)),
		big.NewInt(0xabc),
		fix(amount),
		fix(price),
		new(big.Int).SetBytes(owner.Bytes()),
		big.NewInt(42),
		big.NewInt(outcome),
	}
}

func TestOrderBookDecodesFlatWords(t *testing.T) {
	b := newFakeBackend()
	owner := common.HexToAddress("0x1111")
	b.book = append(b.book, orderWordsFor(1, orderbook.Sell, "2.5", "0.6", owner, 2)...)
	b.book = append(b.book, orderWordsFor(2, orderbook.Buy, "1", "0.4", owner, 2)...)
	b.book = append(b.book, orderWordsFor(3, orderbook.Buy, "0", "0.3", owner, 2)...) // filled

	l, _ := newTestLedger(t, b)
	book, err := l.OrderBook(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Equal(t, 2, book.Len())

	asks := book.Orders("2", orderbook.Sell)
	require.Len(t, asks, 1)
	ask := asks[0]
	assert.Equal(t, common.BigToHash(big.NewInt(1)).Hex(), ask.ID)
	assert.Equal(t, owner, ask.Owner)
	assert.Equal(t, uint64(42), ask.Block)
	assert.True(t, ask.FullPrecisionAmount.Equal(fxp.MustParse("2.5")))
	assert.True(t, ask.FullPrecisionPrice.Sub(fxp.MustParse("0.6")).Abs().LessThan(fxp.MustParse("0.0000000000000000001")))

	assert.Len(t, book.Orders("2", orderbook.Buy), 1)
}

func TestOrderBookRejectsMalformedResult(t *testing.T) {
	b := newFakeBackend()
	b.book = []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	l, _ := newTestLedger(t, b)

	_, err := l.OrderBook(context.Background(), "0xabc")
	require.ErrorIs(t, err, settlement.ErrStructural)
}

func TestReadsArePassedThrough(t *testing.T) {
	b := newFakeBackend()
	b.position = fix("3")
	b.cash = fix("12.5")
	l, signer := newTestLedger(t, b)
	ctx := context.Background()

	pos, err := l.Position(ctx, "0xabc", "2", signer.Address())
	require.NoError(t, err)
	assert.Equal(t, "3", pos.String())

	args := b.callArgs["getParticipantSharesPurchased"]
	require.Len(t, args, 3)
	assert.Equal(t, signer.Address(), args[1])
	assert.Equal(t, int64(2), args[2].(*big.Int).Int64())

	cash, err := l.CashBalance(ctx, signer.Address())
	require.NoError(t, err)
	assert.Equal(t, "12.5", cash.String())

	_, err = l.Position(ctx, "0xabc", "yes", signer.Address())
	require.ErrorIs(t, err, fxp.ErrInvalidNumber)
}

func TestCallFailureIsStructural(t *testing.T) {
	b := newFakeBackend()
	b.callErr = errors.New("connection refused")
	l, signer := newTestLedger(t, b)

	_, err := l.CashBalance(context.Background(), signer.Address())
	require.ErrorIs(t, err, settlement.ErrStructural)
}

func tradeParams(sender common.Address) settlement.TradeParams {
	return settlement.TradeParams{
		Market:       "0xabc",
		Outcome:      "2",
		MaxValue:     fxp.MustParse("1.5"),
		MaxAmount:    fxp.Zero,
		TradeIDs:     []string{"0x01", "0x02"},
		TradeGroupID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		Sender:       sender,
	}
}

func TestCommitTradeSendsSignedTx(t *testing.T) {
	b := newFakeBackend()
	b.pendingPolls = 2
	l, signer := newTestLedger(t, b)
	p := tradeParams(signer.Address())

	c, err := l.CommitTrade(context.Background(), p)
	require.NoError(t, err)

	want := crypto.TradeHash(p.MaxValue, p.MaxAmount, []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")})
	assert.Equal(t, want, c.TradeHash)
	assert.Equal(t, "0.001", c.GasFees.String())
	assert.Equal(t, 3, b.polls)

	require.Len(t, b.sent, 1)
	tx := b.sent[0]
	assert.Equal(t, c.TxHash, tx.Hash())
	assert.Equal(t, uint64(90_000), tx.Gas())
	from, err := crypto.Sender(tx, big.NewInt(1337))
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)

	args := b.callArgs["commitTrade"]
	assert.Equal(t, [32]byte(want), args[0])
}

func TestCommitTradeRejectedBySimulation(t *testing.T) {
	b := newFakeBackend()
	b.status = big.NewInt(-2)
	l, signer := newTestLedger(t, b)

	_, err := l.CommitTrade(context.Background(), tradeParams(signer.Address()))
	require.ErrorIs(t, err, settlement.ErrCommitRejected)
	assert.Empty(t, b.sent)
}

func TestTradeRevertedReceiptIsRejection(t *testing.T) {
	b := newFakeBackend()
	b.reverted = true
	b.tradeOut = []*big.Int{fix("3"), fix("0"), fix("0"), fix("0"), fix("0.01")}
	l, signer := newTestLedger(t, b)
	p := tradeParams(signer.Address())
	hash := crypto.TradeHash(p.MaxValue, p.MaxAmount, tradeIDHashes(p.TradeIDs))

	_, err := l.Trade(context.Background(), hash, p)
	require.ErrorIs(t, err, settlement.ErrTradeRejected)
	assert.True(t, settlement.Skippable(err))
}

func TestTradeDecodesReceipt(t *testing.T) {
	b := newFakeBackend()
	b.tradeOut = []*big.Int{fix("3"), fix("0"), fix("0"), fix("0.25"), fix("0.01")}
	l, signer := newTestLedger(t, b)
	p := tradeParams(signer.Address())
	hash := crypto.TradeHash(p.MaxValue, p.MaxAmount, tradeIDHashes(p.TradeIDs))

	r, err := l.Trade(context.Background(), hash, p)
	require.NoError(t, err)
	assert.Equal(t, "3", r.SharesBought.String())
	assert.Equal(t, "0.25", r.UnmatchedCash.String())
	assert.Equal(t, "0.001", r.GasFees.String())

	args := b.callArgs["trade"]
	require.Len(t, args, 4)
	assert.Equal(t, fix("1.5"), args[0])
	ids := args[2].([][32]byte)
	assert.Equal(t, [32]byte(common.HexToHash("0x02")), ids[1])
	assert.Equal(t, groupID(p.TradeGroupID), args[3])
}

func TestTradeHashMismatchIsStructural(t *testing.T) {
	b := newFakeBackend()
	l, signer := newTestLedger(t, b)

	_, err := l.Trade(context.Background(), common.HexToHash("0xdead"), tradeParams(signer.Address()))
	require.ErrorIs(t, err, settlement.ErrStructural)
	assert.Empty(t, b.sent)
}

func TestShortSell(t *testing.T) {
	b := newFakeBackend()
	b.shortOut = []*big.Int{fix("2"), fix("1.25"), fix("1"), fix("0.03125")}
	l, signer := newTestLedger(t, b)

	r, err := l.ShortSell(context.Background(), common.Hash{}, settlement.ShortSellParams{
		Market:       "0xabc",
		Outcome:      "1",
		BuyerTradeID: "0x07",
		MaxAmount:    fxp.MustParse("3"),
		Sender:       signer.Address(),
	})
	require.NoError(t, err)
	assert.Equal(t, "2", r.MatchedShares.String())
	assert.Equal(t, "1.25", r.CashFromTrade.String())
	assert.Equal(t, "1", r.UnmatchedShares.String())
	assert.Equal(t, "0.03125", r.TradingFees.String())

	args := b.callArgs["shortSell"]
	assert.Equal(t, [32]byte(common.HexToHash("0x07")), args[0])
	assert.Equal(t, [32]byte{}, args[2])
}

func TestGroupID(t *testing.T) {
	assert.Equal(t, [32]byte{}, groupID(""))

	g := groupID("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.Equal(t, byte(0x6b), g[16])
	assert.Equal(t, byte(0), g[0])

	assert.NotEqual(t, [32]byte{}, groupID("not-a-uuid"))
}

func TestReceiptWaitHonoursCancellation(t *testing.T) {
	b := newFakeBackend()
	b.pendingPolls = 1 << 30
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)
	l := New(b, signer, Config{}, nil, neverClock{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.waitMined(ctx, common.Hash{})
	require.ErrorIs(t, err, context.Canceled)
}

type neverClock struct{}

func (neverClock) After(time.Duration) <-chan time.Time { return nil }
func (neverClock) Now() time.Time                       { return time.Time{} }

func TestTradeNonceRaceIsTradeRejection(t *testing.T) {
	b := newFakeBackend()
	b.sendErr = errors.New("nonce too low")
	b.tradeOut = []*big.Int{fix("1"), fix("0"), fix("0"), fix("0"), fix("0")}
	l, signer := newTestLedger(t, b)
	p := tradeParams(signer.Address())
	hash := crypto.TradeHash(p.MaxValue, p.MaxAmount, tradeIDHashes(p.TradeIDs))

	_, err := l.Trade(context.Background(), hash, p)
	require.ErrorIs(t, err, settlement.ErrTradeRejected)
	assert.NotErrorIs(t, err, settlement.ErrCommitRejected)

	_, err = l.CommitTrade(context.Background(), p)
	require.ErrorIs(t, err, settlement.ErrCommitRejected)
}

func TestUnminedTransactionTimesOut(t *testing.T) {
	b := newFakeBackend()
	b.pendingPolls = 1 << 30
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg := Config{Contract: common.HexToAddress("0xc0ffee"), ReceiptTimeout: 20 * time.Millisecond}
	l := New(b, signer, cfg, zaptest.NewLogger(t).Sugar(), neverClock{})

	_, err = l.CommitTrade(context.Background(), tradeParams(signer.Address()))
	require.ErrorIs(t, err, settlement.ErrStructural)
	assert.False(t, settlement.Skippable(err))
	assert.Len(t, b.sent, 1)
}

func TestExecutionEndsWhenReceiptNeverArrives(t *testing.T) {
	b := newFakeBackend()
	b.pendingPolls = 1 << 30
	b.cash = fix("5")
	b.book = orderWordsFor(1, orderbook.Sell, "2", "0.5", common.HexToAddress("0x1111"), 2)
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg := Config{Contract: common.HexToAddress("0xc0ffee"), ReceiptTimeout: 50 * time.Millisecond}
	l := New(b, signer, cfg, zaptest.NewLogger(t).Sugar(), neverClock{})
	engine := execution.NewEngine(l, execution.DefaultConfig(), zaptest.NewLogger(t).Sugar(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	var gotErr error
	done := engine.Start(ctx, execution.Request{
		Market:   "0xabc",
		Outcome:  "2",
		TotalEth: fxp.MustParse("1"),
		Sender:   signer.Address(),
	}, execution.Callbacks{OnError: func(err error) { gotErr = err }})
	time.AfterFunc(10*time.Millisecond, cancel)

	select {
	case out := <-done:
		require.ErrorIs(t, out.Err, settlement.ErrStructural)
		assert.ErrorIs(t, gotErr, settlement.ErrStructural)
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not finish after the receipt timeout")
	}
}
