package orderbook

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/predikt/pkg/fxp"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func order(id string, t Type, outcome, amount, price string, owner common.Address) Order {
	return Order{
		ID:      id,
		Type:    t,
		Outcome: outcome,
		Owner:   owner,
		Amount:  fxp.MustParse(amount),
		Price:   fxp.MustParse(price),
	}
}

func TestBookAddGetRemove(t *testing.T) {
	b := New("m1")
	require.NoError(t, b.Add(order("o1", Buy, "1", "2", "0.5", alice)))
	require.NoError(t, b.Add(order("o2", Sell, "1", "3", "0.7", bob)))
	require.NoError(t, b.Add(order("o3", Sell, "2", "1", "0.4", bob)))

	err := b.Add(order("o1", Sell, "2", "1", "0.1", bob))
	assert.ErrorIs(t, err, ErrDuplicateOrder)

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []string{"1", "2"}, b.Outcomes())

	o, ok := b.Get("o2")
	require.True(t, ok)
	assert.Equal(t, Sell, o.Type)

	next, err := b.Consume("o2", fxp.New(3))
	require.NoError(t, err)
	_, ok = next.Get("o2")
	assert.False(t, ok)
	assert.Empty(t, next.Orders("1", Sell))
	assert.Equal(t, 2, next.Len())
}

func TestBookRejectsInvalidOrders(t *testing.T) {
	b := New("m1")
	tests := []struct {
		name string
		o    Order
	}{
		{"no id", order("", Buy, "1", "1", "0.5", alice)},
		{"bad type", order("x", Type(9), "1", "1", "0.5", alice)},
		{"no outcome", order("x", Buy, "", "1", "0.5", alice)},
		{"zero amount", order("x", Buy, "1", "0", "0.5", alice)},
		{"negative price", order("x", Buy, "1", "1", "-0.5", alice)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, b.Add(tt.o))
		})
	}
	assert.Equal(t, 0, b.Len())
}

func TestConsumeLeavesOriginalUntouched(t *testing.T) {
	b, err := FromOrders("m1", []Order{
		order("a", Sell, "1", "5", "0.6", bob),
		order("b", Sell, "1", "1", "0.4", bob),
	})
	require.NoError(t, err)

	partial, err := b.Consume("a", fxp.MustParse("2"))
	require.NoError(t, err)
	got, ok := partial.Get("a")
	require.True(t, ok)
	assert.Equal(t, "3", got.ExactAmount().String())

	orig, ok := b.Get("a")
	require.True(t, ok)
	assert.Equal(t, "5", orig.Amount.String())

	empty, err := partial.Consume("a", fxp.MustParse("3"))
	require.NoError(t, err)
	_, found := empty.Get("a")
	assert.False(t, found)
	assert.Equal(t, 1, empty.Len())
	_, found = partial.Get("a")
	assert.True(t, found)
	assert.Equal(t, 2, b.Len())

	_, err = b.Consume("nope", fxp.New(1))
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCloneIsIndependent(t *testing.T) {
	b, err := FromOrders("m1", []Order{order("a", Buy, "1", "5", "0.6", bob)})
	require.NoError(t, err)

	c := b.Clone()
	require.NoError(t, c.Add(order("b", Buy, "1", "1", "0.5", bob)))

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, b.Len())
}

func TestLevels(t *testing.T) {
	b, err := FromOrders("m1", []Order{
		order("b1", Buy, "1", "1", "0.5", alice),
		order("b2", Buy, "1", "2", "0.7", bob),
		order("b3", Buy, "1", "3", "0.50", bob),
		order("s1", Sell, "1", "1", "0.9", bob),
		order("s2", Sell, "1", "4", "0.8", alice),
	})
	require.NoError(t, err)

	bids := b.Levels("1", Buy)
	require.Len(t, bids, 2)
	assert.Equal(t, "0.7", bids[0].Price.String())
	assert.Equal(t, "0.5", bids[1].Price.String())
	assert.Equal(t, "4", bids[1].Amount.String())
	assert.Equal(t, 2, bids[1].Orders)

	asks := b.Levels("1", Sell)
	require.Len(t, asks, 2)
	assert.Equal(t, "0.8", asks[0].Price.String())

	assert.Empty(t, b.Levels("7", Sell))
}

func TestOrderJSON(t *testing.T) {
	raw := `{"id":"o1","type":"sell","outcome":"2","owner":"0x00000000000000000000000000000000000000b2","amount":"5","price":"0.6","fullPrecisionAmount":"5","fullPrecisionPrice":"0.6000001"}`
	var o Order
	require.NoError(t, json.Unmarshal([]byte(raw), &o))
	assert.Equal(t, Sell, o.Type)
	assert.Equal(t, bob, o.Owner)
	assert.Equal(t, "0.6000001", o.ExactPrice().String())
	assert.Equal(t, "0.6", o.Price.String())

	var bad Order
	assert.Error(t, json.Unmarshal([]byte(`{"type":"hold"}`), &bad))
}
