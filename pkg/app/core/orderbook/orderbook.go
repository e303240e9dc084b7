// Package orderbook holds the client's read-only view of a market's resting
// orders, keyed by outcome and side.
package orderbook

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/uhyunpark/predikt/pkg/fxp"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("duplicate order id")
)

// Side holds the resting orders of one outcome in arrival order.
type Side struct {
	Buy  []Order `json:"buy"`
	Sell []Order `json:"sell"`
}

func (s *Side) list(t Type) *[]Order {
	if t == Buy {
		return &s.Buy
	}
	return &s.Sell
}

type PriceLevel struct {
	Price  fxp.Decimal `json:"price"`
	Amount fxp.Decimal `json:"amount"`
	Orders int         `json:"orders"`
}

type location struct {
	outcome string
	typ     Type
}

// Book is a snapshot of a market's order book.
type Book struct {
	mu sync.RWMutex

	Market string
	sides  map[string]*Side
	index  map[string]location // order ID -> where it rests
}

func New(market string) *Book {
	return &Book{
		Market: market,
		sides:  make(map[string]*Side),
		index:  make(map[string]location),
	}
}

// FromOrders builds a book, rejecting invalid or duplicate orders.
func FromOrders(market string, orders []Order) (*Book, error) {
	b := New(market)
	for _, o := range orders {
		if err := b.Add(o); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Book) Add(o Order) error {
	if err := o.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.index[o.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID)
	}
	s, ok := b.sides[o.Outcome]
	if !ok {
		s = &Side{}
		b.sides[o.Outcome] = s
	}
	l := s.list(o.Type)
	*l = append(*l, o)
	b.index[o.ID] = location{outcome: o.Outcome, typ: o.Type}
	return nil
}

func (b *Book) removeLocked(id string) bool {
	loc, ok := b.index[id]
	if !ok {
		return false
	}
	l := b.sides[loc.outcome].list(loc.typ)
	for i, o := range *l {
		if o.ID == id {
			*l = append((*l)[:i:i], (*l)[i+1:]...)
			break
		}
	}
	delete(b.index, id)
	return true
}

func (b *Book) Get(id string) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	loc, ok := b.index[id]
	if !ok {
		return Order{}, false
	}
	for _, o := range *b.sides[loc.outcome].list(loc.typ) {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}

// Orders returns a copy of the orders resting on one side of an outcome.
func (b *Book) Orders(outcome string, t Type) []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.sides[outcome]
	if !ok {
		return nil
	}
	l := *s.list(t)
	out := make([]Order, len(l))
	copy(out, l)
	return out
}

// Outcomes lists outcomes with at least one order, sorted.
func (b *Book) Outcomes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.sides))
	for outcome, s := range b.sides {
		if len(s.Buy)+len(s.Sell) > 0 {
			out = append(out, outcome)
		}
	}
	sort.Strings(out)
	return out
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}

// Consume returns a copy of the book with amount shares of an order filled.
// A fully consumed order is dropped from the copy. b itself is unchanged.
func (b *Book) Consume(id string, amount fxp.Decimal) (*Book, error) {
	c := b.Clone()

	loc, found := c.index[id]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	l := c.sides[loc.outcome].list(loc.typ)
	for i, o := range *l {
		if o.ID != id {
			continue
		}
		if rest, ok := o.Reduce(amount); ok {
			(*l)[i] = rest
		} else {
			c.removeLocked(id)
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
}

func (b *Book) Clone() *Book {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c := New(b.Market)
	for outcome, s := range b.sides {
		c.sides[outcome] = &Side{
			Buy:  append([]Order(nil), s.Buy...),
			Sell: append([]Order(nil), s.Sell...),
		}
	}
	for id, loc := range b.index {
		c.index[id] = loc
	}
	return c
}

// Levels aggregates one side of an outcome by price: bids high to low, asks
// low to high.
func (b *Book) Levels(outcome string, t Type) []PriceLevel {
	orders := b.Orders(outcome, t)

	byPrice := make(map[string]*PriceLevel)
	var levels []*PriceLevel
	for _, o := range orders {
		key := o.Price.String()
		lvl, ok := byPrice[key]
		if !ok {
			lvl = &PriceLevel{Price: o.Price}
			byPrice[key] = lvl
			levels = append(levels, lvl)
		}
		lvl.Amount = lvl.Amount.Add(o.Amount)
		lvl.Orders++
	}

	sort.SliceStable(levels, func(i, j int) bool {
		if t == Buy {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})

	out := make([]PriceLevel, len(levels))
	for i, lvl := range levels {
		out[i] = *lvl
	}
	return out
}
