// Package market keeps the prediction markets the client knows about.
package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

var (
	ErrMarketNotFound    = errors.New("market not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Registry manages markets in a thread-safe manner.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market // id -> market
}

func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]*Market),
	}
}

// Register adds a market. A copy is stored, so later changes to m are not
// seen by the registry.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}
	if err := m.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.ID]; exists {
		return fmt.Errorf("market %s already registered", m.ID)
	}
	cp := *m
	cp.Outcomes = append([]string(nil), m.Outcomes...)
	r.markets[m.ID] = &cp
	return nil
}

// Get returns a copy of the market.
func (r *Registry) Get(id string) (Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.markets[id]
	if !exists {
		return Market{}, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	return *m, nil
}

// List returns all markets ordered by id.
func (r *Registry) List() []Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

func (r *Registry) Halt(id string) error   { return r.setStatus(id, Halted) }
func (r *Registry) Resume(id string) error { return r.setStatus(id, Active) }
func (r *Registry) Close(id string) error  { return r.setStatus(id, Closed) }

func (r *Registry) setStatus(id string, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.markets[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if err := validateTransition(m.Status, to); err != nil {
		return fmt.Errorf("market %s: %w", id, err)
	}
	m.Status = to
	return nil
}

// validateTransition allows active <-> halted and anything -> closed.
// Closed is terminal.
func validateTransition(from, to Status) error {
	if from == Closed {
		return fmt.Errorf("%w: cannot change status from closed", ErrInvalidTransition)
	}
	if from == to {
		return fmt.Errorf("%w: already %s", ErrInvalidTransition, to)
	}
	return nil
}

// LoadFile registers every market in a JSON array file.
func (r *Registry) LoadFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read markets file: %w", err)
	}
	var markets []*Market
	if err := json.Unmarshal(raw, &markets); err != nil {
		return 0, fmt.Errorf("decode markets file %s: %w", path, err)
	}
	for i, m := range markets {
		if err := r.Register(m); err != nil {
			return i, err
		}
	}
	return len(markets), nil
}
