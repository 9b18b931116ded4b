package market

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickorders/pkg/journal"
	"github.com/uhyunpark/tickorders/pkg/storage"
)

// Registry manages markets in a thread-safe manner.
// Markets are looked up by symbol or by pool id.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market     // symbol -> market
	byID    map[common.Hash]string // pool id -> symbol
	dirty   map[string]struct{}
	journal *journal.Journal
}

// NewRegistry creates an empty market registry recording undo entries into
// j (may be nil).
func NewRegistry(j *journal.Journal) *Registry {
	return &Registry{
		markets: make(map[string]*Market),
		byID:    make(map[common.Hash]string),
		dirty:   make(map[string]struct{}),
		journal: j,
	}
}

// Register adds a new market. Symbols and pools are both unique.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("%w: nil market", ErrInvalidMarket)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.Symbol]; exists {
		return fmt.Errorf("%w: %s", ErrMarketExists, m.Symbol)
	}
	id := m.ID()
	if other, exists := r.byID[id]; exists {
		return fmt.Errorf("%w: pool %s already listed as %s", ErrMarketExists, id.Hex(), other)
	}

	symbol := m.Symbol
	r.journal.Append(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.markets, symbol)
		delete(r.byID, id)
		r.dirty[symbol] = struct{}{}
	})
	r.markets[symbol] = m.clone()
	r.byID[id] = symbol
	r.dirty[symbol] = struct{}{}
	return nil
}

// Get retrieves a copy of a market by symbol
func (r *Registry) Get(symbol string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.markets[symbol]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	return m.clone(), nil
}

// GetByID retrieves a copy of the market trading pool id.
func (r *Registry) GetByID(id common.Hash) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	symbol, exists := r.byID[id]
	if !exists {
		return nil, fmt.Errorf("%w: pool %s", ErrMarketNotFound, id.Hex())
	}
	return r.markets[symbol].clone(), nil
}

// List returns all registered markets sorted by symbol
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	markets := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		markets = append(markets, m.clone())
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })
	return markets
}

// ListActive returns only markets with Active status
func (r *Registry) ListActive() []*Market {
	all := r.List()
	active := all[:0]
	for _, m := range all {
		if m.Status == Active {
			active = append(active, m)
		}
	}
	return active
}

// CheckTradable fails unless the market exists and accepts new orders.
func (r *Registry) CheckTradable(symbol string) (*Market, error) {
	m, err := r.Get(symbol)
	if err != nil {
		return nil, err
	}
	if m.Status != Active {
		return nil, fmt.Errorf("%w: %s is %s", ErrMarketPaused, symbol, m.Status)
	}
	return m, nil
}

// UpdateStatus changes the trading status of a market.
// Used for emergency pausing and closing.
func (r *Registry) UpdateStatus(symbol string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.markets[symbol]
	if !exists {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	if err := validateTransition(m.Status, status); err != nil {
		return err
	}

	prev := m.Status
	r.journal.Append(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if m, ok := r.markets[symbol]; ok {
			m.Status = prev
		}
		r.dirty[symbol] = struct{}{}
	})
	m.Status = status
	r.dirty[symbol] = struct{}{}
	return nil
}

// Active <-> Paused, either -> Closed. Closed is terminal.
func validateTransition(from, to Status) error {
	if from == Closed {
		return fmt.Errorf("%w: %s is terminal", ErrBadTransition, from)
	}
	if to < Active || to > Closed {
		return fmt.Errorf("%w: unknown status %d", ErrBadTransition, to)
	}
	return nil
}

// Count returns the total number of registered markets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// Exists checks if a market is registered
func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.markets[symbol]
	return exists
}

func marketKey(symbol string) []byte {
	return storage.Key(storage.PrefixMarket, []byte(symbol))
}

// Flush stages new and changed markets into b.
func (r *Registry) Flush(b *storage.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for symbol := range r.dirty {
		m, ok := r.markets[symbol]
		if !ok {
			if err := b.Delete(marketKey(symbol)); err != nil {
				return err
			}
			continue
		}
		if err := b.SetJSON(marketKey(symbol), m); err != nil {
			return fmt.Errorf("stage market %s: %w", symbol, err)
		}
	}
	clear(r.dirty)
	return nil
}

// Load replaces the registry contents with the persisted markets.
func (r *Registry) Load(s *storage.PebbleStore) error {
	markets := make(map[string]*Market)
	byID := make(map[common.Hash]string)
	err := s.Iterate([]byte(storage.PrefixMarket), func(key, value []byte) error {
		var m Market
		if err := storage.DecodeJSON(value, &m); err != nil {
			return fmt.Errorf("decode market %q: %w", key, err)
		}
		markets[m.Symbol] = &m
		byID[m.ID()] = m.Symbol
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets, r.byID = markets, byID
	clear(r.dirty)
	return nil
}
