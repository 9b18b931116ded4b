// Package ledger holds custody balances per (account, currency).
//
// All mutations are journaled so the host can roll back a failed operation,
// and recorded as dirty so the host can persist them in one batch.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickorders/pkg/journal"
	"github.com/uhyunpark/tickorders/pkg/storage"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrBadNonce            = errors.New("bad nonce")
)

type balanceKey struct {
	Account  common.Address
	Currency common.Address
}

// Balance is one (account, currency) entry.
type Balance struct {
	Account  common.Address `json:"account"`
	Currency common.Address `json:"currency"`
	Amount   *big.Int       `json:"amount"`
}

// Ledger tracks balances and request nonces.
// Uses in-memory state + Pebble persistence through the host's batch.
type Ledger struct {
	mu       sync.RWMutex
	balances map[balanceKey]*big.Int
	nonces   map[common.Address]uint64

	dirtyBalances map[balanceKey]struct{}
	dirtyNonces   map[common.Address]struct{}

	journal *journal.Journal
}

// New creates an empty ledger recording undo entries into j (may be nil).
func New(j *journal.Journal) *Ledger {
	return &Ledger{
		balances:      make(map[balanceKey]*big.Int),
		nonces:        make(map[common.Address]uint64),
		dirtyBalances: make(map[balanceKey]struct{}),
		dirtyNonces:   make(map[common.Address]struct{}),
		journal:       j,
	}
}

// BalanceOf returns a copy of the balance (zero if never credited).
func (l *Ledger) BalanceOf(account, currency common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[balanceKey{account, currency}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// setLocked replaces a balance and journals the previous value.
func (l *Ledger) setLocked(k balanceKey, v *big.Int) {
	prev, existed := l.balances[k]
	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existed {
			l.balances[k] = prev
		} else {
			delete(l.balances, k)
		}
		l.dirtyBalances[k] = struct{}{}
	})
	if v.Sign() == 0 {
		delete(l.balances, k)
	} else {
		l.balances[k] = v
	}
	l.dirtyBalances[k] = struct{}{}
}

// Deposit credits amount out of thin air. Used by the faucet and tests.
func (l *Ledger) Deposit(account, currency common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{account, currency}
	next := new(big.Int).Add(l.balanceLocked(k), amount)
	l.setLocked(k, next)
	return nil
}

func (l *Ledger) balanceLocked(k balanceKey) *big.Int {
	if b, ok := l.balances[k]; ok {
		return b
	}
	return new(big.Int)
}

// Transfer moves amount of currency from one account to another.
// A zero amount is a no-op; negative amounts are rejected.
func (l *Ledger) Transfer(from, to, currency common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: transfer of %v", ErrInvalidAmount, amount)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fk := balanceKey{from, currency}
	have := l.balanceLocked(fk)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, need %s",
			ErrInsufficientBalance, from.Hex(), have, currency.Hex(), amount)
	}

	tk := balanceKey{to, currency}
	l.setLocked(fk, new(big.Int).Sub(have, amount))
	l.setLocked(tk, new(big.Int).Add(l.balanceLocked(tk), amount))
	return nil
}

// Nonce returns the last nonce accepted for account (0 if none).
func (l *Ledger) Nonce(account common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nonces[account]
}

// UseNonce accepts nonce if it is greater than the last accepted one.
func (l *Ledger) UseNonce(account common.Address, nonce uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.nonces[account]
	if nonce <= prev {
		return fmt.Errorf("%w: got %d, last used %d", ErrBadNonce, nonce, prev)
	}
	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.nonces[account] = prev
		l.dirtyNonces[account] = struct{}{}
	})
	l.nonces[account] = nonce
	l.dirtyNonces[account] = struct{}{}
	return nil
}

// TotalSupply sums every balance of currency.
func (l *Ledger) TotalSupply(currency common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := new(big.Int)
	for k, v := range l.balances {
		if k.Currency == currency {
			total.Add(total, v)
		}
	}
	return total
}

// Balances lists every non-zero balance of account, ordered by currency.
func (l *Ledger) Balances(account common.Address) []Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Balance
	for k, v := range l.balances {
		if k.Account == account {
			out = append(out, Balance{Account: k.Account, Currency: k.Currency, Amount: new(big.Int).Set(v)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Currency.Cmp(out[j].Currency) < 0
	})
	return out
}

// Flush stages every change since the last flush into b.
func (l *Ledger) Flush(b *storage.Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k := range l.dirtyBalances {
		key := balanceStoreKey(k.Account, k.Currency)
		if v, ok := l.balances[k]; ok {
			if err := b.Set(key, []byte(v.String())); err != nil {
				return err
			}
		} else if err := b.Delete(key); err != nil {
			return err
		}
	}
	for addr := range l.dirtyNonces {
		if err := b.Set(nonceStoreKey(addr), storage.Uint64Key(l.nonces[addr])); err != nil {
			return err
		}
	}
	clear(l.dirtyBalances)
	clear(l.dirtyNonces)
	return nil
}

// Load replaces in-memory state with what is persisted in s.
func (l *Ledger) Load(s *storage.PebbleStore) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	balances := make(map[balanceKey]*big.Int)
	err := s.Iterate([]byte(storage.PrefixBalance), func(key, value []byte) error {
		account, currency, err := parseBalanceKey(key)
		if err != nil {
			return err
		}
		v, ok := new(big.Int).SetString(string(value), 10)
		if !ok {
			return fmt.Errorf("corrupt balance at %q", key)
		}
		balances[balanceKey{account, currency}] = v
		return nil
	})
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}

	nonces := make(map[common.Address]uint64)
	err = s.Iterate([]byte(storage.PrefixNonce), func(key, value []byte) error {
		addr, err := parseNonceKey(key)
		if err != nil {
			return err
		}
		if len(value) != 8 {
			return fmt.Errorf("corrupt nonce at %q", key)
		}
		nonces[addr] = storage.DecodeUint64Key(value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load nonces: %w", err)
	}

	l.balances = balances
	l.nonces = nonces
	clear(l.dirtyBalances)
	clear(l.dirtyNonces)
	return nil
}
