package market

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickorders/pkg/curve"
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrMarketExists   = errors.New("market already registered")
	ErrMarketPaused   = errors.New("market is not accepting orders")
	ErrInvalidMarket  = errors.New("invalid market")
	ErrBadTransition  = errors.New("invalid status transition")
)

// Status defines the trading status of a market
type Status int8

const (
	Active Status = iota // placement and swaps enabled
	Paused               // placement halted, fills still run
	Closed               // terminal
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus is case-insensitive.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "active":
		return Active, nil
	case "paused":
		return Paused, nil
	case "closed":
		return Closed, nil
	default:
		return 0, fmt.Errorf("unknown market status %q", s)
	}
}

// Market binds a human symbol ("WETH-USDC") to a curve pool.
type Market struct {
	Symbol string        `json:"symbol"`
	Key    curve.PoolKey `json:"key"`
	Status Status        `json:"status"`

	// Token metadata for display only
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// ID is the pool id of the market's curve pool.
func (m *Market) ID() common.Hash { return m.Key.ID() }

// NewMarket validates the symbol and pool key. Base and quote default to the
// two halves of a "BASE-QUOTE" symbol.
func NewMarket(symbol string, key curve.PoolKey) (*Market, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" || strings.ContainsAny(symbol, " /:") {
		return nil, fmt.Errorf("%w: symbol %q", ErrInvalidMarket, symbol)
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarket, err)
	}
	m := &Market{Symbol: symbol, Key: key, Status: Active}
	if base, quote, ok := strings.Cut(symbol, "-"); ok {
		m.Base, m.Quote = base, quote
	}
	return m, nil
}

func (m *Market) clone() *Market {
	cp := *m
	return &cp
}
