package app

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/ledger"
	"github.com/uhyunpark/tickorders/pkg/limitorder"
	"github.com/uhyunpark/tickorders/pkg/market"
	"github.com/uhyunpark/tickorders/pkg/pricemath"
)

// MarketState is a market with its curve's current price.
type MarketState struct {
	*market.Market
	Slot0 curve.Slot0 `json:"slot0"`
	// Price is currency1 per currency0 at the current sqrt price.
	Price string `json:"price"`
}

func (a *App) marketState(m *market.Market) (MarketState, error) {
	slot, err := a.curve.Slot0(m.Key)
	if err != nil {
		return MarketState{}, err
	}
	price := pricemath.SqrtPriceX96ToPrice(slot.SqrtPriceX96)
	return MarketState{Market: m, Slot0: slot, Price: price.FloatString(8)}, nil
}

func (a *App) Market(symbol string) (MarketState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := a.markets.Get(symbol)
	if err != nil {
		return MarketState{}, err
	}
	return a.marketState(m)
}

func (a *App) Markets() ([]MarketState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	list := a.markets.List()
	out := make([]MarketState, 0, len(list))
	for _, m := range list {
		st, err := a.marketState(m)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Levels lists the occupied levels of a market and the orders resting there.
func (a *App) Levels(symbol string) ([]limitorder.LevelView, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := a.markets.Get(symbol)
	if err != nil {
		return nil, err
	}
	return a.engine.Registry().Levels(m.ID()), nil
}

func (a *App) Order(id uint64) (limitorder.OrderView, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine.GetOrder(id)
}

// Orders lists the stored orders of owner across markets.
func (a *App) Orders(owner common.Address) []limitorder.OrderView {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine.Registry().Orders(owner)
}

// PreviewClaim reports what claiming id would pay.
func (a *App) PreviewClaim(id uint64) (limitorder.Split, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine.PreviewClaim(id)
}

func (a *App) Balance(account, currency common.Address) *big.Int {
	return a.ledger.BalanceOf(account, currency)
}

func (a *App) Balances(account common.Address) []ledger.Balance {
	return a.ledger.Balances(account)
}

func (a *App) Treasury() common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine.Treasury()
}

// HookAccount is the custody account of order deposits and proceeds.
func (a *App) HookAccount() common.Address { return a.cfg.HookAccount }

func (a *App) FaucetEnabled() bool { return a.cfg.FaucetEnabled }

// ChainID is the chain id of the request signing domain.
func (a *App) ChainID() int64 { return a.signer.Domain().ChainID.Int64() }
