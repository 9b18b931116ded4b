package app

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/limitorder"
	"github.com/uhyunpark/tickorders/pkg/market"
	"github.com/uhyunpark/tickorders/pkg/pricemath"
)

// CreateMarket initializes a pool at initialTick, lists it under symbol and
// attaches the order engine to it.
func (a *App) CreateMarket(symbol string, key curve.PoolKey, initialTick int32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := market.NewMarket(symbol, key)
	if err != nil {
		return err
	}
	if a.markets.Exists(symbol) {
		return fmt.Errorf("%w: %s", market.ErrMarketExists, symbol)
	}
	sqrtP, err := pricemath.SqrtRatioAtTick(initialTick)
	if err != nil {
		return err
	}

	_, err = a.apply("create_market", m, func() ([]Notification, error) {
		if _, err := a.curve.Initialize(key, sqrtP); err != nil {
			return nil, err
		}
		if err := a.markets.Register(m); err != nil {
			return nil, err
		}
		// hooks are not journaled
		return nil, a.curve.SetHook(key, a.engine)
	})
	return err
}

// HasMarket reports whether symbol is listed.
func (a *App) HasMarket(symbol string) bool {
	return a.markets.Exists(symbol)
}

// SetMarketStatus pauses, resumes or closes a market. Only the treasury may
// call it.
func (a *App) SetMarketStatus(caller common.Address, symbol string, status market.Status) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.engine.Treasury() {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, caller.Hex())
	}
	_, err := a.apply("set_market_status", map[string]string{"symbol": symbol, "status": status.String()},
		func() ([]Notification, error) {
			return nil, a.markets.UpdateStatus(symbol, status)
		})
	return err
}

// PlaceOrder describes an order in host terms.
type PlaceOrder struct {
	Symbol    string
	Owner     common.Address
	Direction limitorder.Direction
	IsRange   bool
	Price     *big.Rat
	Amount    *big.Int
}

// Place rests an order and returns its id.
func (a *App) Place(p PlaceOrder) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.place(p, nil)
}

func (a *App) place(p PlaceOrder, before func() error) (uint64, error) {
	m, err := a.tradable(p.Symbol)
	if err != nil {
		return 0, err
	}
	var id uint64
	_, err = a.apply("place", map[string]any{"symbol": p.Symbol, "owner": p.Owner, "direction": p.Direction, "amount": p.Amount},
		func() ([]Notification, error) {
			if before != nil {
				if err := before(); err != nil {
					return nil, err
				}
			}
			id, err = a.engine.Place(limitorder.PlaceParams{
				Owner:     p.Owner,
				Key:       m.Key,
				Direction: p.Direction,
				IsRange:   p.IsRange,
				Price:     p.Price,
				Amount:    p.Amount,
			})
			return nil, err
		})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Claim releases a filled order's proceeds.
func (a *App) Claim(symbol string, id uint64, caller common.Address) (limitorder.Split, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.claim(symbol, id, caller, nil)
}

func (a *App) claim(symbol string, id uint64, caller common.Address, before func() error) (limitorder.Split, error) {
	m, err := a.markets.Get(symbol)
	if err != nil {
		return limitorder.Split{}, err
	}
	var split limitorder.Split
	_, err = a.apply("claim", map[string]any{"symbol": symbol, "order_id": id, "caller": caller},
		func() ([]Notification, error) {
			if before != nil {
				if err := before(); err != nil {
					return nil, err
				}
			}
			split, err = a.engine.Claim(id, m.Key, caller)
			return nil, err
		})
	return split, err
}

// SetTreasury hands the treasury to a new account.
func (a *App) SetTreasury(caller, treasury common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setTreasury(caller, treasury, nil)
}

func (a *App) setTreasury(caller, treasury common.Address, before func() error) error {
	_, err := a.apply("set_treasury", map[string]any{"caller": caller, "treasury": treasury},
		func() ([]Notification, error) {
			if before != nil {
				if err := before(); err != nil {
					return nil, err
				}
			}
			return nil, a.engine.SetTreasury(caller, treasury)
		})
	return err
}

// Swap describes a trade against a market's curve. A nil limit means no
// limit.
type Swap struct {
	Symbol            string
	Trader            common.Address
	ZeroForOne        bool
	AmountIn          *big.Int
	SqrtPriceLimitX96 *big.Int
}

// SwapResult is what a committed swap did.
type SwapResult struct {
	Delta  curve.BalanceDelta `json:"delta"`
	Slot0  curve.Slot0        `json:"slot0"`
	Filled []uint64           `json:"filled"`
}

// Swap trades through the curve. Orders the move crossed are filled before
// Swap returns, in the same commit.
func (a *App) Swap(ctx context.Context, s Swap) (SwapResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.swap(ctx, s, nil)
}

func (a *App) swap(ctx context.Context, s Swap, before func() error) (SwapResult, error) {
	m, err := a.swappable(s.Symbol)
	if err != nil {
		return SwapResult{}, err
	}
	ctx = withContext(ctx)

	var res SwapResult
	events, err := a.apply("swap", map[string]any{"symbol": s.Symbol, "trader": s.Trader, "zero_for_one": s.ZeroForOne, "amount_in": s.AmountIn},
		func() ([]Notification, error) {
			if before != nil {
				if err := before(); err != nil {
					return nil, err
				}
			}
			delta, err := a.curve.Swap(ctx, m.Key, s.Trader, curve.SwapParams{
				ZeroForOne:        s.ZeroForOne,
				AmountIn:          s.AmountIn,
				SqrtPriceLimitX96: s.SqrtPriceLimitX96,
			})
			if err != nil {
				return nil, err
			}
			slot, err := a.curve.Slot0(m.Key)
			if err != nil {
				return nil, err
			}
			res = SwapResult{Delta: delta, Slot0: slot}
			return []Notification{{
				Type:    Swapped{}.EventType(),
				Symbol:  s.Symbol,
				Account: s.Trader,
				Data: Swapped{
					Trader:       s.Trader,
					ZeroForOne:   s.ZeroForOne,
					Delta:        delta.Clone(),
					SqrtPriceX96: new(big.Int).Set(slot.SqrtPriceX96),
					Tick:         slot.Tick,
				},
			}}, nil
		})
	if err != nil {
		return SwapResult{}, err
	}
	for _, ev := range events {
		if f, ok := ev.(limitorder.OrderFilled); ok {
			res.Filled = append(res.Filled, f.OrderID)
		}
	}
	return res, nil
}

// AddLiquidity provides general (non-order) liquidity to a market.
func (a *App) AddLiquidity(symbol string, owner common.Address, lower, upper int32, liquidity *big.Int) (curve.BalanceDelta, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := a.swappable(symbol)
	if err != nil {
		return curve.BalanceDelta{}, err
	}
	var delta curve.BalanceDelta
	_, err = a.apply("add_liquidity", map[string]any{"symbol": symbol, "owner": owner, "lower": lower, "upper": upper, "liquidity": liquidity},
		func() ([]Notification, error) {
			delta, err = a.curve.AddLiquidity(m.Key, owner, curve.ModifyLiquidityParams{
				TickLower: lower,
				TickUpper: upper,
				Liquidity: liquidity,
			})
			return nil, err
		})
	return delta, err
}

// Faucet credits development balances.
func (a *App) Faucet(account, currency common.Address, amount *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.cfg.FaucetEnabled {
		return ErrFaucetDisabled
	}
	_, err := a.apply("faucet", map[string]any{"account": account, "currency": currency, "amount": amount},
		func() ([]Notification, error) {
			return nil, a.ledger.Deposit(account, currency, amount)
		})
	if err == nil {
		a.log.Info("faucet_credit",
			zap.Stringer("account", account),
			zap.Stringer("currency", currency),
			zap.Stringer("amount", amount))
	}
	return err
}
