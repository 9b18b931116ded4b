package curve

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickorders/pkg/journal"
	"github.com/uhyunpark/tickorders/pkg/pricemath"
)

// Manager owns every pool. Reserves of all pools are held by one custody
// account, the manager's address.
//
// Not safe for concurrent use; the host serializes access.
type Manager struct {
	address common.Address
	custody Custody
	journal *journal.Journal
	log     *zap.Logger

	pools  map[common.Hash]*Pool
	hooks  map[common.Hash]Hook
	locked map[common.Hash]bool
	dirty  map[common.Hash]struct{}
}

// NewManager creates a manager holding reserves at address. j receives undo
// entries for every state change; a private journal is used when j is nil.
func NewManager(address common.Address, custody Custody, j *journal.Journal, log *zap.Logger) *Manager {
	if j == nil {
		j = journal.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		address: address,
		custody: custody,
		journal: j,
		log:     log,
		pools:   make(map[common.Hash]*Pool),
		hooks:   make(map[common.Hash]Hook),
		locked:  make(map[common.Hash]bool),
		dirty:   make(map[common.Hash]struct{}),
	}
}

// Address is the custody account holding pool reserves.
func (m *Manager) Address() common.Address { return m.address }

// atomic runs fn and undoes everything it journaled if it fails.
func (m *Manager) atomic(fn func() error) error {
	snap := m.journal.Snapshot()
	if err := fn(); err != nil {
		m.journal.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func (m *Manager) pool(key PoolKey) (*Pool, error) {
	p, ok := m.pools[key.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotInitialized, key.ID().Hex())
	}
	return p, nil
}

// Initialize creates a pool at sqrtPriceX96 and returns its starting tick.
func (m *Manager) Initialize(key PoolKey, sqrtPriceX96 *big.Int) (int32, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	id := key.ID()
	if _, ok := m.pools[id]; ok {
		return 0, fmt.Errorf("%w: %s", ErrPoolAlreadyInitialized, id.Hex())
	}
	tick, err := pricemath.TickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSqrtPrice, err)
	}

	m.pools[id] = newPool(key, sqrtPriceX96, tick, m.journal)
	m.dirty[id] = struct{}{}
	m.journal.Append(func() {
		delete(m.pools, id)
		m.dirty[id] = struct{}{}
	})

	m.log.Info("pool_initialized",
		zap.String("pool", id.Hex()),
		zap.Int32("tick", tick),
		zap.Uint32("fee", key.Fee),
		zap.Int32("tick_spacing", key.TickSpacing))
	return tick, nil
}

// SetHook registers the hook notified after every swap in the pool.
// Hooks are not persisted and must be registered again after a restart.
func (m *Manager) SetHook(key PoolKey, hook Hook) error {
	if _, err := m.pool(key); err != nil {
		return err
	}
	if hook == nil {
		delete(m.hooks, key.ID())
		return nil
	}
	m.hooks[key.ID()] = hook
	return nil
}

// Slot0 returns the pool's current price state.
func (m *Manager) Slot0(key PoolKey) (Slot0, error) {
	p, err := m.pool(key)
	if err != nil {
		return Slot0{}, err
	}
	return p.slot0(), nil
}

// CurrentLevel returns the pool's current tick.
func (m *Manager) CurrentLevel(key PoolKey) (int32, error) {
	p, err := m.pool(key)
	if err != nil {
		return 0, err
	}
	return p.Tick, nil
}

// Position returns a copy of a position.
func (m *Manager) Position(key PoolKey, owner common.Address, lower, upper int32, salt common.Hash) (Position, bool) {
	p, err := m.pool(key)
	if err != nil {
		return Position{}, false
	}
	pos, ok := p.Positions[PositionKey(owner, lower, upper, salt)]
	if !ok {
		return Position{}, false
	}
	return *pos.clone(), true
}

// Keys lists every pool key ordered by pool id.
func (m *Manager) Keys() []PoolKey {
	ids := make([]common.Hash, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })
	out := make([]PoolKey, len(ids))
	for i, id := range ids {
		out[i] = m.pools[id].Key
	}
	return out
}

func checkRange(key PoolKey, params ModifyLiquidityParams) error {
	lower, upper := params.TickLower, params.TickUpper
	if lower >= upper {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidTickRange, lower, upper)
	}
	if lower < pricemath.MinTick || upper > pricemath.MaxTick {
		return fmt.Errorf("%w: [%d, %d]", ErrTickOutOfRange, lower, upper)
	}
	if lower%key.TickSpacing != 0 || upper%key.TickSpacing != 0 {
		return fmt.Errorf("%w: [%d, %d] not aligned to %d", ErrInvalidTickRange, lower, upper, key.TickSpacing)
	}
	if params.Liquidity == nil || params.Liquidity.Sign() <= 0 {
		return fmt.Errorf("%w: liquidity must be positive", ErrInvalidAmount)
	}
	return nil
}

// AddLiquidity adds params.Liquidity to owner's position and pulls the
// required amounts (rounded up) from owner. The returned delta is negative.
func (m *Manager) AddLiquidity(key PoolKey, owner common.Address, params ModifyLiquidityParams) (BalanceDelta, error) {
	p, err := m.pool(key)
	if err != nil {
		return BalanceDelta{}, err
	}
	if err := checkRange(key, params); err != nil {
		return BalanceDelta{}, err
	}

	var delta BalanceDelta
	err = m.atomic(func() error {
		_, amount0, amount1, err := p.modifyPosition(owner, params, params.Liquidity)
		if err != nil {
			return err
		}
		if err := m.custody.Transfer(owner, m.address, key.Currency0, amount0); err != nil {
			return err
		}
		if err := m.custody.Transfer(owner, m.address, key.Currency1, amount1); err != nil {
			return err
		}
		delta = BalanceDelta{Amount0: amount0.Neg(amount0), Amount1: amount1.Neg(amount1)}
		return nil
	})
	if err != nil {
		return BalanceDelta{}, err
	}
	m.dirty[key.ID()] = struct{}{}
	return delta, nil
}

// RemoveLiquidity removes params.Liquidity from owner's position and pays out
// the amounts (rounded down) plus every fee the position has accrued. The
// returned delta is non-negative.
func (m *Manager) RemoveLiquidity(key PoolKey, owner common.Address, params ModifyLiquidityParams) (BalanceDelta, error) {
	p, err := m.pool(key)
	if err != nil {
		return BalanceDelta{}, err
	}
	if err := checkRange(key, params); err != nil {
		return BalanceDelta{}, err
	}

	var delta BalanceDelta
	err = m.atomic(func() error {
		pos, amount0, amount1, err := p.modifyPosition(owner, params, new(big.Int).Neg(params.Liquidity))
		if err != nil {
			return err
		}
		amount0.Add(amount0, pos.TokensOwed0)
		amount1.Add(amount1, pos.TokensOwed1)
		pos.TokensOwed0.SetInt64(0)
		pos.TokensOwed1.SetInt64(0)
		if pos.Liquidity.Sign() == 0 {
			posKey := PositionKey(owner, params.TickLower, params.TickUpper, params.Salt)
			p.savePosition(posKey)
			delete(p.Positions, posKey)
		}

		if err := m.custody.Transfer(m.address, owner, key.Currency0, amount0); err != nil {
			return err
		}
		if err := m.custody.Transfer(m.address, owner, key.Currency1, amount1); err != nil {
			return err
		}
		delta = BalanceDelta{Amount0: amount0, Amount1: amount1}
		return nil
	})
	if err != nil {
		return BalanceDelta{}, err
	}
	m.dirty[key.ID()] = struct{}{}
	return delta, nil
}

func swapLimit(p *Pool, params SwapParams) (*big.Int, error) {
	limit := params.SqrtPriceLimitX96
	if params.ZeroForOne {
		if limit == nil {
			limit = new(big.Int).Add(pricemath.MinSqrtRatio, big.NewInt(1))
		}
		if limit.Cmp(p.SqrtPriceX96) >= 0 || limit.Cmp(pricemath.MinSqrtRatio) <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPriceLimit, limit)
		}
		return limit, nil
	}
	if limit == nil {
		limit = new(big.Int).Sub(pricemath.MaxSqrtRatio, big.NewInt(1))
	}
	if limit.Cmp(p.SqrtPriceX96) <= 0 || limit.Cmp(pricemath.MaxSqrtRatio) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPriceLimit, limit)
	}
	return limit, nil
}

// Swap sells params.AmountIn of one currency into the pool. The trader pays
// the consumed input and receives the output; the returned delta is from
// the trader's point of view. The pool's hook runs before Swap returns, and
// a hook error undoes the swap.
func (m *Manager) Swap(ctx context.Context, key PoolKey, trader common.Address, params SwapParams) (BalanceDelta, error) {
	p, err := m.pool(key)
	if err != nil {
		return BalanceDelta{}, err
	}
	id := key.ID()
	if m.locked[id] {
		return BalanceDelta{}, fmt.Errorf("%w: %s", ErrPoolLocked, id.Hex())
	}
	if params.AmountIn == nil || params.AmountIn.Sign() <= 0 {
		return BalanceDelta{}, fmt.Errorf("%w: amount in must be positive", ErrInvalidAmount)
	}
	limit, err := swapLimit(p, params)
	if err != nil {
		return BalanceDelta{}, err
	}

	var delta BalanceDelta
	err = m.atomic(func() error {
		res, err := p.swap(params, limit)
		if err != nil {
			return err
		}

		currencyIn, currencyOut := key.Currency1, key.Currency0
		if params.ZeroForOne {
			currencyIn, currencyOut = key.Currency0, key.Currency1
		}
		if err := m.custody.Transfer(trader, m.address, currencyIn, res.amountIn); err != nil {
			return err
		}
		if err := m.custody.Transfer(m.address, trader, currencyOut, res.amountOut); err != nil {
			return err
		}

		in := new(big.Int).Neg(res.amountIn)
		if params.ZeroForOne {
			delta = BalanceDelta{Amount0: in, Amount1: res.amountOut}
		} else {
			delta = BalanceDelta{Amount0: res.amountOut, Amount1: in}
		}

		m.log.Debug("swap_executed",
			zap.String("pool", id.Hex()),
			zap.Stringer("trader", trader),
			zap.Bool("zero_for_one", params.ZeroForOne),
			zap.Stringer("amount_in", res.amountIn),
			zap.Stringer("amount_out", res.amountOut),
			zap.Int32("old_tick", res.oldTick),
			zap.Int32("new_tick", p.Tick))

		hook, ok := m.hooks[id]
		if !ok {
			return nil
		}
		move := PriceMove{
			Key:          key,
			OldLevel:     res.oldTick,
			NewLevel:     p.Tick,
			SqrtPriceX96: new(big.Int).Set(p.SqrtPriceX96),
			ZeroForOne:   params.ZeroForOne,
		}
		m.locked[id] = true
		defer delete(m.locked, id)
		if err := hook.AfterSwap(ctx, move); err != nil {
			return fmt.Errorf("after swap hook: %w", err)
		}
		return nil
	})
	if err != nil {
		return BalanceDelta{}, err
	}
	m.dirty[id] = struct{}{}
	return delta, nil
}
