// Package curve is a concentrated-liquidity pool manager.
//
// Pools are keyed by PoolKey and live in one Manager. Liquidity is held in
// positions over tick ranges; swaps are exact-input and walk initialized
// ticks through a tickbitmap. Every pool may register a Hook that is told
// about each price move before Swap returns.
package curve

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var (
	ErrPoolNotInitialized     = errors.New("pool not initialized")
	ErrPoolAlreadyInitialized = errors.New("pool already initialized")
	ErrPoolLocked             = errors.New("pool locked")
	ErrInvalidPoolKey         = errors.New("invalid pool key")
	ErrInvalidTickRange       = errors.New("invalid tick range")
	ErrTickOutOfRange         = errors.New("tick out of range")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrInvalidSqrtPrice       = errors.New("invalid sqrt price")
	ErrInvalidPriceLimit      = errors.New("invalid price limit")
	ErrInvalidAmount          = errors.New("invalid amount")
)

// MaxFee is the fee denominator: fees are expressed in hundredths of a bip.
const MaxFee = 1_000_000

// MaxTickSpacing bounds the spacing of any pool.
const MaxTickSpacing = 16384

// PoolKey identifies a pool. Currency0 must sort below Currency1.
type PoolKey struct {
	Currency0   common.Address `json:"currency0"`
	Currency1   common.Address `json:"currency1"`
	Fee         uint32         `json:"fee"`
	TickSpacing int32          `json:"tickSpacing"`
}

// ID returns keccak256(currency0 ‖ currency1 ‖ fee ‖ tickSpacing).
func (k PoolKey) ID() common.Hash {
	var buf [48]byte
	copy(buf[0:20], k.Currency0[:])
	copy(buf[20:40], k.Currency1[:])
	binary.BigEndian.PutUint32(buf[40:44], k.Fee)
	binary.BigEndian.PutUint32(buf[44:48], uint32(k.TickSpacing))

	h := sha3.NewLegacyKeccak256()
	h.Write(buf[:])
	var id common.Hash
	h.Sum(id[:0])
	return id
}

// Validate checks currency order, fee and spacing.
func (k PoolKey) Validate() error {
	if bytes.Compare(k.Currency0[:], k.Currency1[:]) >= 0 {
		return fmt.Errorf("%w: currencies not sorted", ErrInvalidPoolKey)
	}
	if k.Fee >= MaxFee {
		return fmt.Errorf("%w: fee %d", ErrInvalidPoolKey, k.Fee)
	}
	if k.TickSpacing < 1 || k.TickSpacing > MaxTickSpacing {
		return fmt.Errorf("%w: tick spacing %d", ErrInvalidPoolKey, k.TickSpacing)
	}
	return nil
}

// BalanceDelta is a pair of signed amounts from the caller's point of view:
// positive amounts were paid to the caller, negative amounts were taken.
type BalanceDelta struct {
	Amount0 *big.Int `json:"amount0"`
	Amount1 *big.Int `json:"amount1"`
}

// ZeroDelta returns a delta with both amounts zero.
func ZeroDelta() BalanceDelta {
	return BalanceDelta{Amount0: new(big.Int), Amount1: new(big.Int)}
}

// IsZero reports whether both amounts are zero (or unset).
func (d BalanceDelta) IsZero() bool {
	return (d.Amount0 == nil || d.Amount0.Sign() == 0) && (d.Amount1 == nil || d.Amount1.Sign() == 0)
}

// Clone returns a deep copy.
func (d BalanceDelta) Clone() BalanceDelta {
	out := ZeroDelta()
	if d.Amount0 != nil {
		out.Amount0.Set(d.Amount0)
	}
	if d.Amount1 != nil {
		out.Amount1.Set(d.Amount1)
	}
	return out
}

// ModifyLiquidityParams selects a position and the liquidity to move.
// Salt separates positions that share an owner and a range.
type ModifyLiquidityParams struct {
	TickLower int32
	TickUpper int32
	Liquidity *big.Int
	Salt      common.Hash
}

// SwapParams describes an exact-input swap. A nil SqrtPriceLimitX96 means
// no limit other than the global price bounds.
type SwapParams struct {
	ZeroForOne        bool
	AmountIn          *big.Int
	SqrtPriceLimitX96 *big.Int
}

// Slot0 is the pool's current price state.
type Slot0 struct {
	SqrtPriceX96 *big.Int `json:"sqrtPriceX96"`
	Tick         int32    `json:"tick"`
	Liquidity    *big.Int `json:"liquidity"`
}

// PriceMove describes the price change caused by one swap.
type PriceMove struct {
	Key          PoolKey
	OldLevel     int32
	NewLevel     int32
	SqrtPriceX96 *big.Int // price after the swap
	ZeroForOne   bool     // currency0 was sold into the pool (price moved down)
}

// Hook is notified once per swap after the pool state is updated and before
// Swap returns. A returned error fails the swap and undoes all of its effects.
type Hook interface {
	AfterSwap(ctx context.Context, move PriceMove) error
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, move PriceMove) error

func (f HookFunc) AfterSwap(ctx context.Context, move PriceMove) error { return f(ctx, move) }

// Custody moves asset balances between accounts.
type Custody interface {
	Transfer(from, to, currency common.Address, amount *big.Int) error
}
