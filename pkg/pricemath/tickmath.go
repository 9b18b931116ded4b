// Package pricemath converts between human price ratios, ticks (price levels)
// and the curve's Q64.96 square-root price, and implements the liquidity
// formulas shared by order placement, settlement and the reference curve.
//
// All arithmetic is exact integer math on math/big. Ticks follow the
// concentrated-liquidity convention: price(tick) = 1.0001^tick, where price
// is the amount of currency1 per unit of currency0.
package pricemath

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	// MinTick is the lowest tick whose sqrt price is representable in Q64.96
	MinTick int32 = -887272
	// MaxTick is the highest representable tick
	MaxTick int32 = 887272
)

var (
	// ErrTickOutOfRange is returned for ticks outside [MinTick, MaxTick]
	ErrTickOutOfRange = errors.New("tick out of range")
	// ErrSqrtPriceOutOfRange is returned for sqrt prices outside [MinSqrtRatio, MaxSqrtRatio)
	ErrSqrtPriceOutOfRange = errors.New("sqrt price out of range")
)

var (
	// Q96 = 2^96, the fixed-point scale of sqrtPriceX96
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)
	// Q128 = 2^128, the fixed-point scale of fee growth accumulators
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)
	// Q192 = 2^192, the scale of a squared sqrtPriceX96
	Q192 = new(big.Int).Lsh(big.NewInt(1), 192)

	// MinSqrtRatio = SqrtRatioAtTick(MinTick)
	MinSqrtRatio = big.NewInt(4295128739)
	// MaxSqrtRatio = SqrtRatioAtTick(MaxTick)
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	mask32     = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 32), big.NewInt(1))
)

// sqrtMagics[i] = 2^128 / sqrt(1.0001^(2^i)), used bit by bit on |tick|
var sqrtMagics = mustHexList(
	"fffcb933bd6fad37aa2d162d1a594001",
	"fff97272373d413259a46990580e213a",
	"fff2e50f5f656932ef12357cf3c7fdcc",
	"ffe5caca7e10e4e61c3624eaa0941cd0",
	"ffcb9843d60f6159c9db58835c926644",
	"ff973b41fa98c081472e6896dfb254c0",
	"ff2ea16466c96a3843ec78b326b52861",
	"fe5dee046a99a2a811c461f1969c3053",
	"fcbe86c7900a88aedcffc83b479aa3a4",
	"f987a7253ac413176f2b074cf7815e54",
	"f3392b0822b70005940c7a398e4b70f3",
	"e7159475a2c29b7443b29c7fa6e889d9",
	"d097f3bdfd2022b8845ad8f792aa5825",
	"a9f746462d870fdf8a65dc1f90e061e5",
	"70d869a156d2a1b890bb3df62baf32f7",
	"31be135f97d08fd981231505542fcfa6",
	"9aa508b5b7a84e1c677de54f3e99bc9",
	"5d6af8dedb81196699c329225ee604",
	"2216e584f5fa1ea926041bedfe98",
	"48a170391f7dc42444e8fa2",
)

func mustHexList(hexes ...string) []*big.Int {
	out := make([]*big.Int, len(hexes))
	for i, h := range hexes {
		v, ok := new(big.Int).SetString(h, 16)
		if !ok {
			panic(fmt.Sprintf("pricemath: bad constant %q", h))
		}
		out[i] = v
	}
	return out
}

// SqrtRatioAtTick returns sqrt(1.0001^tick) * 2^96, rounded up.
func SqrtRatioAtTick(tick int32) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}

	absTick := int64(tick)
	if absTick < 0 {
		absTick = -absTick
	}

	ratio := new(big.Int).Set(Q128)
	for i, magic := range sqrtMagics {
		if absTick&(1<<uint(i)) == 0 {
			continue
		}
		ratio.Mul(ratio, magic)
		ratio.Rsh(ratio, 128)
	}

	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	// Q128.128 -> Q64.96, rounding up so TickAtSqrtRatio stays consistent
	roundUp := new(big.Int).And(ratio, mask32).Sign() != 0
	ratio.Rsh(ratio, 32)
	if roundUp {
		ratio.Add(ratio, big.NewInt(1))
	}
	return ratio, nil
}

// MustSqrtRatioAtTick is SqrtRatioAtTick for ticks already known to be in range.
func MustSqrtRatioAtTick(tick int32) *big.Int {
	r, err := SqrtRatioAtTick(tick)
	if err != nil {
		panic(err)
	}
	return r
}

// TickAtSqrtRatio returns the greatest tick whose sqrt ratio is <= sqrtPriceX96.
// sqrtPriceX96 must lie in [MinSqrtRatio, MaxSqrtRatio).
func TickAtSqrtRatio(sqrtPriceX96 *big.Int) (int32, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Cmp(MinSqrtRatio) < 0 || sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return 0, ErrSqrtPriceOutOfRange
	}

	// Binary search over the monotonic SqrtRatioAtTick
	low, high := MinTick, MaxTick
	for low < high {
		mid := low + (high-low+1)/2
		if MustSqrtRatioAtTick(mid).Cmp(sqrtPriceX96) <= 0 {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return low, nil
}

// AlignDown rounds tick down to a multiple of spacing (floor, also for negatives).
func AlignDown(tick, spacing int32) int32 {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}

// AlignUp rounds tick up to a multiple of spacing.
func AlignUp(tick, spacing int32) int32 {
	down := AlignDown(tick, spacing)
	if down == tick {
		return tick
	}
	return down + spacing
}

// MinUsableTick is the lowest spacing-aligned tick within global bounds.
func MinUsableTick(spacing int32) int32 {
	return AlignUp(MinTick, spacing)
}

// MaxUsableTick is the highest spacing-aligned tick within global bounds.
func MaxUsableTick(spacing int32) int32 {
	return AlignDown(MaxTick, spacing)
}
