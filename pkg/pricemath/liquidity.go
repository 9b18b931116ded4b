package pricemath

import (
	"errors"
	"math/big"
)

// ErrZeroLiquidity is returned when a price step needs liquidity that is absent
var ErrZeroLiquidity = errors.New("zero liquidity")

// MulDiv returns floor(a*b/denominator).
func MulDiv(a, b, denominator *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return p.Quo(p, denominator)
}

// MulDivRoundingUp returns ceil(a*b/denominator) for non-negative operands.
func MulDivRoundingUp(a, b, denominator *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return DivRoundingUp(p, denominator)
}

// DivRoundingUp returns ceil(a/b) for non-negative operands.
func DivRoundingUp(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func sortRatios(a, b *big.Int) (*big.Int, *big.Int) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}

// Amount0Delta is the currency0 amount spanned by liquidity between two sqrt prices:
// L * 2^96 * (sqrtB - sqrtA) / (sqrtB * sqrtA)
func Amount0Delta(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) *big.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)

	numerator1 := new(big.Int).Lsh(liquidity, 96)
	numerator2 := new(big.Int).Sub(sqrtB, sqrtA)

	if roundUp {
		return DivRoundingUp(MulDivRoundingUp(numerator1, numerator2, sqrtB), sqrtA)
	}
	out := MulDiv(numerator1, numerator2, sqrtB)
	return out.Quo(out, sqrtA)
}

// Amount1Delta is the currency1 amount spanned by liquidity between two sqrt prices:
// L * (sqrtB - sqrtA) / 2^96
func Amount1Delta(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) *big.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)

	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return MulDivRoundingUp(liquidity, diff, Q96)
	}
	return MulDiv(liquidity, diff, Q96)
}

// LiquidityForAmount0 is the liquidity a currency0 deposit buys over [sqrtA, sqrtB]
// when the whole band sits above the current price.
func LiquidityForAmount0(sqrtA, sqrtB, amount0 *big.Int) *big.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	intermediate := MulDiv(sqrtA, sqrtB, Q96)
	return MulDiv(amount0, intermediate, new(big.Int).Sub(sqrtB, sqrtA))
}

// LiquidityForAmount1 is the liquidity a currency1 deposit buys over [sqrtA, sqrtB]
// when the whole band sits below the current price.
func LiquidityForAmount1(sqrtA, sqrtB, amount1 *big.Int) *big.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	return MulDiv(amount1, Q96, new(big.Int).Sub(sqrtB, sqrtA))
}

// LiquidityForAmounts is the largest liquidity that both amounts can fund at the
// current price sqrtP for the band [sqrtA, sqrtB].
func LiquidityForAmounts(sqrtP, sqrtA, sqrtB, amount0, amount1 *big.Int) *big.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)

	switch {
	case sqrtP.Cmp(sqrtA) <= 0:
		return LiquidityForAmount0(sqrtA, sqrtB, amount0)
	case sqrtP.Cmp(sqrtB) < 0:
		l0 := LiquidityForAmount0(sqrtP, sqrtB, amount0)
		l1 := LiquidityForAmount1(sqrtA, sqrtP, amount1)
		if l0.Cmp(l1) < 0 {
			return l0
		}
		return l1
	default:
		return LiquidityForAmount1(sqrtA, sqrtB, amount1)
	}
}

// AmountsForLiquidity returns the (currency0, currency1) amounts represented by
// liquidity over [sqrtA, sqrtB] at the current price sqrtP.
func AmountsForLiquidity(sqrtP, sqrtA, sqrtB, liquidity *big.Int, roundUp bool) (*big.Int, *big.Int) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)

	switch {
	case sqrtP.Cmp(sqrtA) <= 0:
		return Amount0Delta(sqrtA, sqrtB, liquidity, roundUp), new(big.Int)
	case sqrtP.Cmp(sqrtB) < 0:
		return Amount0Delta(sqrtP, sqrtB, liquidity, roundUp), Amount1Delta(sqrtA, sqrtP, liquidity, roundUp)
	default:
		return new(big.Int), Amount1Delta(sqrtA, sqrtB, liquidity, roundUp)
	}
}

// NextSqrtPriceFromInput returns the sqrt price after adding amountIn of the input
// currency to a range with the given liquidity. zeroForOne means currency0 is the input.
func NextSqrtPriceFromInput(sqrtP, liquidity, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	if liquidity.Sign() <= 0 {
		return nil, ErrZeroLiquidity
	}
	if amountIn.Sign() == 0 {
		return new(big.Int).Set(sqrtP), nil
	}

	if zeroForOne {
		// ceil(L * 2^96 * sqrtP / (L * 2^96 + amount * sqrtP))
		numerator1 := new(big.Int).Lsh(liquidity, 96)
		denominator := new(big.Int).Mul(amountIn, sqrtP)
		denominator.Add(denominator, numerator1)
		return MulDivRoundingUp(numerator1, sqrtP, denominator), nil
	}

	// sqrtP + floor(amount * 2^96 / L)
	quotient := MulDiv(amountIn, Q96, liquidity)
	return quotient.Add(quotient, sqrtP), nil
}
