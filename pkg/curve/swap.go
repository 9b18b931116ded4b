package curve

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tickorders/pkg/pricemath"
)

var (
	bigMaxFee = big.NewInt(MaxFee)
	q128Big   = new(big.Int).Lsh(big.NewInt(1), 128)
)

// swapStep is the result of moving the price toward one target.
type swapStep struct {
	sqrtNext  *big.Int
	amountIn  *big.Int
	amountOut *big.Int
	feeAmount *big.Int
}

// computeSwapStep moves sqrtP toward target using at most remaining input
// (fee included).
func computeSwapStep(sqrtP, target, liquidity, remaining *big.Int, feePips uint32) swapStep {
	zeroForOne := sqrtP.Cmp(target) >= 0
	fee := big.NewInt(int64(feePips))
	feeComplement := new(big.Int).Sub(bigMaxFee, fee)

	remainingLessFee := pricemath.MulDiv(remaining, feeComplement, bigMaxFee)

	var amountIn *big.Int
	if zeroForOne {
		amountIn = pricemath.Amount0Delta(target, sqrtP, liquidity, true)
	} else {
		amountIn = pricemath.Amount1Delta(sqrtP, target, liquidity, true)
	}

	var sqrtNext *big.Int
	if remainingLessFee.Cmp(amountIn) >= 0 {
		sqrtNext = new(big.Int).Set(target)
	} else {
		// liquidity > 0 here: with zero liquidity amountIn is zero
		sqrtNext, _ = pricemath.NextSqrtPriceFromInput(sqrtP, liquidity, remainingLessFee, zeroForOne)
	}
	reachedTarget := sqrtNext.Cmp(target) == 0

	var amountOut *big.Int
	if zeroForOne {
		if !reachedTarget {
			amountIn = pricemath.Amount0Delta(sqrtNext, sqrtP, liquidity, true)
		}
		amountOut = pricemath.Amount1Delta(sqrtNext, sqrtP, liquidity, false)
	} else {
		if !reachedTarget {
			amountIn = pricemath.Amount1Delta(sqrtP, sqrtNext, liquidity, true)
		}
		amountOut = pricemath.Amount0Delta(sqrtP, sqrtNext, liquidity, false)
	}

	var feeAmount *big.Int
	if !reachedTarget {
		// the price did not reach the target, so the remainder is all fee
		feeAmount = new(big.Int).Sub(remaining, amountIn)
	} else {
		feeAmount = pricemath.MulDivRoundingUp(amountIn, fee, feeComplement)
	}

	return swapStep{sqrtNext: sqrtNext, amountIn: amountIn, amountOut: amountOut, feeAmount: feeAmount}
}

// addFeeGrowth adds feeAmount * 2^128 / liquidity to growth, wrapping at 2^256.
func addFeeGrowth(growth *uint256.Int, feeAmount, liquidity *big.Int) {
	if liquidity.Sign() == 0 || feeAmount.Sign() == 0 {
		return
	}
	inc, _ := uint256.FromBig(pricemath.MulDiv(feeAmount, q128Big, liquidity))
	growth.Add(growth, inc)
}

// swapResult is the outcome of running a swap against a pool.
type swapResult struct {
	amountIn  *big.Int // including fees
	amountOut *big.Int
	oldTick   int32
}

// swap runs an exact-input swap and leaves the pool at its new price.
// The caller validates params. Writes are journaled through saveSlot and crossTick.
func (p *Pool) swap(params SwapParams, limit *big.Int) (swapResult, error) {
	zeroForOne := params.ZeroForOne
	p.saveSlot()

	res := swapResult{amountIn: new(big.Int), amountOut: new(big.Int), oldTick: p.Tick}
	remaining := new(big.Int).Set(params.AmountIn)

	sqrtP := new(big.Int).Set(p.SqrtPriceX96)
	tick := p.Tick
	liquidity := new(big.Int).Set(p.Liquidity)
	fg0, fg1 := p.FeeGrowthGlobal0, p.FeeGrowthGlobal1
	feeGrowth := &fg1
	if zeroForOne {
		feeGrowth = &fg0
	}

	for remaining.Sign() > 0 && sqrtP.Cmp(limit) != 0 {
		sqrtStart := new(big.Int).Set(sqrtP)

		next, initialized := p.bitmap.NextInitializedWithinOneWord(tick, zeroForOne)
		if next < pricemath.MinTick {
			next = pricemath.MinTick
		} else if next > pricemath.MaxTick {
			next = pricemath.MaxTick
		}
		sqrtNext := pricemath.MustSqrtRatioAtTick(next)

		target := sqrtNext
		if (zeroForOne && sqrtNext.Cmp(limit) < 0) || (!zeroForOne && sqrtNext.Cmp(limit) > 0) {
			target = limit
		}

		step := computeSwapStep(sqrtP, target, liquidity, remaining, p.Key.Fee)
		sqrtP = step.sqrtNext

		used := new(big.Int).Add(step.amountIn, step.feeAmount)
		remaining.Sub(remaining, used)
		res.amountIn.Add(res.amountIn, used)
		res.amountOut.Add(res.amountOut, step.amountOut)
		addFeeGrowth(feeGrowth, step.feeAmount, liquidity)

		if sqrtP.Cmp(sqrtNext) == 0 {
			if initialized {
				net := p.crossTick(next, &fg0, &fg1)
				if zeroForOne {
					net.Neg(net)
				}
				liquidity.Add(liquidity, net)
			}
			if zeroForOne {
				tick = next - 1
			} else {
				tick = next
			}
		} else if sqrtP.Cmp(sqrtStart) != 0 {
			t, err := pricemath.TickAtSqrtRatio(sqrtP)
			if err != nil {
				return swapResult{}, err
			}
			tick = t
		}
	}

	p.SqrtPriceX96 = sqrtP
	p.Tick = tick
	p.Liquidity = liquidity
	p.FeeGrowthGlobal0, p.FeeGrowthGlobal1 = fg0, fg1
	return res, nil
}
