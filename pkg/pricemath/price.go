package pricemath

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidPrice is returned for prices that are not strictly positive decimals
var ErrInvalidPrice = errors.New("invalid price")

// ParsePrice parses a decimal ("1.25") or fractional ("5/4") price string.
func ParsePrice(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPrice)
	}
	p, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	if p.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q must be positive", ErrInvalidPrice, s)
	}
	return p, nil
}

// PriceToSqrtPriceX96 returns floor(sqrt(price) * 2^96) for a positive price
// expressed as currency1 per currency0. The result is not range checked.
func PriceToSqrtPriceX96(price *big.Rat) (*big.Int, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	// sqrt(num/den * 2^192) = sqrt(floor(num * 2^192 / den))
	scaled := new(big.Int).Mul(price.Num(), Q192)
	scaled.Quo(scaled, price.Denom())
	return scaled.Sqrt(scaled), nil
}

// SqrtPriceX96ToPrice returns sqrtPriceX96^2 / 2^192 as an exact ratio.
func SqrtPriceX96ToPrice(sqrtPriceX96 *big.Int) *big.Rat {
	sq := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	return new(big.Rat).SetFrac(sq, Q192)
}

// PriceToTick converts a price to the greatest tick at or below it.
func PriceToTick(price *big.Rat) (int32, error) {
	sqrtP, err := PriceToSqrtPriceX96(price)
	if err != nil {
		return 0, err
	}
	tick, err := TickAtSqrtRatio(sqrtP)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	return tick, nil
}

// TickToPrice returns the exact ratio encoded by SqrtRatioAtTick(tick).
func TickToPrice(tick int32) (*big.Rat, error) {
	sqrtP, err := SqrtRatioAtTick(tick)
	if err != nil {
		return nil, err
	}
	return SqrtPriceX96ToPrice(sqrtP), nil
}
