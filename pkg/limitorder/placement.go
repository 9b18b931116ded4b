package limitorder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/pricemath"
)

// PlaceParams describes a new order. Price is currency1 per currency0.
type PlaceParams struct {
	Owner     common.Address
	Key       curve.PoolKey
	Direction Direction
	IsRange   bool
	Price     *big.Rat
	Amount    *big.Int
}

// band is a validated [bottom, top] range with its sqrt prices.
type band struct {
	bottom, top         int32
	sqrtBottom, sqrtTop *big.Int
}

// orderBand converts the target price into the order's levels. current is the
// curve's tick at placement.
func orderBand(dir Direction, isRange bool, price *big.Rat, spacing, current int32) (band, error) {
	if price == nil || price.Sign() <= 0 {
		return band{}, fmt.Errorf("%w: price must be positive", ErrInvalidPrice)
	}
	sqrtP, err := pricemath.PriceToSqrtPriceX96(price)
	if err != nil {
		return band{}, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	raw, err := pricemath.TickAtSqrtRatio(sqrtP)
	if err != nil {
		return band{}, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}

	var bottom, top int32
	switch dir {
	case SellCurrency0:
		target := pricemath.AlignDown(raw, spacing)
		if isRange {
			bottom, top = pricemath.AlignDown(current, spacing)+spacing, target
			if top == bottom {
				top = bottom + spacing
			}
		} else {
			bottom, top = target-spacing, target
		}
		if bottom <= current || top <= bottom {
			return band{}, fmt.Errorf("%w: sell0 band [%d, %d] must lie above tick %d",
				ErrInvalidExecutionDirection, bottom, top, current)
		}
	case SellCurrency1:
		target := pricemath.AlignUp(raw, spacing)
		if isRange {
			bottom, top = target, pricemath.AlignDown(current, spacing)
			if top == bottom {
				bottom = top - spacing
			}
		} else {
			bottom, top = target, target+spacing
		}
		if top > current || top <= bottom {
			return band{}, fmt.Errorf("%w: sell1 band [%d, %d] must lie below tick %d",
				ErrInvalidExecutionDirection, bottom, top, current)
		}
	default:
		return band{}, fmt.Errorf("%w: %s", ErrInvalidExecutionDirection, dir)
	}

	if bottom < pricemath.MinUsableTick(spacing) || top > pricemath.MaxUsableTick(spacing) {
		return band{}, fmt.Errorf("%w: [%d, %d]", ErrTickOutOfBounds, bottom, top)
	}
	return band{
		bottom:     bottom,
		top:        top,
		sqrtBottom: pricemath.MustSqrtRatioAtTick(bottom),
		sqrtTop:    pricemath.MustSqrtRatioAtTick(top),
	}, nil
}

// Place validates and rests a new order, returning its id. The deposit moves
// from the owner into custody, custody adds the liquidity it buys to the
// curve, and whatever the curve did not take is refunded to the owner.
func (e *Engine) Place(p PlaceParams) (uint64, error) {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	current, err := e.curve.CurrentLevel(p.Key)
	if err != nil {
		return 0, err
	}
	b, err := orderBand(p.Direction, p.IsRange, p.Price, p.Key.TickSpacing, current)
	if err != nil {
		return 0, err
	}

	var liquidity *big.Int
	currencyIn := p.Key.Currency0
	if p.Direction == SellCurrency0 {
		liquidity = pricemath.LiquidityForAmount0(b.sqrtBottom, b.sqrtTop, p.Amount)
	} else {
		liquidity = pricemath.LiquidityForAmount1(b.sqrtBottom, b.sqrtTop, p.Amount)
		currencyIn = p.Key.Currency1
	}
	if liquidity.Sign() == 0 {
		return 0, fmt.Errorf("%w: %s buys no liquidity over [%d, %d]", ErrInvalidAmount, p.Amount, b.bottom, b.top)
	}

	var (
		id     uint64
		refund *big.Int
	)
	err = e.atomic(func() error {
		if err := e.custody.Transfer(p.Owner, e.cfg.Account, currencyIn, p.Amount); err != nil {
			return err
		}

		id = e.registry.NextID()
		delta, err := e.curve.AddLiquidity(p.Key, e.cfg.Account, curve.ModifyLiquidityParams{
			TickLower: b.bottom,
			TickUpper: b.top,
			Liquidity: liquidity,
			Salt:      orderSalt(id),
		})
		if err != nil {
			return err
		}

		used, other := delta.Amount0, delta.Amount1
		if p.Direction == SellCurrency1 {
			used, other = delta.Amount1, delta.Amount0
		}
		if other.Sign() != 0 {
			return fmt.Errorf("%w: curve took %s of the other currency", ErrInvariantViolation, other)
		}
		refund = new(big.Int).Add(p.Amount, used) // used is negative
		if refund.Sign() < 0 {
			return fmt.Errorf("%w: curve took %s, more than the deposit %s", ErrInvariantViolation, new(big.Int).Neg(used), p.Amount)
		}
		if err := e.custody.Transfer(e.cfg.Account, p.Owner, currencyIn, refund); err != nil {
			return err
		}

		got, err := e.registry.insert(&Order{
			Market:      p.Key.ID(),
			Owner:       p.Owner,
			Direction:   p.Direction,
			IsRange:     p.IsRange,
			BottomLevel: b.bottom,
			TopLevel:    b.top,
			Liquidity:   liquidity,
		}, p.Key.TickSpacing)
		if err != nil {
			return err
		}
		if got != id {
			return fmt.Errorf("%w: order id moved from %d to %d", ErrInvariantViolation, id, got)
		}

		e.emit(OrderPlaced{
			OrderID:     id,
			Market:      p.Key.ID(),
			Owner:       p.Owner,
			Direction:   p.Direction,
			IsRange:     p.IsRange,
			BottomLevel: b.bottom,
			TopLevel:    b.top,
			Liquidity:   new(big.Int).Set(liquidity),
			Deposited:   new(big.Int).Set(p.Amount),
			Refunded:    new(big.Int).Set(refund),
		})
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.log.Info("order_placed",
		zap.Uint64("order_id", id),
		zap.Stringer("owner", p.Owner),
		zap.Stringer("direction", p.Direction),
		zap.Bool("is_range", p.IsRange),
		zap.Int32("bottom_level", b.bottom),
		zap.Int32("top_level", b.top),
		zap.Int32("current_level", current),
		zap.Stringer("liquidity", liquidity),
		zap.Stringer("refund", refund))
	return id, nil
}
