package limitorder

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/pricemath"
	"github.com/uhyunpark/tickorders/pkg/tickbitmap"
)

// candidate is an order collected for settlement.
type candidate struct {
	order *Order
	level int32
}

// crossedLevels returns the occupied levels between from and to inclusive,
// nearest to from first.
func crossedLevels(bm *tickbitmap.Bitmap, from, to int32, up bool) []int32 {
	spacing := bm.Spacing()
	var out []int32
	cursor := from
	for {
		lvl, ok := bm.NextOccupied(cursor, up)
		if !ok || (up && lvl > to) || (!up && lvl < to) {
			return out
		}
		out = append(out, lvl)
		if up {
			cursor = lvl + spacing
		} else {
			cursor = lvl - spacing
		}
	}
}

// eligible reports whether a resting order has been fully crossed by a move
// that left the curve at sqrtP.
func eligible(o *Order, move curve.PriceMove) bool {
	if o.Filled() || o.Direction.fillsOnZeroForOne() != move.ZeroForOne {
		return false
	}
	if o.Direction == SellCurrency0 {
		return move.SqrtPriceX96.Cmp(pricemath.MustSqrtRatioAtTick(o.TopLevel)) >= 0
	}
	return move.SqrtPriceX96.Cmp(pricemath.MustSqrtRatioAtTick(o.BottomLevel)) <= 0
}

// collect walks the crossed levels and returns every eligible order in
// settlement order. It does not modify any state.
func (e *Engine) collect(move curve.PriceMove) ([]candidate, int, error) {
	market := move.Key.ID()
	bm, ok := e.registry.index[market]
	if !ok {
		return nil, 0, nil
	}
	if move.SqrtPriceX96 == nil {
		return nil, 0, fmt.Errorf("%w: price move without a price", ErrInvariantViolation)
	}

	up := !move.ZeroForOne
	levels := crossedLevels(bm, move.OldLevel, move.NewLevel, up)

	var batch []candidate
	for _, lvl := range levels {
		ids := e.registry.OrdersAt(market, lvl)
		if len(ids) == 0 {
			return nil, 0, fmt.Errorf("%w: level %d marked occupied with no orders", ErrInvariantViolation, lvl)
		}
		for _, id := range ids {
			o, ok := e.registry.order(id)
			if !ok {
				return nil, 0, fmt.Errorf("%w: level %d lists unknown order %d", ErrInvariantViolation, lvl, id)
			}
			if eligible(o, move) {
				batch = append(batch, candidate{order: o, level: lvl})
			}
		}
	}
	return batch, len(levels), nil
}

// execute withdraws every order the move crossed and records its proceeds.
func (e *Engine) execute(move curve.PriceMove) error {
	batch, visited, err := e.collect(move)
	if err != nil {
		e.log.Error("crossing_scan", zap.String("market", move.Key.ID().Hex()), zap.Error(err))
		return err
	}
	e.log.Debug("crossing_scan",
		zap.String("market", move.Key.ID().Hex()),
		zap.Int32("old_level", move.OldLevel),
		zap.Int32("new_level", move.NewLevel),
		zap.Bool("zero_for_one", move.ZeroForOne),
		zap.Int("levels", visited),
		zap.Int("eligible", len(batch)))

	for _, c := range batch {
		if err := e.settle(move.Key, c); err != nil {
			e.log.Error("order_fill_failed", zap.Uint64("order_id", c.order.ID), zap.Error(err))
			return err
		}
	}
	return nil
}

// settle withdraws one order's liquidity and marks it filled.
func (e *Engine) settle(key curve.PoolKey, c candidate) error {
	o := c.order
	delta, err := e.curve.RemoveLiquidity(key, e.cfg.Account, curve.ModifyLiquidityParams{
		TickLower: o.BottomLevel,
		TickUpper: o.TopLevel,
		Liquidity: o.Liquidity,
		Salt:      orderSalt(o.ID),
	})
	if err != nil {
		return fmt.Errorf("withdraw order %d: %w", o.ID, err)
	}
	if delta.Amount0 == nil || delta.Amount1 == nil || delta.Amount0.Sign() < 0 || delta.Amount1.Sign() < 0 {
		return fmt.Errorf("%w: withdrawal of order %d returned %v", ErrInvariantViolation, o.ID, delta)
	}
	if err := e.registry.markFilled(o.ID, delta); err != nil {
		return err
	}

	e.emit(OrderFilled{
		OrderID:    o.ID,
		Market:     o.Market,
		Owner:      o.Owner,
		Level:      c.level,
		Settlement: delta.Clone(),
	})
	e.log.Info("order_filled",
		zap.Uint64("order_id", o.ID),
		zap.Stringer("owner", o.Owner),
		zap.Int32("level", c.level),
		zap.Stringer("amount0", delta.Amount0),
		zap.Stringer("amount1", delta.Amount1))
	return nil
}
