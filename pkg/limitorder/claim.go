package limitorder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/pricemath"
)

// Split is how a filled order's proceeds are divided, per currency.
type Split struct {
	Principal0 *big.Int `json:"principal0"`
	Principal1 *big.Int `json:"principal1"`
	Yield0     *big.Int `json:"yield0"`
	Yield1     *big.Int `json:"yield1"`
	Owner0     *big.Int `json:"owner0"`
	Owner1     *big.Int `json:"owner1"`
	Treasury0  *big.Int `json:"treasury0"`
	Treasury1  *big.Int `json:"treasury1"`
}

// Principal is what the order's liquidity returns when withdrawn after the
// price has fully crossed its band: currency1 for a sell0 order, currency0
// for a sell1 order. Rounded down, like the curve's own withdrawal.
func Principal(o *Order) (*big.Int, *big.Int) {
	sqrtBottom := pricemath.MustSqrtRatioAtTick(o.BottomLevel)
	sqrtTop := pricemath.MustSqrtRatioAtTick(o.TopLevel)
	if o.Direction == SellCurrency0 {
		return new(big.Int), pricemath.Amount1Delta(sqrtBottom, sqrtTop, o.Liquidity, false)
	}
	return pricemath.Amount0Delta(sqrtBottom, sqrtTop, o.Liquidity, false), new(big.Int)
}

// splitYield gives the treasury floor(yield * bps / 10000); the owner keeps
// the rest, including any rounding remainder.
func splitYield(yield *big.Int, bps uint32) (owner, treasury *big.Int) {
	treasury = new(big.Int).Mul(yield, big.NewInt(int64(bps)))
	treasury.Quo(treasury, big.NewInt(10_000))
	return new(big.Int).Sub(yield, treasury), treasury
}

func splitProceeds(o *Order, bps uint32) (Split, error) {
	p0, p1 := Principal(o)
	settled := o.Settlement.Clone()
	y0 := new(big.Int).Sub(settled.Amount0, p0)
	y1 := new(big.Int).Sub(settled.Amount1, p1)
	if y0.Sign() < 0 || y1.Sign() < 0 {
		return Split{}, fmt.Errorf("%w: order %d settled (%s, %s) against principal (%s, %s)",
			ErrNegativeYield, o.ID, settled.Amount0, settled.Amount1, p0, p1)
	}
	ownerY0, t0 := splitYield(y0, bps)
	ownerY1, t1 := splitYield(y1, bps)
	return Split{
		Principal0: p0,
		Principal1: p1,
		Yield0:     y0,
		Yield1:     y1,
		Owner0:     ownerY0.Add(ownerY0, p0),
		Owner1:     ownerY1.Add(ownerY1, p1),
		Treasury0:  t0,
		Treasury1:  t1,
	}, nil
}

// lookup returns a filled-or-resting order, distinguishing claimed ids from
// ids that never existed.
func (e *Engine) lookup(id uint64) (*Order, error) {
	o, ok := e.registry.order(id)
	if !ok {
		if e.registry.wasIssued(id) {
			return nil, fmt.Errorf("%w: %d", ErrAlreadyClaimed, id)
		}
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return o, nil
}

// PreviewClaim computes the split Claim would pay without moving anything.
func (e *Engine) PreviewClaim(id uint64) (Split, error) {
	o, err := e.lookup(id)
	if err != nil {
		return Split{}, err
	}
	if !o.Filled() {
		return Split{}, fmt.Errorf("%w: %d", ErrNotExecuted, id)
	}
	return splitProceeds(o, e.cfg.TreasuryShareBps)
}

// Claim releases a filled order's proceeds to its owner and the treasury
// and deletes the order. An order can be claimed once.
func (e *Engine) Claim(id uint64, key curve.PoolKey, caller common.Address) (Split, error) {
	o, err := e.lookup(id)
	if err != nil {
		return Split{}, err
	}
	if o.Market != key.ID() {
		return Split{}, fmt.Errorf("%w: order %d", ErrMarketMismatch, id)
	}
	if !o.Filled() {
		return Split{}, fmt.Errorf("%w: %d", ErrNotExecuted, id)
	}
	if o.Owner != caller {
		return Split{}, fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	split, err := splitProceeds(o, e.cfg.TreasuryShareBps)
	if err != nil {
		e.log.Error("order_claim_failed", zap.Uint64("order_id", id), zap.Error(err))
		return Split{}, err
	}

	treasury := e.registry.Treasury()
	err = e.atomic(func() error {
		if err := e.registry.remove(id); err != nil {
			return err
		}
		transfers := []struct {
			to       common.Address
			currency common.Address
			amount   *big.Int
		}{
			{o.Owner, key.Currency0, split.Owner0},
			{o.Owner, key.Currency1, split.Owner1},
			{treasury, key.Currency0, split.Treasury0},
			{treasury, key.Currency1, split.Treasury1},
		}
		for _, t := range transfers {
			if err := e.custody.Transfer(e.cfg.Account, t.to, t.currency, t.amount); err != nil {
				return err
			}
		}
		e.emit(OrderClaimed{
			OrderID:   id,
			Market:    o.Market,
			Owner:     o.Owner,
			Treasury:  treasury,
			Owner0:    new(big.Int).Set(split.Owner0),
			Owner1:    new(big.Int).Set(split.Owner1),
			Treasury0: new(big.Int).Set(split.Treasury0),
			Treasury1: new(big.Int).Set(split.Treasury1),
		})
		return nil
	})
	if err != nil {
		return Split{}, err
	}

	e.log.Info("order_claimed",
		zap.Uint64("order_id", id),
		zap.Stringer("owner", o.Owner),
		zap.Stringer("owner0", split.Owner0),
		zap.Stringer("owner1", split.Owner1),
		zap.Stringer("treasury0", split.Treasury0),
		zap.Stringer("treasury1", split.Treasury1))
	return split, nil
}
