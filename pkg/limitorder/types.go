// Package limitorder rests single-sided orders on a concentrated-liquidity
// curve and fills them when swaps move the price through their band.
//
// An order deposits one currency as liquidity over [BottomLevel, TopLevel].
// Orders selling currency0 sit above the price and are indexed at their top
// level; orders selling currency1 sit below and are indexed at their bottom
// level. After each swap the engine walks the crossed levels, withdraws every
// order the price has fully passed and records what came out. Owners claim
// the proceeds later; yield above the order's principal is shared with a
// treasury.
package limitorder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickorders/pkg/curve"
)

var (
	// placement
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInvalidPrice              = errors.New("invalid price")
	ErrInvalidExecutionDirection = errors.New("invalid execution direction")
	ErrTickOutOfBounds           = errors.New("tick out of bounds")

	// claim
	ErrNotExecuted    = errors.New("order not executed")
	ErrAlreadyClaimed = errors.New("order already claimed")
	ErrNotOwner       = errors.New("caller is not the order owner")
	ErrOrderNotFound  = errors.New("order not found")
	ErrMarketMismatch = errors.New("order belongs to another market")
	ErrNegativeYield  = errors.New("settled amount below principal")

	// admin
	ErrNotTreasury     = errors.New("caller is not the treasury")
	ErrInvalidTreasury = errors.New("invalid treasury address")

	// ErrInvariantViolation means the index and the order lists disagree or the
	// curve returned something impossible. The enclosing operation is aborted.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Direction is the currency an order sells.
type Direction uint8

const (
	// SellCurrency0 deposits currency0 above the price and fills into currency1
	// when the price rises through the band.
	SellCurrency0 Direction = iota + 1
	// SellCurrency1 deposits currency1 below the price and fills into currency0
	// when the price falls through the band.
	SellCurrency1
)

func (d Direction) String() string {
	switch d {
	case SellCurrency0:
		return "sell0"
	case SellCurrency1:
		return "sell1"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	if d != SellCurrency0 && d != SellCurrency1 {
		return nil, fmt.Errorf("invalid direction %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDirection accepts "sell0" or "sell1".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "sell0":
		return SellCurrency0, nil
	case "sell1":
		return SellCurrency1, nil
	default:
		return 0, fmt.Errorf("%w: unknown direction %q", ErrInvalidExecutionDirection, s)
	}
}

// fillsOnZeroForOne reports whether a swap selling currency0 can fill orders
// of this direction.
func (d Direction) fillsOnZeroForOne() bool { return d == SellCurrency1 }

// Order is the stored record. Settlement is zero while the order rests and
// holds the withdrawn amounts once it has filled.
type Order struct {
	ID          uint64             `json:"id"`
	Market      common.Hash        `json:"market"`
	Owner       common.Address     `json:"owner"`
	Direction   Direction          `json:"direction"`
	IsRange     bool               `json:"isRange"`
	BottomLevel int32              `json:"bottomLevel"`
	TopLevel    int32              `json:"topLevel"`
	Liquidity   *big.Int           `json:"liquidity"`
	Settlement  curve.BalanceDelta `json:"settlement"`
}

// Filled reports whether the order has been executed.
func (o Order) Filled() bool { return !o.Settlement.IsZero() }

// indexLevel is the level the order is listed under.
func (o Order) indexLevel() int32 {
	if o.Direction == SellCurrency0 {
		return o.TopLevel
	}
	return o.BottomLevel
}

func (o *Order) clone() *Order {
	cp := *o
	cp.Liquidity = new(big.Int).Set(o.Liquidity)
	cp.Settlement = o.Settlement.Clone()
	return &cp
}

// OrderView is a read-only snapshot of an order.
type OrderView struct {
	Order
	Status string `json:"status"`
}

func viewOf(o *Order) OrderView {
	status := "resting"
	if o.Filled() {
		status = "filled"
	}
	return OrderView{Order: *o.clone(), Status: status}
}

// orderSalt separates each order's curve position from every other order's,
// even when they share a band.
func orderSalt(id uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(id))
}

// LevelView lists the orders resting at one level of a market.
type LevelView struct {
	Level    int32    `json:"level"`
	OrderIDs []uint64 `json:"orderIds"`
}
