package limitorder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickorders/pkg/curve"
)

// Event is emitted by the engine after the operation that caused it succeeds.
type Event interface {
	EventType() string
	Account() common.Address
	MarketID() common.Hash
}

type OrderPlaced struct {
	OrderID     uint64         `json:"orderId"`
	Market      common.Hash    `json:"market"`
	Owner       common.Address `json:"owner"`
	Direction   Direction      `json:"direction"`
	IsRange     bool           `json:"isRange"`
	BottomLevel int32          `json:"bottomLevel"`
	TopLevel    int32          `json:"topLevel"`
	Liquidity   *big.Int       `json:"liquidity"`
	Deposited   *big.Int       `json:"deposited"`
	Refunded    *big.Int       `json:"refunded"`
}

type OrderFilled struct {
	OrderID    uint64             `json:"orderId"`
	Market     common.Hash        `json:"market"`
	Owner      common.Address     `json:"owner"`
	Level      int32              `json:"level"`
	Settlement curve.BalanceDelta `json:"settlement"`
}

type OrderClaimed struct {
	OrderID   uint64         `json:"orderId"`
	Market    common.Hash    `json:"market"`
	Owner     common.Address `json:"owner"`
	Treasury  common.Address `json:"treasury"`
	Owner0    *big.Int       `json:"owner0"`
	Owner1    *big.Int       `json:"owner1"`
	Treasury0 *big.Int       `json:"treasury0"`
	Treasury1 *big.Int       `json:"treasury1"`
}

func (OrderPlaced) EventType() string  { return "order_placed" }
func (OrderFilled) EventType() string  { return "order_filled" }
func (OrderClaimed) EventType() string { return "order_claimed" }

func (e OrderPlaced) Account() common.Address  { return e.Owner }
func (e OrderFilled) Account() common.Address  { return e.Owner }
func (e OrderClaimed) Account() common.Address { return e.Owner }

func (e OrderPlaced) MarketID() common.Hash  { return e.Market }
func (e OrderFilled) MarketID() common.Hash  { return e.Market }
func (e OrderClaimed) MarketID() common.Hash { return e.Market }
