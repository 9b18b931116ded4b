package curve

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tickorders/pkg/journal"
	"github.com/uhyunpark/tickorders/pkg/pricemath"
	"github.com/uhyunpark/tickorders/pkg/tickbitmap"
)

// TickInfo is the per-tick state of an initialized tick.
type TickInfo struct {
	LiquidityGross    *big.Int
	LiquidityNet      *big.Int
	FeeGrowthOutside0 uint256.Int
	FeeGrowthOutside1 uint256.Int
}

func (t *TickInfo) clone() *TickInfo {
	return &TickInfo{
		LiquidityGross:    new(big.Int).Set(t.LiquidityGross),
		LiquidityNet:      new(big.Int).Set(t.LiquidityNet),
		FeeGrowthOutside0: t.FeeGrowthOutside0,
		FeeGrowthOutside1: t.FeeGrowthOutside1,
	}
}

// Position is liquidity owned by one account over one range.
type Position struct {
	Owner                common.Address
	TickLower            int32
	TickUpper            int32
	Salt                 common.Hash
	Liquidity            *big.Int
	FeeGrowthInside0Last uint256.Int
	FeeGrowthInside1Last uint256.Int
	TokensOwed0          *big.Int
	TokensOwed1          *big.Int
}

func (p *Position) clone() *Position {
	cp := *p
	cp.Liquidity = new(big.Int).Set(p.Liquidity)
	cp.TokensOwed0 = new(big.Int).Set(p.TokensOwed0)
	cp.TokensOwed1 = new(big.Int).Set(p.TokensOwed1)
	return &cp
}

// PositionKey is keccak256(owner ‖ tickLower ‖ tickUpper ‖ salt).
func PositionKey(owner common.Address, tickLower, tickUpper int32, salt common.Hash) common.Hash {
	var buf [20 + 4 + 4 + 32]byte
	copy(buf[:20], owner[:])
	putInt32(buf[20:24], tickLower)
	putInt32(buf[24:28], tickUpper)
	copy(buf[28:], salt[:])
	return crypto.Keccak256Hash(buf[:])
}

func putInt32(b []byte, v int32) {
	u := uint32(v)
	b[0], b[1], b[2], b[3] = byte(u>>24), byte(u>>16), byte(u>>8), byte(u)
}

// Pool is the full state of one pool. Exported fields are persisted; the
// bitmap is rebuilt from Ticks on load.
type Pool struct {
	Key              PoolKey
	SqrtPriceX96     *big.Int
	Tick             int32
	Liquidity        *big.Int
	FeeGrowthGlobal0 uint256.Int
	FeeGrowthGlobal1 uint256.Int
	Ticks            map[int32]*TickInfo
	Positions        map[common.Hash]*Position

	bitmap  *tickbitmap.Bitmap
	journal *journal.Journal
}

func newPool(key PoolKey, sqrtPriceX96 *big.Int, tick int32, j *journal.Journal) *Pool {
	return &Pool{
		Key:          key,
		SqrtPriceX96: new(big.Int).Set(sqrtPriceX96),
		Tick:         tick,
		Liquidity:    new(big.Int),
		Ticks:        make(map[int32]*TickInfo),
		Positions:    make(map[common.Hash]*Position),
		bitmap:       tickbitmap.New(key.TickSpacing),
		journal:      j,
	}
}

// restore rebuilds derived state after decoding.
func (p *Pool) restore(j *journal.Journal) error {
	p.journal = j
	p.bitmap = tickbitmap.New(p.Key.TickSpacing)
	if p.Ticks == nil {
		p.Ticks = make(map[int32]*TickInfo)
	}
	if p.Positions == nil {
		p.Positions = make(map[common.Hash]*Position)
	}
	for tick := range p.Ticks {
		if err := p.bitmap.Set(tick); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) slot0() Slot0 {
	return Slot0{
		SqrtPriceX96: new(big.Int).Set(p.SqrtPriceX96),
		Tick:         p.Tick,
		Liquidity:    new(big.Int).Set(p.Liquidity),
	}
}

// saveSlot journals the scalar price state.
func (p *Pool) saveSlot() {
	sqrtP, tick, liq := p.SqrtPriceX96, p.Tick, p.Liquidity
	fg0, fg1 := p.FeeGrowthGlobal0, p.FeeGrowthGlobal1
	p.journal.Append(func() {
		p.SqrtPriceX96, p.Tick, p.Liquidity = sqrtP, tick, liq
		p.FeeGrowthGlobal0, p.FeeGrowthGlobal1 = fg0, fg1
	})
}

// saveTick journals a tick entry together with its bitmap bit.
func (p *Pool) saveTick(tick int32) {
	prev, ok := p.Ticks[tick]
	var cp *TickInfo
	if ok {
		cp = prev.clone()
	}
	p.journal.Append(func() {
		if ok {
			p.Ticks[tick] = cp
			_ = p.bitmap.Set(tick)
		} else {
			delete(p.Ticks, tick)
			_ = p.bitmap.Clear(tick)
		}
	})
}

func (p *Pool) savePosition(key common.Hash) {
	prev, ok := p.Positions[key]
	var cp *Position
	if ok {
		cp = prev.clone()
	}
	p.journal.Append(func() {
		if ok {
			p.Positions[key] = cp
		} else {
			delete(p.Positions, key)
		}
	})
}

// feeGrowthInside returns fee growth per unit of liquidity inside [lower, upper).
func (p *Pool) feeGrowthInside(lower, upper int32) (uint256.Int, uint256.Int) {
	lo, hi := p.Ticks[lower], p.Ticks[upper]
	var below0, below1, above0, above1 uint256.Int

	if p.Tick >= lower {
		below0, below1 = lo.FeeGrowthOutside0, lo.FeeGrowthOutside1
	} else {
		below0.Sub(&p.FeeGrowthGlobal0, &lo.FeeGrowthOutside0)
		below1.Sub(&p.FeeGrowthGlobal1, &lo.FeeGrowthOutside1)
	}
	if p.Tick < upper {
		above0, above1 = hi.FeeGrowthOutside0, hi.FeeGrowthOutside1
	} else {
		above0.Sub(&p.FeeGrowthGlobal0, &hi.FeeGrowthOutside0)
		above1.Sub(&p.FeeGrowthGlobal1, &hi.FeeGrowthOutside1)
	}

	var in0, in1 uint256.Int
	in0.Sub(&p.FeeGrowthGlobal0, &below0)
	in0.Sub(&in0, &above0)
	in1.Sub(&p.FeeGrowthGlobal1, &below1)
	in1.Sub(&in1, &above1)
	return in0, in1
}

// updateTick applies liquidityDelta at tick and returns whether the tick
// flipped between initialized and uninitialized.
func (p *Pool) updateTick(tick int32, liquidityDelta *big.Int, upper bool) (bool, error) {
	p.saveTick(tick)

	info, ok := p.Ticks[tick]
	if !ok {
		info = &TickInfo{LiquidityGross: new(big.Int), LiquidityNet: new(big.Int)}
		// by convention all growth before initialization happened below the tick
		if tick <= p.Tick {
			info.FeeGrowthOutside0 = p.FeeGrowthGlobal0
			info.FeeGrowthOutside1 = p.FeeGrowthGlobal1
		}
		p.Ticks[tick] = info
	} else {
		info = info.clone()
		p.Ticks[tick] = info
	}

	grossBefore := info.LiquidityGross.Sign()
	info.LiquidityGross.Add(info.LiquidityGross, liquidityDelta)
	if info.LiquidityGross.Sign() < 0 {
		return false, ErrInsufficientLiquidity
	}
	if upper {
		info.LiquidityNet.Sub(info.LiquidityNet, liquidityDelta)
	} else {
		info.LiquidityNet.Add(info.LiquidityNet, liquidityDelta)
	}

	flipped := (grossBefore == 0) != (info.LiquidityGross.Sign() == 0)
	if flipped {
		if info.LiquidityGross.Sign() == 0 {
			if err := p.bitmap.Clear(tick); err != nil {
				return false, err
			}
		} else if err := p.bitmap.Set(tick); err != nil {
			return false, err
		}
	}
	return flipped, nil
}

// crossTick flips the outside fee growth of tick and returns its net liquidity.
func (p *Pool) crossTick(tick int32, fg0, fg1 *uint256.Int) *big.Int {
	p.saveTick(tick)
	info := p.Ticks[tick].clone()
	info.FeeGrowthOutside0.Sub(fg0, &info.FeeGrowthOutside0)
	info.FeeGrowthOutside1.Sub(fg1, &info.FeeGrowthOutside1)
	p.Ticks[tick] = info
	return new(big.Int).Set(info.LiquidityNet)
}

// owedFees returns (inside - last) * liquidity / 2^128 for each currency.
func owedFees(inside, last *uint256.Int, liquidity *big.Int) *big.Int {
	var d uint256.Int
	d.Sub(inside, last)
	out := new(big.Int).Mul(d.ToBig(), liquidity)
	return out.Rsh(out, 128)
}

// modifyPosition updates ticks, the position and active liquidity, and returns
// the currency amounts represented by |liquidityDelta| at the current price.
// Amounts are rounded up when adding and down when removing.
func (p *Pool) modifyPosition(owner common.Address, params ModifyLiquidityParams, liquidityDelta *big.Int) (*Position, *big.Int, *big.Int, error) {
	lower, upper := params.TickLower, params.TickUpper
	adding := liquidityDelta.Sign() > 0

	posKey := PositionKey(owner, lower, upper, params.Salt)
	pos, ok := p.Positions[posKey]
	if !ok {
		if !adding {
			return nil, nil, nil, ErrInsufficientLiquidity
		}
		pos = &Position{
			Owner: owner, TickLower: lower, TickUpper: upper, Salt: params.Salt,
			Liquidity: new(big.Int), TokensOwed0: new(big.Int), TokensOwed1: new(big.Int),
		}
	} else if !adding && pos.Liquidity.CmpAbs(liquidityDelta) < 0 {
		return nil, nil, nil, ErrInsufficientLiquidity
	}

	flippedLower, err := p.updateTick(lower, liquidityDelta, false)
	if err != nil {
		return nil, nil, nil, err
	}
	flippedUpper, err := p.updateTick(upper, liquidityDelta, true)
	if err != nil {
		return nil, nil, nil, err
	}

	in0, in1 := p.feeGrowthInside(lower, upper)

	p.savePosition(posKey)
	pos = pos.clone()
	pos.TokensOwed0.Add(pos.TokensOwed0, owedFees(&in0, &pos.FeeGrowthInside0Last, pos.Liquidity))
	pos.TokensOwed1.Add(pos.TokensOwed1, owedFees(&in1, &pos.FeeGrowthInside1Last, pos.Liquidity))
	pos.FeeGrowthInside0Last, pos.FeeGrowthInside1Last = in0, in1
	pos.Liquidity.Add(pos.Liquidity, liquidityDelta)
	p.Positions[posKey] = pos

	// uninitialized ticks carry no state worth keeping
	if !adding {
		if flippedLower {
			delete(p.Ticks, lower)
		}
		if flippedUpper {
			delete(p.Ticks, upper)
		}
	}

	if lower <= p.Tick && p.Tick < upper {
		p.saveSlot()
		p.Liquidity = new(big.Int).Add(p.Liquidity, liquidityDelta)
	}

	abs := new(big.Int).Abs(liquidityDelta)
	amount0, amount1 := pricemath.AmountsForLiquidity(
		p.SqrtPriceX96,
		pricemath.MustSqrtRatioAtTick(lower),
		pricemath.MustSqrtRatioAtTick(upper),
		abs, adding)
	return pos, amount0, amount1, nil
}
