package curve

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tickorders/pkg/storage"
)

// poolRecord is the gob form of a Pool. Fee growth is kept as 32-byte words.
type poolRecord struct {
	Key              PoolKey
	SqrtPriceX96     *big.Int
	Tick             int32
	Liquidity        *big.Int
	FeeGrowthGlobal0 [32]byte
	FeeGrowthGlobal1 [32]byte
	Ticks            []tickRecord
	Positions        []positionRecord
}

type tickRecord struct {
	Tick              int32
	LiquidityGross    *big.Int
	LiquidityNet      *big.Int
	FeeGrowthOutside0 [32]byte
	FeeGrowthOutside1 [32]byte
}

type positionRecord struct {
	Owner                common.Address
	TickLower, TickUpper int32
	Salt                 common.Hash
	Liquidity            *big.Int
	FeeGrowthInside0Last [32]byte
	FeeGrowthInside1Last [32]byte
	TokensOwed0          *big.Int
	TokensOwed1          *big.Int
}

func word(v uint256.Int) [32]byte { return v.Bytes32() }

func fromWord(b [32]byte) uint256.Int {
	var v uint256.Int
	v.SetBytes32(b[:])
	return v
}

func (p *Pool) record() poolRecord {
	rec := poolRecord{
		Key:              p.Key,
		SqrtPriceX96:     p.SqrtPriceX96,
		Tick:             p.Tick,
		Liquidity:        p.Liquidity,
		FeeGrowthGlobal0: word(p.FeeGrowthGlobal0),
		FeeGrowthGlobal1: word(p.FeeGrowthGlobal1),
	}
	for _, tick := range p.bitmap.Ticks() {
		info := p.Ticks[tick]
		rec.Ticks = append(rec.Ticks, tickRecord{
			Tick:              tick,
			LiquidityGross:    info.LiquidityGross,
			LiquidityNet:      info.LiquidityNet,
			FeeGrowthOutside0: word(info.FeeGrowthOutside0),
			FeeGrowthOutside1: word(info.FeeGrowthOutside1),
		})
	}
	for _, pos := range p.Positions {
		rec.Positions = append(rec.Positions, positionRecord{
			Owner:                pos.Owner,
			TickLower:            pos.TickLower,
			TickUpper:            pos.TickUpper,
			Salt:                 pos.Salt,
			Liquidity:            pos.Liquidity,
			FeeGrowthInside0Last: word(pos.FeeGrowthInside0Last),
			FeeGrowthInside1Last: word(pos.FeeGrowthInside1Last),
			TokensOwed0:          pos.TokensOwed0,
			TokensOwed1:          pos.TokensOwed1,
		})
	}
	return rec
}

func poolFromRecord(rec poolRecord) *Pool {
	p := &Pool{
		Key:              rec.Key,
		SqrtPriceX96:     rec.SqrtPriceX96,
		Tick:             rec.Tick,
		Liquidity:        orZero(rec.Liquidity),
		FeeGrowthGlobal0: fromWord(rec.FeeGrowthGlobal0),
		FeeGrowthGlobal1: fromWord(rec.FeeGrowthGlobal1),
		Ticks:            make(map[int32]*TickInfo, len(rec.Ticks)),
		Positions:        make(map[common.Hash]*Position, len(rec.Positions)),
	}
	for _, t := range rec.Ticks {
		p.Ticks[t.Tick] = &TickInfo{
			LiquidityGross:    orZero(t.LiquidityGross),
			LiquidityNet:      orZero(t.LiquidityNet),
			FeeGrowthOutside0: fromWord(t.FeeGrowthOutside0),
			FeeGrowthOutside1: fromWord(t.FeeGrowthOutside1),
		}
	}
	for _, r := range rec.Positions {
		p.Positions[PositionKey(r.Owner, r.TickLower, r.TickUpper, r.Salt)] = &Position{
			Owner:                r.Owner,
			TickLower:            r.TickLower,
			TickUpper:            r.TickUpper,
			Salt:                 r.Salt,
			Liquidity:            orZero(r.Liquidity),
			FeeGrowthInside0Last: fromWord(r.FeeGrowthInside0Last),
			FeeGrowthInside1Last: fromWord(r.FeeGrowthInside1Last),
			TokensOwed0:          orZero(r.TokensOwed0),
			TokensOwed1:          orZero(r.TokensOwed1),
		}
	}
	return p
}

// gob omits zero-valued big.Ints
func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func poolStoreKey(id common.Hash) []byte {
	return []byte(storage.PrefixPool + id.Hex())
}

// Flush stages every pool changed since the last flush into b.
func (m *Manager) Flush(b *storage.Batch) error {
	for id := range m.dirty {
		p, ok := m.pools[id]
		if !ok {
			if err := b.Delete(poolStoreKey(id)); err != nil {
				return err
			}
			continue
		}
		if err := b.SetGob(poolStoreKey(id), p.record()); err != nil {
			return err
		}
	}
	clear(m.dirty)
	return nil
}

// Load replaces every pool with the persisted snapshots. Hooks are kept.
func (m *Manager) Load(s *storage.PebbleStore) error {
	pools := make(map[common.Hash]*Pool)
	err := s.Iterate([]byte(storage.PrefixPool), func(key, value []byte) error {
		var rec poolRecord
		if err := storage.DecodeGob(value, &rec); err != nil {
			return fmt.Errorf("decode pool %q: %w", key, err)
		}
		p := poolFromRecord(rec)
		if err := p.restore(m.journal); err != nil {
			return fmt.Errorf("restore pool %q: %w", key, err)
		}
		pools[p.Key.ID()] = p
		return nil
	})
	if err != nil {
		return err
	}
	m.pools = pools
	clear(m.dirty)
	return nil
}
