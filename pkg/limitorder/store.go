package limitorder

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tickorders/pkg/storage"
	"github.com/uhyunpark/tickorders/pkg/tickbitmap"
)

// Pebble key schema (all under storage.PrefixOrderIndex):
//
//	lo:ord:{id}                 order record (JSON)
//	lo:lvl:{market}:{level}     ids listed at a level (JSON array)
//	lo:bm:{market}:{word}       index word (32 bytes, big endian)
//	lo:spc:{market}             tick spacing of the market's index
//	lo:meta:nextid              next order id
//	lo:meta:treasury            treasury address
//
// {market} is the raw 32-byte pool id; {level} and {word} use storage.Int32Key.
var (
	prefixOrder     = []byte(storage.PrefixOrderIndex + "ord:")
	prefixLevel     = []byte(storage.PrefixOrderIndex + "lvl:")
	prefixWord      = []byte(storage.PrefixOrderIndex + "bm:")
	prefixSpacing   = []byte(storage.PrefixOrderIndex + "spc:")
	keyNextID       = []byte(storage.PrefixOrderIndex + "meta:nextid")
	keyTreasury     = []byte(storage.PrefixOrderIndex + "meta:treasury")
	marketPartLen   = common.HashLength + 1 // market + ':'
	int32PartLength = 4
)

func orderKey(id uint64) []byte {
	return storage.Key(string(prefixOrder), storage.Uint64Key(id))
}

func levelStoreKey(k levelKey) []byte {
	return storage.Key(string(prefixLevel), k.Market[:], storage.Int32Key(k.Level))
}

func wordStoreKey(k wordKey) []byte {
	return storage.Key(string(prefixWord), k.Market[:], storage.Int32Key(int32(k.Word)))
}

func spacingKey(market common.Hash) []byte {
	return storage.Key(string(prefixSpacing), market[:])
}

// splitMarketKey parses {prefix}{market}:{int32}.
func splitMarketKey(key, prefix []byte) (common.Hash, int32, error) {
	rest := key[len(prefix):]
	if len(rest) != marketPartLen+int32PartLength {
		return common.Hash{}, 0, fmt.Errorf("malformed key %x", key)
	}
	return common.BytesToHash(rest[:common.HashLength]), storage.DecodeInt32Key(rest[marketPartLen:]), nil
}

// Flush stages every change since the last flush into b.
func (r *Registry) Flush(b *storage.Batch) error {
	for id := range r.dirtyOrders {
		if o, ok := r.orders[id]; ok {
			if err := b.SetJSON(orderKey(id), o); err != nil {
				return err
			}
		} else if err := b.Delete(orderKey(id)); err != nil {
			return err
		}
	}
	for k := range r.dirtyLevels {
		if list := r.levels[k]; len(list) > 0 {
			if err := b.SetJSON(levelStoreKey(k), list); err != nil {
				return err
			}
		} else if err := b.Delete(levelStoreKey(k)); err != nil {
			return err
		}
	}
	for k := range r.dirtyWords {
		var w uint256.Int
		if bm, ok := r.index[k.Market]; ok {
			w = bm.Word(k.Word)
		}
		if w.IsZero() {
			if err := b.Delete(wordStoreKey(k)); err != nil {
				return err
			}
			continue
		}
		bytes := w.Bytes32()
		if err := b.Set(wordStoreKey(k), bytes[:]); err != nil {
			return err
		}
	}
	for market := range r.dirtyMarkets {
		if bm, ok := r.index[market]; ok {
			if err := b.Set(spacingKey(market), storage.Int32Key(bm.Spacing())); err != nil {
				return err
			}
		} else if err := b.Delete(spacingKey(market)); err != nil {
			return err
		}
	}
	if r.dirtyMeta {
		if err := b.Set(keyNextID, storage.Uint64Key(r.nextID)); err != nil {
			return err
		}
		if err := b.Set(keyTreasury, r.treasury.Bytes()); err != nil {
			return err
		}
	}

	clear(r.dirtyOrders)
	clear(r.dirtyLevels)
	clear(r.dirtyWords)
	clear(r.dirtyMarkets)
	r.dirtyMeta = false
	return nil
}

// Load replaces the registry with what is persisted in s. The index words are
// read back as stored, not rebuilt from the lists.
func (r *Registry) Load(s *storage.PebbleStore) error {
	orders := make(map[uint64]*Order)
	err := s.Iterate(prefixOrder, func(key, value []byte) error {
		var o Order
		if err := json.Unmarshal(value, &o); err != nil {
			return fmt.Errorf("decode order %x: %w", key, err)
		}
		orders[o.ID] = &o
		return nil
	})
	if err != nil {
		return err
	}

	levels := make(map[levelKey][]uint64)
	err = s.Iterate(prefixLevel, func(key, value []byte) error {
		market, level, err := splitMarketKey(key, prefixLevel)
		if err != nil {
			return err
		}
		var ids []uint64
		if err := json.Unmarshal(value, &ids); err != nil {
			return fmt.Errorf("decode level %x: %w", key, err)
		}
		levels[levelKey{market, level}] = ids
		return nil
	})
	if err != nil {
		return err
	}

	index := make(map[common.Hash]*tickbitmap.Bitmap)
	err = s.Iterate(prefixSpacing, func(key, value []byte) error {
		if len(key) != len(prefixSpacing)+common.HashLength || len(value) != 4 {
			return fmt.Errorf("malformed spacing entry %x", key)
		}
		spacing := storage.DecodeInt32Key(value)
		if spacing <= 0 {
			return fmt.Errorf("invalid spacing %d at %x", spacing, key)
		}
		index[common.BytesToHash(key[len(prefixSpacing):])] = tickbitmap.New(spacing)
		return nil
	})
	if err != nil {
		return err
	}
	err = s.Iterate(prefixWord, func(key, value []byte) error {
		market, word, err := splitMarketKey(key, prefixWord)
		if err != nil {
			return err
		}
		bm, ok := index[market]
		if !ok || len(value) != 32 {
			return fmt.Errorf("orphan index word %x", key)
		}
		var w uint256.Int
		w.SetBytes32(value)
		bm.SetWord(int16(word), w)
		return nil
	})
	if err != nil {
		return err
	}

	nextID := uint64(1)
	if v, ok, err := s.Get(keyNextID); err != nil {
		return err
	} else if ok && len(v) == 8 {
		nextID = storage.DecodeUint64Key(v)
	}
	var treasury common.Address
	if v, ok, err := s.Get(keyTreasury); err != nil {
		return err
	} else if ok {
		treasury = common.BytesToAddress(v)
	}

	pos := make(map[uint64]int)
	for _, ids := range levels {
		for i, id := range ids {
			pos[id] = i
		}
	}

	r.orders, r.levels, r.pos, r.index = orders, levels, pos, index
	r.nextID, r.treasury = nextID, treasury
	clear(r.dirtyOrders)
	clear(r.dirtyLevels)
	clear(r.dirtyWords)
	clear(r.dirtyMarkets)
	r.dirtyMeta = false
	return nil
}
