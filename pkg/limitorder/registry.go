package limitorder

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/journal"
	"github.com/uhyunpark/tickorders/pkg/tickbitmap"
)

type levelKey struct {
	Market common.Hash
	Level  int32
}

type wordKey struct {
	Market common.Hash
	Word   int16
}

// Registry owns the order table, the per-level order lists and the per-market
// level index. It is the only place the index is written: a level's bit is
// set exactly when its list holds at least one resting order, and every
// mutation re-derives the bit from the list length.
type Registry struct {
	orders  map[uint64]*Order
	levels  map[levelKey][]uint64
	pos     map[uint64]int // resting order id -> index in its level list
	index   map[common.Hash]*tickbitmap.Bitmap
	nextID  uint64
	journal *journal.Journal

	treasury common.Address

	dirtyOrders  map[uint64]struct{}
	dirtyLevels  map[levelKey]struct{}
	dirtyWords   map[wordKey]struct{}
	dirtyMarkets map[common.Hash]struct{}
	dirtyMeta    bool
}

// NewRegistry returns an empty registry. Order ids start at 1.
func NewRegistry(j *journal.Journal) *Registry {
	return &Registry{
		orders:       make(map[uint64]*Order),
		levels:       make(map[levelKey][]uint64),
		pos:          make(map[uint64]int),
		index:        make(map[common.Hash]*tickbitmap.Bitmap),
		nextID:       1,
		journal:      j,
		dirtyOrders:  make(map[uint64]struct{}),
		dirtyLevels:  make(map[levelKey]struct{}),
		dirtyWords:   make(map[wordKey]struct{}),
		dirtyMarkets: make(map[common.Hash]struct{}),
	}
}

// NextID is the id the next inserted order will get.
func (r *Registry) NextID() uint64 { return r.nextID }

func (r *Registry) Treasury() common.Address { return r.treasury }

func (r *Registry) setTreasury(addr common.Address) {
	prev := r.treasury
	r.journal.Append(func() {
		r.treasury = prev
		r.dirtyMeta = true
	})
	r.treasury = addr
	r.dirtyMeta = true
}

// order returns the stored record; callers must not mutate it.
func (r *Registry) order(id uint64) (*Order, bool) {
	o, ok := r.orders[id]
	return o, ok
}

// View returns a snapshot of order id.
func (r *Registry) View(id uint64) (OrderView, bool) {
	o, ok := r.orders[id]
	if !ok {
		return OrderView{}, false
	}
	return viewOf(o), true
}

// wasIssued reports whether id was handed out at some point.
func (r *Registry) wasIssued(id uint64) bool { return id >= 1 && id < r.nextID }

func (r *Registry) bitmap(market common.Hash, spacing int32) *tickbitmap.Bitmap {
	bm, ok := r.index[market]
	if !ok {
		bm = tickbitmap.New(spacing)
		r.index[market] = bm
		r.dirtyMarkets[market] = struct{}{}
		r.journal.Append(func() {
			delete(r.index, market)
			r.dirtyMarkets[market] = struct{}{}
		})
	}
	return bm
}

// IsOccupied reports whether the index marks level in market.
func (r *Registry) IsOccupied(market common.Hash, level int32) bool {
	bm, ok := r.index[market]
	return ok && bm.IsSet(level)
}

// OrdersAt returns the ids listed at level in insertion order.
func (r *Registry) OrdersAt(market common.Hash, level int32) []uint64 {
	ids := append([]uint64(nil), r.levels[levelKey{market, level}]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Levels lists every occupied level of market in ascending order.
func (r *Registry) Levels(market common.Hash) []LevelView {
	bm, ok := r.index[market]
	if !ok {
		return nil
	}
	ticks := bm.Ticks()
	out := make([]LevelView, 0, len(ticks))
	for _, lvl := range ticks {
		out = append(out, LevelView{Level: lvl, OrderIDs: r.OrdersAt(market, lvl)})
	}
	return out
}

// Orders lists every stored order of owner (all markets), ordered by id.
func (r *Registry) Orders(owner common.Address) []OrderView {
	var out []OrderView
	for _, o := range r.orders {
		if o.Owner == owner {
			out = append(out, viewOf(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// syncBit sets or clears the index bit of k from the list length.
func (r *Registry) syncBit(k levelKey, bm *tickbitmap.Bitmap) error {
	r.dirtyLevels[k] = struct{}{}
	r.dirtyWords[wordKey{k.Market, bm.WordPos(k.Level)}] = struct{}{}
	var err error
	if len(r.levels[k]) > 0 {
		err = bm.Set(k.Level)
	} else {
		err = bm.Clear(k.Level)
	}
	if err != nil {
		return fmt.Errorf("%w: index level %d: %v", ErrInvariantViolation, k.Level, err)
	}
	return nil
}

// resync is syncBit for undo closures, where the bit was valid before the
// change being undone.
func (r *Registry) resync(k levelKey, bm *tickbitmap.Bitmap) {
	if err := r.syncBit(k, bm); err != nil {
		panic(err)
	}
}

// setList stores list at k, dropping the entry when it is empty.
func (r *Registry) setList(k levelKey, list []uint64) {
	if len(list) == 0 {
		delete(r.levels, k)
		return
	}
	r.levels[k] = list
}

// push appends id to the list at k.
func (r *Registry) push(k levelKey, bm *tickbitmap.Bitmap, id uint64) error {
	list := r.levels[k]
	r.pos[id] = len(list)
	r.setList(k, append(list, id))
	if err := r.syncBit(k, bm); err != nil {
		r.setList(k, list)
		delete(r.pos, id)
		return err
	}
	r.journal.Append(func() {
		list := r.levels[k]
		r.setList(k, list[:len(list)-1])
		delete(r.pos, id)
		r.resync(k, bm)
	})
	return nil
}

// unlist removes id from the list at k by moving the last entry into its
// slot.
func (r *Registry) unlist(k levelKey, bm *tickbitmap.Bitmap, id uint64) error {
	list := r.levels[k]
	at, ok := r.pos[id]
	if !ok || at >= len(list) || list[at] != id {
		return fmt.Errorf("%w: order %d not listed at level %d", ErrInvariantViolation, id, k.Level)
	}
	last := len(list) - 1
	moved := list[last]
	restore := func() {
		list := append(r.levels[k], moved)
		list[at] = id
		r.pos[moved] = last
		r.pos[id] = at
		r.setList(k, list)
	}
	list[at] = moved
	r.pos[moved] = at
	delete(r.pos, id)
	r.setList(k, list[:last])
	if err := r.syncBit(k, bm); err != nil {
		restore()
		return err
	}
	r.journal.Append(func() {
		restore()
		r.resync(k, bm)
	})
	return nil
}

func (r *Registry) saveOrder(id uint64) {
	prev, existed := r.orders[id]
	r.journal.Append(func() {
		if existed {
			r.orders[id] = prev
		} else {
			delete(r.orders, id)
		}
		r.dirtyOrders[id] = struct{}{}
	})
	r.dirtyOrders[id] = struct{}{}
}

// insert stores a new resting order under a fresh id and lists it at its
// index level.
func (r *Registry) insert(o *Order, spacing int32) (uint64, error) {
	if o.Filled() {
		return 0, fmt.Errorf("%w: inserting a filled order", ErrInvariantViolation)
	}
	level := o.indexLevel()
	if level%spacing != 0 {
		return 0, fmt.Errorf("%w: level %d not aligned to %d", ErrInvariantViolation, level, spacing)
	}

	id := r.nextID
	r.journal.Append(func() {
		r.nextID = id
		r.dirtyMeta = true
	})
	r.nextID++
	r.dirtyMeta = true

	o = o.clone()
	o.ID = id
	r.saveOrder(id)
	r.orders[id] = o

	bm := r.bitmap(o.Market, spacing)
	if bm.Spacing() != spacing {
		return 0, fmt.Errorf("%w: market %s indexed at spacing %d, not %d", ErrInvariantViolation, o.Market.Hex(), bm.Spacing(), spacing)
	}
	if err := r.push(levelKey{o.Market, level}, bm, id); err != nil {
		return 0, err
	}
	return id, nil
}

// markFilled records the settlement of a resting order and unlists it.
// The level's bit is cleared only when no other order remains listed there.
func (r *Registry) markFilled(id uint64, settlement curve.BalanceDelta) error {
	o, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %d vanished during execution", ErrInvariantViolation, id)
	}
	if o.Filled() {
		return fmt.Errorf("%w: order %d filled twice", ErrInvariantViolation, id)
	}
	if settlement.IsZero() {
		return fmt.Errorf("%w: order %d settled to nothing", ErrInvariantViolation, id)
	}

	bm, ok := r.index[o.Market]
	if !ok {
		return fmt.Errorf("%w: no index for market %s", ErrInvariantViolation, o.Market.Hex())
	}
	if err := r.unlist(levelKey{o.Market, o.indexLevel()}, bm, id); err != nil {
		return err
	}

	r.saveOrder(id)
	filled := o.clone()
	filled.Settlement = settlement.Clone()
	r.orders[id] = filled
	return nil
}

// remove deletes a filled order after its proceeds were released.
func (r *Registry) remove(id uint64) error {
	o, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if !o.Filled() {
		return fmt.Errorf("%w: removing resting order %d", ErrInvariantViolation, id)
	}
	r.saveOrder(id)
	delete(r.orders, id)
	return nil
}

// CheckOccupancy verifies that every index bit matches a non-empty list and
// every non-empty list has its bit set.
func (r *Registry) CheckOccupancy() error {
	for k, list := range r.levels {
		if len(list) == 0 {
			return fmt.Errorf("%w: empty list kept at %d", ErrInvariantViolation, k.Level)
		}
		if !r.IsOccupied(k.Market, k.Level) {
			return fmt.Errorf("%w: level %d has %d orders but no bit", ErrInvariantViolation, k.Level, len(list))
		}
		for i, id := range list {
			o, ok := r.orders[id]
			if !ok || o.Filled() {
				return fmt.Errorf("%w: level %d lists non-resting order %d", ErrInvariantViolation, k.Level, id)
			}
			if at, ok := r.pos[id]; !ok || at != i {
				return fmt.Errorf("%w: order %d position out of sync at level %d", ErrInvariantViolation, id, k.Level)
			}
		}
	}
	for market, bm := range r.index {
		for _, lvl := range bm.Ticks() {
			if len(r.levels[levelKey{market, lvl}]) == 0 {
				return fmt.Errorf("%w: bit set at empty level %d", ErrInvariantViolation, lvl)
			}
		}
	}
	return nil
}
