package limitorder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/journal"
)

// Curve is the liquidity curve orders rest on.
type Curve interface {
	CurrentLevel(key curve.PoolKey) (int32, error)
	AddLiquidity(key curve.PoolKey, owner common.Address, params curve.ModifyLiquidityParams) (curve.BalanceDelta, error)
	RemoveLiquidity(key curve.PoolKey, owner common.Address, params curve.ModifyLiquidityParams) (curve.BalanceDelta, error)
}

// Custody moves asset balances between accounts.
type Custody interface {
	Transfer(from, to, currency common.Address, amount *big.Int) error
}

// Config holds fixed engine parameters.
type Config struct {
	// Account holds deposits and owns every order's curve position.
	Account common.Address
	// Treasury receives the treasury share of yield. Used only until a
	// persisted treasury exists.
	Treasury common.Address
	// TreasuryShareBps is the treasury's cut of yield in basis points.
	TreasuryShareBps uint32
}

// DefaultTreasuryShareBps is a 20% cut of yield.
const DefaultTreasuryShareBps = 2000

// Engine places, executes and settles orders. It implements curve.Hook.
//
// Not safe for concurrent use: every call must come from the host's single
// serialized execution context.
type Engine struct {
	cfg      Config
	curve    Curve
	custody  Custody
	registry *Registry
	journal  *journal.Journal
	log      *zap.Logger

	pending []Event
}

var _ curve.Hook = (*Engine)(nil)

// NewEngine wires an engine. j must be the journal shared with the curve and
// the custody ledger so a failed operation can be undone everywhere.
func NewEngine(cfg Config, c Curve, custody Custody, registry *Registry, j *journal.Journal, log *zap.Logger) (*Engine, error) {
	if cfg.TreasuryShareBps > 10_000 {
		return nil, fmt.Errorf("treasury share %d bps exceeds 100%%", cfg.TreasuryShareBps)
	}
	if cfg.Account == (common.Address{}) {
		return nil, fmt.Errorf("engine account must be set")
	}
	if j == nil {
		j = journal.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry(j)
	}
	e := &Engine{cfg: cfg, curve: c, custody: custody, registry: registry, journal: j, log: log}
	if registry.Treasury() == (common.Address{}) {
		if cfg.Treasury == (common.Address{}) {
			return nil, fmt.Errorf("%w: no treasury configured", ErrInvalidTreasury)
		}
		registry.setTreasury(cfg.Treasury)
	}
	return e, nil
}

// Registry exposes the order store for queries and persistence.
func (e *Engine) Registry() *Registry { return e.registry }

// Account is the custody account that holds deposits and proceeds.
func (e *Engine) Account() common.Address { return e.cfg.Account }

// Treasury returns the current treasury account.
func (e *Engine) Treasury() common.Address { return e.registry.Treasury() }

// atomic runs fn and undoes everything it journaled if it fails.
func (e *Engine) atomic(fn func() error) error {
	snap := e.journal.Snapshot()
	if err := fn(); err != nil {
		e.journal.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func (e *Engine) emit(ev Event) {
	n := len(e.pending)
	e.journal.Append(func() { e.pending = e.pending[:n] })
	e.pending = append(e.pending, ev)
}

// DrainEvents returns and forgets the events of every operation that has
// succeeded so far. Events of reverted operations never appear.
func (e *Engine) DrainEvents() []Event {
	out := e.pending
	e.pending = nil
	return out
}

// GetOrder returns a snapshot of order id.
func (e *Engine) GetOrder(id uint64) (OrderView, error) {
	v, ok := e.registry.View(id)
	if !ok {
		if e.registry.wasIssued(id) {
			return OrderView{}, fmt.Errorf("%w: %d", ErrAlreadyClaimed, id)
		}
		return OrderView{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return v, nil
}

// SetTreasury replaces the treasury. Only the current treasury may call it.
func (e *Engine) SetTreasury(caller, treasury common.Address) error {
	if caller != e.registry.Treasury() {
		return fmt.Errorf("%w: %s", ErrNotTreasury, caller.Hex())
	}
	if treasury == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidTreasury)
	}
	e.registry.setTreasury(treasury)
	e.log.Info("treasury_changed", zap.Stringer("from", caller), zap.Stringer("to", treasury))
	return nil
}

// AfterSwap runs the crossing pass for one price move. The pass is not
// cancellable: it settles every eligible order or fails as a whole.
func (e *Engine) AfterSwap(_ context.Context, move curve.PriceMove) error {
	return e.atomic(func() error { return e.execute(move) })
}
