// Package app is the host: it owns every state holder, runs each operation
// in one serialized execution context and commits its effects to Pebble in
// a single batch. A failed operation leaves no trace in memory or on disk.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickorders/pkg/crypto"
	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/journal"
	"github.com/uhyunpark/tickorders/pkg/ledger"
	"github.com/uhyunpark/tickorders/pkg/limitorder"
	"github.com/uhyunpark/tickorders/pkg/market"
	"github.com/uhyunpark/tickorders/pkg/storage"
	"github.com/uhyunpark/tickorders/pkg/util"
)

var (
	ErrFaucetDisabled = errors.New("faucet disabled")
	ErrNotAuthorized  = errors.New("caller not authorized")
	ErrInvalidRequest = errors.New("invalid request")
)

// Config holds the host's fixed parameters.
type Config struct {
	// HookAccount holds order deposits and owns every order position.
	HookAccount common.Address
	// ReserveAccount holds the curve's pool reserves.
	ReserveAccount   common.Address
	Treasury         common.Address
	TreasuryShareBps uint32
	ChainID          int64
	FaucetEnabled    bool
}

// Notification is one event delivered to subscribers after its operation
// committed.
type Notification struct {
	Type    string         `json:"type"`
	Symbol  string         `json:"symbol"`
	Account common.Address `json:"account"`
	Height  uint64         `json:"height"`
	Time    int64          `json:"time"` // unix ms
	Data    any            `json:"data"`
}

// Sink receives notifications. Notify is called with the host lock held and
// must not block or call back into the host.
type Sink interface {
	Notify(Notification)
}

type nopSink struct{}

func (nopSink) Notify(Notification) {}

// Swapped is the notification payload of a committed swap.
type Swapped struct {
	Trader       common.Address     `json:"trader"`
	ZeroForOne   bool               `json:"zeroForOne"`
	Delta        curve.BalanceDelta `json:"delta"`
	SqrtPriceX96 *big.Int           `json:"sqrtPriceX96"`
	Tick         int32              `json:"tick"`
}

func (Swapped) EventType() string { return "swap_executed" }

type App struct {
	mu sync.Mutex

	cfg     Config
	store   *storage.PebbleStore
	wal     storage.WAL
	journal *journal.Journal
	ledger  *ledger.Ledger
	curve   *curve.Manager
	engine  *limitorder.Engine
	markets *market.Registry
	signer  *crypto.EIP712Signer
	clock   util.Clock
	sink    Sink
	log     *zap.Logger

	height uint64 // committed operations since start
}

// New wires the components over store and restores persisted state.
func New(cfg Config, store *storage.PebbleStore, wal storage.WAL, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if wal == nil {
		wal = storage.NewNopWAL()
	}
	if cfg.ReserveAccount == (common.Address{}) || cfg.ReserveAccount == cfg.HookAccount {
		return nil, fmt.Errorf("reserve account must be set and differ from the hook account")
	}

	j := journal.New()
	led := ledger.New(j)
	cm := curve.NewManager(cfg.ReserveAccount, led, j, log.Named("curve"))
	registry := limitorder.NewRegistry(j)
	markets := market.NewRegistry(j)

	if err := led.Load(store); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if err := cm.Load(store); err != nil {
		return nil, fmt.Errorf("load pools: %w", err)
	}
	if err := registry.Load(store); err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	if err := registry.CheckOccupancy(); err != nil {
		return nil, fmt.Errorf("order index: %w", err)
	}
	if err := markets.Load(store); err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}

	engine, err := limitorder.NewEngine(limitorder.Config{
		Account:          cfg.HookAccount,
		Treasury:         cfg.Treasury,
		TreasuryShareBps: cfg.TreasuryShareBps,
	}, cm, led, registry, j, log.Named("limitorder"))
	if err != nil {
		return nil, err
	}
	for _, m := range markets.List() {
		if err := cm.SetHook(m.Key, engine); err != nil {
			return nil, fmt.Errorf("market %s: %w", m.Symbol, err)
		}
	}
	// NewEngine may have set the configured treasury
	j.Reset()

	chainID := cfg.ChainID
	if chainID == 0 {
		chainID = crypto.DefaultDomain().ChainID.Int64()
	}
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(chainID)

	a := &App{
		cfg:     cfg,
		store:   store,
		wal:     wal,
		journal: j,
		ledger:  led,
		curve:   cm,
		engine:  engine,
		markets: markets,
		signer:  crypto.NewEIP712Signer(domain),
		clock:   util.RealClock{},
		sink:    nopSink{},
		log:     log,
	}
	log.Info("app_loaded",
		zap.Int("markets", markets.Count()),
		zap.Uint64("next_order_id", registry.NextID()),
		zap.Stringer("treasury", engine.Treasury()))
	return a, nil
}

// SetSink installs the notification subscriber.
func (a *App) SetSink(s Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s == nil {
		s = nopSink{}
	}
	a.sink = s
}

// SetClock replaces the clock used for notification timestamps.
func (a *App) SetClock(c util.Clock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clock = c
}

// Signer exposes the request domain so clients can build matching payloads.
func (a *App) Signer() *crypto.EIP712Signer { return a.signer }

// apply runs one operation. On error every journaled change is undone and
// nothing is written. On success all dirty state is committed in one batch
// and the operation's events are delivered and returned.
func (a *App) apply(op string, detail any, fn func() ([]Notification, error)) ([]limitorder.Event, error) {
	snap := a.journal.Snapshot()
	extra, err := fn()
	if err != nil {
		a.journal.RevertToSnapshot(snap)
		a.log.Warn("operation_failed", zap.String("op", op), zap.Error(err))
		return nil, err
	}

	if err := a.commit(); err != nil {
		a.journal.RevertToSnapshot(snap)
		a.log.Error("commit_failed", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("commit %s: %w", op, err)
	}
	a.journal.Reset()
	a.height++

	if err := a.wal.Append(storage.WALRecord{Height: a.height, Op: op, Detail: detail}); err != nil {
		a.log.Error("wal_append_failed", zap.String("op", op), zap.Uint64("height", a.height), zap.Error(err))
	}

	now := a.clock.Now().UnixMilli()
	events := a.engine.DrainEvents()
	for _, ev := range events {
		n := Notification{
			Type:    ev.EventType(),
			Account: ev.Account(),
			Height:  a.height,
			Time:    now,
			Data:    ev,
		}
		if m, err := a.markets.GetByID(ev.MarketID()); err == nil {
			n.Symbol = m.Symbol
		}
		a.sink.Notify(n)
	}
	for _, n := range extra {
		n.Height, n.Time = a.height, now
		a.sink.Notify(n)
	}
	return events, nil
}

func (a *App) commit() error {
	b := a.store.NewBatch()
	defer b.Close()

	if err := a.ledger.Flush(b); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := a.curve.Flush(b); err != nil {
		return fmt.Errorf("pools: %w", err)
	}
	if err := a.engine.Registry().Flush(b); err != nil {
		return fmt.Errorf("orders: %w", err)
	}
	if err := a.markets.Flush(b); err != nil {
		return fmt.Errorf("markets: %w", err)
	}
	if b.Len() == 0 {
		return nil
	}
	return b.Commit()
}

// Height is the number of operations committed since start.
func (a *App) Height() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.height
}

func (a *App) tradable(symbol string) (*market.Market, error) {
	return a.markets.CheckTradable(symbol)
}

func (a *App) swappable(symbol string) (*market.Market, error) {
	m, err := a.markets.Get(symbol)
	if err != nil {
		return nil, err
	}
	if m.Status == market.Closed {
		return nil, fmt.Errorf("%w: %s is closed", market.ErrMarketPaused, symbol)
	}
	return m, nil
}

// withContext detaches ctx from its caller's cancellation. Once a swap has
// started, its crossing pass runs to completion or reverts on its own errors.
func withContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
