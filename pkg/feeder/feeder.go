// Package feeder generates signed traffic against a running host: simulated
// traders rest orders around the current price, push the price back and
// forth with swaps, and claim whatever filled. Development and load testing
// only; it relies on the faucet.
package feeder

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickorders/pkg/app"
	"github.com/uhyunpark/tickorders/pkg/crypto"
	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/limitorder"
	"github.com/uhyunpark/tickorders/pkg/pricemath"
)

// Host is the part of the host the feeder drives.
type Host interface {
	Market(symbol string) (app.MarketState, error)
	Signer() *crypto.EIP712Signer
	Nonce(account common.Address) uint64
	Faucet(account, currency common.Address, amount *big.Int) error
	AddLiquidity(symbol string, owner common.Address, lower, upper int32, liquidity *big.Int) (curve.BalanceDelta, error)
	SubmitPlace(req crypto.PlaceOrderRequest, sig []byte) (uint64, error)
	SubmitSwap(ctx context.Context, req crypto.SwapRequest, sig []byte) (app.SwapResult, error)
	SubmitClaim(req crypto.ClaimRequest, sig []byte) (limitorder.Split, error)
	Order(id uint64) (limitorder.OrderView, error)
}

var _ Host = (*app.App)(nil)

// Config controls traffic shape
type Config struct {
	Symbol        string
	NumAccounts   int           // simulated traders
	OrdersPerStep int           // placements per step
	SwapsPerStep  int           // swaps per step
	Interval      time.Duration // time between steps in Start
	Seed          int64
}

// DefaultConfig returns modest devnet traffic
func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:        symbol,
		NumAccounts:   10,
		OrdersPerStep: 2,
		SwapsPerStep:  1,
		Interval:      500 * time.Millisecond,
		Seed:          time.Now().UnixNano(),
	}
}

// Stats counts what the feeder has done
type Stats struct {
	Steps    int `json:"steps"`
	Placed   int `json:"placed"`
	Swaps    int `json:"swaps"`
	Filled   int `json:"filled"`
	Claimed  int `json:"claimed"`
	Rejected int `json:"rejected"`
}

var (
	funding       = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)
	unit          = new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)
	baseLiquidity = new(big.Int).Exp(big.NewInt(10), big.NewInt(21), nil)
)

// widths, in tick spacings
const (
	lpHalfWidth   = 100
	maxOrderGap   = 6
	maxSwapTravel = 8
)

type resting struct {
	id     uint64
	trader int
}

// Feeder is not safe for concurrent use; run one Start or call Step from
// one goroutine.
type Feeder struct {
	cfg  Config
	host Host
	log  *zap.Logger
	rng  *rand.Rand

	traders []*crypto.Signer
	lp      *crypto.Signer
	open    []resting
	ready   bool
	stats   Stats
}

func New(cfg Config, host Host, log *zap.Logger) (*Feeder, error) {
	if cfg.NumAccounts <= 0 {
		cfg.NumAccounts = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	f := &Feeder{
		cfg:  cfg,
		host: host,
		log:  log,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}
	for i := 0; i < cfg.NumAccounts; i++ {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		f.traders = append(f.traders, s)
	}
	lp, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	f.lp = lp
	return f, nil
}

// Stats returns the counters so far.
func (f *Feeder) Stats() Stats { return f.stats }

// Start runs Step every Interval until ctx is done.
func (f *Feeder) Start(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	f.log.Info("feeder_started",
		zap.String("symbol", f.cfg.Symbol),
		zap.Int("accounts", f.cfg.NumAccounts),
		zap.Duration("interval", f.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			f.log.Info("feeder_stopped", zap.Any("stats", f.stats))
			return
		case <-ticker.C:
			if err := f.Step(ctx); err != nil {
				f.log.Warn("feeder_step_failed", zap.Error(err))
			}
			if f.stats.Steps%20 == 0 {
				f.log.Info("feeder_stats", zap.Any("stats", f.stats))
			}
		}
	}
}

// setup funds every account and seeds the market with wide liquidity.
func (f *Feeder) setup() error {
	st, err := f.host.Market(f.cfg.Symbol)
	if err != nil {
		return err
	}
	accounts := []common.Address{f.lp.Address()}
	for _, t := range f.traders {
		accounts = append(accounts, t.Address())
	}
	for _, acc := range accounts {
		for _, c := range []common.Address{st.Key.Currency0, st.Key.Currency1} {
			if err := f.host.Faucet(acc, c, funding); err != nil {
				return err
			}
		}
	}

	spacing := st.Key.TickSpacing
	center := pricemath.AlignDown(st.Slot0.Tick, spacing)
	lower := max(center-lpHalfWidth*spacing, pricemath.MinUsableTick(spacing))
	upper := min(center+lpHalfWidth*spacing, pricemath.MaxUsableTick(spacing))
	if _, err := f.host.AddLiquidity(f.cfg.Symbol, f.lp.Address(), lower, upper, baseLiquidity); err != nil {
		return err
	}
	f.ready = true
	return nil
}

// Step claims filled orders, rests new ones and runs swaps. Rejected
// requests are counted, not returned.
func (f *Feeder) Step(ctx context.Context) error {
	if !f.ready {
		if err := f.setup(); err != nil {
			return err
		}
	}
	f.stats.Steps++

	f.claimFilled()
	for i := 0; i < f.cfg.OrdersPerStep; i++ {
		if err := f.placeRandom(); err != nil {
			if !rejected(err) {
				return err
			}
			f.stats.Rejected++
			f.log.Debug("feeder_place_rejected", zap.Error(err))
		}
	}
	for i := 0; i < f.cfg.SwapsPerStep; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.swapRandom(ctx); err != nil {
			if !rejected(err) {
				return err
			}
			f.stats.Rejected++
			f.log.Debug("feeder_swap_rejected", zap.Error(err))
		}
	}
	return nil
}

// rejected reports whether err is a request the host turned down, as
// opposed to a broken host.
func rejected(err error) bool {
	return !errors.Is(err, limitorder.ErrInvariantViolation) && !errors.Is(err, context.Canceled)
}

func (f *Feeder) placeRandom() error {
	st, err := f.host.Market(f.cfg.Symbol)
	if err != nil {
		return err
	}
	spacing := st.Key.TickSpacing
	gap := spacing * int32(2+f.rng.Intn(maxOrderGap))

	dir := limitorder.SellCurrency0
	target := st.Slot0.Tick + gap
	if f.rng.Intn(2) == 1 {
		dir = limitorder.SellCurrency1
		target = st.Slot0.Tick - gap
	}
	price, err := pricemath.TickToPrice(target)
	if err != nil {
		return err
	}

	idx := f.rng.Intn(len(f.traders))
	trader := f.traders[idx]
	req := crypto.PlaceOrderRequest{
		Symbol:    f.cfg.Symbol,
		Direction: uint8(dir),
		Price:     price.FloatString(18),
		Amount:    new(big.Int).Mul(unit, big.NewInt(int64(1+f.rng.Intn(100)))),
		Nonce:     f.host.Nonce(trader.Address()) + 1,
		Owner:     trader.Address(),
	}
	if f.rng.Intn(4) == 0 {
		req.IsRange = 1
	}
	sig, err := f.host.Signer().Sign(trader, req)
	if err != nil {
		return err
	}
	id, err := f.host.SubmitPlace(req, sig)
	if err != nil {
		return err
	}
	f.open = append(f.open, resting{id: id, trader: idx})
	f.stats.Placed++
	return nil
}

func (f *Feeder) swapRandom(ctx context.Context) error {
	st, err := f.host.Market(f.cfg.Symbol)
	if err != nil {
		return err
	}
	spacing := st.Key.TickSpacing
	travel := spacing * int32(1+f.rng.Intn(maxSwapTravel))
	zeroForOne := f.rng.Intn(2) == 1

	limitTick := st.Slot0.Tick + travel
	if zeroForOne {
		limitTick = st.Slot0.Tick - travel
	}
	limitTick = max(min(limitTick, pricemath.MaxTick-1), pricemath.MinTick+1)
	limit, err := pricemath.SqrtRatioAtTick(limitTick)
	if err != nil {
		return err
	}

	trader := f.traders[f.rng.Intn(len(f.traders))]
	req := crypto.SwapRequest{
		Symbol:            f.cfg.Symbol,
		AmountIn:          new(big.Int).Mul(unit, big.NewInt(int64(1000+f.rng.Intn(50_000)))),
		SqrtPriceLimitX96: limit,
		Nonce:             f.host.Nonce(trader.Address()) + 1,
		Owner:             trader.Address(),
	}
	if zeroForOne {
		req.ZeroForOne = 1
	}
	sig, err := f.host.Signer().Sign(trader, req)
	if err != nil {
		return err
	}
	res, err := f.host.SubmitSwap(ctx, req, sig)
	if err != nil {
		return err
	}
	f.stats.Swaps++
	f.stats.Filled += len(res.Filled)
	return nil
}

func (f *Feeder) claimFilled() {
	still := f.open[:0]
	for _, o := range f.open {
		view, err := f.host.Order(o.id)
		if err != nil || !view.Filled() {
			if err == nil {
				still = append(still, o)
			}
			continue
		}
		trader := f.traders[o.trader]
		req := crypto.ClaimRequest{
			OrderID: o.id,
			Symbol:  f.cfg.Symbol,
			Nonce:   f.host.Nonce(trader.Address()) + 1,
			Owner:   trader.Address(),
		}
		sig, err := f.host.Signer().Sign(trader, req)
		if err == nil {
			_, err = f.host.SubmitClaim(req, sig)
		}
		if err != nil {
			f.stats.Rejected++
			f.log.Debug("feeder_claim_rejected", zap.Uint64("order_id", o.id), zap.Error(err))
			still = append(still, o)
			continue
		}
		f.stats.Claimed++
	}
	f.open = still
}

// Open returns the ids of orders placed and not yet claimed.
func (f *Feeder) Open() []uint64 {
	out := make([]uint64, len(f.open))
	for i, o := range f.open {
		out[i] = o.id
	}
	return out
}
