package limitorder

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/journal"
	"github.com/uhyunpark/tickorders/pkg/ledger"
	"github.com/uhyunpark/tickorders/pkg/pricemath"
)

var (
	token0   = common.HexToAddress("0x0000000000000000000000000000000000000a00")
	token1   = common.HexToAddress("0x0000000000000000000000000000000000000b00")
	reserve  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	hookAcct = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	alice    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob      = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func e18(n int64) *big.Int {
	v, _ := new(big.Int).SetString("1000000000000000000", 10)
	return v.Mul(v, big.NewInt(n))
}

// fakeCurve prices every position at a scripted sqrt price and settles funds
// through the real ledger.
type fakeCurve struct {
	led   *ledger.Ledger
	tick  int32
	sqrtP *big.Int

	adds     []curve.ModifyLiquidityParams
	removes  []curve.ModifyLiquidityParams
	removeFn func(p curve.ModifyLiquidityParams, fair curve.BalanceDelta) curve.BalanceDelta
	onRemove func(p curve.ModifyLiquidityParams)
}

func (f *fakeCurve) setTick(tick int32) {
	f.tick = tick
	f.sqrtP = pricemath.MustSqrtRatioAtTick(tick)
}

func (f *fakeCurve) CurrentLevel(curve.PoolKey) (int32, error) { return f.tick, nil }

func (f *fakeCurve) band(p curve.ModifyLiquidityParams, roundUp bool) (*big.Int, *big.Int) {
	return pricemath.AmountsForLiquidity(f.sqrtP,
		pricemath.MustSqrtRatioAtTick(p.TickLower), pricemath.MustSqrtRatioAtTick(p.TickUpper),
		p.Liquidity, roundUp)
}

func (f *fakeCurve) AddLiquidity(key curve.PoolKey, owner common.Address, p curve.ModifyLiquidityParams) (curve.BalanceDelta, error) {
	a0, a1 := f.band(p, true)
	if err := f.led.Transfer(owner, reserve, key.Currency0, a0); err != nil {
		return curve.BalanceDelta{}, err
	}
	if err := f.led.Transfer(owner, reserve, key.Currency1, a1); err != nil {
		return curve.BalanceDelta{}, err
	}
	f.adds = append(f.adds, p)
	return curve.BalanceDelta{Amount0: new(big.Int).Neg(a0), Amount1: new(big.Int).Neg(a1)}, nil
}

func (f *fakeCurve) RemoveLiquidity(key curve.PoolKey, owner common.Address, p curve.ModifyLiquidityParams) (curve.BalanceDelta, error) {
	if f.onRemove != nil {
		f.onRemove(p)
	}
	a0, a1 := f.band(p, false)
	d := curve.BalanceDelta{Amount0: a0, Amount1: a1}
	if f.removeFn != nil {
		d = f.removeFn(p, d)
	}
	if err := f.led.Transfer(reserve, owner, key.Currency0, d.Amount0); err != nil {
		return curve.BalanceDelta{}, err
	}
	if err := f.led.Transfer(reserve, owner, key.Currency1, d.Amount1); err != nil {
		return curve.BalanceDelta{}, err
	}
	f.removes = append(f.removes, p)
	return d, nil
}

type harness struct {
	j     *journal.Journal
	led   *ledger.Ledger
	curve *fakeCurve
	eng   *Engine
	key   curve.PoolKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	j := journal.New()
	led := ledger.New(j)
	for _, acc := range []common.Address{alice, bob} {
		_ = led.Deposit(acc, token0, e18(10))
		_ = led.Deposit(acc, token1, e18(10))
	}
	_ = led.Deposit(reserve, token0, e18(1000))
	_ = led.Deposit(reserve, token1, e18(1000))

	fc := &fakeCurve{led: led}
	fc.setTick(100)

	eng, err := NewEngine(Config{
		Account:          hookAcct,
		Treasury:         treasury,
		TreasuryShareBps: DefaultTreasuryShareBps,
	}, fc, led, nil, j, nil)
	if err != nil {
		t.Fatal(err)
	}
	j.Reset()
	return &harness{
		j:     j,
		led:   led,
		curve: fc,
		eng:   eng,
		key:   curve.PoolKey{Currency0: token0, Currency1: token1, Fee: 0, TickSpacing: 60},
	}
}

func priceAt(t *testing.T, tick int32) *big.Rat {
	t.Helper()
	p, err := pricemath.TickToPrice(tick)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func (h *harness) place(t *testing.T, owner common.Address, dir Direction, isRange bool, tick int32, amount *big.Int) uint64 {
	t.Helper()
	id, err := h.eng.Place(PlaceParams{
		Owner: owner, Key: h.key, Direction: dir, IsRange: isRange,
		Price: priceAt(t, tick), Amount: amount,
	})
	if err != nil {
		t.Fatalf("Place(%s, range=%v, tick %d): %v", dir, isRange, tick, err)
	}
	return id
}

// move moves the fake price to tick and runs the crossing pass.
func (h *harness) move(t *testing.T, tick int32) error {
	t.Helper()
	old := h.curve.tick
	h.curve.setTick(tick)
	return h.eng.AfterSwap(context.Background(), curve.PriceMove{
		Key:          h.key,
		OldLevel:     old,
		NewLevel:     tick,
		SqrtPriceX96: new(big.Int).Set(h.curve.sqrtP),
		ZeroForOne:   tick < old,
	})
}

func (h *harness) order(t *testing.T, id uint64) OrderView {
	t.Helper()
	v, err := h.eng.GetOrder(id)
	if err != nil {
		t.Fatalf("GetOrder(%d): %v", id, err)
	}
	return v
}

func (h *harness) checkOccupancy(t *testing.T) {
	t.Helper()
	if err := h.eng.Registry().CheckOccupancy(); err != nil {
		t.Fatal(err)
	}
}

func TestPlacementBands(t *testing.T) {
	tests := []struct {
		name        string
		dir         Direction
		isRange     bool
		tick        int32
		bottom, top int32
	}{
		{"sell0 exact level", SellCurrency0, false, 180, 120, 180},
		{"sell0 rounds down", SellCurrency0, false, 200, 120, 180},
		{"sell0 range", SellCurrency0, true, 300, 120, 300},
		{"sell0 range widened", SellCurrency0, true, 150, 120, 180},
		{"sell1 exact level", SellCurrency1, false, 0, 0, 60},
		{"sell1 rounds up", SellCurrency1, false, -30, 0, 60},
		{"sell1 range", SellCurrency1, true, -120, -120, 60},
		{"sell1 range widened", SellCurrency1, true, 30, 0, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := h.place(t, alice, tt.dir, tt.isRange, tt.tick, e18(1))
			o := h.order(t, id)
			if o.BottomLevel != tt.bottom || o.TopLevel != tt.top {
				t.Fatalf("band = [%d, %d], want [%d, %d]", o.BottomLevel, o.TopLevel, tt.bottom, tt.top)
			}
			if o.Filled() || o.Status != "resting" {
				t.Error("new order is not resting")
			}
			if o.BottomLevel%60 != 0 || o.TopLevel%60 != 0 || o.BottomLevel >= o.TopLevel {
				t.Errorf("band [%d, %d] is not a valid aligned range", o.BottomLevel, o.TopLevel)
			}
			if !h.eng.Registry().IsOccupied(h.key.ID(), o.indexLevel()) {
				t.Errorf("index level %d not marked", o.indexLevel())
			}
			h.checkOccupancy(t)
		})
	}
}

func TestPlacementErrors(t *testing.T) {
	huge := new(big.Rat).SetInt(new(big.Int).Lsh(big.NewInt(1), 200))
	tests := []struct {
		name    string
		dir     Direction
		isRange bool
		price   *big.Rat
		amount  *big.Int
		tick    int32 // curve tick
		want    error
	}{
		{"zero amount", SellCurrency0, false, nil, new(big.Int), 100, ErrInvalidAmount},
		{"nil price", SellCurrency0, false, nil, e18(1), 100, ErrInvalidPrice},
		{"zero price", SellCurrency0, false, new(big.Rat), e18(1), 100, ErrInvalidPrice},
		{"unrepresentable price", SellCurrency0, false, huge, e18(1), 100, ErrInvalidPrice},
		{"sell0 below price", SellCurrency0, false, ratAt(60), e18(1), 100, ErrInvalidExecutionDirection},
		{"sell0 band touching price", SellCurrency0, false, ratAt(150), e18(1), 100, ErrInvalidExecutionDirection},
		{"sell0 range below price", SellCurrency0, true, ratAt(60), e18(1), 100, ErrInvalidExecutionDirection},
		{"sell1 above price", SellCurrency1, false, ratAt(120), e18(1), 100, ErrInvalidExecutionDirection},
		{"sell1 range above price", SellCurrency1, true, ratAt(200), e18(1), 100, ErrInvalidExecutionDirection},
		{"unknown direction", Direction(9), false, ratAt(180), e18(1), 100, ErrInvalidExecutionDirection},
		{"sell0 widened past max", SellCurrency0, true, ratAt(887250), e18(1), 887200, ErrTickOutOfBounds},
		{"sell1 widened past min", SellCurrency1, true, ratAt(-887250), e18(1), -887200, ErrTickOutOfBounds},
		{"dust over a wide band", SellCurrency1, true, ratAt(-887000), big.NewInt(1), 100, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.curve.setTick(tt.tick)
			_, err := h.eng.Place(PlaceParams{
				Owner: alice, Key: h.key, Direction: tt.dir, IsRange: tt.isRange,
				Price: tt.price, Amount: tt.amount,
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(h.curve.adds) != 0 {
				t.Error("failed placement touched the curve")
			}
			if got := h.led.BalanceOf(alice, token0); got.Cmp(e18(10)) != 0 {
				t.Errorf("failed placement moved the deposit: balance %s", got)
			}
			if n := len(h.eng.DrainEvents()); n != 0 {
				t.Errorf("failed placement emitted %d events", n)
			}
		})
	}
}

func ratAt(tick int32) *big.Rat {
	p, err := pricemath.TickToPrice(tick)
	if err != nil {
		panic(err)
	}
	return p
}

func TestPlacementMovesFundsAndRefundsDust(t *testing.T) {
	h := newHarness(t)
	amount := e18(1)
	id := h.place(t, alice, SellCurrency0, false, 180, amount)
	o := h.order(t, id)

	sqrtB := pricemath.MustSqrtRatioAtTick(120)
	sqrtT := pricemath.MustSqrtRatioAtTick(180)
	wantL := pricemath.LiquidityForAmount0(sqrtB, sqrtT, amount)
	if o.Liquidity.Cmp(wantL) != 0 {
		t.Errorf("liquidity = %s, want %s", o.Liquidity, wantL)
	}
	if len(h.curve.adds) != 1 || h.curve.adds[0].Salt != orderSalt(id) {
		t.Fatalf("curve adds = %+v", h.curve.adds)
	}

	used := pricemath.Amount0Delta(sqrtB, sqrtT, wantL, true)
	spent := new(big.Int).Sub(e18(10), h.led.BalanceOf(alice, token0))
	if spent.Cmp(used) != 0 {
		t.Errorf("owner spent %s, curve used %s", spent, used)
	}
	if dust := new(big.Int).Sub(amount, spent); dust.Sign() < 0 || dust.Cmp(big.NewInt(2)) > 0 {
		t.Errorf("refund %s outside [0, 2]", dust)
	}
	if h.led.BalanceOf(hookAcct, token0).Sign() != 0 {
		t.Error("custody kept part of the deposit")
	}

	evs := h.eng.DrainEvents()
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	placed, ok := evs[0].(OrderPlaced)
	if !ok || placed.OrderID != id || placed.Refunded.Cmp(new(big.Int).Sub(amount, spent)) != 0 {
		t.Errorf("placed event = %+v", evs[0])
	}
}

func TestPlacementInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.Place(PlaceParams{
		Owner: alice, Key: h.key, Direction: SellCurrency0,
		Price: ratAt(180), Amount: e18(11),
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if h.eng.Registry().NextID() != 1 {
		t.Error("failed placement consumed an order id")
	}
}

func TestOrderIDsAreUnique(t *testing.T) {
	h := newHarness(t)
	seen := map[uint64]bool{}
	for i := 0; i < 5; i++ {
		id := h.place(t, alice, SellCurrency0, false, 180, e18(1))
		if seen[id] {
			t.Fatalf("id %d issued twice", id)
		}
		seen[id] = true
	}
}

func TestSetTreasury(t *testing.T) {
	h := newHarness(t)
	if err := h.eng.SetTreasury(alice, alice); !errors.Is(err, ErrNotTreasury) {
		t.Errorf("non-treasury caller: %v", err)
	}
	if err := h.eng.SetTreasury(treasury, common.Address{}); !errors.Is(err, ErrInvalidTreasury) {
		t.Errorf("zero treasury: %v", err)
	}
	if err := h.eng.SetTreasury(treasury, bob); err != nil {
		t.Fatal(err)
	}
	if h.eng.Treasury() != bob {
		t.Errorf("treasury = %s, want bob", h.eng.Treasury().Hex())
	}
	if err := h.eng.SetTreasury(treasury, treasury); !errors.Is(err, ErrNotTreasury) {
		t.Errorf("old treasury still in control: %v", err)
	}
}

func TestNewEngineValidatesConfig(t *testing.T) {
	fc := &fakeCurve{}
	if _, err := NewEngine(Config{Account: hookAcct, Treasury: treasury, TreasuryShareBps: 10_001}, fc, nil, nil, nil, nil); err == nil {
		t.Error("share above 100% accepted")
	}
	if _, err := NewEngine(Config{Treasury: treasury}, fc, nil, nil, nil, nil); err == nil {
		t.Error("missing account accepted")
	}
	if _, err := NewEngine(Config{Account: hookAcct}, fc, nil, nil, nil, nil); !errors.Is(err, ErrInvalidTreasury) {
		t.Errorf("missing treasury: %v", err)
	}
}
