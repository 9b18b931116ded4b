package curve

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickorders/pkg/journal"
	"github.com/uhyunpark/tickorders/pkg/ledger"
	"github.com/uhyunpark/tickorders/pkg/pricemath"
	"github.com/uhyunpark/tickorders/pkg/storage"
)

var (
	token0  = common.HexToAddress("0x0000000000000000000000000000000000000a00")
	token1  = common.HexToAddress("0x0000000000000000000000000000000000000b00")
	reserve = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	alice   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob     = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func testKey() PoolKey {
	return PoolKey{Currency0: token0, Currency1: token1, Fee: 3000, TickSpacing: 60}
}

func e(n int64, exp int) *big.Int {
	v := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
	return v.Mul(v, big.NewInt(n))
}

type fixture struct {
	j   *journal.Journal
	led *ledger.Ledger
	m   *Manager
	key PoolKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j := journal.New()
	led := ledger.New(j)
	for _, acc := range []common.Address{alice, bob} {
		for _, cur := range []common.Address{token0, token1} {
			if err := led.Deposit(acc, cur, e(1, 24)); err != nil {
				t.Fatal(err)
			}
		}
	}
	m := NewManager(reserve, led, j, nil)
	key := testKey()
	if _, err := m.Initialize(key, pricemath.Q96); err != nil {
		t.Fatal(err)
	}
	return &fixture{j: j, led: led, m: m, key: key}
}

func (f *fixture) add(t *testing.T, owner common.Address, lower, upper int32, l *big.Int) BalanceDelta {
	t.Helper()
	d, err := f.m.AddLiquidity(f.key, owner, ModifyLiquidityParams{TickLower: lower, TickUpper: upper, Liquidity: l})
	if err != nil {
		t.Fatalf("AddLiquidity [%d,%d]: %v", lower, upper, err)
	}
	return d
}

func TestPoolKey(t *testing.T) {
	k := testKey()
	if k.ID() != testKey().ID() {
		t.Fatal("ID is not deterministic")
	}
	other := k
	other.Fee = 500
	if other.ID() == k.ID() {
		t.Error("fee does not change the pool id")
	}

	bad := []PoolKey{
		{Currency0: token1, Currency1: token0, Fee: 3000, TickSpacing: 60},
		{Currency0: token0, Currency1: token1, Fee: MaxFee, TickSpacing: 60},
		{Currency0: token0, Currency1: token1, Fee: 3000, TickSpacing: 0},
	}
	for _, k := range bad {
		if err := k.Validate(); !errors.Is(err, ErrInvalidPoolKey) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidPoolKey", k, err)
		}
	}
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)
	s, err := f.m.Slot0(f.key)
	if err != nil {
		t.Fatal(err)
	}
	if s.Tick != 0 || s.SqrtPriceX96.Cmp(pricemath.Q96) != 0 || s.Liquidity.Sign() != 0 {
		t.Errorf("slot0 = %+v", s)
	}
	if _, err := f.m.Initialize(f.key, pricemath.Q96); !errors.Is(err, ErrPoolAlreadyInitialized) {
		t.Errorf("second Initialize err = %v", err)
	}
	other := f.key
	other.Fee = 500
	if _, err := f.m.Slot0(other); !errors.Is(err, ErrPoolNotInitialized) {
		t.Errorf("Slot0 of unknown pool err = %v", err)
	}
	if _, err := f.m.Initialize(other, big.NewInt(1)); !errors.Is(err, ErrInvalidSqrtPrice) {
		t.Errorf("Initialize below min sqrt err = %v", err)
	}
}

func TestAddLiquidity(t *testing.T) {
	f := newFixture(t)
	l := e(1, 18)

	inRange := f.add(t, alice, -600, 600, l)
	if inRange.Amount0.Sign() >= 0 || inRange.Amount1.Sign() >= 0 {
		t.Errorf("in-range add should take both currencies: %+v", inRange)
	}
	s, _ := f.m.Slot0(f.key)
	if s.Liquidity.Cmp(l) != 0 {
		t.Errorf("active liquidity = %s, want %s", s.Liquidity, l)
	}

	above := f.add(t, alice, 600, 1200, l)
	if above.Amount0.Sign() >= 0 || above.Amount1.Sign() != 0 {
		t.Errorf("range above price should take only currency0: %+v", above)
	}
	below := f.add(t, alice, -1200, -600, l)
	if below.Amount0.Sign() != 0 || below.Amount1.Sign() >= 0 {
		t.Errorf("range below price should take only currency1: %+v", below)
	}

	want0 := new(big.Int).Neg(new(big.Int).Add(inRange.Amount0, above.Amount0))
	if got := f.led.BalanceOf(reserve, token0); got.Cmp(want0) != 0 {
		t.Errorf("reserve currency0 = %s, want %s", got, want0)
	}

	tests := []struct {
		name         string
		lower, upper int32
		liquidity    *big.Int
		want         error
	}{
		{"inverted", 600, -600, l, ErrInvalidTickRange},
		{"unaligned", -601, 600, l, ErrInvalidTickRange},
		{"out of range", -887280, 600, l, ErrTickOutOfRange},
		{"zero liquidity", -600, 600, new(big.Int), ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.m.AddLiquidity(f.key, alice, ModifyLiquidityParams{TickLower: tt.lower, TickUpper: tt.upper, Liquidity: tt.liquidity})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAddLiquidityInsufficientFundsIsAtomic(t *testing.T) {
	f := newFixture(t)
	poor := common.HexToAddress("0x3333333333333333333333333333333333333333")
	_, err := f.m.AddLiquidity(f.key, poor, ModifyLiquidityParams{TickLower: -600, TickUpper: 600, Liquidity: e(1, 18)})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	s, _ := f.m.Slot0(f.key)
	if s.Liquidity.Sign() != 0 {
		t.Error("failed add left liquidity behind")
	}
	if _, ok := f.m.Position(f.key, poor, -600, 600, common.Hash{}); ok {
		t.Error("failed add left a position behind")
	}
}

func TestSwapCrossesTicks(t *testing.T) {
	f := newFixture(t)
	f.add(t, alice, -600, 600, e(1, 18))
	f.add(t, alice, 600, 1200, e(2, 18))

	limit := pricemath.MustSqrtRatioAtTick(900)
	amountIn := e(1, 17)
	d, err := f.m.Swap(context.Background(), f.key, bob, SwapParams{ZeroForOne: false, AmountIn: amountIn, SqrtPriceLimitX96: limit})
	if err != nil {
		t.Fatal(err)
	}
	s, _ := f.m.Slot0(f.key)
	if s.Tick != 900 || s.SqrtPriceX96.Cmp(limit) != 0 {
		t.Errorf("swap stopped at tick %d, want the limit at 900", s.Tick)
	}
	if s.Liquidity.Cmp(e(2, 18)) != 0 {
		t.Errorf("liquidity after crossing 600 = %s, want 2e18", s.Liquidity)
	}
	if d.Amount1.Sign() >= 0 || new(big.Int).Neg(d.Amount1).Cmp(amountIn) >= 0 {
		t.Errorf("limit should leave input unspent: amount1 = %s", d.Amount1)
	}
	if d.Amount0.Sign() <= 0 {
		t.Errorf("no output: %+v", d)
	}
	wantBob0 := new(big.Int).Add(e(1, 24), d.Amount0)
	if got := f.led.BalanceOf(bob, token0); got.Cmp(wantBob0) != 0 {
		t.Errorf("bob currency0 = %s, want %s", got, wantBob0)
	}

	// and back down across 600 again
	back := pricemath.MustSqrtRatioAtTick(-300)
	if _, err := f.m.Swap(context.Background(), f.key, bob, SwapParams{ZeroForOne: true, AmountIn: e(1, 18), SqrtPriceLimitX96: back}); err != nil {
		t.Fatal(err)
	}
	s, _ = f.m.Slot0(f.key)
	if s.Tick != -300 || s.Liquidity.Cmp(e(1, 18)) != 0 {
		t.Errorf("after swap down: tick %d liquidity %s", s.Tick, s.Liquidity)
	}
}

func TestSwapRejectsBadLimits(t *testing.T) {
	f := newFixture(t)
	f.add(t, alice, -600, 600, e(1, 18))
	ctx := context.Background()

	above := pricemath.MustSqrtRatioAtTick(60)
	if _, err := f.m.Swap(ctx, f.key, bob, SwapParams{ZeroForOne: true, AmountIn: big.NewInt(1), SqrtPriceLimitX96: above}); !errors.Is(err, ErrInvalidPriceLimit) {
		t.Errorf("zeroForOne with limit above price: %v", err)
	}
	if _, err := f.m.Swap(ctx, f.key, bob, SwapParams{ZeroForOne: false, AmountIn: big.NewInt(1), SqrtPriceLimitX96: pricemath.MaxSqrtRatio}); !errors.Is(err, ErrInvalidPriceLimit) {
		t.Errorf("limit at max sqrt ratio: %v", err)
	}
	if _, err := f.m.Swap(ctx, f.key, bob, SwapParams{ZeroForOne: false, AmountIn: new(big.Int)}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount: %v", err)
	}
}

func TestHookSeesMoveAndCanFailSwap(t *testing.T) {
	f := newFixture(t)
	f.add(t, alice, -600, 600, e(1, 18))

	var seen []PriceMove
	fail := false
	hook := HookFunc(func(ctx context.Context, move PriceMove) error {
		seen = append(seen, move)
		if fail {
			return errors.New("boom")
		}
		return nil
	})
	if err := f.m.SetHook(f.key, hook); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := f.m.Swap(ctx, f.key, bob, SwapParams{ZeroForOne: false, AmountIn: e(1, 16)}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 {
		t.Fatalf("hook called %d times, want 1", len(seen))
	}
	s, _ := f.m.Slot0(f.key)
	if seen[0].OldLevel != 0 || seen[0].NewLevel != s.Tick || seen[0].ZeroForOne {
		t.Errorf("move = %+v, slot0 tick %d", seen[0], s.Tick)
	}
	if seen[0].SqrtPriceX96.Cmp(s.SqrtPriceX96) != 0 {
		t.Error("move price differs from pool price")
	}

	fail = true
	before := f.led.BalanceOf(bob, token1)
	if _, err := f.m.Swap(ctx, f.key, bob, SwapParams{ZeroForOne: false, AmountIn: e(1, 16)}); err == nil {
		t.Fatal("hook error did not fail the swap")
	}
	after, _ := f.m.Slot0(f.key)
	if after.SqrtPriceX96.Cmp(s.SqrtPriceX96) != 0 || after.Tick != s.Tick {
		t.Error("failed swap moved the price")
	}
	if got := f.led.BalanceOf(bob, token1); got.Cmp(before) != 0 {
		t.Errorf("failed swap charged the trader: %s -> %s", before, got)
	}
}

func TestHookCannotReenterSwap(t *testing.T) {
	f := newFixture(t)
	f.add(t, alice, -600, 600, e(1, 18))
	var inner error
	_ = f.m.SetHook(f.key, HookFunc(func(ctx context.Context, move PriceMove) error {
		_, inner = f.m.Swap(ctx, f.key, bob, SwapParams{ZeroForOne: true, AmountIn: big.NewInt(10)})
		return nil
	}))
	if _, err := f.m.Swap(context.Background(), f.key, bob, SwapParams{ZeroForOne: false, AmountIn: e(1, 15)}); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(inner, ErrPoolLocked) {
		t.Errorf("reentrant swap err = %v, want ErrPoolLocked", inner)
	}
}

func TestRemoveLiquidityPaysFees(t *testing.T) {
	f := newFixture(t)
	l := e(1, 18)
	f.add(t, alice, -600, 600, l)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.m.Swap(ctx, f.key, bob, SwapParams{ZeroForOne: false, AmountIn: e(1, 16)}); err != nil {
			t.Fatal(err)
		}
		if _, err := f.m.Swap(ctx, f.key, bob, SwapParams{ZeroForOne: true, AmountIn: e(1, 16)}); err != nil {
			t.Fatal(err)
		}
	}

	s, _ := f.m.Slot0(f.key)
	principal0, principal1 := pricemath.AmountsForLiquidity(s.SqrtPriceX96,
		pricemath.MustSqrtRatioAtTick(-600), pricemath.MustSqrtRatioAtTick(600), l, false)

	removed, err := f.m.RemoveLiquidity(f.key, alice, ModifyLiquidityParams{TickLower: -600, TickUpper: 600, Liquidity: l})
	if err != nil {
		t.Fatal(err)
	}
	// swaps in both directions leave fees in both currencies
	if removed.Amount0.Cmp(principal0) <= 0 || removed.Amount1.Cmp(principal1) <= 0 {
		t.Errorf("removed (%s, %s), principal (%s, %s): no fees paid",
			removed.Amount0, removed.Amount1, principal0, principal1)
	}
	if _, ok := f.m.Position(f.key, alice, -600, 600, common.Hash{}); ok {
		t.Error("empty position not deleted")
	}
	s, _ = f.m.Slot0(f.key)
	if s.Liquidity.Sign() != 0 {
		t.Errorf("liquidity = %s after full removal", s.Liquidity)
	}

	if _, err := f.m.RemoveLiquidity(f.key, alice, ModifyLiquidityParams{TickLower: -600, TickUpper: 600, Liquidity: l}); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("second removal err = %v, want ErrInsufficientLiquidity", err)
	}
}

func TestSaltSeparatesPositions(t *testing.T) {
	f := newFixture(t)
	s1 := common.BigToHash(big.NewInt(1))
	s2 := common.BigToHash(big.NewInt(2))
	for _, salt := range []common.Hash{s1, s2} {
		if _, err := f.m.AddLiquidity(f.key, alice, ModifyLiquidityParams{TickLower: 120, TickUpper: 180, Liquidity: e(1, 15), Salt: salt}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.m.RemoveLiquidity(f.key, alice, ModifyLiquidityParams{TickLower: 120, TickUpper: 180, Liquidity: e(2, 15), Salt: s1}); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("salted position drew on its sibling: %v", err)
	}
	pos, ok := f.m.Position(f.key, alice, 120, 180, s2)
	if !ok || pos.Liquidity.Cmp(e(1, 15)) != 0 {
		t.Errorf("position s2 = %+v, %v", pos, ok)
	}
}

func TestFlushAndLoad(t *testing.T) {
	f := newFixture(t)
	f.add(t, alice, -600, 600, e(1, 18))
	if _, err := f.m.Swap(context.Background(), f.key, bob, SwapParams{ZeroForOne: false, AmountIn: e(1, 16)}); err != nil {
		t.Fatal(err)
	}

	s, err := storage.NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	b := s.NewBatch()
	if err := f.m.Flush(b); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}
	b.Close()

	restored := NewManager(reserve, f.led, journal.New(), nil)
	if err := restored.Load(s); err != nil {
		t.Fatal(err)
	}
	want, _ := f.m.Slot0(f.key)
	got, err := restored.Slot0(f.key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Tick != want.Tick || got.SqrtPriceX96.Cmp(want.SqrtPriceX96) != 0 || got.Liquidity.Cmp(want.Liquidity) != 0 {
		t.Errorf("restored slot0 = %+v, want %+v", got, want)
	}
	if _, err := restored.RemoveLiquidity(f.key, alice, ModifyLiquidityParams{TickLower: -600, TickUpper: 600, Liquidity: e(1, 18)}); err != nil {
		t.Errorf("remove after reload: %v", err)
	}
}
