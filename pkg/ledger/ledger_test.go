package ledger

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickorders/pkg/journal"
	"github.com/uhyunpark/tickorders/pkg/storage"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func TestTransfer(t *testing.T) {
	l := New(nil)
	if err := l.Deposit(alice, usdc, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		amount  int64
		wantErr error
		alice   int64
		bob     int64
	}{
		{"partial", 30, nil, 70, 30},
		{"zero is a no-op", 0, nil, 70, 30},
		{"overdraw", 71, ErrInsufficientBalance, 70, 30},
		{"negative", -1, ErrInvalidAmount, 70, 30},
		{"exact", 70, nil, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Transfer(alice, bob, usdc, big.NewInt(tt.amount))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got := l.BalanceOf(alice, usdc).Int64(); got != tt.alice {
				t.Errorf("alice = %d, want %d", got, tt.alice)
			}
			if got := l.BalanceOf(bob, usdc).Int64(); got != tt.bob {
				t.Errorf("bob = %d, want %d", got, tt.bob)
			}
		})
	}
	if got := l.TotalSupply(usdc).Int64(); got != 100 {
		t.Errorf("TotalSupply = %d, want 100", got)
	}
}

func TestDepositRejectsNonPositive(t *testing.T) {
	l := New(nil)
	if err := l.Deposit(alice, usdc, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestRevertRestoresBalancesAndNonces(t *testing.T) {
	j := journal.New()
	l := New(j)
	_ = l.Deposit(alice, usdc, big.NewInt(50))
	j.Reset()

	snap := j.Snapshot()
	if err := l.Transfer(alice, bob, usdc, big.NewInt(20)); err != nil {
		t.Fatal(err)
	}
	if err := l.UseNonce(alice, 1); err != nil {
		t.Fatal(err)
	}
	j.RevertToSnapshot(snap)

	if got := l.BalanceOf(alice, usdc).Int64(); got != 50 {
		t.Errorf("alice = %d after revert, want 50", got)
	}
	if got := l.BalanceOf(bob, usdc).Sign(); got != 0 {
		t.Errorf("bob balance survived revert")
	}
	if got := l.Nonce(alice); got != 0 {
		t.Errorf("nonce = %d after revert, want 0", got)
	}
}

func TestUseNonce(t *testing.T) {
	l := New(nil)
	if err := l.UseNonce(alice, 5); err != nil {
		t.Fatal(err)
	}
	if err := l.UseNonce(alice, 5); !errors.Is(err, ErrBadNonce) {
		t.Errorf("replay err = %v, want ErrBadNonce", err)
	}
	if err := l.UseNonce(alice, 4); !errors.Is(err, ErrBadNonce) {
		t.Errorf("older nonce err = %v, want ErrBadNonce", err)
	}
	if err := l.UseNonce(alice, 9); err != nil {
		t.Errorf("gap should be accepted: %v", err)
	}
}

func TestFlushAndLoad(t *testing.T) {
	s, err := storage.NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	l := New(nil)
	_ = l.Deposit(alice, usdc, big.NewInt(1000))
	_ = l.Transfer(alice, bob, usdc, big.NewInt(1000))
	_ = l.UseNonce(bob, 3)

	b := s.NewBatch()
	if err := l.Flush(b); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}
	b.Close()

	restored := New(nil)
	if err := restored.Load(s); err != nil {
		t.Fatal(err)
	}
	if got := restored.BalanceOf(bob, usdc).Int64(); got != 1000 {
		t.Errorf("bob = %d after reload, want 1000", got)
	}
	if got := restored.BalanceOf(alice, usdc).Sign(); got != 0 {
		t.Errorf("alice's emptied balance came back")
	}
	if got := restored.Nonce(bob); got != 3 {
		t.Errorf("nonce = %d after reload, want 3", got)
	}
}
