package crypto

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	privHex := signer1.PrivateKeyHex()
	if len(privHex) != 64 {
		t.Fatalf("private key hex length = %d, want 64", len(privHex))
	}

	for _, in := range []string{privHex, "0x" + privHex, " " + privHex + "\n"} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("FromPrivateKeyHex(%q): %v", in, err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}
	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("garbage key accepted")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("tick orders"))

	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if !VerifySignature(signer.Address(), hash, sig) {
		t.Error("signature verification failed")
	}
	if VerifySignature(common.HexToAddress("0x01"), hash, sig) {
		t.Error("signature verified for the wrong address")
	}

	// wallets send V as 27/28
	wallet := append([]byte(nil), sig...)
	wallet[64] += 27
	got, err := RecoverAddress(hash, wallet)
	if err != nil || got != signer.Address() {
		t.Errorf("RecoverAddress(v+27) = %s, %v", got.Hex(), err)
	}
	if sig[64] >= 27 {
		t.Error("RecoverAddress modified the caller's signature")
	}

	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("short hash signed")
	}
	if _, err := RecoverAddress(hash, []byte{1, 2, 3}); !errors.Is(err, ErrBadSignature) {
		t.Errorf("short signature: %v", err)
	}
}

func TestRequestSignatures(t *testing.T) {
	signer, _ := GenerateKey()
	owner := signer.Address()
	e := NewEIP712Signer(DefaultDomain())

	requests := []Request{
		PlaceOrderRequest{Symbol: "WETH-USDC", Direction: 1, Price: "1.0185", Amount: big.NewInt(1e18), Nonce: 1, Owner: owner},
		ClaimRequest{OrderID: 7, Symbol: "WETH-USDC", Nonce: 2, Owner: owner},
		SetTreasuryRequest{Treasury: common.HexToAddress("0xdd"), Nonce: 3, Owner: owner},
		SwapRequest{Symbol: "WETH-USDC", ZeroForOne: 1, AmountIn: big.NewInt(5000), Nonce: 4, Owner: owner},
	}
	for _, r := range requests {
		t.Run(r.PrimaryType(), func(t *testing.T) {
			sig, err := e.Sign(signer, r)
			if err != nil {
				t.Fatal(err)
			}
			if err := e.Verify(r, sig); err != nil {
				t.Fatalf("Verify: %v", err)
			}
			got, err := e.Recover(r, sig)
			if err != nil || got != owner {
				t.Fatalf("Recover = %s, %v", got.Hex(), err)
			}

			js, err := e.JSON(r)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(js, `"primaryType": "`+r.PrimaryType()+`"`) {
				t.Errorf("typed data json missing primary type:\n%s", js)
			}
		})
	}
}

func TestTamperedRequestFails(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())
	req := PlaceOrderRequest{Symbol: "WETH-USDC", Direction: 1, Price: "2", Amount: big.NewInt(100), Nonce: 1, Owner: signer.Address()}
	sig, err := e.Sign(signer, req)
	if err != nil {
		t.Fatal(err)
	}

	tampered := req
	tampered.Amount = big.NewInt(101)
	if err := e.Verify(tampered, sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered amount: %v", err)
	}

	impostor := req
	impostor.Owner = common.HexToAddress("0x1234")
	if err := e.Verify(impostor, sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("wrong owner: %v", err)
	}

	other := DefaultDomain()
	other.ChainID = big.NewInt(1)
	if err := NewEIP712Signer(other).Verify(req, sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("signature replayed on another chain: %v", err)
	}
}
