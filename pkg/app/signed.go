package app

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickorders/pkg/crypto"
	"github.com/uhyunpark/tickorders/pkg/limitorder"
	"github.com/uhyunpark/tickorders/pkg/pricemath"
)

// Signed requests: the recovered signer is the caller, and its nonce must
// exceed the last one it used. The nonce is consumed in the same commit as
// the operation, so a rejected operation can be resubmitted with the same
// nonce.

func (a *App) verify(r crypto.Request, sig []byte) (func() error, error) {
	if err := a.signer.Verify(r, sig); err != nil {
		return nil, err
	}
	owner, nonce := r.Signer(), r.RequestNonce()
	return func() error { return a.ledger.UseNonce(owner, nonce) }, nil
}

func (a *App) SubmitPlace(req crypto.PlaceOrderRequest, sig []byte) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	useNonce, err := a.verify(req, sig)
	if err != nil {
		return 0, err
	}
	price, err := pricemath.ParsePrice(req.Price)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", limitorder.ErrInvalidPrice, err)
	}
	if req.IsRange > 1 {
		return 0, fmt.Errorf("%w: isRange must be 0 or 1", ErrInvalidRequest)
	}
	return a.place(PlaceOrder{
		Symbol:    req.Symbol,
		Owner:     req.Owner,
		Direction: limitorder.Direction(req.Direction),
		IsRange:   req.IsRange == 1,
		Price:     price,
		Amount:    req.Amount,
	}, useNonce)
}

func (a *App) SubmitClaim(req crypto.ClaimRequest, sig []byte) (limitorder.Split, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	useNonce, err := a.verify(req, sig)
	if err != nil {
		return limitorder.Split{}, err
	}
	return a.claim(req.Symbol, req.OrderID, req.Owner, useNonce)
}

func (a *App) SubmitSetTreasury(req crypto.SetTreasuryRequest, sig []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	useNonce, err := a.verify(req, sig)
	if err != nil {
		return err
	}
	return a.setTreasury(req.Owner, req.Treasury, useNonce)
}

func (a *App) SubmitSwap(ctx context.Context, req crypto.SwapRequest, sig []byte) (SwapResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	useNonce, err := a.verify(req, sig)
	if err != nil {
		return SwapResult{}, err
	}
	var limit *big.Int
	if req.SqrtPriceLimitX96 != nil && req.SqrtPriceLimitX96.Sign() != 0 {
		limit = req.SqrtPriceLimitX96
	}
	return a.swap(ctx, Swap{
		Symbol:            req.Symbol,
		Trader:            req.Owner,
		ZeroForOne:        req.ZeroForOne == 1,
		AmountIn:          req.AmountIn,
		SqrtPriceLimitX96: limit,
	}, useNonce)
}

// Nonce returns the last nonce account used.
func (a *App) Nonce(account common.Address) uint64 {
	return a.ledger.Nonce(account)
}
