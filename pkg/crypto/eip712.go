package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain separates signatures of different deployments.
type EIP712Domain struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ChainID           *big.Int       `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"` // zero for off-chain signing
}

// DefaultDomain returns the local development domain.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:    "TickOrders",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Request is a signed user action. Owner is the account that claims to
// have signed it.
type Request interface {
	PrimaryType() string
	Fields() []apitypes.Type
	Message() apitypes.TypedDataMessage
	Signer() common.Address
	RequestNonce() uint64
}

// PlaceOrderRequest rests a limit order. Direction is 1 (sell currency0) or
// 2 (sell currency1); IsRange is 0 or 1. Price is a decimal string.
type PlaceOrderRequest struct {
	Symbol    string
	Direction uint8
	IsRange   uint8
	Price     string
	Amount    *big.Int
	Nonce     uint64
	Owner     common.Address
}

// ClaimRequest releases a filled order's proceeds.
type ClaimRequest struct {
	OrderID uint64
	Symbol  string
	Nonce   uint64
	Owner   common.Address
}

// SetTreasuryRequest hands the treasury to a new account. Owner must be the
// current treasury.
type SetTreasuryRequest struct {
	Treasury common.Address
	Nonce    uint64
	Owner    common.Address
}

// SwapRequest trades AmountIn against a market's curve. A zero limit means
// no limit.
type SwapRequest struct {
	Symbol            string
	ZeroForOne        uint8
	AmountIn          *big.Int
	SqrtPriceLimitX96 *big.Int
	Nonce             uint64
	Owner             common.Address
}

func (PlaceOrderRequest) PrimaryType() string  { return "PlaceOrder" }
func (ClaimRequest) PrimaryType() string       { return "Claim" }
func (SetTreasuryRequest) PrimaryType() string { return "SetTreasury" }
func (SwapRequest) PrimaryType() string        { return "Swap" }

func (r PlaceOrderRequest) Signer() common.Address  { return r.Owner }
func (r ClaimRequest) Signer() common.Address       { return r.Owner }
func (r SetTreasuryRequest) Signer() common.Address { return r.Owner }
func (r SwapRequest) Signer() common.Address        { return r.Owner }

func (r PlaceOrderRequest) RequestNonce() uint64  { return r.Nonce }
func (r ClaimRequest) RequestNonce() uint64       { return r.Nonce }
func (r SetTreasuryRequest) RequestNonce() uint64 { return r.Nonce }
func (r SwapRequest) RequestNonce() uint64        { return r.Nonce }

func (PlaceOrderRequest) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "symbol", Type: "string"},
		{Name: "direction", Type: "uint8"},
		{Name: "isRange", Type: "uint8"},
		{Name: "price", Type: "string"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
}

func (r PlaceOrderRequest) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"symbol":    r.Symbol,
		"direction": fmt.Sprintf("%d", r.Direction),
		"isRange":   fmt.Sprintf("%d", r.IsRange),
		"price":     r.Price,
		"amount":    decimal(r.Amount),
		"nonce":     fmt.Sprintf("%d", r.Nonce),
		"owner":     r.Owner.Hex(),
	}
}

func (ClaimRequest) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "orderId", Type: "uint256"},
		{Name: "symbol", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
}

func (r ClaimRequest) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"orderId": fmt.Sprintf("%d", r.OrderID),
		"symbol":  r.Symbol,
		"nonce":   fmt.Sprintf("%d", r.Nonce),
		"owner":   r.Owner.Hex(),
	}
}

func (SetTreasuryRequest) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "treasury", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
}

func (r SetTreasuryRequest) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"treasury": r.Treasury.Hex(),
		"nonce":    fmt.Sprintf("%d", r.Nonce),
		"owner":    r.Owner.Hex(),
	}
}

func (SwapRequest) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "symbol", Type: "string"},
		{Name: "zeroForOne", Type: "uint8"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "sqrtPriceLimitX96", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
}

func (r SwapRequest) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"symbol":            r.Symbol,
		"zeroForOne":        fmt.Sprintf("%d", r.ZeroForOne),
		"amountIn":          decimal(r.AmountIn),
		"sqrtPriceLimitX96": decimal(r.SqrtPriceLimitX96),
		"nonce":             fmt.Sprintf("%d", r.Nonce),
		"owner":             r.Owner.Hex(),
	}
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// EIP712Signer hashes, signs and verifies requests under one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

// TypedData builds the eth_signTypedData_v4 payload of r.
func (e *EIP712Signer) TypedData(r Request) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":  domainType,
			r.PrimaryType(): r.Fields(),
		},
		PrimaryType: r.PrimaryType(),
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: r.Message(),
	}
}

// Hash returns the digest a wallet signs for r.
func (e *EIP712Signer) Hash(r Request) ([]byte, error) {
	typedData := e.TypedData(r)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", r.PrimaryType(), err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// Sign signs r with signer.
func (e *EIP712Signer) Sign(signer *Signer, r Request) ([]byte, error) {
	hash, err := e.Hash(r)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

// Recover returns the account that signed r.
func (e *EIP712Signer) Recover(r Request, signature []byte) (common.Address, error) {
	hash, err := e.Hash(r)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// Verify checks that r was signed by the account it names.
func (e *EIP712Signer) Verify(r Request, signature []byte) error {
	got, err := e.Recover(r, signature)
	if err != nil {
		return err
	}
	if got != r.Signer() {
		return fmt.Errorf("%w: signed by %s, claims %s", ErrBadSignature, got.Hex(), r.Signer().Hex())
	}
	return nil
}

// JSON renders r as typed data for wallets.
func (e *EIP712Signer) JSON(r Request) (string, error) {
	b, err := json.MarshalIndent(e.TypedData(r), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal typed data: %w", err)
	}
	return string(b), nil
}
