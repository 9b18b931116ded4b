package api

// API request and response types for REST endpoints and WebSocket messages.
// Amounts travel as base-10 strings; signatures as 0x-prefixed hex.

// ==============================
// REST Request Types
// ==============================

// PlaceOrderBody is the payload for POST /api/v1/orders. The fields other
// than Signature are exactly the signed PlaceOrder message.
type PlaceOrderBody struct {
	Symbol    string `json:"symbol"`
	Direction uint8  `json:"direction"` // 1 = sell currency0, 2 = sell currency1
	IsRange   uint8  `json:"isRange"`
	Price     string `json:"price"` // currency1 per currency0
	Amount    string `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

// ClaimBody is the payload for POST /api/v1/orders/claim.
type ClaimBody struct {
	OrderID   uint64 `json:"orderId"`
	Symbol    string `json:"symbol"`
	Nonce     uint64 `json:"nonce"`
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

// SetTreasuryBody is the payload for POST /api/v1/treasury.
type SetTreasuryBody struct {
	Treasury  string `json:"treasury"`
	Nonce     uint64 `json:"nonce"`
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

// SwapBody is the payload for POST /api/v1/swaps. An empty or zero limit
// means no limit.
type SwapBody struct {
	Symbol            string `json:"symbol"`
	ZeroForOne        uint8  `json:"zeroForOne"`
	AmountIn          string `json:"amountIn"`
	SqrtPriceLimitX96 string `json:"sqrtPriceLimitX96,omitempty"`
	Nonce             uint64 `json:"nonce"`
	Owner             string `json:"owner"`
	Signature         string `json:"signature"`
}

// FaucetBody is the payload for POST /api/v1/faucet (development only).
type FaucetBody struct {
	Account  string `json:"account"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// LiquidityBody is the payload for POST /api/v1/liquidity (development
// only, enabled together with the faucet).
type LiquidityBody struct {
	Symbol    string `json:"symbol"`
	Owner     string `json:"owner"`
	TickLower int32  `json:"tickLower"`
	TickUpper int32  `json:"tickUpper"`
	Liquidity string `json:"liquidity"`
}

// ==============================
// REST Response Types
// ==============================

// PlaceOrderResponse is the response from order placement
type PlaceOrderResponse struct {
	Status  string `json:"status"` // "placed"
	OrderID uint64 `json:"orderId"`
}

// BalanceInfo is one account balance
type BalanceInfo struct {
	Address  string `json:"address"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// NodeStatus describes the host
type NodeStatus struct {
	Height        uint64 `json:"height"` // committed operations since start
	Markets       int    `json:"markets"`
	Treasury      string `json:"treasury"`
	HookAccount   string `json:"hookAccount"`
	FaucetEnabled bool   `json:"faucetEnabled"`
	ChainID       int64  `json:"chainId"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["orders:WETH-USDC", "account:0x..."]
}

// WSAck confirms a subscription change
type WSAck struct {
	Type     string   `json:"type"` // "subscribed" or "unsubscribed"
	Channels []string `json:"channels"`
}

// WSMessage wraps a committed event for one channel
type WSMessage struct {
	Channel string `json:"channel"`
	Type    string `json:"type"` // "order_placed", "order_filled", "order_claimed", "swap_executed"
	Symbol  string `json:"symbol"`
	Height  uint64 `json:"height"`
	Time    int64  `json:"time"`
	Data    any    `json:"data"`
}
