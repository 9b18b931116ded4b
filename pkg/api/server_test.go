package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"github.com/uhyunpark/tickorders/pkg/app"
	"github.com/uhyunpark/tickorders/pkg/crypto"
	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/ledger"
	"github.com/uhyunpark/tickorders/pkg/limitorder"
	"github.com/uhyunpark/tickorders/pkg/market"
	"github.com/uhyunpark/tickorders/pkg/pricemath"
	"github.com/uhyunpark/tickorders/pkg/storage"
)

var (
	token0   = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	token1   = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	hook     = common.HexToAddress("0x000000000000000000000000000000000000c0de")
	reserve  = common.HexToAddress("0x000000000000000000000000000000000000beef")
	treasury = common.HexToAddress("0x0000000000000000000000000000000000007ea5")
	lp       = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

const symbol = "T0-T1"

type testServer struct {
	app *app.App
	srv *Server
	url string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	a, err := app.New(app.Config{
		HookAccount:      hook,
		ReserveAccount:   reserve,
		Treasury:         treasury,
		TreasuryShareBps: limitorder.DefaultTreasuryShareBps,
		FaucetEnabled:    true,
	}, store, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	key := curve.PoolKey{Currency0: token0, Currency1: token1, Fee: 3000, TickSpacing: 60}
	if err := a.CreateMarket(symbol, key, 100); err != nil {
		t.Fatal(err)
	}

	s := NewServer(a, Options{}, nil)
	go s.hub.Run()
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hs.Close()
		s.hub.Stop()
	})
	return &testServer{app: a, srv: s, url: hs.URL}
}

func (ts *testServer) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.url + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (ts *testServer) post(t *testing.T, path string, body, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.url+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (ts *testServer) fund(t *testing.T, account common.Address) {
	t.Helper()
	for _, tok := range []common.Address{token0, token1} {
		body := FaucetBody{Account: account.Hex(), Currency: tok.Hex(), Amount: "1000000000000000000000000"}
		if code := ts.post(t, "/api/v1/faucet", body, nil); code != http.StatusOK {
			t.Fatalf("faucet: status %d", code)
		}
	}
}

func (ts *testServer) addLiquidity(t *testing.T) {
	t.Helper()
	ts.fund(t, lp)
	body := LiquidityBody{Symbol: symbol, Owner: lp.Hex(), TickLower: -6000, TickUpper: 6000, Liquidity: "1000000000000000000000"}
	if code := ts.post(t, "/api/v1/liquidity", body, nil); code != http.StatusOK {
		t.Fatalf("liquidity: status %d", code)
	}
}

func sign(t *testing.T, ts *testServer, key *crypto.Signer, r crypto.Request) string {
	t.Helper()
	sig, err := ts.app.Signer().Sign(key, r)
	if err != nil {
		t.Fatal(err)
	}
	return hexutil.Encode(sig)
}

func TestHealthAndStatus(t *testing.T) {
	ts := newTestServer(t)

	var health map[string]string
	if code := ts.get(t, "/health", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("health = %d %v", code, health)
	}

	var st NodeStatus
	if code := ts.get(t, "/api/v1/status", &st); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if st.Markets != 1 || st.Treasury != treasury.Hex() || st.ChainID != 1337 || !st.FaucetEnabled {
		t.Errorf("status = %+v", st)
	}

	var domain map[string]any
	ts.get(t, "/api/v1/domain", &domain)
	if domain["name"] != "TickOrders" {
		t.Errorf("domain = %v", domain)
	}
}

func TestMarketQueries(t *testing.T) {
	ts := newTestServer(t)

	var markets []map[string]any
	if code := ts.get(t, "/api/v1/markets", &markets); code != http.StatusOK || len(markets) != 1 {
		t.Fatalf("markets = %d %v", code, markets)
	}
	if markets[0]["symbol"] != symbol || markets[0]["status"] != "Active" {
		t.Errorf("market = %v", markets[0])
	}

	var levels []limitorder.LevelView
	if code := ts.get(t, "/api/v1/markets/"+symbol+"/levels", &levels); code != http.StatusOK || len(levels) != 0 {
		t.Errorf("levels = %d %v", code, levels)
	}

	var e ErrorResponse
	if code := ts.get(t, "/api/v1/markets/NOPE-X", &e); code != http.StatusNotFound {
		t.Errorf("unknown market: status %d (%+v)", code, e)
	}
	if code := ts.get(t, "/api/v1/orders/42", &e); code != http.StatusNotFound {
		t.Errorf("unknown order: status %d", code)
	}
	if code := ts.get(t, "/api/v1/accounts/0x1234/balances", &e); code != http.StatusBadRequest {
		t.Errorf("bad address: status %d", code)
	}
}

func TestPlaceSwapClaim(t *testing.T) {
	ts := newTestServer(t)
	ts.addLiquidity(t)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	owner := key.Address()
	ts.fund(t, owner)

	amount, _ := new(big.Int).SetString("1000000000000000000", 10)
	req := crypto.PlaceOrderRequest{Symbol: symbol, Direction: 1, Price: "1.0185", Amount: amount, Nonce: 1, Owner: owner}
	body := PlaceOrderBody{
		Symbol: symbol, Direction: 1, Price: "1.0185", Amount: amount.String(),
		Nonce: 1, Owner: owner.Hex(), Signature: sign(t, ts, key, req),
	}
	var placed PlaceOrderResponse
	if code := ts.post(t, "/api/v1/orders", body, &placed); code != http.StatusOK {
		t.Fatalf("place: status %d", code)
	}

	var e ErrorResponse
	if code := ts.post(t, "/api/v1/orders", body, &e); code != http.StatusConflict {
		t.Errorf("replay: status %d (%s)", code, e.Message)
	}
	forged := body
	forged.Nonce = 2
	if code := ts.post(t, "/api/v1/orders", forged, &e); code != http.StatusUnauthorized {
		t.Errorf("forged: status %d (%s)", code, e.Message)
	}

	var order limitorder.OrderView
	ts.get(t, fmt.Sprintf("/api/v1/orders/%d", placed.OrderID), &order)
	if order.Status != "resting" || order.TopLevel != 180 || order.Owner != owner {
		t.Fatalf("order = %+v", order)
	}

	limit := pricemath.MustSqrtRatioAtTick(200)
	amountIn, _ := new(big.Int).SetString("100000000000000000000000", 10)
	swapReq := crypto.SwapRequest{Symbol: symbol, AmountIn: amountIn, SqrtPriceLimitX96: limit, Nonce: 2, Owner: owner}
	var res app.SwapResult
	code := ts.post(t, "/api/v1/swaps", SwapBody{
		Symbol: symbol, AmountIn: amountIn.String(), SqrtPriceLimitX96: limit.String(),
		Nonce: 2, Owner: owner.Hex(), Signature: sign(t, ts, key, swapReq),
	}, &res)
	if code != http.StatusOK {
		t.Fatalf("swap: status %d", code)
	}
	if len(res.Filled) != 1 || res.Filled[0] != placed.OrderID {
		t.Fatalf("filled = %v", res.Filled)
	}

	claimReq := crypto.ClaimRequest{OrderID: placed.OrderID, Symbol: symbol, Nonce: 3, Owner: owner}
	var split limitorder.Split
	code = ts.post(t, "/api/v1/orders/claim", ClaimBody{
		OrderID: placed.OrderID, Symbol: symbol, Nonce: 3, Owner: owner.Hex(),
		Signature: sign(t, ts, key, claimReq),
	}, &split)
	if code != http.StatusOK {
		t.Fatalf("claim: status %d", code)
	}
	if split.Owner1 == nil || split.Owner1.Sign() <= 0 {
		t.Errorf("split = %+v", split)
	}

	var bal BalanceInfo
	ts.get(t, "/api/v1/accounts/"+treasury.Hex()+"/balances/"+token1.Hex(), &bal)
	if bal.Amount != split.Treasury1.String() {
		t.Errorf("treasury balance = %s, want %s", bal.Amount, split.Treasury1)
	}

	var nonce map[string]uint64
	ts.get(t, "/api/v1/accounts/"+owner.Hex()+"/nonce", &nonce)
	if nonce["nonce"] != 3 {
		t.Errorf("nonce = %v", nonce)
	}
}

func TestBadBodies(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"not json", "/api/v1/orders", "nope"},
		{"bad owner", "/api/v1/orders", PlaceOrderBody{Owner: "0x12", Amount: "1", Signature: "0x00"}},
		{"bad amount", "/api/v1/faucet", FaucetBody{Account: lp.Hex(), Currency: token0.Hex(), Amount: "1.5"}},
		{"negative amount", "/api/v1/faucet", FaucetBody{Account: lp.Hex(), Currency: token0.Hex(), Amount: "-1"}},
		{"missing signature", "/api/v1/orders/claim", ClaimBody{Owner: lp.Hex()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e ErrorResponse
			if code := ts.post(t, tt.path, tt.body, &e); code != http.StatusBadRequest {
				t.Errorf("status %d (%s)", code, e.Message)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: 7", limitorder.ErrOrderNotFound), http.StatusNotFound},
		{market.ErrMarketNotFound, http.StatusNotFound},
		{crypto.ErrBadSignature, http.StatusUnauthorized},
		{limitorder.ErrNotOwner, http.StatusForbidden},
		{app.ErrFaucetDisabled, http.StatusForbidden},
		{limitorder.ErrAlreadyClaimed, http.StatusConflict},
		{ledger.ErrBadNonce, http.StatusConflict},
		{fmt.Errorf("place: %w", ledger.ErrInsufficientBalance), http.StatusConflict},
		{market.ErrMarketPaused, http.StatusConflict},
		{limitorder.ErrInvalidExecutionDirection, http.StatusBadRequest},
		{limitorder.ErrTickOutOfBounds, http.StatusBadRequest},
		{curve.ErrInvalidPriceLimit, http.StatusBadRequest},
		{limitorder.ErrInvariantViolation, http.StatusInternalServerError},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWebSocketFeed(t *testing.T) {
	ts := newTestServer(t)
	ts.addLiquidity(t)
	alice := common.HexToAddress("0x1111111111111111111111111111111111111111")
	ts.fund(t, alice)

	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	sub := WSSubscribeRequest{Op: "subscribe", Channels: []string{OrdersChannel(symbol), "account:" + alice.Hex()}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}
	var ack WSAck
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != "subscribed" || len(ack.Channels) != 2 {
		t.Fatalf("ack = %+v", ack)
	}

	price, _ := pricemath.TickToPrice(180)
	amount, _ := new(big.Int).SetString("1000000000000000000", 10)
	id, err := ts.app.Place(app.PlaceOrder{
		Symbol: symbol, Owner: alice, Direction: limitorder.SellCurrency0, Price: price, Amount: amount,
	})
	if err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		var msg struct {
			WSMessage
			Data limitorder.OrderPlaced `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != "order_placed" || msg.Data.OrderID != id || msg.Symbol != symbol {
			t.Errorf("message = %+v", msg)
		}
		seen[msg.Channel] = true
	}
	if !seen[OrdersChannel(symbol)] || !seen[AccountChannel(alice.Hex())] {
		t.Errorf("channels = %v", seen)
	}
}
