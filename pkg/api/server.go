package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickorders/pkg/app"
	"github.com/uhyunpark/tickorders/pkg/crypto"
	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/ledger"
	"github.com/uhyunpark/tickorders/pkg/limitorder"
	"github.com/uhyunpark/tickorders/pkg/market"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *app.App
	router  *mux.Router
	hub     *Hub
	log     *zap.Logger
	origins []string
	http    *http.Server
}

// NewServer creates the API server and subscribes its WebSocket hub to the
// host's committed events.
func NewServer(a *app.App, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s := &Server{
		app:     a,
		router:  mux.NewRouter(),
		hub:     NewHub(log.Named("ws")),
		log:     log,
		origins: origins,
	}
	a.SetSink(s.hub)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/domain", s.handleGetDomain).Methods("GET")

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/levels", s.handleGetLevels).Methods("GET")

	// Order endpoints
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}/claimable", s.handlePreviewClaim).Methods("GET")
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/claim", s.handleClaim).Methods("POST")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/orders", s.handleGetAccountOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{currency}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	api.HandleFunc("/treasury", s.handleSetTreasury).Methods("POST")
	api.HandleFunc("/swaps", s.handleSwap).Methods("POST")

	// Development endpoints
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	api.HandleFunc("/liquidity", s.handleAddLiquidity).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the WebSocket hub and serves until Shutdown.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("api_listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and disconnects WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ==============================
// Query Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	markets, err := s.app.Markets()
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, NodeStatus{
		Height:        s.app.Height(),
		Markets:       len(markets),
		Treasury:      s.app.Treasury().Hex(),
		HookAccount:   s.app.HookAccount().Hex(),
		FaucetEnabled: s.app.FaucetEnabled(),
		ChainID:       s.app.ChainID(),
	})
}

// handleGetDomain returns the EIP-712 domain requests must be signed under.
func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.app.Signer().Domain())
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.app.Markets()
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, markets)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.app.Market(mux.Vars(r)["symbol"])
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, m)
}

func (s *Server) handleGetLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := s.app.Levels(mux.Vars(r)["symbol"])
	if err != nil {
		s.fail(w, err)
		return
	}
	if levels == nil {
		levels = []limitorder.LevelView{}
	}
	respondJSON(w, levels)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	o, err := s.app.Order(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, o)
}

func (s *Server) handlePreviewClaim(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	split, err := s.app.PreviewClaim(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, split)
}

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		s.fail(w, err)
		return
	}
	orders := s.app.Orders(addr)
	if orders == nil {
		orders = []limitorder.OrderView{}
	}
	respondJSON(w, orders)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		s.fail(w, err)
		return
	}
	balances := s.app.Balances(addr)
	out := make([]BalanceInfo, len(balances))
	for i, b := range balances {
		out[i] = BalanceInfo{Address: addr.Hex(), Currency: b.Currency.Hex(), Amount: b.Amount.String()}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, err := parseAddress("address", vars["address"])
	if err != nil {
		s.fail(w, err)
		return
	}
	currency, err := parseAddress("currency", vars["currency"])
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Address:  addr.Hex(),
		Currency: currency.Hex(),
		Amount:   s.app.Balance(addr, currency).String(),
	})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, map[string]uint64{"nonce": s.app.Nonce(addr)})
}

// ==============================
// Signed Request Handlers
// ==============================

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body PlaceOrderBody
	if err := decodeBody(w, r, &body); err != nil {
		s.fail(w, err)
		return
	}
	owner, err := parseAddress("owner", body.Owner)
	if err != nil {
		s.fail(w, err)
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	sig, err := parseSignature(body.Signature)
	if err != nil {
		s.fail(w, err)
		return
	}

	id, err := s.app.SubmitPlace(crypto.PlaceOrderRequest{
		Symbol:    body.Symbol,
		Direction: body.Direction,
		IsRange:   body.IsRange,
		Price:     body.Price,
		Amount:    amount,
		Nonce:     body.Nonce,
		Owner:     owner,
	}, sig)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, PlaceOrderResponse{Status: "placed", OrderID: id})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body ClaimBody
	if err := decodeBody(w, r, &body); err != nil {
		s.fail(w, err)
		return
	}
	owner, err := parseAddress("owner", body.Owner)
	if err != nil {
		s.fail(w, err)
		return
	}
	sig, err := parseSignature(body.Signature)
	if err != nil {
		s.fail(w, err)
		return
	}

	split, err := s.app.SubmitClaim(crypto.ClaimRequest{
		OrderID: body.OrderID,
		Symbol:  body.Symbol,
		Nonce:   body.Nonce,
		Owner:   owner,
	}, sig)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, split)
}

func (s *Server) handleSetTreasury(w http.ResponseWriter, r *http.Request) {
	var body SetTreasuryBody
	if err := decodeBody(w, r, &body); err != nil {
		s.fail(w, err)
		return
	}
	owner, err := parseAddress("owner", body.Owner)
	if err != nil {
		s.fail(w, err)
		return
	}
	treasury, err := parseAddress("treasury", body.Treasury)
	if err != nil {
		s.fail(w, err)
		return
	}
	sig, err := parseSignature(body.Signature)
	if err != nil {
		s.fail(w, err)
		return
	}

	err = s.app.SubmitSetTreasury(crypto.SetTreasuryRequest{Treasury: treasury, Nonce: body.Nonce, Owner: owner}, sig)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, map[string]string{"treasury": treasury.Hex()})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var body SwapBody
	if err := decodeBody(w, r, &body); err != nil {
		s.fail(w, err)
		return
	}
	owner, err := parseAddress("owner", body.Owner)
	if err != nil {
		s.fail(w, err)
		return
	}
	amountIn, err := parseAmount("amountIn", body.AmountIn)
	if err != nil {
		s.fail(w, err)
		return
	}
	limit := new(big.Int)
	if body.SqrtPriceLimitX96 != "" {
		if limit, err = parseAmount("sqrtPriceLimitX96", body.SqrtPriceLimitX96); err != nil {
			s.fail(w, err)
			return
		}
	}
	sig, err := parseSignature(body.Signature)
	if err != nil {
		s.fail(w, err)
		return
	}

	res, err := s.app.SubmitSwap(r.Context(), crypto.SwapRequest{
		Symbol:            body.Symbol,
		ZeroForOne:        body.ZeroForOne,
		AmountIn:          amountIn,
		SqrtPriceLimitX96: limit,
		Nonce:             body.Nonce,
		Owner:             owner,
	}, sig)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, res)
}

// ==============================
// Development Handlers
// ==============================

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var body FaucetBody
	if err := decodeBody(w, r, &body); err != nil {
		s.fail(w, err)
		return
	}
	account, err := parseAddress("account", body.Account)
	if err != nil {
		s.fail(w, err)
		return
	}
	currency, err := parseAddress("currency", body.Currency)
	if err != nil {
		s.fail(w, err)
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.app.Faucet(account, currency, amount); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Address:  account.Hex(),
		Currency: currency.Hex(),
		Amount:   s.app.Balance(account, currency).String(),
	})
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	if !s.app.FaucetEnabled() {
		s.fail(w, app.ErrFaucetDisabled)
		return
	}
	var body LiquidityBody
	if err := decodeBody(w, r, &body); err != nil {
		s.fail(w, err)
		return
	}
	owner, err := parseAddress("owner", body.Owner)
	if err != nil {
		s.fail(w, err)
		return
	}
	liquidity, err := parseAmount("liquidity", body.Liquidity)
	if err != nil {
		s.fail(w, err)
		return
	}
	delta, err := s.app.AddLiquidity(body.Symbol, owner, body.TickLower, body.TickUpper, liquidity)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, delta)
}

// ==============================
// Helper Functions
// ==============================

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

func orderID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid order id", errBadRequest)
	}
	return id, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid %s %q", errBadRequest, field, s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount accepts a non-negative base-10 integer.
func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid %s %q", errBadRequest, field, s)
	}
	return v, nil
}

func parseSignature(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: missing signature", errBadRequest)
	}
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", errBadRequest, err)
	}
	return sig, nil
}

// statusFor maps an error to its HTTP status and a short label.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, limitorder.ErrOrderNotFound),
		errors.Is(err, market.ErrMarketNotFound),
		errors.Is(err, curve.ErrPoolNotInitialized):
		return http.StatusNotFound, "not found"

	case errors.Is(err, crypto.ErrBadSignature):
		return http.StatusUnauthorized, "bad signature"

	case errors.Is(err, limitorder.ErrNotOwner),
		errors.Is(err, limitorder.ErrNotTreasury),
		errors.Is(err, app.ErrNotAuthorized),
		errors.Is(err, app.ErrFaucetDisabled):
		return http.StatusForbidden, "forbidden"

	case errors.Is(err, limitorder.ErrNotExecuted),
		errors.Is(err, limitorder.ErrAlreadyClaimed),
		errors.Is(err, limitorder.ErrMarketMismatch),
		errors.Is(err, market.ErrMarketExists),
		errors.Is(err, market.ErrMarketPaused),
		errors.Is(err, market.ErrBadTransition),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrBadNonce),
		errors.Is(err, curve.ErrPoolAlreadyInitialized),
		errors.Is(err, curve.ErrPoolLocked),
		errors.Is(err, curve.ErrInsufficientLiquidity):
		return http.StatusConflict, "rejected"

	case errors.Is(err, errBadRequest),
		errors.Is(err, app.ErrInvalidRequest),
		errors.Is(err, limitorder.ErrInvalidAmount),
		errors.Is(err, limitorder.ErrInvalidPrice),
		errors.Is(err, limitorder.ErrInvalidExecutionDirection),
		errors.Is(err, limitorder.ErrTickOutOfBounds),
		errors.Is(err, limitorder.ErrInvalidTreasury),
		errors.Is(err, market.ErrInvalidMarket),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, curve.ErrInvalidAmount),
		errors.Is(err, curve.ErrInvalidPoolKey),
		errors.Is(err, curve.ErrInvalidTickRange),
		errors.Is(err, curve.ErrTickOutOfRange),
		errors.Is(err, curve.ErrInvalidSqrtPrice),
		errors.Is(err, curve.ErrInvalidPriceLimit):
		return http.StatusBadRequest, "invalid request"
	}
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status, label := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request_failed", zap.Error(err))
	}
	respondError(w, status, label, err.Error())
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
