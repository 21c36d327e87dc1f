// Package api is the HTTP presentation adapter. It collects validated
// input, drives the ledger engine and read services, and maps the error
// taxonomy to status codes. No business rules live here.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/stockfx/ledger-engine/internal/ledger"
	"github.com/stockfx/ledger-engine/internal/metrics"
	"github.com/stockfx/ledger-engine/internal/model"
	"github.com/stockfx/ledger-engine/internal/quote"
	"github.com/stockfx/ledger-engine/internal/session"
	"github.com/stockfx/ledger-engine/internal/store"
	"github.com/stockfx/ledger-engine/internal/valuation"
	"github.com/stockfx/ledger-engine/internal/watchlist"
)

// Service bundles the handlers' collaborators.
type Service struct {
	engine    *ledger.Engine
	valuation *valuation.Service
	watchlist *watchlist.Registry
	sessions  *session.Manager
	store     store.Store
	sim       *quote.Simulator
	hub       *Hub
	validate  *validator.Validate
}

// NewService creates the HTTP service. hub may be nil when WebSocket
// broadcasting is not needed (tests).
func NewService(
	engine *ledger.Engine,
	val *valuation.Service,
	wl *watchlist.Registry,
	sessions *session.Manager,
	st store.Store,
	sim *quote.Simulator,
	hub *Hub,
) *Service {
	return &Service{
		engine:    engine,
		valuation: val,
		watchlist: wl,
		sessions:  sessions,
		store:     st,
		sim:       sim,
		hub:       hub,
		validate:  validator.New(),
	}
}

// Routes mounts every handler on a fresh router. Also used by tests.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/signup", s.Signup)
	r.Post("/login", s.Login)
	r.Get("/quotes", s.ListQuotes)
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	// Everything below requires a session.
	r.Group(func(r chi.Router) {
		r.Use(s.Authenticate)
		r.Post("/logout", s.Logout)
		r.Post("/deposit", s.Deposit)
		r.Post("/orders", s.PlaceOrder)
		r.Get("/account", s.GetAccount)
		r.Get("/positions", s.ListPositions)
		r.Get("/transactions", s.ListTransactions)
		r.Get("/portfolio", s.GetPortfolio)
		r.Get("/portfolio/allocation", s.GetAllocation)
		r.Get("/portfolio/history", s.GetValueSeries)
		r.Get("/watchlist", s.ListWatchlist)
		r.Post("/watchlist/{symbol}", s.AddWatch)
		r.Delete("/watchlist/{symbol}", s.RemoveWatch)
	})

	return r
}

// --- Request/Response schemas ---

// CredentialsRequest is the JSON body for signup and login.
type CredentialsRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// DepositRequest is the JSON body for POST /deposit. The sign of the
// amount is the ledger's rule to enforce, so it carries no validate tag;
// zero and negative both surface as the engine's invalid-amount error.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	Symbol   string `json:"symbol" validate:"required"`
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
	Side     string `json:"side" validate:"required,oneof=BUY SELL"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token string `json:"token"`
}

// --- Auth handlers ---

// Signup handles POST /api/v1/signup
func (s *Service) Signup(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.sessions.Signup(r.Context(), req.Username, req.Password)
	if errors.Is(err, session.ErrUsernameTaken) {
		writeError(w, "username already taken", http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, "signup failed", http.StatusInternalServerError)
		return
	}

	slog.Info("user signed up", "user", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, user)
}

// Login handles POST /api/v1/login
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !s.decode(w, r, &req) {
		return
	}

	token, err := s.sessions.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, session.ErrInvalidCredentials) {
		writeError(w, "invalid username or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		writeError(w, "login failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// Logout handles POST /api/v1/logout
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

// --- Ledger handlers ---

// Deposit handles POST /api/v1/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !s.decode(w, r, &req) {
		return
	}

	acct, err := s.engine.Deposit(r.Context(), userID(r), req.Amount)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	slog.Info("deposit settled", "user", acct.UserID, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, acct)
}

// PlaceOrder handles POST /api/v1/orders
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !s.decode(w, r, &req) {
		return
	}

	symbol, err := quote.NormalizeSymbol(req.Symbol)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := s.engine.PlaceOrder(r.Context(), userID(r), symbol, req.Quantity, model.Side(req.Side))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	metrics.OrderLatency.WithLabelValues(req.Side).Observe(time.Since(start).Seconds())

	slog.Info("order settled",
		"record", result.Record.ID,
		"user", result.Record.UserID,
		"symbol", symbol,
		"side", req.Side,
		"qty", req.Quantity,
		"unit_price", result.Record.UnitPrice.String(),
		"balance", result.Account.CashBalance.String(),
	)
	writeJSON(w, http.StatusOK, result)
}

// --- Read-only projections ---

// GetAccount handles GET /api/v1/account
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.store.GetAccount(r.Context(), userID(r))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// ListPositions handles GET /api/v1/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListPositions(r.Context(), userID(r))
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// ListTransactions handles GET /api/v1/transactions
// Records are returned newest first.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListTransactions(r.Context(), userID(r))
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetPortfolio handles GET /api/v1/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolio, err := s.valuation.Portfolio(r.Context(), userID(r))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// GetAllocation handles GET /api/v1/portfolio/allocation
func (s *Service) GetAllocation(w http.ResponseWriter, r *http.Request) {
	slices, err := s.valuation.Allocation(r.Context(), userID(r))
	if err != nil {
		writeError(w, "failed to compute allocation", http.StatusInternalServerError)
		return
	}
	if slices == nil {
		slices = []valuation.Slice{}
	}
	writeJSON(w, http.StatusOK, slices)
}

// GetValueSeries handles GET /api/v1/portfolio/history
func (s *Service) GetValueSeries(w http.ResponseWriter, r *http.Request) {
	samples := s.valuation.Series(userID(r))
	if samples == nil {
		samples = []valuation.Sample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

// --- Watchlist handlers ---

// ListWatchlist handles GET /api/v1/watchlist
func (s *Service) ListWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := s.watchlist.List(r.Context(), userID(r))
	if err != nil {
		writeError(w, "failed to load watchlist", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []watchlist.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

// AddWatch handles POST /api/v1/watchlist/{symbol}
func (s *Service) AddWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.watchlist.Add(r.Context(), userID(r), chi.URLParam(r, "symbol")); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveWatch handles DELETE /api/v1/watchlist/{symbol}
func (s *Service) RemoveWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.watchlist.Remove(r.Context(), userID(r), chi.URLParam(r, "symbol")); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Quotes ---

// ListQuotes handles GET /api/v1/quotes
func (s *Service) ListQuotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Quotes())
}

// --- Helpers ---

// decode parses and validates a JSON request body. On failure it writes
// the error response and returns false.
func (s *Service) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return false
	}
	return true
}

// writeLedgerError maps the ledger/store error taxonomy to HTTP statuses.
func (s *Service) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidSide),
		errors.Is(err, quote.ErrInvalidSymbol):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientPosition):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrQuoteUnavailable),
		errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		writeError(w, "order conflicted with a concurrent update, retry", http.StatusConflict)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
