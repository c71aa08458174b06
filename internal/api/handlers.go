package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/coinfolio/server/internal/auth"
	"github.com/coinfolio/server/internal/currency"
	"github.com/coinfolio/server/internal/ledger"
	"github.com/coinfolio/server/internal/models"
	"github.com/coinfolio/server/internal/portfolio"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Auth      *auth.Service
	Ledger    *ledger.Engine
	Currency  *currency.Service
	Portfolio *portfolio.Service
}

// NewHandler creates a new handler
func NewHandler(authService *auth.Service, engine *ledger.Engine, currencyService *currency.Service, portfolioService *portfolio.Service) *Handler {
	return &Handler{Auth: authService, Ledger: engine, Currency: currencyService, Portfolio: portfolioService}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "INVALID_BODY"}`, http.StatusBadRequest)
		return
	}

	token, user, err := h.Auth.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "INVALID_BODY"}`, http.StatusBadRequest)
		return
	}

	token, user, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// JWTAuthMiddleware verifies bearer tokens and injects the user id
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "NOT_AUTHORIZED"}`, http.StatusUnauthorized)
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		userID, err := h.Auth.UserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "NOT_AUTHORIZED"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTopCoins returns the ranked market list
func (h *Handler) GetTopCoins(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	json.NewEncoder(w).Encode(h.Currency.TopCoins(limit))
}

// GetRate returns a fresh single-symbol quote
func (h *Handler) GetRate(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	rate, err := h.Currency.Rate(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(rate)
}

// GetHistory returns a reduced candle series for a period token
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	period := r.URL.Query().Get("period")
	history, err := h.Currency.History(r.Context(), symbol, period)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(history)
}

// GetPortfolio returns the valued portfolio snapshot
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "NOT_AUTHORIZED"}`, http.StatusUnauthorized)
		return
	}

	snapshot, err := h.Portfolio.Portfolio(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(snapshot)
}

// GetCard returns the user's simulated bank card
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "NOT_AUTHORIZED"}`, http.StatusUnauthorized)
		return
	}

	card, err := h.Ledger.CardOf(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(card)
}

// GetTransactions returns the user's transaction log, newest first
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "NOT_AUTHORIZED"}`, http.StatusUnauthorized)
		return
	}

	txns, err := h.Ledger.TransactionsOf(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(txns)
}

// TopUp moves funds from the bank card to the wallet
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	h.fundsOp(w, r, h.Ledger.TopUp)
}

// Withdraw moves funds from the wallet to the bank card
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.fundsOp(w, r, h.Ledger.Withdraw)
}

// Buy executes a market buy at the client-confirmed price
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.tradeOp(w, r, h.Ledger.Buy)
}

// Sell executes a market sell at the client-confirmed price
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	h.tradeOp(w, r, h.Ledger.Sell)
}

func (h *Handler) fundsOp(w http.ResponseWriter, r *http.Request, op func(context.Context, int, decimal.Decimal) (*models.Transaction, error)) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "NOT_AUTHORIZED"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "INVALID_BODY"}`, http.StatusBadRequest)
		return
	}

	txn, err := op(r.Context(), userID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"transaction": txn})
}

func (h *Handler) tradeOp(w http.ResponseWriter, r *http.Request, op func(context.Context, int, string, decimal.Decimal, decimal.Decimal) (*models.Transaction, error)) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "NOT_AUTHORIZED"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Currency string          `json:"currency"`
		Amount   decimal.Decimal `json:"amount"`
		Price    decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "INVALID_BODY"}`, http.StatusBadRequest)
		return
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		http.Error(w, `{"error": "CURRENCY_REQUIRED"}`, http.StatusBadRequest)
		return
	}

	txn, err := op(r.Context(), userID, req.Currency, req.Amount, req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{"transaction": txn})
}
