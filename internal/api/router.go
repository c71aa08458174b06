package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// NewRouter builds the HTTP route table around a handler.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/api/currencies/top", h.GetTopCoins)
	r.Get("/api/currencies/{symbol}/rate", h.GetRate)
	r.Get("/api/currencies/{symbol}/history", h.GetHistory)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Get("/api/wallet", h.GetPortfolio)
		r.Get("/api/wallet/card", h.GetCard)
		r.Get("/api/wallet/transactions", h.GetTransactions)
		r.Post("/api/wallet/topup", h.TopUp)
		r.Post("/api/wallet/withdraw", h.Withdraw)
		r.Post("/api/trade/buy", h.Buy)
		r.Post("/api/trade/sell", h.Sell)
	})

	return r
}
