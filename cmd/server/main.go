package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coinfolio/server/internal/api"
	"github.com/coinfolio/server/internal/auth"
	"github.com/coinfolio/server/internal/config"
	"github.com/coinfolio/server/internal/currency"
	"github.com/coinfolio/server/internal/db"
	"github.com/coinfolio/server/internal/ledger"
	"github.com/coinfolio/server/internal/market"
	"github.com/coinfolio/server/internal/portfolio"

	"github.com/adshao/go-binance/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // mobile clients connect from arbitrary origins
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type wsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*wsClient]bool)}
}

// broadcastTicker pushes the current top-coins snapshot to every
// connected client, dropping clients whose writes fail.
func (hub *wsHub) broadcastTicker(cache *market.Cache, logger *zap.Logger) {
	coins := cache.TopCoins(100)
	data, err := json.Marshal(map[string]interface{}{"coins": coins})
	if err != nil {
		logger.Error("failed to marshal ticker broadcast", zap.Error(err))
		return
	}

	var dead []*wsClient
	hub.mu.RLock()
	for client := range hub.clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			dead = append(dead, client)
		}
	}
	hub.mu.RUnlock()

	if len(dead) > 0 {
		hub.mu.Lock()
		for _, client := range dead {
			client.conn.Close()
			delete(hub.clients, client)
		}
		hub.mu.Unlock()
	}
}

func (hub *wsHub) handleWebSocket(cache *market.Cache, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", zap.Error(err))
			return
		}

		client := &wsClient{conn: conn}
		hub.mu.Lock()
		hub.clients[client] = true
		hub.mu.Unlock()

		// Send the current snapshot immediately.
		hub.broadcastTicker(cache, logger)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				hub.mu.Lock()
				delete(hub.clients, client)
				hub.mu.Unlock()
				break
			}
		}
	}
}

// Main entry point: sets up database, price cache, services and HTTP server
func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(ctx)

	binanceClient := binance.NewClient(cfg.BinanceAPIKey, cfg.BinanceSecret)
	binanceClient.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	source := market.NewBinanceSource(binanceClient)
	cache := market.NewCache(source, logger, cfg.RefreshInterval, cfg.TopCoins)
	go cache.Run(ctx)

	engine := ledger.NewEngine(database, logger, cfg.CardSeedBalance)
	authService := auth.NewService(database, engine, cfg.JWTSecret)
	currencyService := currency.NewService(cache, source)
	portfolioService := portfolio.NewService(engine, cache)

	handler := api.NewHandler(authService, engine, currencyService, portfolioService)
	router := api.NewRouter(handler)

	hub := newWSHub()
	router.Get("/ws", hub.handleWebSocket(cache, logger))

	// Push the ticker stream on the cache refresh cadence.
	go func() {
		ticker := time.NewTicker(cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hub.broadcastTicker(cache, logger)
			}
		}
	}()

	srv := &http.Server{Addr: cfg.Addr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server", zap.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}
