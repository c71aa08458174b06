package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/coinfolio/server/internal/auth"
	"github.com/coinfolio/server/internal/config"
	"github.com/coinfolio/server/internal/db"
	"github.com/coinfolio/server/internal/ledger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Seed the database with two funded demo accounts so the portfolio
// and history screens have data to show.
func main() {
	ctx := context.Background()
	cfg := config.Load()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	logger, _ := zap.NewDevelopment()
	engine := ledger.NewEngine(database, logger, cfg.CardSeedBalance)
	authService := auth.NewService(database, engine, cfg.JWTSecret)

	if _, err := database.GetUserByEmail(ctx, "alice@example.com"); err == nil {
		fmt.Println("Demo users already exist. No need to seed.")
		os.Exit(0)
	}

	_, alice, err := authService.Register(ctx, "alice@example.com", "alice", "Wonder_land1")
	if err != nil {
		log.Fatalf("Failed to register alice: %v", err)
	}
	_, bob, err := authService.Register(ctx, "bob@example.com", "bob", "Builder_123")
	if err != nil {
		log.Fatalf("Failed to register bob: %v", err)
	}

	// Alice: funded wallet with BTC and ETH positions.
	if _, err := engine.TopUp(ctx, alice.ID, decimal.NewFromInt(5000)); err != nil {
		log.Fatalf("Failed to top up alice: %v", err)
	}
	if _, err := engine.Buy(ctx, alice.ID, "BTC", decimal.RequireFromString("0.02"), decimal.NewFromInt(60000)); err != nil {
		log.Fatalf("Failed to buy BTC for alice: %v", err)
	}
	if _, err := engine.Buy(ctx, alice.ID, "ETH", decimal.NewFromInt(1), decimal.NewFromInt(2500)); err != nil {
		log.Fatalf("Failed to buy ETH for alice: %v", err)
	}

	// Bob: a top-up, a round trip and a withdrawal for history variety.
	if _, err := engine.TopUp(ctx, bob.ID, decimal.NewFromInt(2000)); err != nil {
		log.Fatalf("Failed to top up bob: %v", err)
	}
	if _, err := engine.Buy(ctx, bob.ID, "SOL", decimal.NewFromInt(5), decimal.NewFromInt(150)); err != nil {
		log.Fatalf("Failed to buy SOL for bob: %v", err)
	}
	if _, err := engine.Sell(ctx, bob.ID, "SOL", decimal.NewFromInt(2), decimal.NewFromInt(155)); err != nil {
		log.Fatalf("Failed to sell SOL for bob: %v", err)
	}
	if _, err := engine.Withdraw(ctx, bob.ID, decimal.NewFromInt(500)); err != nil {
		log.Fatalf("Failed to withdraw for bob: %v", err)
	}

	fmt.Println("Successfully seeded the database with demo accounts!")
}
