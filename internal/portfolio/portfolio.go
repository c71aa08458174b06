// Package portfolio computes the USD value and 24h change of a
// wallet's holdings from live cache prices. The result is derived
// state, recomputed on every request and never persisted.
package portfolio

import (
	"context"
	"sort"

	"github.com/coinfolio/server/internal/market"
	"github.com/coinfolio/server/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Holdings reads a wallet's fiat balance and asset rows.
type Holdings interface {
	WalletOf(ctx context.Context, userID int) (*models.Wallet, error)
	AssetsOf(ctx context.Context, userID int) ([]models.Asset, error)
}

// PriceSource looks up cached prices by pair symbol.
type PriceSource interface {
	Price(symbol string) market.Ticker
}

// AssetView is one valued holding in a portfolio snapshot.
type AssetView struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	Price       decimal.Decimal `json:"price"`
	Value       decimal.Decimal `json:"value"`
	Change      decimal.Decimal `json:"change"`
	ChangeValue decimal.Decimal `json:"change_value"`
}

// Snapshot is the client-facing portfolio aggregate.
type Snapshot struct {
	TotalBalanceUSD    decimal.Decimal `json:"total_balance_usd"`
	TotalChangeValue   decimal.Decimal `json:"total_change_value"`
	TotalChangePercent decimal.Decimal `json:"total_change_percent"`
	Assets             []AssetView     `json:"assets"`
}

// Service values portfolios.
type Service struct {
	holdings Holdings
	prices   PriceSource
}

// NewService creates a portfolio valuation service.
func NewService(holdings Holdings, prices PriceSource) *Service {
	return &Service{holdings: holdings, prices: prices}
}

// Portfolio values the user's wallet at current cache prices. Assets
// a full sell drove to zero are excluded; the fiat balance appears as
// a synthetic USD entry when positive.
func (s *Service) Portfolio(ctx context.Context, userID int) (*Snapshot, error) {
	wallet, err := s.holdings.WalletOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	assets, err := s.holdings.AssetsOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	total := wallet.BalanceUSD
	previousTotal := wallet.BalanceUSD

	var views []AssetView
	for _, asset := range assets {
		if asset.Balance.Sign() <= 0 || asset.Currency == "USD" {
			continue
		}

		ticker := s.prices.Price(asset.Currency + market.QuoteSuffix)
		current := asset.Balance.Mul(ticker.Price)

		// 24h-ago estimate from the change percent. When the cache
		// has no change data (or the divisor degenerates to zero)
		// the previous value equals the current one.
		previous := current
		if !ticker.ChangePercent.IsZero() {
			divisor := decimal.NewFromInt(1).Add(ticker.ChangePercent.Div(hundred))
			if !divisor.IsZero() {
				previous = current.DivRound(divisor, 8)
			}
		}

		total = total.Add(current)
		previousTotal = previousTotal.Add(previous)

		views = append(views, AssetView{
			Symbol:      asset.Currency,
			Name:        asset.Currency,
			Amount:      asset.Balance,
			Price:       ticker.Price,
			Value:       current.Round(2),
			Change:      ticker.ChangePercent,
			ChangeValue: current.Sub(previous).Round(2),
		})
	}

	if wallet.BalanceUSD.Sign() > 0 {
		views = append(views, AssetView{
			Symbol:      "USD",
			Name:        "US Dollar",
			Amount:      wallet.BalanceUSD,
			Price:       decimal.NewFromInt(1),
			Value:       wallet.BalanceUSD.Round(2),
			Change:      decimal.Zero,
			ChangeValue: decimal.Zero,
		})
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Value.GreaterThan(views[j].Value)
	})

	changeValue := total.Sub(previousTotal)
	changePercent := decimal.Zero
	if !previousTotal.IsZero() {
		changePercent = changeValue.Div(previousTotal).Mul(hundred).Round(2)
	}

	return &Snapshot{
		TotalBalanceUSD:    total.Round(2),
		TotalChangeValue:   changeValue.Round(2),
		TotalChangePercent: changePercent,
		Assets:             views,
	}, nil
}
