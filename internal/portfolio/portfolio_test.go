package portfolio

import (
	"context"
	"testing"

	"github.com/coinfolio/server/internal/market"
	"github.com/coinfolio/server/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHoldings struct {
	wallet models.Wallet
	assets []models.Asset
}

func (f *fakeHoldings) WalletOf(ctx context.Context, userID int) (*models.Wallet, error) {
	w := f.wallet
	return &w, nil
}

func (f *fakeHoldings) AssetsOf(ctx context.Context, userID int) ([]models.Asset, error) {
	return f.assets, nil
}

type fakePrices map[string]market.Ticker

func (f fakePrices) Price(symbol string) market.Ticker {
	return f[symbol]
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestService_PortfolioValuation(t *testing.T) {
	holdings := &fakeHoldings{
		wallet: models.Wallet{ID: 1, UserID: 1, BalanceUSD: dec("100")},
		assets: []models.Asset{
			{WalletID: 1, Currency: "ETH", Balance: dec("2")},
		},
	}
	prices := fakePrices{
		"ETHUSDT": {Symbol: "ETHUSDT", Price: dec("2000"), ChangePercent: dec("10")},
	}

	svc := NewService(holdings, prices)
	snap, err := svc.Portfolio(context.Background(), 1)
	require.NoError(t, err)

	// current = 2 * 2000 = 4000; previous = 4000 / 1.10 = 3636.36
	assert.Equal(t, "4100", snap.TotalBalanceUSD.String())
	assert.Equal(t, "363.64", snap.TotalChangeValue.String())
	assert.Equal(t, "9.73", snap.TotalChangePercent.String())

	require.Len(t, snap.Assets, 2)
	assert.Equal(t, "ETH", snap.Assets[0].Symbol)
	assert.Equal(t, "4000", snap.Assets[0].Value.String())
	assert.Equal(t, "USD", snap.Assets[1].Symbol)
	assert.Equal(t, "100", snap.Assets[1].Amount.String())
}

func TestService_PortfolioSortsByValueDescending(t *testing.T) {
	holdings := &fakeHoldings{
		wallet: models.Wallet{ID: 1, BalanceUSD: dec("500")},
		assets: []models.Asset{
			{Currency: "DOGE", Balance: dec("100")}, // 100 * 0.1 = 10
			{Currency: "BTC", Balance: dec("0.1")},  // 0.1 * 60000 = 6000
		},
	}
	prices := fakePrices{
		"DOGEUSDT": {Price: dec("0.1")},
		"BTCUSDT":  {Price: dec("60000")},
	}

	snap, err := NewService(holdings, prices).Portfolio(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, snap.Assets, 3)
	assert.Equal(t, "BTC", snap.Assets[0].Symbol)
	assert.Equal(t, "USD", snap.Assets[1].Symbol)
	assert.Equal(t, "DOGE", snap.Assets[2].Symbol)
}

func TestService_PortfolioSkipsZeroAssets(t *testing.T) {
	holdings := &fakeHoldings{
		wallet: models.Wallet{ID: 1, BalanceUSD: dec("50")},
		assets: []models.Asset{
			{Currency: "BTC", Balance: decimal.Zero}, // fully sold
			{Currency: "ETH", Balance: dec("1")},
		},
	}
	prices := fakePrices{
		"BTCUSDT": {Price: dec("60000")},
		"ETHUSDT": {Price: dec("2000")},
	}

	snap, err := NewService(holdings, prices).Portfolio(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, snap.Assets, 2)
	assert.Equal(t, "ETH", snap.Assets[0].Symbol)
	assert.Equal(t, "USD", snap.Assets[1].Symbol)
}

func TestService_PortfolioUnpricedAsset(t *testing.T) {
	holdings := &fakeHoldings{
		wallet: models.Wallet{ID: 1, BalanceUSD: dec("100")},
		assets: []models.Asset{
			{Currency: "NEWCOIN", Balance: dec("5")},
		},
	}

	// Empty cache: the asset values at zero rather than erroring.
	snap, err := NewService(holdings, fakePrices{}).Portfolio(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "100", snap.TotalBalanceUSD.String())
	require.Len(t, snap.Assets, 2)
	assert.Equal(t, "USD", snap.Assets[0].Symbol)
	assert.True(t, snap.Assets[1].Value.IsZero())
}

func TestService_PortfolioEmptyWallet(t *testing.T) {
	holdings := &fakeHoldings{wallet: models.Wallet{ID: 1, BalanceUSD: decimal.Zero}}

	snap, err := NewService(holdings, fakePrices{}).Portfolio(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, snap.TotalBalanceUSD.IsZero())
	assert.True(t, snap.TotalChangePercent.IsZero())
	assert.Empty(t, snap.Assets)
}

func TestService_PortfolioNoChangeData(t *testing.T) {
	holdings := &fakeHoldings{
		wallet: models.Wallet{ID: 1, BalanceUSD: decimal.Zero},
		assets: []models.Asset{{Currency: "BTC", Balance: dec("1")}},
	}
	prices := fakePrices{
		"BTCUSDT": {Price: dec("60000")}, // no change percent observed
	}

	snap, err := NewService(holdings, prices).Portfolio(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "60000", snap.TotalBalanceUSD.String())
	assert.True(t, snap.TotalChangeValue.IsZero())
	assert.True(t, snap.TotalChangePercent.IsZero())
}

func TestService_PortfolioFullLossGuard(t *testing.T) {
	holdings := &fakeHoldings{
		wallet: models.Wallet{ID: 1, BalanceUSD: decimal.Zero},
		assets: []models.Asset{{Currency: "RUG", Balance: dec("1000")}},
	}
	prices := fakePrices{
		// A -100% change would make the 24h-ago divisor zero.
		"RUGUSDT": {Price: dec("0.5"), ChangePercent: dec("-100")},
	}

	snap, err := NewService(holdings, prices).Portfolio(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "500", snap.TotalBalanceUSD.String())
	assert.True(t, snap.TotalChangeValue.IsZero())
}

func TestService_PortfolioIdempotentReads(t *testing.T) {
	holdings := &fakeHoldings{
		wallet: models.Wallet{ID: 1, BalanceUSD: dec("100")},
		assets: []models.Asset{{Currency: "ETH", Balance: dec("2")}},
	}
	prices := fakePrices{
		"ETHUSDT": {Price: dec("2000"), ChangePercent: dec("10")},
	}
	svc := NewService(holdings, prices)

	first, err := svc.Portfolio(context.Background(), 1)
	require.NoError(t, err)
	second, err := svc.Portfolio(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
