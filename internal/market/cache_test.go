package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource is a scriptable market data source.
type fakeSource struct {
	mu      sync.Mutex
	tickers []Ticker
	err     error
}

func (f *fakeSource) TickerSnapshot(ctx context.Context) ([]Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.tickers, nil
}

func (f *fakeSource) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Decimal{}, errors.New("not implemented")
}

func (f *fakeSource) set(tickers []Ticker, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickers = tickers
	f.err = err
}

func tk(symbol, price, change, volume string) Ticker {
	return Ticker{
		Symbol:        symbol,
		Price:         decimal.RequireFromString(price),
		ChangePercent: decimal.RequireFromString(change),
		QuoteVolume:   decimal.RequireFromString(volume),
	}
}

func newTestCache(source Source) *Cache {
	return NewCache(source, zap.NewNop(), time.Second, 100)
}

func TestCache_RankedListFiltering(t *testing.T) {
	source := &fakeSource{}
	source.set([]Ticker{
		tk("BTCUSDT", "60000", "2.5", "1000000"),
		tk("ETHUSDT", "2500", "-1.2", "2000000"),
		tk("USDCUSDT", "1", "0", "9000000"),   // stablecoin denylist
		tk("BTCUPUSDT", "12", "5", "8000000"), // leveraged token
		tk("ETHBEARUSDT", "3", "-5", "7000000"),
		tk("BTCEUR", "55000", "2.1", "6000000"), // wrong quote currency
		tk("SOLUSDT", "150", "0.5", "500000"),
	}, nil)

	cache := newTestCache(source)
	require.NoError(t, cache.Refresh(context.Background()))

	coins := cache.TopCoins(100)
	require.Len(t, coins, 3)

	// Descending by 24h quote volume.
	assert.Equal(t, "ETH", coins[0].Symbol)
	assert.Equal(t, "BTC", coins[1].Symbol)
	assert.Equal(t, "SOL", coins[2].Symbol)

	// The full price map still holds everything, including filtered pairs.
	assert.True(t, cache.Price("USDCUSDT").Price.Equal(decimal.NewFromInt(1)))
	assert.True(t, cache.Price("BTCEUR").Price.Equal(decimal.NewFromInt(55000)))
}

func TestCache_EqualVolumeKeepsFeedOrder(t *testing.T) {
	source := &fakeSource{}
	source.set([]Ticker{
		tk("AAAUSDT", "1", "0", "100"),
		tk("BBBUSDT", "2", "0", "100"),
		tk("CCCUSDT", "3", "0", "100"),
	}, nil)

	cache := newTestCache(source)
	require.NoError(t, cache.Refresh(context.Background()))

	coins := cache.TopCoins(3)
	require.Len(t, coins, 3)
	assert.Equal(t, "AAA", coins[0].Symbol)
	assert.Equal(t, "BBB", coins[1].Symbol)
	assert.Equal(t, "CCC", coins[2].Symbol)
}

func TestCache_TopCoinsLimit(t *testing.T) {
	source := &fakeSource{}
	source.set([]Ticker{
		tk("BTCUSDT", "60000", "2.5", "300"),
		tk("ETHUSDT", "2500", "-1.2", "200"),
		tk("SOLUSDT", "150", "0.5", "100"),
	}, nil)

	cache := newTestCache(source)
	require.NoError(t, cache.Refresh(context.Background()))

	assert.Len(t, cache.TopCoins(2), 2)
	// A limit beyond the ranked list returns what exists.
	assert.Len(t, cache.TopCoins(50), 3)
	// Zero and negative limits yield an empty list, never a panic.
	assert.Empty(t, cache.TopCoins(0))
	assert.Empty(t, cache.TopCoins(-1))
}

func TestCache_ColdCacheIsEmpty(t *testing.T) {
	cache := newTestCache(&fakeSource{})

	assert.Empty(t, cache.TopCoins(10))

	ticker := cache.Price("BTCUSDT")
	assert.True(t, ticker.Price.IsZero())
	assert.True(t, ticker.ChangePercent.IsZero())
}

func TestCache_KeepsStaleSnapshotOnFailure(t *testing.T) {
	source := &fakeSource{}
	source.set([]Ticker{tk("BTCUSDT", "60000", "2.5", "1000")}, nil)

	cache := newTestCache(source)
	require.NoError(t, cache.Refresh(context.Background()))
	require.Len(t, cache.TopCoins(10), 1)

	source.set(nil, errors.New("upstream down"))
	assert.Error(t, cache.Refresh(context.Background()))

	// Last good snapshot survives the failed cycle.
	coins := cache.TopCoins(10)
	require.Len(t, coins, 1)
	assert.Equal(t, "BTC", coins[0].Symbol)
	assert.True(t, cache.Price("BTCUSDT").Price.Equal(decimal.NewFromInt(60000)))
}

func TestCache_SnapshotReplacedWholesale(t *testing.T) {
	source := &fakeSource{}
	source.set([]Ticker{tk("BTCUSDT", "60000", "2.5", "1000")}, nil)

	cache := newTestCache(source)
	require.NoError(t, cache.Refresh(context.Background()))

	source.set([]Ticker{tk("ETHUSDT", "2500", "1.0", "2000")}, nil)
	require.NoError(t, cache.Refresh(context.Background()))

	// The old symbol is gone, not merged.
	assert.True(t, cache.Price("BTCUSDT").Price.IsZero())
	coins := cache.TopCoins(10)
	require.Len(t, coins, 1)
	assert.Equal(t, "ETH", coins[0].Symbol)
}

func TestCache_RunStopsOnContextCancel(t *testing.T) {
	source := &fakeSource{}
	source.set([]Ticker{tk("BTCUSDT", "60000", "2.5", "1000")}, nil)

	cache := NewCache(source, zap.NewNop(), 10*time.Millisecond, 100)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		cache.Run(ctx)
		close(done)
	}()

	// Let at least one cycle land, then stop.
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop after cancellation")
	}

	assert.NotEmpty(t, cache.TopCoins(10))
}
