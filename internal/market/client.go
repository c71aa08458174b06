package market

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Ticker is a single instrument's 24h market state.
type Ticker struct {
	Symbol        string
	Price         decimal.Decimal
	ChangePercent decimal.Decimal
	QuoteVolume   decimal.Decimal
}

// Candle is one kline from the market data source.
type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Coin is a ranked market entry as shown to clients.
type Coin struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Change decimal.Decimal `json:"change"`
}

// Source is the market data feed consumed by the cache and the
// currency query service.
type Source interface {
	TickerSnapshot(ctx context.Context) ([]Ticker, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// BinanceSource implements Source against the Binance REST API.
type BinanceSource struct {
	client *binance.Client
}

// NewBinanceSource creates a Binance-backed market source.
func NewBinanceSource(client *binance.Client) *BinanceSource {
	return &BinanceSource{client: client}
}

// TickerSnapshot fetches 24h stats for every tradable pair. Entries
// with unparsable numbers are skipped rather than failing the whole
// snapshot.
func (s *BinanceSource) TickerSnapshot(ctx context.Context) ([]Ticker, error) {
	stats, err := s.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch 24h ticker stats")
	}

	tickers := make([]Ticker, 0, len(stats))
	for _, st := range stats {
		price, err := decimal.NewFromString(st.LastPrice)
		if err != nil {
			continue
		}
		change, err := decimal.NewFromString(st.PriceChangePercent)
		if err != nil {
			continue
		}
		volume, err := decimal.NewFromString(st.QuoteVolume)
		if err != nil {
			continue
		}
		tickers = append(tickers, Ticker{
			Symbol:        st.Symbol,
			Price:         price,
			ChangePercent: change,
			QuoteVolume:   volume,
		})
	}
	return tickers, nil
}

// Klines fetches historical candles for a symbol.
func (s *BinanceSource) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	klines, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines for %s", symbol)
	}

	candles := make([]Candle, 0, len(klines))
	for i, k := range klines {
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse open price at index %d", i)
		}
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse high price at index %d", i)
		}
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse low price at index %d", i)
		}
		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse close price at index %d", i)
		}
		volume, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse volume at index %d", i)
		}
		candles = append(candles, Candle{
			OpenTime: time.Unix(0, k.OpenTime*int64(time.Millisecond)),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
		})
	}
	return candles, nil
}

// Price fetches the current price of a single symbol.
func (s *BinanceSource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := s.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "failed to fetch price for %s", symbol)
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, errors.Errorf("empty price response for %s", symbol)
	}
	return decimal.NewFromString(prices[0].Price)
}
