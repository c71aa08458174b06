// Package currency is the read-only facade over the price cache and
// the market data source.
package currency

import (
	"context"
	"strings"
	"time"

	"github.com/coinfolio/server/internal/market"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// upstreamTimeout bounds each request-path market data call so a hung
// feed never holds a request worker.
const upstreamTimeout = 5 * time.Second

var (
	// ErrUpstreamUnavailable signals that the market data source
	// failed or timed out and no cached fallback exists.
	ErrUpstreamUnavailable = errors.New("market data source unavailable")
	// ErrInsufficientData signals that the source returned fewer
	// than two candles, so no change can be computed.
	ErrInsufficientData = errors.New("not enough history data")
)

// periodSetting maps a client period token to an upstream kline
// request.
type periodSetting struct {
	interval string
	limit    int
}

var periodSettings = map[string]periodSetting{
	"1H": {interval: "1m", limit: 60},
	"1D": {interval: "1h", limit: 24},
	"1W": {interval: "4h", limit: 42},
	"1M": {interval: "1d", limit: 30},
	"1Y": {interval: "1w", limit: 52},
}

// defaultPeriod is used for unknown period tokens.
var defaultPeriod = periodSettings["1D"]

// Rate is a single instantaneous quote.
type Rate struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// PricePoint is one point of a simplified history series.
type PricePoint struct {
	Timestamp int64           `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// History is a reduced candle series with its aggregate change.
type History struct {
	Series        []PricePoint    `json:"series"`
	ChangeValue   decimal.Decimal `json:"change_value"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// Service answers client market queries. Top-list reads come from the
// cache; rate and history go straight to the source for fresh data.
type Service struct {
	cache  *market.Cache
	source market.Source
}

// NewService creates a currency query service.
func NewService(cache *market.Cache, source market.Source) *Service {
	return &Service{cache: cache, source: source}
}

// TopCoins returns up to limit entries of the ranked market list.
func (s *Service) TopCoins(limit int) []market.Coin {
	return s.cache.TopCoins(limit)
}

// Rate fetches a guaranteed-fresh price for a symbol, bypassing the
// cache. Used for trade confirmations.
func (s *Service) Rate(ctx context.Context, symbol string) (*Rate, error) {
	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	pair := NormalizePair(symbol)
	price, err := s.source.Price(ctx, pair)
	if err != nil {
		return nil, errors.Wrapf(ErrUpstreamUnavailable, "fetch rate for %s: %v", pair, err)
	}
	return &Rate{Symbol: pair, Price: price}, nil
}

// History fetches candles for the given period token and reduces them
// to a close-price series with aggregate change.
func (s *Service) History(ctx context.Context, symbol, period string) (*History, error) {
	setting, ok := periodSettings[strings.ToUpper(period)]
	if !ok {
		setting = defaultPeriod
	}

	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	pair := NormalizePair(symbol)
	candles, err := s.source.Klines(ctx, pair, setting.interval, setting.limit)
	if err != nil {
		return nil, errors.Wrapf(ErrUpstreamUnavailable, "fetch history for %s: %v", pair, err)
	}
	if len(candles) < 2 {
		return nil, errors.Wrapf(ErrInsufficientData, "got %d candles for %s", len(candles), pair)
	}

	series := make([]PricePoint, len(candles))
	for i, c := range candles {
		series[i] = PricePoint{
			Timestamp: c.OpenTime.UnixMilli(),
			Price:     c.Close,
		}
	}

	first := series[0].Price
	last := series[len(series)-1].Price
	changeValue := last.Sub(first)
	changePercent := decimal.Zero
	if !first.IsZero() {
		changePercent = changeValue.Div(first).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return &History{
		Series:        series,
		ChangeValue:   changeValue.Round(2),
		ChangePercent: changePercent,
	}, nil
}

// NormalizePair upper-cases a symbol and appends the settlement
// suffix unless it is already a full pair.
func NormalizePair(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.HasSuffix(s, market.QuoteSuffix) {
		return s
	}
	return s + market.QuoteSuffix
}
