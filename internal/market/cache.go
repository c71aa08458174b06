package market

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// QuoteSuffix is the settlement-currency suffix ranked pairs must
// quote against.
const QuoteSuffix = "USDT"

// fetchTimeout bounds each upstream snapshot call so a hung feed
// never stalls the refresh loop.
const fetchTimeout = 5 * time.Second

// ignoredCoins are stablecoins, fiat pairs and wrapped assets kept
// out of the ranked market list. They still price through the cache.
var ignoredCoins = map[string]bool{
	"USDC": true, "FDUSD": true, "TUSD": true, "USDP": true, "DAI": true, "BUSD": true,
	"EUR": true, "GBP": true, "AUD": true, "TRY": true, "RUB": true, "BRL": true,
	"WBTC": true, "USD1": true, "SENT": true,
}

// leveragedSuffixes mark Binance leveraged tokens (BTCUP, ETHBEAR, ...).
var leveragedSuffixes = []string{"UP", "DOWN", "BULL", "BEAR"}

type snapshot struct {
	prices map[string]Ticker
	top    []Coin
}

// Cache holds the latest full market snapshot: a per-symbol price map
// and the derived top-N ranked list. A single background goroutine
// refreshes it; readers always see either the old or the new snapshot
// in full. A failed refresh keeps the previous snapshot.
type Cache struct {
	source   Source
	log      *zap.Logger
	interval time.Duration
	topN     int

	mu   sync.RWMutex
	snap snapshot
}

// NewCache creates a price cache. It is empty until the first
// successful refresh; an empty cache is a valid cold state.
func NewCache(source Source, logger *zap.Logger, interval time.Duration, topN int) *Cache {
	return &Cache{
		source:   source,
		log:      logger,
		interval: interval,
		topN:     topN,
		snap:     snapshot{prices: map[string]Ticker{}},
	}
}

// Run refreshes the cache on a fixed interval until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	c.log.Info("price cache refresher started", zap.Duration("interval", c.interval))

	if err := c.Refresh(ctx); err != nil {
		c.log.Warn("initial market snapshot failed", zap.Error(err))
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.log.Warn("market snapshot refresh failed, keeping stale data", zap.Error(err))
			}
		}
	}
}

// Refresh fetches a full ticker snapshot and atomically replaces both
// the price map and the ranked list.
func (c *Cache) Refresh(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	tickers, err := c.source.TickerSnapshot(fctx)
	if err != nil {
		return err
	}

	prices := make(map[string]Ticker, len(tickers))
	for _, t := range tickers {
		prices[t.Symbol] = t
	}

	c.mu.Lock()
	c.snap = snapshot{prices: prices, top: rank(tickers, c.topN)}
	c.mu.Unlock()
	return nil
}

// Price returns the cached ticker for a pair symbol. Unknown symbols
// return the zero Ticker; a zero price means "unpriced", never a real
// quote.
func (c *Cache) Price(symbol string) Ticker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.prices[symbol]
}

// TopCoins returns up to limit entries of the ranked market list.
func (c *Cache) TopCoins(limit int) []Coin {
	c.mu.RLock()
	top := c.snap.top
	c.mu.RUnlock()

	if limit < 0 {
		limit = 0
	}
	if limit > len(top) {
		limit = len(top)
	}
	out := make([]Coin, limit)
	copy(out, top[:limit])
	return out
}

// rank filters the snapshot down to USDT-quoted pairs, drops ignored
// and leveraged bases, and sorts by 24h quote volume. The sort is
// stable so equal-volume pairs keep the feed order.
func rank(tickers []Ticker, topN int) []Coin {
	var pairs []Ticker
	for _, t := range tickers {
		if _, ok := rankedBase(t.Symbol); !ok {
			continue
		}
		pairs = append(pairs, t)
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].QuoteVolume.GreaterThan(pairs[j].QuoteVolume)
	})

	if len(pairs) > topN {
		pairs = pairs[:topN]
	}

	coins := make([]Coin, len(pairs))
	for i, t := range pairs {
		base := strings.TrimSuffix(t.Symbol, QuoteSuffix)
		coins[i] = Coin{
			ID:     base,
			Name:   base,
			Symbol: base,
			Price:  t.Price,
			Change: t.ChangePercent,
		}
	}
	return coins
}

// rankedBase returns the base symbol if the pair belongs in the
// ranked list.
func rankedBase(symbol string) (string, bool) {
	if !strings.HasSuffix(symbol, QuoteSuffix) {
		return "", false
	}
	base := strings.TrimSuffix(symbol, QuoteSuffix)
	if base == "" || ignoredCoins[base] {
		return "", false
	}
	for _, suffix := range leveragedSuffixes {
		if strings.HasSuffix(base, suffix) {
			return "", false
		}
	}
	return base, true
}
