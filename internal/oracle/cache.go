package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// CachedFeed holds the most recent quote pushed by the price ingestion layer.
// Reads before the first update fail with ErrNoPrice; updates are last-wins
// (gaps in the upstream price stream are tolerated, only the latest quote
// matters for valuation).
type CachedFeed struct {
	mu    sync.RWMutex
	asset string
	quote *Quote
	seq   int64
}

func NewCachedFeed(asset string) *CachedFeed {
	return &CachedFeed{asset: asset}
}

func (f *CachedFeed) LatestPrice(ctx context.Context) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.quote == nil {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoPrice, f.asset)
	}
	return Quote{Price: new(big.Int).Set(f.quote.Price), Decimals: f.quote.Decimals}, nil
}

// Update replaces the cached quote. Updates carrying a sequence lower than
// the last applied one are dropped so a late redelivery cannot roll the
// price backwards.
func (f *CachedFeed) Update(price *big.Int, decimals uint8, seq int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quote != nil && seq < f.seq {
		return
	}
	f.quote = &Quote{Price: new(big.Int).Set(price), Decimals: decimals}
	f.seq = seq
}

// Registry maps asset symbols to their cached feeds so the ingestion layer
// can route incoming price updates.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]*CachedFeed
}

func NewRegistry() *Registry {
	return &Registry{feeds: make(map[string]*CachedFeed)}
}

// Feed returns the cached feed for asset, creating it on first use.
func (r *Registry) Feed(asset string) *CachedFeed {
	r.mu.Lock()
	defer r.mu.Unlock()
	feed, ok := r.feeds[asset]
	if !ok {
		feed = NewCachedFeed(asset)
		r.feeds[asset] = feed
	}
	return feed
}

// Update routes a price update to the asset's cached feed.
func (r *Registry) Update(asset string, price *big.Int, decimals uint8, seq int64) {
	r.Feed(asset).Update(price, decimals, seq)
}
