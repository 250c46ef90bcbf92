package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// Quote is the latest price reported by a feed: a fixed-point USD price and
// the number of decimals it is quoted at (8 for standard feeds).
type Quote struct {
	Price    *big.Int
	Decimals uint8
}

// PriceFeed supplies the latest USD price for one collateral asset type.
// Feeds are assumed available and non-stale; staleness handling lives with
// the feed operator, not the engine.
type PriceFeed interface {
	LatestPrice(ctx context.Context) (Quote, error)
}

// StaticFeed is a settable in-memory feed for tests and local development.
type StaticFeed struct {
	mu    sync.Mutex
	quote Quote
}

// NewStaticFeed creates a feed pinned at price with the given decimals.
func NewStaticFeed(price *big.Int, decimals uint8) *StaticFeed {
	return &StaticFeed{
		quote: Quote{Price: new(big.Int).Set(price), Decimals: decimals},
	}
}

func (f *StaticFeed) LatestPrice(ctx context.Context) (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Quote{Price: new(big.Int).Set(f.quote.Price), Decimals: f.quote.Decimals}, nil
}

// SetPrice replaces the published price.
func (f *StaticFeed) SetPrice(price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quote.Price = new(big.Int).Set(price)
}

// ErrNoPrice is returned by a cached feed that has not received a quote yet.
var ErrNoPrice = fmt.Errorf("no price received for asset")
