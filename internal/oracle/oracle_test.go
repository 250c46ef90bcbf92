package oracle_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"SynthVault/internal/oracle"
)

func TestStaticFeed_SetPrice(t *testing.T) {
	feed := oracle.NewStaticFeed(big.NewInt(2000_00000000), 8)

	q, err := feed.LatestPrice(context.Background())
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if q.Price.Cmp(big.NewInt(2000_00000000)) != 0 || q.Decimals != 8 {
		t.Errorf("got %s/%d, want 200000000000/8", q.Price, q.Decimals)
	}

	feed.SetPrice(big.NewInt(200_00000000))
	q, _ = feed.LatestPrice(context.Background())
	if q.Price.Cmp(big.NewInt(200_00000000)) != 0 {
		t.Errorf("after SetPrice: got %s", q.Price)
	}
}

func TestCachedFeed_NoPriceYet(t *testing.T) {
	feed := oracle.NewCachedFeed("WETH")

	_, err := feed.LatestPrice(context.Background())
	if !errors.Is(err, oracle.ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestCachedFeed_StaleSequenceDropped(t *testing.T) {
	feed := oracle.NewCachedFeed("WETH")

	feed.Update(big.NewInt(2000), 8, 10)
	feed.Update(big.NewInt(1000), 8, 5) // late redelivery, must not apply

	q, err := feed.LatestPrice(context.Background())
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if q.Price.Cmp(big.NewInt(2000)) != 0 {
		t.Errorf("stale update applied: got %s, want 2000", q.Price)
	}
}

func TestRegistry_RoutesUpdates(t *testing.T) {
	reg := oracle.NewRegistry()

	reg.Update("WBTC", big.NewInt(30000), 8, 1)

	q, err := reg.Feed("WBTC").LatestPrice(context.Background())
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if q.Price.Cmp(big.NewInt(30000)) != 0 {
		t.Errorf("got %s, want 30000", q.Price)
	}

	// Same asset returns the same feed instance.
	if reg.Feed("WBTC") != reg.Feed("WBTC") {
		t.Error("Feed should be stable per asset")
	}
}
