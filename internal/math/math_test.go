package math_test

import (
	"math/big"
	"testing"

	fpmath "SynthVault/internal/math"
)

// unit returns n * 10^18 as a big.Int.
func unit(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fpmath.Precision)
}

// feedPrice returns n * 10^8, an 8-decimal oracle price.
func feedPrice(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

func TestUsdValue(t *testing.T) {
	// 15 ETH at $2000/ETH (8-decimal feed) = $30000
	got := fpmath.UsdValue(feedPrice(2000), fpmath.AdditionalFeedPrecision, unit(15))
	want := unit(30_000)
	if got.Cmp(want) != 0 {
		t.Errorf("UsdValue: got %s, want %s", got, want)
	}
}

func TestTokenAmountFromUsd(t *testing.T) {
	// $100 at $2000/ETH = 0.05 ETH
	got := fpmath.TokenAmountFromUsd(feedPrice(2000), fpmath.AdditionalFeedPrecision, unit(100))
	want := new(big.Int).Quo(unit(1), big.NewInt(20)) // 0.05e18
	if got.Cmp(want) != 0 {
		t.Errorf("TokenAmountFromUsd: got %s, want %s", got, want)
	}
}

func TestUsdValueRoundTrip(t *testing.T) {
	price := feedPrice(2000)
	amount := unit(15)

	usd := fpmath.UsdValue(price, fpmath.AdditionalFeedPrecision, amount)
	back := fpmath.TokenAmountFromUsd(price, fpmath.AdditionalFeedPrecision, usd)

	if back.Cmp(amount) != 0 {
		t.Errorf("round trip: got %s, want %s", back, amount)
	}
}

func TestFeedScale(t *testing.T) {
	if got := fpmath.FeedScale(8); got.Cmp(fpmath.AdditionalFeedPrecision) != 0 {
		t.Errorf("FeedScale(8): got %s, want %s", got, fpmath.AdditionalFeedPrecision)
	}
	if got := fpmath.FeedScale(18); got.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("FeedScale(18): got %s, want 1", got)
	}
}

func TestHealthFactor_ZeroDebtIsMinimum(t *testing.T) {
	// Zero debt reports exactly the minimum, regardless of collateral.
	for _, collateral := range []*big.Int{big.NewInt(0), unit(20_000)} {
		hf := fpmath.HealthFactor(big.NewInt(0), collateral)
		if hf.Cmp(fpmath.MinHealthFactor) != 0 {
			t.Errorf("zero debt with collateral %s: got %s, want %s",
				collateral, hf, fpmath.MinHealthFactor)
		}
	}
}

func TestHealthFactor_ExactBoundary(t *testing.T) {
	// $200 collateral backing $100 debt sits exactly at the 200% boundary.
	hf := fpmath.HealthFactor(unit(100), unit(200))
	if hf.Cmp(fpmath.MinHealthFactor) != 0 {
		t.Errorf("boundary: got %s, want %s", hf, fpmath.MinHealthFactor)
	}
	if !fpmath.Healthy(hf) {
		t.Error("boundary position should be healthy")
	}
}

func TestHealthFactor_Undercollateralized(t *testing.T) {
	// $100 collateral backing $100 debt: factor = 0.5e18, below minimum.
	hf := fpmath.HealthFactor(unit(100), unit(100))
	want := new(big.Int).Quo(fpmath.Precision, big.NewInt(2))
	if hf.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", hf, want)
	}
	if fpmath.Healthy(hf) {
		t.Error("50% factor should not be healthy")
	}
}

func TestHealthFactor_TruncatesTowardZero(t *testing.T) {
	// collateral=3, debt=2 (raw units): (3*50/100) = 1, then 1*1e18/2.
	hf := fpmath.HealthFactor(big.NewInt(2), big.NewInt(3))
	want := new(big.Int).Quo(fpmath.Precision, big.NewInt(2))
	if hf.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", hf, want)
	}
}

func TestBonusCollateral(t *testing.T) {
	// 10% of 0.025 ETH = 0.0025 ETH
	base := new(big.Int).Quo(unit(1), big.NewInt(40))
	got := fpmath.BonusCollateral(base)
	want := new(big.Int).Quo(unit(1), big.NewInt(400))
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}
