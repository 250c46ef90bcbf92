package math

import (
	"math/big"
)

// Fixed-point configuration for the engine.
// Amounts and USD values use 18-decimal internal precision; oracle feeds
// quote at 8 decimals and are normalized up by AdditionalFeedPrecision.
const (
	InternalDecimals = 18
	FeedDecimals     = 8

	// LiquidationThreshold/LiquidationPrecision is the fraction of raw
	// collateral USD value that counts toward backing debt. 50/100 encodes
	// the 200% over-collateralization requirement.
	LiquidationThreshold = 50
	LiquidationPrecision = 100

	// LiquidationBonus/LiquidationPrecision is the extra collateral share
	// awarded to a liquidator.
	LiquidationBonus = 10
)

var (
	// Precision is one full internal unit (1e18).
	Precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(InternalDecimals), nil)

	// AdditionalFeedPrecision lifts an 8-decimal oracle price to internal
	// precision (1e10).
	AdditionalFeedPrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(InternalDecimals-FeedDecimals), nil)

	// MinHealthFactor is the healthy boundary: exactly one precision unit.
	MinHealthFactor = new(big.Int).Set(Precision)
)

// FeedScale returns 10^(InternalDecimals - decimals), the multiplier that
// normalizes a feed price with the given decimal count up to internal
// precision. Feeds quoting at internal precision or above need no lift.
func FeedScale(decimals uint8) *big.Int {
	if int(decimals) >= InternalDecimals {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(InternalDecimals-int(decimals))), nil)
}

// UsdValue converts a collateral amount to its USD value at the given feed
// price:
//
//	value = amount * (price * feedScale) / Precision
//
// All multiplications happen before the single truncating division. big.Int
// arithmetic keeps intermediate products exact regardless of magnitude.
func UsdValue(price, feedScale, amount *big.Int) *big.Int {
	v := new(big.Int).Mul(price, feedScale)
	v.Mul(v, amount)
	return v.Quo(v, Precision)
}

// TokenAmountFromUsd is the inverse of UsdValue up to integer truncation:
//
//	amount = usd * Precision / (price * feedScale)
func TokenAmountFromUsd(price, feedScale, usd *big.Int) *big.Int {
	denom := new(big.Int).Mul(price, feedScale)
	v := new(big.Int).Mul(usd, Precision)
	return v.Quo(v, denom)
}

// BonusCollateral returns the liquidation bonus for a seized base amount:
// amount * LiquidationBonus / LiquidationPrecision, truncated.
func BonusCollateral(amount *big.Int) *big.Int {
	v := new(big.Int).Mul(amount, big.NewInt(LiquidationBonus))
	return v.Quo(v, big.NewInt(LiquidationPrecision))
}
