package math

import "math/big"

// HealthFactor computes the discounted-collateral-to-debt ratio at internal
// precision. A factor below MinHealthFactor marks the position as
// liquidatable.
//
// Zero-debt policy: an account with no outstanding debt reports exactly
// MinHealthFactor, not a sentinel "infinite" value. A zero-debt account is
// never liquidatable, and a zero-debt zero-collateral account reports the
// same factor as a zero-debt fully-collateralized one. This is deliberate;
// changing it would change liquidation eligibility semantics.
func HealthFactor(totalDebt, collateralValueUsd *big.Int) *big.Int {
	if totalDebt.Sign() == 0 {
		return new(big.Int).Set(MinHealthFactor)
	}

	// Discount raw collateral by the threshold before dividing by debt.
	// Multiplications first, truncating divisions after.
	adjusted := new(big.Int).Mul(collateralValueUsd, big.NewInt(LiquidationThreshold))
	adjusted.Quo(adjusted, big.NewInt(LiquidationPrecision))

	hf := adjusted.Mul(adjusted, Precision)
	return hf.Quo(hf, totalDebt)
}

// Healthy reports whether hf meets the minimum health factor.
func Healthy(hf *big.Int) bool {
	return hf.Cmp(MinHealthFactor) >= 0
}
