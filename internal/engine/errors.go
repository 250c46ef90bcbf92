package engine

import (
	"errors"
	"fmt"
	"math/big"

	"SynthVault/internal/ledger"
)

// Every error below rejects the entire enclosing operation. There is no
// partial application and no retry logic: an operation either fully commits
// with all invariants holding or has no observable effect.
var (
	// ErrInvalidAmount rejects a zero or negative amount where a positive
	// amount is required.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrUnsupportedAsset rejects an asset type that is not in the
	// collateral registry.
	ErrUnsupportedAsset = errors.New("asset is not registered as collateral")

	// ErrTransferFailed surfaces a collateral or debt token transfer that
	// reported failure.
	ErrTransferFailed = errors.New("token transfer failed")

	// ErrMintFailed surfaces a debt token mint that reported failure.
	ErrMintFailed = errors.New("debt token mint failed")

	// ErrHealthFactorOk rejects a liquidation attempt against a solvent
	// account.
	ErrHealthFactorOk = errors.New("health factor is above the minimum, nothing to liquidate")

	// ErrHealthFactorNotImproved rejects a liquidation that did not strictly
	// raise the target's health factor.
	ErrHealthFactorNotImproved = errors.New("liquidation did not improve the target health factor")

	// ErrConfigurationMismatch rejects construction with collateral token and
	// price feed lists of different lengths.
	ErrConfigurationMismatch = errors.New("collateral token and price feed lists must have equal length")

	// ErrReentrantCall rejects a mutating call made from within an in-flight
	// operation's external transfer/mint/burn call.
	ErrReentrantCall = errors.New("reentrant engine call rejected")
)

// HealthFactorError reports a post-operation invariant violation together
// with the health factor the operation would have produced.
type HealthFactorError struct {
	HealthFactor *big.Int
}

func (e *HealthFactorError) Error() string {
	return fmt.Sprintf("operation breaks health factor: %s", e.HealthFactor)
}

// rejectReason maps an operation error to a metrics label.
func rejectReason(err error) string {
	var hfErr *HealthFactorError
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrUnsupportedAsset):
		return "unsupported_asset"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrMintFailed):
		return "mint_failed"
	case errors.Is(err, ErrHealthFactorOk):
		return "health_factor_ok"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "health_factor_not_improved"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.As(err, &hfErr):
		return "breaks_health_factor"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant"
	default:
		return "other"
	}
}
