package engine

import (
	"context"
	"fmt"
	"math/big"

	fpmath "SynthVault/internal/math"

	"github.com/google/uuid"
)

// Every operation follows the same discipline: validate inputs, mutate the
// ledgers, perform external transfer/mint/burn calls, re-validate the
// invariant. Ledger state is updated before external calls so a reentrant
// call from a collaborator observes post-update state, never stale state.
// Any failure rolls the whole operation back; no partial effect survives.

// DepositCollateral locks amount of asset for account, pulling the tokens
// from the account into engine custody.
func (e *Engine) DepositCollateral(ctx context.Context, account uuid.UUID, asset string, amount *big.Int) error {
	return e.run(OpDepositCollateral, func() (*Record, error) {
		return e.depositCollateral(ctx, account, asset, amount)
	})
}

func (e *Engine) depositCollateral(ctx context.Context, account uuid.UUID, asset string, amount *big.Int) (*Record, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	tok, ok := e.tokens[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	e.collateral.Increase(account, asset, amount)

	if !tok.TransferIn(account, amount) {
		mustDecrease(e.collateral.Decrease(account, asset, amount))
		return nil, fmt.Errorf("%w: deposit %s %s from %s", ErrTransferFailed, amount, asset, account)
	}

	return &Record{
		Account: account,
		Asset:   asset,
		Amount:  new(big.Int).Set(amount),
		Balances: []BalanceUpdate{
			{Account: account, Asset: asset, Balance: e.collateral.Balance(account, asset)},
		},
	}, nil
}

// MintDebt issues amount debt units to account, provided the account stays
// over-collateralized at current prices.
func (e *Engine) MintDebt(ctx context.Context, account uuid.UUID, amount *big.Int) error {
	return e.run(OpMintDebt, func() (*Record, error) {
		return e.mintDebt(ctx, e.newPriceView(), account, amount)
	})
}

func (e *Engine) mintDebt(ctx context.Context, v *priceView, account uuid.UUID, amount *big.Int) (*Record, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}

	e.debt.Increase(account, amount)

	hf, err := e.healthFactor(ctx, v, account)
	if err != nil {
		mustDecrease(e.debt.Decrease(account, amount))
		return nil, err
	}
	if !fpmath.Healthy(hf) {
		mustDecrease(e.debt.Decrease(account, amount))
		return nil, &HealthFactorError{HealthFactor: hf}
	}

	if !e.debtTok.Mint(account, amount) {
		mustDecrease(e.debt.Decrease(account, amount))
		return nil, fmt.Errorf("%w: mint %s to %s", ErrMintFailed, amount, account)
	}

	return &Record{
		Account:      account,
		Amount:       new(big.Int).Set(amount),
		DebtDelta:    new(big.Int).Set(amount),
		HealthFactor: hf,
		Balances: []BalanceUpdate{
			{Account: account, Debt: true, Balance: e.debt.Balance(account)},
		},
	}, nil
}

// BurnDebt retires amount of account's debt, pulling the debt tokens from
// the account and destroying them.
func (e *Engine) BurnDebt(ctx context.Context, account uuid.UUID, amount *big.Int) error {
	return e.run(OpBurnDebt, func() (*Record, error) {
		return e.burnDebt(ctx, e.newPriceView(), account, account, amount)
	})
}

// burnDebt retires amount of account's debt, funded by payer. In the
// liquidation path payer is the liquidator; everywhere else payer == account.
func (e *Engine) burnDebt(ctx context.Context, v *priceView, payer, account uuid.UUID, amount *big.Int) (*Record, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}

	if err := e.debt.Decrease(account, amount); err != nil {
		return nil, err
	}

	if !e.debtTok.TransferIn(payer, amount) {
		e.debt.Increase(account, amount)
		return nil, fmt.Errorf("%w: pull %s debt units from %s", ErrTransferFailed, amount, payer)
	}
	if !e.debtTok.Burn(amount) {
		// The engine just pulled this amount into custody; a failed burn
		// means the debt token collaborator is broken.
		panic(fmt.Sprintf("FATAL: debt token refused to burn %s held in custody", amount))
	}

	// A pure burn can only raise the health factor, so this check cannot
	// fire on its own; it guards the composite redeem path and stays as
	// defense-in-depth.
	hf, err := e.healthFactor(ctx, v, account)
	if err != nil {
		e.unwindBurn(payer, account, amount)
		return nil, err
	}
	if !fpmath.Healthy(hf) {
		e.unwindBurn(payer, account, amount)
		return nil, &HealthFactorError{HealthFactor: hf}
	}

	return &Record{
		Account:      account,
		Amount:       new(big.Int).Set(amount),
		DebtDelta:    new(big.Int).Neg(amount),
		HealthFactor: hf,
		Balances: []BalanceUpdate{
			{Account: account, Debt: true, Balance: e.debt.Balance(account)},
		},
	}, nil
}

// unwindBurn reverses a completed burn: re-mint the destroyed units to the
// payer and restore the debt ledger.
func (e *Engine) unwindBurn(payer, account uuid.UUID, amount *big.Int) {
	if !e.debtTok.Mint(payer, amount) {
		panic(fmt.Sprintf("FATAL: could not re-mint %s debt units while unwinding burn", amount))
	}
	e.debt.Increase(account, amount)
}

// RedeemCollateral releases amount of asset from account's locked collateral
// back to the account, provided the position stays over-collateralized.
func (e *Engine) RedeemCollateral(ctx context.Context, account uuid.UUID, asset string, amount *big.Int) error {
	return e.run(OpRedeemCollateral, func() (*Record, error) {
		return e.redeemCollateral(ctx, e.newPriceView(), account, asset, amount)
	})
}

func (e *Engine) redeemCollateral(ctx context.Context, v *priceView, account uuid.UUID, asset string, amount *big.Int) (*Record, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	tok, ok := e.tokens[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	if err := e.collateral.Decrease(account, asset, amount); err != nil {
		return nil, err
	}

	// The invariant check runs on the already-decreased ledger, before the
	// outbound transfer: the push itself cannot change the factor, and a
	// pushed transfer cannot be unwound from here.
	hf, err := e.healthFactor(ctx, v, account)
	if err != nil {
		e.collateral.Increase(account, asset, amount)
		return nil, err
	}
	if !fpmath.Healthy(hf) {
		e.collateral.Increase(account, asset, amount)
		return nil, &HealthFactorError{HealthFactor: hf}
	}

	if !tok.TransferOut(account, amount) {
		e.collateral.Increase(account, asset, amount)
		return nil, fmt.Errorf("%w: redeem %s %s to %s", ErrTransferFailed, amount, asset, account)
	}

	return &Record{
		Account:      account,
		Asset:        asset,
		Amount:       new(big.Int).Set(amount),
		HealthFactor: hf,
		Balances: []BalanceUpdate{
			{Account: account, Asset: asset, Balance: e.collateral.Balance(account, asset)},
		},
	}, nil
}

// DepositCollateralAndMintDebt deposits collateral and mints debt as one
// atomic operation: if the mint fails, the deposit is undone as well.
func (e *Engine) DepositCollateralAndMintDebt(ctx context.Context, account uuid.UUID, asset string, collateralAmount, debtAmount *big.Int) error {
	return e.run(OpDepositAndMint, func() (*Record, error) {
		v := e.newPriceView()

		depositRec, err := e.depositCollateral(ctx, account, asset, collateralAmount)
		if err != nil {
			return nil, err
		}

		mintRec, err := e.mintDebt(ctx, v, account, debtAmount)
		if err != nil {
			e.unwindDeposit(account, asset, collateralAmount)
			return nil, err
		}

		return &Record{
			Account:      account,
			Asset:        asset,
			Amount:       new(big.Int).Set(collateralAmount),
			DebtDelta:    mintRec.DebtDelta,
			HealthFactor: mintRec.HealthFactor,
			Balances:     append(depositRec.Balances, mintRec.Balances...),
		}, nil
	})
}

// unwindDeposit reverses a completed deposit: push the custody tokens back
// and restore the collateral ledger.
func (e *Engine) unwindDeposit(account uuid.UUID, asset string, amount *big.Int) {
	mustDecrease(e.collateral.Decrease(account, asset, amount))
	if !e.tokens[asset].TransferOut(account, amount) {
		panic(fmt.Sprintf("FATAL: could not return %s %s while unwinding deposit", amount, asset))
	}
}

// RedeemCollateralForDebt burns debt and redeems collateral as one atomic
// operation: burning first so the redeem's invariant check sees the reduced
// debt. If the redeem fails, the burn is undone as well.
func (e *Engine) RedeemCollateralForDebt(ctx context.Context, account uuid.UUID, asset string, collateralAmount, debtAmount *big.Int) error {
	return e.run(OpRedeemForDebt, func() (*Record, error) {
		v := e.newPriceView()

		burnRec, err := e.burnDebt(ctx, v, account, account, debtAmount)
		if err != nil {
			return nil, err
		}

		redeemRec, err := e.redeemCollateral(ctx, v, account, asset, collateralAmount)
		if err != nil {
			e.unwindBurn(account, account, debtAmount)
			return nil, err
		}

		return &Record{
			Account:      account,
			Asset:        asset,
			Amount:       new(big.Int).Set(collateralAmount),
			DebtDelta:    burnRec.DebtDelta,
			HealthFactor: redeemRec.HealthFactor,
			Balances:     append(burnRec.Balances, redeemRec.Balances...),
		}, nil
	})
}

// Liquidate lets liquidator repay debtToCover of account's debt in exchange
// for the equivalent amount of asset plus a bonus, seized from account's
// collateral. The target must be below the minimum health factor before, and
// strictly healthier after.
//
// Known structural limitation: once total collateralization falls to ~100%,
// the bonus cannot be funded and no liquidation can restore solvency.
func (e *Engine) Liquidate(ctx context.Context, liquidator, account uuid.UUID, asset string, debtToCover *big.Int) error {
	return e.run(OpLiquidate, func() (*Record, error) {
		return e.liquidate(ctx, liquidator, account, asset, debtToCover)
	})
}

func (e *Engine) liquidate(ctx context.Context, liquidator, account uuid.UUID, asset string, debtToCover *big.Int) (*Record, error) {
	if err := requirePositive(debtToCover); err != nil {
		return nil, err
	}
	tok, ok := e.tokens[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	// One price view for the whole liquidation: the seizure conversion and
	// both health factor computations must value assets identically.
	v := e.newPriceView()

	startHF, err := e.healthFactor(ctx, v, account)
	if err != nil {
		return nil, err
	}
	if fpmath.Healthy(startHF) {
		return nil, fmt.Errorf("%w: account %s at %s", ErrHealthFactorOk, account, startHF)
	}

	pa, err := v.quote(ctx, asset)
	if err != nil {
		return nil, err
	}
	baseAmount := fpmath.TokenAmountFromUsd(pa.price, pa.feedScale, debtToCover)
	seized := new(big.Int).Add(baseAmount, fpmath.BonusCollateral(baseAmount))

	if err := e.collateral.Decrease(account, asset, seized); err != nil {
		return nil, err
	}
	if err := e.debt.Decrease(account, debtToCover); err != nil {
		e.collateral.Increase(account, asset, seized)
		return nil, err
	}

	rollback := func() {
		e.collateral.Increase(account, asset, seized)
		e.debt.Increase(account, debtToCover)
	}

	endHF, err := e.healthFactor(ctx, v, account)
	if err != nil {
		rollback()
		return nil, err
	}
	if endHF.Cmp(startHF) <= 0 {
		rollback()
		return nil, fmt.Errorf("%w: %s -> %s", ErrHealthFactorNotImproved, startHF, endHF)
	}

	// The liquidator pays the debt: pull the cover from them and burn it.
	if !e.debtTok.TransferIn(liquidator, debtToCover) {
		rollback()
		return nil, fmt.Errorf("%w: pull %s debt units from liquidator %s", ErrTransferFailed, debtToCover, liquidator)
	}
	if !e.debtTok.Burn(debtToCover) {
		panic(fmt.Sprintf("FATAL: debt token refused to burn %s held in custody", debtToCover))
	}

	// Hand the seized collateral to the liquidator last: if this transfer
	// fails, the burned cover is re-minted and the ledgers restored.
	if !tok.TransferOut(liquidator, seized) {
		if !e.debtTok.Mint(liquidator, debtToCover) {
			panic(fmt.Sprintf("FATAL: could not re-mint %s debt units while unwinding liquidation", debtToCover))
		}
		rollback()
		return nil, fmt.Errorf("%w: seize %s %s to liquidator %s", ErrTransferFailed, seized, asset, liquidator)
	}

	// Burning debt cannot hurt the liquidator's own position; checked anyway
	// to mirror every other mutating path.
	liqHF, err := e.healthFactor(ctx, v, liquidator)
	if err == nil && !fpmath.Healthy(liqHF) {
		err = &HealthFactorError{HealthFactor: liqHF}
	}
	if err != nil {
		if !tok.TransferIn(liquidator, seized) {
			panic(fmt.Sprintf("FATAL: could not reclaim %s %s while unwinding liquidation", seized, asset))
		}
		if !e.debtTok.Mint(liquidator, debtToCover) {
			panic(fmt.Sprintf("FATAL: could not re-mint %s debt units while unwinding liquidation", debtToCover))
		}
		rollback()
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.LiquidationsExecuted.WithLabelValues(asset).Inc()
	}

	liq := liquidator
	return &Record{
		Account:      account,
		Liquidator:   &liq,
		Asset:        asset,
		Amount:       seized,
		DebtDelta:    new(big.Int).Neg(debtToCover),
		HealthFactor: endHF,
		Balances: []BalanceUpdate{
			{Account: account, Asset: asset, Balance: e.collateral.Balance(account, asset)},
			{Account: account, Debt: true, Balance: e.debt.Balance(account)},
		},
	}, nil
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
