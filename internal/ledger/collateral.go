package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// ErrInsufficientBalance is returned when a ledger decrease would drive a
// balance below zero. Balances never wrap.
var ErrInsufficientBalance = fmt.Errorf("insufficient balance")

// CollateralLedger tracks per-account, per-asset deposited collateral.
// Accounts are created implicitly on first increase and never destroyed;
// a fully withdrawn account simply holds zero everywhere.
//
// Only the issuance engine mutates this ledger. It carries no locking of its
// own: all writes arrive through the engine's single serialization point.
type CollateralLedger struct {
	balances map[uuid.UUID]map[string]*big.Int
}

func NewCollateralLedger() *CollateralLedger {
	return &CollateralLedger{
		balances: make(map[uuid.UUID]map[string]*big.Int),
	}
}

// Increase adds amount to the account's balance for asset.
func (cl *CollateralLedger) Increase(account uuid.UUID, asset string, amount *big.Int) {
	assets, ok := cl.balances[account]
	if !ok {
		assets = make(map[string]*big.Int)
		cl.balances[account] = assets
	}

	bal, ok := assets[asset]
	if !ok {
		bal = new(big.Int)
		assets[asset] = bal
	}
	bal.Add(bal, amount)
}

// Decrease subtracts amount from the account's balance for asset. Fails with
// ErrInsufficientBalance if the balance would go negative; the ledger is left
// untouched on failure.
func (cl *CollateralLedger) Decrease(account uuid.UUID, asset string, amount *big.Int) error {
	bal := cl.lookup(account, asset)
	if bal == nil || bal.Cmp(amount) < 0 {
		have := new(big.Int)
		if bal != nil {
			have = bal
		}
		return fmt.Errorf("%w: account %s asset %s has %s, need %s",
			ErrInsufficientBalance, account, asset, have, amount)
	}
	bal.Sub(bal, amount)
	return nil
}

// Balance returns a copy of the account's deposited amount for asset.
func (cl *CollateralLedger) Balance(account uuid.UUID, asset string) *big.Int {
	bal := cl.lookup(account, asset)
	if bal == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

func (cl *CollateralLedger) lookup(account uuid.UUID, asset string) *big.Int {
	assets, ok := cl.balances[account]
	if !ok {
		return nil
	}
	return assets[asset]
}

// Restore overwrites an account balance. Used only when rebuilding ledger
// state from durable storage at startup.
func (cl *CollateralLedger) Restore(account uuid.UUID, asset string, balance *big.Int) {
	assets, ok := cl.balances[account]
	if !ok {
		assets = make(map[string]*big.Int)
		cl.balances[account] = assets
	}
	assets[asset] = new(big.Int).Set(balance)
}

// Snapshot returns a deep copy of all balances.
func (cl *CollateralLedger) Snapshot() map[uuid.UUID]map[string]*big.Int {
	snapshot := make(map[uuid.UUID]map[string]*big.Int, len(cl.balances))
	for account, assets := range cl.balances {
		dup := make(map[string]*big.Int, len(assets))
		for asset, bal := range assets {
			dup[asset] = new(big.Int).Set(bal)
		}
		snapshot[account] = dup
	}
	return snapshot
}
