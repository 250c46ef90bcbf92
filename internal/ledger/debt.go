package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// DebtLedger tracks each account's outstanding minted debt units.
// It never enforces the over-collateralization invariant itself: that check
// needs live price data the ledger does not have, and belongs to the engine.
type DebtLedger struct {
	debt map[uuid.UUID]*big.Int
}

func NewDebtLedger() *DebtLedger {
	return &DebtLedger{
		debt: make(map[uuid.UUID]*big.Int),
	}
}

// Increase adds amount to the account's outstanding debt.
func (dl *DebtLedger) Increase(account uuid.UUID, amount *big.Int) {
	bal, ok := dl.debt[account]
	if !ok {
		bal = new(big.Int)
		dl.debt[account] = bal
	}
	bal.Add(bal, amount)
}

// Decrease subtracts amount from the account's outstanding debt. Fails with
// ErrInsufficientBalance if the debt would go negative.
func (dl *DebtLedger) Decrease(account uuid.UUID, amount *big.Int) error {
	bal, ok := dl.debt[account]
	if !ok || bal.Cmp(amount) < 0 {
		have := new(big.Int)
		if ok {
			have = bal
		}
		return fmt.Errorf("%w: account %s owes %s, cannot reduce by %s",
			ErrInsufficientBalance, account, have, amount)
	}
	bal.Sub(bal, amount)
	return nil
}

// Balance returns a copy of the account's outstanding debt.
func (dl *DebtLedger) Balance(account uuid.UUID) *big.Int {
	bal, ok := dl.debt[account]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

// Restore overwrites an account's debt. Used only when rebuilding ledger
// state from durable storage at startup.
func (dl *DebtLedger) Restore(account uuid.UUID, balance *big.Int) {
	dl.debt[account] = new(big.Int).Set(balance)
}

// Snapshot returns a deep copy of all outstanding debt.
func (dl *DebtLedger) Snapshot() map[uuid.UUID]*big.Int {
	snapshot := make(map[uuid.UUID]*big.Int, len(dl.debt))
	for account, bal := range dl.debt {
		snapshot[account] = new(big.Int).Set(bal)
	}
	return snapshot
}
