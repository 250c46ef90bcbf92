package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// CollateralBalance is one restored collateral ledger entry.
type CollateralBalance struct {
	Account uuid.UUID
	Asset   string
	Balance *big.Int
}

// DebtBalance is one restored debt ledger entry.
type DebtBalance struct {
	Account uuid.UUID
	Balance *big.Int
}

// RestoredState is the authoritative state read back at startup: the balance
// tables plus the highest committed operation sequence.
type RestoredState struct {
	Collateral []CollateralBalance
	Debt       []DebtBalance
	Sequence   int64
}

// Load reads the balance tables and the log watermark. The balance upserts
// and the operation log are written in the same transaction, so the two are
// always consistent with each other.
func Load(ctx context.Context, db *sql.DB) (*RestoredState, error) {
	st := &RestoredState{}

	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM engine_log.operations`,
	).Scan(&st.Sequence)
	if err != nil {
		return nil, fmt.Errorf("load sequence watermark: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT account, asset, balance FROM engine_log.collateral_balances WHERE balance > 0`,
	)
	if err != nil {
		return nil, fmt.Errorf("load collateral balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountStr, asset, balanceStr string
		if err := rows.Scan(&accountStr, &asset, &balanceStr); err != nil {
			return nil, fmt.Errorf("scan collateral balance: %w", err)
		}
		account, err := uuid.Parse(accountStr)
		if err != nil {
			return nil, fmt.Errorf("parse account %q: %w", accountStr, err)
		}
		balance, ok := new(big.Int).SetString(balanceStr, 10)
		if !ok {
			return nil, fmt.Errorf("parse balance %q for %s/%s", balanceStr, accountStr, asset)
		}
		st.Collateral = append(st.Collateral, CollateralBalance{Account: account, Asset: asset, Balance: balance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collateral balances: %w", err)
	}

	debtRows, err := db.QueryContext(ctx,
		`SELECT account, balance FROM engine_log.debt_balances WHERE balance > 0`,
	)
	if err != nil {
		return nil, fmt.Errorf("load debt balances: %w", err)
	}
	defer debtRows.Close()

	for debtRows.Next() {
		var accountStr, balanceStr string
		if err := debtRows.Scan(&accountStr, &balanceStr); err != nil {
			return nil, fmt.Errorf("scan debt balance: %w", err)
		}
		account, err := uuid.Parse(accountStr)
		if err != nil {
			return nil, fmt.Errorf("parse account %q: %w", accountStr, err)
		}
		balance, ok := new(big.Int).SetString(balanceStr, 10)
		if !ok {
			return nil, fmt.Errorf("parse debt balance %q for %s", balanceStr, accountStr)
		}
		st.Debt = append(st.Debt, DebtBalance{Account: account, Balance: balance})
	}
	if err := debtRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate debt balances: %w", err)
	}

	return st, nil
}
