package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"

	"SynthVault/internal/engine"
)

// RecordWriter persists committed operations and the balances they touched.
// Multi-row INSERT keeps round trips down; ON CONFLICT makes replays after a
// crash idempotent, so the worker can always retry a whole batch.
type RecordWriter struct {
	db *sql.DB
}

func NewRecordWriter(db *sql.DB) *RecordWriter {
	return &RecordWriter{db: db}
}

// WriteOperationBatch appends records to engine_log.operations. The sequence
// is the conflict key: a record replayed into an already-written slot is a
// no-op.
func (w *RecordWriter) WriteOperationBatch(ctx context.Context, tx *sql.Tx, records []engine.Record) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO engine_log.operations
		(operation_id, sequence, kind, account, liquidator, asset, amount, debt_delta, health_factor, created_at)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*10)

	for i, r := range records {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))

		var liquidator interface{}
		if r.Liquidator != nil {
			liquidator = r.Liquidator.String()
		}
		var asset interface{}
		if r.Asset != "" {
			asset = r.Asset
		}
		args = append(args,
			r.OperationID.String(), r.Sequence, r.Kind, r.Account.String(), liquidator,
			asset, numeric(r.Amount), numeric(r.DebtDelta), numeric(r.HealthFactor), r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteBalanceBatch upserts the authoritative balances carried by a batch of
// records. The updated_sequence guard keeps an out-of-order replay from
// clobbering a newer balance.
func (w *RecordWriter) WriteBalanceBatch(ctx context.Context, tx *sql.Tx, records []engine.Record) error {
	for _, r := range records {
		for _, b := range r.Balances {
			var err error
			if b.Debt {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO engine_log.debt_balances (account, balance, updated_sequence)
					VALUES ($1, $2, $3)
					ON CONFLICT (account) DO UPDATE
					SET balance = EXCLUDED.balance, updated_sequence = EXCLUDED.updated_sequence
					WHERE engine_log.debt_balances.updated_sequence < EXCLUDED.updated_sequence`,
					b.Account.String(), numeric(b.Balance), r.Sequence,
				)
			} else {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO engine_log.collateral_balances (account, asset, balance, updated_sequence)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (account, asset) DO UPDATE
					SET balance = EXCLUDED.balance, updated_sequence = EXCLUDED.updated_sequence
					WHERE engine_log.collateral_balances.updated_sequence < EXCLUDED.updated_sequence`,
					b.Account.String(), b.Asset, numeric(b.Balance), r.Sequence,
				)
			}
			if err != nil {
				return fmt.Errorf("upsert balance seq=%d account=%s: %w", r.Sequence, b.Account, err)
			}
		}
	}
	return nil
}

// numeric converts a big.Int for a NUMERIC column; amounts exceed int64.
func numeric(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}
