package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Service provides read-only access to the operation log, the persisted
// balance tables and the projection read models. Live position math (health
// factor, USD valuations) is served by the engine, not from here: this
// surface answers history and audit questions.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// OperationHistory returns an account's committed operations, newest first,
// with cursor pagination on sequence.
func (s *Service) OperationHistory(
	ctx context.Context,
	account uuid.UUID,
	kind *string,
	limit int,
	afterSequence *int64,
) (*OperationHistoryResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	q := `
		SELECT operation_id, sequence, kind, account, liquidator, asset,
		       amount::text, debt_delta::text, health_factor::text, created_at
		FROM engine_log.operations
		WHERE (account = $1 OR liquidator = $1)
	`
	args := []interface{}{account}
	argIdx := 2

	if kind != nil {
		q += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, *kind)
		argIdx++
	}
	if afterSequence != nil {
		q += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	q += " ORDER BY sequence DESC"
	q += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &OperationHistoryResponse{Account: account, AsOfSequence: asOf}
	for rows.Next() {
		var e OperationEntry
		var opID, acct string
		var liquidator sql.NullString
		var asset, amount, debtDelta, healthFactor sql.NullString
		if err := rows.Scan(
			&opID, &e.Sequence, &e.Kind, &acct, &liquidator, &asset,
			&amount, &debtDelta, &healthFactor, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if e.OperationID, err = uuid.Parse(opID); err != nil {
			return nil, fmt.Errorf("parse operation_id %q: %w", opID, err)
		}
		if e.Account, err = uuid.Parse(acct); err != nil {
			return nil, fmt.Errorf("parse account %q: %w", acct, err)
		}
		if liquidator.Valid {
			liq, err := uuid.Parse(liquidator.String)
			if err != nil {
				return nil, fmt.Errorf("parse liquidator %q: %w", liquidator.String, err)
			}
			e.Liquidator = &liq
		}
		e.Asset = nullable(asset)
		e.Amount = nullable(amount)
		e.DebtDelta = nullable(debtDelta)
		e.HealthFactor = nullable(healthFactor)
		resp.Operations = append(resp.Operations, e)
	}
	return resp, rows.Err()
}

// LiquidationHistory returns liquidations touching an account, either as the
// liquidated party or as the liquidator.
func (s *Service) LiquidationHistory(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	afterSequence *int64,
) (*LiquidationHistoryResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	q := `
		SELECT operation_id, sequence, account, liquidator, asset,
		       seized_amount::text, debt_covered::text, health_factor::text, executed_at
		FROM projections.liquidations
		WHERE (account = $1 OR liquidator = $1)
	`
	args := []interface{}{account}
	argIdx := 2

	if afterSequence != nil {
		q += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	q += " ORDER BY sequence DESC"
	q += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &LiquidationHistoryResponse{AsOfSequence: asOf}
	for rows.Next() {
		var e LiquidationEntry
		var opID, acct, liq string
		var healthFactor sql.NullString
		if err := rows.Scan(
			&opID, &e.Sequence, &acct, &liq, &e.Asset,
			&e.SeizedAmount, &e.DebtCovered, &healthFactor, &e.ExecutedAt,
		); err != nil {
			return nil, err
		}
		if e.OperationID, err = uuid.Parse(opID); err != nil {
			return nil, fmt.Errorf("parse operation_id %q: %w", opID, err)
		}
		if e.Account, err = uuid.Parse(acct); err != nil {
			return nil, fmt.Errorf("parse account %q: %w", acct, err)
		}
		if e.Liquidator, err = uuid.Parse(liq); err != nil {
			return nil, fmt.Errorf("parse liquidator %q: %w", liq, err)
		}
		e.HealthFactor = nullable(healthFactor)
		resp.Liquidations = append(resp.Liquidations, e)
	}
	return resp, rows.Err()
}

// StoredBalances returns the persisted balances of an account: one debt row
// plus one row per collateral asset.
func (s *Service) StoredBalances(ctx context.Context, account uuid.UUID) (*StoredBalancesResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &StoredBalancesResponse{Account: account, AsOfSequence: asOf}

	rows, err := s.db.QueryContext(ctx, `
		SELECT asset, balance::text FROM engine_log.collateral_balances
		WHERE account = $1 AND balance > 0
		ORDER BY asset`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var asset, balance string
		if err := rows.Scan(&asset, &balance); err != nil {
			return nil, err
		}
		resp.Balances = append(resp.Balances, StoredBalance{Asset: &asset, Balance: balance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var debt string
	err = s.db.QueryRowContext(ctx, `
		SELECT balance::text FROM engine_log.debt_balances WHERE account = $1`, account,
	).Scan(&debt)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, err
	default:
		resp.Balances = append(resp.Balances, StoredBalance{Debt: true, Balance: debt})
	}

	return resp, nil
}

// watermark is the highest committed operation sequence.
func (s *Service) watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM engine_log.operations`,
	).Scan(&seq)
	return seq, err
}

func nullable(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
