package projection

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"SynthVault/internal/engine"
	"SynthVault/internal/observability"

	"github.com/rs/zerolog"
)

// Worker maintains the liquidation history read model. The engine feeds it
// over a non-blocking channel: a dropped record only delays the projection,
// which can always be rebuilt from the operation log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan engine.Record
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewWorker(db *sql.DB, inputChan <-chan engine.Record, metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log.With().Str("component", "projection_worker").Logger(),
	}
}

// Run drains the projection channel until it closes or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-w.inputChan:
			if !ok {
				return nil
			}
			if w.metrics != nil {
				w.metrics.SetChannelMetrics("projection", len(w.inputChan), cap(w.inputChan))
			}
			if rec.Kind != engine.OpLiquidate {
				continue
			}

			start := time.Now()
			if err := w.insertLiquidation(ctx, rec); err != nil {
				// Eventually consistent: log and move on, the row lands on
				// the next rebuild.
				w.log.Warn().Err(err).Int64("sequence", rec.Sequence).Msg("liquidation projection failed")
				continue
			}
			if w.metrics != nil {
				w.metrics.ProjectionUpdateDur.WithLabelValues("liquidations").Observe(time.Since(start).Seconds())
			}
		}
	}
}

func (w *Worker) insertLiquidation(ctx context.Context, rec engine.Record) error {
	if rec.Liquidator == nil {
		return fmt.Errorf("liquidation record seq=%d missing liquidator", rec.Sequence)
	}

	var hf interface{}
	if rec.HealthFactor != nil {
		hf = rec.HealthFactor.String()
	}
	debtCovered := "0"
	if rec.DebtDelta != nil {
		debtCovered = new(big.Int).Abs(rec.DebtDelta).String()
	}

	_, err := w.db.ExecContext(ctx, `
		INSERT INTO projections.liquidations
			(sequence, operation_id, account, liquidator, asset, seized_amount, debt_covered, health_factor, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sequence) DO NOTHING`,
		rec.Sequence, rec.OperationID.String(), rec.Account.String(), rec.Liquidator.String(),
		rec.Asset, rec.Amount.String(), debtCovered, hf, rec.Timestamp,
	)
	return err
}

// Rebuild repopulates the liquidation history from the operation log.
func Rebuild(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `TRUNCATE projections.liquidations`); err != nil {
		return fmt.Errorf("truncate liquidations: %w", err)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.liquidations
			(sequence, operation_id, account, liquidator, asset, seized_amount, debt_covered, health_factor, executed_at)
		SELECT sequence, operation_id, account, liquidator, asset, amount, ABS(debt_delta), health_factor, created_at
		FROM engine_log.operations
		WHERE kind = $1`,
		engine.OpLiquidate,
	)
	if err != nil {
		return fmt.Errorf("rebuild liquidations: %w", err)
	}
	return nil
}
