package query

import (
	"time"

	"github.com/google/uuid"
)

// Responses carry AsOfSequence so callers can reason about freshness: the
// value is the highest operation sequence the answer reflects.

// OperationEntry is one row of an account's operation history. Amounts are
// decimal strings at 18-decimal fixed-point precision.
type OperationEntry struct {
	OperationID  uuid.UUID  `json:"operation_id"`
	Sequence     int64      `json:"sequence"`
	Kind         string     `json:"kind"`
	Account      uuid.UUID  `json:"account"`
	Liquidator   *uuid.UUID `json:"liquidator,omitempty"`
	Asset        *string    `json:"asset,omitempty"`
	Amount       *string    `json:"amount,omitempty"`
	DebtDelta    *string    `json:"debt_delta,omitempty"`
	HealthFactor *string    `json:"health_factor,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

type OperationHistoryResponse struct {
	Account      uuid.UUID        `json:"account"`
	Operations   []OperationEntry `json:"operations"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

// LiquidationEntry is one executed liquidation from the read model.
type LiquidationEntry struct {
	OperationID  uuid.UUID `json:"operation_id"`
	Sequence     int64     `json:"sequence"`
	Account      uuid.UUID `json:"account"`
	Liquidator   uuid.UUID `json:"liquidator"`
	Asset        string    `json:"asset"`
	SeizedAmount string    `json:"seized_amount"`
	DebtCovered  string    `json:"debt_covered"`
	HealthFactor *string   `json:"health_factor,omitempty"`
	ExecutedAt   time.Time `json:"executed_at"`
}

type LiquidationHistoryResponse struct {
	Liquidations []LiquidationEntry `json:"liquidations"`
	AsOfSequence int64              `json:"as_of_sequence"`
}

// StoredBalance is one persisted balance row. Debt rows carry no asset.
type StoredBalance struct {
	Asset   *string `json:"asset,omitempty"`
	Debt    bool    `json:"debt"`
	Balance string  `json:"balance"`
}

type StoredBalancesResponse struct {
	Account      uuid.UUID       `json:"account"`
	Balances     []StoredBalance `json:"balances"`
	AsOfSequence int64           `json:"as_of_sequence"`
}
