package engine

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Operation kinds as persisted in the operation log.
const (
	OpDepositCollateral = "deposit_collateral"
	OpMintDebt          = "mint_debt"
	OpBurnDebt          = "burn_debt"
	OpRedeemCollateral  = "redeem_collateral"
	OpDepositAndMint    = "deposit_and_mint"
	OpRedeemForDebt     = "redeem_for_debt"
	OpLiquidate         = "liquidate"
)

// BalanceUpdate carries a post-operation balance for one ledger entry the
// operation touched. Debt entries leave Asset empty.
type BalanceUpdate struct {
	Account uuid.UUID
	Asset   string
	Debt    bool
	Balance *big.Int
}

// Record describes one committed operation. Records flow to the persistence
// worker over a blocking channel (lossless) and to the projection worker
// over a non-blocking channel (droppable, rebuildable from the log).
type Record struct {
	OperationID  uuid.UUID
	Sequence     int64
	Kind         string
	Account      uuid.UUID
	Liquidator   *uuid.UUID
	Asset        string
	Amount       *big.Int
	DebtDelta    *big.Int
	HealthFactor *big.Int
	Balances     []BalanceUpdate
	Timestamp    time.Time
}
