package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"SynthVault/internal/ledger"
	fpmath "SynthVault/internal/math"
	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CollateralToken is the transfer capability of one registered collateral
// asset. Success is signalled with a boolean; the engine translates failure
// into ErrTransferFailed.
type CollateralToken interface {
	Symbol() string
	TransferIn(from uuid.UUID, amount *big.Int) bool
	TransferOut(to uuid.UUID, amount *big.Int) bool
}

// DebtToken is the mint/burn/pull capability over the issued debt asset.
// The engine must be the exclusive holder of this capability.
type DebtToken interface {
	Mint(to uuid.UUID, amount *big.Int) bool
	Burn(amount *big.Int) bool
	TransferIn(from uuid.UUID, amount *big.Int) bool
}

// Engine is the issuance engine: it owns both ledgers, consults the price
// feeds, and is the only component that moves collateral or mints and burns
// debt units.
//
// Concurrency model: the engine is a single serialization point. The serving
// layer funnels every call through one dispatcher goroutine, so operations
// never interleave. On top of that, each mutating entry point carries a
// non-reentrant guard: an external collaborator that calls back into the
// engine from inside an in-flight transfer/mint/burn is rejected with
// ErrReentrantCall rather than allowed to observe a half-applied operation.
type Engine struct {
	op sync.Mutex // non-reentrant guard, TryLock only

	assets  []string // registration order
	feeds   map[string]oracle.PriceFeed
	tokens  map[string]CollateralToken
	debtTok DebtToken

	collateral *ledger.CollateralLedger
	debt       *ledger.DebtLedger

	sequence int64

	persistChan    chan<- Record
	projectionChan chan<- Record

	metrics *observability.Metrics
	log     zerolog.Logger
}

// New constructs an engine over parallel collateral-token and price-feed
// lists. Index i of feeds prices index i of collateral. Construction fails
// with ErrConfigurationMismatch if the lists differ in length, regardless of
// their contents.
//
// persistChan, projectionChan and metrics may be nil (tests, tooling).
func New(
	collateral []CollateralToken,
	feeds []oracle.PriceFeed,
	debtToken DebtToken,
	persistChan, projectionChan chan<- Record,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (*Engine, error) {
	if len(collateral) != len(feeds) {
		return nil, fmt.Errorf("%w: %d tokens, %d feeds",
			ErrConfigurationMismatch, len(collateral), len(feeds))
	}

	e := &Engine{
		assets:         make([]string, 0, len(collateral)),
		feeds:          make(map[string]oracle.PriceFeed, len(feeds)),
		tokens:         make(map[string]CollateralToken, len(collateral)),
		debtTok:        debtToken,
		collateral:     ledger.NewCollateralLedger(),
		debt:           ledger.NewDebtLedger(),
		persistChan:    persistChan,
		projectionChan: projectionChan,
		metrics:        metrics,
		log:            log,
	}

	for i, tok := range collateral {
		symbol := tok.Symbol()
		if _, dup := e.tokens[symbol]; dup {
			return nil, fmt.Errorf("collateral asset %s registered twice", symbol)
		}
		e.assets = append(e.assets, symbol)
		e.tokens[symbol] = tok
		e.feeds[symbol] = feeds[i]
	}

	return e, nil
}

// === Price snapshot ===

// pricedAsset is one asset's quote normalized for internal-precision math.
type pricedAsset struct {
	price     *big.Int
	feedScale *big.Int
}

// priceView caches one quote per asset for the duration of a single
// operation, so an operation never re-reads a price mid-computation and
// values the same asset inconsistently.
type priceView struct {
	engine *Engine
	quotes map[string]pricedAsset
}

func (e *Engine) newPriceView() *priceView {
	return &priceView{engine: e, quotes: make(map[string]pricedAsset)}
}

func (v *priceView) quote(ctx context.Context, asset string) (pricedAsset, error) {
	if pa, ok := v.quotes[asset]; ok {
		return pa, nil
	}

	feed, ok := v.engine.feeds[asset]
	if !ok {
		return pricedAsset{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	q, err := feed.LatestPrice(ctx)
	if err != nil {
		return pricedAsset{}, fmt.Errorf("price feed %s: %w", asset, err)
	}

	pa := pricedAsset{price: q.Price, feedScale: fpmath.FeedScale(q.Decimals)}
	v.quotes[asset] = pa
	return pa, nil
}

// === Read-only accessors ===

// AccountInformation returns the account's outstanding debt and total
// collateral USD value at current prices.
func (e *Engine) AccountInformation(ctx context.Context, account uuid.UUID) (debt, collateralValueUsd *big.Int, err error) {
	v := e.newPriceView()
	value, err := e.collateralValueUsd(ctx, v, account)
	if err != nil {
		return nil, nil, err
	}
	return e.debt.Balance(account), value, nil
}

// AccountCollateralValue returns the account's total collateral USD value.
func (e *Engine) AccountCollateralValue(ctx context.Context, account uuid.UUID) (*big.Int, error) {
	return e.collateralValueUsd(ctx, e.newPriceView(), account)
}

// CollateralBalance returns the account's deposited amount of one asset.
func (e *Engine) CollateralBalance(account uuid.UUID, asset string) *big.Int {
	return e.collateral.Balance(account, asset)
}

// HealthFactor returns the account's current health factor.
func (e *Engine) HealthFactor(ctx context.Context, account uuid.UUID) (*big.Int, error) {
	return e.healthFactor(ctx, e.newPriceView(), account)
}

// UsdValue converts an asset amount to USD at the current feed price.
func (e *Engine) UsdValue(ctx context.Context, asset string, amount *big.Int) (*big.Int, error) {
	pa, err := e.newPriceView().quote(ctx, asset)
	if err != nil {
		return nil, err
	}
	return fpmath.UsdValue(pa.price, pa.feedScale, amount), nil
}

// TokenAmountFromUsd converts a USD amount to asset units at the current
// feed price.
func (e *Engine) TokenAmountFromUsd(ctx context.Context, asset string, usd *big.Int) (*big.Int, error) {
	pa, err := e.newPriceView().quote(ctx, asset)
	if err != nil {
		return nil, err
	}
	return fpmath.TokenAmountFromUsd(pa.price, pa.feedScale, usd), nil
}

// CollateralAssets returns the registered asset symbols in registration order.
func (e *Engine) CollateralAssets() []string {
	out := make([]string, len(e.assets))
	copy(out, e.assets)
	return out
}

// MinHealthFactor returns the healthy boundary (1e18).
func (e *Engine) MinHealthFactor() *big.Int {
	return new(big.Int).Set(fpmath.MinHealthFactor)
}

// LiquidationThreshold returns the threshold numerator (50 of 100).
func (e *Engine) LiquidationThreshold() int64 { return fpmath.LiquidationThreshold }

// LiquidationBonus returns the bonus numerator (10 of 100).
func (e *Engine) LiquidationBonus() int64 { return fpmath.LiquidationBonus }

// LiquidationPrecision returns the shared ratio denominator (100).
func (e *Engine) LiquidationPrecision() int64 { return fpmath.LiquidationPrecision }

// Sequence returns the sequence of the last committed operation.
func (e *Engine) Sequence() int64 { return e.sequence }

func (e *Engine) collateralValueUsd(ctx context.Context, v *priceView, account uuid.UUID) (*big.Int, error) {
	total := new(big.Int)
	for _, asset := range e.assets {
		bal := e.collateral.Balance(account, asset)
		if bal.Sign() == 0 {
			continue
		}
		pa, err := v.quote(ctx, asset)
		if err != nil {
			return nil, err
		}
		total.Add(total, fpmath.UsdValue(pa.price, pa.feedScale, bal))
	}
	return total, nil
}

func (e *Engine) healthFactor(ctx context.Context, v *priceView, account uuid.UUID) (*big.Int, error) {
	value, err := e.collateralValueUsd(ctx, v, account)
	if err != nil {
		return nil, err
	}
	return fpmath.HealthFactor(e.debt.Balance(account), value), nil
}

// === Restore ===

// RestoreCollateral overwrites one collateral balance from durable storage.
// Only for startup recovery, before the engine starts serving.
func (e *Engine) RestoreCollateral(account uuid.UUID, asset string, balance *big.Int) {
	e.collateral.Restore(account, asset, balance)
}

// RestoreDebt overwrites one debt balance from durable storage.
func (e *Engine) RestoreDebt(account uuid.UUID, balance *big.Int) {
	e.debt.Restore(account, balance)
}

// SetSequence sets the next operation sequence base after restore.
func (e *Engine) SetSequence(seq int64) {
	e.sequence = seq
}

// === Operation plumbing ===

// run wraps one mutating operation: acquire the non-reentrant guard, execute,
// then stamp and emit the record on success. TryLock (never Lock) so a
// reentrant call fails fast instead of deadlocking the dispatcher.
func (e *Engine) run(op string, fn func() (*Record, error)) error {
	if !e.op.TryLock() {
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(op, "reentrant").Inc()
		}
		return ErrReentrantCall
	}
	defer e.op.Unlock()

	start := time.Now()

	rec, err := fn()
	if err != nil {
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
		}
		e.log.Debug().Str("op", op).Err(err).Msg("operation rejected")
		return err
	}

	e.sequence++
	rec.OperationID = uuid.New()
	rec.Sequence = e.sequence
	rec.Kind = op
	rec.Timestamp = time.Now().UTC()

	e.emit(rec)

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
		if rec.HealthFactor != nil {
			hf, _ := new(big.Float).SetInt(rec.HealthFactor).Float64()
			e.metrics.HealthFactorFloor.WithLabelValues(op).Set(hf)
		}
	}

	e.log.Info().
		Str("op", op).
		Int64("sequence", rec.Sequence).
		Str("account", rec.Account.String()).
		Msg("operation committed")

	return nil
}

// emit sends the record to persistence (blocking, lossless) and projections
// (non-blocking, drop on full; projections rebuild from the operation log).
func (e *Engine) emit(rec *Record) {
	if e.persistChan != nil {
		e.persistChan <- *rec
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- *rec:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("engine").Inc()
			}
		}
	}
}

// mustDecrease rolls back a ledger increase. The inverse of an increase the
// engine just applied cannot underflow; if it does, internal state is
// corrupt and continuing would silently violate the invariant.
func mustDecrease(err error) {
	if err != nil {
		panic(fmt.Sprintf("FATAL: ledger rollback failed: %v", err))
	}
}
