package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"SynthVault/internal/engine"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventStream        = "SYNTH_EVENTS"
	LiquidationSubject = "synth.liquidations.executed"
)

// LiquidationPublisher announces executed liquidations to downstream
// consumers. Publishing happens after the engine has committed the
// operation; a failed publish is non-fatal since consumers can rebuild
// from the operation log.
type LiquidationPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan engine.Record
	log       zerolog.Logger
}

type liquidationEventJSON struct {
	OperationID  string `json:"operation_id"`
	Sequence     int64  `json:"sequence"`
	Account      string `json:"account"`
	Liquidator   string `json:"liquidator"`
	Asset        string `json:"asset"`
	SeizedAmount string `json:"seized_amount"`
	DebtCovered  string `json:"debt_covered"`
	HealthFactor string `json:"health_factor"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func NewLiquidationPublisher(js jetstream.JetStream, inputChan <-chan engine.Record, log zerolog.Logger) *LiquidationPublisher {
	return &LiquidationPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log.With().Str("component", "liquidation_publisher").Logger(),
	}
}

// Run drains the input channel until it closes or the context is cancelled.
func (lp *LiquidationPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-lp.inputChan:
			if !ok {
				return nil
			}
			if rec.Kind != engine.OpLiquidate {
				continue
			}
			if err := lp.publish(ctx, rec); err != nil {
				lp.log.Warn().Err(err).Int64("sequence", rec.Sequence).Msg("liquidation publish failed")
			}
		}
	}
}

func (lp *LiquidationPublisher) publish(ctx context.Context, rec engine.Record) error {
	evt := liquidationEventJSON{
		OperationID:  rec.OperationID.String(),
		Sequence:     rec.Sequence,
		Account:      rec.Account.String(),
		Asset:        rec.Asset,
		SeizedAmount: rec.Amount.String(),
		TimestampUs:  rec.Timestamp.UnixMicro(),
	}
	if rec.Liquidator != nil {
		evt.Liquidator = rec.Liquidator.String()
	}
	if rec.DebtDelta != nil {
		evt.DebtCovered = new(big.Int).Abs(rec.DebtDelta).String()
	}
	if rec.HealthFactor != nil {
		evt.HealthFactor = rec.HealthFactor.String()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal liquidation event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", LiquidationSubject, rec.Asset)
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = lp.js.Publish(pubCtx, subject, data)
	return err
}
