package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// PriceUpdate is one oracle quote received over NATS.
type PriceUpdate struct {
	Asset     string
	Price     *big.Int
	Decimals  uint8
	Sequence  int64
	Timestamp time.Time
}

// priceUpdateJSON is the wire format. Field names use snake_case to match
// upstream producers. The price travels as a decimal string: feed prices
// exceed int64 range once scaled to internal precision.
type priceUpdateJSON struct {
	Asset       string `json:"asset"`
	Price       string `json:"price"`
	Decimals    uint8  `json:"decimals"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParsePriceUpdate validates and converts a raw NATS payload.
func ParsePriceUpdate(data []byte) (*PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse price update: %w", err)
	}

	if j.Asset == "" {
		return nil, fmt.Errorf("parse price update: missing asset")
	}
	price, ok := new(big.Int).SetString(j.Price, 10)
	if !ok {
		return nil, fmt.Errorf("parse price update: bad price %q", j.Price)
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("parse price update: non-positive price %s", price)
	}

	return &PriceUpdate{
		Asset:     j.Asset,
		Price:     price,
		Decimals:  j.Decimals,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}
