package ingestion

import (
	"math/big"
	"testing"
)

func TestParsePriceUpdate(t *testing.T) {
	data := []byte(`{"asset":"WETH","price":"200000000000","decimals":8,"sequence":42,"timestamp_us":1700000000000000}`)

	upd, err := ParsePriceUpdate(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if upd.Asset != "WETH" {
		t.Errorf("asset: got %s", upd.Asset)
	}
	if upd.Price.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Errorf("price: got %s", upd.Price)
	}
	if upd.Decimals != 8 {
		t.Errorf("decimals: got %d", upd.Decimals)
	}
	if upd.Sequence != 42 {
		t.Errorf("sequence: got %d", upd.Sequence)
	}
	if upd.Timestamp.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp: got %d", upd.Timestamp.UnixMicro())
	}
}

func TestParsePriceUpdateLargePrice(t *testing.T) {
	// Prices beyond int64 must survive the decimal-string encoding.
	data := []byte(`{"asset":"WBTC","price":"123456789012345678901234567890","decimals":8,"sequence":1}`)

	upd, err := ParsePriceUpdate(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	if upd.Price.Cmp(want) != 0 {
		t.Errorf("price: got %s", upd.Price)
	}
}

func TestParsePriceUpdateRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"missing asset": `{"price":"100","decimals":8,"sequence":1}`,
		"bad price":     `{"asset":"WETH","price":"12.5","decimals":8,"sequence":1}`,
		"empty price":   `{"asset":"WETH","price":"","decimals":8,"sequence":1}`,
		"zero price":    `{"asset":"WETH","price":"0","decimals":8,"sequence":1}`,
		"negative":      `{"asset":"WETH","price":"-100","decimals":8,"sequence":1}`,
	}

	for name, payload := range cases {
		if _, err := ParsePriceUpdate([]byte(payload)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}
