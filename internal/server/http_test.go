package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	fpmath "SynthVault/internal/math"
	"SynthVault/internal/engine"
	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"
	"SynthVault/internal/token"

	"github.com/google/uuid"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpFixture struct {
	router  http.Handler
	eng     *engine.Engine
	weth    *token.Token
	debtTok *token.Token
	feed    *oracle.StaticFeed
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()

	weth := token.NewToken("WETH")
	feed := oracle.NewStaticFeed(new(big.Int).Mul(big.NewInt(2000), big.NewInt(100_000_000)), 8)
	debtTok := token.NewToken("SVUSD")
	auth, err := debtTok.GrantAuthority()
	require.NoError(t, err)

	eng, err := engine.New(
		[]engine.CollateralToken{weth},
		[]oracle.PriceFeed{feed},
		auth,
		nil, nil, nil, zerolog.Nop(),
	)
	require.NoError(t, err)

	disp := NewDispatcher(16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go disp.Run(ctx)

	health := observability.NewHealthChecker()
	health.SetReady(true)

	srv := New(eng, disp, nil, health, nil, zerolog.Nop())
	return &httpFixture{
		router:  srv.Router(),
		eng:     eng,
		weth:    weth,
		debtTok: debtTok,
		feed:    feed,
	}
}

func (f *httpFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func eth(n int64) string {
	return new(big.Int).Mul(big.NewInt(n), fpmath.Precision).String()
}

func TestDepositEndpoint(t *testing.T) {
	f := newHTTPFixture(t)
	acct := uuid.New()
	f.weth.Credit(acct, new(big.Int).Mul(big.NewInt(10), fpmath.Precision))

	rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.String()+"/collateral/deposit",
		`{"asset":"WETH","amount":"`+eth(5)+`"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp acceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Sequence)
	assert.Equal(t, 0, f.eng.CollateralBalance(acct, "WETH").Cmp(new(big.Int).Mul(big.NewInt(5), fpmath.Precision)))
}

func TestConcurrentMutationsReturnOwnSequence(t *testing.T) {
	f := newHTTPFixture(t)

	const workers = 8
	const depositsPerWorker = 20

	accounts := make([]uuid.UUID, workers)
	for i := range accounts {
		accounts[i] = uuid.New()
		f.weth.Credit(accounts[i], new(big.Int).Mul(big.NewInt(depositsPerWorker), fpmath.Precision))
	}

	sequences := make(chan int64, workers*depositsPerWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(acct uuid.UUID) {
			defer wg.Done()
			for j := 0; j < depositsPerWorker; j++ {
				rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.String()+"/collateral/deposit",
					`{"asset":"WETH","amount":"`+eth(1)+`"}`)
				if rec.Code != http.StatusOK {
					t.Errorf("deposit failed: %d %s", rec.Code, rec.Body.String())
					return
				}
				var resp acceptedResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Errorf("decode response: %v", err)
					return
				}
				sequences <- resp.Sequence
			}
		}(accounts[i])
	}
	wg.Wait()
	close(sequences)

	// Each response must carry the sequence of its own operation, so the
	// collected set is exactly 1..N with no duplicates.
	seen := make(map[int64]bool)
	for seq := range sequences {
		require.False(t, seen[seq], "sequence %d returned twice", seq)
		seen[seq] = true
	}
	require.Len(t, seen, workers*depositsPerWorker)
	for i := int64(1); i <= workers*depositsPerWorker; i++ {
		assert.True(t, seen[i], "sequence %d missing", i)
	}
}

func TestDepositEndpointValidation(t *testing.T) {
	f := newHTTPFixture(t)
	acct := uuid.New()

	cases := []struct {
		name string
		path string
		body string
		code int
	}{
		{"bad account id", "/v1/accounts/not-a-uuid/collateral/deposit", `{"asset":"WETH","amount":"1"}`, http.StatusBadRequest},
		{"bad body", "/v1/accounts/" + acct.String() + "/collateral/deposit", `{`, http.StatusBadRequest},
		{"bad amount", "/v1/accounts/" + acct.String() + "/collateral/deposit", `{"asset":"WETH","amount":"1.5"}`, http.StatusBadRequest},
		{"zero amount", "/v1/accounts/" + acct.String() + "/collateral/deposit", `{"asset":"WETH","amount":"0"}`, http.StatusBadRequest},
		{"unknown asset", "/v1/accounts/" + acct.String() + "/collateral/deposit", `{"asset":"DOGE","amount":"5"}`, http.StatusBadRequest},
		{"unfunded wallet", "/v1/accounts/" + acct.String() + "/collateral/deposit", `{"asset":"WETH","amount":"5"}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
}

func TestMintBeyondLimitReturnsConflict(t *testing.T) {
	f := newHTTPFixture(t)
	acct := uuid.New()
	f.weth.Credit(acct, new(big.Int).Mul(big.NewInt(10), fpmath.Precision))

	rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.String()+"/collateral/deposit",
		`{"asset":"WETH","amount":"`+eth(10)+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// 10 WETH at 2000 USD caps debt at 10000; ask for more.
	rec = f.do(t, http.MethodPost, "/v1/accounts/"+acct.String()+"/debt/mint",
		`{"amount":"`+eth(10001)+`"}`)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var resp struct {
		Error        string `json:"error"`
		HealthFactor string `json:"health_factor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.HealthFactor)
}

func TestAccountInfoEndpoint(t *testing.T) {
	f := newHTTPFixture(t)
	acct := uuid.New()
	f.weth.Credit(acct, new(big.Int).Mul(big.NewInt(10), fpmath.Precision))

	rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.String()+"/deposit-and-mint",
		`{"asset":"WETH","collateral_amount":"`+eth(10)+`","debt_amount":"`+eth(4000)+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/accounts/"+acct.String()+"/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info accountInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, eth(4000), info.Debt)
	assert.Equal(t, eth(20000), info.CollateralValueUsd)
	assert.Equal(t, eth(10), info.Collateral["WETH"])
	assert.Equal(t, int64(1), info.AsOfSequence)
}

func TestHealthFactorEndpoint(t *testing.T) {
	f := newHTTPFixture(t)
	acct := uuid.New()
	f.weth.Credit(acct, new(big.Int).Mul(big.NewInt(10), fpmath.Precision))

	rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.String()+"/deposit-and-mint",
		`{"asset":"WETH","collateral_amount":"`+eth(10)+`","debt_amount":"`+eth(10000)+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/accounts/"+acct.String()+"/health-factor", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthFactorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, fpmath.MinHealthFactor.String(), resp.HealthFactor)
	assert.True(t, resp.Healthy)

	// A price crash flips the flag.
	f.feed.SetPrice(new(big.Int).Mul(big.NewInt(1000), big.NewInt(100_000_000)))
	rec = f.do(t, http.MethodGet, "/v1/accounts/"+acct.String()+"/health-factor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Healthy)
}

func TestLiquidateEndpointValidation(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/liquidations",
		`{"liquidator":"nope","account":"`+uuid.NewString()+`","asset":"WETH","debt_to_cover":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Liquidating a healthy (empty) account is a conflict, not a validation error.
	rec = f.do(t, http.MethodPost, "/v1/liquidations",
		`{"liquidator":"`+uuid.NewString()+`","account":"`+uuid.NewString()+`","asset":"WETH","debt_to_cover":"`+eth(1)+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestConfigEndpoint(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg configResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, []string{"WETH"}, cfg.CollateralAssets)
	assert.Equal(t, fpmath.MinHealthFactor.String(), cfg.MinHealthFactor)
	assert.Equal(t, int64(50), cfg.LiquidationThreshold)
	assert.Equal(t, int64(10), cfg.LiquidationBonus)
}

func TestQueryMetricsRecorded(t *testing.T) {
	m := observability.NewMetrics()
	s := &Server{metrics: m, log: zerolog.Nop()}

	s.countQuery("operations", time.Now().Add(-time.Millisecond))

	assert.Equal(t, 1, promtestutil.CollectAndCount(m.QueryRequests))
	assert.Equal(t, 1, promtestutil.CollectAndCount(m.QueryDuration))
}

func TestHealthEndpoints(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
