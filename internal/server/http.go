package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"SynthVault/internal/engine"
	"SynthVault/internal/ledger"
	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"
	"SynthVault/internal/query"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server exposes the engine over HTTP/JSON. Mutations and live reads run on
// the dispatcher; history endpoints read Postgres directly and bypass it.
type Server struct {
	eng     *engine.Engine
	disp    *Dispatcher
	queries *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func New(
	eng *engine.Engine,
	disp *Dispatcher,
	queries *query.Service,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Server {
	return &Server{
		eng:     eng,
		disp:    disp,
		queries: queries,
		health:  health,
		metrics: metrics,
		log:     log.With().Str("component", "http").Logger(),
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/config", s.handleConfig)

		r.Route("/accounts/{account}", func(r chi.Router) {
			r.Get("/", s.handleAccountInfo)
			r.Get("/health-factor", s.handleHealthFactor)
			r.Get("/operations", s.handleOperationHistory)
			r.Get("/balances", s.handleStoredBalances)
			r.Get("/liquidations", s.handleLiquidationHistory)

			r.Post("/collateral/deposit", s.handleDeposit)
			r.Post("/collateral/redeem", s.handleRedeem)
			r.Post("/debt/mint", s.handleMint)
			r.Post("/debt/burn", s.handleBurn)
			r.Post("/deposit-and-mint", s.handleDepositAndMint)
			r.Post("/redeem-for-debt", s.handleRedeemForDebt)
		})

		r.Post("/liquidations", s.handleLiquidate)
	})

	return r
}

// --- request/response shapes ---

type amountRequest struct {
	Asset  string `json:"asset,omitempty"`
	Amount string `json:"amount"`
}

type compositeRequest struct {
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateral_amount"`
	DebtAmount       string `json:"debt_amount"`
}

type liquidateRequest struct {
	Liquidator  string `json:"liquidator"`
	Account     string `json:"account"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debt_to_cover"`
}

type accountInfoResponse struct {
	Account            uuid.UUID         `json:"account"`
	Debt               string            `json:"debt"`
	CollateralValueUsd string            `json:"collateral_value_usd"`
	HealthFactor       string            `json:"health_factor"`
	Collateral         map[string]string `json:"collateral"`
	AsOfSequence       int64             `json:"as_of_sequence"`
}

type healthFactorResponse struct {
	Account      uuid.UUID `json:"account"`
	HealthFactor string    `json:"health_factor"`
	Healthy      bool      `json:"healthy"`
}

type configResponse struct {
	CollateralAssets     []string `json:"collateral_assets"`
	MinHealthFactor      string   `json:"min_health_factor"`
	LiquidationThreshold int64    `json:"liquidation_threshold"`
	LiquidationBonus     int64    `json:"liquidation_bonus"`
	LiquidationPrecision int64    `json:"liquidation_precision"`
}

type acceptedResponse struct {
	Sequence int64 `json:"sequence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- mutation handlers ---

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.amount(w, req.Amount)
	if !ok {
		return
	}
	s.mutate(w, r, func(ctx context.Context) error {
		return s.eng.DepositCollateral(ctx, account, req.Asset, amount)
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.amount(w, req.Amount)
	if !ok {
		return
	}
	s.mutate(w, r, func(ctx context.Context) error {
		return s.eng.RedeemCollateral(ctx, account, req.Asset, amount)
	})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.amount(w, req.Amount)
	if !ok {
		return
	}
	s.mutate(w, r, func(ctx context.Context) error {
		return s.eng.MintDebt(ctx, account, amount)
	})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.amount(w, req.Amount)
	if !ok {
		return
	}
	s.mutate(w, r, func(ctx context.Context) error {
		return s.eng.BurnDebt(ctx, account, amount)
	})
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	var req compositeRequest
	if !s.decode(w, r, &req) {
		return
	}
	collateralAmount, ok := s.amount(w, req.CollateralAmount)
	if !ok {
		return
	}
	debtAmount, ok := s.amount(w, req.DebtAmount)
	if !ok {
		return
	}
	s.mutate(w, r, func(ctx context.Context) error {
		return s.eng.DepositCollateralAndMintDebt(ctx, account, req.Asset, collateralAmount, debtAmount)
	})
}

func (s *Server) handleRedeemForDebt(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	var req compositeRequest
	if !s.decode(w, r, &req) {
		return
	}
	collateralAmount, ok := s.amount(w, req.CollateralAmount)
	if !ok {
		return
	}
	debtAmount, ok := s.amount(w, req.DebtAmount)
	if !ok {
		return
	}
	s.mutate(w, r, func(ctx context.Context) error {
		return s.eng.RedeemCollateralForDebt(ctx, account, req.Asset, collateralAmount, debtAmount)
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	liquidator, err := uuid.Parse(req.Liquidator)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid liquidator id")
		return
	}
	account, err := uuid.Parse(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	debtToCover, ok := s.amount(w, req.DebtToCover)
	if !ok {
		return
	}
	s.mutate(w, r, func(ctx context.Context) error {
		return s.eng.Liquidate(ctx, liquidator, account, req.Asset, debtToCover)
	})
}

// mutate runs an engine mutation on the dispatcher and translates the result.
// The committed sequence is read inside the task, on the dispatcher goroutine;
// reading it after Submit returns would race with later operations.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) error) {
	ctx := r.Context()
	var seq int64
	err := s.disp.Submit(ctx, func() error {
		if err := fn(ctx); err != nil {
			return err
		}
		seq = s.eng.Sequence()
		return nil
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, acceptedResponse{Sequence: seq})
}

// --- read handlers ---

func (s *Server) handleAccountInfo(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var resp accountInfoResponse
	err := s.disp.Submit(ctx, func() error {
		debt, collUsd, err := s.eng.AccountInformation(ctx, account)
		if err != nil {
			return err
		}
		hf, err := s.eng.HealthFactor(ctx, account)
		if err != nil {
			return err
		}
		collateral := make(map[string]string)
		for _, asset := range s.eng.CollateralAssets() {
			if bal := s.eng.CollateralBalance(account, asset); bal.Sign() > 0 {
				collateral[asset] = bal.String()
			}
		}
		resp = accountInfoResponse{
			Account:            account,
			Debt:               debt.String(),
			CollateralValueUsd: collUsd.String(),
			HealthFactor:       hf.String(),
			Collateral:         collateral,
			AsOfSequence:       s.eng.Sequence(),
		}
		return nil
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var resp healthFactorResponse
	err := s.disp.Submit(ctx, func() error {
		hf, err := s.eng.HealthFactor(ctx, account)
		if err != nil {
			return err
		}
		resp = healthFactorResponse{
			Account:      account,
			HealthFactor: hf.String(),
			Healthy:      hf.Cmp(s.eng.MinHealthFactor()) >= 0,
		}
		return nil
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, configResponse{
		CollateralAssets:     s.eng.CollateralAssets(),
		MinHealthFactor:      s.eng.MinHealthFactor().String(),
		LiquidationThreshold: s.eng.LiquidationThreshold(),
		LiquidationBonus:     s.eng.LiquidationBonus(),
		LiquidationPrecision: s.eng.LiquidationPrecision(),
	})
}

// --- history handlers ---

func (s *Server) handleOperationHistory(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	limit := queryLimit(r)
	kind := optionalString(r, "kind")
	after := optionalInt64(r, "after_sequence")

	start := time.Now()
	resp, err := s.queries.OperationHistory(r.Context(), account, kind, limit, after)
	if err != nil {
		s.queryFailed(w, "operations", err)
		return
	}
	s.countQuery("operations", start)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStoredBalances(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	start := time.Now()
	resp, err := s.queries.StoredBalances(r.Context(), account)
	if err != nil {
		s.queryFailed(w, "balances", err)
		return
	}
	s.countQuery("balances", start)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLiquidationHistory(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	limit := queryLimit(r)
	after := optionalInt64(r, "after_sequence")

	start := time.Now()
	resp, err := s.queries.LiquidationHistory(r.Context(), account, limit, after)
	if err != nil {
		s.queryFailed(w, "liquidations", err)
		return
	}
	s.countQuery("liquidations", start)
	s.writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

func (s *Server) accountParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	account, err := uuid.Parse(chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid account id")
		return uuid.Nil, false
	}
	return account, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) amount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "amount must be a decimal integer string")
		return nil, false
	}
	return v, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var hfe *engine.HealthFactorError
	switch {
	case errors.As(err, &hfe):
		s.writeJSON(w, http.StatusConflict, struct {
			Error        string `json:"error"`
			HealthFactor string `json:"health_factor"`
		}{"health factor below minimum", hfe.HealthFactor.String()})

	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrUnsupportedAsset):
		s.writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, engine.ErrHealthFactorOk),
		errors.Is(err, engine.ErrHealthFactorNotImproved),
		errors.Is(err, ledger.ErrInsufficientBalance):
		s.writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, engine.ErrTransferFailed),
		errors.Is(err, engine.ErrMintFailed):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, oracle.ErrNoPrice):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.writeError(w, http.StatusRequestTimeout, "request cancelled")

	case errors.Is(err, ErrDispatcherStopped):
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")

	default:
		s.log.Error().Err(err).Msg("unhandled engine error")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) queryFailed(w http.ResponseWriter, endpoint string, err error) {
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(endpoint, "db").Inc()
	}
	s.log.Error().Err(err).Str("endpoint", endpoint).Msg("query failed")
	s.writeError(w, http.StatusInternalServerError, "query failed")
}

func (s *Server) countQuery(endpoint string, start time.Time) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func queryLimit(r *http.Request) int {
	const defaultLimit, maxLimit = 50, 500
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func optionalString(r *http.Request, key string) *string {
	if v := r.URL.Query().Get(key); v != "" {
		return &v
	}
	return nil
}

func optionalInt64(r *http.Request, key string) *int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
