package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prismfinance/synth-engine/internal/amm"
	"github.com/prismfinance/synth-engine/internal/fixedpoint"
	"github.com/prismfinance/synth-engine/internal/intent"
	"github.com/prismfinance/synth-engine/internal/liquidity"
	"github.com/prismfinance/synth-engine/internal/metrics"
	"github.com/prismfinance/synth-engine/internal/pair"
	"github.com/prismfinance/synth-engine/internal/perp"
	"github.com/prismfinance/synth-engine/internal/routing"
	"github.com/prismfinance/synth-engine/internal/store"
	"github.com/prismfinance/synth-engine/internal/vault"
)

// ErrSubmitterUnavailable is returned when a request asks for submission
// and no submitter is configured.
var ErrSubmitterUnavailable = errors.New("api: no intent submitter configured")

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type classified struct {
	status int
	code   string
}

// classes maps sentinel errors to a status and a stable machine code.
// 422 means the request was understood and the operation must not be
// submitted.
var classes = []struct {
	err error
	classified
}{
	{pair.ErrInvalidSymbol, classified{http.StatusBadRequest, "invalid_symbol"}},
	{pair.ErrInvalidPair, classified{http.StatusBadRequest, "invalid_pair"}},
	{pair.ErrSameSymbol, classified{http.StatusBadRequest, "same_currency"}},
	{routing.ErrSameCurrency, classified{http.StatusBadRequest, "same_currency"}},
	{fixedpoint.ErrInvalidAmount, classified{http.StatusBadRequest, "invalid_amount"}},
	{amm.ErrZeroAmount, classified{http.StatusBadRequest, "zero_amount"}},
	{amm.ErrTokenNotInPool, classified{http.StatusBadRequest, "token_not_in_pool"}},
	{intent.ErrInvalidSlippage, classified{http.StatusBadRequest, "invalid_slippage"}},
	{perp.ErrMissingPrice, classified{http.StatusBadRequest, "missing_price"}},

	{store.ErrNotFound, classified{http.StatusNotFound, "not_found"}},
	{perp.ErrPositionNotFound, classified{http.StatusNotFound, "position_not_found"}},

	{amm.ErrPoolPaused, classified{http.StatusUnprocessableEntity, "pool_paused"}},
	{amm.ErrInsufficientRealLiquidity, classified{http.StatusUnprocessableEntity, "insufficient_liquidity"}},
	{amm.ErrEmptyReserves, classified{http.StatusUnprocessableEntity, "empty_reserves"}},
	{amm.ErrInvalidFee, classified{http.StatusUnprocessableEntity, "invalid_pool"}},
	{amm.ErrInvariantViolated, classified{http.StatusUnprocessableEntity, "invariant_violated"}},
	{routing.ErrNoRouteAvailable, classified{http.StatusUnprocessableEntity, "no_route"}},
	{liquidity.ErrInvalidLiquidityAmount, classified{http.StatusUnprocessableEntity, "invalid_liquidity_amount"}},
	{vault.ErrInsufficientCollateral, classified{http.StatusUnprocessableEntity, "insufficient_collateral"}},
	{vault.ErrInvalidVaultState, classified{http.StatusUnprocessableEntity, "invalid_vault_state"}},
	{perp.ErrInsufficientAvailableBalance, classified{http.StatusUnprocessableEntity, "insufficient_available_balance"}},
	{perp.ErrLeverageOutOfBounds, classified{http.StatusUnprocessableEntity, "leverage_out_of_bounds"}},
	{perp.ErrMarketLimitExceeded, classified{http.StatusUnprocessableEntity, "exposure_limit_exceeded"}},
	{perp.ErrAccountLimitExceeded, classified{http.StatusUnprocessableEntity, "exposure_limit_exceeded"}},
	{perp.ErrInvalidPosition, classified{http.StatusUnprocessableEntity, "invalid_position"}},
	{fixedpoint.ErrOverflow, classified{http.StatusUnprocessableEntity, "overflow"}},
	{fixedpoint.ErrUnderflow, classified{http.StatusUnprocessableEntity, "underflow"}},
	{fixedpoint.ErrDivisionByZero, classified{http.StatusUnprocessableEntity, "division_by_zero"}},

	{ErrSubmitterUnavailable, classified{http.StatusServiceUnavailable, "submitter_unavailable"}},
}

func classify(err error) classified {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.classified
		}
	}
	return classified{http.StatusInternalServerError, "internal"}
}

// writeError classifies err and writes it as JSON. Internal errors are
// logged and their text is not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	c := classify(err)
	msg := err.Error()
	switch {
	case c.status >= http.StatusInternalServerError:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	case c.status == http.StatusUnprocessableEntity:
		metrics.Rejections.WithLabelValues(c.code).Inc()
		slog.Info("request rejected", "path", r.URL.Path, "code", c.code, "err", err)
	}
	writeJSON(w, c.status, ErrorResponse{Error: msg, Code: c.code})
}

// badRequest reports a malformed request that never reached the engine.
func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "invalid_request"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
