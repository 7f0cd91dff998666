package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/prismfinance/synth-engine/internal/amm"
	"github.com/prismfinance/synth-engine/internal/fixedpoint"
	"github.com/prismfinance/synth-engine/internal/intent"
	"github.com/prismfinance/synth-engine/internal/liquidity"
	"github.com/prismfinance/synth-engine/internal/metrics"
	"github.com/prismfinance/synth-engine/internal/model"
	"github.com/prismfinance/synth-engine/internal/pair"
	"github.com/prismfinance/synth-engine/internal/routing"
	"github.com/prismfinance/synth-engine/internal/store"
)

// --- Request/Response types ---

// QuoteResponse is a quote with the metadata a client needs to display and
// later act on it.
type QuoteResponse struct {
	QuoteID   string          `json:"quote_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	RouteKind model.RouteKind `json:"route_kind"`
	Path      []string        `json:"path"`
	model.Quote
	// Stale is set when the oldest pool snapshot behind the quote is older
	// than the configured window. The quote is still served.
	Stale bool `json:"stale"`
}

// SwapRequest is the JSON body for POST /swap.
type SwapRequest struct {
	Owner       string       `json:"owner"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Amount      *uint256.Int `json:"amount"`
	SlippageBps *uint64      `json:"slippage_bps,omitempty"`
	Submit      bool         `json:"submit"`
}

// SwapResponse is the JSON body returned from POST /swap.
type SwapResponse struct {
	Quote      QuoteResponse     `json:"quote"`
	Intent     intent.SwapIntent `json:"intent"`
	Submission *intent.Result    `json:"submission,omitempty"`
}

// LiquidityResponse is returned by the liquidity planning endpoints. Plan is
// a liquidity.AddPlan or liquidity.RemovePlan.
type LiquidityResponse struct {
	Pool   pair.Key               `json:"pool"`
	Plan   any                    `json:"plan"`
	Intent intent.LiquidityIntent `json:"intent"`
}

// --- Pools ---

// ListPools handles GET /api/v1/pools
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.store.ListPools(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pools == nil {
		pools = []model.Pool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

// PutPools handles PUT /api/v1/pools
// Ingests fresh pool snapshots from the indexer and pushes them to
// WebSocket clients.
func (s *Service) PutPools(w http.ResponseWriter, r *http.Request) {
	var pools []model.Pool
	if err := json.NewDecoder(r.Body).Decode(&pools); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	for _, p := range pools {
		if err := validatePool(p); err != nil {
			writeError(w, r, err)
			return
		}
	}

	ctx := r.Context()
	for _, p := range pools {
		if err := s.store.PutPool(ctx, p); err != nil {
			writeError(w, r, err)
			return
		}
		s.announcePool(p)
	}
	if all, err := s.store.ListPools(ctx); err == nil {
		metrics.KnownPools.Set(float64(len(all)))
	}

	slog.Info("pool snapshots ingested", "count", len(pools))
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(pools)})
}

func validatePool(p model.Pool) error {
	if _, err := pair.Of(p.TokenA, p.TokenB); err != nil {
		return err
	}
	if p.FeeBps >= fixedpoint.BpsDenominator {
		return fmt.Errorf("%w: %s has fee %d", amm.ErrInvalidFee, p.Key(), p.FeeBps)
	}
	return nil
}

func (s *Service) announcePool(p model.Pool) {
	if s.wsHub == nil {
		return
	}
	ev := Event{Type: EventPoolUpdated, Pair: p.Key().String(), Pool: &p, At: s.now()}
	if spot, err := amm.SpotPrice(p, p.TokenA); err == nil {
		ev.SpotPrice = spot.String()
	}
	s.wsHub.Broadcast(ev)
}

// --- Quotes and swaps ---

// GetQuote handles GET /api/v1/quote?from=&to=&amount=
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := amountParam(r, "amount", true)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	resp, err := s.quote(r, q.Get("from"), q.Get("to"), amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Swap handles POST /api/v1/swap
// Quotes the swap and answers with a slippage-bounded swap intent.
func (s *Service) Swap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Owner == "" {
		badRequest(w, "owner is required")
		return
	}
	if req.Amount == nil {
		badRequest(w, "amount is required")
		return
	}

	quote, err := s.quote(r, req.From, req.To, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := intent.BuildSwap(req.Owner, quote.Quote, s.slippageOrDefault(req.SlippageBps), s.now().Add(s.cfg.SwapDeadline))
	if err != nil {
		writeError(w, r, err)
		return
	}
	in.ID = s.built(req.Owner, intent.KindSwap)

	sub, err := s.submit(r.Context(), req.Submit, in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("swap intent built",
		"intent_id", in.ID,
		"owner", req.Owner,
		"route", quote.RouteKind,
		"amount_in", in.AmountIn.Dec(),
		"min_out", in.MinAmountOut.Dec(),
	)
	writeJSON(w, http.StatusOK, SwapResponse{Quote: quote, Intent: in, Submission: sub})
}

func (s *Service) quote(r *http.Request, from, to string, amount *uint256.Int) (QuoteResponse, error) {
	start := time.Now()
	if err := pair.ValidateSymbol(from); err != nil {
		return QuoteResponse{}, err
	}
	if err := pair.ValidateSymbol(to); err != nil {
		return QuoteResponse{}, err
	}

	index, err := store.LoadIndex(r.Context(), s.store)
	if err != nil {
		return QuoteResponse{}, err
	}
	q, err := routing.Quote(from, to, amount, index, s.cfg.Hub)
	if err != nil {
		return QuoteResponse{}, err
	}

	kind := q.Route.Kind()
	resp := QuoteResponse{
		QuoteID:   s.newID(),
		From:      from,
		To:        to,
		RouteKind: kind,
		Path:      path(q),
		Quote:     q,
	}
	if s.cfg.QuoteStaleAfter > 0 && s.now().Sub(q.SnapshotAt) > s.cfg.QuoteStaleAfter {
		resp.Stale = true
		metrics.StaleQuotes.Inc()
	}

	metrics.QuotesTotal.WithLabelValues(string(kind)).Inc()
	metrics.QuoteLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	return resp, nil
}

// path lists the currencies a quote passes through, source first.
func path(q model.Quote) []string {
	if len(q.Hops) == 0 {
		return nil
	}
	p := []string{q.Hops[0].TokenIn}
	for _, h := range q.Hops {
		p = append(p, h.TokenOut)
	}
	return p
}

// --- Liquidity ---

// PlanAddLiquidity handles GET and POST /api/v1/pools/{pair}/liquidity/add
// ?amount_a=&amount_b=&owner=&slippage_bps=
// amount_b is only read for the first deposit into an empty pool. A GET is a
// preview: its intent carries no ID and is not announced.
func (s *Service) PlanAddLiquidity(w http.ResponseWriter, r *http.Request) {
	pool, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	amountA, err := amountParam(r, "amount_a", true)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	amountB, err := amountParam(r, "amount_b", false)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	slippage, err := s.slippageParam(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	plan, err := liquidity.PlanAdd(pool, amountA, amountB)
	if err != nil {
		writeError(w, r, err)
		return
	}
	owner := r.URL.Query().Get("owner")
	in, err := intent.BuildAddLiquidity(owner, pool.Key(), plan, slippage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if r.Method == http.MethodPost {
		in.ID = s.built(owner, in.Kind)
	}

	writeJSON(w, http.StatusOK, LiquidityResponse{Pool: pool.Key(), Plan: plan, Intent: in})
}

// PlanRemoveLiquidity handles GET and POST /api/v1/pools/{pair}/liquidity/remove?lp=&owner=
// A GET is a preview: its intent carries no ID and is not announced.
func (s *Service) PlanRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	pool, ok := s.poolFromPath(w, r)
	if !ok {
		return
	}
	lp, err := amountParam(r, "lp", true)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	slippage, err := s.slippageParam(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	plan, err := liquidity.PlanRemove(pool, lp)
	if err != nil {
		writeError(w, r, err)
		return
	}
	owner := r.URL.Query().Get("owner")
	in, err := intent.BuildRemoveLiquidity(owner, pool.Key(), plan, slippage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if r.Method == http.MethodPost {
		in.ID = s.built(owner, in.Kind)
	}

	writeJSON(w, http.StatusOK, LiquidityResponse{Pool: pool.Key(), Plan: plan, Intent: in})
}

func (s *Service) poolFromPath(w http.ResponseWriter, r *http.Request) (model.Pool, bool) {
	key, err := pair.Parse(chi.URLParam(r, "pair"))
	if err != nil {
		writeError(w, r, err)
		return model.Pool{}, false
	}
	pool, err := s.store.GetPool(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return model.Pool{}, false
	}
	return pool, true
}
