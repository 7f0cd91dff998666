package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/prismfinance/synth-engine/internal/intent"
	"github.com/prismfinance/synth-engine/internal/model"
	"github.com/prismfinance/synth-engine/internal/perp"
	"github.com/prismfinance/synth-engine/internal/store"
)

// PerpAccountResponse is returned from GET /perps/{owner}.
type PerpAccountResponse struct {
	Owner     string                   `json:"owner"`
	Balance   model.PerpAccountBalance `json:"balance"`
	Locked    decimal.Decimal          `json:"locked"`
	Positions []perp.Snapshot          `json:"positions"`
	Equity    decimal.Decimal          `json:"equity"`
}

// OpenBody is the JSON body for POST /perps/{owner}/open.
type OpenBody struct {
	perp.OpenRequest
	SlippageBps *uint64 `json:"slippage_bps,omitempty"`
	Submit      bool    `json:"submit"`
}

// OpenResponse is the validated plan for a new position.
type OpenResponse struct {
	Position model.PerpPosition `json:"position"`
	Snapshot perp.Snapshot      `json:"snapshot"`
	Account  model.PerpAccount  `json:"account"`
	Intent   intent.PerpIntent  `json:"intent"`
	// Submission is set only when the request asked for submission.
	Submission *intent.Result `json:"submission,omitempty"`
}

// CloseBody is the JSON body for POST /perps/{owner}/close.
type CloseBody struct {
	PositionID  string          `json:"position_id"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	SlippageBps *uint64         `json:"slippage_bps,omitempty"`
	Submit      bool            `json:"submit"`
}

// CloseResponse previews the settlement of one position.
type CloseResponse struct {
	Settlement perp.Settlement   `json:"settlement"`
	Account    model.PerpAccount `json:"account"`
	Intent     intent.PerpIntent `json:"intent"`
	Submission *intent.Result    `json:"submission,omitempty"`
}

// GetPerpAccount handles GET /api/v1/perps/{owner}?prices=sXAU:2310.5,sEUR:1.08
// Returns PnL, margin ratio and liquidation price per position and the
// account equity.
func (s *Service) GetPerpAccount(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	prices, err := parsePrices(r.URL.Query().Get("prices"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	acct, err := s.store.GetPerpAccount(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}

	snaps := make([]perp.Snapshot, 0, len(acct.Positions))
	for _, p := range acct.Positions {
		price, ok := prices[p.Market]
		if !ok {
			writeError(w, r, perpMissingPrice(p.Market))
			return
		}
		snap, err := s.cfg.Perp.Evaluate(p, price)
		if err != nil {
			writeError(w, r, err)
			return
		}
		snaps = append(snaps, snap)
	}
	equity, err := perp.AccountEquity(acct, prices)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PerpAccountResponse{
		Owner:     owner,
		Balance:   acct.Balance,
		Locked:    acct.Balance.Locked(),
		Positions: snaps,
		Equity:    equity,
	})
}

// PutPerpAccount handles PUT /api/v1/perps/{owner}
// Ingests the indexed perp account of one owner, replacing its balance and
// position set, and pushes it to WebSocket clients.
func (s *Service) PutPerpAccount(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	var account model.PerpAccount
	if err := json.NewDecoder(r.Body).Decode(&account); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if account.Owner != "" && account.Owner != owner {
		badRequest(w, "owner does not match path")
		return
	}
	account.Owner = owner
	if account.Positions == nil {
		account.Positions = []model.PerpPosition{}
	}
	if err := perp.ValidateAccount(account); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.store.PutPerpAccount(r.Context(), account); err != nil {
		writeError(w, r, err)
		return
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(Event{Type: EventPerpAccountUpdated, Owner: owner, PerpAccount: &account, At: s.now()})
	}

	slog.Info("perp account snapshot ingested", "owner", owner, "positions", len(account.Positions))
	writeJSON(w, http.StatusOK, account)
}

// OpenPosition handles POST /api/v1/perps/{owner}/open
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	var body OpenBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if body.Market == "" {
		badRequest(w, "market is required")
		return
	}
	ctx := r.Context()

	acct, err := s.perpAccountOrEmpty(ctx, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pos, next, err := s.cfg.Perp.PlanOpen(acct, s.newID(), body.OpenRequest, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.cfg.Perp.Evaluate(pos, pos.EntryPrice)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in, err := intent.BuildOpen(owner, pos, s.slippageOrDefault(body.SlippageBps))
	if err != nil {
		writeError(w, r, err)
		return
	}
	in.ID = s.built(owner, in.Kind)

	sub, err := s.submit(ctx, body.Submit, in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("perp open planned",
		"intent_id", in.ID,
		"owner", owner,
		"market", pos.Market,
		"long", pos.IsLong,
		"size", pos.SizeBase.String(),
		"leverage", pos.Leverage,
		"liquidation_price", snap.LiquidationPrice.String(),
	)
	writeJSON(w, http.StatusOK, OpenResponse{Position: pos, Snapshot: snap, Account: next, Intent: in, Submission: sub})
}

// ClosePosition handles POST /api/v1/perps/{owner}/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	var body CloseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if !body.ExitPrice.IsPositive() {
		badRequest(w, "exit_price must be positive")
		return
	}
	ctx := r.Context()

	acct, err := s.store.GetPerpAccount(ctx, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	settlement, next, err := perp.Close(acct, body.PositionID, body.ExitPrice, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := intent.BuildClose(owner, settlement, s.slippageOrDefault(body.SlippageBps))
	if err != nil {
		writeError(w, r, err)
		return
	}
	in.ID = s.built(owner, in.Kind)

	sub, err := s.submit(ctx, body.Submit, in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("perp close planned",
		"intent_id", in.ID,
		"owner", owner,
		"position", body.PositionID,
		"pnl", settlement.RealizedPnL.String(),
		"payout", settlement.PayoutBase.String(),
	)
	writeJSON(w, http.StatusOK, CloseResponse{Settlement: settlement, Account: next, Intent: in, Submission: sub})
}

// perpAccountOrEmpty returns the stored account, or an empty one with no
// balance for an owner who has never deposited.
func (s *Service) perpAccountOrEmpty(ctx context.Context, owner string) (model.PerpAccount, error) {
	acct, err := s.store.GetPerpAccount(ctx, owner)
	if errors.Is(err, store.ErrNotFound) {
		return model.PerpAccount{Owner: owner}, nil
	}
	return acct, err
}

func perpMissingPrice(market string) error {
	return fmt.Errorf("%w: %s", perp.ErrMissingPrice, market)
}
