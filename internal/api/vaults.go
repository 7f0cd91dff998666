package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/prismfinance/synth-engine/internal/fixedpoint"
	"github.com/prismfinance/synth-engine/internal/intent"
	"github.com/prismfinance/synth-engine/internal/model"
	"github.com/prismfinance/synth-engine/internal/store"
	"github.com/prismfinance/synth-engine/internal/vault"
)

// VaultResponse is returned from GET /vaults/{owner}.
type VaultResponse struct {
	Position        model.VaultPosition `json:"position"`
	Assessment      vault.Assessment    `json:"assessment"`
	MaxWithdrawable *uint256.Int        `json:"max_withdrawable"`
}

// MintBody is the JSON body for POST /vaults/{owner}/mint.
type MintBody struct {
	vault.MintRequest
	Submit bool `json:"submit"`
}

// BurnBody is the JSON body for POST /vaults/{owner}/burn.
type BurnBody struct {
	vault.BurnRequest
	Submit bool `json:"submit"`
}

// VaultChangeResponse is the validated post-state of a vault mutation.
type VaultChangeResponse struct {
	Position   model.VaultPosition `json:"position"`
	Assessment vault.Assessment    `json:"assessment"`
	Intent     intent.VaultIntent  `json:"intent"`
	Submission *intent.Result      `json:"submission,omitempty"`
}

// GetVault handles GET /api/v1/vaults/{owner}?collateral_price=
func (s *Service) GetVault(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	price, err := priceParam(r, "collateral_price")
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	pos, err := s.store.GetVault(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	assessment, err := vault.Assess(pos, price, s.cfg.Vault)
	if err != nil {
		writeError(w, r, err)
		return
	}
	withdrawable, err := vault.MaxWithdrawable(pos, s.cfg.Vault.MinCollateralRatioPct)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VaultResponse{Position: pos, Assessment: assessment, MaxWithdrawable: withdrawable})
}

// PutVault handles PUT /api/v1/vaults/{owner}
// Ingests the indexed vault of one owner and pushes it to WebSocket clients.
func (s *Service) PutVault(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	var pos model.VaultPosition
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if pos.Owner != "" && pos.Owner != owner {
		badRequest(w, "owner does not match path")
		return
	}
	pos.Owner = owner
	pos.CollateralAmount = fixedpoint.OrZero(pos.CollateralAmount)
	pos.DebtAmount = fixedpoint.OrZero(pos.DebtAmount)
	if pos.MintedBalances == nil {
		pos.MintedBalances = map[string]*uint256.Int{}
	}
	if err := vault.ValidatePosition(pos); err != nil {
		writeError(w, r, err)
		return
	}
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = s.now()
	}

	if err := s.store.PutVault(r.Context(), pos); err != nil {
		writeError(w, r, err)
		return
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(Event{Type: EventVaultUpdated, Owner: owner, Vault: &pos, At: s.now()})
	}

	slog.Info("vault snapshot ingested", "owner", owner)
	writeJSON(w, http.StatusOK, pos)
}

// MaxMint handles GET /api/v1/vaults/{owner}/max-mint?deposit=&collateral_price=&token_price=
func (s *Service) MaxMint(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	deposit, err := amountParam(r, "deposit", false)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	collateralPrice, err := priceParam(r, "collateral_price")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	tokenPrice, err := priceParam(r, "token_price")
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	pos, err := s.vaultOrEmpty(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	headroom, err := vault.MaxAdditionalMint(pos, deposit, collateralPrice, tokenPrice, s.cfg.Vault.MinCollateralRatioPct)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*uint256.Int{"max_mint": headroom})
}

// Mint handles POST /api/v1/vaults/{owner}/mint
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	var body MintBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	ctx := r.Context()

	pos, err := s.vaultOrEmpty(ctx, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	next, err := vault.DepositAndMint(pos, body.MintRequest, s.cfg.Vault.MinCollateralRatioPct)
	if err != nil {
		writeError(w, r, err)
		return
	}
	next.UpdatedAt = s.now()

	in := intent.BuildMint(owner, body.MintRequest, next)
	s.finishVault(w, r, owner, next, body.Prices.Collateral, in, body.Submit)
}

// Burn handles POST /api/v1/vaults/{owner}/burn
func (s *Service) Burn(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	var body BurnBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	ctx := r.Context()

	pos, err := s.store.GetVault(ctx, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	next, err := vault.BurnAndWithdraw(pos, body.BurnRequest, s.cfg.Vault.MinCollateralRatioPct)
	if err != nil {
		writeError(w, r, err)
		return
	}
	next.UpdatedAt = s.now()

	in := intent.BuildBurn(owner, body.BurnRequest, next)
	s.finishVault(w, r, owner, next, body.Prices.Collateral, in, body.Submit)
}

func (s *Service) finishVault(w http.ResponseWriter, r *http.Request, owner string, next model.VaultPosition, collateralPrice *uint256.Int, in intent.VaultIntent, submit bool) {
	assessment, err := vault.Assess(next, collateralPrice, s.cfg.Vault)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in.ID = s.built(owner, in.Kind)

	sub, err := s.submit(r.Context(), submit, in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("vault intent built",
		"intent_id", in.ID,
		"kind", in.Kind,
		"owner", owner,
		"collateral", next.CollateralAmount.Dec(),
		"debt", next.DebtAmount.Dec(),
		"ratio", assessment.Ratio.String(),
	)
	writeJSON(w, http.StatusOK, VaultChangeResponse{Position: next, Assessment: assessment, Intent: in, Submission: sub})
}

// vaultOrEmpty returns the stored vault, or an empty one for an owner who
// has never deposited.
func (s *Service) vaultOrEmpty(ctx context.Context, owner string) (model.VaultPosition, error) {
	pos, err := s.store.GetVault(ctx, owner)
	if errors.Is(err, store.ErrNotFound) {
		return model.VaultPosition{
			Owner:            owner,
			CollateralAmount: new(uint256.Int),
			DebtAmount:       new(uint256.Int),
			MintedBalances:   map[string]*uint256.Int{},
		}, nil
	}
	return pos, err
}
