// Package api exposes the engine over HTTP: quoting, liquidity planning,
// vault and perp validation, and intent building, backed by a chain-state
// store and a WebSocket hub for snapshot updates.
//
// Handlers never write authoritative state. The PUT endpoints ingest
// snapshots from the indexer. A mutation endpoint validates the request
// against the current snapshot and answers with the post-state and an
// intent; submitting that intent is the submitter's job.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/prismfinance/synth-engine/internal/fixedpoint"
	"github.com/prismfinance/synth-engine/internal/intent"
	"github.com/prismfinance/synth-engine/internal/metrics"
	"github.com/prismfinance/synth-engine/internal/perp"
	"github.com/prismfinance/synth-engine/internal/store"
	"github.com/prismfinance/synth-engine/internal/vault"
)

// Config holds the protocol settings the handlers validate against.
type Config struct {
	// Hub is the currency two-hop routes pass through.
	Hub   string
	Vault vault.Params
	Perp  perp.Limits
	// QuoteStaleAfter marks quotes whose snapshot is older than this as
	// stale. Zero disables the check.
	QuoteStaleAfter    time.Duration
	DefaultSlippageBps uint64
	// SwapDeadline is added to the current time to form a swap intent's
	// deadline.
	SwapDeadline time.Duration
}

// Service serves the engine's HTTP API.
type Service struct {
	store     store.Store
	cfg       Config
	wsHub     *WSHub           // optional
	submitter intent.Submitter // optional
	now       func() time.Time
	newID     func() string
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, cfg Config, hub *WSHub) *Service {
	if cfg.DefaultSlippageBps == 0 {
		cfg.DefaultSlippageBps = intent.DefaultSlippageBps
	}
	if cfg.SwapDeadline == 0 {
		cfg.SwapDeadline = 2 * time.Minute
	}
	return &Service{
		store: st,
		cfg:   cfg,
		wsHub: hub,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
}

// WithSubmitter enables forwarding intents for requests that set submit.
func (s *Service) WithSubmitter(sub intent.Submitter) *Service {
	s.submitter = sub
	return s
}

// Mount registers every API route on r.
func (s *Service) Mount(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Get("/pools", s.ListPools)
	r.Put("/pools", s.PutPools)
	r.Get("/pools/{pair}/liquidity/add", s.PlanAddLiquidity)
	r.Post("/pools/{pair}/liquidity/add", s.PlanAddLiquidity)
	r.Get("/pools/{pair}/liquidity/remove", s.PlanRemoveLiquidity)
	r.Post("/pools/{pair}/liquidity/remove", s.PlanRemoveLiquidity)

	r.Get("/quote", s.GetQuote)
	r.Post("/swap", s.Swap)

	r.Get("/vaults/{owner}", s.GetVault)
	r.Put("/vaults/{owner}", s.PutVault)
	r.Get("/vaults/{owner}/max-mint", s.MaxMint)
	r.Post("/vaults/{owner}/mint", s.Mint)
	r.Post("/vaults/{owner}/burn", s.Burn)

	r.Get("/perps/{owner}", s.GetPerpAccount)
	r.Put("/perps/{owner}", s.PutPerpAccount)
	r.Post("/perps/{owner}/open", s.OpenPosition)
	r.Post("/perps/{owner}/close", s.ClosePosition)
}

// --- Intents ---

// built stamps an ID on a freshly built intent, counts it and announces it.
func (s *Service) built(owner string, kind intent.Kind) string {
	metrics.IntentsBuilt.WithLabelValues(string(kind)).Inc()
	if s.wsHub != nil {
		s.wsHub.Broadcast(Event{Type: EventIntentBuilt, Owner: owner, IntentKind: string(kind), At: s.now()})
	}
	return s.newID()
}

// submit forwards in when the caller asked for it. A nil result means the
// intent was only built.
func (s *Service) submit(ctx context.Context, requested bool, in intent.Intent) (*intent.Result, error) {
	if !requested {
		return nil, nil
	}
	if s.submitter == nil {
		return nil, ErrSubmitterUnavailable
	}
	res, err := s.submitter.Submit(ctx, in)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// --- Request parsing ---

func amountParam(r *http.Request, name string, required bool) (*uint256.Int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return nil, errors.New(name + " is required")
		}
		return nil, nil
	}
	return fixedpoint.ParseAmount(raw)
}

// priceParam parses a display price such as 1.0842 into a scaled word.
func priceParam(r *http.Request, name string) (*uint256.Int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, errors.New(name + " is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, errors.New(name + " must be a decimal")
	}
	return fixedpoint.PriceFromDecimal(d)
}

func (s *Service) slippageParam(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("slippage_bps")
	if raw == "" {
		return s.cfg.DefaultSlippageBps, nil
	}
	bps, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New("slippage_bps must be an integer")
	}
	return bps, nil
}

func (s *Service) slippageOrDefault(bps *uint64) uint64 {
	if bps == nil {
		return s.cfg.DefaultSlippageBps
	}
	return *bps
}

// parsePrices parses "sXAU:2310.5,sEUR:1.08" into a price map.
func parsePrices(raw string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal)
	if raw == "" {
		return prices, nil
	}
	for _, item := range strings.Split(raw, ",") {
		market, price, ok := strings.Cut(item, ":")
		if !ok || market == "" {
			return nil, errors.New("prices must look like MARKET:PRICE,MARKET:PRICE")
		}
		d, err := decimal.NewFromString(price)
		if err != nil || !d.IsPositive() {
			return nil, errors.New("price for " + market + " must be a positive decimal")
		}
		prices[market] = d
	}
	return prices, nil
}
