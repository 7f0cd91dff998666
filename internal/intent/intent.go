// Package intent turns engine results into fully specified transaction
// intents for an external submitter.
//
// The engine never submits anything. A caller builds an intent from a quote
// or plan, shows it to the user and hands it to whatever Submitter owns
// write access to chain state.
package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/prismfinance/synth-engine/internal/fixedpoint"
	"github.com/prismfinance/synth-engine/internal/liquidity"
	"github.com/prismfinance/synth-engine/internal/model"
	"github.com/prismfinance/synth-engine/internal/pair"
	"github.com/prismfinance/synth-engine/internal/perp"
	"github.com/prismfinance/synth-engine/internal/vault"
)

// ErrInvalidSlippage is returned for a slippage tolerance of 100% or more.
var ErrInvalidSlippage = errors.New("intent: slippage must be below 10000 bps")

// DefaultSlippageBps is used when a caller does not choose a tolerance.
const DefaultSlippageBps uint64 = 50

// Kind names an intent type.
type Kind string

const (
	KindSwap            Kind = "swap"
	KindAddLiquidity    Kind = "add_liquidity"
	KindRemoveLiquidity Kind = "remove_liquidity"
	KindDepositMint     Kind = "deposit_mint"
	KindBurnWithdraw    Kind = "burn_withdraw"
	KindOpenPosition    Kind = "open_position"
	KindClosePosition   Kind = "close_position"
)

// Intent is implemented by SwapIntent, LiquidityIntent, VaultIntent and
// PerpIntent.
type Intent interface {
	IntentKind() Kind
	isIntent()
}

// Result is what a submitter reports back.
type Result struct {
	Reference   string    `json:"reference"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Submitter accepts a fully specified intent. It alone has write access to
// authoritative state.
type Submitter interface {
	Submit(ctx context.Context, in Intent) (Result, error)
}

// MinOut returns amount reduced by slippageBps, rounded down.
func MinOut(amount *uint256.Int, slippageBps uint64) (*uint256.Int, error) {
	if slippageBps >= fixedpoint.BpsDenominator {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlippage, slippageBps)
	}
	return fixedpoint.MulDiv(
		fixedpoint.OrZero(amount),
		uint256.NewInt(fixedpoint.BpsDenominator-slippageBps),
		uint256.NewInt(fixedpoint.BpsDenominator),
		fixedpoint.RoundDown,
	)
}

// Hop is one pool of a swap path.
type Hop struct {
	Pool     pair.Key `json:"pool"`
	TokenIn  string   `json:"token_in"`
	TokenOut string   `json:"token_out"`
}

// SwapIntent swaps along a route with a minimum output.
type SwapIntent struct {
	ID           string          `json:"id"`
	Owner        string          `json:"owner"`
	RouteKind    model.RouteKind `json:"route_kind"`
	Path         []Hop           `json:"path"`
	AmountIn     *uint256.Int    `json:"amount_in"`
	MinAmountOut *uint256.Int    `json:"min_amount_out"`
	SlippageBps  uint64          `json:"slippage_bps"`
	QuotedAt     time.Time       `json:"quoted_at"`
	Deadline     time.Time       `json:"deadline"`
}

func (SwapIntent) IntentKind() Kind { return KindSwap }
func (SwapIntent) isIntent()        {}

// BuildSwap builds a swap intent from a quote.
func BuildSwap(owner string, q model.Quote, slippageBps uint64, deadline time.Time) (SwapIntent, error) {
	if q.Route == nil || len(q.Hops) == 0 {
		return SwapIntent{}, errors.New("intent: quote has no route")
	}
	minOut, err := MinOut(q.OutputAmount, slippageBps)
	if err != nil {
		return SwapIntent{}, err
	}
	path := make([]Hop, 0, len(q.Hops))
	for _, h := range q.Hops {
		path = append(path, Hop{Pool: h.Pool, TokenIn: h.TokenIn, TokenOut: h.TokenOut})
	}
	return SwapIntent{
		Owner:        owner,
		RouteKind:    q.Route.Kind(),
		Path:         path,
		AmountIn:     fixedpoint.OrZero(q.InputAmount).Clone(),
		MinAmountOut: minOut,
		SlippageBps:  slippageBps,
		QuotedAt:     q.SnapshotAt,
		Deadline:     deadline,
	}, nil
}

// LiquidityIntent adds or removes liquidity. For an add, AmountA and
// AmountB are deposited and at least MinLP shares must be minted. For a
// removal, LPAmount is burned and at least MinAmountA and MinAmountB must
// be paid out.
type LiquidityIntent struct {
	ID         string       `json:"id"`
	Kind       Kind         `json:"kind"`
	Owner      string       `json:"owner"`
	Pool       pair.Key     `json:"pool"`
	AmountA    *uint256.Int `json:"amount_a,omitempty"`
	AmountB    *uint256.Int `json:"amount_b,omitempty"`
	MinLP      *uint256.Int `json:"min_lp,omitempty"`
	LPAmount   *uint256.Int `json:"lp_amount,omitempty"`
	MinAmountA *uint256.Int `json:"min_amount_a,omitempty"`
	MinAmountB *uint256.Int `json:"min_amount_b,omitempty"`
}

func (i LiquidityIntent) IntentKind() Kind { return i.Kind }
func (LiquidityIntent) isIntent()          {}

// BuildAddLiquidity builds an add-liquidity intent. The paired amounts are
// passed through unchanged; the contract rejects any other ratio.
func BuildAddLiquidity(owner string, pool pair.Key, plan liquidity.AddPlan, slippageBps uint64) (LiquidityIntent, error) {
	minLP, err := MinOut(plan.LPMinted, slippageBps)
	if err != nil {
		return LiquidityIntent{}, err
	}
	return LiquidityIntent{
		Kind:    KindAddLiquidity,
		Owner:   owner,
		Pool:    pool,
		AmountA: plan.AmountA,
		AmountB: plan.AmountB,
		MinLP:   minLP,
	}, nil
}

// BuildRemoveLiquidity builds a remove-liquidity intent.
func BuildRemoveLiquidity(owner string, pool pair.Key, plan liquidity.RemovePlan, slippageBps uint64) (LiquidityIntent, error) {
	minA, err := MinOut(plan.AmountA, slippageBps)
	if err != nil {
		return LiquidityIntent{}, err
	}
	minB, err := MinOut(plan.AmountB, slippageBps)
	if err != nil {
		return LiquidityIntent{}, err
	}
	return LiquidityIntent{
		Kind:       KindRemoveLiquidity,
		Owner:      owner,
		Pool:       pool,
		LPAmount:   plan.LPAmount,
		MinAmountA: minA,
		MinAmountB: minB,
	}, nil
}

// VaultIntent mints or burns against a vault. Expected carries the
// post-state the engine validated, so the submitter can detect drift.
type VaultIntent struct {
	ID         string              `json:"id"`
	Kind       Kind                `json:"kind"`
	Owner      string              `json:"owner"`
	Symbol     string              `json:"symbol,omitempty"`
	Amount     *uint256.Int        `json:"amount"`
	Collateral *uint256.Int        `json:"collateral"` // deposited or withdrawn
	Expected   model.VaultPosition `json:"expected"`
}

func (i VaultIntent) IntentKind() Kind { return i.Kind }
func (VaultIntent) isIntent()          {}

// BuildMint builds a deposit-and-mint intent from a validated request.
func BuildMint(owner string, req vault.MintRequest, post model.VaultPosition) VaultIntent {
	return VaultIntent{
		Kind:       KindDepositMint,
		Owner:      owner,
		Symbol:     req.Symbol,
		Amount:     fixedpoint.OrZero(req.Amount).Clone(),
		Collateral: fixedpoint.OrZero(req.Deposit).Clone(),
		Expected:   post,
	}
}

// BuildBurn builds a burn-and-withdraw intent from a validated request.
func BuildBurn(owner string, req vault.BurnRequest, post model.VaultPosition) VaultIntent {
	return VaultIntent{
		Kind:       KindBurnWithdraw,
		Owner:      owner,
		Symbol:     req.Symbol,
		Amount:     fixedpoint.OrZero(req.Amount).Clone(),
		Collateral: fixedpoint.OrZero(req.Withdraw).Clone(),
		Expected:   post,
	}
}

// PerpIntent opens or closes a position. AcceptablePrice bounds the fill:
// a ceiling when buying (long open, short close) and a floor when selling.
type PerpIntent struct {
	ID              string          `json:"id"`
	Kind            Kind            `json:"kind"`
	Owner           string          `json:"owner"`
	PositionID      string          `json:"position_id"`
	Market          string          `json:"market"`
	IsLong          bool            `json:"is_long"`
	CollateralBase  decimal.Decimal `json:"collateral_base"`
	Leverage        int             `json:"leverage"`
	AcceptablePrice decimal.Decimal `json:"acceptable_price"`
}

func (i PerpIntent) IntentKind() Kind { return i.Kind }
func (PerpIntent) isIntent()          {}

// BuildOpen builds an open-position intent for a planned position.
func BuildOpen(owner string, pos model.PerpPosition, slippageBps uint64) (PerpIntent, error) {
	price, err := acceptablePrice(pos.EntryPrice, slippageBps, pos.IsLong)
	if err != nil {
		return PerpIntent{}, err
	}
	return PerpIntent{
		Kind:            KindOpenPosition,
		Owner:           owner,
		PositionID:      pos.ID,
		Market:          pos.Market,
		IsLong:          pos.IsLong,
		CollateralBase:  pos.CollateralBase,
		Leverage:        pos.Leverage,
		AcceptablePrice: price,
	}, nil
}

// BuildClose builds a close-position intent from a settlement preview.
func BuildClose(owner string, s perp.Settlement, slippageBps uint64) (PerpIntent, error) {
	// Closing a long sells, closing a short buys.
	price, err := acceptablePrice(s.ExitPrice, slippageBps, !s.Position.IsLong)
	if err != nil {
		return PerpIntent{}, err
	}
	return PerpIntent{
		Kind:            KindClosePosition,
		Owner:           owner,
		PositionID:      s.Position.ID,
		Market:          s.Position.Market,
		IsLong:          s.Position.IsLong,
		CollateralBase:  s.Position.CollateralBase,
		Leverage:        s.Position.Leverage,
		AcceptablePrice: price,
	}, nil
}

func acceptablePrice(price decimal.Decimal, slippageBps uint64, buying bool) (decimal.Decimal, error) {
	if slippageBps >= fixedpoint.BpsDenominator {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrInvalidSlippage, slippageBps)
	}
	tol := decimal.New(int64(slippageBps), -4)
	if buying {
		return price.Mul(decimal.NewFromInt(1).Add(tol)), nil
	}
	return price.Mul(decimal.NewFromInt(1).Sub(tol)), nil
}
