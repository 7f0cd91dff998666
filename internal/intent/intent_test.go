package intent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/prismfinance/synth-engine/internal/fixedpoint"
	"github.com/prismfinance/synth-engine/internal/liquidity"
	"github.com/prismfinance/synth-engine/internal/model"
	"github.com/prismfinance/synth-engine/internal/pair"
	"github.com/prismfinance/synth-engine/internal/perp"
	"github.com/prismfinance/synth-engine/internal/vault"
)

func u(x uint64) *uint256.Int { return uint256.NewInt(x) }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var quotedAt = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

// --- Slippage ---

func TestMinOut(t *testing.T) {
	tests := []struct {
		amount   uint64
		slippage uint64
		want     uint64
	}{
		{10_000, 50, 9_950},
		{19, 50, 18}, // 18.905 floors
		{1000, 0, 1000},
		{1000, 9999, 0},
		{0, 50, 0},
	}
	for _, tt := range tests {
		got, err := MinOut(u(tt.amount), tt.slippage)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Uint64(), "MinOut(%d, %d)", tt.amount, tt.slippage)
	}

	_, err := MinOut(u(1000), 10_000)
	require.ErrorIs(t, err, ErrInvalidSlippage)
}

func TestProperty_MinOutNeverExceedsAmount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		amount := u(rapid.Uint64().Draw(t, "amount"))
		slippage := rapid.Uint64Range(0, 9999).Draw(t, "slippage")
		got, err := MinOut(amount, slippage)
		require.NoError(t, err)
		require.False(t, got.Gt(amount), "min out %s above amount %s", got, amount)
	})
}

// --- Swaps ---

func TestBuildSwap_TwoHop(t *testing.T) {
	eurUSD := model.Pool{TokenA: "sEUR", TokenB: "sUSD"}
	jpyUSD := model.Pool{TokenA: "sJPY", TokenB: "sUSD"}
	q := model.Quote{
		InputAmount:  u(1000),
		OutputAmount: u(135_619),
		Route:        model.TwoHopRoute{First: eurUSD, Second: jpyUSD, From: "sEUR", Hub: "sUSD", To: "sJPY"},
		Hops: []model.HopQuote{
			{Pool: eurUSD.Key(), TokenIn: "sEUR", TokenOut: "sUSD"},
			{Pool: jpyUSD.Key(), TokenIn: "sUSD", TokenOut: "sJPY"},
		},
		SnapshotAt: quotedAt,
	}

	deadline := quotedAt.Add(2 * time.Minute)
	in, err := BuildSwap("0xabc", q, DefaultSlippageBps, deadline)
	require.NoError(t, err)

	assert.Equal(t, KindSwap, in.IntentKind())
	assert.Equal(t, model.RouteTwoHop, in.RouteKind)
	assert.Equal(t, []Hop{
		{Pool: pair.NewKey("sEUR", "sUSD"), TokenIn: "sEUR", TokenOut: "sUSD"},
		{Pool: pair.NewKey("sJPY", "sUSD"), TokenIn: "sUSD", TokenOut: "sJPY"},
	}, in.Path)
	assert.Equal(t, uint64(1000), in.AmountIn.Uint64())
	// 135619 * 9950 / 10000 = 134940.905
	assert.Equal(t, uint64(134_940), in.MinAmountOut.Uint64())
	assert.Equal(t, quotedAt, in.QuotedAt)
	assert.Equal(t, deadline, in.Deadline)
}

func TestBuildSwap_Rejections(t *testing.T) {
	_, err := BuildSwap("0xabc", model.Quote{OutputAmount: u(1)}, 50, quotedAt)
	require.Error(t, err)

	pool := model.Pool{TokenA: "sEUR", TokenB: "sUSD"}
	q := model.Quote{
		InputAmount:  u(10),
		OutputAmount: u(9),
		Route:        model.DirectRoute{Pool: pool, From: "sEUR", To: "sUSD"},
		Hops:         []model.HopQuote{{Pool: pool.Key(), TokenIn: "sEUR", TokenOut: "sUSD"}},
	}
	_, err = BuildSwap("0xabc", q, 10_000, quotedAt)
	require.ErrorIs(t, err, ErrInvalidSlippage)
}

// --- Liquidity ---

func TestBuildAddLiquidity(t *testing.T) {
	plan := liquidity.AddPlan{AmountA: u(100), AmountB: u(20), LPMinted: u(44), ShareBps: 896}
	in, err := BuildAddLiquidity("0xabc", pair.NewKey("sEUR", "sJPY"), plan, 100)
	require.NoError(t, err)

	assert.Equal(t, KindAddLiquidity, in.IntentKind())
	assert.Equal(t, uint64(100), in.AmountA.Uint64())
	assert.Equal(t, uint64(20), in.AmountB.Uint64())
	// 44 * 0.99 = 43.56
	assert.Equal(t, uint64(43), in.MinLP.Uint64())
	assert.Nil(t, in.LPAmount)
}

func TestBuildRemoveLiquidity(t *testing.T) {
	plan := liquidity.RemovePlan{LPAmount: u(50), AmountA: u(223), AmountB: u(44)}
	in, err := BuildRemoveLiquidity("0xabc", pair.NewKey("sEUR", "sJPY"), plan, 50)
	require.NoError(t, err)

	assert.Equal(t, KindRemoveLiquidity, in.IntentKind())
	assert.Equal(t, uint64(50), in.LPAmount.Uint64())
	assert.Equal(t, uint64(221), in.MinAmountA.Uint64())
	assert.Equal(t, uint64(43), in.MinAmountB.Uint64())
}

// --- Vaults ---

func TestBuildMintAndBurn(t *testing.T) {
	post := model.VaultPosition{
		Owner:            "0xabc",
		CollateralAmount: u(1500),
		DebtAmount:       u(500),
		MintedBalances:   map[string]*uint256.Int{"sEUR": u(500)},
	}
	mint := BuildMint("0xabc", vault.MintRequest{
		Deposit: u(500),
		Symbol:  "sEUR",
		Amount:  u(500),
		Prices:  vault.Prices{Collateral: fixedpoint.PriceScale, Token: fixedpoint.PriceScale},
	}, post)
	assert.Equal(t, KindDepositMint, mint.IntentKind())
	assert.Equal(t, uint64(500), mint.Collateral.Uint64())
	assert.Equal(t, post, mint.Expected)

	burn := BuildBurn("0xabc", vault.BurnRequest{Symbol: "sEUR", Amount: u(100)}, post)
	assert.Equal(t, KindBurnWithdraw, burn.IntentKind())
	assert.True(t, burn.Collateral.IsZero(), "nil withdraw becomes zero")
}

// --- Perps ---

func TestBuildOpen_AcceptablePriceBoundsTheFill(t *testing.T) {
	pos := model.PerpPosition{
		ID: "p-1", Market: "sXAU", IsLong: true,
		SizeBase: d("1000"), CollateralBase: d("100"), Leverage: 10, EntryPrice: d("0.05"),
	}
	long, err := BuildOpen("0xabc", pos, 100)
	require.NoError(t, err)
	assert.Equal(t, KindOpenPosition, long.IntentKind())
	assert.True(t, long.AcceptablePrice.Equal(d("0.0505")), "got %s", long.AcceptablePrice)

	pos.IsLong = false
	short, err := BuildOpen("0xabc", pos, 100)
	require.NoError(t, err)
	assert.True(t, short.AcceptablePrice.Equal(d("0.0495")), "got %s", short.AcceptablePrice)

	_, err = BuildOpen("0xabc", pos, 10_000)
	require.ErrorIs(t, err, ErrInvalidSlippage)
}

func TestBuildClose_InvertsDirection(t *testing.T) {
	s := perp.Settlement{
		Position: model.PerpPosition{
			ID: "p-1", Market: "sXAU", IsLong: true,
			SizeBase: d("1000"), CollateralBase: d("100"), Leverage: 10, EntryPrice: d("0.05"),
		},
		ExitPrice: d("0.055"),
	}
	in, err := BuildClose("0xabc", s, 100)
	require.NoError(t, err)
	assert.Equal(t, KindClosePosition, in.IntentKind())
	assert.Equal(t, "p-1", in.PositionID)
	// Closing a long sells, so the bound is a floor.
	assert.True(t, in.AcceptablePrice.Equal(d("0.05445")), "got %s", in.AcceptablePrice)
}

// --- Queue envelope ---

func TestNewEnvelope(t *testing.T) {
	in := PerpIntent{ID: "i-1", Kind: KindClosePosition, Owner: "0xabc", PositionID: "p-1"}
	env := NewEnvelope(in, quotedAt)

	require.NotEmpty(t, env.Reference)
	assert.Equal(t, KindClosePosition, env.Kind)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded struct {
		Kind   string         `json:"kind"`
		Intent map[string]any `json:"intent"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "close_position", decoded.Kind)
	assert.Equal(t, "p-1", decoded.Intent["position_id"])

	other := NewEnvelope(in, quotedAt)
	assert.NotEqual(t, env.Reference, other.Reference)
}
