package amm

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/prismfinance/synth-engine/internal/model"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

var oracleAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// scenarioPool has real reserves (1000, 200), virtual reserves (5000, 1000),
// a 30 bps fee and an oracle price of 0.2 sJPY per sEUR unit.
func scenarioPool() model.Pool {
	return model.Pool{
		TokenA:          "sEUR",
		TokenB:          "sJPY",
		RealReserveA:    u(1000),
		RealReserveB:    u(200),
		VirtualReserveA: u(5000),
		VirtualReserveB: u(1000),
		FeeBps:          30,
		OraclePrice:     u(20_000_000),
		OracleTimestamp: oracleAt,
		TotalLPSupply:   u(447),
	}
}

// --- Quote tests ---

func TestQuoteSwapExactIn_Scenario(t *testing.T) {
	q, err := QuoteSwapExactIn(scenarioPool(), "sEUR", u(100))
	require.NoError(t, err)

	// afterFee = 100*9970/10000 = 99; out = 99*1000/5099 = 19
	assert.Equal(t, uint64(19), q.OutputAmount.Uint64())
	assert.Equal(t, uint64(100), q.InputAmount.Uint64())
	assert.Equal(t, uint64(1), q.FeeAmount.Uint64())
	// executed 0.19 against an oracle rate of 0.2
	assert.Equal(t, int64(500), q.PriceImpactBps)
	assert.Equal(t, oracleAt, q.SnapshotAt)
	require.Len(t, q.Hops, 1)
	assert.Equal(t, "sJPY", q.Hops[0].TokenOut)

	route, ok := q.Route.(model.DirectRoute)
	require.True(t, ok, "expected a direct route, got %T", q.Route)
	assert.Equal(t, "sEUR", route.From)
	assert.Equal(t, "sJPY", route.To)
}

func TestQuoteSwapExactIn_OutputRoundsTowardPool(t *testing.T) {
	pool := scenarioPool()
	q, err := QuoteSwapExactIn(pool, "sEUR", u(100))
	require.NoError(t, err)

	// vOut - vIn*vOut/(vIn+afterFee) with a truncated quotient:
	// 1000 - 5000000/5099 = 1000 - 980 = 20
	vIn, vOut, afterFee := u(5000), u(1000), u(99)
	truncated := new(uint256.Int).Sub(vOut, new(uint256.Int).Div(new(uint256.Int).Mul(vIn, vOut), new(uint256.Int).Add(vIn, afterFee)))
	require.Equal(t, uint64(20), truncated.Uint64())

	// Paying 20 leaves 5099*980 < 5000*1000; the quoted 19 keeps the product.
	assert.Equal(t, uint64(19), q.OutputAmount.Uint64())
	_, err = ApplySwap(pool, "sEUR", afterFee, truncated)
	require.ErrorIs(t, err, ErrInvariantViolated)
	_, err = ApplySwap(pool, "sEUR", afterFee, q.OutputAmount)
	require.NoError(t, err)
}

func TestQuoteSwapExactIn_ReverseDirection(t *testing.T) {
	q, err := QuoteSwapExactIn(scenarioPool(), "sJPY", u(19))
	require.NoError(t, err)

	// afterFee = 19*9970/10000 = 18; out = 18*5000/1018 = 88
	assert.Equal(t, uint64(88), q.OutputAmount.Uint64())
	assert.Equal(t, uint64(1), q.FeeAmount.Uint64())
	// oracle rate is 5 sEUR per sJPY; 88/19 fills 9263 bps of it
	assert.Equal(t, int64(737), q.PriceImpactBps)
}

func TestQuoteSwapExactIn_NoOracleUsesSpot(t *testing.T) {
	pool := scenarioPool()
	pool.OraclePrice = nil
	q, err := QuoteSwapExactIn(pool, "sEUR", u(100))
	require.NoError(t, err)
	// spot rate 1000/5000 equals the oracle rate in the scenario
	assert.Equal(t, int64(500), q.PriceImpactBps)
}

func TestQuoteSwapExactIn_FavourableFillIsNegative(t *testing.T) {
	pool := scenarioPool()
	pool.OraclePrice = u(10_000_000) // oracle says 0.1, curve pays ~0.19
	q, err := QuoteSwapExactIn(pool, "sEUR", u(100))
	require.NoError(t, err)
	assert.Equal(t, int64(-9000), q.PriceImpactBps)
}

func TestQuoteSwapExactIn_InsufficientRealLiquidity(t *testing.T) {
	pool := scenarioPool()
	pool.RealReserveB = u(10)
	_, err := QuoteSwapExactIn(pool, "sEUR", u(100))
	if !errors.Is(err, ErrInsufficientRealLiquidity) {
		t.Fatalf("expected ErrInsufficientRealLiquidity, got %v", err)
	}
}

func TestQuoteSwapExactIn_Rejections(t *testing.T) {
	paused := scenarioPool()
	paused.Paused = true

	empty := scenarioPool()
	empty.VirtualReserveB = u(0)

	badFee := scenarioPool()
	badFee.FeeBps = 10_000

	tests := []struct {
		name    string
		pool    model.Pool
		tokenIn string
		amount  *uint256.Int
		want    error
	}{
		{"paused", paused, "sEUR", u(100), ErrPoolPaused},
		{"foreign token", scenarioPool(), "sUSD", u(100), ErrTokenNotInPool},
		{"zero amount", scenarioPool(), "sEUR", u(0), ErrZeroAmount},
		{"nil amount", scenarioPool(), "sEUR", nil, ErrZeroAmount},
		{"empty reserves", empty, "sEUR", u(100), ErrEmptyReserves},
		{"fee at 100%", badFee, "sEUR", u(100), ErrInvalidFee},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := QuoteSwapExactIn(tt.pool, tt.tokenIn, tt.amount)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestQuoteSwapExactIn_DoesNotMutatePool(t *testing.T) {
	pool := scenarioPool()
	amount := u(100)
	first, err := QuoteSwapExactIn(pool, "sEUR", amount)
	require.NoError(t, err)
	second, err := QuoteSwapExactIn(pool, "sEUR", amount)
	require.NoError(t, err)

	assert.True(t, first.OutputAmount.Eq(second.OutputAmount))
	assert.Equal(t, uint64(5000), pool.VirtualReserveA.Uint64())
	assert.Equal(t, uint64(100), amount.Uint64())
}

// --- ApplySwap tests ---

func TestApplySwap_UpdatesReserves(t *testing.T) {
	pool := scenarioPool()
	next, err := ApplySwap(pool, "sEUR", u(100), u(19))
	require.NoError(t, err)

	assert.Equal(t, uint64(5100), next.VirtualReserveA.Uint64())
	assert.Equal(t, uint64(981), next.VirtualReserveB.Uint64())
	assert.Equal(t, uint64(1100), next.RealReserveA.Uint64())
	assert.Equal(t, uint64(181), next.RealReserveB.Uint64())

	// the input snapshot is untouched
	assert.Equal(t, uint64(5000), pool.VirtualReserveA.Uint64())
	assert.Equal(t, uint64(200), pool.RealReserveB.Uint64())
}

func TestApplySwap_RejectsProductDecrease(t *testing.T) {
	// 100 in for 20 out would leave 5100*980 = 4998000 < 5000000
	_, err := ApplySwap(scenarioPool(), "sEUR", u(100), u(20))
	require.ErrorIs(t, err, ErrInvariantViolated)
}

func TestApplySwap_RejectsRealUnderflow(t *testing.T) {
	_, err := ApplySwap(scenarioPool(), "sJPY", u(1), u(1001))
	require.Error(t, err)
}

func TestSpotPrice(t *testing.T) {
	p, err := SpotPrice(scenarioPool(), "sEUR")
	require.NoError(t, err)
	assert.Equal(t, "0.2", p.String())

	p, err = SpotPrice(scenarioPool(), "sJPY")
	require.NoError(t, err)
	assert.Equal(t, "5", p.String())

	_, err = SpotPrice(scenarioPool(), "sUSD")
	require.ErrorIs(t, err, ErrTokenNotInPool)
}

// --- Properties ---

func genPool(t *rapid.T) model.Pool {
	vA := rapid.Uint64Range(1, 1<<62).Draw(t, "vA")
	vB := rapid.Uint64Range(1, 1<<62).Draw(t, "vB")
	return model.Pool{
		TokenA:          "sEUR",
		TokenB:          "sUSD",
		VirtualReserveA: u(vA),
		VirtualReserveB: u(vB),
		RealReserveA:    u(vA),
		RealReserveB:    u(vB),
		FeeBps:          rapid.Uint64Range(0, 1000).Draw(t, "fee"),
		OraclePrice:     u(rapid.Uint64Range(0, 1<<40).Draw(t, "oracle")),
		TotalLPSupply:   u(1),
	}
}

func TestProperty_RoundTripNeverProfitable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pool := genPool(t)
		in := u(rapid.Uint64Range(1, 1<<62).Draw(t, "in"))

		there, err := QuoteSwapExactIn(pool, "sEUR", in)
		require.NoError(t, err)
		if there.OutputAmount.IsZero() {
			return
		}

		// reverse against the same snapshot
		back, err := QuoteSwapExactIn(pool, "sUSD", there.OutputAmount)
		if err == nil {
			require.False(t, back.OutputAmount.Gt(in), "same-snapshot round trip returned %s for %s", back.OutputAmount.Dec(), in.Dec())
		}

		// reverse against the post-trade snapshot
		after, err := ApplySwap(pool, "sEUR", in, there.OutputAmount)
		require.NoError(t, err)
		back, err = QuoteSwapExactIn(after, "sUSD", there.OutputAmount)
		require.NoError(t, err)
		require.False(t, back.OutputAmount.Gt(in), "round trip returned %s for %s", back.OutputAmount.Dec(), in.Dec())
	})
}

func TestProperty_VirtualProductNonDecreasing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pool := genPool(t)
		tokenIn := rapid.SampledFrom([]string{"sEUR", "sUSD"}).Draw(t, "tokenIn")
		in := u(rapid.Uint64Range(1, 1<<62).Draw(t, "in"))

		q, err := QuoteSwapExactIn(pool, tokenIn, in)
		require.NoError(t, err)
		next, err := ApplySwap(pool, tokenIn, in, q.OutputAmount)
		require.NoError(t, err)

		before := new(big.Int).Mul(pool.VirtualReserveA.ToBig(), pool.VirtualReserveB.ToBig())
		after := new(big.Int).Mul(next.VirtualReserveA.ToBig(), next.VirtualReserveB.ToBig())
		require.True(t, after.Cmp(before) >= 0, "k decreased from %s to %s", before, after)
		require.Equal(t, 0, VirtualK(next).BigInt().Cmp(after))
	})
}

func TestProperty_OutputMonotoneInInput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pool := genPool(t)
		a := rapid.Uint64Range(1, 1<<61).Draw(t, "a")
		b := rapid.Uint64Range(a, 1<<62).Draw(t, "b")

		qa, err := QuoteSwapExactIn(pool, "sEUR", u(a))
		require.NoError(t, err)
		qb, err := QuoteSwapExactIn(pool, "sEUR", u(b))
		require.NoError(t, err)
		require.False(t, qa.OutputAmount.Gt(qb.OutputAmount))
	})
}
