// Package amm prices swaps against a single oracle-anchored pool.
//
// Pricing runs the constant-product curve on the pool's virtual reserves,
// while the real reserves cap what can actually be paid out. The arithmetic
// mirrors the pool contract unit for unit: every division truncates, and the
// output side is always rounded in the pool's favour so a quote can never
// promise more than the contract will pay.
//
// All functions are stateless. Pools are passed by value and never mutated.
package amm

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/prismfinance/synth-engine/internal/fixedpoint"
	"github.com/prismfinance/synth-engine/internal/model"
)

var (
	// ErrPoolPaused is returned when quoting against a paused pool.
	ErrPoolPaused = errors.New("amm: pool is paused")

	// ErrInsufficientRealLiquidity is returned when the curve output exceeds
	// the real reserve of the output token. The pool exists; it is just too
	// shallow for the requested size.
	ErrInsufficientRealLiquidity = errors.New("amm: insufficient real liquidity")

	// ErrTokenNotInPool is returned when tokenIn is neither side of the pool.
	ErrTokenNotInPool = errors.New("amm: token not in pool")

	// ErrZeroAmount is returned for a zero input amount.
	ErrZeroAmount = errors.New("amm: amount must be positive")

	// ErrEmptyReserves is returned when a virtual reserve is zero.
	ErrEmptyReserves = errors.New("amm: pool has empty virtual reserves")

	// ErrInvalidFee is returned when feeBps is not below 10000.
	ErrInvalidFee = errors.New("amm: fee must be below 10000 bps")

	// ErrInvariantViolated is returned by ApplySwap when the post-trade
	// virtual k would be lower than before.
	ErrInvariantViolated = errors.New("amm: virtual reserve product would decrease")
)

var bpsDenominator = uint256.NewInt(fixedpoint.BpsDenominator)

// orientation is a pool viewed from the side of tokenIn.
type orientation struct {
	tokenIn, tokenOut string
	virtualIn         *uint256.Int
	virtualOut        *uint256.Int
	realIn, realOut   *uint256.Int
	inIsA             bool
}

func orient(pool model.Pool, tokenIn string) (orientation, error) {
	switch tokenIn {
	case pool.TokenA:
		return orientation{
			tokenIn:    pool.TokenA,
			tokenOut:   pool.TokenB,
			virtualIn:  fixedpoint.OrZero(pool.VirtualReserveA),
			virtualOut: fixedpoint.OrZero(pool.VirtualReserveB),
			realIn:     fixedpoint.OrZero(pool.RealReserveA),
			realOut:    fixedpoint.OrZero(pool.RealReserveB),
			inIsA:      true,
		}, nil
	case pool.TokenB:
		return orientation{
			tokenIn:    pool.TokenB,
			tokenOut:   pool.TokenA,
			virtualIn:  fixedpoint.OrZero(pool.VirtualReserveB),
			virtualOut: fixedpoint.OrZero(pool.VirtualReserveA),
			realIn:     fixedpoint.OrZero(pool.RealReserveB),
			realOut:    fixedpoint.OrZero(pool.RealReserveA),
		}, nil
	default:
		return orientation{}, fmt.Errorf("%w: %s not in %s", ErrTokenNotInPool, tokenIn, pool.Key())
	}
}

// QuoteSwapExactIn quotes selling amountIn of tokenIn into the pool.
//
//	afterFee  = amountIn * (10000 - feeBps) / 10000
//	amountOut = vOut - vIn*vOut / (vIn + afterFee)
//
// The second line is evaluated as afterFee*vOut / (vIn + afterFee) rounded
// down, which equals vOut minus the rounded-up quotient. Truncating the
// quotient instead would round the output up and let vIn*vOut shrink, so the
// pool keeps the dust. The returned quote has a single hop and a DirectRoute.
func QuoteSwapExactIn(pool model.Pool, tokenIn string, amountIn *uint256.Int) (model.Quote, error) {
	hop, err := quoteHop(pool, tokenIn, amountIn)
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{
		InputAmount:    hop.AmountIn.Clone(),
		OutputAmount:   hop.AmountOut.Clone(),
		FeeAmount:      hop.FeeAmount.Clone(),
		PriceImpactBps: hop.PriceImpactBps,
		Route:          model.DirectRoute{Pool: pool, From: hop.TokenIn, To: hop.TokenOut},
		Hops:           []model.HopQuote{hop},
		SnapshotAt:     pool.OracleTimestamp,
	}, nil
}

func quoteHop(pool model.Pool, tokenIn string, amountIn *uint256.Int) (model.HopQuote, error) {
	if pool.Paused {
		return model.HopQuote{}, fmt.Errorf("%w: %s", ErrPoolPaused, pool.Key())
	}
	o, err := orient(pool, tokenIn)
	if err != nil {
		return model.HopQuote{}, err
	}
	if amountIn == nil || amountIn.IsZero() {
		return model.HopQuote{}, ErrZeroAmount
	}
	if o.virtualIn.IsZero() || o.virtualOut.IsZero() {
		return model.HopQuote{}, fmt.Errorf("%w: %s", ErrEmptyReserves, pool.Key())
	}

	out, afterFee, err := amountOut(o, amountIn, pool.FeeBps)
	if err != nil {
		return model.HopQuote{}, err
	}
	if out.Gt(o.realOut) {
		return model.HopQuote{}, fmt.Errorf("%w: need %s %s, pool holds %s",
			ErrInsufficientRealLiquidity, out.Dec(), o.tokenOut, o.realOut.Dec())
	}

	impact, err := priceImpactBps(pool, o, amountIn, out)
	if err != nil {
		return model.HopQuote{}, err
	}

	return model.HopQuote{
		Pool:           pool.Key(),
		TokenIn:        o.tokenIn,
		TokenOut:       o.tokenOut,
		AmountIn:       amountIn.Clone(),
		AmountOut:      out,
		FeeAmount:      new(uint256.Int).Sub(amountIn, afterFee),
		PriceImpactBps: impact,
	}, nil
}

// amountOut returns the curve output and the post-fee input.
func amountOut(o orientation, amountIn *uint256.Int, feeBps uint64) (*uint256.Int, *uint256.Int, error) {
	if feeBps >= fixedpoint.BpsDenominator {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidFee, feeBps)
	}
	// Fee truncates: the trader is credited the floor of the post-fee input.
	afterFee, err := fixedpoint.MulDiv(amountIn, uint256.NewInt(fixedpoint.BpsDenominator-feeBps), bpsDenominator, fixedpoint.RoundDown)
	if err != nil {
		return nil, nil, err
	}
	denom, err := fixedpoint.Add(o.virtualIn, afterFee)
	if err != nil {
		return nil, nil, err
	}
	// Rounds down: output dust stays with the pool.
	out, err := fixedpoint.MulDiv(afterFee, o.virtualOut, denom, fixedpoint.RoundDown)
	if err != nil {
		return nil, nil, err
	}
	return out, afterFee, nil
}

// priceImpactBps compares the executed rate amountOut/amountIn against the
// reference rate, in basis points. The reference is the oracle price when the
// pool has one and the virtual spot rate otherwise. Positive means the trader
// receives less than the reference; a trade filled better than the reference
// is negative.
func priceImpactBps(pool model.Pool, o orientation, amountIn, out *uint256.Int) (int64, error) {
	// reference rate of tokenOut per tokenIn = rateNum / rateDen
	var rateNum, rateDen *uint256.Int
	oracle := fixedpoint.OrZero(pool.OraclePrice)
	switch {
	case oracle.IsZero():
		rateNum, rateDen = o.virtualOut, o.virtualIn
	case o.inIsA:
		rateNum, rateDen = oracle, fixedpoint.PriceScale
	default:
		rateNum, rateDen = fixedpoint.PriceScale, oracle
	}

	num, err := fixedpoint.Mul(out, bpsDenominator)
	if err != nil {
		return 0, err
	}
	den, err := fixedpoint.Mul(amountIn, rateNum)
	if err != nil {
		return 0, err
	}
	// Rounds down so the reported impact never understates the cost.
	filledBps, err := fixedpoint.MulDiv(num, rateDen, den, fixedpoint.RoundDown)
	if err != nil {
		return 0, err
	}
	return bpsShortfall(filledBps), nil
}

// bpsShortfall returns 10000 - filled as a signed value, saturating at the
// int64 bounds.
func bpsShortfall(filled *uint256.Int) int64 {
	if !filled.Gt(bpsDenominator) {
		return int64(fixedpoint.BpsDenominator - filled.Uint64())
	}
	excess := new(uint256.Int).Sub(filled, bpsDenominator)
	if !excess.IsUint64() || excess.Uint64() > math.MaxInt64 {
		return math.MinInt64
	}
	return -int64(excess.Uint64())
}

// ApplySwap returns the pool snapshot after tokenIn was sold for amountOut.
// The full input, fee included, is added to both the real and virtual
// reserves of tokenIn. The virtual product must not decrease.
func ApplySwap(pool model.Pool, tokenIn string, amountIn, amountOut *uint256.Int) (model.Pool, error) {
	o, err := orient(pool, tokenIn)
	if err != nil {
		return model.Pool{}, err
	}

	vIn, err := fixedpoint.Add(o.virtualIn, amountIn)
	if err != nil {
		return model.Pool{}, err
	}
	vOut, err := fixedpoint.Sub(o.virtualOut, amountOut)
	if err != nil {
		return model.Pool{}, err
	}
	rIn, err := fixedpoint.Add(o.realIn, amountIn)
	if err != nil {
		return model.Pool{}, err
	}
	rOut, err := fixedpoint.Sub(o.realOut, amountOut)
	if err != nil {
		return model.Pool{}, fmt.Errorf("%w: %v", ErrInsufficientRealLiquidity, err)
	}

	if err := checkProduct(o.virtualIn, o.virtualOut, vIn, vOut); err != nil {
		return model.Pool{}, err
	}

	next := pool.Clone()
	if o.inIsA {
		next.VirtualReserveA, next.VirtualReserveB = vIn, vOut
		next.RealReserveA, next.RealReserveB = rIn, rOut
	} else {
		next.VirtualReserveB, next.VirtualReserveA = vIn, vOut
		next.RealReserveB, next.RealReserveA = rIn, rOut
	}
	return next, nil
}

// checkProduct verifies x1*y1 >= x0*y0 using 512-bit intermediates: both
// sides are compared as quotients and remainders modulo y0.
func checkProduct(x0, y0, x1, y1 *uint256.Int) error {
	if x0.IsZero() || y0.IsZero() {
		return nil
	}
	// x1*y1 >= x0*y0  <=>  floor(x1*y1/y0) >= x0, since x0 is an integer.
	q, overflow := new(uint256.Int).MulDivOverflow(x1, y1, y0)
	if overflow {
		return nil
	}
	if q.Lt(x0) {
		return ErrInvariantViolated
	}
	return nil
}

// VirtualK returns vA*vB as a decimal. Display only.
func VirtualK(pool model.Pool) decimal.Decimal {
	a := decimal.NewFromBigInt(fixedpoint.OrZero(pool.VirtualReserveA).ToBig(), 0)
	b := decimal.NewFromBigInt(fixedpoint.OrZero(pool.VirtualReserveB).ToBig(), 0)
	return a.Mul(b)
}

// SpotPrice returns the marginal virtual-curve rate of tokenOut per unit of
// tokenIn, before fees. Display only; quotes never use it.
func SpotPrice(pool model.Pool, tokenIn string) (decimal.Decimal, error) {
	o, err := orient(pool, tokenIn)
	if err != nil {
		return decimal.Zero, err
	}
	if o.virtualIn.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrEmptyReserves, pool.Key())
	}
	out := decimal.NewFromBigInt(o.virtualOut.ToBig(), 0)
	in := decimal.NewFromBigInt(o.virtualIn.ToBig(), 0)
	return out.DivRound(in, fixedpoint.PriceDecimals*2), nil
}
