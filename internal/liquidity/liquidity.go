// Package liquidity plans add- and remove-liquidity amounts exactly as the
// pool contract computes them.
//
// The paired-deposit contract recomputes the B side from the A side with
// truncating integer division and reverts on any mismatch, so every figure
// here goes through fixedpoint.MulDiv or fixedpoint.Sqrt with RoundDown.
// Floating point would drift by a unit on large or awkward ratios.
package liquidity

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/prismfinance/synth-engine/internal/fixedpoint"
	"github.com/prismfinance/synth-engine/internal/model"
)

// ErrInvalidLiquidityAmount is returned for zero amounts, withdrawals larger
// than the LP supply and operations on a pool with no LP supply or reserves
// where the formula needs them.
var ErrInvalidLiquidityAmount = errors.New("liquidity: invalid liquidity amount")

// Paired is the B-side amount for a deposit of A.
type Paired struct {
	// AmountB is the amount the contract requires. It is nil when
	// Unconstrained is set.
	AmountB *uint256.Int
	// Unconstrained is set for the first deposit, which may use any ratio
	// and thereby sets the initial price.
	Unconstrained bool
}

// DeriveProportionalAmount returns the B amount paired with amountA at the
// pool's current real-reserve ratio: amountA * reserveB / reserveA, rounded
// down.
func DeriveProportionalAmount(pool model.Pool, amountA *uint256.Int) (Paired, error) {
	return derive(pool, amountA, pool.RealReserveA, pool.RealReserveB)
}

// DeriveProportionalAmountFromB is DeriveProportionalAmount with the sides
// swapped: it returns the A amount paired with amountB in Paired.AmountB.
func DeriveProportionalAmountFromB(pool model.Pool, amountB *uint256.Int) (Paired, error) {
	return derive(pool, amountB, pool.RealReserveB, pool.RealReserveA)
}

func derive(pool model.Pool, amount, reserveIn, reserveOut *uint256.Int) (Paired, error) {
	if amount == nil || amount.IsZero() {
		return Paired{}, fmt.Errorf("%w: deposit amount is zero", ErrInvalidLiquidityAmount)
	}
	if fixedpoint.OrZero(pool.TotalLPSupply).IsZero() {
		return Paired{Unconstrained: true}, nil
	}
	rIn := fixedpoint.OrZero(reserveIn)
	if rIn.IsZero() {
		return Paired{}, fmt.Errorf("%w: pool %s has LP supply but an empty reserve", ErrInvalidLiquidityAmount, pool.Key())
	}
	// Truncates to match the contract's ratio check.
	out, err := fixedpoint.MulDiv(amount, fixedpoint.OrZero(reserveOut), rIn, fixedpoint.RoundDown)
	if err != nil {
		return Paired{}, err
	}
	return Paired{AmountB: out}, nil
}

// EstimateLPMinted returns the LP shares minted for depositing amountA and
// amountB. The first deposit mints isqrt(amountA*amountB); later deposits
// mint the smaller of the two proportional claims.
func EstimateLPMinted(pool model.Pool, amountA, amountB *uint256.Int) (*uint256.Int, error) {
	if amountA == nil || amountB == nil || amountA.IsZero() || amountB.IsZero() {
		return nil, fmt.Errorf("%w: both deposit amounts must be positive", ErrInvalidLiquidityAmount)
	}

	supply := fixedpoint.OrZero(pool.TotalLPSupply)
	if supply.IsZero() {
		product, err := fixedpoint.Mul(amountA, amountB)
		if err != nil {
			return nil, err
		}
		return fixedpoint.Sqrt(product), nil
	}

	rA, rB := fixedpoint.OrZero(pool.RealReserveA), fixedpoint.OrZero(pool.RealReserveB)
	if rA.IsZero() || rB.IsZero() {
		return nil, fmt.Errorf("%w: pool %s has LP supply but an empty reserve", ErrInvalidLiquidityAmount, pool.Key())
	}
	// Both claims truncate; the contract mints the smaller.
	byA, err := fixedpoint.MulDiv(amountA, supply, rA, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	byB, err := fixedpoint.MulDiv(amountB, supply, rB, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Min(byA, byB), nil
}

// EstimateRemoveAmounts returns the reserves paid out for burning lpAmount
// shares: lpAmount * reserveX / totalLPSupply for each side, rounded down.
func EstimateRemoveAmounts(pool model.Pool, lpAmount *uint256.Int) (amountA, amountB *uint256.Int, err error) {
	supply := fixedpoint.OrZero(pool.TotalLPSupply)
	switch {
	case supply.IsZero():
		return nil, nil, fmt.Errorf("%w: pool %s has no LP supply", ErrInvalidLiquidityAmount, pool.Key())
	case lpAmount == nil || lpAmount.IsZero():
		return nil, nil, fmt.Errorf("%w: LP amount is zero", ErrInvalidLiquidityAmount)
	case lpAmount.Gt(supply):
		return nil, nil, fmt.Errorf("%w: LP amount %s exceeds supply %s", ErrInvalidLiquidityAmount, lpAmount.Dec(), supply.Dec())
	}

	amountA, err = fixedpoint.MulDiv(lpAmount, fixedpoint.OrZero(pool.RealReserveA), supply, fixedpoint.RoundDown)
	if err != nil {
		return nil, nil, err
	}
	amountB, err = fixedpoint.MulDiv(lpAmount, fixedpoint.OrZero(pool.RealReserveB), supply, fixedpoint.RoundDown)
	if err != nil {
		return nil, nil, err
	}
	return amountA, amountB, nil
}

// AddPlan is everything a caller needs to submit an add-liquidity intent.
type AddPlan struct {
	AmountA  *uint256.Int `json:"amount_a"`
	AmountB  *uint256.Int `json:"amount_b"`
	LPMinted *uint256.Int `json:"lp_minted"`
	// ShareBps is the depositor's share of the post-deposit LP supply.
	ShareBps      uint64 `json:"share_bps"`
	Unconstrained bool   `json:"unconstrained"`
}

// PlanAdd derives the B side for amountA and the LP shares it mints. For a
// first deposit the ratio is the caller's choice, so initialAmountB must be
// supplied; it is ignored otherwise.
func PlanAdd(pool model.Pool, amountA, initialAmountB *uint256.Int) (AddPlan, error) {
	paired, err := DeriveProportionalAmount(pool, amountA)
	if err != nil {
		return AddPlan{}, err
	}
	amountB := paired.AmountB
	if paired.Unconstrained {
		if initialAmountB == nil || initialAmountB.IsZero() {
			return AddPlan{}, fmt.Errorf("%w: first deposit into %s needs both amounts", ErrInvalidLiquidityAmount, pool.Key())
		}
		amountB = initialAmountB.Clone()
	}

	minted, err := EstimateLPMinted(pool, amountA, amountB)
	if err != nil {
		return AddPlan{}, err
	}
	supplyAfter, err := fixedpoint.Add(fixedpoint.OrZero(pool.TotalLPSupply), minted)
	if err != nil {
		return AddPlan{}, err
	}
	share, err := shareBps(minted, supplyAfter)
	if err != nil {
		return AddPlan{}, err
	}
	return AddPlan{
		AmountA:       amountA.Clone(),
		AmountB:       amountB,
		LPMinted:      minted,
		ShareBps:      share,
		Unconstrained: paired.Unconstrained,
	}, nil
}

// RemovePlan is everything a caller needs to submit a remove-liquidity
// intent.
type RemovePlan struct {
	LPAmount *uint256.Int `json:"lp_amount"`
	AmountA  *uint256.Int `json:"amount_a"`
	AmountB  *uint256.Int `json:"amount_b"`
	// ShareBps is the share of the pre-withdrawal LP supply being burned.
	ShareBps uint64 `json:"share_bps"`
}

// PlanRemove computes the withdrawal for burning lpAmount shares.
func PlanRemove(pool model.Pool, lpAmount *uint256.Int) (RemovePlan, error) {
	a, b, err := EstimateRemoveAmounts(pool, lpAmount)
	if err != nil {
		return RemovePlan{}, err
	}
	share, err := shareBps(lpAmount, pool.TotalLPSupply)
	if err != nil {
		return RemovePlan{}, err
	}
	return RemovePlan{LPAmount: lpAmount.Clone(), AmountA: a, AmountB: b, ShareBps: share}, nil
}

// shareBps returns part/whole in basis points, rounded down. Display only.
func shareBps(part, whole *uint256.Int) (uint64, error) {
	if whole.IsZero() {
		return 0, nil
	}
	bps, err := fixedpoint.MulDiv(part, uint256.NewInt(fixedpoint.BpsDenominator), whole, fixedpoint.RoundDown)
	if err != nil {
		return 0, err
	}
	return bps.Uint64(), nil
}
