// Package vault implements collateralized-debt accounting for one user's
// vault: collateral ratio, health, mint headroom and the post-state checks
// every mint or withdrawal must pass before an intent is built.
//
// Collateral and debt are both held in base-asset units. Prices are words
// scaled by fixedpoint.PriceScale. All divisions truncate.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/prismfinance/synth-engine/internal/fixedpoint"
	"github.com/prismfinance/synth-engine/internal/model"
	"github.com/prismfinance/synth-engine/internal/pair"
)

var (
	// ErrInsufficientCollateral is returned when a mutation would leave the
	// vault below the minimum collateral ratio.
	ErrInsufficientCollateral = errors.New("vault: insufficient collateral")

	// ErrInvalidVaultState is returned for requests that cannot describe a
	// real vault: burning more than was minted, withdrawing more than was
	// deposited or pricing with a zero price.
	ErrInvalidVaultState = errors.New("vault: invalid vault state")

	// ErrInvalidParams is returned by Params.Validate.
	ErrInvalidParams = errors.New("vault: invalid parameters")
)

var hundred = uint256.NewInt(100)

// Params are the protocol's vault risk settings.
type Params struct {
	// MinCollateralRatioPct is the hard minimum, e.g. 150 for 150%.
	MinCollateralRatioPct uint64 `json:"min_collateral_ratio_pct"`
	// WarningBufferPct is added to the minimum to form the warning band.
	WarningBufferPct uint64 `json:"warning_buffer_pct"`
}

// Validate checks that the minimum ratio is a real over-collateralization
// requirement.
func (p Params) Validate() error {
	if p.MinCollateralRatioPct < 100 {
		return fmt.Errorf("%w: minimum collateral ratio %d%% is below 100%%", ErrInvalidParams, p.MinCollateralRatioPct)
	}
	return nil
}

// Ratio is a collateral ratio in whole percent. A vault without debt has
// an infinite ratio, which is a distinct state rather than a large number.
type Ratio struct {
	Pct      *uint256.Int
	Infinite bool
}

func (r Ratio) String() string {
	if r.Infinite {
		return "infinite"
	}
	return fixedpoint.OrZero(r.Pct).Dec() + "%"
}

// MarshalJSON renders the ratio as a decimal string or "infinite".
func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.Infinite {
		return json.Marshal("infinite")
	}
	return json.Marshal(fixedpoint.OrZero(r.Pct).Dec())
}

// Below reports whether the ratio is under pct. An infinite ratio never is.
func (r Ratio) Below(pct uint64) bool {
	if r.Infinite {
		return false
	}
	return fixedpoint.OrZero(r.Pct).Lt(uint256.NewInt(pct))
}

// CollateralRatioPct returns collateral * price * 100 / debt, truncated to a
// whole percent. price is the collateral price in debt units scaled by
// fixedpoint.PriceScale. With no debt the ratio is infinite whatever the
// price.
func CollateralRatioPct(position model.VaultPosition, collateralPrice *uint256.Int) (Ratio, error) {
	debt := fixedpoint.OrZero(position.DebtAmount)
	if debt.IsZero() {
		return Ratio{Infinite: true}, nil
	}
	price := fixedpoint.OrZero(collateralPrice)
	if price.IsZero() {
		return Ratio{}, fmt.Errorf("%w: collateral price is zero", ErrInvalidVaultState)
	}

	num, err := fixedpoint.Mul(fixedpoint.OrZero(position.CollateralAmount), hundred)
	if err != nil {
		return Ratio{}, err
	}
	den, err := fixedpoint.Mul(debt, fixedpoint.PriceScale)
	if err != nil {
		return Ratio{}, err
	}
	pct, err := fixedpoint.MulDiv(num, price, den, fixedpoint.RoundDown)
	if err != nil {
		return Ratio{}, err
	}
	return Ratio{Pct: pct}, nil
}

// Status is a vault's health classification.
type Status string

const (
	Healthy Status = "healthy"
	Warning Status = "warning"
	AtRisk  Status = "at_risk"
)

// Health returns AtRisk iff the ratio is below minPct. An infinite ratio is
// always Healthy.
func Health(ratio Ratio, minPct uint64) Status {
	if ratio.Below(minPct) {
		return AtRisk
	}
	return Healthy
}

// HealthWithBuffer is Health with a warning band: a ratio at or above the
// minimum but below minPct+bufferPct is reported as Warning.
func HealthWithBuffer(ratio Ratio, minPct, bufferPct uint64) Status {
	if ratio.Below(minPct) {
		return AtRisk
	}
	if ratio.Below(minPct + bufferPct) {
		return Warning
	}
	return Healthy
}

// Assessment is a vault's ratio and health at one collateral price.
type Assessment struct {
	Ratio  Ratio  `json:"ratio"`
	Status Status `json:"status"`
}

// Assess computes the ratio and the buffered health of a position.
func Assess(position model.VaultPosition, collateralPrice *uint256.Int, params Params) (Assessment, error) {
	ratio, err := CollateralRatioPct(position, collateralPrice)
	if err != nil {
		return Assessment{}, err
	}
	return Assessment{
		Ratio:  ratio,
		Status: HealthWithBuffer(ratio, params.MinCollateralRatioPct, params.WarningBufferPct),
	}, nil
}

// MaxAdditionalMint returns how many synthetic tokens can still be minted
// after depositing deposit more collateral:
//
//	maxDebt  = (collateral + deposit) * 100 / minPct
//	headroom = max(0, maxDebt - debt)
//	tokens   = headroom * collateralPrice / tokenPrice
//
// Every step truncates. Minting charges debt rounded up, so any amount up to
// the result adds at most headroom and passes DepositAndMint.
func MaxAdditionalMint(position model.VaultPosition, deposit, collateralPrice, tokenPrice *uint256.Int, minPct uint64) (*uint256.Int, error) {
	cp, tp := fixedpoint.OrZero(collateralPrice), fixedpoint.OrZero(tokenPrice)
	if cp.IsZero() || tp.IsZero() {
		return nil, fmt.Errorf("%w: prices must be positive", ErrInvalidVaultState)
	}
	if minPct == 0 {
		return nil, fmt.Errorf("%w: minimum collateral ratio is zero", ErrInvalidParams)
	}

	collateral, err := fixedpoint.Add(fixedpoint.OrZero(position.CollateralAmount), fixedpoint.OrZero(deposit))
	if err != nil {
		return nil, err
	}
	maxDebt, err := fixedpoint.MulDiv(collateral, hundred, uint256.NewInt(minPct), fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	debt := fixedpoint.OrZero(position.DebtAmount)
	if !maxDebt.Gt(debt) {
		return fixedpoint.Zero(), nil
	}
	headroom := new(uint256.Int).Sub(maxDebt, debt)
	return fixedpoint.MulDiv(headroom, cp, tp, fixedpoint.RoundDown)
}

// MaxWithdrawable returns the collateral that can be withdrawn while keeping
// collateral*100 >= debt*minPct.
func MaxWithdrawable(position model.VaultPosition, minPct uint64) (*uint256.Int, error) {
	collateral := fixedpoint.OrZero(position.CollateralAmount)
	// Rounds up: the retained collateral must cover the requirement.
	required, err := fixedpoint.MulDiv(fixedpoint.OrZero(position.DebtAmount), uint256.NewInt(minPct), hundred, fixedpoint.RoundUp)
	if err != nil {
		return nil, err
	}
	if !collateral.Gt(required) {
		return fixedpoint.Zero(), nil
	}
	return new(uint256.Int).Sub(collateral, required), nil
}

// Prices are the oracle prices a mutation is evaluated at, both scaled by
// fixedpoint.PriceScale.
type Prices struct {
	Collateral *uint256.Int `json:"collateral"`
	Token      *uint256.Int `json:"token"`
}

func (p Prices) validate() error {
	if fixedpoint.OrZero(p.Collateral).IsZero() || fixedpoint.OrZero(p.Token).IsZero() {
		return fmt.Errorf("%w: prices must be positive", ErrInvalidVaultState)
	}
	return nil
}

// debtDelta converts a synthetic token amount into base-asset debt:
// amount * tokenPrice / collateralPrice. Mints round up and burns round down,
// so neither side can move a dust amount of synthetic for free.
func (p Prices) debtDelta(amount *uint256.Int, mode fixedpoint.Rounding) (*uint256.Int, error) {
	return fixedpoint.MulDiv(amount, p.Token, p.Collateral, mode)
}

// MintRequest deposits collateral and mints a synthetic against it. Either
// amount may be zero.
type MintRequest struct {
	Deposit *uint256.Int `json:"deposit"`
	Symbol  string       `json:"symbol"`
	Amount  *uint256.Int `json:"amount"`
	Prices  Prices       `json:"prices"`
}

// DepositAndMint returns the vault after req, or ErrInsufficientCollateral
// when the post-state breaks the minimum ratio.
func DepositAndMint(position model.VaultPosition, req MintRequest, minPct uint64) (model.VaultPosition, error) {
	if err := req.Prices.validate(); err != nil {
		return model.VaultPosition{}, err
	}
	amount := fixedpoint.OrZero(req.Amount)
	if !amount.IsZero() && req.Symbol == "" {
		return model.VaultPosition{}, fmt.Errorf("%w: mint without a symbol", ErrInvalidVaultState)
	}

	next := position.Clone()
	var err error
	next.CollateralAmount, err = fixedpoint.Add(fixedpoint.OrZero(position.CollateralAmount), fixedpoint.OrZero(req.Deposit))
	if err != nil {
		return model.VaultPosition{}, err
	}
	delta, err := req.Prices.debtDelta(amount, fixedpoint.RoundUp)
	if err != nil {
		return model.VaultPosition{}, err
	}
	next.DebtAmount, err = fixedpoint.Add(fixedpoint.OrZero(position.DebtAmount), delta)
	if err != nil {
		return model.VaultPosition{}, err
	}
	if !amount.IsZero() {
		minted, err := fixedpoint.Add(fixedpoint.OrZero(next.MintedBalances[req.Symbol]), amount)
		if err != nil {
			return model.VaultPosition{}, err
		}
		next.MintedBalances[req.Symbol] = minted
	}

	if err := checkInvariant(next, minPct); err != nil {
		return model.VaultPosition{}, err
	}
	return next, nil
}

// BurnRequest burns a synthetic and withdraws collateral. Either amount may
// be zero.
type BurnRequest struct {
	Symbol   string       `json:"symbol"`
	Amount   *uint256.Int `json:"amount"`
	Withdraw *uint256.Int `json:"withdraw"`
	Prices   Prices       `json:"prices"`
}

// BurnAndWithdraw returns the vault after req. Burning more than was minted
// or withdrawing more than was deposited is ErrInvalidVaultState; a
// withdrawal that breaks the minimum ratio is ErrInsufficientCollateral.
func BurnAndWithdraw(position model.VaultPosition, req BurnRequest, minPct uint64) (model.VaultPosition, error) {
	if err := req.Prices.validate(); err != nil {
		return model.VaultPosition{}, err
	}
	amount := fixedpoint.OrZero(req.Amount)
	withdraw := fixedpoint.OrZero(req.Withdraw)

	next := position.Clone()
	if !amount.IsZero() {
		minted := fixedpoint.OrZero(position.MintedBalances[req.Symbol])
		if amount.Gt(minted) {
			return model.VaultPosition{}, fmt.Errorf("%w: burning %s %s but only %s minted",
				ErrInvalidVaultState, amount.Dec(), req.Symbol, minted.Dec())
		}
		left := new(uint256.Int).Sub(minted, amount)
		if left.IsZero() {
			delete(next.MintedBalances, req.Symbol)
		} else {
			next.MintedBalances[req.Symbol] = left
		}

		delta, err := req.Prices.debtDelta(amount, fixedpoint.RoundDown)
		if err != nil {
			return model.VaultPosition{}, err
		}
		// Price drift since minting can make the delta exceed the recorded
		// debt; a vault never carries negative debt.
		debt := fixedpoint.OrZero(position.DebtAmount)
		if delta.Gt(debt) {
			delta = debt
		}
		next.DebtAmount = new(uint256.Int).Sub(debt, delta)
	}

	collateral := fixedpoint.OrZero(position.CollateralAmount)
	if withdraw.Gt(collateral) {
		return model.VaultPosition{}, fmt.Errorf("%w: withdrawing %s but only %s deposited",
			ErrInvalidVaultState, withdraw.Dec(), collateral.Dec())
	}
	next.CollateralAmount = new(uint256.Int).Sub(collateral, withdraw)

	// A pure burn only lowers debt and is always allowed.
	if !withdraw.IsZero() {
		if err := checkInvariant(next, minPct); err != nil {
			return model.VaultPosition{}, err
		}
	}
	return next, nil
}

// checkInvariant enforces collateral*100 >= debt*minPct.
func checkInvariant(position model.VaultPosition, minPct uint64) error {
	debt := fixedpoint.OrZero(position.DebtAmount)
	if debt.IsZero() {
		return nil
	}
	lhs, err := fixedpoint.Mul(fixedpoint.OrZero(position.CollateralAmount), hundred)
	if err != nil {
		return err
	}
	rhs, err := fixedpoint.Mul(debt, uint256.NewInt(minPct))
	if err != nil {
		return err
	}
	if lhs.Lt(rhs) {
		return fmt.Errorf("%w: collateral %s cannot back debt %s at %d%%",
			ErrInsufficientCollateral, fixedpoint.OrZero(position.CollateralAmount).Dec(), debt.Dec(), minPct)
	}
	return nil
}

// ValidatePosition checks an ingested vault snapshot: an owner, and minted
// balances keyed by valid symbols with positive amounts.
func ValidatePosition(position model.VaultPosition) error {
	if position.Owner == "" {
		return fmt.Errorf("%w: vault without owner", ErrInvalidVaultState)
	}
	for sym, amt := range position.MintedBalances {
		if err := pair.ValidateSymbol(sym); err != nil {
			return err
		}
		if fixedpoint.OrZero(amt).IsZero() {
			return fmt.Errorf("%w: zero minted balance for %s", ErrInvalidVaultState, sym)
		}
	}
	return nil
}
