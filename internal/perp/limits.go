package perp

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/prismfinance/synth-engine/internal/model"
)

var (
	// ErrLeverageOutOfBounds is returned for a leverage below 1 or above the
	// configured maximum. The value is rejected, never capped.
	ErrLeverageOutOfBounds = errors.New("perp: leverage out of bounds")

	// ErrMarketLimitExceeded is returned when an open would push the total
	// size in one market beyond MaxMarketSizeBase.
	ErrMarketLimitExceeded = errors.New("perp: market exposure limit exceeded")

	// ErrAccountLimitExceeded is returned when an open would push the total
	// size across all markets beyond MaxAccountSizeBase.
	ErrAccountLimitExceeded = errors.New("perp: account exposure limit exceeded")

	// ErrInvalidLimits is returned by Limits.Validate.
	ErrInvalidLimits = errors.New("perp: invalid limits")
)

// Limits are the protocol's leverage and exposure settings.
type Limits struct {
	// MaxLeverage is the highest integer leverage a position may use.
	MaxLeverage int `json:"max_leverage"`

	// MaintenanceMarginPct is the margin ratio, in percent, at which a
	// position is liquidated.
	MaintenanceMarginPct decimal.Decimal `json:"maintenance_margin_pct"`

	// MaxMarketSizeBase caps the summed size of one user's positions in a
	// single market. Zero disables the cap.
	MaxMarketSizeBase decimal.Decimal `json:"max_market_size_base"`

	// MaxAccountSizeBase caps the summed size of all of one user's
	// positions. Zero disables the cap.
	MaxAccountSizeBase decimal.Decimal `json:"max_account_size_base"`
}

// NewLimits returns limits with the given leverage and maintenance settings
// and no exposure caps.
func NewLimits(maxLeverage int, maintenanceMarginPct decimal.Decimal) (Limits, error) {
	l := Limits{MaxLeverage: maxLeverage, MaintenanceMarginPct: maintenanceMarginPct}
	if err := l.Validate(); err != nil {
		return Limits{}, err
	}
	return l, nil
}

// Validate checks the limits for internal consistency.
func (l Limits) Validate() error {
	if l.MaxLeverage < 1 {
		return fmt.Errorf("%w: max leverage %d", ErrInvalidLimits, l.MaxLeverage)
	}
	if l.MaintenanceMarginPct.IsNegative() || l.MaintenanceMarginPct.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("%w: maintenance margin %s%%", ErrInvalidLimits, l.MaintenanceMarginPct)
	}
	if l.MaxMarketSizeBase.IsNegative() || l.MaxAccountSizeBase.IsNegative() {
		return fmt.Errorf("%w: negative exposure cap", ErrInvalidLimits)
	}
	return nil
}

// CheckLeverage accepts leverage in [1, MaxLeverage].
func (l Limits) CheckLeverage(leverage int) error {
	if leverage < 1 || leverage > l.MaxLeverage {
		return fmt.Errorf("%w: %dx (allowed 1x-%dx)", ErrLeverageOutOfBounds, leverage, l.MaxLeverage)
	}
	return nil
}

// CheckExposure validates adding sizeDelta in market against the caps,
// given the user's open positions.
func (l Limits) CheckExposure(market string, sizeDelta decimal.Decimal, open []model.PerpPosition) error {
	inMarket := sizeDelta.Abs()
	total := sizeDelta.Abs()
	for _, p := range open {
		total = total.Add(p.SizeBase.Abs())
		if p.Market == market {
			inMarket = inMarket.Add(p.SizeBase.Abs())
		}
	}

	if l.MaxMarketSizeBase.IsPositive() && inMarket.GreaterThan(l.MaxMarketSizeBase) {
		return fmt.Errorf("%w: %s would hold %s (cap %s)", ErrMarketLimitExceeded, market, inMarket, l.MaxMarketSizeBase)
	}
	if l.MaxAccountSizeBase.IsPositive() && total.GreaterThan(l.MaxAccountSizeBase) {
		return fmt.Errorf("%w: account would hold %s (cap %s)", ErrAccountLimitExceeded, total, l.MaxAccountSizeBase)
	}
	return nil
}
