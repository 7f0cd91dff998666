// Package perp computes PnL, margin and liquidation figures for leveraged
// perpetual positions, and plans opens and closes against a perp account.
//
// Every position is independent: its liquidation price depends only on its
// own size, collateral and entry price. Perp collateral lives in the perp
// account balance and is never shared with vault collateral.
//
// All monetary values use shopspring/decimal, never float64.
package perp

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prismfinance/synth-engine/internal/model"
)

var (
	// ErrInsufficientAvailableBalance is returned when an open asks for more
	// than the account's available balance.
	ErrInsufficientAvailableBalance = errors.New("perp: insufficient available balance")

	// ErrInvalidPosition is returned for positions that cannot be priced:
	// zero size or a non-positive entry price.
	ErrInvalidPosition = errors.New("perp: invalid position")

	// ErrPositionNotFound is returned by Close for an unknown position ID.
	ErrPositionNotFound = errors.New("perp: position not found")

	// ErrMissingPrice is returned when no current price is known for a
	// position's market.
	ErrMissingPrice = errors.New("perp: missing market price")
)

var hundred = decimal.NewFromInt(100)

func checkPosition(p model.PerpPosition) error {
	if !p.SizeBase.IsPositive() {
		return fmt.Errorf("%w: size %s", ErrInvalidPosition, p.SizeBase)
	}
	if !p.EntryPrice.IsPositive() {
		return fmt.Errorf("%w: entry price %s", ErrInvalidPosition, p.EntryPrice)
	}
	return nil
}

// UnrealizedPnL returns size * (current - entry) / entry for a long and the
// negation for a short.
func UnrealizedPnL(p model.PerpPosition, currentPrice decimal.Decimal) (decimal.Decimal, error) {
	if err := checkPosition(p); err != nil {
		return decimal.Zero, err
	}
	// Multiply before dividing so exact inputs stay exact.
	pnl := p.SizeBase.Mul(currentPrice.Sub(p.EntryPrice)).Div(p.EntryPrice)
	if !p.IsLong {
		pnl = pnl.Neg()
	}
	return pnl, nil
}

// MarginRatioPct returns (collateral + pnl) * 100 / size.
func MarginRatioPct(p model.PerpPosition, pnl decimal.Decimal) (decimal.Decimal, error) {
	if !p.SizeBase.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: size %s", ErrInvalidPosition, p.SizeBase)
	}
	return p.CollateralBase.Add(pnl).Mul(hundred).Div(p.SizeBase), nil
}

// LiquidationPrice returns the price at which the margin ratio falls to
// maintenancePct. Setting MarginRatioPct equal to m and solving for the
// price gives
//
//	long:  entry * (1 - collateral/size + m/100)
//	short: entry * (1 + collateral/size - m/100)
//
// A long that can never reach the threshold reports zero.
func LiquidationPrice(p model.PerpPosition, maintenancePct decimal.Decimal) (decimal.Decimal, error) {
	if err := checkPosition(p); err != nil {
		return decimal.Zero, err
	}
	cushion := p.CollateralBase.Div(p.SizeBase).Sub(maintenancePct.Div(hundred))
	var factor decimal.Decimal
	if p.IsLong {
		factor = decimal.NewFromInt(1).Sub(cushion)
	} else {
		factor = decimal.NewFromInt(1).Add(cushion)
	}
	if factor.IsNegative() {
		return decimal.Zero, nil
	}
	return p.EntryPrice.Mul(factor), nil
}

// IsLiquidatable reports whether the position's margin ratio at
// currentPrice is at or below maintenancePct.
func IsLiquidatable(p model.PerpPosition, currentPrice, maintenancePct decimal.Decimal) (bool, error) {
	pnl, err := UnrealizedPnL(p, currentPrice)
	if err != nil {
		return false, err
	}
	ratio, err := MarginRatioPct(p, pnl)
	if err != nil {
		return false, err
	}
	return ratio.LessThanOrEqual(maintenancePct), nil
}

// ValidateOpen rejects a request for more than the available balance.
func ValidateOpen(balance model.PerpAccountBalance, requestedSizeBase decimal.Decimal) error {
	if requestedSizeBase.GreaterThan(balance.AvailableBase) {
		return fmt.Errorf("%w: requested %s, available %s",
			ErrInsufficientAvailableBalance, requestedSizeBase, balance.AvailableBase)
	}
	return nil
}

// Snapshot is a position with its derived figures at one price.
type Snapshot struct {
	Position         model.PerpPosition `json:"position"`
	CurrentPrice     decimal.Decimal    `json:"current_price"`
	UnrealizedPnL    decimal.Decimal    `json:"unrealized_pnl"`
	MarginRatioPct   decimal.Decimal    `json:"margin_ratio_pct"`
	LiquidationPrice decimal.Decimal    `json:"liquidation_price"`
	Liquidatable     bool               `json:"liquidatable"`
}

// Evaluate derives every figure for one position at currentPrice.
func (l Limits) Evaluate(p model.PerpPosition, currentPrice decimal.Decimal) (Snapshot, error) {
	pnl, err := UnrealizedPnL(p, currentPrice)
	if err != nil {
		return Snapshot{}, err
	}
	ratio, err := MarginRatioPct(p, pnl)
	if err != nil {
		return Snapshot{}, err
	}
	liq, err := LiquidationPrice(p, l.MaintenanceMarginPct)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Position:         p,
		CurrentPrice:     currentPrice,
		UnrealizedPnL:    pnl,
		MarginRatioPct:   ratio,
		LiquidationPrice: liq,
		Liquidatable:     ratio.LessThanOrEqual(l.MaintenanceMarginPct),
	}, nil
}

// AccountEquity returns available + sum(collateral + pnl) over the open
// positions, each priced from prices by market.
func AccountEquity(account model.PerpAccount, prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	equity := account.Balance.AvailableBase
	for _, p := range account.Positions {
		price, ok := prices[p.Market]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrMissingPrice, p.Market)
		}
		pnl, err := UnrealizedPnL(p, price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("position %s: %w", p.ID, err)
		}
		equity = equity.Add(p.CollateralBase).Add(pnl)
	}
	return equity, nil
}

// OpenRequest describes a position to open. Size is collateral * leverage.
type OpenRequest struct {
	Market         string          `json:"market"`
	IsLong         bool            `json:"is_long"`
	CollateralBase decimal.Decimal `json:"collateral_base"`
	Leverage       int             `json:"leverage"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
}

// PlanOpen validates req against the limits and the account and returns the
// new position together with the account as it would be after the open.
// The margin drawn from the available balance is the position's collateral.
// id and now are supplied by the caller so planning stays deterministic.
func (l Limits) PlanOpen(account model.PerpAccount, id string, req OpenRequest, now time.Time) (model.PerpPosition, model.PerpAccount, error) {
	if err := l.CheckLeverage(req.Leverage); err != nil {
		return model.PerpPosition{}, model.PerpAccount{}, err
	}
	if !req.CollateralBase.IsPositive() {
		return model.PerpPosition{}, model.PerpAccount{}, fmt.Errorf("%w: collateral %s", ErrInvalidPosition, req.CollateralBase)
	}
	if err := ValidateOpen(account.Balance, req.CollateralBase); err != nil {
		return model.PerpPosition{}, model.PerpAccount{}, err
	}

	pos := model.PerpPosition{
		ID:             id,
		Market:         req.Market,
		IsLong:         req.IsLong,
		SizeBase:       req.CollateralBase.Mul(decimal.NewFromInt(int64(req.Leverage))),
		CollateralBase: req.CollateralBase,
		Leverage:       req.Leverage,
		EntryPrice:     req.EntryPrice,
		OpenedAt:       now,
		UpdatedAt:      now,
	}
	if err := checkPosition(pos); err != nil {
		return model.PerpPosition{}, model.PerpAccount{}, err
	}
	if err := l.CheckExposure(req.Market, pos.SizeBase, account.Positions); err != nil {
		return model.PerpPosition{}, model.PerpAccount{}, err
	}

	next := cloneAccount(account)
	next.Balance.AvailableBase = account.Balance.AvailableBase.Sub(req.CollateralBase)
	next.Positions = append(next.Positions, pos)
	return pos, next, nil
}

// Settlement is the outcome of closing one position.
type Settlement struct {
	Position    model.PerpPosition `json:"position"`
	ExitPrice   decimal.Decimal    `json:"exit_price"`
	RealizedPnL decimal.Decimal    `json:"realized_pnl"`
	PayoutBase  decimal.Decimal    `json:"payout_base"`
	ClosedAt    time.Time          `json:"closed_at"`
}

// Close settles position id at exitPrice. The payout is collateral + pnl,
// floored at zero, and is credited to the available balance. Every other
// position is carried over untouched.
func Close(account model.PerpAccount, id string, exitPrice decimal.Decimal, now time.Time) (Settlement, model.PerpAccount, error) {
	idx := -1
	for i, p := range account.Positions {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Settlement{}, model.PerpAccount{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	pos := account.Positions[idx]

	pnl, err := UnrealizedPnL(pos, exitPrice)
	if err != nil {
		return Settlement{}, model.PerpAccount{}, err
	}
	payout := decimal.Max(decimal.Zero, pos.CollateralBase.Add(pnl))

	next := cloneAccount(account)
	next.Positions = append(next.Positions[:idx:idx], account.Positions[idx+1:]...)
	next.Balance.AvailableBase = account.Balance.AvailableBase.Add(payout)
	next.Balance.TotalBase = account.Balance.TotalBase.Sub(pos.CollateralBase).Add(payout)

	return Settlement{
		Position:    pos,
		ExitPrice:   exitPrice,
		RealizedPnL: pnl,
		PayoutBase:  payout,
		ClosedAt:    now,
	}, next, nil
}

func cloneAccount(a model.PerpAccount) model.PerpAccount {
	c := a
	c.Positions = append([]model.PerpPosition(nil), a.Positions...)
	return c
}

// ValidateAccount checks an ingested account snapshot: a non-negative
// balance that covers its available part, and positions that can be priced
// with unique IDs.
func ValidateAccount(account model.PerpAccount) error {
	b := account.Balance
	if b.AvailableBase.IsNegative() || b.AvailableBase.GreaterThan(b.TotalBase) {
		return fmt.Errorf("%w: available %s of total %s", ErrInvalidPosition, b.AvailableBase, b.TotalBase)
	}
	seen := make(map[string]bool, len(account.Positions))
	for _, p := range account.Positions {
		if p.ID == "" || p.Market == "" {
			return fmt.Errorf("%w: position without id or market", ErrInvalidPosition)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate position %s", ErrInvalidPosition, p.ID)
		}
		seen[p.ID] = true
		if err := checkPosition(p); err != nil {
			return fmt.Errorf("position %s: %w", p.ID, err)
		}
		if !p.CollateralBase.IsPositive() {
			return fmt.Errorf("%w: position %s collateral %s", ErrInvalidPosition, p.ID, p.CollateralBase)
		}
	}
	return nil
}
