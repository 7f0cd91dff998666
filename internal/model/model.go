// Package model defines the snapshot types shared across the engine.
//
// Every value here is handed to the engine as an immutable snapshot and
// handed back as a new value; nothing in the engine keeps a reference to a
// snapshot after a call returns. Integer amounts use 256-bit words to match
// the contracts; perp figures use shopspring/decimal. Never float64 for money.
package model

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/prismfinance/synth-engine/internal/pair"
)

// Pool is one AMM pool as last observed on chain.
//
// Real reserves are the withdrawable liquidity. Virtual reserves are the
// oracle-anchored quantities the pricing curve runs on; they may exceed the
// real reserves to dampen slippage on shallow pools.
type Pool struct {
	TokenA          string       `json:"token_a"`
	TokenB          string       `json:"token_b"`
	RealReserveA    *uint256.Int `json:"real_reserve_a"`
	RealReserveB    *uint256.Int `json:"real_reserve_b"`
	VirtualReserveA *uint256.Int `json:"virtual_reserve_a"`
	VirtualReserveB *uint256.Int `json:"virtual_reserve_b"`
	FeeBps          uint64       `json:"fee_bps"`
	// OraclePrice is the price of one TokenA unit in TokenB units, scaled by
	// fixedpoint.PriceScale. Zero means the pool has no oracle anchor.
	OraclePrice     *uint256.Int `json:"oracle_price"`
	OracleTimestamp time.Time    `json:"oracle_timestamp"`
	Paused          bool         `json:"paused"`
	TotalLPSupply   *uint256.Int `json:"total_lp_supply"`
}

// Key returns the ordered pair key of the pool.
func (p Pool) Key() pair.Key {
	return pair.NewKey(p.TokenA, p.TokenB)
}

// Clone returns a deep copy so callers can derive a new snapshot without
// aliasing the words of the old one.
func (p Pool) Clone() Pool {
	c := p
	c.RealReserveA = cloneWord(p.RealReserveA)
	c.RealReserveB = cloneWord(p.RealReserveB)
	c.VirtualReserveA = cloneWord(p.VirtualReserveA)
	c.VirtualReserveB = cloneWord(p.VirtualReserveB)
	c.OraclePrice = cloneWord(p.OraclePrice)
	c.TotalLPSupply = cloneWord(p.TotalLPSupply)
	return c
}

// PoolIndex maps ordered pair keys to pools.
type PoolIndex map[pair.Key]Pool

// NewPoolIndex indexes pools by key. A later pool with the same key replaces
// an earlier one.
func NewPoolIndex(pools ...Pool) PoolIndex {
	idx := make(PoolIndex, len(pools))
	for _, p := range pools {
		idx[p.Key()] = p
	}
	return idx
}

// Lookup returns the pool trading x against y, in either order.
func (idx PoolIndex) Lookup(x, y string) (Pool, bool) {
	p, ok := idx[pair.NewKey(x, y)]
	return p, ok
}

// RouteKind tags the variants of Route.
type RouteKind string

const (
	RouteDirect RouteKind = "direct"
	RouteTwoHop RouteKind = "two_hop"
)

// Route is a path from a source to a destination currency. It is a closed
// sum type: DirectRoute and TwoHopRoute are its only implementations.
type Route interface {
	Kind() RouteKind
	Source() string
	Destination() string
	// Pools returns the pools in hop order.
	Pools() []Pool
	isRoute()
}

// DirectRoute swaps through a single pool.
type DirectRoute struct {
	Pool Pool
	From string
	To   string
}

func (DirectRoute) Kind() RouteKind       { return RouteDirect }
func (r DirectRoute) Source() string      { return r.From }
func (r DirectRoute) Destination() string { return r.To }
func (r DirectRoute) Pools() []Pool       { return []Pool{r.Pool} }
func (DirectRoute) isRoute()              {}

// TwoHopRoute swaps From -> Hub through First, then Hub -> To through Second.
type TwoHopRoute struct {
	First  Pool
	Second Pool
	From   string
	Hub    string
	To     string
}

func (TwoHopRoute) Kind() RouteKind       { return RouteTwoHop }
func (r TwoHopRoute) Source() string      { return r.From }
func (r TwoHopRoute) Destination() string { return r.To }
func (r TwoHopRoute) Pools() []Pool       { return []Pool{r.First, r.Second} }
func (TwoHopRoute) isRoute()              {}

// HopQuote is the quote for one pool of a route.
type HopQuote struct {
	Pool           pair.Key     `json:"pool"`
	TokenIn        string       `json:"token_in"`
	TokenOut       string       `json:"token_out"`
	AmountIn       *uint256.Int `json:"amount_in"`
	AmountOut      *uint256.Int `json:"amount_out"`
	FeeAmount      *uint256.Int `json:"fee_amount"` // in TokenIn units
	PriceImpactBps int64        `json:"price_impact_bps"`
}

// Quote is a computed swap result. Quotes are never persisted.
type Quote struct {
	InputAmount  *uint256.Int `json:"input_amount"`
	OutputAmount *uint256.Int `json:"output_amount"`
	// FeeAmount is the sum of hop fees. Each hop charges in its own input
	// currency; Hops carries the per-currency breakdown.
	FeeAmount      *uint256.Int `json:"fee_amount"`
	PriceImpactBps int64        `json:"price_impact_bps"`
	Route          Route        `json:"-"`
	Hops           []HopQuote   `json:"hops"`
	// SnapshotAt is the oldest oracle timestamp among the pools used, so a
	// caller can discard a quote computed from stale state.
	SnapshotAt time.Time `json:"snapshot_at"`
}

// VaultPosition is one user's collateralized-debt position.
type VaultPosition struct {
	Owner            string       `json:"owner"`
	CollateralAmount *uint256.Int `json:"collateral_amount"` // base-asset units
	DebtAmount       *uint256.Int `json:"debt_amount"`       // base-asset-equivalent units
	// MintedBalances maps synthetic symbol to the amount minted against
	// this vault.
	MintedBalances map[string]*uint256.Int `json:"minted_balances"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// Clone returns a deep copy of the position, including the minted map.
func (v VaultPosition) Clone() VaultPosition {
	c := v
	c.CollateralAmount = cloneWord(v.CollateralAmount)
	c.DebtAmount = cloneWord(v.DebtAmount)
	c.MintedBalances = make(map[string]*uint256.Int, len(v.MintedBalances))
	for sym, amt := range v.MintedBalances {
		c.MintedBalances[sym] = cloneWord(amt)
	}
	return c
}

// PerpPosition is one leveraged position. Current price, PnL, liquidation
// price and margin ratio are derived on demand and never stored.
type PerpPosition struct {
	ID             string          `json:"id"`
	Market         string          `json:"market"`
	IsLong         bool            `json:"is_long"`
	SizeBase       decimal.Decimal `json:"size_base"`
	CollateralBase decimal.Decimal `json:"collateral_base"`
	Leverage       int             `json:"leverage"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	OpenedAt       time.Time       `json:"opened_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PerpAccountBalance is the perp subsystem's collateral balance. It is
// separate from vault collateral; the two never share funds.
type PerpAccountBalance struct {
	AvailableBase decimal.Decimal `json:"available_base"` // withdrawable
	TotalBase     decimal.Decimal `json:"total_base"`     // available + locked margin
}

// Locked returns the margin locked across open positions.
func (b PerpAccountBalance) Locked() decimal.Decimal {
	return b.TotalBase.Sub(b.AvailableBase)
}

// PerpAccount is a user's perp balance together with their open positions.
type PerpAccount struct {
	Owner     string             `json:"owner"`
	Balance   PerpAccountBalance `json:"balance"`
	Positions []PerpPosition     `json:"positions"`
}

func cloneWord(x *uint256.Int) *uint256.Int {
	if x == nil {
		return nil
	}
	return x.Clone()
}
