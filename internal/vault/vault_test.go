package vault

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/prismfinance/synth-engine/internal/model"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// price converts a whole-unit price into a PriceScale word.
func price(v uint64) *uint256.Int { return u(v * 100_000_000) }

func vault(collateral, debt uint64) model.VaultPosition {
	return model.VaultPosition{
		Owner:            "0xabc",
		CollateralAmount: u(collateral),
		DebtAmount:       u(debt),
		MintedBalances:   map[string]*uint256.Int{},
	}
}

var unitPrices = Prices{Collateral: price(1), Token: price(1)}

// --- Ratio and health ---

func TestCollateralRatioPct(t *testing.T) {
	tests := []struct {
		name             string
		collateral, debt uint64
		price            *uint256.Int
		want             uint64
	}{
		{"double covered", 1000, 500, price(1), 200},
		{"truncates", 1000, 300, price(1), 333},
		{"price doubles ratio", 1000, 500, price(2), 400},
		{"fractional price", 1000, 500, u(75_000_000), 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := CollateralRatioPct(vault(tt.collateral, tt.debt), tt.price)
			require.NoError(t, err)
			require.False(t, r.Infinite)
			assert.Equal(t, tt.want, r.Pct.Uint64())
		})
	}
}

func TestCollateralRatioPct_ZeroDebtIsInfinite(t *testing.T) {
	// collateral 150, debt 0, minimum 150%: healthy whatever the price says
	for _, p := range []*uint256.Int{nil, u(0), u(1), price(1), new(uint256.Int).SetAllOne()} {
		r, err := CollateralRatioPct(vault(150, 0), p)
		require.NoError(t, err)
		assert.True(t, r.Infinite)
		assert.Equal(t, Healthy, Health(r, 150))
		assert.Equal(t, Healthy, HealthWithBuffer(r, 150, 25))
	}
}

func TestCollateralRatioPct_ZeroPriceWithDebt(t *testing.T) {
	_, err := CollateralRatioPct(vault(1000, 500), u(0))
	require.ErrorIs(t, err, ErrInvalidVaultState)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		collateral, debt uint64
		want, buffered   Status
	}{
		{1000, 500, Healthy, Healthy}, // 200%
		{875, 500, Healthy, Healthy},  // 175%, the top of the band
		{800, 500, Healthy, Warning},  // 160%
		{750, 500, Healthy, Warning},  // exactly the minimum
		{700, 500, AtRisk, AtRisk},    // 140%
	}
	for _, tt := range tests {
		r, err := CollateralRatioPct(vault(tt.collateral, tt.debt), price(1))
		require.NoError(t, err)
		assert.Equal(t, tt.want, Health(r, 150), "ratio %s", r)
		assert.Equal(t, tt.buffered, HealthWithBuffer(r, 150, 25), "ratio %s", r)
	}
}

func TestAssess(t *testing.T) {
	a, err := Assess(vault(800, 500), price(1), Params{MinCollateralRatioPct: 150, WarningBufferPct: 25})
	require.NoError(t, err)
	assert.Equal(t, Warning, a.Status)

	body, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ratio":"160","status":"warning"}`, string(body))

	a, err = Assess(vault(150, 0), nil, Params{MinCollateralRatioPct: 150})
	require.NoError(t, err)
	body, err = json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ratio":"infinite","status":"healthy"}`, string(body))
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, Params{MinCollateralRatioPct: 150}.Validate())
	require.ErrorIs(t, Params{MinCollateralRatioPct: 99}.Validate(), ErrInvalidParams)
}

// --- Mint headroom ---

func TestMaxAdditionalMint(t *testing.T) {
	tests := []struct {
		name             string
		collateral, debt uint64
		deposit          uint64
		cp, tp           *uint256.Int
		want             uint64
	}{
		// (1500 * 2) * 100 / 150 = 2000 value; minus 500*2 debt value; / 1
		{"deposit and price", 1000, 500, 500, price(2), price(1), 1000},
		{"unit prices", 1000, 500, 500, price(1), price(1), 500},
		{"expensive token", 1000, 500, 500, price(1), price(4), 125},
		{"no debt", 300, 0, 0, price(1), price(1), 200},
		{"already at limit", 750, 500, 0, price(1), price(1), 0},
		{"under water clamps to zero", 600, 500, 0, price(1), price(1), 0},
		// 666 debt headroom * 2 / 3
		{"fractional price ratio", 1000, 0, 0, price(2), price(3), 444},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MaxAdditionalMint(vault(tt.collateral, tt.debt), u(tt.deposit), tt.cp, tt.tp, 150)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Uint64())
		})
	}
}

func TestMaxAdditionalMint_Rejections(t *testing.T) {
	_, err := MaxAdditionalMint(vault(1000, 0), u(0), price(1), u(0), 150)
	require.ErrorIs(t, err, ErrInvalidVaultState)

	_, err = MaxAdditionalMint(vault(1000, 0), u(0), price(1), price(1), 0)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestMaxWithdrawable(t *testing.T) {
	got, err := MaxWithdrawable(vault(1000, 500), 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), got.Uint64())

	// 333 * 150 / 100 = 499.5, so 500 must stay
	got, err = MaxWithdrawable(vault(1000, 333), 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got.Uint64())

	got, err = MaxWithdrawable(vault(700, 500), 150)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

// --- Mutations ---

func TestDepositAndMint_AtBoundary(t *testing.T) {
	req := MintRequest{Deposit: u(500), Symbol: "sEUR", Amount: u(500), Prices: unitPrices}
	next, err := DepositAndMint(vault(1000, 500), req, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), next.CollateralAmount.Uint64())
	assert.Equal(t, uint64(1000), next.DebtAmount.Uint64())
	assert.Equal(t, uint64(500), next.MintedBalances["sEUR"].Uint64())

	req.Amount = u(501)
	_, err = DepositAndMint(vault(1000, 500), req, 150)
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestDepositAndMint_DustMintOnEmptyVault(t *testing.T) {
	// One sUSD is worth half a unit of collateral; the debt it adds must not
	// truncate to zero.
	prices := Prices{Collateral: price(2), Token: price(1)}
	pos := vault(0, 0)
	for i := 0; i < 1000; i++ {
		next, err := DepositAndMint(pos, MintRequest{Symbol: "sUSD", Amount: u(1), Prices: prices}, 150)
		if err == nil {
			pos = next
		}
	}
	assert.True(t, pos.DebtAmount.IsZero())
	assert.NotContains(t, pos.MintedBalances, "sUSD")

	_, err := DepositAndMint(vault(0, 0), MintRequest{Symbol: "sUSD", Amount: u(1), Prices: prices}, 150)
	require.ErrorIs(t, err, ErrInsufficientCollateral)
}

func TestDepositAndMint_RoundsDebtUp(t *testing.T) {
	prices := Prices{Collateral: price(2), Token: price(3)}

	// 444 * 3 / 2 = 666 exactly, the most 1000 collateral backs at 150%
	next, err := DepositAndMint(vault(1000, 0), MintRequest{Symbol: "sEUR", Amount: u(444), Prices: prices}, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(666), next.DebtAmount.Uint64())

	// 1 * 3 / 2 = 1.5 charges 2
	next, err = DepositAndMint(vault(1000, 0), MintRequest{Symbol: "sEUR", Amount: u(1), Prices: prices}, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.DebtAmount.Uint64())

	// 445 * 3 / 2 = 667.5 charges 668 > 666
	_, err = DepositAndMint(vault(1000, 0), MintRequest{Symbol: "sEUR", Amount: u(445), Prices: prices}, 150)
	require.ErrorIs(t, err, ErrInsufficientCollateral)
}

func TestBurnAndWithdraw_RoundsDebtDown(t *testing.T) {
	pos := vault(1000, 2)
	pos.MintedBalances["sEUR"] = u(1)
	next, err := BurnAndWithdraw(pos, BurnRequest{Symbol: "sEUR", Amount: u(1), Prices: Prices{Collateral: price(2), Token: price(3)}}, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next.DebtAmount.Uint64())
}

func TestDepositAndMint_DoesNotMutateInput(t *testing.T) {
	pos := vault(1000, 0)
	pos.MintedBalances["sEUR"] = u(10)
	_, err := DepositAndMint(pos, MintRequest{Symbol: "sEUR", Amount: u(5), Prices: unitPrices}, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), pos.MintedBalances["sEUR"].Uint64())
	assert.Equal(t, uint64(0), pos.DebtAmount.Uint64())
}

func TestDepositAndMint_Rejections(t *testing.T) {
	_, err := DepositAndMint(vault(1000, 0), MintRequest{Amount: u(1), Prices: unitPrices}, 150)
	require.ErrorIs(t, err, ErrInvalidVaultState, "mint without symbol")

	_, err = DepositAndMint(vault(1000, 0), MintRequest{Symbol: "sEUR", Amount: u(1)}, 150)
	require.ErrorIs(t, err, ErrInvalidVaultState, "missing prices")
}

func TestBurnAndWithdraw(t *testing.T) {
	pos := vault(1500, 1000)
	pos.MintedBalances["sEUR"] = u(1000)

	next, err := BurnAndWithdraw(pos, BurnRequest{Symbol: "sEUR", Amount: u(400), Withdraw: u(600), Prices: unitPrices}, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), next.CollateralAmount.Uint64())
	assert.Equal(t, uint64(600), next.DebtAmount.Uint64())
	assert.Equal(t, uint64(600), next.MintedBalances["sEUR"].Uint64())

	// burning everything clears the balance
	next, err = BurnAndWithdraw(pos, BurnRequest{Symbol: "sEUR", Amount: u(1000), Prices: unitPrices}, 150)
	require.NoError(t, err)
	assert.True(t, next.DebtAmount.IsZero())
	assert.NotContains(t, next.MintedBalances, "sEUR")
}

func TestBurnAndWithdraw_Rejections(t *testing.T) {
	pos := vault(1500, 1000)
	pos.MintedBalances["sEUR"] = u(1000)

	tests := []struct {
		name string
		req  BurnRequest
		want error
	}{
		{"burn more than minted", BurnRequest{Symbol: "sEUR", Amount: u(1001), Prices: unitPrices}, ErrInvalidVaultState},
		{"burn unknown symbol", BurnRequest{Symbol: "sJPY", Amount: u(1), Prices: unitPrices}, ErrInvalidVaultState},
		{"withdraw more than deposited", BurnRequest{Withdraw: u(1501), Prices: unitPrices}, ErrInvalidVaultState},
		{"withdraw below minimum", BurnRequest{Withdraw: u(1), Prices: unitPrices}, ErrInsufficientCollateral},
		{"partial burn still too thin", BurnRequest{Symbol: "sEUR", Amount: u(100), Withdraw: u(200), Prices: unitPrices}, ErrInsufficientCollateral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BurnAndWithdraw(pos, tt.req, 150)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

// --- Properties ---

func TestProperty_MaxMintMonotone(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		collateral := rapid.Uint64Range(0, 1<<40).Draw(t, "collateral")
		debt := rapid.Uint64Range(0, 1<<40).Draw(t, "debt")
		moreDebt := rapid.Uint64Range(debt, 1<<41).Draw(t, "moreDebt")
		dep := rapid.Uint64Range(0, 1<<40).Draw(t, "deposit")
		moreDep := rapid.Uint64Range(dep, 1<<41).Draw(t, "moreDeposit")
		cp := u(rapid.Uint64Range(1, 1<<40).Draw(t, "cp"))
		tp := u(rapid.Uint64Range(1, 1<<40).Draw(t, "tp"))
		minPct := rapid.Uint64Range(100, 1000).Draw(t, "minPct")

		base, err := MaxAdditionalMint(vault(collateral, debt), u(dep), cp, tp, minPct)
		require.NoError(t, err)

		bigger, err := MaxAdditionalMint(vault(collateral, debt), u(moreDep), cp, tp, minPct)
		require.NoError(t, err)
		require.False(t, bigger.Lt(base), "more deposit lowered headroom")

		indebted, err := MaxAdditionalMint(vault(collateral, moreDebt), u(dep), cp, tp, minPct)
		require.NoError(t, err)
		require.False(t, indebted.Gt(base), "more debt raised headroom")
	})
}

func TestProperty_MaxMintAlwaysValidates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		collateral := rapid.Uint64Range(0, 1<<40).Draw(t, "collateral")
		debt := rapid.Uint64Range(0, 1<<40).Draw(t, "debt")
		dep := rapid.Uint64Range(0, 1<<40).Draw(t, "deposit")
		prices := Prices{
			Collateral: u(rapid.Uint64Range(1, 1<<40).Draw(t, "cp")),
			Token:      u(rapid.Uint64Range(1, 1<<40).Draw(t, "tp")),
		}
		minPct := rapid.Uint64Range(100, 1000).Draw(t, "minPct")

		pos := vault(collateral, debt)
		if checkInvariant(pos, minPct) != nil {
			return
		}
		headroom, err := MaxAdditionalMint(pos, u(dep), prices.Collateral, prices.Token, minPct)
		require.NoError(t, err)

		_, err = DepositAndMint(pos, MintRequest{Deposit: u(dep), Symbol: "sEUR", Amount: headroom, Prices: prices}, minPct)
		require.NoError(t, err, "minting the reported maximum %s was rejected", headroom.Dec())
	})
}

// --- Snapshots ---

func TestValidatePosition(t *testing.T) {
	pos := vault(1500, 1000)
	pos.MintedBalances["sEUR"] = u(1000)
	require.NoError(t, ValidatePosition(pos))

	noOwner := vault(0, 0)
	noOwner.Owner = ""
	require.ErrorIs(t, ValidatePosition(noOwner), ErrInvalidVaultState)

	zero := vault(0, 0)
	zero.MintedBalances["sEUR"] = u(0)
	require.ErrorIs(t, ValidatePosition(zero), ErrInvalidVaultState)

	badSymbol := vault(0, 0)
	badSymbol.MintedBalances["e-u"] = u(1)
	require.Error(t, ValidatePosition(badSymbol))
}
