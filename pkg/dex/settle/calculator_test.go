package settle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivynet/dexcore/pkg/dex"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSettlementBuyLegs(t *testing.T) {
	c := NewCalculator(30) // 0.3%

	sd, err := c.Settlement(dex.Buy, "APPLE/SOL", dec("10"), dec("10.5"), decimal.Zero)
	require.NoError(t, err)

	// A buy pays quote and receives base.
	assert.Equal(t, "SOL", sd.AssetIn.Symbol)
	assert.True(t, sd.AssetIn.Amount.Equal(dec("105")), "cost = %s", sd.AssetIn.Amount)
	assert.Equal(t, "APPLE", sd.AssetOut.Symbol)
	assert.True(t, sd.AssetOut.Amount.Equal(dec("10")))

	// 0.3% of the quote cost.
	assert.True(t, sd.Fees.TradeFee.Equal(dec("0.315")), "fee = %s", sd.Fees.TradeFee)
	assert.True(t, sd.Fees.IGas.IsZero(), "iGas is the accountant's, not ours")
	assert.True(t, sd.Fees.ITax.IsZero())
	assert.True(t, sd.PriceImpact.IsZero(), "no reference price, no impact")
}

func TestSettlementSellMirrors(t *testing.T) {
	c := NewCalculator(30)

	sd, err := c.Settlement(dex.Sell, "APPLE/SOL", dec("10"), dec("10.5"), decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, "APPLE", sd.AssetIn.Symbol)
	assert.True(t, sd.AssetIn.Amount.Equal(dec("10")))
	assert.Equal(t, "SOL", sd.AssetOut.Symbol)
	assert.True(t, sd.AssetOut.Amount.Equal(dec("105")))
	assert.True(t, sd.Fees.TradeFee.Equal(dec("0.315")))
}

func TestSettlementPriceImpact(t *testing.T) {
	c := NewCalculator(30)

	// Last traded 10, executed at 10.5 -> +5%.
	sd, err := c.Settlement(dex.Buy, "APPLE/SOL", dec("1"), dec("10.5"), dec("10"))
	require.NoError(t, err)
	assert.True(t, sd.PriceImpact.Equal(dec("0.05")), "impact = %s", sd.PriceImpact)

	// Executed below last -> negative impact.
	sd, err = c.Settlement(dex.Sell, "APPLE/SOL", dec("1"), dec("9.5"), dec("10"))
	require.NoError(t, err)
	assert.True(t, sd.PriceImpact.Equal(dec("-0.05")), "impact = %s", sd.PriceImpact)
}

func TestSettlementConfigurableFee(t *testing.T) {
	for _, tc := range []struct {
		bps  int64
		want string
	}{
		{0, "0"},
		{30, "0.315"},
		{100, "1.05"},
	} {
		sd, err := NewCalculator(tc.bps).Settlement(dex.Buy, "APPLE/SOL", dec("10"), dec("10.5"), decimal.Zero)
		require.NoError(t, err)
		assert.True(t, sd.Fees.TradeFee.Equal(dec(tc.want)), "bps=%d fee=%s", tc.bps, sd.Fees.TradeFee)
	}
}

func TestSettlementRejectsBadInput(t *testing.T) {
	c := NewCalculator(30)

	_, err := c.Settlement(dex.Buy, "APPLESOL", dec("1"), dec("10"), decimal.Zero)
	assert.ErrorIs(t, err, dex.ErrInvalidOrder)

	_, err = c.Settlement(dex.Buy, "APPLE/SOL", decimal.Zero, dec("10"), decimal.Zero)
	assert.ErrorIs(t, err, dex.ErrInvalidOrder)

	_, err = c.Settlement(dex.Buy, "APPLE/SOL", dec("1"), decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, dex.ErrInvalidOrder)
}
