package settle

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ivynet/dexcore/pkg/dex"
)

// Calculator derives asset flows and the trade fee from a match. The fee
// is a configurable fraction of the quote-denominated cost; iGas/iTax are
// the accountant's business and stay zero here.
type Calculator struct {
	feeRate decimal.Decimal
}

// NewCalculator builds a calculator charging feeBps basis points
// (30 bps = 0.3%) on the quote cost of each trade.
func NewCalculator(feeBps int64) *Calculator {
	return &Calculator{
		feeRate: decimal.New(feeBps, -4),
	}
}

// FeeRate returns the configured trade fee fraction.
func (c *Calculator) FeeRate() decimal.Decimal { return c.feeRate }

// Settlement computes the directional legs for a taker fill.
//
// A BUY pays quote (filled x execution price) and receives base; a SELL
// is the mirror. priceImpact is relative to prevLast, the book's last
// trade price before this match, and stays zero when no such reference
// exists.
func (c *Calculator) Settlement(side dex.Side, pair string, filled, execPrice, prevLast decimal.Decimal) (*dex.SettlementData, error) {
	base, quote, err := dex.SplitPair(pair)
	if err != nil {
		return nil, err
	}
	if !filled.IsPositive() || !execPrice.IsPositive() {
		return nil, fmt.Errorf("%w: settlement needs positive fill and price (%s @ %s)", dex.ErrInvalidOrder, filled, execPrice)
	}

	cost := filled.Mul(execPrice)
	sd := &dex.SettlementData{
		Fees: dex.Fees{TradeFee: cost.Mul(c.feeRate)},
	}
	if side == dex.Buy {
		sd.AssetIn = dex.AssetAmount{Symbol: quote, Amount: cost}
		sd.AssetOut = dex.AssetAmount{Symbol: base, Amount: filled}
	} else {
		sd.AssetIn = dex.AssetAmount{Symbol: base, Amount: filled}
		sd.AssetOut = dex.AssetAmount{Symbol: quote, Amount: cost}
	}

	if prevLast.IsPositive() {
		sd.PriceImpact = execPrice.Sub(prevLast).Div(prevLast)
	}
	return sd, nil
}
