package dex

import "github.com/shopspring/decimal"

// AssetAmount is one leg of a trade: an asset symbol and quantity.
type AssetAmount struct {
	Symbol string
	Amount decimal.Decimal
}

// Fees breaks down the cost of a trade. TradeFee is computed by the
// settlement calculator; IGas and ITax are merged in by the accountant
// collaborator after finalization.
type Fees struct {
	TradeFee decimal.Decimal
	IGas     decimal.Decimal
	ITax     decimal.Decimal
}

// Total sums all fee components.
func (f Fees) Total() decimal.Decimal {
	return f.TradeFee.Add(f.IGas).Add(f.ITax)
}

// SettlementData describes the asset flows a match produces for the
// taker. AssetIn is what the taker pays, AssetOut what they receive.
type SettlementData struct {
	AssetIn  AssetAmount
	AssetOut AssetAmount
	Fees     Fees
	// PriceImpact is (executionPrice - lastPrice) / lastPrice relative to
	// the book's pre-trade last price. Zero when no reference price exists.
	PriceImpact decimal.Decimal
}

// MatchResult is the outcome of submitting one order.
type MatchResult struct {
	Matched bool
	// FilledAmount is base quantity executed now; the order may also carry
	// previously filled quantity.
	FilledAmount decimal.Decimal
	// ExecutionPrice is the volume-weighted average across all fills of
	// this match. Zero when nothing matched.
	ExecutionPrice decimal.Decimal
	TradeID        string
	Remaining      decimal.Decimal
	// Rested reports that the (remainder of the) order was inserted into
	// the book as a resting order.
	Rested     bool
	Settlement *SettlementData
}
