package orderbook

import (
	"github.com/shopspring/decimal"

	"github.com/ivynet/dexcore/pkg/dex"
)

// priceFloor bounds the reciprocal component of sell-side priority.
// Validation rejects non-positive prices before an order rests, so the
// floor only keeps the score finite if bad data ever reaches scoring.
var priceFloor = decimal.New(1, -8) // 1e-8

// Entry wraps a resting order with its computed priority score and its
// position inside the side's heap.
type Entry struct {
	Order *dex.Order
	// Priority is the price-dominance score: raw price for bids, inverse
	// price for asks. Higher ranks first on both sides; creation time then
	// arrival sequence break ties.
	Priority decimal.Decimal

	seq   uint64
	index int
}

func priorityScore(side dex.Side, price decimal.Decimal) decimal.Decimal {
	if side == dex.Buy {
		return price
	}
	p := price
	if p.LessThan(priceFloor) {
		p = priceFloor
	}
	return decimal.NewFromInt(1).Div(p)
}

// better reports whether a outranks b under price-time priority.
func better(a, b *Entry) bool {
	if !a.Priority.Equal(b.Priority) {
		return a.Priority.GreaterThan(b.Priority)
	}
	if !a.Order.CreatedAt.Equal(b.Order.CreatedAt) {
		return a.Order.CreatedAt.Before(b.Order.CreatedAt)
	}
	return a.seq < b.seq
}
