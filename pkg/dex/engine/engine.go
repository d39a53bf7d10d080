// Package engine matches incoming orders against per-pair books and runs
// the settlement pipeline for every executed trade.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ivynet/dexcore/pkg/dex"
	"github.com/ivynet/dexcore/pkg/dex/metrics"
	"github.com/ivynet/dexcore/pkg/dex/orderbook"
	"github.com/ivynet/dexcore/pkg/dex/settle"
)

// Engine is the trading core's surface: SubmitOrder, CancelOrder,
// BookSnapshot. It owns no policy (governance and identity checks happen
// upstream) and no balances (the wallet collaborator does).
//
// Matching is synchronous: an order matches and/or rests within one call.
// Settlement is validate-then-mutate - balance locks are taken on the
// planned fills inside the book's serialized section, and book mutations
// apply only after every lock succeeded, so a lock failure aborts the
// trade with the book untouched.
type Engine struct {
	books   *orderbook.Registry
	settler *settle.Manager
	calc    *settle.Calculator

	// allowMarketRest re-enables the legacy behavior of resting a market
	// order that found an empty opposite side, priced at the book's last
	// trade. Off by default: a market order carries no price of its own.
	allowMarketRest bool

	log *zap.Logger

	// resting maps order id -> pair for CancelOrder lookups.
	resting sync.Map

	stopsMu sync.Mutex
	stops   map[string][]*dex.Order // pair -> admitted stop-loss orders
}

func New(books *orderbook.Registry, settler *settle.Manager, calc *settle.Calculator, allowMarketRest bool, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		books:           books,
		settler:         settler,
		calc:            calc,
		allowMarketRest: allowMarketRest,
		log:             log,
		stops:           make(map[string][]*dex.Order),
	}
}

// SubmitOrder validates and executes one order. Validation failures
// reject synchronously before any state mutation. The returned result
// reports what matched, at what volume-weighted price, and what rested.
func (e *Engine) SubmitOrder(o *dex.Order) (*dex.MatchResult, error) {
	if err := o.Validate(); err != nil {
		metrics.OrdersRejected.WithLabelValues(o.Pair, "invalid").Inc()
		return nil, err
	}
	if o.Model != dex.ModelOrderBook {
		metrics.OrdersRejected.WithLabelValues(o.Pair, "model").Inc()
		return nil, fmt.Errorf("%w: %s orders are not routed through the book engine", dex.ErrInvalidOrder, o.Model)
	}

	book, err := e.books.Get(o.Pair)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(o.Pair, "unknown_pair").Inc()
		return nil, err
	}
	// Reject an id that already rests before matching, not at the rest
	// step: by then makers were mutated and a settlement created.
	if book.Contains(o.ID) {
		metrics.OrdersRejected.WithLabelValues(o.Pair, "duplicate").Inc()
		return nil, fmt.Errorf("%w: order %s already resting", dex.ErrInvalidOrder, o.ID)
	}

	metrics.OrdersSubmitted.WithLabelValues(o.Pair, o.Side.String(), o.Type.String()).Inc()

	switch o.Type {
	case dex.StopLoss:
		return e.admitStop(o), nil
	case dex.Market:
		return e.matchMarket(o, book)
	default:
		return e.matchLimit(o, book)
	}
}

// matchOutcome bundles one executed match with its trade identity and
// computed settlement flows.
type matchOutcome struct {
	plan    *orderbook.FillPlan
	tradeID string
	sd      *dex.SettlementData
}

// matchMarket walks the opposite side until the order fills or liquidity
// runs out. An empty opposite side rejects with ErrNoLiquidity unless the
// legacy rest policy is enabled and a last trade price exists to rest at.
func (e *Engine) matchMarket(o *dex.Order, book *orderbook.OrderBook) (*dex.MatchResult, error) {
	out, err := e.execute(o, book, decimal.Zero, false)
	if err != nil {
		return nil, err
	}

	if !out.plan.FilledAmount.IsPositive() {
		if e.allowMarketRest {
			if last := book.LastPrice(); last.IsPositive() {
				o.Price = last
				o.Type = dex.Limit
				if aerr := book.Add(o); aerr != nil {
					return nil, aerr
				}
				e.resting.Store(o.ID, o.Pair)
				e.log.Info("market_order_rested",
					zap.String("order", o.ID),
					zap.String("pair", o.Pair),
					zap.String("synthesized_price", last.String()))
				return &dex.MatchResult{Remaining: o.Remaining(), Rested: true}, nil
			}
		}
		metrics.OrdersRejected.WithLabelValues(o.Pair, "no_liquidity").Inc()
		return nil, fmt.Errorf("%w: market %s on %s", dex.ErrNoLiquidity, o.Side, o.Pair)
	}

	// A partially filled market order's remainder has no price to rest
	// at; it is reported back to the caller and dropped.
	return e.result(o, out), nil
}

// matchLimit executes a limit order: it consumes resting liquidity at or
// better than its price and rests any remainder on its own side, all in
// one serialized step. An order that does not cross simply rests.
func (e *Engine) matchLimit(o *dex.Order, book *orderbook.OrderBook) (*dex.MatchResult, error) {
	out, err := e.execute(o, book, o.Price, true)
	if err != nil {
		return nil, err
	}
	if out.plan.Rested {
		e.resting.Store(o.ID, o.Pair)
	}
	return e.result(o, out), nil
}

// execute runs one match through the book, wiring the settlement commit
// into the book's plan/commit protocol. On detected corruption the pair
// is taken offline before the error surfaces.
func (e *Engine) execute(o *dex.Order, book *orderbook.OrderBook, limit decimal.Decimal, rest bool) (*matchOutcome, error) {
	tradeID := uuid.NewString()
	var sd *dex.SettlementData

	commit := func(p *orderbook.FillPlan) error {
		var cerr error
		sd, cerr = e.calc.Settlement(o.Side, o.Pair, p.FilledAmount, p.VWAP(), p.PrevLast)
		if cerr != nil {
			return cerr
		}
		_, cerr = e.settler.Create(o, tradeID, sd, p.VWAP())
		return cerr
	}

	plan, err := book.Execute(o, limit, rest, commit)
	// Expired entries evicted during the walk leave the book even when the
	// commit fails, so the cancel index is pruned on both paths.
	if plan != nil {
		for _, id := range plan.Removed {
			e.resting.Delete(id)
		}
	}
	if err != nil {
		if errors.Is(err, dex.ErrInvalidState) {
			e.log.Error("book_corruption", zap.String("pair", o.Pair), zap.Error(err))
			_ = e.books.TakeOffline(o.Pair)
		}
		return nil, err
	}
	if len(plan.Fills) > 0 {
		metrics.TradesMatched.WithLabelValues(o.Pair).Inc()
		e.log.Info("trade_matched",
			zap.String("trade", tradeID),
			zap.String("pair", o.Pair),
			zap.String("taker", o.ID),
			zap.String("filled", plan.FilledAmount.String()),
			zap.String("vwap", plan.VWAP().String()),
			zap.Int("fills", len(plan.Fills)))
	}
	return &matchOutcome{plan: plan, tradeID: tradeID, sd: sd}, nil
}

func (e *Engine) result(o *dex.Order, out *matchOutcome) *dex.MatchResult {
	res := &dex.MatchResult{
		Matched:      out.plan.FilledAmount.IsPositive(),
		FilledAmount: out.plan.FilledAmount,
		Remaining:    o.Remaining(),
		Rested:       out.plan.Rested,
	}
	if res.Matched {
		res.ExecutionPrice = out.plan.VWAP()
		res.TradeID = out.tradeID
		res.Settlement = out.sd
	}
	return res
}

// admitStop parks a validated stop-loss order on the pair's pending list.
// Trigger evaluation belongs to the price feed consumer, not the book.
func (e *Engine) admitStop(o *dex.Order) *dex.MatchResult {
	e.stopsMu.Lock()
	e.stops[o.Pair] = append(e.stops[o.Pair], o)
	e.stopsMu.Unlock()

	e.log.Info("stop_admitted", zap.String("order", o.ID), zap.String("pair", o.Pair))
	return &dex.MatchResult{Remaining: o.Remaining()}
}

// PendingStops returns the admitted stop-loss orders for a pair.
func (e *Engine) PendingStops(pair string) []*dex.Order {
	e.stopsMu.Lock()
	defer e.stopsMu.Unlock()
	out := make([]*dex.Order, len(e.stops[pair]))
	copy(out, e.stops[pair])
	return out
}

// CancelOrder removes a resting order. Returns false when the order is
// unknown or already left the book (filled, expired, or cancelled) - a
// cancel can safely race an in-flight match consuming the same order.
func (e *Engine) CancelOrder(orderID string) bool {
	v, ok := e.resting.Load(orderID)
	if !ok {
		return false
	}
	e.resting.Delete(orderID)

	book, err := e.books.Get(v.(string))
	if err != nil {
		return false
	}
	removed := book.Remove(orderID)
	if removed {
		e.log.Info("order_cancelled", zap.String("order", orderID), zap.String("pair", v.(string)))
	}
	return removed
}

// BookSnapshot returns a read-only aggregated view of a pair's book.
func (e *Engine) BookSnapshot(pair string) (orderbook.View, error) {
	book, err := e.books.Get(pair)
	if err != nil {
		return orderbook.View{}, err
	}
	return book.Snapshot(), nil
}
