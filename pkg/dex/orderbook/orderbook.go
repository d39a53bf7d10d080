package orderbook

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ivynet/dexcore/pkg/dex"
	"github.com/ivynet/dexcore/pkg/util"
)

// Fill is one maker consumption produced while matching a taker.
type Fill struct {
	MakerOrderID string
	MakerUserID  string
	Price        decimal.Decimal
	Qty          decimal.Decimal
}

// FillPlan is the outcome of walking the opposite side for one taker:
// the fills, their base total and quote notional, plus the pre-trade
// last price for impact computation.
type FillPlan struct {
	Fills        []Fill
	FilledAmount decimal.Decimal
	Notional     decimal.Decimal
	PrevLast     decimal.Decimal
	// Removed lists orders evicted from the book by this match: fully
	// consumed makers and lazily expired entries.
	Removed []string
	// Rested reports that the taker's remainder was inserted as a
	// resting order in the same serialized section.
	Rested bool
}

// VWAP is the volume-weighted average price across the plan's fills.
func (p *FillPlan) VWAP() decimal.Decimal {
	if !p.FilledAmount.IsPositive() {
		return decimal.Zero
	}
	return p.Notional.Div(p.FilledAmount)
}

// OrderBook holds the resting limit orders of one trading pair, both
// sides heap-ordered by price-time priority. Its mutex is the pair's
// serialization point: every mutating operation (add, remove, match)
// for the pair runs under it, and books of different pairs share nothing.
type OrderBook struct {
	mu sync.RWMutex

	pair  string
	base  string
	quote string

	bids *entryHeap
	asks *entryHeap
	byID map[string]*Entry

	lastPrice  decimal.Decimal
	lastUpdate time.Time
	offline    bool
	seq        uint64

	clock util.Clock
}

func New(pair string, clock util.Clock) (*OrderBook, error) {
	base, quote, err := dex.SplitPair(pair)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	bids := &entryHeap{}
	asks := &entryHeap{}
	heap.Init(bids)
	heap.Init(asks)
	return &OrderBook{
		pair:  pair,
		base:  base,
		quote: quote,
		bids:  bids,
		asks:  asks,
		byID:  make(map[string]*Entry),
		clock: clock,
	}, nil
}

func (b *OrderBook) Pair() string  { return b.pair }
func (b *OrderBook) Base() string  { return b.base }
func (b *OrderBook) Quote() string { return b.quote }

func (b *OrderBook) sideHeap(s dex.Side) *entryHeap {
	if s == dex.Buy {
		return b.bids
	}
	return b.asks
}

// Add inserts a limit order as a resting entry on its side.
func (b *OrderBook) Add(o *dex.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.offline {
		return fmt.Errorf("%w: %s", dex.ErrBookOffline, b.pair)
	}
	return b.addLocked(o)
}

func (b *OrderBook) addLocked(o *dex.Order) error {
	if o.Pair != b.pair {
		return fmt.Errorf("%w: order pair %s, book %s", dex.ErrInvalidOrder, o.Pair, b.pair)
	}
	if o.Type != dex.Limit || !o.Price.IsPositive() {
		return fmt.Errorf("%w: only priced limit orders can rest", dex.ErrInvalidOrder)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("%w: terminal order %s cannot rest", dex.ErrInvalidOrder, o.ID)
	}
	if _, dup := b.byID[o.ID]; dup {
		return fmt.Errorf("%w: order %s already resting", dex.ErrInvalidOrder, o.ID)
	}

	b.seq++
	e := &Entry{
		Order:    o,
		Priority: priorityScore(o.Side, o.Price),
		seq:      b.seq,
	}
	heap.Push(b.sideHeap(o.Side), e)
	b.byID[o.ID] = e
	b.lastUpdate = b.clock.Now()
	return nil
}

// Remove cancels a resting order. Returns false when the order is not in
// the book (already consumed, expired, or never rested).
func (b *OrderBook) Remove(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byID[orderID]
	if !ok {
		return false
	}
	heap.Remove(b.sideHeap(e.Order.Side), e.index)
	delete(b.byID, orderID)
	e.Order.Status = dex.Cancelled
	b.lastUpdate = b.clock.Now()
	return true
}

// Contains reports whether an order currently rests in the book.
func (b *OrderBook) Contains(orderID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.byID[orderID]
	return ok
}

// BestBid returns the highest resting bid price.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if e := b.bids.Peek(); e != nil {
		return e.Order.Price, true
	}
	return decimal.Zero, false
}

// BestAsk returns the lowest resting ask price.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if e := b.asks.Peek(); e != nil {
		return e.Order.Price, true
	}
	return decimal.Zero, false
}

// LastPrice is the price of the most recent fill, zero before any trade.
func (b *OrderBook) LastPrice() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice
}

// LastUpdate is the time of the most recent book mutation.
func (b *OrderBook) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// SideLen returns the number of resting orders on a side.
func (b *OrderBook) SideLen(s dex.Side) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sideHeap(s).Len()
}

// Offline reports whether the book was taken out of service.
func (b *OrderBook) Offline() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.offline
}

// SetOffline takes the book out of service after detected corruption.
func (b *OrderBook) SetOffline() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline = true
}

// Execute matches taker against the opposite side under the book lock.
//
// The walk is two-phase: eligible entries are popped into a plan without
// touching any order, commit (balance locking) runs on the plan, and only
// if it succeeds are fills applied - makers mutated or removed and the
// taker advanced. On commit failure every popped entry is pushed back
// untouched, so a failed trade leaves no book mutation behind.
//
// limit bounds eligible prices (taker side semantics); pass zero for an
// unbounded market walk. Resting orders whose own expiry has passed are
// evicted during the walk regardless of commit outcome.
//
// When rest is true a non-terminal remainder of the taker is inserted on
// its own side before the lock is dropped, so match-then-rest is one
// logical step with no window for an interleaved counter-order.
func (b *OrderBook) Execute(taker *dex.Order, limit decimal.Decimal, rest bool, commit func(*FillPlan) error) (*FillPlan, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.offline {
		return nil, fmt.Errorf("%w: %s", dex.ErrBookOffline, b.pair)
	}

	now := b.clock.Now()
	opp := b.sideHeap(taker.Side.Opposite())

	plan := &FillPlan{PrevLast: b.lastPrice}
	var popped []*Entry
	remaining := taker.Remaining()

	for remaining.IsPositive() && opp.Len() > 0 {
		e := opp.Peek()
		if !limit.IsZero() && !crosses(taker.Side, limit, e.Order.Price) {
			break
		}
		heap.Pop(opp)

		if e.Order.ExpiredAt(now) {
			delete(b.byID, e.Order.ID)
			e.Order.Status = dex.Expired
			plan.Removed = append(plan.Removed, e.Order.ID)
			b.lastUpdate = now
			continue
		}

		avail := e.Order.Remaining()
		if !avail.IsPositive() {
			b.offline = true
			return nil, fmt.Errorf("%w: resting order %s has remaining %s", dex.ErrInvalidState, e.Order.ID, avail)
		}
		qty := decimal.Min(remaining, avail)
		plan.Fills = append(plan.Fills, Fill{
			MakerOrderID: e.Order.ID,
			MakerUserID:  e.Order.UserID,
			Price:        e.Order.Price,
			Qty:          qty,
		})
		plan.FilledAmount = plan.FilledAmount.Add(qty)
		plan.Notional = plan.Notional.Add(e.Order.Price.Mul(qty))
		remaining = remaining.Sub(qty)
		popped = append(popped, e)
	}

	if len(plan.Fills) > 0 {
		if commit != nil {
			if err := commit(plan); err != nil {
				for _, e := range popped {
					heap.Push(opp, e)
				}
				// The plan comes back alongside the error: entries evicted
				// as expired during the walk are gone from the book and the
				// caller must drop its own references to them.
				return plan, err
			}
		}

		for i, e := range popped {
			if err := e.Order.ApplyFill(plan.Fills[i].Qty); err != nil {
				b.offline = true
				return nil, err
			}
			if e.Order.Status == dex.Filled {
				delete(b.byID, e.Order.ID)
				plan.Removed = append(plan.Removed, e.Order.ID)
			} else {
				heap.Push(opp, e)
			}
		}
		if err := taker.ApplyFill(plan.FilledAmount); err != nil {
			b.offline = true
			return nil, err
		}

		b.lastPrice = plan.Fills[len(plan.Fills)-1].Price
		b.lastUpdate = now
	}

	if rest && taker.Remaining().IsPositive() && !taker.Status.Terminal() {
		if err := b.addLocked(taker); err != nil {
			return nil, err
		}
		plan.Rested = true
	}
	return plan, nil
}

// crosses reports whether a taker bound at limit can trade at restingPrice.
func crosses(takerSide dex.Side, limit, restingPrice decimal.Decimal) bool {
	if takerSide == dex.Buy {
		return limit.GreaterThanOrEqual(restingPrice)
	}
	return limit.LessThanOrEqual(restingPrice)
}

// Level aggregates resting quantity at one price.
type Level struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
	Orders int
}

// View is a read-only snapshot of the book: bids best-first (descending
// price), asks best-first (ascending price).
type View struct {
	Pair       string
	Bids       []Level
	Asks       []Level
	LastPrice  decimal.Decimal
	LastUpdate time.Time
	Offline    bool
}

// Snapshot aggregates both sides into per-price levels.
func (b *OrderBook) Snapshot() View {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return View{
		Pair:       b.pair,
		Bids:       levels(*b.bids, true),
		Asks:       levels(*b.asks, false),
		LastPrice:  b.lastPrice,
		LastUpdate: b.lastUpdate,
		Offline:    b.offline,
	}
}

func levels(h entryHeap, descending bool) []Level {
	entries := make([]*Entry, len(h))
	copy(entries, h)
	sort.Slice(entries, func(i, j int) bool {
		if descending {
			return entries[i].Order.Price.GreaterThan(entries[j].Order.Price)
		}
		return entries[i].Order.Price.LessThan(entries[j].Order.Price)
	})

	var out []Level
	for _, e := range entries {
		if n := len(out); n > 0 && out[n-1].Price.Equal(e.Order.Price) {
			out[n-1].Amount = out[n-1].Amount.Add(e.Order.Remaining())
			out[n-1].Orders++
			continue
		}
		out = append(out, Level{Price: e.Order.Price, Amount: e.Order.Remaining(), Orders: 1})
	}
	return out
}

// Verify walks both sides checking the structural invariants: heap order
// intact and every resting order inside its fill bounds. A non-nil error
// is an ErrInvalidState condition; callers should take the book offline.
func (b *OrderBook) Verify() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range []*entryHeap{b.bids, b.asks} {
		s := *h
		for i, e := range s {
			if e.Order.Filled.IsNegative() || e.Order.Filled.GreaterThan(e.Order.Amount) {
				return fmt.Errorf("%w: order %s filled %s of %s", dex.ErrInvalidState, e.Order.ID, e.Order.Filled, e.Order.Amount)
			}
			if e.Order.Status.Terminal() {
				return fmt.Errorf("%w: terminal order %s resting", dex.ErrInvalidState, e.Order.ID)
			}
			for _, child := range []int{2*i + 1, 2*i + 2} {
				if child < len(s) && better(s[child], s[i]) {
					return fmt.Errorf("%w: heap order violated at %d/%d", dex.ErrInvalidState, i, child)
				}
			}
		}
	}
	return nil
}
