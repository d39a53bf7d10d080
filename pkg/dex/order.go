package dex

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "Unknown"
	}
}

// Opposite returns the side an order matches against.
func (s Side) Opposite() Side { return -s }

type OrderType int8

const (
	Market OrderType = iota
	Limit
	StopLoss
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "MARKET"
	case Limit:
		return "LIMIT"
	case StopLoss:
		return "STOP_LOSS"
	default:
		return "Unknown"
	}
}

type OrderStatus int8

const (
	Pending OrderStatus = iota
	Partial
	Filled
	Cancelled
	Expired
)

func (st OrderStatus) String() string {
	switch st {
	case Pending:
		return "PENDING"
	case Partial:
		return "PARTIAL"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Expired:
		return "EXPIRED"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
// Terminal orders never re-enter a book.
func (st OrderStatus) Terminal() bool {
	return st == Filled || st == Cancelled || st == Expired
}

// MatchingModel selects the execution strategy for a pair. This core
// implements the order-book path; AMM orders are routed elsewhere.
type MatchingModel int8

const (
	ModelOrderBook MatchingModel = iota
	ModelAMM
)

func (m MatchingModel) String() string {
	switch m {
	case ModelOrderBook:
		return "ORDER_BOOK"
	case ModelAMM:
		return "AMM"
	default:
		return "Unknown"
	}
}

// MetadataKey enumerates the recognized order metadata extensions.
// Unknown keys are rejected at validation time.
type MetadataKey string

const (
	// MetaStopTrigger is the trigger price for STOP_LOSS orders.
	MetaStopTrigger MetadataKey = "stop_trigger_price"
	// MetaGovernanceDecision carries the upstream ALLOW decision id.
	// The engine trusts admission control happened; it does not evaluate policy.
	MetaGovernanceDecision MetadataKey = "governance_decision"
	// MetaClientRef is an opaque caller correlation id.
	MetaClientRef MetadataKey = "client_ref"
)

func recognizedKey(k MetadataKey) bool {
	switch k {
	case MetaStopTrigger, MetaGovernanceDecision, MetaClientRef:
		return true
	}
	return false
}

// Order is a directional intent against a BASE/QUOTE pair.
// Price is meaningful only for LIMIT (and the STOP_LOSS trigger lives in
// metadata); MARKET orders carry a zero Price.
type Order struct {
	ID        string
	UserID    string
	Pair      string // "BASE/QUOTE"
	Side      Side
	Type      OrderType
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Filled    decimal.Decimal
	Status    OrderStatus
	CreatedAt time.Time
	ExpiresAt time.Time // zero = no expiry
	Model     MatchingModel
	Metadata  map[MetadataKey]string
}

// Remaining is the unfilled portion of the order.
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.Filled)
}

// ExpiredAt reports whether the order's own expiry has passed at now.
func (o *Order) ExpiredAt(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// Validate rejects structurally invalid orders before any state is touched.
func (o *Order) Validate() error {
	if o.ID == "" || o.UserID == "" {
		return fmt.Errorf("%w: missing order or user id", ErrInvalidOrder)
	}
	if _, _, err := SplitPair(o.Pair); err != nil {
		return err
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: bad side %d", ErrInvalidOrder, o.Side)
	}
	if !o.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidOrder, o.Amount)
	}
	if o.Filled.IsNegative() || o.Filled.GreaterThan(o.Amount) {
		return fmt.Errorf("%w: filled %s out of range [0,%s]", ErrInvalidOrder, o.Filled, o.Amount)
	}
	switch o.Type {
	case Limit:
		if !o.Price.IsPositive() {
			return fmt.Errorf("%w: limit order requires positive price", ErrInvalidOrder)
		}
	case Market:
		// price ignored
	case StopLoss:
		trig, ok := o.Metadata[MetaStopTrigger]
		if !ok {
			return fmt.Errorf("%w: stop-loss order requires %s metadata", ErrInvalidOrder, MetaStopTrigger)
		}
		p, err := decimal.NewFromString(trig)
		if err != nil || !p.IsPositive() {
			return fmt.Errorf("%w: bad stop trigger price %q", ErrInvalidOrder, trig)
		}
	default:
		return fmt.Errorf("%w: bad order type %d", ErrInvalidOrder, o.Type)
	}
	for k := range o.Metadata {
		if !recognizedKey(k) {
			return fmt.Errorf("%w: unrecognized metadata key %q", ErrInvalidOrder, k)
		}
	}
	return nil
}

// ApplyFill advances Filled by qty and moves the status machine
// (PENDING/PARTIAL -> PARTIAL or FILLED). Overfilling or filling a
// terminal order is structural corruption.
func (o *Order) ApplyFill(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: non-positive fill %s on order %s", ErrInvalidState, qty, o.ID)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("%w: fill on terminal order %s (%s)", ErrInvalidState, o.ID, o.Status)
	}
	next := o.Filled.Add(qty)
	if next.GreaterThan(o.Amount) {
		return fmt.Errorf("%w: fill %s overflows order %s (%s/%s)", ErrInvalidState, qty, o.ID, o.Filled, o.Amount)
	}
	o.Filled = next
	if next.Equal(o.Amount) {
		o.Status = Filled
	} else {
		o.Status = Partial
	}
	return nil
}

// SplitPair splits "BASE/QUOTE" into its asset symbols.
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: bad pair %q", ErrInvalidOrder, pair)
	}
	return parts[0], parts[1], nil
}
