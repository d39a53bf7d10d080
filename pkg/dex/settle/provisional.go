package settle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ivynet/dexcore/pkg/dex"
	"github.com/ivynet/dexcore/pkg/dex/metrics"
	"github.com/ivynet/dexcore/pkg/util"
)

// ErrSettlementNotFound is returned for unknown settlement ids.
var ErrSettlementNotFound = errors.New("settlement not found")

// Status is the provisional settlement state machine:
// PROVISIONAL -> FINALIZED | RELEASED, both terminal, first transition wins.
type Status int8

const (
	Provisional Status = iota
	Finalized
	Released
)

func (s Status) String() string {
	switch s {
	case Provisional:
		return "PROVISIONAL"
	case Finalized:
		return "FINALIZED"
	case Released:
		return "RELEASED"
	default:
		return "Unknown"
	}
}

// Settlement is a time-bounded reservation of both trade legs awaiting
// final commit. Exactly one is created per executed trade and exactly one
// terminal transition ever fires on it.
type Settlement struct {
	ID      string
	OrderID string
	TradeID string
	UserID  string
	Pair    string
	Amount  decimal.Decimal
	Price   decimal.Decimal

	AssetIn  dex.AssetAmount
	AssetOut dex.AssetAmount
	Fees     dex.Fees

	Status    Status
	CreatedAt time.Time
	ExpiresAt time.Time

	lockIn  string
	lockOut string
}

// Manager runs two-phase settlement: balances are locked at match time
// and either committed by an external finalizer or auto-released when the
// TTL passes. Finalize and the expiry sweep race; the status transition
// under the manager lock is the compare-and-swap that decides the winner.
type Manager struct {
	mu          sync.Mutex
	settlements map[string]*Settlement

	wallet     dex.Wallet
	accountant dex.Accountant
	escrowUser string
	ttl        time.Duration
	clock      util.Clock
	log        *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// EscrowUser is the wallet account holding counterparty liquidity. The
// credit-pending leg of each settlement is reserved from it.
const EscrowUser = "escrow"

func NewManager(wallet dex.Wallet, accountant dex.Accountant, ttl time.Duration, clock util.Clock, log *zap.Logger) *Manager {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		settlements: make(map[string]*Settlement),
		wallet:      wallet,
		accountant:  accountant,
		escrowUser:  EscrowUser,
		ttl:         ttl,
		clock:       clock,
		log:         log,
		stop:        make(chan struct{}),
	}
}

// Create locks both legs for an executed trade and records the
// provisional settlement with a hard expiry ttl from now.
//
// The assetIn debit is reserved from the taker, the assetOut credit from
// the escrow account. If the second lock fails the first is released, so
// a failed Create leaves no reservation behind and the caller must treat
// the trade as not settled.
func (m *Manager) Create(o *dex.Order, tradeID string, sd *dex.SettlementData, execPrice decimal.Decimal) (*Settlement, error) {
	lockIn, err := m.wallet.LockBalance(o.UserID, sd.AssetIn.Symbol, sd.AssetIn.Amount)
	if err != nil {
		return nil, fmt.Errorf("lock assetIn %s %s for %s: %w", sd.AssetIn.Amount, sd.AssetIn.Symbol, o.UserID, err)
	}
	lockOut, err := m.wallet.LockBalance(m.escrowUser, sd.AssetOut.Symbol, sd.AssetOut.Amount)
	if err != nil {
		if rerr := m.wallet.ReleaseLock(lockIn); rerr != nil {
			m.log.Error("release_after_failed_lock", zap.String("lock", lockIn), zap.Error(rerr))
		}
		return nil, fmt.Errorf("lock assetOut %s %s: %w", sd.AssetOut.Amount, sd.AssetOut.Symbol, err)
	}

	now := m.clock.Now()
	s := &Settlement{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		TradeID:   tradeID,
		UserID:    o.UserID,
		Pair:      o.Pair,
		Amount:    sd.AssetOut.Amount,
		Price:     execPrice,
		AssetIn:   sd.AssetIn,
		AssetOut:  sd.AssetOut,
		Fees:      sd.Fees,
		Status:    Provisional,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		lockIn:    lockIn,
		lockOut:   lockOut,
	}

	m.mu.Lock()
	m.settlements[s.ID] = s
	m.mu.Unlock()

	m.log.Info("settlement_provisional",
		zap.String("settlement", s.ID),
		zap.String("trade", tradeID),
		zap.String("user", o.UserID),
		zap.Time("expires_at", s.ExpiresAt))
	return s, nil
}

// Finalize commits a provisional settlement: ledger entries are applied
// via the wallet and the fee payment is recorded with the accountant.
// Returns false without side effects when the settlement already reached
// a terminal state (expired-and-released or finalized before). A failed
// wallet commit leaves the settlement provisional, so the caller can
// retry and the expiry sweep still releases the locks at TTL.
func (m *Manager) Finalize(settlementID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[settlementID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrSettlementNotFound, settlementID)
	}
	if s.Status != Provisional {
		m.log.Info("finalize_noop", zap.String("settlement", settlementID), zap.String("status", s.Status.String()))
		return false, nil
	}
	s.Status = Finalized

	entries := []dex.LedgerEntry{
		{UserID: s.UserID, Asset: s.AssetIn.Symbol, Amount: s.AssetIn.Amount, Direction: dex.Debit},
		{UserID: m.escrowUser, Asset: s.AssetOut.Symbol, Amount: s.AssetOut.Amount, Direction: dex.Debit},
		{UserID: s.UserID, Asset: s.AssetOut.Symbol, Amount: s.AssetOut.Amount, Direction: dex.Credit},
		{UserID: m.escrowUser, Asset: s.AssetIn.Symbol, Amount: s.AssetIn.Amount, Direction: dex.Credit},
	}
	ledgerID, err := m.wallet.CommitSettlement(s.ID, entries)
	if err != nil {
		// Keep the settlement provisional so the caller can retry or the
		// sweep releases the locks at TTL. Still under m.mu, so no racing
		// transition observed the FINALIZED state.
		s.Status = Provisional
		return false, fmt.Errorf("commit settlement %s: %w", s.ID, err)
	}

	if m.accountant != nil {
		fees, ferr := m.accountant.RecordFeePayment(s.Pair, s.Fees)
		if ferr != nil {
			m.log.Error("fee_record_failed", zap.String("settlement", s.ID), zap.Error(ferr))
		} else {
			s.Fees = fees
		}
	}

	metrics.SettlementsFinalized.WithLabelValues(s.Pair).Inc()
	m.log.Info("settlement_finalized",
		zap.String("settlement", s.ID),
		zap.String("ledger_entry", ledgerID))
	return true, nil
}

// Release frees both locks of a provisional settlement. No-op (false)
// when the settlement is already terminal.
func (m *Manager) Release(settlementID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[settlementID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrSettlementNotFound, settlementID)
	}
	return m.releaseLocked(s)
}

func (m *Manager) releaseLocked(s *Settlement) (bool, error) {
	if s.Status != Provisional {
		return false, nil
	}
	s.Status = Released

	if err := m.wallet.ReleaseLock(s.lockIn); err != nil {
		m.log.Error("release_lock_failed", zap.String("settlement", s.ID), zap.String("lock", s.lockIn), zap.Error(err))
	}
	if err := m.wallet.ReleaseLock(s.lockOut); err != nil {
		m.log.Error("release_lock_failed", zap.String("settlement", s.ID), zap.String("lock", s.lockOut), zap.Error(err))
	}

	metrics.SettlementsReleased.WithLabelValues(s.Pair).Inc()
	m.log.Info("settlement_released", zap.String("settlement", s.ID))
	return true, nil
}

// ReleaseExpired releases every still-provisional settlement whose expiry
// is at or before now. Returns how many it released.
func (m *Manager) ReleaseExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	for _, s := range m.settlements {
		if s.Status != Provisional || now.Before(s.ExpiresAt) {
			continue
		}
		if ok, _ := m.releaseLocked(s); ok {
			released++
		}
	}
	return released
}

// Run drives the expiry sweep until Stop is called. Call in a goroutine.
func (m *Manager) Run(interval time.Duration) {
	for {
		select {
		case <-m.stop:
			return
		case <-m.clock.After(interval):
			if n := m.ReleaseExpired(m.clock.Now()); n > 0 {
				m.log.Info("sweep_released", zap.Int("count", n))
			}
		}
	}
}

// Stop terminates the sweep loop. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// FindByTrade returns a copy of the settlement created for a trade id.
func (m *Manager) FindByTrade(tradeID string) (Settlement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.settlements {
		if s.TradeID == tradeID {
			return *s, true
		}
	}
	return Settlement{}, false
}

// Get returns a copy of a settlement for inspection.
func (m *Manager) Get(settlementID string) (Settlement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[settlementID]
	if !ok {
		return Settlement{}, false
	}
	return *s, true
}

// PendingCount returns how many settlements are still provisional.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.settlements {
		if s.Status == Provisional {
			n++
		}
	}
	return n
}
