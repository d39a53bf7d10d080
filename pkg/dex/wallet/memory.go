// Package wallet provides an in-memory implementation of the dex.Wallet
// contract. The production ledger lives outside this core; this double
// backs the demo binary and the test suites.
package wallet

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ivynet/dexcore/pkg/dex"
)

type lockRecord struct {
	userID string
	asset  string
	amount decimal.Decimal
}

// Memory tracks balances and exclusive reservations per user and asset.
// A lock moves funds out of the spendable balance until it is released
// or consumed by a settlement commit.
type Memory struct {
	mu       sync.Mutex
	balances map[string]map[string]decimal.Decimal // user -> asset -> spendable
	locks    map[string]lockRecord                 // lock id -> reservation
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]map[string]decimal.Decimal),
		locks:    make(map[string]lockRecord),
	}
}

// Deposit credits a user's spendable balance.
func (w *Memory) Deposit(userID, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("deposit amount must be positive: %s", amount)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.creditLocked(userID, asset, amount)
	return nil
}

// Balance returns a user's spendable balance for asset.
func (w *Memory) Balance(userID, asset string) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID][asset]
}

// LockedTotal returns a user's reserved total for asset.
func (w *Memory) LockedTotal(userID, asset string) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := decimal.Zero
	for _, l := range w.locks {
		if l.userID == userID && l.asset == asset {
			total = total.Add(l.amount)
		}
	}
	return total
}

// LockBalance reserves amount of asset, failing with
// dex.ErrInsufficientBalance when the spendable balance cannot cover it.
func (w *Memory) LockBalance(userID, asset string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("lock amount must be positive: %s", amount)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	have := w.balances[userID][asset]
	if have.LessThan(amount) {
		return "", fmt.Errorf("%w: %s has %s %s, need %s", dex.ErrInsufficientBalance, userID, have, asset, amount)
	}
	w.balances[userID][asset] = have.Sub(amount)

	lockID := uuid.NewString()
	w.locks[lockID] = lockRecord{userID: userID, asset: asset, amount: amount}
	return lockID, nil
}

// ReleaseLock returns a reservation to the owner's spendable balance.
func (w *Memory) ReleaseLock(lockID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.locks[lockID]
	if !ok {
		return fmt.Errorf("unknown lock %s", lockID)
	}
	delete(w.locks, lockID)
	w.creditLocked(l.userID, l.asset, l.amount)
	return nil
}

// CommitSettlement applies the entries: debit entries consume matching
// reservations, credit entries add to spendable balances. The whole batch
// applies under one lock acquisition.
func (w *Memory) CommitSettlement(settlementID string, entries []dex.LedgerEntry) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range entries {
		switch e.Direction {
		case dex.Debit:
			if err := w.consumeLocked(e.UserID, e.Asset, e.Amount); err != nil {
				return "", fmt.Errorf("settlement %s: %w", settlementID, err)
			}
		case dex.Credit:
			w.creditLocked(e.UserID, e.Asset, e.Amount)
		}
	}
	return uuid.NewString(), nil
}

func (w *Memory) creditLocked(userID, asset string, amount decimal.Decimal) {
	if w.balances[userID] == nil {
		w.balances[userID] = make(map[string]decimal.Decimal)
	}
	w.balances[userID][asset] = w.balances[userID][asset].Add(amount)
}

// consumeLocked burns reservations covering amount for (userID, asset).
// Partial consumption of a reservation leaves the remainder locked.
func (w *Memory) consumeLocked(userID, asset string, amount decimal.Decimal) error {
	need := amount
	for id, l := range w.locks {
		if l.userID != userID || l.asset != asset {
			continue
		}
		if l.amount.GreaterThan(need) {
			l.amount = l.amount.Sub(need)
			w.locks[id] = l
			return nil
		}
		need = need.Sub(l.amount)
		delete(w.locks, id)
		if need.IsZero() {
			return nil
		}
	}
	return fmt.Errorf("debit %s %s for %s exceeds locked funds by %s", amount, asset, userID, need)
}
