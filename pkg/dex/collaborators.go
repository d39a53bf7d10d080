package dex

import "github.com/shopspring/decimal"

// EntryDirection marks a ledger entry as a debit or credit.
type EntryDirection int8

const (
	Debit EntryDirection = iota
	Credit
)

func (d EntryDirection) String() string {
	if d == Debit {
		return "DEBIT"
	}
	return "CREDIT"
}

// LedgerEntry is one balance movement submitted to the wallet on commit.
type LedgerEntry struct {
	UserID    string
	Asset     string
	Amount    decimal.Decimal
	Direction EntryDirection
}

// Wallet is the balance/ledger collaborator. Implementations live outside
// this core; locks must be exclusive reservations that either commit or
// release exactly once.
type Wallet interface {
	// LockBalance reserves amount of asset for userID and returns a lock id.
	// Fails with ErrInsufficientBalance when the user cannot cover it.
	LockBalance(userID, asset string, amount decimal.Decimal) (lockID string, err error)
	// ReleaseLock frees a previously taken reservation.
	ReleaseLock(lockID string) error
	// CommitSettlement applies the entries atomically, consuming any
	// reservations they draw on, and returns the ledger entry id.
	CommitSettlement(settlementID string, entries []LedgerEntry) (ledgerEntryID string, err error)
}

// Accountant records fee payments for finalized settlements. It owns the
// iGas/iTax policy and returns the fee set with those components merged in.
type Accountant interface {
	RecordFeePayment(pair string, fees Fees) (Fees, error)
}
