package settle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivynet/dexcore/pkg/dex"
	"github.com/ivynet/dexcore/pkg/dex/wallet"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time { return make(chan time.Time) }

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingAccountant struct {
	calls int
}

func (a *recordingAccountant) RecordFeePayment(pair string, fees dex.Fees) (dex.Fees, error) {
	a.calls++
	fees.IGas = decimal.RequireFromString("0.01")
	fees.ITax = decimal.RequireFromString("0.02")
	return fees, nil
}

func testSettlementData() *dex.SettlementData {
	return &dex.SettlementData{
		AssetIn:  dex.AssetAmount{Symbol: "SOL", Amount: decimal.NewFromInt(105)},
		AssetOut: dex.AssetAmount{Symbol: "APPLE", Amount: decimal.NewFromInt(10)},
		Fees:     dex.Fees{TradeFee: decimal.RequireFromString("0.315")},
	}
}

func testOrder() *dex.Order {
	return &dex.Order{
		ID: "o1", UserID: "alice", Pair: "APPLE/SOL",
		Side: dex.Buy, Type: dex.Market,
		Amount: decimal.NewFromInt(10),
	}
}

func newFixture(t *testing.T) (*Manager, *wallet.Memory, *recordingAccountant, *fakeClock) {
	t.Helper()
	w := wallet.NewMemory()
	require.NoError(t, w.Deposit("alice", "SOL", decimal.NewFromInt(200)))
	require.NoError(t, w.Deposit(EscrowUser, "APPLE", decimal.NewFromInt(50)))

	acct := &recordingAccountant{}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(w, acct, 30*time.Second, clock, nil)
	return m, w, acct, clock
}

func TestCreateLocksBothLegs(t *testing.T) {
	m, w, _, clock := newFixture(t)

	s, err := m.Create(testOrder(), "trade-1", testSettlementData(), decimal.RequireFromString("10.5"))
	require.NoError(t, err)

	assert.Equal(t, Provisional, s.Status)
	assert.Equal(t, clock.Now().Add(30*time.Second), s.ExpiresAt)

	// Both legs reserved: debit from the taker, credit-pending from escrow.
	assert.True(t, w.Balance("alice", "SOL").Equal(decimal.NewFromInt(95)))
	assert.True(t, w.LockedTotal("alice", "SOL").Equal(decimal.NewFromInt(105)))
	assert.True(t, w.Balance(EscrowUser, "APPLE").Equal(decimal.NewFromInt(40)))
	assert.True(t, w.LockedTotal(EscrowUser, "APPLE").Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 1, m.PendingCount())
}

func TestCreateInsufficientBalance(t *testing.T) {
	m, w, _, _ := newFixture(t)

	sd := testSettlementData()
	sd.AssetIn.Amount = decimal.NewFromInt(10_000)
	_, err := m.Create(testOrder(), "trade-1", sd, decimal.RequireFromString("10.5"))
	assert.ErrorIs(t, err, dex.ErrInsufficientBalance)

	// Nothing left locked after the failure.
	assert.True(t, w.LockedTotal("alice", "SOL").IsZero())
	assert.True(t, w.Balance("alice", "SOL").Equal(decimal.NewFromInt(200)))
	assert.Equal(t, 0, m.PendingCount())
}

func TestSecondLockFailureReleasesFirst(t *testing.T) {
	m, w, _, _ := newFixture(t)

	sd := testSettlementData()
	sd.AssetOut.Amount = decimal.NewFromInt(10_000) // escrow cannot cover
	_, err := m.Create(testOrder(), "trade-1", sd, decimal.RequireFromString("10.5"))
	assert.ErrorIs(t, err, dex.ErrInsufficientBalance)

	// The assetIn lock taken first must be rolled back.
	assert.True(t, w.Balance("alice", "SOL").Equal(decimal.NewFromInt(200)))
	assert.True(t, w.LockedTotal("alice", "SOL").IsZero())
}

func TestFinalizeCommitsOnce(t *testing.T) {
	m, w, acct, _ := newFixture(t)

	s, err := m.Create(testOrder(), "trade-1", testSettlementData(), decimal.RequireFromString("10.5"))
	require.NoError(t, err)

	done, err := m.Finalize(s.ID)
	require.NoError(t, err)
	assert.True(t, done)

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, Finalized, got.Status)

	// Taker paid SOL, received APPLE; escrow mirrored.
	assert.True(t, w.Balance("alice", "SOL").Equal(decimal.NewFromInt(95)), "alice SOL = %s", w.Balance("alice", "SOL"))
	assert.True(t, w.Balance("alice", "APPLE").Equal(decimal.NewFromInt(10)))
	assert.True(t, w.Balance(EscrowUser, "SOL").Equal(decimal.NewFromInt(105)))
	assert.True(t, w.Balance(EscrowUser, "APPLE").Equal(decimal.NewFromInt(40)))
	assert.True(t, w.LockedTotal("alice", "SOL").IsZero())
	assert.True(t, w.LockedTotal(EscrowUser, "APPLE").IsZero())

	// Accountant merged its fee components exactly once.
	assert.Equal(t, 1, acct.calls)
	assert.True(t, got.Fees.IGas.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, got.Fees.Total().Equal(decimal.RequireFromString("0.345")))

	// Second finalize is a no-op: no double credit.
	done, err = m.Finalize(s.ID)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, acct.calls)
	assert.True(t, w.Balance("alice", "APPLE").Equal(decimal.NewFromInt(10)))
}

// commitFailWallet errors the first failures CommitSettlement calls and
// delegates everything else to the in-memory wallet.
type commitFailWallet struct {
	*wallet.Memory
	failures int
}

func (w *commitFailWallet) CommitSettlement(settlementID string, entries []dex.LedgerEntry) (string, error) {
	if w.failures > 0 {
		w.failures--
		return "", errors.New("ledger unavailable")
	}
	return w.Memory.CommitSettlement(settlementID, entries)
}

func TestFailedFinalizeStaysProvisional(t *testing.T) {
	w := &commitFailWallet{Memory: wallet.NewMemory(), failures: 1}
	require.NoError(t, w.Deposit("alice", "SOL", decimal.NewFromInt(200)))
	require.NoError(t, w.Deposit(EscrowUser, "APPLE", decimal.NewFromInt(50)))
	m := NewManager(w, nil, 30*time.Second, nil, nil)

	s, err := m.Create(testOrder(), "trade-1", testSettlementData(), decimal.RequireFromString("10.5"))
	require.NoError(t, err)

	done, err := m.Finalize(s.ID)
	require.Error(t, err)
	assert.False(t, done)

	// The failed commit must not strand the locks in a terminal state.
	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, Provisional, got.Status)
	assert.True(t, w.LockedTotal("alice", "SOL").Equal(decimal.NewFromInt(105)))
	assert.True(t, w.LockedTotal(EscrowUser, "APPLE").Equal(decimal.NewFromInt(10)))

	// A retry once the ledger recovers commits normally.
	done, err = m.Finalize(s.ID)
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, w.Balance("alice", "APPLE").Equal(decimal.NewFromInt(10)))
	assert.True(t, w.LockedTotal("alice", "SOL").IsZero())
}

func TestFailedFinalizeReleasedByExpiry(t *testing.T) {
	w := &commitFailWallet{Memory: wallet.NewMemory(), failures: 100}
	require.NoError(t, w.Deposit("alice", "SOL", decimal.NewFromInt(200)))
	require.NoError(t, w.Deposit(EscrowUser, "APPLE", decimal.NewFromInt(50)))
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(w, nil, 30*time.Second, clock, nil)

	s, err := m.Create(testOrder(), "trade-1", testSettlementData(), decimal.RequireFromString("10.5"))
	require.NoError(t, err)

	_, err = m.Finalize(s.ID)
	require.Error(t, err)

	// The sweep still sees the settlement and frees both locks at TTL.
	clock.advance(31 * time.Second)
	assert.Equal(t, 1, m.ReleaseExpired(clock.Now()))

	got, _ := m.Get(s.ID)
	assert.Equal(t, Released, got.Status)
	assert.True(t, w.Balance("alice", "SOL").Equal(decimal.NewFromInt(200)))
	assert.True(t, w.Balance(EscrowUser, "APPLE").Equal(decimal.NewFromInt(50)))
	assert.True(t, w.LockedTotal("alice", "SOL").IsZero())
}

func TestExpiryReleasesLocks(t *testing.T) {
	m, w, _, clock := newFixture(t)

	s, err := m.Create(testOrder(), "trade-1", testSettlementData(), decimal.RequireFromString("10.5"))
	require.NoError(t, err)

	// Not yet expired at +29s.
	clock.advance(29 * time.Second)
	assert.Equal(t, 0, m.ReleaseExpired(clock.Now()))

	// Expired at +31s: released exactly once, balances restored.
	clock.advance(2 * time.Second)
	assert.Equal(t, 1, m.ReleaseExpired(clock.Now()))
	assert.Equal(t, 0, m.ReleaseExpired(clock.Now()))

	got, _ := m.Get(s.ID)
	assert.Equal(t, Released, got.Status)
	assert.True(t, w.Balance("alice", "SOL").Equal(decimal.NewFromInt(200)))
	assert.True(t, w.Balance(EscrowUser, "APPLE").Equal(decimal.NewFromInt(50)))
	assert.True(t, w.LockedTotal("alice", "SOL").IsZero())

	// A finalize arriving after expiry is a no-op and credits nothing.
	done, err := m.Finalize(s.ID)
	require.NoError(t, err)
	assert.False(t, done)
	assert.True(t, w.Balance("alice", "APPLE").IsZero())
}

func TestFinalizeBeatsExpiry(t *testing.T) {
	m, w, _, clock := newFixture(t)

	s, err := m.Create(testOrder(), "trade-1", testSettlementData(), decimal.RequireFromString("10.5"))
	require.NoError(t, err)

	done, err := m.Finalize(s.ID)
	require.NoError(t, err)
	require.True(t, done)

	// The sweep finding it later must not release committed funds.
	clock.advance(time.Minute)
	assert.Equal(t, 0, m.ReleaseExpired(clock.Now()))
	assert.True(t, w.Balance("alice", "APPLE").Equal(decimal.NewFromInt(10)))
}

func TestFinalizeUnknownSettlement(t *testing.T) {
	m, _, _, _ := newFixture(t)
	_, err := m.Finalize("nope")
	assert.ErrorIs(t, err, ErrSettlementNotFound)
	_, err = m.Release("nope")
	assert.ErrorIs(t, err, ErrSettlementNotFound)
}

func TestSweepLoopReleases(t *testing.T) {
	w := wallet.NewMemory()
	require.NoError(t, w.Deposit("alice", "SOL", decimal.NewFromInt(200)))
	require.NoError(t, w.Deposit(EscrowUser, "APPLE", decimal.NewFromInt(50)))

	m := NewManager(w, nil, 20*time.Millisecond, nil, nil)
	defer m.Stop()
	go m.Run(5 * time.Millisecond)

	s, err := m.Create(testOrder(), "trade-1", testSettlementData(), decimal.RequireFromString("10.5"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := m.Get(s.ID); got.Status == Released {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sweep never released the expired settlement")
}
