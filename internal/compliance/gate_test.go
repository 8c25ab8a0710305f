package compliance

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-api/internal/config"
	"payments-api/internal/models"
	"payments-api/internal/repository"
)

var testNow = time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)

type stubKYC struct {
	unverified map[int64]bool
	err        error
}

func (s *stubKYC) IsVerified(ctx context.Context, userID int64) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return !s.unverified[userID], nil
}

func testConfig() config.EngineConfig {
	return config.EngineConfig{CTRThreshold: 10000.00}
}

func newTestGate(store *repository.MemoryStore, kyc *stubKYC) *Gate {
	if kyc == nil {
		kyc = &stubKYC{}
	}
	return NewGate(store.Transactions(), store.CaseStore(), kyc, testConfig(), nil)
}

var seedSeq atomic.Int64

func seedOutgoing(t *testing.T, store *repository.MemoryStore, userID int64, amount string, createdAt time.Time) {
	t.Helper()
	txn := &models.Transaction{
		TransactionNumber: fmt.Sprintf("TXN-SEED-%d", seedSeq.Add(1)),
		Type:              models.TransactionTransfer,
		Status:            models.TransactionCompleted,
		Amount:            decimal.RequireFromString(amount),
		Currency:          "USD",
		SenderUserID:      userID,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}
	require.NoError(t, store.Transactions().Create(context.Background(), txn))
}

func testTransaction(amount string) *models.Transaction {
	return &models.Transaction{
		TransactionNumber: "TXN-AML-TEST",
		Type:              models.TransactionTransfer,
		Status:            models.TransactionPending,
		Amount:            decimal.RequireFromString(amount),
		Currency:          "USD",
		SenderUserID:      42,
	}
}

func TestCleanTransactionPasses(t *testing.T) {
	store := repository.NewMemoryStore()
	gate := newTestGate(store, nil)

	err := gate.Check(context.Background(), testTransaction("150.00"), testNow)
	assert.NoError(t, err)
	assert.Empty(t, store.Cases())
}

func TestUnverifiedSenderRejected(t *testing.T) {
	store := repository.NewMemoryStore()
	gate := newTestGate(store, &stubKYC{unverified: map[int64]bool{42: true}})

	err := gate.Check(context.Background(), testTransaction("150.00"), testNow)
	assert.ErrorIs(t, err, models.ErrComplianceRejected)

	cases := store.Cases()
	require.Len(t, cases, 1)
	assert.Equal(t, models.CaseMoneyLaundering, cases[0].Type)
	assert.Equal(t, int64(42), cases[0].UserID)
}

func TestKYCLookupFailureIsNotARejection(t *testing.T) {
	store := repository.NewMemoryStore()
	gate := newTestGate(store, &stubKYC{err: fmt.Errorf("users service down")})

	err := gate.Check(context.Background(), testTransaction("150.00"), testNow)
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrComplianceRejected)
}

func TestCTRAmountProceedsWithoutCase(t *testing.T) {
	store := repository.NewMemoryStore()
	gate := newTestGate(store, nil)

	// Reporting is mandatory at the threshold but the transaction is legal.
	err := gate.Check(context.Background(), testTransaction("10000.00"), testNow)
	assert.NoError(t, err)
	assert.Empty(t, store.Cases())
}

func TestStructuringSplitRejected(t *testing.T) {
	store := repository.NewMemoryStore()
	seedOutgoing(t, store, 42, "3000.00", testNow.Add(-3*time.Hour))
	seedOutgoing(t, store, 42, "3200.00", testNow.Add(-2*time.Hour))
	seedOutgoing(t, store, 42, "3300.00", testNow.Add(-time.Hour))
	gate := newTestGate(store, nil)

	// 9,500 already moved; 600 more pushes the 24h total over 10,000 while
	// every single transaction stayed under the threshold.
	err := gate.Check(context.Background(), testTransaction("600.00"), testNow)
	assert.ErrorIs(t, err, models.ErrComplianceRejected)

	cases := store.Cases()
	require.Len(t, cases, 1)
	assert.Equal(t, models.CaseStructuring, cases[0].Type)
}

func TestStructuringRequiresThreePriorTransactions(t *testing.T) {
	store := repository.NewMemoryStore()
	seedOutgoing(t, store, 42, "5000.00", testNow.Add(-2*time.Hour))
	seedOutgoing(t, store, 42, "4500.00", testNow.Add(-time.Hour))
	gate := newTestGate(store, nil)

	err := gate.Check(context.Background(), testTransaction("600.00"), testNow)
	assert.NoError(t, err, "two prior transactions are not a structuring pattern")
}

func TestStructuringIgnoresTransactionsOutside24h(t *testing.T) {
	store := repository.NewMemoryStore()
	seedOutgoing(t, store, 42, "3000.00", testNow.Add(-30*time.Hour))
	seedOutgoing(t, store, 42, "3200.00", testNow.Add(-2*time.Hour))
	seedOutgoing(t, store, 42, "3300.00", testNow.Add(-time.Hour))
	seedOutgoing(t, store, 42, "3000.00", testNow.Add(-50*time.Minute))
	gate := newTestGate(store, nil)

	// In-window total is 9,500 + 400 = 9,900: under the threshold.
	err := gate.Check(context.Background(), testTransaction("400.00"), testNow)
	assert.NoError(t, err)
}

func TestStructuringCheckSkippedAtOrAboveThreshold(t *testing.T) {
	store := repository.NewMemoryStore()
	seedOutgoing(t, store, 42, "3000.00", testNow.Add(-3*time.Hour))
	seedOutgoing(t, store, 42, "3200.00", testNow.Add(-2*time.Hour))
	seedOutgoing(t, store, 42, "3300.00", testNow.Add(-time.Hour))
	gate := newTestGate(store, nil)

	// An over-threshold transaction is reported, not structured.
	err := gate.Check(context.Background(), testTransaction("12000.00"), testNow)
	assert.NoError(t, err)
}

func TestUnusualHourFlagsWithoutBlocking(t *testing.T) {
	store := repository.NewMemoryStore()
	gate := newTestGate(store, nil)
	threeAM := time.Date(2024, 6, 12, 3, 30, 0, 0, time.UTC)

	err := gate.Check(context.Background(), testTransaction("150.00"), threeAM)
	assert.NoError(t, err, "unusual-hour finding is flag-only")

	cases := store.Cases()
	require.Len(t, cases, 1)
	assert.Equal(t, models.CaseUnusualPattern, cases[0].Type)
}

func TestRepeatedRoundAmountsFlagWithoutBlocking(t *testing.T) {
	store := repository.NewMemoryStore()
	for i := 0; i < 4; i++ {
		seedOutgoing(t, store, 42, "1500.00", testNow.Add(-time.Duration(i+1)*24*time.Hour/2))
	}
	gate := newTestGate(store, nil)

	err := gate.Check(context.Background(), testTransaction("2000.00"), testNow)
	assert.NoError(t, err)

	cases := store.Cases()
	require.Len(t, cases, 1)
	assert.Equal(t, models.CaseUnusualPattern, cases[0].Type)
}

func TestFewRoundAmountsNotFlagged(t *testing.T) {
	store := repository.NewMemoryStore()
	seedOutgoing(t, store, 42, "1500.00", testNow.Add(-time.Hour))
	gate := newTestGate(store, nil)

	err := gate.Check(context.Background(), testTransaction("2000.00"), testNow)
	assert.NoError(t, err)
	assert.Empty(t, store.Cases())
}
