package reversal

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-api/internal/ledger"
	"payments-api/internal/models"
	"payments-api/internal/repository"
)

var testNow = time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)

type harness struct {
	store   *repository.MemoryStore
	service *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	ldg := ledger.New(store.Accounts(), ledger.NewKeyedLocker(5*time.Second), 5, time.Millisecond)
	service := NewService(store.Reversals(), store.Transactions(), ldg, 90).
		WithClock(func() time.Time { return testNow })
	return &harness{store: store, service: service}
}

func (h *harness) addAccount(t *testing.T, userID int64, balance string) *models.Account {
	t.Helper()
	account := models.NewAccount(userID, "USD")
	account.Balance = decimal.RequireFromString(balance)
	require.NoError(t, h.store.Accounts().Create(context.Background(), account))
	return account
}

var txnSeq atomic.Int64

// addCompletedTransfer records a settled transfer and returns it. Account
// balances are assumed to already reflect it.
func (h *harness) addCompletedTransfer(t *testing.T, sender, receiver *models.Account, amount string, completedAt time.Time) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		TransactionNumber: fmt.Sprintf("TXN-ORIG-%d", txnSeq.Add(1)),
		Type:              models.TransactionTransfer,
		Status:            models.TransactionCompleted,
		Amount:            decimal.RequireFromString(amount),
		Fee:               decimal.RequireFromString("2.90"),
		Currency:          "USD",
		SenderAccount:     sender.AccountNumber,
		ReceiverAccount:   receiver.AccountNumber,
		SenderUserID:      sender.UserID,
		ReceiverUserID:    receiver.UserID,
		CreatedAt:         completedAt,
		UpdatedAt:         completedAt,
		CompletedAt:       completedAt,
	}
	require.NoError(t, h.store.Transactions().Create(context.Background(), txn))
	return txn
}

func (h *harness) balance(t *testing.T, accountNumber string) decimal.Decimal {
	t.Helper()
	account, err := h.store.Accounts().GetByNumber(context.Background(), accountNumber)
	require.NoError(t, err)
	return account.Balance
}

func TestFullReversalRoundTrip(t *testing.T) {
	h := newHarness(t)
	// Balances after a 100.00 transfer with a 2.90 fee.
	sender := h.addAccount(t, 1, "897.10")
	receiver := h.addAccount(t, 2, "100.00")
	original := h.addCompletedTransfer(t, sender, receiver, "100.00", testNow.Add(-24*time.Hour))

	rev, err := h.service.Request(context.Background(), Request{
		OriginalNumber: original.TransactionNumber,
		RequestedBy:    1,
		Type:           models.ReversalFull,
		Amount:         decimal.RequireFromString("100.00"),
		Reason:         "goods not delivered",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReversalPending, rev.Status)

	rev, err = h.service.Approve(context.Background(), rev.ReversalNumber, "admin-1", "confirmed with merchant")
	require.NoError(t, err)
	assert.Equal(t, models.ReversalApproved, rev.Status)

	rev, err = h.service.Process(context.Background(), rev.ReversalNumber, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReversalProcessed, rev.Status)
	require.NotEmpty(t, rev.CompensatingNumber)

	// The amount came back; the fee stayed with the platform.
	assert.True(t, decimal.RequireFromString("997.10").Equal(h.balance(t, sender.AccountNumber)))
	assert.True(t, h.balance(t, receiver.AccountNumber).IsZero())

	compensating, err := h.store.Transactions().GetByNumber(context.Background(), rev.CompensatingNumber)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, compensating.Status)
	assert.Equal(t, original.TransactionNumber, compensating.CompensatesNumber)
	assert.Equal(t, original.ReceiverAccount, compensating.SenderAccount, "compensation runs opposite to the original")
	assert.True(t, compensating.Fee.IsZero(), "compensation carries no fee")

	// The original record is untouched.
	stored, err := h.store.Transactions().GetByNumber(context.Background(), original.TransactionNumber)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, stored.Status)
}

func TestPartialReversalMovesPartialAmount(t *testing.T) {
	h := newHarness(t)
	sender := h.addAccount(t, 1, "897.10")
	receiver := h.addAccount(t, 2, "100.00")
	original := h.addCompletedTransfer(t, sender, receiver, "100.00", testNow.Add(-time.Hour))

	rev, err := h.service.Request(context.Background(), Request{
		OriginalNumber: original.TransactionNumber,
		RequestedBy:    1,
		Type:           models.ReversalPartial,
		Amount:         decimal.RequireFromString("40.00"),
		Reason:         "partial refund agreed",
	})
	require.NoError(t, err)
	_, err = h.service.Approve(context.Background(), rev.ReversalNumber, "admin-1", "")
	require.NoError(t, err)
	_, err = h.service.Process(context.Background(), rev.ReversalNumber, "admin-1")
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("937.10").Equal(h.balance(t, sender.AccountNumber)))
	assert.True(t, decimal.RequireFromString("60.00").Equal(h.balance(t, receiver.AccountNumber)))
}

func TestReversalAmountValidation(t *testing.T) {
	h := newHarness(t)
	sender := h.addAccount(t, 1, "0.00")
	receiver := h.addAccount(t, 2, "100.00")
	original := h.addCompletedTransfer(t, sender, receiver, "100.00", testNow.Add(-time.Hour))

	tests := []struct {
		name   string
		rType  models.ReversalType
		amount string
	}{
		{"full must match exactly", models.ReversalFull, "99.99"},
		{"partial must be strictly less", models.ReversalPartial, "100.00"},
		{"refund cannot exceed", models.ReversalRefund, "100.01"},
		{"amount must be positive", models.ReversalFull, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.service.Request(context.Background(), Request{
				OriginalNumber: original.TransactionNumber,
				RequestedBy:    1,
				Type:           tt.rType,
				Amount:         decimal.RequireFromString(tt.amount),
				Reason:         "test",
			})
			assert.ErrorIs(t, err, models.ErrReversalAmountInvalid)
		})
	}
}

func TestIneligibleOriginals(t *testing.T) {
	h := newHarness(t)
	sender := h.addAccount(t, 1, "1000.00")
	receiver := h.addAccount(t, 2, "1000.00")

	t.Run("pending transaction", func(t *testing.T) {
		txn := h.addCompletedTransfer(t, sender, receiver, "10.00", testNow.Add(-time.Hour))
		txn.Status = models.TransactionPending
		require.NoError(t, h.store.Transactions().Update(context.Background(), txn))

		_, err := h.service.Request(context.Background(), Request{
			OriginalNumber: txn.TransactionNumber, RequestedBy: 1,
			Type: models.ReversalFull, Amount: decimal.RequireFromString("10.00"), Reason: "test",
		})
		assert.ErrorIs(t, err, models.ErrReversalIneligible)
	})

	t.Run("compensating transaction", func(t *testing.T) {
		txn := h.addCompletedTransfer(t, sender, receiver, "10.00", testNow.Add(-time.Hour))
		txn.CompensatesNumber = "TXN-SOMETHING"
		require.NoError(t, h.store.Transactions().Update(context.Background(), txn))

		_, err := h.service.Request(context.Background(), Request{
			OriginalNumber: txn.TransactionNumber, RequestedBy: 1,
			Type: models.ReversalFull, Amount: decimal.RequireFromString("10.00"), Reason: "test",
		})
		assert.ErrorIs(t, err, models.ErrReversalIneligible)
	})

	t.Run("outside the reversal window", func(t *testing.T) {
		txn := h.addCompletedTransfer(t, sender, receiver, "10.00", testNow.AddDate(0, 0, -91))

		_, err := h.service.Request(context.Background(), Request{
			OriginalNumber: txn.TransactionNumber, RequestedBy: 1,
			Type: models.ReversalFull, Amount: decimal.RequireFromString("10.00"), Reason: "test",
		})
		assert.ErrorIs(t, err, models.ErrReversalIneligible)
	})

	t.Run("duplicate reversal", func(t *testing.T) {
		txn := h.addCompletedTransfer(t, sender, receiver, "10.00", testNow.Add(-time.Hour))

		_, err := h.service.Request(context.Background(), Request{
			OriginalNumber: txn.TransactionNumber, RequestedBy: 1,
			Type: models.ReversalFull, Amount: decimal.RequireFromString("10.00"), Reason: "first",
		})
		require.NoError(t, err)

		_, err = h.service.Request(context.Background(), Request{
			OriginalNumber: txn.TransactionNumber, RequestedBy: 1,
			Type: models.ReversalFull, Amount: decimal.RequireFromString("10.00"), Reason: "second",
		})
		assert.ErrorIs(t, err, models.ErrReversalIneligible)
	})
}

func TestRejectedReversalAllowsNewRequest(t *testing.T) {
	h := newHarness(t)
	sender := h.addAccount(t, 1, "1000.00")
	receiver := h.addAccount(t, 2, "1000.00")
	txn := h.addCompletedTransfer(t, sender, receiver, "10.00", testNow.Add(-time.Hour))

	rev, err := h.service.Request(context.Background(), Request{
		OriginalNumber: txn.TransactionNumber, RequestedBy: 1,
		Type: models.ReversalFull, Amount: decimal.RequireFromString("10.00"), Reason: "first",
	})
	require.NoError(t, err)
	_, err = h.service.Reject(context.Background(), rev.ReversalNumber, "admin-1", "no grounds")
	require.NoError(t, err)

	_, err = h.service.Request(context.Background(), Request{
		OriginalNumber: txn.TransactionNumber, RequestedBy: 1,
		Type: models.ReversalFull, Amount: decimal.RequireFromString("10.00"), Reason: "second, with evidence",
	})
	assert.NoError(t, err, "a rejected reversal does not consume the original")
}

func TestWorkflowStateTransitions(t *testing.T) {
	h := newHarness(t)
	sender := h.addAccount(t, 1, "1000.00")
	receiver := h.addAccount(t, 2, "1000.00")
	txn := h.addCompletedTransfer(t, sender, receiver, "10.00", testNow.Add(-time.Hour))

	rev, err := h.service.Request(context.Background(), Request{
		OriginalNumber: txn.TransactionNumber, RequestedBy: 1,
		Type: models.ReversalFull, Amount: decimal.RequireFromString("10.00"), Reason: "test",
	})
	require.NoError(t, err)

	// PENDING cannot be processed directly.
	_, err = h.service.Process(context.Background(), rev.ReversalNumber, "admin-1")
	assert.ErrorIs(t, err, models.ErrReversalIneligible)

	_, err = h.service.Approve(context.Background(), rev.ReversalNumber, "admin-1", "")
	require.NoError(t, err)

	// APPROVED cannot be approved or rejected again.
	_, err = h.service.Approve(context.Background(), rev.ReversalNumber, "admin-1", "")
	assert.ErrorIs(t, err, models.ErrReversalIneligible)
	_, err = h.service.Reject(context.Background(), rev.ReversalNumber, "admin-1", "")
	assert.ErrorIs(t, err, models.ErrReversalIneligible)

	_, err = h.service.Process(context.Background(), rev.ReversalNumber, "admin-1")
	require.NoError(t, err)

	// PROCESSED is terminal.
	_, err = h.service.Process(context.Background(), rev.ReversalNumber, "admin-1")
	assert.ErrorIs(t, err, models.ErrReversalIneligible)
}

func TestDepositReversalDebitsAccount(t *testing.T) {
	h := newHarness(t)
	account := h.addAccount(t, 1, "500.00")
	deposit := &models.Transaction{
		TransactionNumber: fmt.Sprintf("TXN-ORIG-%d", txnSeq.Add(1)),
		Type:              models.TransactionDeposit,
		Status:            models.TransactionCompleted,
		Amount:            decimal.RequireFromString("200.00"),
		Fee:               decimal.Zero,
		Currency:          "USD",
		ReceiverAccount:   account.AccountNumber,
		SenderUserID:      1,
		ReceiverUserID:    1,
		CreatedAt:         testNow.Add(-time.Hour),
		UpdatedAt:         testNow.Add(-time.Hour),
		CompletedAt:       testNow.Add(-time.Hour),
	}
	require.NoError(t, h.store.Transactions().Create(context.Background(), deposit))

	rev, err := h.service.Request(context.Background(), Request{
		OriginalNumber: deposit.TransactionNumber, RequestedBy: 1,
		Type: models.ReversalRefund, Amount: decimal.RequireFromString("200.00"), Reason: "chargeback",
	})
	require.NoError(t, err)
	_, err = h.service.Approve(context.Background(), rev.ReversalNumber, "admin-1", "")
	require.NoError(t, err)
	_, err = h.service.Process(context.Background(), rev.ReversalNumber, "admin-1")
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("300.00").Equal(h.balance(t, account.AccountNumber)))
}

func TestProcessFailureLeavesReversalApproved(t *testing.T) {
	h := newHarness(t)
	sender := h.addAccount(t, 1, "897.10")
	// Receiver already spent the money; the compensating debit must fail.
	receiver := h.addAccount(t, 2, "5.00")
	original := h.addCompletedTransfer(t, sender, receiver, "100.00", testNow.Add(-time.Hour))

	rev, err := h.service.Request(context.Background(), Request{
		OriginalNumber: original.TransactionNumber, RequestedBy: 1,
		Type: models.ReversalFull, Amount: decimal.RequireFromString("100.00"), Reason: "test",
	})
	require.NoError(t, err)
	_, err = h.service.Approve(context.Background(), rev.ReversalNumber, "admin-1", "")
	require.NoError(t, err)

	_, err = h.service.Process(context.Background(), rev.ReversalNumber, "admin-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)

	stored, err := h.service.Get(context.Background(), rev.ReversalNumber)
	require.NoError(t, err)
	assert.Equal(t, models.ReversalApproved, stored.Status, "failed processing may be retried")
	assert.True(t, decimal.RequireFromString("897.10").Equal(h.balance(t, sender.AccountNumber)))
	assert.True(t, decimal.RequireFromString("5.00").Equal(h.balance(t, receiver.AccountNumber)))
}

func TestExpirePendingRejectsStaleRequests(t *testing.T) {
	h := newHarness(t)
	sender := h.addAccount(t, 1, "1000.00")
	receiver := h.addAccount(t, 2, "1000.00")

	stale := h.addCompletedTransfer(t, sender, receiver, "10.00", testNow.Add(-40*24*time.Hour))
	rev, err := h.service.Request(context.Background(), Request{
		OriginalNumber: stale.TransactionNumber, RequestedBy: 1,
		Type: models.ReversalFull, Amount: decimal.RequireFromString("10.00"), Reason: "old",
	})
	require.NoError(t, err)

	// Backdate the request itself.
	rev.CreatedAt = testNow.Add(-31 * 24 * time.Hour)
	require.NoError(t, h.store.Reversals().Update(context.Background(), rev))

	expired, err := h.service.ExpirePending(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stored, err := h.service.Get(context.Background(), rev.ReversalNumber)
	require.NoError(t, err)
	assert.Equal(t, models.ReversalRejected, stored.Status)
}
