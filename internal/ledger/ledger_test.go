package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-api/internal/models"
	"payments-api/internal/repository"
)

func newTestLedger(t *testing.T) (*Ledger, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	ldg := New(store.Accounts(), NewKeyedLocker(5*time.Second), 5, time.Millisecond)
	return ldg, store
}

func createAccount(t *testing.T, store *repository.MemoryStore, userID int64, balance string) *models.Account {
	t.Helper()
	account := models.NewAccount(userID, "USD")
	account.Balance = decimal.RequireFromString(balance)
	require.NoError(t, store.Accounts().Create(context.Background(), account))
	return account
}

func TestCreditIncreasesBalance(t *testing.T) {
	ldg, store := newTestLedger(t)
	account := createAccount(t, store, 1, "100.00")

	newBalance, err := ldg.Credit(context.Background(), account.AccountNumber, decimal.RequireFromString("25.50"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("125.50").Equal(newBalance))
}

func TestDebitRejectsOverdraft(t *testing.T) {
	ldg, store := newTestLedger(t)
	account := createAccount(t, store, 1, "10.00")

	_, err := ldg.Debit(context.Background(), account.AccountNumber, decimal.RequireFromString("10.01"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)

	balance, err := ldg.Balance(context.Background(), account.AccountNumber)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.00").Equal(balance), "failed debit must not move money")
}

func TestDebitExactBalanceSucceeds(t *testing.T) {
	ldg, store := newTestLedger(t)
	account := createAccount(t, store, 1, "10.00")

	newBalance, err := ldg.Debit(context.Background(), account.AccountNumber, decimal.RequireFromString("10.00"))
	require.NoError(t, err)
	assert.True(t, newBalance.IsZero())
}

func TestOperationsRejectNonPositiveAmounts(t *testing.T) {
	ldg, store := newTestLedger(t)
	account := createAccount(t, store, 1, "10.00")

	_, err := ldg.Credit(context.Background(), account.AccountNumber, decimal.Zero)
	assert.Error(t, err)
	_, err = ldg.Debit(context.Background(), account.AccountNumber, decimal.RequireFromString("-1"))
	assert.Error(t, err)
}

func TestSuspendedAccountCannotTransact(t *testing.T) {
	ldg, store := newTestLedger(t)
	account := createAccount(t, store, 1, "100.00")
	require.NoError(t, store.Accounts().SetStatus(context.Background(), account.AccountNumber, models.AccountSuspended))

	_, err := ldg.Debit(context.Background(), account.AccountNumber, decimal.RequireFromString("1.00"))
	assert.ErrorIs(t, err, models.ErrAccountNotActive)
	_, err = ldg.Credit(context.Background(), account.AccountNumber, decimal.RequireFromString("1.00"))
	assert.ErrorIs(t, err, models.ErrAccountNotActive)
}

// Forty concurrent debits of 10.00 against a 100.00 balance: exactly ten may
// succeed and the balance must end at zero, never negative.
func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ldg, store := newTestLedger(t)
	account := createAccount(t, store, 1, "100.00")
	amount := decimal.RequireFromString("10.00")

	const attempts = 40
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ldg.Debit(context.Background(), account.AccountNumber, amount)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 10, succeeded)

	balance, err := ldg.Balance(context.Background(), account.AccountNumber)
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "final balance %s", balance)
}

func TestTransferMovesFundsAtomically(t *testing.T) {
	ldg, store := newTestLedger(t)
	sender := createAccount(t, store, 1, "100.00")
	receiver := createAccount(t, store, 2, "50.00")

	err := ldg.Transfer(context.Background(), sender.AccountNumber, receiver.AccountNumber,
		decimal.RequireFromString("30.00"), decimal.RequireFromString("29.00"))
	require.NoError(t, err)

	senderBalance, _ := ldg.Balance(context.Background(), sender.AccountNumber)
	receiverBalance, _ := ldg.Balance(context.Background(), receiver.AccountNumber)
	assert.True(t, decimal.RequireFromString("70.00").Equal(senderBalance))
	assert.True(t, decimal.RequireFromString("79.00").Equal(receiverBalance))
}

func TestTransferToInactiveReceiverLeavesSenderUntouched(t *testing.T) {
	ldg, store := newTestLedger(t)
	sender := createAccount(t, store, 1, "100.00")
	receiver := createAccount(t, store, 2, "0.00")
	require.NoError(t, store.Accounts().SetStatus(context.Background(), receiver.AccountNumber, models.AccountClosed))

	err := ldg.Transfer(context.Background(), sender.AccountNumber, receiver.AccountNumber,
		decimal.RequireFromString("30.00"), decimal.RequireFromString("30.00"))
	assert.ErrorIs(t, err, models.ErrAccountNotActive)

	senderBalance, _ := ldg.Balance(context.Background(), sender.AccountNumber)
	assert.True(t, decimal.RequireFromString("100.00").Equal(senderBalance))
}

// failOnCredit delegates to the real store but rejects balance writes on one
// account, forcing the transfer's credit leg to fail after the debit.
type failOnCredit struct {
	repository.AccountRepository
	failAccount string
}

func (f *failOnCredit) UpdateBalance(ctx context.Context, accountNumber string, balance decimal.Decimal, expectedVersion int64) error {
	if accountNumber == f.failAccount {
		return fmt.Errorf("simulated write failure")
	}
	return f.AccountRepository.UpdateBalance(ctx, accountNumber, balance, expectedVersion)
}

func TestTransferRollsBackDebitWhenCreditFails(t *testing.T) {
	store := repository.NewMemoryStore()
	sender := createAccount(t, store, 1, "100.00")
	receiver := createAccount(t, store, 2, "50.00")

	accounts := &failOnCredit{AccountRepository: store.Accounts(), failAccount: receiver.AccountNumber}
	ldg := New(accounts, NewKeyedLocker(5*time.Second), 5, time.Millisecond)

	err := ldg.Transfer(context.Background(), sender.AccountNumber, receiver.AccountNumber,
		decimal.RequireFromString("30.00"), decimal.RequireFromString("30.00"))
	require.Error(t, err)

	senderBalance, _ := ldg.Balance(context.Background(), sender.AccountNumber)
	receiverBalance, _ := ldg.Balance(context.Background(), receiver.AccountNumber)
	assert.True(t, decimal.RequireFromString("100.00").Equal(senderBalance), "debit must be rolled back")
	assert.True(t, decimal.RequireFromString("50.00").Equal(receiverBalance))
}

// Opposite-direction transfers between the same pair must not deadlock and
// must conserve the combined balance.
func TestOppositeTransfersConserveTotal(t *testing.T) {
	ldg, store := newTestLedger(t)
	a := createAccount(t, store, 1, "500.00")
	b := createAccount(t, store, 2, "500.00")
	amount := decimal.RequireFromString("5.00")

	const rounds = 25
	var wg sync.WaitGroup
	errs := make(chan error, rounds*2)

	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- ldg.Transfer(context.Background(), a.AccountNumber, b.AccountNumber, amount, amount)
		}()
		go func() {
			defer wg.Done()
			errs <- ldg.Transfer(context.Background(), b.AccountNumber, a.AccountNumber, amount, amount)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("transfers deadlocked")
	}
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	balanceA, _ := ldg.Balance(context.Background(), a.AccountNumber)
	balanceB, _ := ldg.Balance(context.Background(), b.AccountNumber)
	assert.True(t, decimal.RequireFromString("1000.00").Equal(balanceA.Add(balanceB)),
		"total changed: %s + %s", balanceA, balanceB)
}

func TestConflictHookFiresOnLockTimeout(t *testing.T) {
	store := repository.NewMemoryStore()
	account := createAccount(t, store, 1, "100.00")

	locker := NewKeyedLocker(50 * time.Millisecond)
	conflicts := 0
	ldg := New(store.Accounts(), locker, 5, time.Millisecond).
		WithConflictHook(func() { conflicts++ })

	release, err := locker.Acquire(context.Background(), account.AccountNumber)
	require.NoError(t, err)

	_, err = ldg.Debit(context.Background(), account.AccountNumber, decimal.RequireFromString("1.00"))
	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
	assert.Equal(t, 1, conflicts, "hook must fire once per conflict")

	release()
	_, err = ldg.Debit(context.Background(), account.AccountNumber, decimal.RequireFromString("1.00"))
	require.NoError(t, err)
	assert.Equal(t, 1, conflicts, "hook must stay quiet on success")
}

func TestKeyedLockerTimesOut(t *testing.T) {
	locker := NewKeyedLocker(50 * time.Millisecond)

	release, err := locker.Acquire(context.Background(), "acct")
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background(), "acct")
	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)

	release()
	release2, err := locker.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	release2()
}

func TestKeyedLockerHonorsContextCancellation(t *testing.T) {
	locker := NewKeyedLocker(10 * time.Second)

	release, err := locker.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Acquire(ctx, "acct")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, models.ErrConcurrencyConflict))
}
