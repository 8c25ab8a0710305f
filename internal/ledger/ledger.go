package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"payments-api/internal/models"
	"payments-api/internal/repository"
)

// Ledger exclusively owns account balance mutation. Every operation runs
// under the account's lock, and the balance-sufficiency decision is made in
// the same critical section as the write, so "check passed" can never be
// stale by the time the balance changes.
type Ledger struct {
	accounts   repository.AccountRepository
	locker     Locker
	retries    int
	retryDelay time.Duration
	onConflict func()
}

func New(accounts repository.AccountRepository, locker Locker, retries int, retryDelay time.Duration) *Ledger {
	return &Ledger{
		accounts:   accounts,
		locker:     locker,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

// WithConflictHook registers a callback fired whenever an operation gives up
// with models.ErrConcurrencyConflict. Feeds the lock-contention metric.
func (l *Ledger) WithConflictHook(hook func()) *Ledger {
	l.onConflict = hook
	return l
}

// Credit atomically increases the account balance and returns the new value.
func (l *Ledger) Credit(ctx context.Context, accountNumber string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.GreaterThan(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("credit amount must be positive, got %s", amount)
	}

	release, err := l.acquire(ctx, accountNumber)
	if err != nil {
		return decimal.Zero, err
	}
	defer release()

	return l.applyDelta(ctx, accountNumber, amount)
}

// Debit atomically decreases the account balance and returns the new value.
// It fails with models.ErrInsufficientFunds when the balance would go
// negative and models.ErrAccountNotActive when the account cannot transact.
func (l *Ledger) Debit(ctx context.Context, accountNumber string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.GreaterThan(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("debit amount must be positive, got %s", amount)
	}

	release, err := l.acquire(ctx, accountNumber)
	if err != nil {
		return decimal.Zero, err
	}
	defer release()

	return l.applyDelta(ctx, accountNumber, amount.Neg())
}

// Transfer debits the sender and credits the receiver as a single unit. Both
// account locks are taken in lexicographic account-number order so two
// opposite transfers between the same pair cannot deadlock. If the credit
// fails after a successful debit, the debit is rolled back under the same
// locks; money never leaves one account without arriving at the other.
func (l *Ledger) Transfer(ctx context.Context, senderNumber, receiverNumber string, debitAmount, creditAmount decimal.Decimal) error {
	if senderNumber == receiverNumber {
		return fmt.Errorf("transfer requires two distinct accounts")
	}
	if !debitAmount.GreaterThan(decimal.Zero) || !creditAmount.GreaterThan(decimal.Zero) {
		return fmt.Errorf("transfer amounts must be positive")
	}

	first, second := senderNumber, receiverNumber
	if second < first {
		first, second = second, first
	}

	releaseFirst, err := l.acquire(ctx, first)
	if err != nil {
		return err
	}
	defer releaseFirst()

	releaseSecond, err := l.acquire(ctx, second)
	if err != nil {
		return err
	}
	defer releaseSecond()

	// Receiver must be able to accept funds before the sender is touched.
	receiver, err := l.accounts.GetByNumber(ctx, receiverNumber)
	if err != nil {
		return err
	}
	if !receiver.IsActive() {
		return fmt.Errorf("%w: receiver account %s is %s", models.ErrAccountNotActive, receiverNumber, receiver.Status)
	}

	if _, err := l.applyDelta(ctx, senderNumber, debitAmount.Neg()); err != nil {
		return err
	}

	if _, err := l.applyDelta(ctx, receiverNumber, creditAmount); err != nil {
		// Credit failed after a successful debit: put the money back while we
		// still hold both locks.
		if _, rbErr := l.applyDelta(ctx, senderNumber, debitAmount); rbErr != nil {
			logrus.WithFields(logrus.Fields{
				"sender":   senderNumber,
				"receiver": receiverNumber,
				"amount":   debitAmount.String(),
			}).WithError(rbErr).Error("Transfer rollback failed, ledger requires reconciliation")
			return fmt.Errorf("transfer rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	return nil
}

// Balance returns the current balance without taking the account lock.
func (l *Ledger) Balance(ctx context.Context, accountNumber string) (decimal.Decimal, error) {
	account, err := l.accounts.GetByNumber(ctx, accountNumber)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// applyDelta mutates the balance with an optimistic version check, retrying a
// bounded number of times. Callers must hold the account lock.
func (l *Ledger) applyDelta(ctx context.Context, accountNumber string, delta decimal.Decimal) (decimal.Decimal, error) {
	var lastErr error
	for attempt := 0; attempt < l.retries; attempt++ {
		account, err := l.accounts.GetByNumber(ctx, accountNumber)
		if err != nil {
			return decimal.Zero, err
		}
		if !account.IsActive() {
			return decimal.Zero, fmt.Errorf("%w: account %s is %s", models.ErrAccountNotActive, accountNumber, account.Status)
		}

		newBalance := account.Balance.Add(delta)
		if newBalance.LessThan(decimal.Zero) {
			return decimal.Zero, fmt.Errorf("%w: account %s balance %s, requested %s",
				models.ErrInsufficientFunds, accountNumber, account.Balance, delta.Abs())
		}

		err = l.accounts.UpdateBalance(ctx, accountNumber, newBalance, account.Version)
		if err == nil {
			return newBalance, nil
		}
		if !errors.Is(err, models.ErrConcurrencyConflict) {
			return decimal.Zero, err
		}
		lastErr = err

		select {
		case <-time.After(l.retryDelay):
		case <-ctx.Done():
			return decimal.Zero, l.conflict(fmt.Errorf("%w: %v", models.ErrConcurrencyConflict, ctx.Err()))
		}
	}
	return decimal.Zero, l.conflict(lastErr)
}

// acquire takes the account lock, counting conflicts through the hook.
func (l *Ledger) acquire(ctx context.Context, key string) (func(), error) {
	release, err := l.locker.Acquire(ctx, key)
	if err != nil {
		return nil, l.conflict(err)
	}
	return release, nil
}

func (l *Ledger) conflict(err error) error {
	if l.onConflict != nil && errors.Is(err, models.ErrConcurrencyConflict) {
		l.onConflict()
	}
	return err
}
