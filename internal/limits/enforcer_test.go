package limits

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-api/internal/models"
	"payments-api/internal/repository"
)

// Wednesday mid-month keeps every window comparison unambiguous.
var testNow = time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)

var seedSeq atomic.Int64

func seedOutgoing(t *testing.T, store *repository.MemoryStore, userID int64, amount string, createdAt time.Time) {
	t.Helper()
	txn := &models.Transaction{
		TransactionNumber: fmt.Sprintf("TXN-SEED-%d", seedSeq.Add(1)),
		Type:              models.TransactionTransfer,
		Status:            models.TransactionCompleted,
		Amount:            decimal.RequireFromString(amount),
		Fee:               decimal.RequireFromString("0.30"),
		Currency:          "USD",
		SenderUserID:      userID,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}
	require.NoError(t, store.Transactions().Create(context.Background(), txn))
}

func amountLimit(role string, mutate func(*models.AccountLimit)) models.AccountLimit {
	limit := models.AccountLimit{
		Role:   role,
		Type:   models.LimitTransactionAmount,
		Active: true,
	}
	mutate(&limit)
	return limit
}

func TestAllowWithNoConfiguredRules(t *testing.T) {
	store := repository.NewMemoryStore()
	enforcer := NewEnforcer(store.Limits(), store.Transactions())

	err := enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("999999"), testNow)
	assert.NoError(t, err, "no rules means no restrictions")
}

func TestSingleTransactionCeiling(t *testing.T) {
	store := repository.NewMemoryStore()
	store.SeedLimits("user", amountLimit("user", func(l *models.AccountLimit) {
		l.SingleTransactionMax = decimal.RequireFromString("500.00")
	}))
	enforcer := NewEnforcer(store.Limits(), store.Transactions())

	assert.NoError(t, enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("500.00"), testNow))

	err := enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("500.01"), testNow)
	assert.ErrorIs(t, err, models.ErrLimitExceeded)
}

func TestDailyAmountIncludesProposedTransaction(t *testing.T) {
	store := repository.NewMemoryStore()
	store.SeedLimits("user", amountLimit("user", func(l *models.AccountLimit) {
		l.DailyAmountMax = decimal.RequireFromString("1000.00")
	}))
	seedOutgoing(t, store, 1, "600.00", testNow.Add(-2*time.Hour))
	enforcer := NewEnforcer(store.Limits(), store.Transactions())

	assert.NoError(t, enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("400.00"), testNow))

	err := enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("400.01"), testNow)
	assert.ErrorIs(t, err, models.ErrLimitExceeded)
}

func TestDailyWindowIsRolling24Hours(t *testing.T) {
	store := repository.NewMemoryStore()
	store.SeedLimits("user", amountLimit("user", func(l *models.AccountLimit) {
		l.DailyAmountMax = decimal.RequireFromString("1000.00")
	}))
	// 25 hours ago: outside the rolling window even though "yesterday".
	seedOutgoing(t, store, 1, "900.00", testNow.Add(-25*time.Hour))
	enforcer := NewEnforcer(store.Limits(), store.Transactions())

	assert.NoError(t, enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("900.00"), testNow))
}

func TestWeeklyWindowStartsMonday(t *testing.T) {
	store := repository.NewMemoryStore()
	store.SeedLimits("user", amountLimit("user", func(l *models.AccountLimit) {
		l.WeeklyAmountMax = decimal.RequireFromString("1000.00")
	}))
	enforcer := NewEnforcer(store.Limits(), store.Transactions())

	// Sunday June 9 precedes Monday June 10: outside this calendar week.
	seedOutgoing(t, store, 1, "800.00", time.Date(2024, 6, 9, 12, 0, 0, 0, time.UTC))
	assert.NoError(t, enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("900.00"), testNow))

	// Monday June 10 counts.
	seedOutgoing(t, store, 1, "800.00", time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC))
	err := enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("300.00"), testNow)
	assert.ErrorIs(t, err, models.ErrLimitExceeded)
}

func TestMonthlyWindowIsCalendarMonth(t *testing.T) {
	store := repository.NewMemoryStore()
	store.SeedLimits("user", amountLimit("user", func(l *models.AccountLimit) {
		l.MonthlyAmountMax = decimal.RequireFromString("1000.00")
	}))
	enforcer := NewEnforcer(store.Limits(), store.Transactions())

	// May 31 belongs to the previous month.
	seedOutgoing(t, store, 1, "950.00", time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC))
	assert.NoError(t, enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("950.00"), testNow))

	seedOutgoing(t, store, 1, "950.00", time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC))
	err := enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("100.00"), testNow)
	assert.ErrorIs(t, err, models.ErrLimitExceeded)
}

func TestCountCeilingsIncludeProposedTransaction(t *testing.T) {
	store := repository.NewMemoryStore()
	store.SeedLimits("user", amountLimit("user", func(l *models.AccountLimit) {
		l.DailyCountMax = 3
	}))
	enforcer := NewEnforcer(store.Limits(), store.Transactions())

	for i := 0; i < 2; i++ {
		seedOutgoing(t, store, 1, "10.00", testNow.Add(-time.Duration(i+1)*time.Hour))
	}
	assert.NoError(t, enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("10.00"), testNow))

	seedOutgoing(t, store, 1, "10.00", testNow.Add(-10*time.Minute))
	err := enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("10.00"), testNow)
	assert.ErrorIs(t, err, models.ErrLimitExceeded)
}

func TestZeroCeilingMeansUnconfigured(t *testing.T) {
	store := repository.NewMemoryStore()
	store.SeedLimits("user", amountLimit("user", func(l *models.AccountLimit) {
		l.SingleTransactionMax = decimal.RequireFromString("100.00")
		// Amount and count ceilings left at zero.
	}))
	enforcer := NewEnforcer(store.Limits(), store.Transactions())

	for i := 0; i < 20; i++ {
		seedOutgoing(t, store, 1, "90.00", testNow.Add(-time.Duration(i+1)*time.Minute))
	}
	assert.NoError(t, enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("90.00"), testNow))
}

func TestInactiveAndForeignRoleRulesIgnored(t *testing.T) {
	store := repository.NewMemoryStore()
	inactive := amountLimit("user", func(l *models.AccountLimit) {
		l.SingleTransactionMax = decimal.RequireFromString("10.00")
	})
	inactive.Active = false
	store.SeedLimits("user", inactive)
	store.SeedLimits("merchant", amountLimit("merchant", func(l *models.AccountLimit) {
		l.SingleTransactionMax = decimal.RequireFromString("10.00")
	}))
	enforcer := NewEnforcer(store.Limits(), store.Transactions())

	assert.NoError(t, enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("5000.00"), testNow))
}

func TestOtherUsersHistoryDoesNotCount(t *testing.T) {
	store := repository.NewMemoryStore()
	store.SeedLimits("user", amountLimit("user", func(l *models.AccountLimit) {
		l.DailyAmountMax = decimal.RequireFromString("100.00")
	}))
	seedOutgoing(t, store, 2, "95.00", testNow.Add(-time.Hour))
	enforcer := NewEnforcer(store.Limits(), store.Transactions())

	assert.NoError(t, enforcer.Allow(context.Background(), 1, "user", decimal.RequireFromString("95.00"), testNow))
}
