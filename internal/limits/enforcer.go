package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"payments-api/internal/models"
	"payments-api/internal/repository"
)

// Enforcer validates a proposed outgoing transaction against the sender
// role's configured ceilings. When a role has no active rules the
// transaction is unrestricted: the rules table is the product's control
// surface and its absence means "no limits configured", not "deny".
type Enforcer struct {
	limits       repository.LimitRepository
	transactions repository.TransactionRepository
}

func NewEnforcer(limits repository.LimitRepository, transactions repository.TransactionRepository) *Enforcer {
	return &Enforcer{
		limits:       limits,
		transactions: transactions,
	}
}

// Allow returns nil when every ceiling of every active rule admits the
// proposed amount, and a wrapped models.ErrLimitExceeded on the first
// breach. Period sums include the proposed amount.
//
// Window conventions: the daily ceiling uses a rolling 24h window; weekly
// uses the calendar week starting Monday; monthly uses the calendar month.
func (e *Enforcer) Allow(ctx context.Context, userID int64, role string, amount decimal.Decimal, now time.Time) error {
	rules, err := e.limits.ListActiveByRole(ctx, role)
	if err != nil {
		return fmt.Errorf("failed to load account limits: %w", err)
	}

	var applicable []models.AccountLimit
	for _, rule := range rules {
		if rule.Type == models.LimitTransactionAmount {
			applicable = append(applicable, rule)
		}
	}
	if len(applicable) == 0 {
		return nil
	}

	windows := []struct {
		name  string
		since time.Time
	}{
		{"daily", now.Add(-24 * time.Hour)},
		{"weekly", startOfWeek(now)},
		{"monthly", startOfMonth(now)},
	}

	sums := make(map[string]decimal.Decimal, len(windows))
	counts := make(map[string]int, len(windows))
	for _, w := range windows {
		transactions, err := e.transactions.ListOutgoingSince(ctx, userID, w.since)
		if err != nil {
			return fmt.Errorf("failed to load transaction history: %w", err)
		}
		sum := amount
		for _, t := range transactions {
			sum = sum.Add(t.Amount)
		}
		sums[w.name] = sum
		counts[w.name] = len(transactions) + 1
	}

	for _, rule := range applicable {
		if err := checkCeiling(rule.SingleTransactionMax, amount, "single transaction"); err != nil {
			return err
		}
		if err := checkCeiling(rule.DailyAmountMax, sums["daily"], "daily amount"); err != nil {
			return err
		}
		if err := checkCeiling(rule.WeeklyAmountMax, sums["weekly"], "weekly amount"); err != nil {
			return err
		}
		if err := checkCeiling(rule.MonthlyAmountMax, sums["monthly"], "monthly amount"); err != nil {
			return err
		}

		if err := checkCount(rule.DailyCountMax, counts["daily"], "daily count"); err != nil {
			return err
		}
		if err := checkCount(rule.WeeklyCountMax, counts["weekly"], "weekly count"); err != nil {
			return err
		}
		if err := checkCount(rule.MonthlyCountMax, counts["monthly"], "monthly count"); err != nil {
			return err
		}
	}

	return nil
}

func checkCeiling(max, value decimal.Decimal, name string) error {
	if max.IsZero() {
		return nil
	}
	if value.GreaterThan(max) {
		return fmt.Errorf("%w: %s %s exceeds ceiling %s", models.ErrLimitExceeded, name, value, max)
	}
	return nil
}

func checkCount(max, value int, name string) error {
	if max == 0 {
		return nil
	}
	if value > max {
		return fmt.Errorf("%w: %s %d exceeds ceiling %d", models.ErrLimitExceeded, name, value, max)
	}
	return nil
}

// startOfWeek returns Monday 00:00 of the week containing t.
func startOfWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, -(weekday - 1))
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
