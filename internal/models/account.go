package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AccountStatus enumerates the lifecycle states of an account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountClosed    AccountStatus = "CLOSED"
)

// Account represents a user's wallet account. The balance is owned by the
// ledger and never mutated outside it.
type Account struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	AccountNumber string             `bson:"account_number" json:"account_number"`
	UserID        int64              `bson:"user_id" json:"user_id"`
	Currency      string             `bson:"currency" json:"currency"`
	Balance       decimal.Decimal    `bson:"balance" json:"balance"`
	Status        AccountStatus      `bson:"status" json:"status"`
	Version       int64              `bson:"version" json:"version"`

	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
	LastActivity time.Time `bson:"last_activity" json:"last_activity"`
}

// NewAccount creates an active account with a zero balance.
func NewAccount(userID int64, currency string) *Account {
	now := time.Now()
	return &Account{
		AccountNumber: fmt.Sprintf("ACC-%d-%06d", now.Year(), userID),
		UserID:        userID,
		Currency:      currency,
		Balance:       decimal.Zero,
		Status:        AccountActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastActivity:  now,
	}
}

// IsActive reports whether the account may participate in transactions.
func (a *Account) IsActive() bool {
	return a.Status == AccountActive
}

// AgeDays returns the account age in whole days.
func (a *Account) AgeDays(now time.Time) int {
	return int(now.Sub(a.CreatedAt).Hours() / 24)
}

// HasSufficientBalance checks the balance against a proposed debit.
func (a *Account) HasSufficientBalance(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

// Validate validates account data at the persistence boundary.
func (a *Account) Validate() error {
	if a.UserID <= 0 {
		return fmt.Errorf("invalid user ID")
	}
	if a.AccountNumber == "" {
		return fmt.Errorf("account number is required")
	}
	if a.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if a.Balance.LessThan(decimal.Zero) {
		return fmt.Errorf("balance cannot be negative")
	}
	switch a.Status {
	case AccountActive, AccountSuspended, AccountClosed:
	default:
		return fmt.Errorf("invalid account status: %s", a.Status)
	}
	return nil
}
