package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TransactionType enumerates supported money movements.
type TransactionType string

const (
	TransactionDeposit  TransactionType = "DEPOSIT"
	TransactionTransfer TransactionType = "TRANSFER"
	TransactionPayment  TransactionType = "PAYMENT"
)

// TransactionStatus enumerates transaction states. Transitions are monotonic:
// PENDING -> COMPLETED or PENDING -> FAILED, never back. A reversal is a new
// compensating transaction, not a status change on the original.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
)

// Transaction represents a single money movement between accounts.
type Transaction struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	TransactionNumber string             `bson:"transaction_number" json:"transaction_number"`
	Type              TransactionType    `bson:"type" json:"type"`
	Status            TransactionStatus  `bson:"status" json:"status"`

	Amount   decimal.Decimal `bson:"amount" json:"amount"`
	Fee      decimal.Decimal `bson:"fee" json:"fee"`
	Currency string          `bson:"currency" json:"currency"`

	SenderAccount   string `bson:"sender_account,omitempty" json:"sender_account,omitempty"`
	ReceiverAccount string `bson:"receiver_account,omitempty" json:"receiver_account,omitempty"`
	SenderUserID    int64  `bson:"sender_user_id,omitempty" json:"sender_user_id,omitempty"`
	ReceiverUserID  int64  `bson:"receiver_user_id,omitempty" json:"receiver_user_id,omitempty"`

	Description   string `bson:"description,omitempty" json:"description,omitempty"`
	FailureReason string `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`

	// Set when this transaction compensates another one.
	CompensatesNumber string `bson:"compensates_number,omitempty" json:"compensates_number,omitempty"`

	IdempotencyKey string    `bson:"idempotency_key,omitempty" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
	CompletedAt    time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// TotalDebit returns the amount taken from the sender, fee included.
func (t *Transaction) TotalDebit() decimal.Decimal {
	return t.Amount.Add(t.Fee)
}

// IsCompensation reports whether this transaction reverses another one.
func (t *Transaction) IsCompensation() bool {
	return t.CompensatesNumber != ""
}

// MarkCompleted transitions the transaction to its successful terminal state.
func (t *Transaction) MarkCompleted() {
	now := time.Now()
	t.Status = TransactionCompleted
	t.CompletedAt = now
	t.UpdatedAt = now
}

// MarkFailed transitions the transaction to its failed terminal state. The
// reason is kept so every attempt stays auditable.
func (t *Transaction) MarkFailed(reason string) {
	t.Status = TransactionFailed
	t.FailureReason = reason
	t.UpdatedAt = time.Now()
}

// IsTerminal reports whether the transaction reached a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionCompleted || t.Status == TransactionFailed
}

// Validate validates transaction data at the persistence boundary.
func (t *Transaction) Validate() error {
	if t.TransactionNumber == "" {
		return fmt.Errorf("transaction number is required")
	}
	if !t.Amount.GreaterThan(decimal.Zero) {
		return fmt.Errorf("transaction amount must be positive")
	}
	if t.Fee.LessThan(decimal.Zero) {
		return fmt.Errorf("transaction fee cannot be negative")
	}
	if t.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	switch t.Type {
	case TransactionDeposit, TransactionTransfer, TransactionPayment:
	default:
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}
	switch t.Status {
	case TransactionPending, TransactionCompleted, TransactionFailed:
	default:
		return fmt.Errorf("invalid transaction status: %s", t.Status)
	}
	return nil
}
