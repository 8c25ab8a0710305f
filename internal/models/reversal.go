package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReversalStatus follows PENDING -> APPROVED -> PROCESSED, or
// PENDING -> REJECTED (terminal).
type ReversalStatus string

const (
	ReversalPending   ReversalStatus = "PENDING"
	ReversalApproved  ReversalStatus = "APPROVED"
	ReversalRejected  ReversalStatus = "REJECTED"
	ReversalProcessed ReversalStatus = "PROCESSED"
)

// ReversalType determines how the reversal amount is validated against the
// original transaction.
type ReversalType string

const (
	ReversalFull    ReversalType = "FULL"
	ReversalPartial ReversalType = "PARTIAL"
	ReversalRefund  ReversalType = "REFUND"
)

// TransactionReversal tracks an admin-approved workflow that produces a
// compensating transaction for a completed one. The original transaction is
// never mutated.
type TransactionReversal struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	ReversalNumber string             `bson:"reversal_number" json:"reversal_number"`
	OriginalNumber string             `bson:"original_number" json:"original_number"`
	RequestedBy    int64              `bson:"requested_by" json:"requested_by"`
	Type           ReversalType       `bson:"type" json:"type"`
	Amount         decimal.Decimal    `bson:"amount" json:"amount"`
	Reason         string             `bson:"reason" json:"reason"`
	Status         ReversalStatus     `bson:"status" json:"status"`

	AdminID    string `bson:"admin_id,omitempty" json:"admin_id,omitempty"`
	AdminNotes string `bson:"admin_notes,omitempty" json:"admin_notes,omitempty"`

	// Transaction number of the compensating transaction, set on processing.
	CompensatingNumber string `bson:"compensating_number,omitempty" json:"compensating_number,omitempty"`

	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
	ProcessedAt time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// ValidateAmount checks the reversal amount against the original transaction
// amount for this reversal type.
func (r *TransactionReversal) ValidateAmount(original decimal.Decimal) error {
	if !r.Amount.GreaterThan(decimal.Zero) {
		return fmt.Errorf("%w: amount must be positive", ErrReversalAmountInvalid)
	}
	switch r.Type {
	case ReversalFull:
		if !r.Amount.Equal(original) {
			return fmt.Errorf("%w: full reversal must equal original amount %s", ErrReversalAmountInvalid, original)
		}
	case ReversalPartial:
		if !r.Amount.LessThan(original) {
			return fmt.Errorf("%w: partial reversal must be less than original amount %s", ErrReversalAmountInvalid, original)
		}
	case ReversalRefund:
		if r.Amount.GreaterThan(original) {
			return fmt.Errorf("%w: refund cannot exceed original amount %s", ErrReversalAmountInvalid, original)
		}
	default:
		return fmt.Errorf("%w: unknown reversal type %s", ErrReversalAmountInvalid, r.Type)
	}
	return nil
}
