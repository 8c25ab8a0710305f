package reversal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"payments-api/internal/engine"
	"payments-api/internal/ledger"
	"payments-api/internal/models"
	"payments-api/internal/repository"
)

// Request describes a user-initiated reversal of a completed transaction.
type Request struct {
	OriginalNumber string
	RequestedBy    int64
	Type           models.ReversalType
	Amount         decimal.Decimal
	Reason         string
}

// Service runs the admin-approved reversal workflow. Processing creates a
// compensating transaction in the opposite direction; the original record is
// never touched.
type Service struct {
	reversals    repository.ReversalRepository
	transactions repository.TransactionRepository
	ledger       *ledger.Ledger
	numbers      *engine.NumberGenerator

	windowDays int
	now        func() time.Time
}

func NewService(
	reversals repository.ReversalRepository,
	transactions repository.TransactionRepository,
	ldg *ledger.Ledger,
	windowDays int,
) *Service {
	return &Service{
		reversals:    reversals,
		transactions: transactions,
		ledger:       ldg,
		numbers:      engine.NewNumberGenerator(transactions),
		windowDays:   windowDays,
		now:          time.Now,
	}
}

// WithClock overrides the time source, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Request validates eligibility and files a PENDING reversal awaiting admin
// review.
func (s *Service) Request(ctx context.Context, req Request) (*models.TransactionReversal, error) {
	original, err := s.transactions.GetByNumber(ctx, req.OriginalNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load original transaction: %w", err)
	}

	now := s.now()
	if err := s.checkEligibility(ctx, original, now); err != nil {
		return nil, err
	}

	reversal := &models.TransactionReversal{
		ReversalNumber: fmt.Sprintf("REV-%s", uuid.New().String()[:8]),
		OriginalNumber: original.TransactionNumber,
		RequestedBy:    req.RequestedBy,
		Type:           req.Type,
		Amount:         req.Amount,
		Reason:         req.Reason,
		Status:         models.ReversalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := reversal.ValidateAmount(original.Amount); err != nil {
		return nil, err
	}

	if err := s.reversals.Create(ctx, reversal); err != nil {
		return nil, fmt.Errorf("failed to persist reversal: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"reversal": reversal.ReversalNumber,
		"original": original.TransactionNumber,
		"type":     reversal.Type,
		"amount":   reversal.Amount.StringFixed(2),
	}).Info("Reversal requested")
	return reversal, nil
}

// Approve moves a PENDING reversal to APPROVED.
func (s *Service) Approve(ctx context.Context, reversalNumber, adminID, notes string) (*models.TransactionReversal, error) {
	return s.review(ctx, reversalNumber, adminID, notes, models.ReversalApproved)
}

// Reject moves a PENDING reversal to its REJECTED terminal state.
func (s *Service) Reject(ctx context.Context, reversalNumber, adminID, notes string) (*models.TransactionReversal, error) {
	return s.review(ctx, reversalNumber, adminID, notes, models.ReversalRejected)
}

func (s *Service) review(ctx context.Context, reversalNumber, adminID, notes string, status models.ReversalStatus) (*models.TransactionReversal, error) {
	reversal, err := s.reversals.GetByNumber(ctx, reversalNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load reversal: %w", err)
	}
	if reversal.Status != models.ReversalPending {
		return nil, fmt.Errorf("%w: reversal is %s, expected %s", models.ErrReversalIneligible, reversal.Status, models.ReversalPending)
	}

	reversal.Status = status
	reversal.AdminID = adminID
	reversal.AdminNotes = notes
	reversal.UpdatedAt = s.now()
	if err := s.reversals.Update(ctx, reversal); err != nil {
		return nil, fmt.Errorf("failed to update reversal: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"reversal": reversal.ReversalNumber,
		"status":   reversal.Status,
		"admin_id": adminID,
	}).Info("Reversal reviewed")
	return reversal, nil
}

// Process executes an APPROVED reversal: it moves the reversal amount back
// from the original receiver to the original sender through a compensating
// transaction. Reversed fees are not returned.
func (s *Service) Process(ctx context.Context, reversalNumber, adminID string) (*models.TransactionReversal, error) {
	reversal, err := s.reversals.GetByNumber(ctx, reversalNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load reversal: %w", err)
	}
	if reversal.Status != models.ReversalApproved {
		return nil, fmt.Errorf("%w: reversal is %s, expected %s", models.ErrReversalIneligible, reversal.Status, models.ReversalApproved)
	}

	original, err := s.transactions.GetByNumber(ctx, reversal.OriginalNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load original transaction: %w", err)
	}

	number, err := s.numbers.Next(ctx, "TXN")
	if err != nil {
		return nil, err
	}

	now := s.now()
	compensating := &models.Transaction{
		TransactionNumber: number,
		Type:              original.Type,
		Status:            models.TransactionPending,
		Amount:            reversal.Amount,
		Fee:               decimal.Zero,
		Currency:          original.Currency,
		SenderAccount:     original.ReceiverAccount,
		ReceiverAccount:   original.SenderAccount,
		SenderUserID:      original.ReceiverUserID,
		ReceiverUserID:    original.SenderUserID,
		Description:       fmt.Sprintf("Reversal of %s: %s", original.TransactionNumber, reversal.Reason),
		CompensatesNumber: original.TransactionNumber,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.transactions.Create(ctx, compensating); err != nil {
		return nil, fmt.Errorf("failed to persist compensating transaction: %w", err)
	}

	if err := s.applyCompensation(ctx, original, reversal.Amount); err != nil {
		compensating.MarkFailed(err.Error())
		if updateErr := s.transactions.Update(ctx, compensating); updateErr != nil {
			logrus.WithError(updateErr).WithField("transaction", compensating.TransactionNumber).Error("Failed to mark compensating transaction failed")
		}
		return nil, err
	}

	compensating.MarkCompleted()
	if err := s.transactions.Update(ctx, compensating); err != nil {
		logrus.WithError(err).WithField("transaction", compensating.TransactionNumber).Error("Failed to mark compensating transaction completed")
		return nil, fmt.Errorf("failed to finalize compensating transaction: %w", err)
	}

	reversal.Status = models.ReversalProcessed
	reversal.AdminID = adminID
	reversal.CompensatingNumber = compensating.TransactionNumber
	reversal.ProcessedAt = now
	reversal.UpdatedAt = now
	if err := s.reversals.Update(ctx, reversal); err != nil {
		// The money already moved back. Surface the inconsistency loudly.
		logrus.WithError(err).WithField("reversal", reversal.ReversalNumber).Error("Compensation applied but reversal record not updated")
		return nil, fmt.Errorf("failed to update reversal record: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"reversal":     reversal.ReversalNumber,
		"compensating": compensating.TransactionNumber,
		"amount":       reversal.Amount.StringFixed(2),
	}).Info("Reversal processed")
	return reversal, nil
}

// Get returns a reversal by its number.
func (s *Service) Get(ctx context.Context, reversalNumber string) (*models.TransactionReversal, error) {
	return s.reversals.GetByNumber(ctx, reversalNumber)
}

// ExpirePending rejects PENDING reversals older than the cutoff. Invoked by
// the background sweep.
func (s *Service) ExpirePending(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	pending, err := s.reversals.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale reversals: %w", err)
	}
	expired := 0
	for _, reversal := range pending {
		reversal.Status = models.ReversalRejected
		reversal.AdminNotes = "expired: no admin review within the allowed window"
		reversal.UpdatedAt = s.now()
		if err := s.reversals.Update(ctx, reversal); err != nil {
			logrus.WithError(err).WithField("reversal", reversal.ReversalNumber).Warn("Failed to expire reversal")
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) checkEligibility(ctx context.Context, original *models.Transaction, now time.Time) error {
	if original.Status != models.TransactionCompleted {
		return fmt.Errorf("%w: transaction is %s", models.ErrReversalIneligible, original.Status)
	}
	if original.IsCompensation() {
		return fmt.Errorf("%w: compensating transactions cannot be reversed", models.ErrReversalIneligible)
	}
	if s.windowDays > 0 {
		deadline := original.CreatedAt.AddDate(0, 0, s.windowDays)
		if now.After(deadline) {
			return fmt.Errorf("%w: transaction is older than %d days", models.ErrReversalIneligible, s.windowDays)
		}
	}
	exists, err := s.reversals.ExistsForOriginal(ctx, original.TransactionNumber)
	if err != nil {
		return fmt.Errorf("failed to check existing reversals: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: a reversal already exists for this transaction", models.ErrReversalIneligible)
	}
	return nil
}

// applyCompensation moves funds back. Deposits have no sender account, so the
// compensation is a plain debit of the credited account.
func (s *Service) applyCompensation(ctx context.Context, original *models.Transaction, amount decimal.Decimal) error {
	if original.Type == models.TransactionDeposit || original.SenderAccount == "" {
		_, err := s.ledger.Debit(ctx, original.ReceiverAccount, amount)
		return err
	}
	if original.ReceiverAccount == "" {
		// Outbound payment with no platform receiver: the refund re-credits
		// the payer.
		_, err := s.ledger.Credit(ctx, original.SenderAccount, amount)
		return err
	}
	return s.ledger.Transfer(ctx, original.ReceiverAccount, original.SenderAccount, amount, amount)
}
