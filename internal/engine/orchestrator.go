package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"payments-api/internal/compliance"
	"payments-api/internal/fee"
	"payments-api/internal/ledger"
	"payments-api/internal/limits"
	"payments-api/internal/models"
	"payments-api/internal/repository"
	"payments-api/internal/risk"
)

// User is the projection of an external user record the engine cares about.
type User struct {
	ID       int64
	Email    string
	Role     string
	Verified bool
}

// UserDirectory resolves users from the external users service.
type UserDirectory interface {
	GetByID(ctx context.Context, userID int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// Notifier publishes transaction events. Implementations must not block the
// payment path; errors are logged and swallowed by the orchestrator.
type Notifier interface {
	NotifyTransaction(ctx context.Context, txn *models.Transaction) error
}

// RewardsService credits loyalty points for completed payments.
type RewardsService interface {
	EarnPoints(ctx context.Context, userID int64, txn *models.Transaction) error
}

// IdempotencyStore maps client idempotency keys to transaction numbers.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, transactionNumber string) error
}

// Metrics receives engine counters. A nil Metrics is valid and ignored.
type Metrics interface {
	RecordTransaction(txType, status string)
	RecordRiskLevel(level string)
}

// DepositRequest describes an inbound top-up of a user's wallet.
type DepositRequest struct {
	UserID      int64
	Amount      decimal.Decimal
	Description string
}

// TransferRequest describes a wallet-to-wallet transfer addressed by the
// receiver's email.
type TransferRequest struct {
	SenderID       int64
	ReceiverEmail  string
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// PaymentRequest describes a purchase paid from the wallet. MerchantID is
// optional; when zero the funds leave the platform.
type PaymentRequest struct {
	UserID         int64
	Amount         decimal.Decimal
	Description    string
	MerchantID     int64
	IdempotencyKey string
}

// Orchestrator drives the full transaction pipeline: limit enforcement, fee
// calculation, risk scoring, AML screening and the final atomic balance
// mutation.
type Orchestrator struct {
	accounts     repository.AccountRepository
	transactions repository.TransactionRepository
	ledger       *ledger.Ledger
	fees         *fee.Calculator
	scorer       *risk.Scorer
	gate         *compliance.Gate
	limiter      *limits.Enforcer
	users        UserDirectory
	numbers      *NumberGenerator

	notifier    Notifier
	rewards     RewardsService
	idempotency IdempotencyStore
	metrics     Metrics

	sideEffectTimeout time.Duration
	now               func() time.Time
}

// NewOrchestrator wires the engine. notifier, rewards, idempotency and
// metrics may be nil; the corresponding behaviour is skipped.
func NewOrchestrator(
	accounts repository.AccountRepository,
	transactions repository.TransactionRepository,
	ldg *ledger.Ledger,
	fees *fee.Calculator,
	scorer *risk.Scorer,
	gate *compliance.Gate,
	limiter *limits.Enforcer,
	users UserDirectory,
) *Orchestrator {
	return &Orchestrator{
		accounts:          accounts,
		transactions:      transactions,
		ledger:            ldg,
		fees:              fees,
		scorer:            scorer,
		gate:              gate,
		limiter:           limiter,
		users:             users,
		numbers:           NewNumberGenerator(transactions),
		sideEffectTimeout: 10 * time.Second,
		now:               time.Now,
	}
}

// WithSideEffects attaches the optional post-completion collaborators.
func (o *Orchestrator) WithSideEffects(notifier Notifier, rewards RewardsService, idempotency IdempotencyStore, metrics Metrics) *Orchestrator {
	o.notifier = notifier
	o.rewards = rewards
	o.idempotency = idempotency
	o.metrics = metrics
	return o
}

// WithClock overrides the time source, used by tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Deposit credits external funds into the user's wallet. Deposits carry no
// fee and bypass limit enforcement; compliance screening still applies.
func (o *Orchestrator) Deposit(ctx context.Context, req DepositRequest) (*models.Transaction, error) {
	account, err := o.accounts.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve deposit account: %w", err)
	}

	number, err := o.numbers.Next(ctx, "TXN")
	if err != nil {
		return nil, err
	}

	now := o.now()
	txn := &models.Transaction{
		TransactionNumber: number,
		Type:              models.TransactionDeposit,
		Status:            models.TransactionPending,
		Amount:            req.Amount,
		Fee:               decimal.Zero,
		Currency:          account.Currency,
		ReceiverAccount:   account.AccountNumber,
		SenderUserID:      req.UserID,
		ReceiverUserID:    req.UserID,
		Description:       req.Description,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}
	if err := o.transactions.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to persist transaction: %w", err)
	}

	// Risk scoring on deposits is informational: the score and any case are
	// recorded but never block the credit.
	if result, err := o.scorer.Score(ctx, &risk.Evaluation{Transaction: txn, SenderAccount: account, Now: now}); err != nil {
		logrus.WithError(err).WithField("transaction", number).Warn("Risk scoring failed for deposit")
	} else {
		o.recordRiskLevel(string(result.Score.Level))
	}

	if err := o.gate.Check(ctx, txn, now); err != nil {
		return o.fail(ctx, txn, err)
	}

	if _, err := o.ledger.Credit(ctx, account.AccountNumber, req.Amount); err != nil {
		return o.fail(ctx, txn, err)
	}

	return o.complete(ctx, txn)
}

// Transfer moves funds between two wallets. The sender pays amount plus fee;
// the receiver is credited the amount only.
func (o *Orchestrator) Transfer(ctx context.Context, req TransferRequest) (*models.Transaction, error) {
	if existing, ok, err := o.replayIdempotent(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}

	sender, err := o.users.GetByID(ctx, req.SenderID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sender: %w", err)
	}
	receiver, err := o.users.GetByEmail(ctx, req.ReceiverEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve receiver: %w", err)
	}
	if receiver.ID == sender.ID {
		return nil, fmt.Errorf("%w: cannot transfer to own wallet", models.ErrValidation)
	}

	senderAccount, err := o.accounts.GetByUserID(ctx, sender.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sender account: %w", err)
	}
	receiverAccount, err := o.accounts.GetByUserID(ctx, receiver.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve receiver account: %w", err)
	}

	txn, err := o.newOutgoing(ctx, models.TransactionTransfer, req.Amount, req.Description, req.IdempotencyKey, senderAccount, receiverAccount)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateIdempotencyKey) {
			return o.transactions.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		return nil, err
	}

	return o.runOutgoing(ctx, txn, sender, senderAccount, receiverAccount)
}

// PayFromWallet debits a purchase from the user's wallet. When a merchant is
// given the merchant wallet is credited, otherwise the funds leave the
// platform and only the debit is recorded.
func (o *Orchestrator) PayFromWallet(ctx context.Context, req PaymentRequest) (*models.Transaction, error) {
	if existing, ok, err := o.replayIdempotent(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}

	payer, err := o.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve payer: %w", err)
	}
	payerAccount, err := o.accounts.GetByUserID(ctx, payer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve payer account: %w", err)
	}

	var merchantAccount *models.Account
	if req.MerchantID != 0 {
		merchantAccount, err = o.accounts.GetByUserID(ctx, req.MerchantID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve merchant account: %w", err)
		}
	}

	txn, err := o.newOutgoing(ctx, models.TransactionPayment, req.Amount, req.Description, req.IdempotencyKey, payerAccount, merchantAccount)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateIdempotencyKey) {
			return o.transactions.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		return nil, err
	}

	return o.runOutgoing(ctx, txn, payer, payerAccount, merchantAccount)
}

// GetTransaction returns a transaction by its number.
func (o *Orchestrator) GetTransaction(ctx context.Context, number string) (*models.Transaction, error) {
	return o.transactions.GetByNumber(ctx, number)
}

// ListUserTransactions returns the user's transaction history, newest first.
func (o *Orchestrator) ListUserTransactions(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error) {
	return o.transactions.ListByUser(ctx, userID, limit, offset)
}

// GetBalance returns the current balance of the user's wallet.
func (o *Orchestrator) GetBalance(ctx context.Context, userID int64) (*models.Account, error) {
	return o.accounts.GetByUserID(ctx, userID)
}

func (o *Orchestrator) newOutgoing(ctx context.Context, txType models.TransactionType, amount decimal.Decimal, description, idempotencyKey string, sender, receiver *models.Account) (*models.Transaction, error) {
	number, err := o.numbers.Next(ctx, "TXN")
	if err != nil {
		return nil, err
	}

	now := o.now()
	txn := &models.Transaction{
		TransactionNumber: number,
		Type:              txType,
		Status:            models.TransactionPending,
		Amount:            amount,
		Fee:               o.fees.Fee(amount),
		Currency:          sender.Currency,
		SenderAccount:     sender.AccountNumber,
		SenderUserID:      sender.UserID,
		Description:       description,
		IdempotencyKey:    idempotencyKey,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if receiver != nil {
		txn.ReceiverAccount = receiver.AccountNumber
		txn.ReceiverUserID = receiver.UserID
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}
	if err := o.transactions.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to persist transaction: %w", err)
	}
	return txn, nil
}

// runOutgoing pushes an already persisted PENDING transaction through the
// check pipeline and, if every gate passes, through the ledger. Any breach
// leaves a FAILED record behind.
func (o *Orchestrator) runOutgoing(ctx context.Context, txn *models.Transaction, sender *User, senderAccount, receiverAccount *models.Account) (*models.Transaction, error) {
	now := o.now()

	if err := o.limiter.Allow(ctx, sender.ID, sender.Role, txn.Amount, now); err != nil {
		return o.fail(ctx, txn, err)
	}

	if !senderAccount.HasSufficientBalance(txn.TotalDebit()) {
		return o.fail(ctx, txn, fmt.Errorf("%w: balance %s below required %s",
			models.ErrInsufficientFunds, senderAccount.Balance.StringFixed(2), txn.TotalDebit().StringFixed(2)))
	}

	result, err := o.scorer.Score(ctx, &risk.Evaluation{Transaction: txn, SenderAccount: senderAccount, Now: now})
	if err != nil {
		return o.fail(ctx, txn, fmt.Errorf("risk evaluation failed: %w", err))
	}
	o.recordRiskLevel(string(result.Score.Level))
	if result.FreezeAccount {
		// The frozen account can no longer pass the ledger's active check,
		// so the in-flight transaction fails below with the real cause.
		if err := o.accounts.SetStatus(ctx, senderAccount.AccountNumber, models.AccountSuspended); err != nil {
			logrus.WithError(err).WithField("account", senderAccount.AccountNumber).Error("Failed to freeze account")
		} else {
			logrus.WithFields(logrus.Fields{
				"account":     senderAccount.AccountNumber,
				"transaction": txn.TransactionNumber,
			}).Warn("Account frozen by fraud rule")
			senderAccount.Status = models.AccountSuspended
		}
	}
	if result.Block {
		return o.fail(ctx, txn, fmt.Errorf("%w: risk score %d (%s)", models.ErrFraudBlocked, result.Score.Score, result.Score.Level))
	}

	if err := o.gate.Check(ctx, txn, now); err != nil {
		return o.fail(ctx, txn, err)
	}

	if receiverAccount != nil {
		err = o.ledger.Transfer(ctx, senderAccount.AccountNumber, receiverAccount.AccountNumber, txn.TotalDebit(), txn.Amount)
	} else {
		_, err = o.ledger.Debit(ctx, senderAccount.AccountNumber, txn.TotalDebit())
	}
	if err != nil {
		return o.fail(ctx, txn, err)
	}

	return o.complete(ctx, txn)
}

func (o *Orchestrator) complete(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	txn.MarkCompleted()
	if err := o.transactions.Update(ctx, txn); err != nil {
		// The balances already moved; the record must not stay PENDING.
		logrus.WithError(err).WithField("transaction", txn.TransactionNumber).Error("Failed to mark transaction completed")
		return nil, fmt.Errorf("failed to finalize transaction: %w", err)
	}
	if o.idempotency != nil && txn.IdempotencyKey != "" {
		if err := o.idempotency.Set(ctx, txn.IdempotencyKey, txn.TransactionNumber); err != nil {
			logrus.WithError(err).Warn("Failed to store idempotency key")
		}
	}
	o.recordTransaction(string(txn.Type), string(txn.Status))
	o.dispatchSideEffects(txn)
	return txn, nil
}

func (o *Orchestrator) fail(ctx context.Context, txn *models.Transaction, cause error) (*models.Transaction, error) {
	txn.MarkFailed(cause.Error())
	if err := o.transactions.Update(ctx, txn); err != nil {
		logrus.WithError(err).WithField("transaction", txn.TransactionNumber).Error("Failed to mark transaction failed")
	}
	o.recordTransaction(string(txn.Type), string(txn.Status))
	o.dispatchSideEffects(txn)
	return txn, cause
}

func (o *Orchestrator) replayIdempotent(ctx context.Context, key string) (*models.Transaction, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	if o.idempotency != nil {
		number, ok, err := o.idempotency.Get(ctx, key)
		if err != nil {
			logrus.WithError(err).Warn("Idempotency lookup failed, falling back to store")
		} else if ok {
			txn, err := o.transactions.GetByNumber(ctx, number)
			if err != nil {
				return nil, false, fmt.Errorf("failed to load idempotent transaction: %w", err)
			}
			return txn, true, nil
		}
	}
	txn, err := o.transactions.GetByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("idempotency check failed: %w", err)
	}
	return txn, true, nil
}

// dispatchSideEffects fires notifications and rewards outside the payment
// path. Failures are logged, never surfaced to the caller.
func (o *Orchestrator) dispatchSideEffects(txn *models.Transaction) {
	if o.notifier == nil && o.rewards == nil {
		return
	}
	snapshot := *txn
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.sideEffectTimeout)
		defer cancel()

		if o.notifier != nil {
			if err := o.notifier.NotifyTransaction(ctx, &snapshot); err != nil {
				logrus.WithError(err).WithField("transaction", snapshot.TransactionNumber).Warn("Transaction notification failed")
			}
		}
		if o.rewards != nil && snapshot.Status == models.TransactionCompleted && snapshot.Type == models.TransactionPayment {
			if err := o.rewards.EarnPoints(ctx, snapshot.SenderUserID, &snapshot); err != nil {
				logrus.WithError(err).WithField("transaction", snapshot.TransactionNumber).Warn("Rewards accrual failed")
			}
		}
	}()
}

func (o *Orchestrator) recordTransaction(txType, status string) {
	if o.metrics != nil {
		o.metrics.RecordTransaction(txType, status)
	}
}

func (o *Orchestrator) recordRiskLevel(level string) {
	if o.metrics != nil {
		o.metrics.RecordRiskLevel(level)
	}
}
