package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"payments-api/internal/config"
	"payments-api/internal/models"
	"payments-api/internal/repository"
)

// KYCVerifier is the out-of-scope KYC collaborator, consumed at its
// interface boundary.
type KYCVerifier interface {
	IsVerified(ctx context.Context, userID int64) (bool, error)
}

// Gate is the binary AML check run before any ledger mutation. A rejection
// means the transaction must be marked FAILED and no balance may change.
type Gate struct {
	transactions repository.TransactionRepository
	cases        repository.CaseRepository
	kyc          KYCVerifier
	ctrThreshold decimal.Decimal
	audit        *logrus.Logger
}

func NewGate(
	transactions repository.TransactionRepository,
	cases repository.CaseRepository,
	kyc KYCVerifier,
	cfg config.EngineConfig,
	audit *logrus.Logger,
) *Gate {
	if audit == nil {
		audit = logrus.StandardLogger()
	}
	return &Gate{
		transactions: transactions,
		cases:        cases,
		kyc:          kyc,
		ctrThreshold: decimal.NewFromFloat(cfg.CTRThreshold),
		audit:        audit,
	}
}

// Check returns nil when the transaction may proceed and a wrapped
// models.ErrComplianceRejected when it must fail. Flag-only findings are
// recorded but do not block.
func (g *Gate) Check(ctx context.Context, txn *models.Transaction, now time.Time) error {
	verified, err := g.kyc.IsVerified(ctx, txn.SenderUserID)
	if err != nil {
		return fmt.Errorf("KYC lookup failed: %w", err)
	}
	if !verified {
		g.recordCase(ctx, txn, models.CaseMoneyLaundering, models.RiskHigh,
			"transaction attempted by non-KYC-verified user")
		return fmt.Errorf("%w: sender is not KYC verified", models.ErrComplianceRejected)
	}

	if txn.Amount.GreaterThanOrEqual(g.ctrThreshold) {
		// At or above the CTR threshold reporting is mandatory but the
		// transaction itself proceeds.
		g.audit.WithFields(logrus.Fields{
			"transaction_number": txn.TransactionNumber,
			"user_id":            txn.SenderUserID,
			"amount":             txn.Amount.String(),
			"threshold":          g.ctrThreshold.String(),
		}).Info("Currency transaction report threshold reached")
	}

	if err := g.checkStructuring(ctx, txn, now); err != nil {
		return err
	}

	g.flagUnusualPatterns(ctx, txn, now)
	return nil
}

// checkStructuring rejects when the sender splits an over-threshold total
// into several under-threshold transactions within 24 hours.
func (g *Gate) checkStructuring(ctx context.Context, txn *models.Transaction, now time.Time) error {
	if txn.Amount.GreaterThanOrEqual(g.ctrThreshold) {
		return nil
	}

	prior, err := g.transactions.ListOutgoingSince(ctx, txn.SenderUserID, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("structuring lookup failed: %w", err)
	}
	if len(prior) < 3 {
		return nil
	}

	total := txn.Amount
	for _, p := range prior {
		total = total.Add(p.Amount)
	}
	if total.LessThan(g.ctrThreshold) {
		return nil
	}

	g.recordCase(ctx, txn, models.CaseStructuring, models.RiskHigh,
		fmt.Sprintf("24h total %s crosses reporting threshold %s across %d transactions",
			total, g.ctrThreshold, len(prior)+1))
	return fmt.Errorf("%w: transaction pattern indicates structuring", models.ErrComplianceRejected)
}

// flagUnusualPatterns records non-blocking findings: odd-hours activity and
// repeated round-hundred amounts.
func (g *Gate) flagUnusualPatterns(ctx context.Context, txn *models.Transaction, now time.Time) {
	hour := now.Hour()
	if hour >= 2 && hour < 5 {
		g.recordCase(ctx, txn, models.CaseUnusualPattern, models.RiskMedium,
			fmt.Sprintf("transaction at unusual hour %02d:00", hour))
	}

	if !isRoundHundred(txn.Amount) || txn.Amount.LessThan(decimal.NewFromInt(1000)) {
		return
	}

	prior, err := g.transactions.ListOutgoingSince(ctx, txn.SenderUserID, now.Add(-7*24*time.Hour))
	if err != nil {
		logrus.WithError(err).Warn("Round-amount pattern lookup failed")
		return
	}
	roundCount := 1
	for _, p := range prior {
		if isRoundHundred(p.Amount) && p.Amount.GreaterThanOrEqual(decimal.NewFromInt(1000)) {
			roundCount++
		}
	}
	if roundCount >= 5 {
		g.recordCase(ctx, txn, models.CaseUnusualPattern, models.RiskMedium,
			fmt.Sprintf("%d round-hundred transactions of 1000 or more in 7 days", roundCount))
	}
}

func isRoundHundred(amount decimal.Decimal) bool {
	return amount.Mod(decimal.NewFromInt(100)).IsZero()
}

func (g *Gate) recordCase(ctx context.Context, txn *models.Transaction, caseType models.CaseType, severity models.RiskLevel, details string) {
	activity := &models.SuspiciousActivity{
		CaseNumber:        fmt.Sprintf("AML-%s", uuid.New().String()[:8]),
		Type:              caseType,
		UserID:            txn.SenderUserID,
		TransactionNumber: txn.TransactionNumber,
		Severity:          severity,
		Status:            models.CasePending,
		AutoDetected:      true,
		Details:           details,
	}
	if err := g.cases.Create(ctx, activity); err != nil {
		logrus.WithError(err).WithField("transaction_number", txn.TransactionNumber).
			Error("Failed to record compliance case")
		return
	}

	g.audit.WithFields(logrus.Fields{
		"case_number":        activity.CaseNumber,
		"case_type":          caseType,
		"transaction_number": txn.TransactionNumber,
		"user_id":            txn.SenderUserID,
	}).Warn("Compliance case created")
}
