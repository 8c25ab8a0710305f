package risk

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

// Additive weights for the fixed scoring pipeline.
const (
	weightAmountThreshold = 15
	weightVelocity        = 20
	weightStructuring     = 25
	weightNewAccount      = 10
	weightHighFrequency   = 15

	frequencyWindow = 24 * time.Hour
)

// Scorer runs the configured fraud rules plus the built-in account-age and
// frequency checks against a proposed transaction. Evaluations are
// deterministic for a given rule set and transaction history.
type Scorer struct {
	rules        repository.RuleRepository
	transactions repository.TransactionRepository
	cases        repository.CaseRepository
	cfg          config.EngineConfig
}

func NewScorer(
	rules repository.RuleRepository,
	transactions repository.TransactionRepository,
	cases repository.CaseRepository,
	cfg config.EngineConfig,
) *Scorer {
	return &Scorer{
		rules:        rules,
		transactions: transactions,
		cases:        cases,
		cfg:          cfg,
	}
}

// Evaluation is one scoring request. Now is passed in so history windows and
// account age are reproducible.
type Evaluation struct {
	Transaction   *models.Transaction
	SenderAccount *models.Account
	Now           time.Time
}

// Result carries the immutable score plus the actions the orchestrator must
// apply.
type Result struct {
	Score *models.RiskScore

	// Block is set for a CRITICAL score or any matched BLOCK-action rule.
	Block bool
	// FreezeAccount is set by a matched FREEZE_ACCOUNT-action rule; the
	// orchestrator suspends the account.
	FreezeAccount bool
	// RequireVerification defers to the KYC workflow; no effect in this engine.
	RequireVerification bool
}

// Score evaluates the transaction and records a suspicious-activity case for
// HIGH and CRITICAL outcomes.
func (s *Scorer) Score(ctx context.Context, eval *Evaluation) (*Result, error) {
	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load fraud rules: %w", err)
	}

	total := 0
	var factors []string
	result := &Result{}

	amount := eval.Transaction.Amount
	for _, rule := range rules {
		matched := false
		switch r := rule.(type) {
		case models.AmountThresholdRule:
			if amount.GreaterThan(r.ThresholdAmount) {
				total += weightAmountThreshold
				factors = append(factors, fmt.Sprintf("amount threshold exceeded: %s", r.Name))
				matched = true
			}
		case models.VelocityRule:
			count, err := s.transactions.CountOutgoingSince(ctx, eval.SenderAccount.UserID, eval.Now.Add(-r.Window))
			if err != nil {
				return nil, fmt.Errorf("velocity check failed: %w", err)
			}
			if count >= int64(r.ThresholdCount) {
				total += weightVelocity
				factors = append(factors, fmt.Sprintf("velocity threshold reached: %s", r.Name))
				matched = true
			}
		case models.StructuringRule:
			// Amounts sitting at 90-100% of a reporting threshold look like
			// deliberate structuring.
			lower := r.ThresholdAmount.Mul(decimal.NewFromFloat(0.9))
			if amount.GreaterThanOrEqual(lower) && amount.LessThanOrEqual(r.ThresholdAmount) {
				total += weightStructuring
				factors = append(factors, fmt.Sprintf("amount just under reporting threshold: %s", r.Name))
				matched = true
			}
		default:
			return nil, fmt.Errorf("unhandled fraud rule kind %T", rule)
		}

		if matched {
			s.applyAction(rule, result)
		}
	}

	if eval.SenderAccount.AgeDays(eval.Now) < s.cfg.NewAccountAgeDays {
		total += weightNewAccount
		factors = append(factors, fmt.Sprintf("account younger than %d days", s.cfg.NewAccountAgeDays))
	}

	count, err := s.transactions.CountOutgoingSince(ctx, eval.SenderAccount.UserID, eval.Now.Add(-frequencyWindow))
	if err != nil {
		return nil, fmt.Errorf("frequency check failed: %w", err)
	}
	if count > int64(s.cfg.FrequencyThreshold) {
		total += weightHighFrequency
		factors = append(factors, fmt.Sprintf("more than %d transactions in 24h", s.cfg.FrequencyThreshold))
	}

	level := s.level(total)
	result.Score = &models.RiskScore{
		TransactionNumber: eval.Transaction.TransactionNumber,
		UserID:            eval.SenderAccount.UserID,
		Score:             total,
		Level:             level,
		Factors:           factors,
		EvaluatedAt:       eval.Now,
	}
	if level == models.RiskCritical {
		result.Block = true
	}

	if level == models.RiskHigh || level == models.RiskCritical {
		if err := s.recordCase(ctx, eval, result.Score); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *Scorer) applyAction(rule models.FraudRule, result *Result) {
	switch rule.RuleAction() {
	case models.ActionFlag:
		// Case creation happens on the score level alone.
	case models.ActionBlock:
		result.Block = true
	case models.ActionFreezeAccount:
		result.FreezeAccount = true
	case models.ActionRequireVerification:
		result.RequireVerification = true
	}
}

func (s *Scorer) level(score int) models.RiskLevel {
	switch {
	case score >= s.cfg.RiskCriticalScore:
		return models.RiskCritical
	case score >= s.cfg.RiskHighScore:
		return models.RiskHigh
	case score >= s.cfg.RiskMediumScore:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func (s *Scorer) recordCase(ctx context.Context, eval *Evaluation, score *models.RiskScore) error {
	activity := &models.SuspiciousActivity{
		CaseNumber:        fmt.Sprintf("SAR-%s", uuid.New().String()[:8]),
		Type:              models.CaseHighRisk,
		UserID:            eval.SenderAccount.UserID,
		TransactionNumber: eval.Transaction.TransactionNumber,
		Severity:          score.Level,
		Status:            models.CasePending,
		AutoDetected:      true,
		Details:           fmt.Sprintf("risk score %d: %v", score.Score, score.Factors),
	}
	if err := s.cases.Create(ctx, activity); err != nil {
		return fmt.Errorf("failed to record suspicious activity: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"case_number":        activity.CaseNumber,
		"transaction_number": eval.Transaction.TransactionNumber,
		"user_id":            eval.SenderAccount.UserID,
		"risk_score":         score.Score,
		"risk_level":         score.Level,
	}).Warn("Suspicious activity case created")

	return nil
}
