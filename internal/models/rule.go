package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleAction is the configured consequence of a matched fraud rule.
type RuleAction string

const (
	ActionFlag                RuleAction = "FLAG"
	ActionBlock               RuleAction = "BLOCK"
	ActionFreezeAccount       RuleAction = "FREEZE_ACCOUNT"
	ActionRequireVerification RuleAction = "REQUIRE_VERIFICATION"
)

// FraudRule is a sealed variant type: one concrete rule kind per struct, each
// carrying its own parameters. The scorer dispatches with an exhaustive type
// switch so adding a kind breaks the build instead of falling through.
type FraudRule interface {
	RuleName() string
	RuleAction() RuleAction
	IsActive() bool
	isFraudRule()
}

// RuleMeta holds the fields shared by every rule kind.
type RuleMeta struct {
	Name      string     `bson:"name" json:"name"`
	Action    RuleAction `bson:"action" json:"action"`
	Active    bool       `bson:"active" json:"active"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
}

func (m RuleMeta) RuleName() string       { return m.Name }
func (m RuleMeta) RuleAction() RuleAction { return m.Action }
func (m RuleMeta) IsActive() bool         { return m.Active }

// AmountThresholdRule matches transactions above a fixed amount.
type AmountThresholdRule struct {
	RuleMeta        `bson:",inline"`
	ThresholdAmount decimal.Decimal `bson:"threshold_amount" json:"threshold_amount"`
}

func (AmountThresholdRule) isFraudRule() {}

// VelocityRule matches senders exceeding a transaction count within a
// trailing time window.
type VelocityRule struct {
	RuleMeta       `bson:",inline"`
	ThresholdCount int           `bson:"threshold_count" json:"threshold_count"`
	Window         time.Duration `bson:"window" json:"window"`
}

func (VelocityRule) isFraudRule() {}

// StructuringRule matches amounts sitting just under a reporting threshold
// (90-100% of it).
type StructuringRule struct {
	RuleMeta        `bson:",inline"`
	ThresholdAmount decimal.Decimal `bson:"threshold_amount" json:"threshold_amount"`
}

func (StructuringRule) isFraudRule() {}
