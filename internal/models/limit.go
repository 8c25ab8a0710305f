package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LimitType distinguishes what a limit rule constrains.
type LimitType string

const (
	LimitTransactionAmount LimitType = "TRANSACTION_AMOUNT"
	LimitAccountCount      LimitType = "ACCOUNT_COUNT"
)

// AccountLimit is a per-role ceiling configuration. The engine only reads
// these; an external admin workflow maintains them. Zero ceilings mean the
// ceiling is not configured.
type AccountLimit struct {
	Role      string    `bson:"role" json:"role"`
	Type      LimitType `bson:"type" json:"type"`
	Active    bool      `bson:"active" json:"active"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`

	SingleTransactionMax decimal.Decimal `bson:"single_transaction_max" json:"single_transaction_max"`
	DailyAmountMax       decimal.Decimal `bson:"daily_amount_max" json:"daily_amount_max"`
	WeeklyAmountMax      decimal.Decimal `bson:"weekly_amount_max" json:"weekly_amount_max"`
	MonthlyAmountMax     decimal.Decimal `bson:"monthly_amount_max" json:"monthly_amount_max"`

	DailyCountMax   int `bson:"daily_count_max" json:"daily_count_max"`
	WeeklyCountMax  int `bson:"weekly_count_max" json:"weekly_count_max"`
	MonthlyCountMax int `bson:"monthly_count_max" json:"monthly_count_max"`
}
