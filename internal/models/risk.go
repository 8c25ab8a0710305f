package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RiskLevel is derived from the numeric score bands.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskScore is the immutable result of one risk evaluation.
type RiskScore struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	TransactionNumber string             `bson:"transaction_number,omitempty" json:"transaction_number,omitempty"`
	UserID            int64              `bson:"user_id" json:"user_id"`
	Score             int                `bson:"score" json:"score"`
	Level             RiskLevel          `bson:"level" json:"level"`
	Factors           []string           `bson:"factors" json:"factors"`
	EvaluatedAt       time.Time          `bson:"evaluated_at" json:"evaluated_at"`
}

// CaseStatus enumerates the review lifecycle of a compliance case.
type CaseStatus string

const (
	CasePending   CaseStatus = "PENDING"
	CaseReviewed  CaseStatus = "REVIEWED"
	CaseDismissed CaseStatus = "DISMISSED"
	CaseReferred  CaseStatus = "REFERRED"
)

// CaseType identifies why a compliance case was raised.
type CaseType string

const (
	CaseMoneyLaundering CaseType = "MONEY_LAUNDERING"
	CaseStructuring     CaseType = "STRUCTURING"
	CaseHighRisk        CaseType = "HIGH_RISK_SCORE"
	CaseUnusualPattern  CaseType = "UNUSUAL_PATTERN"
)

// SuspiciousActivity is a compliance case raised by the risk scorer or AML
// gate. The engine only creates these; review is a human workflow.
type SuspiciousActivity struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	CaseNumber        string             `bson:"case_number" json:"case_number"`
	Type              CaseType           `bson:"type" json:"type"`
	UserID            int64              `bson:"user_id" json:"user_id"`
	TransactionNumber string             `bson:"transaction_number,omitempty" json:"transaction_number,omitempty"`
	Severity          RiskLevel          `bson:"severity" json:"severity"`
	Status            CaseStatus         `bson:"status" json:"status"`
	AutoDetected      bool               `bson:"auto_detected" json:"auto_detected"`
	Details           string             `bson:"details" json:"details"`
	ReviewedBy        string             `bson:"reviewed_by,omitempty" json:"reviewed_by,omitempty"`
	ReviewNotes       string             `bson:"review_notes,omitempty" json:"review_notes,omitempty"`
	CreatedAt         time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `bson:"updated_at" json:"updated_at"`
}
