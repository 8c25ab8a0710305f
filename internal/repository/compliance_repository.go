package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"payments-api/internal/models"
)

type RuleRepository interface {
	ListActive(ctx context.Context) ([]models.FraudRule, error)
}

type LimitRepository interface {
	ListActiveByRole(ctx context.Context, role string) ([]models.AccountLimit, error)
}

type CaseRepository interface {
	Create(ctx context.Context, activity *models.SuspiciousActivity) error
	ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]*models.SuspiciousActivity, error)
	UpdateStatus(ctx context.Context, caseNumber string, status models.CaseStatus) error
}

// ruleDocument is the persisted shape of a fraud rule. The kind discriminator
// maps back onto the sealed models.FraudRule variants.
type ruleDocument struct {
	Kind            string          `bson:"kind"`
	Name            string          `bson:"name"`
	Action          string          `bson:"action"`
	Active          bool            `bson:"active"`
	CreatedAt       time.Time       `bson:"created_at"`
	ThresholdAmount decimal.Decimal `bson:"threshold_amount,omitempty"`
	ThresholdCount  int             `bson:"threshold_count,omitempty"`
	WindowSeconds   int64           `bson:"window_seconds,omitempty"`
}

const (
	ruleKindAmountThreshold = "AMOUNT_THRESHOLD"
	ruleKindVelocity        = "VELOCITY_CHECK"
	ruleKindStructuring     = "STRUCTURING_DETECTION"
)

type ruleRepository struct {
	collection *mongo.Collection
}

func NewRuleRepository(db *mongo.Database) RuleRepository {
	return &ruleRepository{
		collection: db.Collection("fraud_rules"),
	}
}

func (r *ruleRepository) ListActive(ctx context.Context) ([]models.FraudRule, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"active": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud rules: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []ruleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode fraud rules: %w", err)
	}

	rules := make([]models.FraudRule, 0, len(docs))
	for _, doc := range docs {
		rule, err := doc.toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (d ruleDocument) toRule() (models.FraudRule, error) {
	meta := models.RuleMeta{
		Name:      d.Name,
		Action:    models.RuleAction(d.Action),
		Active:    d.Active,
		CreatedAt: d.CreatedAt,
	}
	switch d.Kind {
	case ruleKindAmountThreshold:
		return models.AmountThresholdRule{RuleMeta: meta, ThresholdAmount: d.ThresholdAmount}, nil
	case ruleKindVelocity:
		return models.VelocityRule{RuleMeta: meta, ThresholdCount: d.ThresholdCount, Window: time.Duration(d.WindowSeconds) * time.Second}, nil
	case ruleKindStructuring:
		return models.StructuringRule{RuleMeta: meta, ThresholdAmount: d.ThresholdAmount}, nil
	default:
		return nil, fmt.Errorf("unknown fraud rule kind: %s", d.Kind)
	}
}

type limitRepository struct {
	collection *mongo.Collection
}

func NewLimitRepository(db *mongo.Database) LimitRepository {
	return &limitRepository{
		collection: db.Collection("account_limits"),
	}
}

func (r *limitRepository) ListActiveByRole(ctx context.Context, role string) ([]models.AccountLimit, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"role": role, "active": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list account limits: %w", err)
	}
	defer cursor.Close(ctx)

	var limits []models.AccountLimit
	if err := cursor.All(ctx, &limits); err != nil {
		return nil, fmt.Errorf("failed to decode account limits: %w", err)
	}
	return limits, nil
}

type caseRepository struct {
	collection *mongo.Collection
}

func NewCaseRepository(db *mongo.Database) CaseRepository {
	return &caseRepository{
		collection: db.Collection("suspicious_activities"),
	}
}

func (r *caseRepository) Create(ctx context.Context, activity *models.SuspiciousActivity) error {
	activity.CreatedAt = time.Now()
	activity.UpdatedAt = time.Now()

	result, err := r.collection.InsertOne(ctx, activity)
	if err != nil {
		return fmt.Errorf("failed to create suspicious activity case: %w", err)
	}
	activity.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *caseRepository) ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]*models.SuspiciousActivity, error) {
	filter := bson.M{
		"status":     models.CasePending,
		"created_at": bson.M{"$lt": cutoff},
	}
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list open cases: %w", err)
	}
	defer cursor.Close(ctx)

	var cases []*models.SuspiciousActivity
	if err := cursor.All(ctx, &cases); err != nil {
		return nil, fmt.Errorf("failed to decode cases: %w", err)
	}
	return cases, nil
}

func (r *caseRepository) UpdateStatus(ctx context.Context, caseNumber string, status models.CaseStatus) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"case_number": caseNumber},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update case status: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: case %s", models.ErrNotFound, caseNumber)
	}
	return nil
}
