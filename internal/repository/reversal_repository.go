package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"payments-api/internal/models"
)

type ReversalRepository interface {
	Create(ctx context.Context, reversal *models.TransactionReversal) error
	GetByNumber(ctx context.Context, reversalNumber string) (*models.TransactionReversal, error)
	Update(ctx context.Context, reversal *models.TransactionReversal) error
	ExistsForOriginal(ctx context.Context, originalNumber string) (bool, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.TransactionReversal, error)
}

type reversalRepository struct {
	collection *mongo.Collection
}

func NewReversalRepository(db *mongo.Database) ReversalRepository {
	return &reversalRepository{
		collection: db.Collection("transaction_reversals"),
	}
}

func (r *reversalRepository) Create(ctx context.Context, reversal *models.TransactionReversal) error {
	reversal.CreatedAt = time.Now()
	reversal.UpdatedAt = time.Now()

	result, err := r.collection.InsertOne(ctx, reversal)
	if err != nil {
		return fmt.Errorf("failed to create reversal: %w", err)
	}
	reversal.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *reversalRepository) GetByNumber(ctx context.Context, reversalNumber string) (*models.TransactionReversal, error) {
	var reversal models.TransactionReversal
	err := r.collection.FindOne(ctx, bson.M{"reversal_number": reversalNumber}).Decode(&reversal)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%w: reversal %s", models.ErrNotFound, reversalNumber)
		}
		return nil, fmt.Errorf("failed to get reversal: %w", err)
	}
	return &reversal, nil
}

func (r *reversalRepository) Update(ctx context.Context, reversal *models.TransactionReversal) error {
	reversal.UpdatedAt = time.Now()

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"reversal_number": reversal.ReversalNumber},
		bson.M{"$set": reversal},
	)
	if err != nil {
		return fmt.Errorf("failed to update reversal: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: reversal %s", models.ErrNotFound, reversal.ReversalNumber)
	}
	return nil
}

func (r *reversalRepository) ExistsForOriginal(ctx context.Context, originalNumber string) (bool, error) {
	filter := bson.M{
		"original_number": originalNumber,
		"status":          bson.M{"$ne": models.ReversalRejected},
	}
	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("failed to check existing reversals: %w", err)
	}
	return count > 0, nil
}

func (r *reversalRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.TransactionReversal, error) {
	filter := bson.M{
		"status":     models.ReversalPending,
		"created_at": bson.M{"$lt": cutoff},
	}
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reversals: %w", err)
	}
	defer cursor.Close(ctx)

	var reversals []*models.TransactionReversal
	if err := cursor.All(ctx, &reversals); err != nil {
		return nil, fmt.Errorf("failed to decode reversals: %w", err)
	}
	return reversals, nil
}
