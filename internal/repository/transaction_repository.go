package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"payments-api/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, transaction *models.Transaction) error
	GetByNumber(ctx context.Context, transactionNumber string) (*models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*models.Transaction, error)
	Update(ctx context.Context, transaction *models.Transaction) error
	ExistsByNumber(ctx context.Context, transactionNumber string) (bool, error)
	// ListOutgoingSince returns the sender's completed outgoing transactions
	// (deposits excluded) created at or after the given time, newest first.
	ListOutgoingSince(ctx context.Context, userID int64, since time.Time) ([]*models.Transaction, error)
	CountOutgoingSince(ctx context.Context, userID int64, since time.Time) (int64, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error)
}

type transactionRepository struct {
	collection *mongo.Collection
}

func NewTransactionRepository(db *mongo.Database) TransactionRepository {
	return &transactionRepository{
		collection: db.Collection("transactions"),
	}
}

// EnsureTransactionIndexes creates the unique indexes backing transaction
// number collision checks and idempotency-key replay. The idempotency index
// is sparse so transactions without a key do not collide on the empty value.
func EnsureTransactionIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("transactions").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_number", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "sender_user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}
	return nil
}

func (r *transactionRepository) Create(ctx context.Context, transaction *models.Transaction) error {
	if err := transaction.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}
	transaction.CreatedAt = time.Now()
	transaction.UpdatedAt = time.Now()

	result, err := r.collection.InsertOne(ctx, transaction)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// The unique indexes decide which insert of a race wins. A taken
			// idempotency key means a concurrent submission of the same
			// request already created its transaction.
			if transaction.IdempotencyKey != "" {
				if _, lookupErr := r.GetByIdempotencyKey(ctx, transaction.IdempotencyKey); lookupErr == nil {
					return fmt.Errorf("%w: %s", models.ErrDuplicateIdempotencyKey, transaction.IdempotencyKey)
				}
			}
			return fmt.Errorf("duplicate transaction number %s", transaction.TransactionNumber)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	transaction.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *transactionRepository) GetByNumber(ctx context.Context, transactionNumber string) (*models.Transaction, error) {
	var transaction models.Transaction
	err := r.collection.FindOne(ctx, bson.M{"transaction_number": transactionNumber}).Decode(&transaction)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%w: transaction %s", models.ErrNotFound, transactionNumber)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &transaction, nil
}

func (r *transactionRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*models.Transaction, error) {
	var transaction models.Transaction
	err := r.collection.FindOne(ctx, bson.M{"idempotency_key": idempotencyKey}).Decode(&transaction)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%w: idempotency key", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction by idempotency key: %w", err)
	}
	return &transaction, nil
}

func (r *transactionRepository) Update(ctx context.Context, transaction *models.Transaction) error {
	transaction.UpdatedAt = time.Now()

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"transaction_number": transaction.TransactionNumber},
		bson.M{"$set": transaction},
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: transaction %s", models.ErrNotFound, transaction.TransactionNumber)
	}
	return nil
}

func (r *transactionRepository) ExistsByNumber(ctx context.Context, transactionNumber string) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"transaction_number": transactionNumber})
	if err != nil {
		return false, fmt.Errorf("failed to check transaction number: %w", err)
	}
	return count > 0, nil
}

func (r *transactionRepository) ListOutgoingSince(ctx context.Context, userID int64, since time.Time) ([]*models.Transaction, error) {
	filter := bson.M{
		"sender_user_id": userID,
		"status":         models.TransactionCompleted,
		"type":           bson.M{"$ne": models.TransactionDeposit},
		"created_at":     bson.M{"$gte": since},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list outgoing transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var transactions []*models.Transaction
	if err := cursor.All(ctx, &transactions); err != nil {
		return nil, fmt.Errorf("failed to decode outgoing transactions: %w", err)
	}
	return transactions, nil
}

func (r *transactionRepository) CountOutgoingSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	filter := bson.M{
		"sender_user_id": userID,
		"status":         models.TransactionCompleted,
		"type":           bson.M{"$ne": models.TransactionDeposit},
		"created_at":     bson.M{"$gte": since},
	}
	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count outgoing transactions: %w", err)
	}
	return count, nil
}

func (r *transactionRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"sender_user_id": userID},
			{"receiver_user_id": userID},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var transactions []*models.Transaction
	if err := cursor.All(ctx, &transactions); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return transactions, nil
}
