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

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByNumber(ctx context.Context, accountNumber string) (*models.Account, error)
	GetByUserID(ctx context.Context, userID int64) (*models.Account, error)
	// UpdateBalance writes the new balance only if the stored version still
	// matches expectedVersion. Returns models.ErrConcurrencyConflict otherwise.
	UpdateBalance(ctx context.Context, accountNumber string, balance decimal.Decimal, expectedVersion int64) error
	SetStatus(ctx context.Context, accountNumber string, status models.AccountStatus) error
}

type accountRepository struct {
	collection *mongo.Collection
}

func NewAccountRepository(db *mongo.Database) AccountRepository {
	return &accountRepository{
		collection: db.Collection("accounts"),
	}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()

	result, err := r.collection.InsertOne(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	account.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *accountRepository) GetByNumber(ctx context.Context, accountNumber string) (*models.Account, error) {
	var account models.Account
	err := r.collection.FindOne(ctx, bson.M{"account_number": accountNumber}).Decode(&account)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%w: account %s", models.ErrNotFound, accountNumber)
		}
		return nil, fmt.Errorf("failed to get account by number: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) GetByUserID(ctx context.Context, userID int64) (*models.Account, error) {
	var account models.Account
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&account)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%w: account for user %d", models.ErrNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get account by user ID: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) UpdateBalance(ctx context.Context, accountNumber string, balance decimal.Decimal, expectedVersion int64) error {
	filter := bson.M{"account_number": accountNumber, "version": expectedVersion}
	update := bson.M{
		"$set": bson.M{
			"balance":       balance,
			"updated_at":    time.Now(),
			"last_activity": time.Now(),
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if result.MatchedCount == 0 {
		// Either the account is gone or someone else won the version race.
		count, countErr := r.collection.CountDocuments(ctx, bson.M{"account_number": accountNumber})
		if countErr == nil && count == 0 {
			return fmt.Errorf("%w: account %s", models.ErrNotFound, accountNumber)
		}
		return fmt.Errorf("%w: account %s version %d", models.ErrConcurrencyConflict, accountNumber, expectedVersion)
	}
	return nil
}

func (r *accountRepository) SetStatus(ctx context.Context, accountNumber string, status models.AccountStatus) error {
	filter := bson.M{"account_number": accountNumber}
	update := bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to set account status: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: account %s", models.ErrNotFound, accountNumber)
	}
	return nil
}
