package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-api/internal/models"
)

func testTransaction(number, idempotencyKey string) *models.Transaction {
	return &models.Transaction{
		TransactionNumber: number,
		Type:              models.TransactionTransfer,
		Status:            models.TransactionPending,
		Amount:            decimal.RequireFromString("25.00"),
		Currency:          "USD",
		SenderAccount:     "ACC-1",
		ReceiverAccount:   "ACC-2",
		IdempotencyKey:    idempotencyKey,
	}
}

func TestTransactionCreateRejectsReusedIdempotencyKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Transactions().Create(ctx, testTransaction("TXN-1", "key-1")))

	err := store.Transactions().Create(ctx, testTransaction("TXN-2", "key-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDuplicateIdempotencyKey)

	// The winner stays retrievable by key.
	stored, err := store.Transactions().GetByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "TXN-1", stored.TransactionNumber)

	// Keyless transactions never collide with each other.
	for i := 3; i <= 5; i++ {
		require.NoError(t, store.Transactions().Create(ctx, testTransaction(fmt.Sprintf("TXN-%d", i), "")))
	}
}

func TestTransactionGetByIdempotencyKeyMiss(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Transactions().GetByIdempotencyKey(context.Background(), "never-seen")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
