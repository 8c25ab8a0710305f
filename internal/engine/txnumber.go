package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"payments-api/internal/repository"
)

const numberAttempts = 5

// NumberGenerator issues globally unique transaction numbers. Candidates are
// checked against the store and regenerated on collision.
type NumberGenerator struct {
	transactions repository.TransactionRepository
}

func NewNumberGenerator(transactions repository.TransactionRepository) *NumberGenerator {
	return &NumberGenerator{transactions: transactions}
}

// Next returns a fresh transaction number with the given prefix.
func (g *NumberGenerator) Next(ctx context.Context, prefix string) (string, error) {
	for attempt := 0; attempt < numberAttempts; attempt++ {
		candidate := fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.New().String()[:12]))
		exists, err := g.transactions.ExistsByNumber(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check transaction number: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique transaction number after %d attempts", numberAttempts)
}
