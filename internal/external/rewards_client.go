package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"payments-api/internal/config"
	"payments-api/internal/models"
)

// RewardsClient credits loyalty points for completed payments. Calls are
// best effort; the engine logs and ignores failures.
type RewardsClient interface {
	EarnPoints(ctx context.Context, userID int64, txn *models.Transaction) error
}

type rewardsClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewRewardsClient(cfg config.ExternalConfig) RewardsClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &rewardsClient{
		baseURL: cfg.RewardsAPIURL,
		apiKey:  cfg.RewardsAPIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *rewardsClient) EarnPoints(ctx context.Context, userID int64, txn *models.Transaction) error {
	payload := map[string]interface{}{
		"user_id":            userID,
		"transaction_number": txn.TransactionNumber,
		"amount":             txn.Amount.String(),
		"currency":           txn.Currency,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal rewards payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/rewards/earn", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create rewards request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rewards service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rewards service error %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
