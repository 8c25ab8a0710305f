package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"payments-api/internal/config"
	"payments-api/internal/engine"
	"payments-api/internal/models"
)

// UsersClient resolves users and KYC status from the users service. It satisfies
// both engine.UserDirectory and the compliance gate's KYC check.
type UsersClient interface {
	GetByID(ctx context.Context, userID int64) (*engine.User, error)
	GetByEmail(ctx context.Context, email string) (*engine.User, error)
	IsVerified(ctx context.Context, userID int64) (bool, error)
}

type usersClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewUsersClient(cfg config.ExternalConfig) UsersClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &usersClient{
		baseURL: cfg.UsersAPIURL,
		apiKey:  cfg.UsersAPIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type userPayload struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Verified bool   `json:"verified"`
	Active   bool   `json:"active"`
}

func (c *usersClient) GetByID(ctx context.Context, userID int64) (*engine.User, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/users/%d", userID))
	if err != nil {
		return nil, err
	}
	return decodeUser(body)
}

func (c *usersClient) GetByEmail(ctx context.Context, email string) (*engine.User, error) {
	body, err := c.get(ctx, "/api/users/search?email="+url.QueryEscape(email))
	if err != nil {
		return nil, err
	}
	return decodeUser(body)
}

func (c *usersClient) IsVerified(ctx context.Context, userID int64) (bool, error) {
	user, err := c.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.Verified, nil
}

func decodeUser(body []byte) (*engine.User, error) {
	var payload userPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	return &engine.User{
		ID:       payload.ID,
		Email:    payload.Email,
		Role:     payload.Role,
		Verified: payload.Verified,
	}, nil
}

func (c *usersClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("users service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: user", models.ErrNotFound)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read users service response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("users service error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
