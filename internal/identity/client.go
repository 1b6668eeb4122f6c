// Package identity talks to the external identity provider that owns user
// accounts and group memberships.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jtekt/approval-flow/internal/app/domain/user"
)

// Client verifies bearer tokens against the identity service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Config configures the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates an identity client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
	}
}

// ErrInvalidToken is returned when the identity service rejects the token.
var ErrInvalidToken = fmt.Errorf("invalid token")

// Verify resolves a bearer token to the authenticated user.
func (c *Client) Verify(ctx context.Context, token string) (user.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/self", nil)
	if err != nil {
		return user.User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return user.User{}, fmt.Errorf("identity service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return user.User{}, ErrInvalidToken
	default:
		return user.User{}, fmt.Errorf("identity service returned %d", resp.StatusCode)
	}

	var payload struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Email    string   `json:"email"`
		GroupIDs []string `json:"group_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return user.User{}, fmt.Errorf("decode identity response: %w", err)
	}
	if payload.ID == "" {
		return user.User{}, ErrInvalidToken
	}
	return user.User{ID: payload.ID, Name: payload.Name, Email: payload.Email, GroupIDs: payload.GroupIDs}, nil
}
