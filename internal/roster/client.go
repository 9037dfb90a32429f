// Package roster fetches the initial correspondent list from the chat API.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const requestTimeout = 10 * time.Second

// Client calls GET /chat/users with bearer authentication.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     *zap.Logger
}

// New creates a Client for the API at baseURL (no trailing slash).
func New(log *zap.Logger, baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: requestTimeout},
		log:     log,
	}
}

type userEntry struct {
	Email string `json:"email"`
}

type usersResponse struct {
	Users []userEntry `json:"users"`
}

// Users returns the correspondent identities visible to the token's owner.
func (c *Client) Users(ctx context.Context, token string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chat/users", nil)
	if err != nil {
		return nil, fmt.Errorf("build roster request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch roster: %s", resp.Status)
	}

	var body usersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}

	users := lo.FilterMap(body.Users, func(u userEntry, _ int) (string, bool) {
		return u.Email, u.Email != ""
	})
	c.log.Debug("roster fetched", zap.Int("users", len(users)))

	return users, nil
}
