// Package ombi drives a local Ombi instance over its v1 API.
// Accounts are created with the admin ApiKey; friend logins go through
// /api/v1/Token and the resulting JWT lands in localStorage ("id_token"),
// which is exactly where Ombi's own front-end looks for it.
package ombi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nelsonblaha/homepage/internal/credentials"
	"github.com/nelsonblaha/homepage/internal/integrations"
)

const slug = "ombi"

// Client is the Ombi API client.
type Client struct {
	BaseURL string
	APIKey  string

	http *http.Client
}

// New creates an Ombi client against a base URL like http://ombi:3579.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Slug() string { return slug }

type createUserRequest struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

type ombiUser struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
}

// CreateAccount creates an Ombi local user. Ombi's create endpoint may omit
// the new id in its response, so we refetch the user list and match by the
// deterministic username.
func (c *Client) CreateAccount(ctx context.Context, username string) (integrations.Account, error) {
	password, err := credentials.Password(0)
	if err != nil {
		return integrations.Account{}, integrations.LocalIO("ombi password", err)
	}

	body, _ := json.Marshal(createUserRequest{UserName: username, Password: password})
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/Identity", bytes.NewReader(body))
	if err != nil {
		return integrations.Account{}, err
	}
	req.Header.Set("ApiKey", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return integrations.Account{}, integrations.Unreachable(slug, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode >= 500:
		return integrations.Account{}, integrations.Unreachable(slug, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		// A duplicate username resolves to the existing account.
		if strings.Contains(strings.ToLower(string(raw)), "already") {
			return c.resolveExisting(ctx, username)
		}
		return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var created ombiUser
	_ = json.Unmarshal(raw, &created)
	if created.ID == "" {
		acc, err := c.resolveExisting(ctx, username)
		if err != nil {
			return integrations.Account{}, err
		}
		acc.AlreadyExisted = false
		acc.Password = password
		return acc, nil
	}
	return integrations.Account{ExternalID: created.ID, Username: username, Password: password}, nil
}

// resolveExisting finds an account by username in the full user list.
func (c *Client) resolveExisting(ctx context.Context, username string) (integrations.Account, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/Identity/Users", nil)
	if err != nil {
		return integrations.Account{}, err
	}
	req.Header.Set("ApiKey", c.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return integrations.Account{}, integrations.Unreachable(slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("listing users: status %d", resp.StatusCode))
	}

	var users []ombiUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return integrations.Account{}, fmt.Errorf("decoding user list: %w", err)
	}
	for _, u := range users {
		if strings.EqualFold(u.UserName, username) {
			return integrations.Account{ExternalID: u.ID, Username: u.UserName, AlreadyExisted: true}, nil
		}
	}
	return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("user %q not found after create", username))
}

// DeleteAccount removes the Ombi user. A 404 counts as done.
func (c *Client) DeleteAccount(ctx context.Context, externalID string) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.BaseURL+"/api/v1/Identity/"+externalID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("ApiKey", c.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return integrations.Unreachable(slug, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode >= 500:
		return integrations.Unreachable(slug, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return integrations.Rejected(slug, fmt.Sprintf("delete: status %d", resp.StatusCode))
	}
	return nil
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Login authenticates the friend and returns the localStorage payload the
// bridge page writes before entering Ombi.
func (c *Client) Login(ctx context.Context, username, password string) (integrations.TokenGrant, error) {
	body, _ := json.Marshal(tokenRequest{Username: username, Password: password})
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/Token", bytes.NewReader(body))
	if err != nil {
		return integrations.TokenGrant{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return integrations.TokenGrant{}, integrations.Unreachable(slug, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return integrations.TokenGrant{}, integrations.Unreachable(slug, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return integrations.TokenGrant{}, integrations.Rejected(slug, fmt.Sprintf("login: status %d", resp.StatusCode))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return integrations.TokenGrant{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return integrations.TokenGrant{}, integrations.Rejected(slug, "no access_token in response")
	}
	return integrations.TokenGrant{
		LocalStorage: map[string]string{"id_token": tr.AccessToken},
	}, nil
}

// CheckStatus probes /api/v1/Status. Never errors; an unreachable Ombi is
// just Connected=false.
func (c *Client) CheckStatus(ctx context.Context) integrations.Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/Status", nil)
	if err != nil {
		return integrations.Status{Detail: err.Error()}
	}
	req.Header.Set("ApiKey", c.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return integrations.Status{Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return integrations.Status{Detail: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return integrations.Status{Connected: true}
}
