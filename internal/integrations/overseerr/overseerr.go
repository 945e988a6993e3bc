// Package overseerr drives an Overseerr instance over its v1 API.
// Overseerr identifies local users by email, so accounts get a synthetic
// address under the operator's domain. Friend logins go through
// /api/v1/auth/local and ride on the connect.sid session cookie, which the
// dispatcher re-scopes to the shared parent domain.
package overseerr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nelsonblaha/homepage/internal/credentials"
	"github.com/nelsonblaha/homepage/internal/integrations"
)

const slug = "overseerr"

// requestPermissions (32|2 = 34) lets a friend browse and request media,
// nothing else.
const requestPermissions = 34

// Client is the Overseerr API client.
type Client struct {
	BaseURL     string
	APIKey      string
	EmailDomain string

	http *http.Client
}

// New creates an Overseerr client. emailDomain is the synthetic-address
// domain, e.g. "example.com" → ana_overseerr@example.com.
func New(baseURL, apiKey, emailDomain string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		EmailDomain: emailDomain,
		http:        &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Slug() string { return slug }

func (c *Client) email(username string) string {
	return fmt.Sprintf("%s@%s", username, c.EmailDomain)
}

type overseerrUser struct {
	ID       int    `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// CreateAccount creates the user with request-only permissions, then sets
// the password best-effort. If the password call fails the account stays
// passwordless and the outcome carries an empty password; the operator
// rotates it from Overseerr itself.
func (c *Client) CreateAccount(ctx context.Context, username string) (integrations.Account, error) {
	password, err := credentials.Password(0)
	if err != nil {
		return integrations.Account{}, integrations.LocalIO("overseerr password", err)
	}

	body, _ := json.Marshal(map[string]any{
		"email":       c.email(username),
		"username":    username,
		"permissions": requestPermissions,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/user", bytes.NewReader(body))
	if err != nil {
		return integrations.Account{}, err
	}
	req.Header.Set("X-Api-Key", c.APIKey)
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
	case resp.StatusCode == http.StatusConflict,
		resp.StatusCode >= 400 && strings.Contains(strings.ToLower(string(raw)), "exist"):
		return c.resolveExisting(ctx, username)
	case resp.StatusCode >= 400:
		return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var created overseerrUser
	if err := json.Unmarshal(raw, &created); err != nil || created.ID == 0 {
		return integrations.Account{}, integrations.Rejected(slug, "create returned no user id")
	}

	if err := c.setPassword(ctx, created.ID, password); err != nil {
		password = ""
	}
	return integrations.Account{
		ExternalID: strconv.Itoa(created.ID),
		Username:   username,
		Password:   password,
	}, nil
}

func (c *Client) setPassword(ctx context.Context, userID int, password string) error {
	body, _ := json.Marshal(map[string]string{"newPassword": password})
	url := fmt.Sprintf("%s/api/v1/user/%d/settings/password", c.BaseURL, userID)
	req, err := http.NewRequestWithContext(ctx, "PUT", url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("set password: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) resolveExisting(ctx context.Context, username string) (integrations.Account, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/user?take=200", nil)
	if err != nil {
		return integrations.Account{}, err
	}
	req.Header.Set("X-Api-Key", c.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return integrations.Account{}, integrations.Unreachable(slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("listing users: status %d", resp.StatusCode))
	}

	var list struct {
		Results []overseerrUser `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return integrations.Account{}, fmt.Errorf("decoding user list: %w", err)
	}
	email := c.email(username)
	for _, u := range list.Results {
		if strings.EqualFold(u.Email, email) || strings.EqualFold(u.Username, username) {
			return integrations.Account{
				ExternalID:     strconv.Itoa(u.ID),
				Username:       username,
				AlreadyExisted: true,
			}, nil
		}
	}
	return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("user %q not found after duplicate error", username))
}

// DeleteAccount removes the Overseerr user. A 404 counts as done.
func (c *Client) DeleteAccount(ctx context.Context, externalID string) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.BaseURL+"/api/v1/user/"+externalID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.APIKey)

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

// Login authenticates against the local-auth endpoint and captures the
// connect.sid session cookie for the dispatcher to re-scope.
func (c *Client) Login(ctx context.Context, username, password string) (integrations.CookieGrant, error) {
	body, _ := json.Marshal(map[string]string{
		"email":    c.email(username),
		"password": password,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/auth/local", bytes.NewReader(body))
	if err != nil {
		return integrations.CookieGrant{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return integrations.CookieGrant{}, integrations.Unreachable(slug, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return integrations.CookieGrant{}, integrations.Unreachable(slug, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return integrations.CookieGrant{}, integrations.Rejected(slug, fmt.Sprintf("login: status %d", resp.StatusCode))
	}

	for _, ck := range resp.Cookies() {
		if ck.Name == "connect.sid" {
			return integrations.CookieGrant{Name: ck.Name, Value: ck.Value, MaxAge: ck.MaxAge}, nil
		}
	}
	return integrations.CookieGrant{}, integrations.Rejected(slug, "no connect.sid cookie in login response")
}

// CheckStatus probes /api/v1/status (unauthenticated).
func (c *Client) CheckStatus(ctx context.Context) integrations.Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/status", nil)
	if err != nil {
		return integrations.Status{Detail: err.Error()}
	}
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
