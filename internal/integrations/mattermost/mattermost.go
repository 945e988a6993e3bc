// Package mattermost drives a Mattermost server over its v4 API using an
// admin personal access token. New users are added to the configured
// default team; friend logins ride on the MMAUTHTOKEN session cookie.
package mattermost

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

const slug = "mattermost"

// Client is the Mattermost API client.
type Client struct {
	BaseURL     string
	Token       string
	TeamID      string
	EmailDomain string

	http *http.Client
}

// New creates a Mattermost client. teamID is the team every provisioned
// friend joins; emailDomain builds the synthetic address.
func New(baseURL, token, teamID, emailDomain string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Token:       token,
		TeamID:      teamID,
		EmailDomain: emailDomain,
		http:        &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Slug() string { return slug }

func (c *Client) authed(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.Token)
}

type mmUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// CreateAccount creates the user and joins it to the default team. A team
// join failure is non-fatal: the account works, the operator invites later.
func (c *Client) CreateAccount(ctx context.Context, username string) (integrations.Account, error) {
	password, err := credentials.Password(0)
	if err != nil {
		return integrations.Account{}, integrations.LocalIO("mattermost password", err)
	}

	body, _ := json.Marshal(map[string]string{
		"email":    fmt.Sprintf("%s@%s", username, c.EmailDomain),
		"username": username,
		"password": password,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v4/users", bytes.NewReader(body))
	if err != nil {
		return integrations.Account{}, err
	}
	c.authed(req)
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
		if strings.Contains(strings.ToLower(string(raw)), "exist") {
			return c.resolveExisting(ctx, username)
		}
		return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var created mmUser
	if err := json.Unmarshal(raw, &created); err != nil || created.ID == "" {
		return integrations.Account{}, integrations.Rejected(slug, "create returned no user id")
	}

	// Best effort.
	_ = c.joinTeam(ctx, created.ID)

	return integrations.Account{ExternalID: created.ID, Username: username, Password: password}, nil
}

func (c *Client) joinTeam(ctx context.Context, userID string) error {
	if c.TeamID == "" {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"team_id": c.TeamID, "user_id": userID})
	url := fmt.Sprintf("%s/api/v4/teams/%s/members", c.BaseURL, c.TeamID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.authed(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("join team: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) resolveExisting(ctx context.Context, username string) (integrations.Account, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v4/users/username/"+username, nil)
	if err != nil {
		return integrations.Account{}, err
	}
	c.authed(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return integrations.Account{}, integrations.Unreachable(slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("lookup by username: status %d", resp.StatusCode))
	}
	var u mmUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil || u.ID == "" {
		return integrations.Account{}, fmt.Errorf("decoding user: %w", err)
	}
	return integrations.Account{ExternalID: u.ID, Username: u.Username, AlreadyExisted: true}, nil
}

// DeleteAccount deactivates the Mattermost user (their delete semantics).
// A 404 counts as done.
func (c *Client) DeleteAccount(ctx context.Context, externalID string) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.BaseURL+"/api/v4/users/"+externalID, nil)
	if err != nil {
		return err
	}
	c.authed(req)

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

// Login authenticates the friend; Mattermost hands the session token back
// in the Token response header, which browsers expect as MMAUTHTOKEN.
func (c *Client) Login(ctx context.Context, username, password string) (integrations.CookieGrant, error) {
	body, _ := json.Marshal(map[string]string{"login_id": username, "password": password})
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v4/users/login", bytes.NewReader(body))
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

	token := resp.Header.Get("Token")
	if token == "" {
		return integrations.CookieGrant{}, integrations.Rejected(slug, "no Token header in login response")
	}
	return integrations.CookieGrant{Name: "MMAUTHTOKEN", Value: token}, nil
}

// CheckStatus probes /api/v4/system/ping (unauthenticated).
func (c *Client) CheckStatus(ctx context.Context) integrations.Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v4/system/ping", nil)
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
