// Package jellyfin drives a Jellyfin server over its REST API.
// User management needs the admin X-Emby-Token; friend logins use
// AuthenticateByName and the bridge stores the resulting access token the
// same way Jellyfin's web client does (localStorage "jellyfin_credentials").
package jellyfin

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

const slug = "jellyfin"

// authHeader identifies this client to Jellyfin; required by
// AuthenticateByName even for valid credentials.
const authHeader = `MediaBrowser Client="homepage", Device="homepage", DeviceId="homepage-dispatch", Version="1.0"`

// Client is the Jellyfin API client.
type Client struct {
	BaseURL string
	APIKey  string

	http *http.Client
}

// New creates a Jellyfin client against a base URL like http://jellyfin:8096.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Slug() string { return slug }

type jellyfinUser struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

// CreateAccount creates the user, then sets its password in a second call
// (Jellyfin's /Users/New ignores password fields on some versions). A
// password-set failure leaves a passwordless account; the friend-facing
// credential panel will show it and the operator can rotate.
func (c *Client) CreateAccount(ctx context.Context, username string) (integrations.Account, error) {
	password, err := credentials.Password(0)
	if err != nil {
		return integrations.Account{}, integrations.LocalIO("jellyfin password", err)
	}

	body, _ := json.Marshal(map[string]string{"Name": username})
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/Users/New", bytes.NewReader(body))
	if err != nil {
		return integrations.Account{}, err
	}
	req.Header.Set("X-Emby-Token", c.APIKey)
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
		if strings.Contains(strings.ToLower(string(raw)), "already") {
			return c.resolveExisting(ctx, username)
		}
		return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var created jellyfinUser
	if err := json.Unmarshal(raw, &created); err != nil || created.ID == "" {
		return integrations.Account{}, integrations.Rejected(slug, "create returned no user id")
	}

	// Best effort: a failure here is not fatal, the account exists.
	_ = c.setPassword(ctx, created.ID, password)

	return integrations.Account{ExternalID: created.ID, Username: username, Password: password}, nil
}

func (c *Client) setPassword(ctx context.Context, userID, password string) error {
	body, _ := json.Marshal(map[string]string{"CurrentPw": "", "NewPw": password})
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/Users/"+userID+"/Password", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Emby-Token", c.APIKey)
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
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/Users", nil)
	if err != nil {
		return integrations.Account{}, err
	}
	req.Header.Set("X-Emby-Token", c.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return integrations.Account{}, integrations.Unreachable(slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("listing users: status %d", resp.StatusCode))
	}

	var users []jellyfinUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return integrations.Account{}, fmt.Errorf("decoding user list: %w", err)
	}
	for _, u := range users {
		if strings.EqualFold(u.Name, username) {
			return integrations.Account{ExternalID: u.ID, Username: u.Name, AlreadyExisted: true}, nil
		}
	}
	return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("user %q not found after duplicate error", username))
}

// DeleteAccount removes the Jellyfin user. A 404 counts as done.
func (c *Client) DeleteAccount(ctx context.Context, externalID string) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.BaseURL+"/Users/"+externalID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Emby-Token", c.APIKey)

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

type authResponse struct {
	AccessToken string       `json:"AccessToken"`
	ServerID    string       `json:"ServerId"`
	User        jellyfinUser `json:"User"`
}

// storedCredentials mirrors the shape Jellyfin's web client keeps in
// localStorage under "jellyfin_credentials".
type storedCredentials struct {
	Servers []storedServer `json:"Servers"`
}

type storedServer struct {
	AccessToken string `json:"AccessToken"`
	ServerID    string `json:"Id"`
	UserID      string `json:"UserId"`
}

// Login authenticates the friend and builds the localStorage payload the
// bridge page writes before opening the web client.
func (c *Client) Login(ctx context.Context, username, password string) (integrations.TokenGrant, error) {
	body, _ := json.Marshal(map[string]string{"Username": username, "Pw": password})
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/Users/AuthenticateByName", bytes.NewReader(body))
	if err != nil {
		return integrations.TokenGrant{}, err
	}
	req.Header.Set("X-Emby-Authorization", authHeader)
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

	var ar authResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return integrations.TokenGrant{}, fmt.Errorf("decoding auth response: %w", err)
	}
	if ar.AccessToken == "" {
		return integrations.TokenGrant{}, integrations.Rejected(slug, "no AccessToken in response")
	}

	creds, _ := json.Marshal(storedCredentials{Servers: []storedServer{{
		AccessToken: ar.AccessToken,
		ServerID:    ar.ServerID,
		UserID:      ar.User.ID,
	}}})
	return integrations.TokenGrant{
		LocalStorage: map[string]string{"jellyfin_credentials": string(creds)},
	}, nil
}

// CheckStatus probes the public system info endpoint (no auth needed).
func (c *Client) CheckStatus(ctx context.Context) integrations.Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/System/Info/Public", nil)
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
