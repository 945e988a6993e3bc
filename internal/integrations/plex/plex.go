// Package plex manages Plex Home users through plex.tv. The friend signs
// in through Plex itself (managed sub-identity, external_pin strategy), so
// there is no login hand-off; homepage only creates and removes the home
// user and probes the local server for status.
package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nelsonblaha/homepage/internal/integrations"
)

const slug = "plex"

const defaultTV = "https://plex.tv"

// Client talks to plex.tv for account management and to the local server
// for status.
type Client struct {
	ServerURL string // local server, e.g. http://plex:32400
	Token     string // operator's X-Plex-Token
	TV        string // plex.tv base, overridable in tests

	http *http.Client
}

// New creates a Plex client.
func New(serverURL, token string) *Client {
	return &Client{
		ServerURL: strings.TrimRight(serverURL, "/"),
		Token:     token,
		TV:        defaultTV,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Slug() string { return slug }

func (c *Client) plexHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Token", c.Token)
	req.Header.Set("X-Plex-Client-Identifier", "homepage")
	req.Header.Set("Accept", "application/json")
}

type homeUser struct {
	ID    int64  `json:"id"`
	UUID  string `json:"uuid"`
	Title string `json:"title"`
}

// CreateAccount adds a managed home user titled after the friend. Plex
// returns no credentials: the friend picks the profile from Plex's own
// user switcher.
func (c *Client) CreateAccount(ctx context.Context, username string) (integrations.Account, error) {
	u := fmt.Sprintf("%s/api/v2/home/users?title=%s", c.TV, url.QueryEscape(username))
	req, err := http.NewRequestWithContext(ctx, "POST", u, nil)
	if err != nil {
		return integrations.Account{}, err
	}
	c.plexHeaders(req)

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

	var created homeUser
	if err := json.Unmarshal(raw, &created); err != nil || created.ID == 0 {
		return integrations.Account{}, integrations.Rejected(slug, "create returned no user id")
	}
	return integrations.Account{
		ExternalID: fmt.Sprintf("%d", created.ID),
		Username:   username,
	}, nil
}

func (c *Client) resolveExisting(ctx context.Context, username string) (integrations.Account, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.TV+"/api/v2/home/users", nil)
	if err != nil {
		return integrations.Account{}, err
	}
	c.plexHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return integrations.Account{}, integrations.Unreachable(slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("listing home users: status %d", resp.StatusCode))
	}

	var users []homeUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return integrations.Account{}, fmt.Errorf("decoding home users: %w", err)
	}
	for _, u := range users {
		if strings.EqualFold(u.Title, username) {
			return integrations.Account{
				ExternalID:     fmt.Sprintf("%d", u.ID),
				Username:       u.Title,
				AlreadyExisted: true,
			}, nil
		}
	}
	return integrations.Account{}, integrations.Rejected(slug, fmt.Sprintf("home user %q not found after duplicate error", username))
}

// DeleteAccount removes the home user. A 404 counts as done.
func (c *Client) DeleteAccount(ctx context.Context, externalID string) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.TV+"/api/v2/home/users/"+externalID, nil)
	if err != nil {
		return err
	}
	c.plexHeaders(req)

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

// CheckStatus probes the local server's /identity endpoint.
func (c *Client) CheckStatus(ctx context.Context) integrations.Status {
	if c.ServerURL == "" {
		return integrations.Status{Detail: "no server url configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.ServerURL+"/identity", nil)
	if err != nil {
		return integrations.Status{Detail: err.Error()}
	}
	c.plexHeaders(req)

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
