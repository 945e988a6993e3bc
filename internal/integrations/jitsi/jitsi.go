// Package jitsi covers the no-account case: Jitsi Meet rooms are open to
// anyone with the link, so there is nothing to provision. The adapter only
// answers status probes, plus a best-effort participant count when a
// colibri stats endpoint is configured.
package jitsi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nelsonblaha/homepage/internal/integrations"
)

const slug = "jitsi"

// Client probes a Jitsi Meet deployment.
type Client struct {
	BaseURL  string
	StatsURL string // optional, e.g. http://jvb:8080/colibri/stats

	http *http.Client
}

// New creates a Jitsi client.
func New(baseURL, statsURL string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		StatsURL: strings.TrimRight(statsURL, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Slug() string { return slug }

// CreateAccount always fails: Jitsi has no per-friend accounts.
func (c *Client) CreateAccount(ctx context.Context, username string) (integrations.Account, error) {
	return integrations.Account{}, integrations.Rejected(slug, "rooms are open, no accounts to create")
}

// DeleteAccount always fails for the same reason.
func (c *Client) DeleteAccount(ctx context.Context, externalID string) error {
	return integrations.Rejected(slug, "rooms are open, no accounts to delete")
}

// CheckStatus fetches the deployment's landing page.
func (c *Client) CheckStatus(ctx context.Context) integrations.Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/", nil)
	if err != nil {
		return integrations.Status{Detail: err.Error()}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return integrations.Status{Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return integrations.Status{Detail: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	st := integrations.Status{Connected: true}
	if n, err := c.ParticipantCount(ctx); err == nil && n > 0 {
		st.Detail = fmt.Sprintf("%d participants", n)
	}
	return st
}

type colibriStats struct {
	Participants int `json:"participants"`
	Conferences  int `json:"conferences"`
}

// ParticipantCount reads the videobridge colibri stats. Zero with a nil
// error means an idle bridge; an error means the stats endpoint is not
// reachable or not configured.
func (c *Client) ParticipantCount(ctx context.Context) (int, error) {
	if c.StatsURL == "" {
		return 0, integrations.NotConfigured(slug)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", c.StatsURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, integrations.Unreachable(slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, integrations.Unreachable(slug, fmt.Errorf("stats: status %d", resp.StatusCode))
	}
	var stats colibriStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, fmt.Errorf("decoding colibri stats: %w", err)
	}
	return stats.Participants, nil
}
