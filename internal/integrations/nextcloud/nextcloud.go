// Package nextcloud drives a Nextcloud instance through the OCS
// provisioning API (basic-auth admin, form-encoded requests, XML answers).
// Nextcloud has no token hand-off a browser could reuse, so friends log in
// manually with the stored credentials (credential_display strategy).
package nextcloud

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nelsonblaha/homepage/internal/credentials"
	"github.com/nelsonblaha/homepage/internal/integrations"
)

const slug = "nextcloud"

// OCS status codes the provisioning API answers with.
const (
	ocsOK           = 100
	ocsUserNotFound = 101
	ocsUserExists   = 102
)

// Client is the Nextcloud OCS client.
type Client struct {
	BaseURL   string
	AdminUser string
	AdminPass string

	http *http.Client
}

// New creates a Nextcloud client. User creation on Nextcloud is slow
// (skeleton files are copied on first login), hence the generous timeout.
func New(baseURL, adminUser, adminPass string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		AdminUser: adminUser,
		AdminPass: adminPass,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Slug() string { return slug }

type ocsEnvelope struct {
	XMLName xml.Name `xml:"ocs"`
	Meta    struct {
		Status     string `xml:"status"`
		StatusCode int    `xml:"statuscode"`
		Message    string `xml:"message"`
	} `xml:"meta"`
}

func (c *Client) ocsRequest(ctx context.Context, method, path string, form url.Values) (*ocsEnvelope, error) {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.AdminUser, c.AdminPass)
	req.Header.Set("OCS-APIRequest", "true")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, integrations.Unreachable(slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, integrations.Unreachable(slug, fmt.Errorf("status %d", resp.StatusCode))
	}

	var env ocsEnvelope
	if err := xml.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding ocs response: %w", err)
	}
	return &env, nil
}

// CreateAccount creates the user via the provisioning API. OCS speaks in
// its own status codes: 100 = created, 102 = already exists. The userid is
// the external id, Nextcloud has no separate numeric handle.
func (c *Client) CreateAccount(ctx context.Context, username string) (integrations.Account, error) {
	password, err := credentials.Password(0)
	if err != nil {
		return integrations.Account{}, integrations.LocalIO("nextcloud password", err)
	}

	form := url.Values{}
	form.Set("userid", username)
	form.Set("password", password)

	env, err := c.ocsRequest(ctx, "POST", "/ocs/v1.php/cloud/users", form)
	if err != nil {
		return integrations.Account{}, err
	}

	switch env.Meta.StatusCode {
	case ocsOK:
		return integrations.Account{ExternalID: username, Username: username, Password: password}, nil
	case ocsUserExists:
		return integrations.Account{ExternalID: username, Username: username, AlreadyExisted: true}, nil
	default:
		return integrations.Account{}, integrations.Rejected(slug,
			fmt.Sprintf("ocs status %d: %s", env.Meta.StatusCode, env.Meta.Message))
	}
}

// DeleteAccount removes the user; an unknown userid counts as done.
func (c *Client) DeleteAccount(ctx context.Context, externalID string) error {
	env, err := c.ocsRequest(ctx, "DELETE", "/ocs/v1.php/cloud/users/"+url.PathEscape(externalID), nil)
	if err != nil {
		return err
	}
	switch env.Meta.StatusCode {
	case ocsOK, ocsUserNotFound:
		return nil
	default:
		return integrations.Rejected(slug,
			fmt.Sprintf("ocs status %d: %s", env.Meta.StatusCode, env.Meta.Message))
	}
}

// CheckStatus probes /status.php, which answers plain JSON without auth.
func (c *Client) CheckStatus(ctx context.Context) integrations.Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/status.php", nil)
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
