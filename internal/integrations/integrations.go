// Package integrations defines the contract between homepage and the
// self-hosted services it provisions accounts on.
//
// Each managed service gets an adapter in its own subpackage speaking the
// service's native API. Adapters are registered in a Registry at startup;
// the reconciler and the auth dispatcher only see these interfaces.
package integrations

import "context"

// Strategy is how a friend ends up authenticated against a service.
type Strategy string

const (
	// StrategyBasic: credentials live in an htpasswd file consumed by the
	// edge proxy; no adapter involved.
	StrategyBasic Strategy = "basic"
	// StrategyTokenInjection: log in via the service API and inject the
	// token into the browser's localStorage through the bridge page.
	StrategyTokenInjection Strategy = "token_injection"
	// StrategyCookieProxy: log in via the service API and set the session
	// cookie on the shared parent domain.
	StrategyCookieProxy Strategy = "cookie_proxy"
	// StrategyCredentialDisplay: an account exists but the friend types the
	// credentials manually.
	StrategyCredentialDisplay Strategy = "credential_display"
	// StrategyExternalPin: a managed sub-identity under the operator's
	// account; the service handles sign-in itself.
	StrategyExternalPin Strategy = "external_pin"
	// StrategyNone: plain link, no account management.
	StrategyNone Strategy = "none"
)

// Account is the result of creating (or resolving) an account on a service.
type Account struct {
	ExternalID string
	Username   string
	Password   string
	// AlreadyExisted is set when the deterministic username matched an
	// account that was already there; treated as success with a warning.
	AlreadyExisted bool
}

// Status is a reachability probe result. CheckStatus never errors:
// an unreachable target is Connected=false with a detail.
type Status struct {
	Connected bool
	Detail    string
}

// Adapter is the capability every integration implements.
type Adapter interface {
	Slug() string
	CreateAccount(ctx context.Context, username string) (Account, error)
	DeleteAccount(ctx context.Context, externalID string) error
	CheckStatus(ctx context.Context) Status
}

// TokenGrant carries what the bridge page writes into localStorage before
// forwarding the friend into the app.
type TokenGrant struct {
	LocalStorage map[string]string
}

// TokenAuthenticator is implemented by token_injection adapters.
type TokenAuthenticator interface {
	Login(ctx context.Context, username, password string) (TokenGrant, error)
}

// CookieGrant is a session cookie to be set on the shared parent domain.
type CookieGrant struct {
	Name   string
	Value  string
	MaxAge int // seconds; 0 = session cookie
}

// CookieAuthenticator is implemented by cookie_proxy adapters.
type CookieAuthenticator interface {
	Login(ctx context.Context, username, password string) (CookieGrant, error)
}

// Capabilities is static metadata the presentation layer uses to decide
// what to render for a service.
type Capabilities struct {
	Strategy      Strategy `json:"strategy"`
	AutoLogin     bool     `json:"auto_login"`     // dispatcher can log the friend in
	ManualDisplay bool     `json:"manual_display"` // stored credentials shown to the friend
	ManagesUsers  bool     `json:"manages_users"`  // accounts are created/deleted on the target
}

// CapabilitiesFor derives the metadata from a strategy.
func CapabilitiesFor(s Strategy) Capabilities {
	c := Capabilities{Strategy: s}
	switch s {
	case StrategyTokenInjection, StrategyCookieProxy:
		c.AutoLogin = true
		c.ManualDisplay = true
		c.ManagesUsers = true
	case StrategyCredentialDisplay:
		c.ManualDisplay = true
		c.ManagesUsers = true
	case StrategyExternalPin:
		c.ManagesUsers = true
	case StrategyBasic:
		c.ManualDisplay = true
	}
	return c
}
