package integrations

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers classify with errors.Is; the concrete cause stays
// wrapped underneath. No call site retries automatically: provisioning is
// idempotent thanks to deterministic usernames, so the operator just runs
// the change again.
var (
	// ErrTargetUnreachable: the service did not answer (network, timeout,
	// 5xx on a health-relevant call).
	ErrTargetUnreachable = errors.New("target unreachable")
	// ErrTargetRejected: the service answered and said no (4xx semantics:
	// duplicate, invalid payload, permission denied).
	ErrTargetRejected = errors.New("target rejected the operation")
	// ErrConfigurationMissing: the integration has no usable configuration;
	// nothing was attempted over the network.
	ErrConfigurationMissing = errors.New("integration not configured")
	// ErrLocalIO: a local side effect failed (htpasswd write, proxy reload).
	ErrLocalIO = errors.New("local io failure")
)

// Unreachable wraps a transport-level failure for a slug.
func Unreachable(slug string, cause error) error {
	return fmt.Errorf("%s: %w: %w", slug, ErrTargetUnreachable, cause)
}

// Rejected wraps an application-level refusal for a slug.
func Rejected(slug string, detail string) error {
	return fmt.Errorf("%s: %w: %s", slug, ErrTargetRejected, detail)
}

// NotConfigured marks an integration that cannot operate at all.
func NotConfigured(slug string) error {
	return fmt.Errorf("%s: %w", slug, ErrConfigurationMissing)
}

// LocalIO wraps a local filesystem/exec failure.
func LocalIO(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrLocalIO, cause)
}
